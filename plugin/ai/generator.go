// Package ai implements the planning breakdown generator on top of an
// OpenAI-compatible chat completion API.
package ai

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/outwareai/boss-workflow/plugin/planning"
)

// Config holds the AI collaborator configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries int
	Timeout    time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://api.openai.com/v1",
		APIKey:     "",
		Model:      "gpt-4o-mini",
		MaxRetries: 3,
		Timeout:    30 * time.Second,
	}
}

// Generator turns free-text project descriptions into structured task
// breakdowns via chat completions in JSON mode.
type Generator struct {
	client *openai.Client
	config *Config
}

// NewGenerator creates a new breakdown generator.
func NewGenerator(cfg *Config) (*Generator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.APIKey == "" {
		return nil, errors.New("AI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Generator{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

const generateSystemPrompt = `You are a project planning assistant.
Given a project description, break it into concrete, actionable tasks.
Respond with a JSON object of this exact shape:
{
  "project_name": "short project name",
  "complexity": "simple" | "moderate" | "complex",
  "tasks": [
    {"title": "task title", "description": "what to do", "assignee": "", "due_hint": ""}
  ]
}
Every task must have a non-empty title. Do not include any other keys.`

const refineSystemPrompt = `You are a project planning assistant.
You previously produced a task breakdown for a project. The user wants
changes. Apply their instruction to the breakdown and respond with the
full updated breakdown as a JSON object of the same shape:
{
  "project_name": "...",
  "complexity": "simple" | "moderate" | "complex",
  "tasks": [{"title": "...", "description": "...", "assignee": "", "due_hint": ""}]
}
Keep tasks the instruction does not touch unchanged.`

// GenerateBreakdown produces a breakdown from the accumulated input.
func (g *Generator) GenerateBreakdown(ctx context.Context, rawInput string) (*planning.Breakdown, error) {
	return g.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: generateSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: rawInput},
	})
}

// RefineBreakdown applies a refinement instruction to an existing breakdown.
func (g *Generator) RefineBreakdown(ctx context.Context, current *planning.Breakdown, instruction string) (*planning.Breakdown, error) {
	currentJSON, err := json.Marshal(current)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal current breakdown")
	}

	return g.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: refineSystemPrompt},
		{Role: openai.ChatMessageRoleAssistant, Content: string(currentJSON)},
		{Role: openai.ChatMessageRoleUser, Content: instruction},
	})
}

func (g *Generator) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (*planning.Breakdown, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	var content string
	err := g.doWithRetry(ctx, func() error {
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    g.config.Model,
			Messages: messages,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty chat response")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "chat completion failed")
	}

	return ParseBreakdown(content)
}

// ParseBreakdown decodes and validates a model response. Malformed output is
// rejected rather than passed on as a partial breakdown.
func ParseBreakdown(content string) (*planning.Breakdown, error) {
	var breakdown planning.Breakdown
	if err := json.Unmarshal([]byte(content), &breakdown); err != nil {
		return nil, errors.Wrap(err, "model returned malformed JSON")
	}
	switch breakdown.Complexity {
	case planning.ComplexitySimple, planning.ComplexityModerate, planning.ComplexityComplex:
	case "":
		breakdown.Complexity = planning.ComplexityModerate
	default:
		return nil, errors.Errorf("model returned unknown complexity %q", breakdown.Complexity)
	}
	if err := breakdown.Validate(); err != nil {
		return nil, err
	}
	return &breakdown, nil
}

// doWithRetry executes a function with exponential backoff retry.
func (g *Generator) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < g.config.MaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			if attempt < g.config.MaxRetries-1 {
				waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				slog.Debug("AI request failed, retrying",
					"attempt", attempt+1,
					"wait_time", waitTime,
					"error", err)
				select {
				case <-time.After(waitTime):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}

var _ planning.Generator = (*Generator)(nil)
