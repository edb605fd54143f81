// Package profile holds the runtime configuration for the workflow service.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the workflow service.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for the admin server
	Addr string
	// Port is the binding port for the admin server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where the service stores planning session records
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of the service
	Version string

	// RedisAddr is the address of the durable session backend. Empty means
	// the session store runs on its in-memory fallback.
	RedisAddr string // BOSSWORK_REDIS_ADDR
	// RedisPassword is the password for the durable session backend.
	RedisPassword string // BOSSWORK_REDIS_PASSWORD
	// RedisDB is the redis database number.
	RedisDB int // BOSSWORK_REDIS_DB
	// RedisKeyPrefix namespaces all session keys in redis.
	RedisKeyPrefix string // BOSSWORK_REDIS_PREFIX (default: bosswork:)

	// BackendTimeout bounds individual durable-backend requests.
	BackendTimeout time.Duration // BOSSWORK_BACKEND_TIMEOUT (default: 30s)
	// PlanningTimeout is the inactivity window before a planning session is
	// auto-saved.
	PlanningTimeout time.Duration // BOSSWORK_PLANNING_TIMEOUT (default: 30m)
	// PlanningStaleAfter is the staleness threshold for active sessions.
	PlanningStaleAfter time.Duration // BOSSWORK_PLANNING_STALE_AFTER (default: 24h)
	// PlanningRetention is how long saved/terminal sessions are kept before
	// garbage collection.
	PlanningRetention time.Duration // BOSSWORK_PLANNING_RETENTION (default: 168h)

	// OpenAIAPIKey enables the AI breakdown collaborator when set.
	OpenAIAPIKey string // BOSSWORK_OPENAI_API_KEY
	// OpenAIBaseURL overrides the OpenAI-compatible endpoint.
	OpenAIBaseURL string // BOSSWORK_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	// OpenAIModel is the chat model used for breakdown generation.
	OpenAIModel string // BOSSWORK_OPENAI_MODEL (default: gpt-4o-mini)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsRedisEnabled reports whether a durable session backend is configured.
func (p *Profile) IsRedisEnabled() bool {
	return p.RedisAddr != ""
}

// IsAIEnabled reports whether the breakdown collaborator is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.OpenAIAPIKey != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// FromEnv loads configuration from BOSSWORK_* environment variables.
// Values already set on the profile act as defaults.
func (p *Profile) FromEnv() {
	p.RedisAddr = getEnvOrDefault("BOSSWORK_REDIS_ADDR", p.RedisAddr)
	p.RedisPassword = getEnvOrDefault("BOSSWORK_REDIS_PASSWORD", p.RedisPassword)
	p.RedisDB = getIntEnvOrDefault("BOSSWORK_REDIS_DB", p.RedisDB)
	p.RedisKeyPrefix = getEnvOrDefault("BOSSWORK_REDIS_PREFIX", "bosswork:")

	p.BackendTimeout = getDurationEnvOrDefault("BOSSWORK_BACKEND_TIMEOUT", 30*time.Second)
	p.PlanningTimeout = getDurationEnvOrDefault("BOSSWORK_PLANNING_TIMEOUT", 30*time.Minute)
	p.PlanningStaleAfter = getDurationEnvOrDefault("BOSSWORK_PLANNING_STALE_AFTER", 24*time.Hour)
	p.PlanningRetention = getDurationEnvOrDefault("BOSSWORK_PLANNING_RETENTION", 7*24*time.Hour)

	p.OpenAIAPIKey = getEnvOrDefault("BOSSWORK_OPENAI_API_KEY", p.OpenAIAPIKey)
	p.OpenAIBaseURL = getEnvOrDefault("BOSSWORK_OPENAI_BASE_URL", "https://api.openai.com/v1")
	p.OpenAIModel = getEnvOrDefault("BOSSWORK_OPENAI_MODEL", "gpt-4o-mini")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and fills in derived defaults.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return errors.Wrap(err, "failed to check data directory")
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("bosswork_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a DSN")
	}

	if p.BackendTimeout <= 0 {
		p.BackendTimeout = 30 * time.Second
	}
	if p.PlanningTimeout <= 0 {
		p.PlanningTimeout = 30 * time.Minute
	}
	if p.PlanningStaleAfter <= 0 {
		p.PlanningStaleAfter = 24 * time.Hour
	}
	if p.PlanningRetention <= 0 {
		p.PlanningRetention = 7 * 24 * time.Hour
	}

	return nil
}
