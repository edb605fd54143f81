package planning

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/outwareai/boss-workflow/store"
)

const (
	// DefaultSweepInterval is the default interval between retention runs.
	DefaultSweepInterval = 24 * time.Hour
)

// RetentionConfig holds configuration for the retention job.
type RetentionConfig struct {
	// Retention is how long saved and terminal sessions are kept (default: 168h).
	Retention time.Duration
	// SweepInterval is the interval between runs (default: 24h).
	SweepInterval time.Duration
}

// RetentionJob periodically removes saved and terminal planning sessions
// that fell out of the retention window without being resumed.
type RetentionJob struct {
	records RecordStore
	config  RetentionConfig

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewRetentionJob creates a new retention job.
func NewRetentionJob(records RecordStore, config RetentionConfig) *RetentionJob {
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	return &RetentionJob{
		records: records,
		config:  config,
	}
}

// Start begins the periodic retention job.
// This method is non-blocking and starts the sweep in a goroutine.
func (j *RetentionJob) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil // Already running
	}

	j.running = true
	j.stopChan = make(chan struct{})

	go j.run(ctx)

	slog.Info("planning retention job started",
		"retention", j.config.Retention,
		"interval", j.config.SweepInterval)

	return nil
}

// Stop stops the retention job.
func (j *RetentionJob) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}

	close(j.stopChan)
	j.running = false

	slog.Info("planning retention job stopped")
}

// RunOnce executes a single retention sweep immediately.
// Useful for testing or manual cleanup.
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	return j.sweep(ctx)
}

// IsRunning returns whether the retention job is currently running.
func (j *RetentionJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// run is the main loop for the retention job.
func (j *RetentionJob) run(ctx context.Context) {
	ticker := time.NewTicker(j.config.SweepInterval)
	defer ticker.Stop()

	// Run immediately on start
	if deleted, err := j.sweep(ctx); err != nil {
		slog.Error("initial planning retention sweep failed", "error", err)
	} else if deleted > 0 {
		slog.Info("initial planning retention sweep completed", "deleted", deleted)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopChan:
			return
		case <-ticker.C:
			if deleted, err := j.sweep(ctx); err != nil {
				slog.Error("planning retention sweep failed", "error", err)
			} else if deleted > 0 {
				slog.Info("planning retention sweep completed", "deleted", deleted)
			}
		}
	}
}

// sweep deletes saved and terminal sessions past the retention window.
// Active sessions are never touched; staleness handling saves them first.
func (j *RetentionJob) sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-j.config.Retention).Unix()
	return j.records.DeletePlanningSessions(ctx, &store.DeletePlanningSession{
		UpdatedBefore: &cutoff,
		States: []string{
			string(StateSaved),
			string(StateCompleted),
			string(StateCancelled),
		},
	})
}
