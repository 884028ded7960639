// Package scheduler runs the periodic model reload job of the API server.
//
// The job only loads artifacts that were already trained and saved; it never
// retrains.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Reloader loads the latest model artifact. Implemented by *pipeline.Pipeline.
type Reloader interface {
	ReloadModel(ctx context.Context) (bool, error)
}

// ModelReloader calls Reloader.ReloadModel on a fixed interval.
type ModelReloader struct {
	scheduler *gocron.Scheduler
	reloader  Reloader
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

// NewModelReloader creates a stopped reloader. Each run is bounded by timeout.
func NewModelReloader(r Reloader, interval, timeout time.Duration, logger *slog.Logger) *ModelReloader {
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &ModelReloader{
		scheduler: s,
		reloader:  r,
		interval:  interval,
		timeout:   timeout,
		logger:    logger.With("job", "model_reload"),
	}
}

// Start schedules the job and starts the scheduler. The first run happens
// one interval from now; callers load the initial model themselves.
func (m *ModelReloader) Start() error {
	if m.interval <= 0 {
		m.logger.Info("model reload disabled")
		return nil
	}
	_, err := m.scheduler.Every(m.interval).WaitForSchedule().Do(m.RunOnce)
	if err != nil {
		return fmt.Errorf("scheduler: schedule model reload: %w", err)
	}
	m.scheduler.StartAsync()
	m.logger.Info("model reload scheduled", "interval", m.interval.String())
	return nil
}

// RunOnce performs a single reload and logs the outcome. Failures keep the
// current model in service.
func (m *ModelReloader) RunOnce() {
	ctx := context.Background()
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	changed, err := m.reloader.ReloadModel(ctx)
	switch {
	case err != nil:
		m.logger.Warn("model reload failed; keeping current model", "error", err)
	case changed:
		m.logger.Info("model reloaded")
	default:
		m.logger.Debug("model unchanged")
	}
}

// Stop halts future runs.
func (m *ModelReloader) Stop() {
	m.scheduler.Stop()
}
