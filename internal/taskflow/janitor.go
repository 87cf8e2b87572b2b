package taskflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor evicts idle sessions on a cron schedule. The Redis store expires
// sessions on its own; the janitor is what keeps the in-memory store from
// leaking sessions abandoned mid-map.
type Janitor struct {
	sessions SessionStore
	schedule cron.Schedule
	ttl      time.Duration
	logger   *slog.Logger
}

// NewJanitor validates expr as a standard 5-field cron expression and
// builds a Janitor evicting sessions idle longer than ttl.
func NewJanitor(sessions SessionStore, expr string, ttl time.Duration, logger *slog.Logger) (*Janitor, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", expr, err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Janitor{
		sessions: sessions,
		schedule: schedule,
		ttl:      ttl,
		logger:   logger.With("component", "janitor"),
	}, nil
}

// Run fires sweeps on the schedule until ctx is canceled. Suitable for an
// errgroup.
func (j *Janitor) Run(ctx context.Context) error {
	for {
		timer := time.NewTimer(time.Until(j.schedule.Next(time.Now())))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep evicts idle sessions once.
func (j *Janitor) Sweep(ctx context.Context) {
	removed, err := j.sessions.DeleteIdle(ctx, j.ttl)
	if err != nil {
		j.logger.Warn("session sweep failed", "error", err)
		return
	}
	if removed > 0 {
		j.logger.Info("evicted idle sessions", "count", removed, "idle_ttl", j.ttl)
	}
}
