package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes stored reports and alerts older than a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (reports, alerts int64, err error)
}

// Scheduler runs the retention sweep on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	pruner    Pruner
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New registers the sweep under cronExpr. Retention must be positive.
func New(p Pruner, cronExpr string, retention time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:      cron.New(),
		pruner:    p,
		retention: retention,
		now:       time.Now,
		logger:    logger,
	}
	if _, err := s.cron.AddFunc(cronExpr, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid retention cron %q: %w", cronExpr, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts the schedule and returns a context that is done once a running
// sweep has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Sweep deletes everything older than the retention window.
func (s *Scheduler) Sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.retention)
	reports, alerts, err := s.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	s.logger.Info("retention sweep", "cutoff", cutoff.Format(time.RFC3339), "reports", reports, "alerts", alerts)
}
