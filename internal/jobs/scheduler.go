// Package jobs runs periodic housekeeping on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const jobTimeout = time.Minute

// OrphanSweeper deletes categories that no task references.
type OrphanSweeper interface {
	DeleteOrphans(ctx context.Context) (int64, error)
}

// Scheduler wraps cron-based jobs.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:  log,
	}
}

// ScheduleCategorySweep registers the orphan category sweep on a 5-field cron spec.
// An empty spec registers nothing.
func (s *Scheduler) ScheduleCategorySweep(spec string, sweeper OrphanSweeper) error {
	if spec == "" {
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.SweepCategories(context.Background(), sweeper) }); err != nil {
		return fmt.Errorf("category sweep schedule %q: %w", spec, err)
	}
	return nil
}

// SweepCategories runs one sweep and returns how many categories were removed.
func (s *Scheduler) SweepCategories(ctx context.Context, sweeper OrphanSweeper) int64 {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()
	n, err := sweeper.DeleteOrphans(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "category sweep", slog.String("error", err.Error()))
		return 0
	}
	s.log.InfoContext(ctx, "category sweep", slog.Int64("deleted", n))
	return n
}

// Entries reports the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
