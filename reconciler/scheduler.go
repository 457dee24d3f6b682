package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler drives DrainQueue on a background schedule so queued engrams
// converge with the hub without foreground involvement.
type Scheduler struct {
	reconciler *Reconciler
	schedule   ScheduleParser
	logger     zerolog.Logger
}

// NewScheduler creates a scheduler from a cron-or-duration schedule string.
func NewScheduler(r *Reconciler, schedule string, logger zerolog.Logger) (*Scheduler, error) {
	parsed, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		reconciler: r,
		schedule:   parsed,
		logger:     logger.With().Str("component", "sync_scheduler").Logger(),
	}, nil
}

// Start runs the drain loop until ctx is cancelled. An initial drain runs
// immediately so a restart with a backlog converges without waiting a full
// interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("Starting sync scheduler")

	s.drain(ctx)

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("Sync scheduler stopped: context cancelled")
			return
		case <-timer.C:
			s.drain(ctx)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	result, err := s.reconciler.DrainQueue(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled drain failed")
		return
	}
	if result.Synced > 0 || result.Failed > 0 {
		s.logger.Info().
			Int("synced", result.Synced).
			Int("failed", result.Failed).
			Msg("Scheduled drain completed")
	}
}
