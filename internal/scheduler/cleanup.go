package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// startCleanup registers the job that removes schedule items whose validity range
// ended more than the retention period ago.
func (s *Service) startCleanup(ctx context.Context) func() {
	if s.opts.CleanupSpec == "" {
		return func() {}
	}
	c := cron.New(cron.WithLocation(s.opts.Location))
	if _, err := c.AddFunc(s.opts.CleanupSpec, func() { s.Cleanup(ctx) }); err != nil {
		log.Error().Err(err).Str("spec", s.opts.CleanupSpec).Msg("invalid cleanup schedule, cleanup disabled")
		return func() {}
	}
	c.Start()
	return func() { <-c.Stop().Done() }
}

// Cleanup deletes expired schedule items once.
func (s *Service) Cleanup(ctx context.Context) {
	before := s.opts.Clock.Now().Add(-s.opts.Retention)
	n, err := s.store.DeleteExpiredScheduleItems(ctx, before)
	if err != nil {
		log.Error().Err(err).Msg("cleanup of expired schedule items failed")
		return
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Time("before", before).Msg("removed expired schedule items")
	}
}
