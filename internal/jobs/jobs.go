// Package jobs runs periodic housekeeping.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const purgeTimeout = time.Minute

// Purger removes dead one-time-code challenges.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// Start schedules the challenge purge on spec and starts the scheduler. The
// caller stops it on shutdown.
func Start(log zerolog.Logger, spec string, purger Purger) (*cron.Cron, error) {
	log = log.With().Str("component", "jobs").Logger()
	c := cron.New()

	if _, err := c.AddFunc(spec, PurgeJob(log, purger)); err != nil {
		return nil, fmt.Errorf("failed to add purge job: %w", err)
	}

	c.Start()
	log.Info().Str("schedule", spec).Msg("housekeeping scheduler started")
	return c, nil
}

// PurgeJob returns the function the scheduler runs.
func PurgeJob(log zerolog.Logger, purger Purger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()

		n, err := purger.Purge(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to purge expired challenges")
			return
		}
		if n > 0 {
			log.Info().Int64("purged", n).Msg("purged expired challenges")
		}
	}
}
