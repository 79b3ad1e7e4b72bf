package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor periodically purges expired idempotency records so replay
// protection does not grow without bound.
type Processor struct {
	db            *Database
	cleanupPeriod time.Duration
}

func NewProcessor(db *Database) *Processor {
	return &Processor{
		db:            db,
		cleanupPeriod: time.Hour,
	}
}

// Start begins the cleanup loop and blocks until the context is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "idempotency_processor").Logger()
	logger.Info().Msg("starting idempotency cleanup processor")

	ticker := time.NewTicker(p.cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down idempotency cleanup processor")
			return
		case <-ticker.C:
			removed, err := p.db.DeleteExpiredIdempotencyRecords(time.Now())
			if err != nil {
				logger.Error().Err(err).Msg("failed to purge expired idempotency records")
				continue
			}
			if removed > 0 {
				logger.Info().Int64("removed", removed).Msg("purged expired idempotency records")
			}
		}
	}
}
