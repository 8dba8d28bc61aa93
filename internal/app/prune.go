package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"flowwatch/internal/storage"
)

const pruneInterval = time.Hour

// pruneAlerts deletes persisted alerts older than retention, once at startup
// and then on every tick, until ctx is cancelled.
func pruneAlerts(ctx context.Context, alerts storage.AlertStore, retention, every time.Duration, logger zerolog.Logger) {
	log := logger.With().Str("component", "alert_pruner").Logger()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		cutoff := time.Now().UTC().Add(-retention)
		if err := alerts.DeleteAlertsBefore(ctx, cutoff); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Time("cutoff", cutoff).Msg("failed to prune old alerts")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
