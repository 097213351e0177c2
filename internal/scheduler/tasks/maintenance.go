package tasks

import (
	"context"
)

// Snapshot records a point-in-time row of entity population counts and
// publishes it to the metrics gauges.
func (t *Tasks) Snapshot(ctx context.Context) (int, error) {
	snap, err := t.library.TakeSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	t.metrics.ObserveSnapshot(snap)
	t.logger.Info().Int64("series", snap.Series).Int64("episodes", snap.Episodes).
		Int64("cards", snap.Cards).Int64("cardBytes", snap.CardBytes).
		Msg("Snapshot recorded")
	return 0, nil
}

// Backup copies the settings files and database into a timestamped backup
// directory and prunes expired ones.
func (t *Tasks) Backup(ctx context.Context) (int, error) {
	_, err := t.backup.Run(ctx)
	return 0, err
}
