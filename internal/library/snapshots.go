package library

import (
	"context"
	"fmt"
	"time"
)

// TakeSnapshot counts the entity population and records one snapshot row.
func (s *Service) TakeSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{RecordedAt: time.Now().UTC()}

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM series`, &snap.Series},
		{`SELECT COUNT(*) FROM episodes WHERE deleted_at IS NULL`, &snap.Episodes},
		{`SELECT COUNT(*) FROM cards WHERE active = 1`, &snap.Cards},
		{`SELECT COUNT(*) FROM fonts`, &snap.Fonts},
		{`SELECT COUNT(*) FROM templates`, &snap.Templates},
		{`SELECT COUNT(*) FROM loaded WHERE asset_type = 'card'`, &snap.Loaded},
		{`SELECT COUNT(*) FROM users`, &snap.Users},
		{`SELECT COUNT(*) FROM syncs`, &snap.Syncs},
		{`SELECT COUNT(*) FROM blueprints`, &snap.Blueprints},
		{`SELECT COALESCE(SUM(file_size), 0) FROM cards WHERE active = 1`, &snap.CardBytes},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count for snapshot: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (series_count, episode_count, card_count, font_count,
			template_count, loaded_count, user_count, sync_count, blueprint_count, card_bytes,
			recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Series, snap.Episodes, snap.Cards, snap.Fonts, snap.Templates, snap.Loaded,
		snap.Users, snap.Syncs, snap.Blueprints, snap.CardBytes, formatTime(snap.RecordedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	snap.ID, _ = res.LastInsertId()

	s.logger.Info().
		Int64("series", snap.Series).
		Int64("episodes", snap.Episodes).
		Int64("cards", snap.Cards).
		Int64("loaded", snap.Loaded).
		Msg("Recorded snapshot")
	return snap, nil
}
