package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

const episodeColumns = `id, series_id, title, season_number, episode_number, absolute_number,
	airdate, ids, watched, source_file, translations, translation_failures, font_id, options,
	missing_syncs, deleted_at`

// CreateEpisode inserts an episode for a series.
func (s *Service) CreateEpisode(ctx context.Context, ep *Episode) (*Episode, error) {
	if ep.Info == nil {
		return nil, fmt.Errorf("episode info is required")
	}

	var airdate any
	if ep.Info.Airdate != nil {
		airdate = formatTime(*ep.Info.Airdate)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (series_id, title, season_number, episode_number, absolute_number,
			airdate, ids, watched, source_file, translations, translation_failures, font_id,
			options, missing_syncs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.SeriesID, ep.Info.Title, ep.Info.SeasonNumber, ep.Info.EpisodeNumber,
		nullableInt(ep.Info.AbsoluteNumber), airdate, toJSON(ep.Info.IDs), toJSON(ep.Watched),
		nullableString(ep.SourceFile), toJSON(ep.Translations), toJSON(ep.TranslationFailures),
		nullableInt64(ep.FontID), toJSON(ep.Options), ep.MissingSyncs)
	if err != nil {
		return nil, fmt.Errorf("failed to insert episode: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get episode id: %w", err)
	}

	for i, tid := range ep.TemplateIDs {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO episode_templates (episode_id, template_id, order_index) VALUES (?, ?, ?)`,
			id, tid, i); err != nil {
			return nil, fmt.Errorf("failed to bind episode template %d: %w", tid, err)
		}
	}

	return s.GetEpisode(ctx, id)
}

// GetEpisode retrieves an episode by ID.
func (s *Service) GetEpisode(ctx context.Context, id int64) (*Episode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	ep, err := scanEpisode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEpisodeNotFound
		}
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}
	if err := s.attachEpisodeTemplates(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// FindEpisode locates an episode of a series matching the given info by any
// known ID, falling back to (season, episode).
func (s *Service) FindEpisode(ctx context.Context, seriesID int64, ei *info.EpisodeInfo) (*Episode, error) {
	clause, args := ei.QueryCondition()
	args = append([]any{seriesID}, args...)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE series_id = ? AND `+clause+` LIMIT 1`,
		args...)
	ep, err := scanEpisode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEpisodeNotFound
		}
		return nil, fmt.Errorf("failed to find episode: %w", err)
	}
	if err := s.attachEpisodeTemplates(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// ListEpisodes returns the live episodes of a series in ascending
// (season, episode) order. Soft-deleted episodes are excluded.
func (s *Service) ListEpisodes(ctx context.Context, seriesID int64) ([]*Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes
		 WHERE series_id = ? AND deleted_at IS NULL
		 ORDER BY season_number, episode_number`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	var out []*Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		out = append(out, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, ep := range out {
		if err := s.attachEpisodeTemplates(ctx, ep); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateEpisode rewrites the mutable fields of an episode and its
// template bindings.
func (s *Service) UpdateEpisode(ctx context.Context, ep *Episode) error {
	var airdate any
	if ep.Info.Airdate != nil {
		airdate = formatTime(*ep.Info.Airdate)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE episodes SET title = ?, season_number = ?, episode_number = ?, absolute_number = ?,
			airdate = ?, ids = ?, watched = ?, source_file = ?, translations = ?,
			translation_failures = ?, font_id = ?, options = ?, missing_syncs = ?, deleted_at = ?
		WHERE id = ?`,
		ep.Info.Title, ep.Info.SeasonNumber, ep.Info.EpisodeNumber,
		nullableInt(ep.Info.AbsoluteNumber), airdate, toJSON(ep.Info.IDs), toJSON(ep.Watched),
		nullableString(ep.SourceFile), toJSON(ep.Translations), toJSON(ep.TranslationFailures),
		nullableInt64(ep.FontID), toJSON(ep.Options), ep.MissingSyncs,
		formatTimePtr(ep.DeletedAt), ep.ID)
	if err != nil {
		return fmt.Errorf("failed to update episode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEpisodeNotFound
	}

	if err := replaceEpisodeTemplates(ctx, tx, ep.ID, ep.TemplateIDs); err != nil {
		return err
	}

	return tx.Commit()
}

func replaceEpisodeTemplates(ctx context.Context, tx *sql.Tx, episodeID int64, templateIDs []int64) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM episode_templates WHERE episode_id = ?`, episodeID); err != nil {
		return fmt.Errorf("failed to clear episode templates: %w", err)
	}
	for i, tid := range templateIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO episode_templates (episode_id, template_id, order_index) VALUES (?, ?, ?)`,
			episodeID, tid, i); err != nil {
			return fmt.Errorf("failed to bind episode template %d: %w", tid, err)
		}
	}
	return nil
}

// UpsertEpisode creates the episode if no live record matches its info,
// otherwise merges incoming IDs and refreshes the title and airdate. The
// missing-sync counter resets because the episode was just seen.
func (s *Service) UpsertEpisode(ctx context.Context, incoming *Episode) (*Episode, bool, error) {
	existing, err := s.FindEpisode(ctx, incoming.SeriesID, incoming.Info)
	if err != nil {
		if !errors.Is(err, ErrEpisodeNotFound) {
			return nil, false, err
		}
		created, err := s.CreateEpisode(ctx, incoming)
		if err != nil {
			return nil, false, err
		}
		return created, true, nil
	}

	if err := existing.Info.MergeIDs(incoming.Info); err != nil {
		s.logger.Warn().Err(err).Str("episode", existing.Info.Key()).
			Msg("ID conflict during upsert; keeping existing IDs")
	}
	if incoming.Info.Title != "" {
		existing.Info.Title = incoming.Info.Title
	}
	if incoming.Info.Airdate != nil {
		existing.Info.Airdate = incoming.Info.Airdate
	}
	if incoming.Info.AbsoluteNumber != nil {
		existing.Info.AbsoluteNumber = incoming.Info.AbsoluteNumber
	}
	existing.MissingSyncs = 0
	existing.DeletedAt = nil
	if err := s.UpdateEpisode(ctx, existing); err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// MarkEpisodesMissing increments the missing-sync counter for every live
// episode of the series NOT in seenIDs, soft-deleting those that have been
// absent from all sources for deleteAfter consecutive syncs. Returns how
// many were soft-deleted.
func (s *Service) MarkEpisodesMissing(ctx context.Context, seriesID int64, seenIDs map[int64]bool, deleteAfter int) (int, error) {
	episodes, err := s.ListEpisodes(ctx, seriesID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, ep := range episodes {
		if seenIDs[ep.ID] {
			continue
		}
		ep.MissingSyncs++
		if deleteAfter > 0 && ep.MissingSyncs >= deleteAfter {
			now := time.Now().UTC()
			ep.DeletedAt = &now
			deleted++
			s.logger.Info().Int64("episodeId", ep.ID).Str("key", ep.Info.Key()).
				Int("missingSyncs", ep.MissingSyncs).Msg("Soft-deleting episode absent from all sources")
		}
		if err := s.UpdateEpisode(ctx, ep); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// SetWatched updates one library's watched flag on an episode. Returns true
// when the stored value changed.
func (s *Service) SetWatched(ctx context.Context, ep *Episode, status info.WatchedStatus) (bool, error) {
	if ep.Watched == nil {
		ep.Watched = make(map[string]bool)
	}
	key := status.WatchedKey()
	if prev, ok := ep.Watched[key]; ok && prev == status.Watched {
		return false, nil
	}
	ep.Watched[key] = status.Watched
	if err := s.UpdateEpisode(ctx, ep); err != nil {
		return false, err
	}
	return true, nil
}

func scanEpisode(row rowScanner) (*Episode, error) {
	var (
		ep              Episode
		title           string
		season, episode int
		absolute        sql.NullInt64
		airdate         sql.NullString
		ids, watched    string
		sourceFile      sql.NullString
		translations    string
		failures        string
		fontID          sql.NullInt64
		options         string
		deletedAt       sql.NullString
	)
	err := row.Scan(&ep.ID, &ep.SeriesID, &title, &season, &episode, &absolute, &airdate,
		&ids, &watched, &sourceFile, &translations, &failures, &fontID, &options,
		&ep.MissingSyncs, &deletedAt)
	if err != nil {
		return nil, err
	}

	ep.Info = info.NewEpisodeInfo(title, season, episode)
	ep.Info.AbsoluteNumber = intPtr(absolute)
	ep.Info.Airdate = parseTimePtr(airdate)
	fromJSON(ids, &ep.Info.IDs)
	fromJSON(watched, &ep.Watched)
	ep.SourceFile = stringPtr(sourceFile)
	fromJSON(translations, &ep.Translations)
	fromJSON(failures, &ep.TranslationFailures)
	ep.FontID = int64Ptr(fontID)
	fromJSON(options, &ep.Options)
	ep.DeletedAt = parseTimePtr(deletedAt)
	return &ep, nil
}

func (s *Service) attachEpisodeTemplates(ctx context.Context, ep *Episode) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT template_id FROM episode_templates WHERE episode_id = ? ORDER BY order_index`,
		ep.ID)
	if err != nil {
		return fmt.Errorf("failed to load episode templates: %w", err)
	}
	defer rows.Close()
	ep.TemplateIDs = ep.TemplateIDs[:0]
	for rows.Next() {
		var tid int64
		if err := rows.Scan(&tid); err != nil {
			return err
		}
		ep.TemplateIDs = append(ep.TemplateIDs, tid)
	}
	return rows.Err()
}
