package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

const seriesColumns = `id, name, year, match_name, ids, monitored, card_type, font_id,
	watched_style, unwatched_style, season_titles, options, created_at, updated_at`

// CreateSeries inserts a series along with its template and library bindings.
func (s *Service) CreateSeries(ctx context.Context, series *Series) (*Series, error) {
	if series.Info == nil {
		return nil, fmt.Errorf("series info is required")
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO series (name, year, match_name, ids, monitored, card_type, font_id,
			watched_style, unwatched_style, season_titles, options, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		series.Info.Name, series.Info.Year, series.Info.MatchName(), toJSON(series.Info.IDs),
		series.Monitored, nullableString(series.CardType), nullableInt64(series.FontID),
		nullableString(series.WatchedStyle), nullableString(series.UnwatchedStyle),
		toJSON(series.SeasonTitles), toJSON(series.Options), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to insert series: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get series id: %w", err)
	}

	if err := replaceSeriesTemplates(ctx, tx, id, series.TemplateIDs); err != nil {
		return nil, err
	}
	if err := replaceSeriesLibraries(ctx, tx, id, series.Libraries); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit series: %w", err)
	}

	s.logger.Info().Int64("id", id).Str("series", series.Info.FullName()).Msg("Created series")
	return s.GetSeries(ctx, id)
}

// GetSeries retrieves a series by ID.
func (s *Service) GetSeries(ctx context.Context, id int64) (*Series, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+seriesColumns+` FROM series WHERE id = ?`, id)
	series, err := scanSeries(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSeriesNotFound
		}
		return nil, fmt.Errorf("failed to get series: %w", err)
	}
	if err := s.attachSeriesRefs(ctx, series); err != nil {
		return nil, err
	}
	return series, nil
}

// FindSeries locates a series matching the given info by any known ID,
// falling back to the normalized name and year.
func (s *Service) FindSeries(ctx context.Context, si *info.SeriesInfo) (*Series, error) {
	clause, args := si.QueryCondition()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+seriesColumns+` FROM series WHERE `+clause+` LIMIT 1`, args...)
	series, err := scanSeries(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSeriesNotFound
		}
		return nil, fmt.Errorf("failed to find series: %w", err)
	}
	if err := s.attachSeriesRefs(ctx, series); err != nil {
		return nil, err
	}
	return series, nil
}

// ListSeries returns all series ordered by name.
func (s *Service) ListSeries(ctx context.Context) ([]*Series, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+seriesColumns+` FROM series ORDER BY match_name, year`)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	defer rows.Close()

	var out []*Series
	for rows.Next() {
		series, err := scanSeries(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan series: %w", err)
		}
		out = append(out, series)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, series := range out {
		if err := s.attachSeriesRefs(ctx, series); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateSeries rewrites the mutable fields of a series and its bindings.
func (s *Service) UpdateSeries(ctx context.Context, series *Series) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE series SET name = ?, year = ?, match_name = ?, ids = ?, monitored = ?,
			card_type = ?, font_id = ?, watched_style = ?, unwatched_style = ?,
			season_titles = ?, options = ?, updated_at = ?
		WHERE id = ?`,
		series.Info.Name, series.Info.Year, series.Info.MatchName(), toJSON(series.Info.IDs),
		series.Monitored, nullableString(series.CardType), nullableInt64(series.FontID),
		nullableString(series.WatchedStyle), nullableString(series.UnwatchedStyle),
		toJSON(series.SeasonTitles), toJSON(series.Options), formatTime(time.Now()),
		series.ID)
	if err != nil {
		return fmt.Errorf("failed to update series: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSeriesNotFound
	}

	if err := replaceSeriesTemplates(ctx, tx, series.ID, series.TemplateIDs); err != nil {
		return err
	}
	if err := replaceSeriesLibraries(ctx, tx, series.ID, series.Libraries); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteSeries removes a series; episodes and cards cascade.
func (s *Service) DeleteSeries(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM series WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete series: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSeriesNotFound
	}
	s.logger.Info().Int64("id", id).Msg("Deleted series")
	return nil
}

// UpsertSeries creates the series if no existing record matches its info,
// otherwise merges the incoming IDs into the match. Reruns of sync never
// create duplicates.
func (s *Service) UpsertSeries(ctx context.Context, incoming *Series) (*Series, bool, error) {
	existing, err := s.FindSeries(ctx, incoming.Info)
	if err != nil {
		if !errors.Is(err, ErrSeriesNotFound) {
			return nil, false, err
		}
		created, err := s.CreateSeries(ctx, incoming)
		if err != nil {
			return nil, false, err
		}
		return created, true, nil
	}

	if err := existing.Info.MergeIDs(incoming.Info); err != nil {
		// Conflicting IDs: keep ours, log the alternative for reconciliation.
		s.logger.Warn().Err(err).Str("series", existing.Info.FullName()).
			Msg("ID conflict during upsert; keeping existing IDs")
	}
	// New library bindings are additive.
	existing.Libraries = mergeLibraries(existing.Libraries, incoming.Libraries)
	if err := s.UpdateSeries(ctx, existing); err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func mergeLibraries(a, b []Library) []Library {
	seen := make(map[Library]bool, len(a))
	out := append([]Library(nil), a...)
	for _, l := range a {
		seen[l] = true
	}
	for _, l := range b {
		if !seen[l] {
			out = append(out, l)
			seen[l] = true
		}
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeries(row rowScanner) (*Series, error) {
	var (
		series                       Series
		name                         string
		year                         int
		matchName, ids               string
		cardType, wStyle, uStyle     sql.NullString
		fontID                       sql.NullInt64
		seasonTitles, options        string
		createdAt, updatedAt         string
	)
	err := row.Scan(&series.ID, &name, &year, &matchName, &ids, &series.Monitored,
		&cardType, &fontID, &wStyle, &uStyle, &seasonTitles, &options, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	series.Info = info.NewSeriesInfo(name, year)
	fromJSON(ids, &series.Info.IDs)
	series.CardType = stringPtr(cardType)
	series.FontID = int64Ptr(fontID)
	series.WatchedStyle = stringPtr(wStyle)
	series.UnwatchedStyle = stringPtr(uStyle)
	fromJSON(seasonTitles, &series.SeasonTitles)
	fromJSON(options, &series.Options)
	series.AddedAt = parseTime(createdAt)
	series.UpdatedAt = parseTime(updatedAt)
	return &series, nil
}

// attachSeriesRefs loads template and library bindings for a series.
func (s *Service) attachSeriesRefs(ctx context.Context, series *Series) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT template_id FROM series_templates WHERE series_id = ? ORDER BY order_index`,
		series.ID)
	if err != nil {
		return fmt.Errorf("failed to load series templates: %w", err)
	}
	series.TemplateIDs = series.TemplateIDs[:0]
	for rows.Next() {
		var tid int64
		if err := rows.Scan(&tid); err != nil {
			rows.Close()
			return err
		}
		series.TemplateIDs = append(series.TemplateIDs, tid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT interface_id, library_name FROM series_libraries WHERE series_id = ?
		 ORDER BY interface_id, library_name`, series.ID)
	if err != nil {
		return fmt.Errorf("failed to load series libraries: %w", err)
	}
	defer rows.Close()
	series.Libraries = series.Libraries[:0]
	for rows.Next() {
		var lib Library
		if err := rows.Scan(&lib.InterfaceID, &lib.Name); err != nil {
			return err
		}
		series.Libraries = append(series.Libraries, lib)
	}
	return rows.Err()
}

func replaceSeriesTemplates(ctx context.Context, tx *sql.Tx, seriesID int64, templateIDs []int64) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM series_templates WHERE series_id = ?`, seriesID); err != nil {
		return fmt.Errorf("failed to clear series templates: %w", err)
	}
	for i, tid := range templateIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO series_templates (series_id, template_id, order_index) VALUES (?, ?, ?)`,
			seriesID, tid, i); err != nil {
			return fmt.Errorf("failed to bind template %d: %w", tid, err)
		}
	}
	return nil
}

func replaceSeriesLibraries(ctx context.Context, tx *sql.Tx, seriesID int64, libs []Library) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM series_libraries WHERE series_id = ?`, seriesID); err != nil {
		return fmt.Errorf("failed to clear series libraries: %w", err)
	}
	for _, lib := range libs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO series_libraries (series_id, interface_id, library_name) VALUES (?, ?, ?)`,
			seriesID, lib.InterfaceID, lib.Name); err != nil {
			return fmt.Errorf("failed to bind library %q: %w", lib.Name, err)
		}
	}
	return nil
}
