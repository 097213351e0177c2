package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LoadedKey identifies one server-side upload slot.
type LoadedKey struct {
	InterfaceID  int64
	LibraryName  string
	SeriesID     int64
	EpisodeID    *int64
	AssetType    AssetType
	SeasonNumber *int
}

// GetLoaded returns the acceptance record for a key, or nil when the asset
// was never loaded.
func (s *Service) GetLoaded(ctx context.Context, key LoadedKey) (*Loaded, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, interface_id, library_name, series_id, episode_id, asset_type,
			season_number, file_size, fingerprint, loaded_at
		FROM loaded
		WHERE interface_id = ? AND library_name = ? AND series_id = ?
			AND COALESCE(episode_id, -1) = COALESCE(?, -1)
			AND asset_type = ?
			AND COALESCE(season_number, -1) = COALESCE(?, -1)`,
		key.InterfaceID, key.LibraryName, key.SeriesID, nullableInt64(key.EpisodeID),
		string(key.AssetType), nullableInt(key.SeasonNumber))
	loaded, err := scanLoaded(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get loaded record: %w", err)
	}
	return loaded, nil
}

// RecordLoaded upserts the acceptance record for a key with the uploaded
// size and fingerprint.
func (s *Service) RecordLoaded(ctx context.Context, key LoadedKey, size int64, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loaded (interface_id, library_name, series_id, episode_id, asset_type,
			season_number, file_size, fingerprint, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO UPDATE SET file_size = excluded.file_size,
			fingerprint = excluded.fingerprint, loaded_at = excluded.loaded_at`,
		key.InterfaceID, key.LibraryName, key.SeriesID, nullableInt64(key.EpisodeID),
		string(key.AssetType), nullableInt(key.SeasonNumber), size, fingerprint,
		formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to record loaded asset: %w", err)
	}
	return nil
}

func scanLoaded(row rowScanner) (*Loaded, error) {
	var (
		loaded       Loaded
		episodeID    sql.NullInt64
		assetType    string
		seasonNumber sql.NullInt64
		loadedAt     string
	)
	err := row.Scan(&loaded.ID, &loaded.InterfaceID, &loaded.LibraryName, &loaded.SeriesID,
		&episodeID, &assetType, &seasonNumber, &loaded.FileSize, &loaded.Fingerprint, &loadedAt)
	if err != nil {
		return nil, err
	}
	loaded.EpisodeID = int64Ptr(episodeID)
	loaded.AssetType = AssetType(assetType)
	loaded.SeasonNumber = intPtr(seasonNumber)
	loaded.LoadedAt = parseTime(loadedAt)
	return &loaded, nil
}

// CreateSync inserts a sync definition.
func (s *Service) CreateSync(ctx context.Context, sync *Sync) (*Sync, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO syncs (interface_id, name, required_libraries, excluded_libraries,
			required_tags, excluded_tags, template_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sync.InterfaceID, sync.Name, toJSON(sync.RequiredLibraries),
		toJSON(sync.ExcludedLibraries), toJSON(sync.RequiredTags), toJSON(sync.ExcludedTags),
		toJSON(sync.TemplateIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to insert sync: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get sync id: %w", err)
	}
	sync.ID = id
	return sync, nil
}

// ListSyncs returns all configured syncs.
func (s *Service) ListSyncs(ctx context.Context) ([]*Sync, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, interface_id, name, required_libraries, excluded_libraries, required_tags,
			excluded_tags, template_ids, last_ran_at
		FROM syncs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list syncs: %w", err)
	}
	defer rows.Close()

	var out []*Sync
	for rows.Next() {
		var (
			sync                     Sync
			reqLibs, exclLibs        string
			reqTags, exclTags, tmpls string
			lastRan                  sql.NullString
		)
		if err := rows.Scan(&sync.ID, &sync.InterfaceID, &sync.Name, &reqLibs, &exclLibs,
			&reqTags, &exclTags, &tmpls, &lastRan); err != nil {
			return nil, fmt.Errorf("failed to scan sync: %w", err)
		}
		fromJSON(reqLibs, &sync.RequiredLibraries)
		fromJSON(exclLibs, &sync.ExcludedLibraries)
		fromJSON(reqTags, &sync.RequiredTags)
		fromJSON(exclTags, &sync.ExcludedTags)
		fromJSON(tmpls, &sync.TemplateIDs)
		sync.LastRanAt = parseTimePtr(lastRan)
		out = append(out, &sync)
	}
	return out, rows.Err()
}

// TouchSync records that a sync just ran.
func (s *Service) TouchSync(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE syncs SET last_ran_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to touch sync: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSyncNotFound
	}
	return nil
}

// SaveBlueprint persists an exported blueprint document.
func (s *Service) SaveBlueprint(ctx context.Context, seriesID int64, document []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO blueprints (series_id, document) VALUES (?, ?)`, seriesID, string(document))
	if err != nil {
		return 0, fmt.Errorf("failed to save blueprint: %w", err)
	}
	return res.LastInsertId()
}
