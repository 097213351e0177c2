package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const cardColumns = `id, episode_id, interface_id, library_name, file_path, file_size,
	fingerprint, recipe, active, created_at`

// SaveCard records a built artifact, deactivating any previous card for the
// same (episode, library). At most one active card exists per key;
// historical rows remain for statistics.
func (s *Service) SaveCard(ctx context.Context, card *Card) (*Card, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE cards SET active = 0 WHERE episode_id = ? AND library_name = ? AND active = 1`,
		card.EpisodeID, card.LibraryName); err != nil {
		return nil, fmt.Errorf("failed to deactivate previous card: %w", err)
	}

	recipe := card.Recipe
	if recipe == nil {
		recipe = json.RawMessage("{}")
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO cards (episode_id, interface_id, library_name, file_path, file_size,
			fingerprint, recipe, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		card.EpisodeID, nullableInt64(card.InterfaceID), card.LibraryName,
		card.FilePath, card.FileSize, card.Fingerprint, string(recipe))
	if err != nil {
		return nil, fmt.Errorf("failed to insert card: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get card id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit card: %w", err)
	}

	return s.GetCard(ctx, id)
}

// GetCard retrieves a card by ID.
func (s *Service) GetCard(ctx context.Context, id int64) (*Card, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	card, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return card, nil
}

// GetActiveCard returns the active card for an (episode, library), or
// ErrCardNotFound.
func (s *Service) GetActiveCard(ctx context.Context, episodeID int64, libraryName string) (*Card, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM cards
		 WHERE episode_id = ? AND library_name = ? AND active = 1`, episodeID, libraryName)
	card, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get active card: %w", err)
	}
	return card, nil
}

// ListActiveCardsBySeries returns all active cards of a series in ascending
// (season, episode) order.
func (s *Service) ListActiveCardsBySeries(ctx context.Context, seriesID int64) ([]*Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.episode_id, c.interface_id, c.library_name, c.file_path, c.file_size,
			c.fingerprint, c.recipe, c.active, c.created_at
		FROM cards c
		JOIN episodes e ON e.id = c.episode_id
		WHERE e.series_id = ? AND c.active = 1
		ORDER BY e.season_number, e.episode_number`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var out []*Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		out = append(out, card)
	}
	return out, rows.Err()
}

// DeactivateCards clears the active card records for an episode. File
// removal is the render cache's responsibility.
func (s *Service) DeactivateCards(ctx context.Context, episodeID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cards SET active = 0 WHERE episode_id = ? AND active = 1`, episodeID)
	if err != nil {
		return fmt.Errorf("failed to deactivate cards: %w", err)
	}
	return nil
}

func scanCard(row rowScanner) (*Card, error) {
	var (
		card        Card
		interfaceID sql.NullInt64
		recipe      string
		createdAt   string
	)
	err := row.Scan(&card.ID, &card.EpisodeID, &interfaceID, &card.LibraryName,
		&card.FilePath, &card.FileSize, &card.Fingerprint, &recipe, &card.Active, &createdAt)
	if err != nil {
		return nil, err
	}
	card.InterfaceID = int64Ptr(interfaceID)
	card.Recipe = json.RawMessage(recipe)
	card.CreatedAt = parseTime(createdAt)
	return &card, nil
}
