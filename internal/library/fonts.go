package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const fontColumns = `id, name, file_path, color, size, kerning, stroke_width,
	interline_spacing, interword_spacing, vertical_shift, title_case, replacements, delete_missing`

// CreateFont inserts a font definition.
func (s *Service) CreateFont(ctx context.Context, font *Font) (*Font, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fonts (name, file_path, color, size, kerning, stroke_width,
			interline_spacing, interword_spacing, vertical_shift, title_case, replacements,
			delete_missing)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		font.Name, nullableString(font.FilePath), nullableString(font.Color),
		font.Size, font.Kerning, font.StrokeWidth, font.InterlineSpacing,
		font.InterwordSpacing, font.VerticalShift, nullableString(font.TitleCase),
		toJSON(font.Replacements), font.DeleteMissing)
	if err != nil {
		return nil, fmt.Errorf("failed to insert font: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get font id: %w", err)
	}
	return s.GetFont(ctx, id)
}

// GetFont retrieves a font by ID.
func (s *Service) GetFont(ctx context.Context, id int64) (*Font, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fontColumns+` FROM fonts WHERE id = ?`, id)
	font, err := scanFont(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFontNotFound
		}
		return nil, fmt.Errorf("failed to get font: %w", err)
	}
	return font, nil
}

// ListFonts returns all fonts ordered by name.
func (s *Service) ListFonts(ctx context.Context) ([]*Font, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fontColumns+` FROM fonts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list fonts: %w", err)
	}
	defer rows.Close()

	var out []*Font
	for rows.Next() {
		font, err := scanFont(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan font: %w", err)
		}
		out = append(out, font)
	}
	return out, rows.Err()
}

// UpdateFont rewrites a font definition.
func (s *Service) UpdateFont(ctx context.Context, font *Font) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fonts SET name = ?, file_path = ?, color = ?, size = ?, kerning = ?,
			stroke_width = ?, interline_spacing = ?, interword_spacing = ?, vertical_shift = ?,
			title_case = ?, replacements = ?, delete_missing = ?
		WHERE id = ?`,
		font.Name, nullableString(font.FilePath), nullableString(font.Color),
		font.Size, font.Kerning, font.StrokeWidth, font.InterlineSpacing,
		font.InterwordSpacing, font.VerticalShift, nullableString(font.TitleCase),
		toJSON(font.Replacements), font.DeleteMissing, font.ID)
	if err != nil {
		return fmt.Errorf("failed to update font: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFontNotFound
	}
	return nil
}

// DeleteFont removes a font. Deletion is refused while the font is
// referenced unless orphanRewrite clears those references first.
func (s *Service) DeleteFont(ctx context.Context, id int64, orphanRewrite bool) error {
	refs, err := s.countFontRefs(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		if !orphanRewrite {
			return fmt.Errorf("%w: font %d has %d references", ErrInUse, id, refs)
		}
		for _, q := range []string{
			`UPDATE series SET font_id = NULL WHERE font_id = ?`,
			`UPDATE episodes SET font_id = NULL WHERE font_id = ?`,
			`UPDATE templates SET font_id = NULL WHERE font_id = ?`,
		} {
			if _, err := s.db.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("failed to orphan font references: %w", err)
			}
		}
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM fonts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete font: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFontNotFound
	}
	return nil
}

func (s *Service) countFontRefs(ctx context.Context, id int64) (int64, error) {
	var total int64
	for _, q := range []string{
		`SELECT COUNT(*) FROM series WHERE font_id = ?`,
		`SELECT COUNT(*) FROM episodes WHERE font_id = ?`,
		`SELECT COUNT(*) FROM templates WHERE font_id = ?`,
	} {
		var n int64
		if err := s.db.QueryRowContext(ctx, q, id).Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to count font references: %w", err)
		}
		total += n
	}
	return total, nil
}

func scanFont(row rowScanner) (*Font, error) {
	var (
		font              Font
		filePath          sql.NullString
		color, titleCase  sql.NullString
		replacements      string
	)
	err := row.Scan(&font.ID, &font.Name, &filePath, &color, &font.Size, &font.Kerning,
		&font.StrokeWidth, &font.InterlineSpacing, &font.InterwordSpacing,
		&font.VerticalShift, &titleCase, &replacements, &font.DeleteMissing)
	if err != nil {
		return nil, err
	}
	font.FilePath = stringPtr(filePath)
	font.Color = stringPtr(color)
	font.TitleCase = stringPtr(titleCase)
	fromJSON(replacements, &font.Replacements)
	return &font, nil
}
