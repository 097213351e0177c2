package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const templateColumns = `id, name, filters, card_type, font_id, options`

// CreateTemplate inserts a template.
func (s *Service) CreateTemplate(ctx context.Context, tmpl *Template) (*Template, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (name, filters, card_type, font_id, options)
		VALUES (?, ?, ?, ?, ?)`,
		tmpl.Name, toJSON(tmpl.Filters), nullableString(tmpl.CardType),
		nullableInt64(tmpl.FontID), toJSON(tmpl.Options))
	if err != nil {
		return nil, fmt.Errorf("failed to insert template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get template id: %w", err)
	}
	return s.GetTemplate(ctx, id)
}

// GetTemplate retrieves a template by ID.
func (s *Service) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	tmpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tmpl, nil
}

// GetTemplates retrieves several templates preserving the requested order.
func (s *Service) GetTemplates(ctx context.Context, ids []int64) ([]*Template, error) {
	out := make([]*Template, 0, len(ids))
	for _, id := range ids {
		tmpl, err := s.GetTemplate(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, tmpl)
	}
	return out, nil
}

// ListTemplates returns all templates ordered by name.
func (s *Service) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, tmpl)
	}
	return out, rows.Err()
}

// UpdateTemplate rewrites a template.
func (s *Service) UpdateTemplate(ctx context.Context, tmpl *Template) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE templates SET name = ?, filters = ?, card_type = ?, font_id = ?, options = ?
		WHERE id = ?`,
		tmpl.Name, toJSON(tmpl.Filters), nullableString(tmpl.CardType),
		nullableInt64(tmpl.FontID), toJSON(tmpl.Options), tmpl.ID)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// DeleteTemplate removes a template. Deletion is refused while the template
// is referenced unless orphanRewrite drops those bindings first.
func (s *Service) DeleteTemplate(ctx context.Context, id int64, orphanRewrite bool) error {
	var refs int64
	for _, q := range []string{
		`SELECT COUNT(*) FROM series_templates WHERE template_id = ?`,
		`SELECT COUNT(*) FROM episode_templates WHERE template_id = ?`,
	} {
		var n int64
		if err := s.db.QueryRowContext(ctx, q, id).Scan(&n); err != nil {
			return fmt.Errorf("failed to count template references: %w", err)
		}
		refs += n
	}
	if refs > 0 {
		if !orphanRewrite {
			return fmt.Errorf("%w: template %d has %d references", ErrInUse, id, refs)
		}
		for _, q := range []string{
			`DELETE FROM series_templates WHERE template_id = ?`,
			`DELETE FROM episode_templates WHERE template_id = ?`,
		} {
			if _, err := s.db.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("failed to orphan template references: %w", err)
			}
		}
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func scanTemplate(row rowScanner) (*Template, error) {
	var (
		tmpl     Template
		filters  string
		cardType sql.NullString
		fontID   sql.NullInt64
		options  string
	)
	err := row.Scan(&tmpl.ID, &tmpl.Name, &filters, &cardType, &fontID, &options)
	if err != nil {
		return nil, err
	}
	fromJSON(filters, &tmpl.Filters)
	tmpl.CardType = stringPtr(cardType)
	tmpl.FontID = int64Ptr(fontID)
	fromJSON(options, &tmpl.Options)
	return &tmpl, nil
}
