package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const connectionColumns = `id, kind, name, url, api_key, username, enabled, verify_ssl,
	filesize_limit, language_priority, required_libraries, excluded_libraries, required_tags,
	excluded_tags, created_at`

// CreateConnection inserts a connection. Its row ID becomes the stable
// interface_id referenced by entity ID sets.
func (s *Service) CreateConnection(ctx context.Context, conn *Connection) (*Connection, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (kind, name, url, api_key, username, enabled, verify_ssl,
			filesize_limit, language_priority, required_libraries, excluded_libraries,
			required_tags, excluded_tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(conn.Kind), conn.Name, conn.URL, conn.APIKey, conn.Username, conn.Enabled,
		conn.VerifySSL, nullableInt64(conn.FilesizeLimit), toJSON(conn.LanguagePriority),
		toJSON(conn.RequiredLibraries), toJSON(conn.ExcludedLibraries),
		toJSON(conn.RequiredTags), toJSON(conn.ExcludedTags))
	if err != nil {
		return nil, fmt.Errorf("failed to insert connection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection id: %w", err)
	}
	return s.GetConnection(ctx, id)
}

// GetConnection retrieves a connection by interface_id.
func (s *Service) GetConnection(ctx context.Context, id int64) (*Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)
	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// ListConnections returns all connections, enabled first.
func (s *Service) ListConnections(ctx context.Context) ([]*Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections ORDER BY enabled DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var out []*Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

// UpdateConnection rewrites a connection's configuration.
func (s *Service) UpdateConnection(ctx context.Context, conn *Connection) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE connections SET kind = ?, name = ?, url = ?, api_key = ?, username = ?,
			enabled = ?, verify_ssl = ?, filesize_limit = ?, language_priority = ?,
			required_libraries = ?, excluded_libraries = ?, required_tags = ?, excluded_tags = ?
		WHERE id = ?`,
		string(conn.Kind), conn.Name, conn.URL, conn.APIKey, conn.Username, conn.Enabled,
		conn.VerifySSL, nullableInt64(conn.FilesizeLimit), toJSON(conn.LanguagePriority),
		toJSON(conn.RequiredLibraries), toJSON(conn.ExcludedLibraries),
		toJSON(conn.RequiredTags), toJSON(conn.ExcludedTags), conn.ID)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

// DeleteConnection removes a connection.
func (s *Service) DeleteConnection(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

func scanConnection(row rowScanner) (*Connection, error) {
	var (
		conn                         Connection
		kind                         string
		filesizeLimit                sql.NullInt64
		langs, reqLibs, exclLibs     string
		reqTags, exclTags, createdAt string
	)
	err := row.Scan(&conn.ID, &kind, &conn.Name, &conn.URL, &conn.APIKey, &conn.Username,
		&conn.Enabled, &conn.VerifySSL, &filesizeLimit, &langs, &reqLibs, &exclLibs,
		&reqTags, &exclTags, &createdAt)
	if err != nil {
		return nil, err
	}
	conn.Kind = ConnectionKind(kind)
	conn.FilesizeLimit = int64Ptr(filesizeLimit)
	fromJSON(langs, &conn.LanguagePriority)
	fromJSON(reqLibs, &conn.RequiredLibraries)
	fromJSON(exclLibs, &conn.ExcludedLibraries)
	fromJSON(reqTags, &conn.RequiredTags)
	fromJSON(exclTags, &conn.ExcludedTags)
	conn.CreatedAt = parseTime(createdAt)
	return &conn, nil
}
