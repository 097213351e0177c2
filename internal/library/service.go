package library

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrSeriesNotFound     = errors.New("series not found")
	ErrEpisodeNotFound    = errors.New("episode not found")
	ErrCardNotFound       = errors.New("card not found")
	ErrFontNotFound       = errors.New("font not found")
	ErrTemplateNotFound   = errors.New("template not found")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrSyncNotFound       = errors.New("sync not found")
	ErrInUse              = errors.New("entity is still referenced")
)

// Service provides persistence operations over the entity graph.
type Service struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewService creates a new library service.
func NewService(db *sql.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "library").Logger(),
	}
}

// DB exposes the underlying connection for components that compose their
// own transactions (blueprint import).
func (s *Service) DB() *sql.DB {
	return s.db
}

// toJSON marshals v for storage in a TEXT column. Marshal failures cannot
// happen for the fixed column types, so a fallback empty object is used.
func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// fromJSON unmarshals a TEXT column into out, tolerating empty values.
func fromJSON(data string, out any) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), out)
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

// parseTime handles both RFC3339 values written by Go and the
// "YYYY-MM-DD HH:MM:SS" form produced by SQLite datetime() defaults.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse(sqliteTimeLayout, s); err == nil {
		return t
	}
	return time.Time{}
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
