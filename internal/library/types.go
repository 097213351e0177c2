package library

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

// Library is a named subdivision of a media server's content, identified by
// the owning connection and the library name.
type Library struct {
	InterfaceID int64  `json:"interfaceId"`
	Name        string `json:"name"`
}

// WatchedKey is this library's key in an episode's per-library watched map.
func (l Library) WatchedKey() string {
	return fmt.Sprintf("%d:%s", l.InterfaceID, l.Name)
}

// Series is a tracked series and its card configuration.
type Series struct {
	ID             int64             `json:"id"`
	Info           *info.SeriesInfo  `json:"info"`
	Monitored      bool              `json:"monitored"`
	CardType       *string           `json:"cardType,omitempty"`
	FontID         *int64            `json:"fontId,omitempty"`
	WatchedStyle   *string           `json:"watchedStyle,omitempty"`
	UnwatchedStyle *string           `json:"unwatchedStyle,omitempty"`
	SeasonTitles   map[string]string `json:"seasonTitles,omitempty"`
	Options        map[string]any    `json:"options,omitempty"`
	TemplateIDs    []int64           `json:"templateIds,omitempty"`
	Libraries      []Library         `json:"libraries,omitempty"`
	AddedAt        time.Time         `json:"addedAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Episode is one episode of a tracked series.
type Episode struct {
	ID       int64             `json:"id"`
	SeriesID int64             `json:"seriesId"`
	Info     *info.EpisodeInfo `json:"info"`
	// Watched maps "<interface_id>:<library>" to the watched flag reported
	// by that server library.
	Watched             map[string]bool      `json:"watched,omitempty"`
	SourceFile          *string              `json:"sourceFile,omitempty"`
	Translations        map[string]string    `json:"translations,omitempty"`
	TranslationFailures map[string]time.Time `json:"translationFailures,omitempty"`
	FontID              *int64               `json:"fontId,omitempty"`
	TemplateIDs         []int64              `json:"templateIds,omitempty"`
	Options             map[string]any       `json:"options,omitempty"`
	MissingSyncs        int                  `json:"missingSyncs"`
	DeletedAt           *time.Time           `json:"deletedAt,omitempty"`
}

// Card is a built artifact on disk.
type Card struct {
	ID          int64           `json:"id"`
	EpisodeID   int64           `json:"episodeId"`
	InterfaceID *int64          `json:"interfaceId,omitempty"`
	LibraryName string          `json:"libraryName"`
	FilePath    string          `json:"filePath"`
	FileSize    int64           `json:"fileSize"`
	Fingerprint string          `json:"fingerprint"`
	Recipe      json.RawMessage `json:"recipe"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Font is a named font definition shared across series and episodes.
type Font struct {
	ID               int64             `json:"id"`
	Name             string            `json:"name"`
	FilePath         *string           `json:"filePath,omitempty"`
	Color            *string           `json:"color,omitempty"`
	Size             float64           `json:"size"`
	Kerning          float64           `json:"kerning"`
	StrokeWidth      float64           `json:"strokeWidth"`
	InterlineSpacing int               `json:"interlineSpacing"`
	InterwordSpacing int               `json:"interwordSpacing"`
	VerticalShift    int               `json:"verticalShift"`
	TitleCase        *string           `json:"titleCase,omitempty"`
	Replacements     map[string]string `json:"replacements,omitempty"`
	DeleteMissing    bool              `json:"deleteMissing"`
}

// FilterOperation is the comparison a template filter applies.
type FilterOperation string

const (
	OpEquals        FilterOperation = "equals"
	OpNotEquals     FilterOperation = "not_equals"
	OpLessThan      FilterOperation = "less_than"
	OpGreaterThan   FilterOperation = "greater_than"
	OpIn            FilterOperation = "in"
	OpBefore        FilterOperation = "before"
	OpAfter         FilterOperation = "after"
	OpIsTrue        FilterOperation = "is_true"
	OpIsFalse       FilterOperation = "is_false"
	OpContains      FilterOperation = "contains"
	OpMatchesRegex  FilterOperation = "matches"
)

// Filter is one typed condition of a template's applicability predicate.
// Argument names a context value (season_number, episode_number, airdate,
// watched, series_name, ...).
type Filter struct {
	Argument  string          `json:"argument"`
	Operation FilterOperation `json:"operation"`
	Reference string          `json:"reference,omitempty"`
}

// Template is a reusable, filter-gated fragment of a recipe.
type Template struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Filters  []Filter       `json:"filters,omitempty"`
	CardType *string        `json:"cardType,omitempty"`
	FontID   *int64         `json:"fontId,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// ConnectionKind enumerates supported remote endpoint kinds.
type ConnectionKind string

const (
	KindEmby     ConnectionKind = "emby"
	KindJellyfin ConnectionKind = "jellyfin"
	KindPlex     ConnectionKind = "plex"
	KindSonarr   ConnectionKind = "sonarr"
	KindTMDb     ConnectionKind = "tmdb"
	KindTVDb     ConnectionKind = "tvdb"
	KindTautulli ConnectionKind = "tautulli"
)

// Connection is a configured remote endpoint. The row ID is the stable
// interface_id that entity ID sets reference.
type Connection struct {
	ID                int64          `json:"id"`
	Kind              ConnectionKind `json:"kind"`
	Name              string         `json:"name"`
	URL               string         `json:"url"`
	APIKey            string         `json:"apiKey"`
	Username          string         `json:"username,omitempty"`
	Enabled           bool           `json:"enabled"`
	VerifySSL         bool           `json:"verifySsl"`
	FilesizeLimit     *int64         `json:"filesizeLimit,omitempty"`
	LanguagePriority  []string       `json:"languagePriority,omitempty"`
	RequiredLibraries []string       `json:"requiredLibraries,omitempty"`
	ExcludedLibraries []string       `json:"excludedLibraries,omitempty"`
	RequiredTags      []string       `json:"requiredTags,omitempty"`
	ExcludedTags      []string       `json:"excludedTags,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// AssetType distinguishes what a loaded record refers to.
type AssetType string

const (
	AssetCard         AssetType = "card"
	AssetPoster       AssetType = "poster"
	AssetBackdrop     AssetType = "backdrop"
	AssetSeasonPoster AssetType = "season_poster"
)

// Loaded records a server's acceptance of an uploaded asset.
type Loaded struct {
	ID           int64     `json:"id"`
	InterfaceID  int64     `json:"interfaceId"`
	LibraryName  string    `json:"libraryName"`
	SeriesID     int64     `json:"seriesId"`
	EpisodeID    *int64    `json:"episodeId,omitempty"`
	AssetType    AssetType `json:"assetType"`
	SeasonNumber *int      `json:"seasonNumber,omitempty"`
	FileSize     int64     `json:"fileSize"`
	Fingerprint  string    `json:"fingerprint"`
	LoadedAt     time.Time `json:"loadedAt"`
}

// Sync is a configured series-list pull from a sync-capable connection.
type Sync struct {
	ID                int64      `json:"id"`
	InterfaceID       int64      `json:"interfaceId"`
	Name              string     `json:"name"`
	RequiredLibraries []string   `json:"requiredLibraries,omitempty"`
	ExcludedLibraries []string   `json:"excludedLibraries,omitempty"`
	RequiredTags      []string   `json:"requiredTags,omitempty"`
	ExcludedTags      []string   `json:"excludedTags,omitempty"`
	TemplateIDs       []int64    `json:"templateIds,omitempty"`
	LastRanAt         *time.Time `json:"lastRanAt,omitempty"`
}

// JobRecord is one row of the persistent scheduler registry.
type JobRecord struct {
	ID        string     `json:"id"`
	LastStart *time.Time `json:"lastStart,omitempty"`
	LastEnd   *time.Time `json:"lastEnd,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
	Retries   int        `json:"retries"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
}

// Snapshot is one point-in-time row of entity population counts.
type Snapshot struct {
	ID         int64     `json:"id"`
	Series     int64     `json:"series"`
	Episodes   int64     `json:"episodes"`
	Cards      int64     `json:"cards"`
	Fonts      int64     `json:"fonts"`
	Templates  int64     `json:"templates"`
	Loaded     int64     `json:"loaded"`
	Users      int64     `json:"users"`
	Syncs      int64     `json:"syncs"`
	Blueprints int64     `json:"blueprints"`
	CardBytes  int64     `json:"cardBytes"`
	RecordedAt time.Time `json:"recordedAt"`
}
