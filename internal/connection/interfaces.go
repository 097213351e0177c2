package connection

import (
	"context"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

// Connector is the base contract every connection kind satisfies. The
// activation probe runs at construction; a connector that failed it stays
// registered but inactive, holding its ActivationError.
type Connector interface {
	ID() int64
	Kind() library.ConnectionKind
	Active() bool
	ActivationErr() error
}

// SearchResult is one hit of a series text search.
type SearchResult struct {
	Name     string     `json:"name"`
	Year     int        `json:"year"`
	Overview string     `json:"overview,omitempty"`
	Poster   string     `json:"poster,omitempty"`
	Ongoing  bool       `json:"ongoing"`
	IDs      info.IDSet `json:"ids"`
}

// EpisodeEntry pairs an episode's identity with its watched flag, when the
// source knows one.
type EpisodeEntry struct {
	Info    *info.EpisodeInfo
	Watched *bool
}

// EpisodeSource provides episode metadata for a series.
type EpisodeSource interface {
	Connector
	SetSeriesIDs(ctx context.Context, libraryName string, si *info.SeriesInfo) error
	SetEpisodeIDs(ctx context.Context, libraryName string, si *info.SeriesInfo, episodes []*info.EpisodeInfo) error
	GetAllEpisodes(ctx context.Context, libraryName string, si *info.SeriesInfo) ([]EpisodeEntry, error)
	QuerySeries(ctx context.Context, query string) ([]SearchResult, error)
}

// CardUpload pairs an episode with the card bytes to push for it.
type CardUpload struct {
	Episode *info.EpisodeInfo
	Image   []byte
}

// MediaServer is a server that holds playable libraries and accepts
// uploaded artwork.
type MediaServer interface {
	EpisodeSource
	GetLibraries(ctx context.Context) ([]string, error)
	GetSourceImage(ctx context.Context, libraryName string, si *info.SeriesInfo, ei *info.EpisodeInfo) ([]byte, error)
	LoadTitleCards(ctx context.Context, libraryName string, si *info.SeriesInfo, uploads []CardUpload) (int, error)
	LoadSeriesPoster(ctx context.Context, libraryName string, si *info.SeriesInfo, image []byte) error
	LoadSeriesBackground(ctx context.Context, libraryName string, si *info.SeriesInfo, image []byte) error
	LoadSeasonPoster(ctx context.Context, libraryName string, si *info.SeriesInfo, season int, image []byte) error
	UpdateWatchedStatuses(ctx context.Context, libraryName string, si *info.SeriesInfo, episodes []*info.EpisodeInfo) ([]info.WatchedStatus, error)
	GetSeriesPoster(ctx context.Context, libraryName string, si *info.SeriesInfo) ([]byte, error)
	GetSeriesLogo(ctx context.Context, libraryName string, si *info.SeriesInfo) ([]byte, error)
}

// SyncedSeries is one series reported by a sync source, with the library
// bindings it was found under.
type SyncedSeries struct {
	Info      *info.SeriesInfo
	Libraries []library.Library
}

// SyncSource enumerates the series a connection tracks, subject to the
// sync's library and tag filters.
type SyncSource interface {
	Connector
	AllSeries(ctx context.Context, sync *library.Sync) ([]SyncedSeries, error)
}

// RemoteImage is artwork offered by a metadata provider.
type RemoteImage struct {
	URL         string  `json:"url"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Language    string  `json:"language,omitempty"`
	VoteAverage float64 `json:"voteAverage,omitempty"`
}

// PixelArea is the image's area, used for ranking.
func (ri RemoteImage) PixelArea() int {
	return ri.Width * ri.Height
}

// ImageSource provides artwork and translated titles.
type ImageSource interface {
	Connector
	GetAllSourceImages(ctx context.Context, si *info.SeriesInfo, ei *info.EpisodeInfo) ([]RemoteImage, error)
	GetAllBackdrops(ctx context.Context, si *info.SeriesInfo) ([]RemoteImage, error)
	GetAllLogos(ctx context.Context, si *info.SeriesInfo) ([]RemoteImage, error)
	GetSourceImage(ctx context.Context, si *info.SeriesInfo, ei *info.EpisodeInfo) (*RemoteImage, error)
	GetSeriesBackdrop(ctx context.Context, si *info.SeriesInfo) (*RemoteImage, error)
	GetSeriesLogo(ctx context.Context, si *info.SeriesInfo) (*RemoteImage, error)
	GetEpisodeTitle(ctx context.Context, si *info.SeriesInfo, ei *info.EpisodeInfo, languageCode string) (string, error)
}
