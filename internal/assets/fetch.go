package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/connection"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
)

// Minimum pixel gate for episode source images pulled from media servers.
// Anything smaller is a thumbnail, not usable source material.
const (
	defaultMinSourceWidth  = 320
	defaultMinSourceHeight = 180
)

var sourceExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// Fetcher produces exactly one local source image per episode and one logo
// and optional backdrop per series, applying the configured selection
// policy.
type Fetcher struct {
	store     *Store
	registry  *connection.Registry
	minWidth  int
	minHeight int
	logger    zerolog.Logger
}

// NewFetcher creates a Fetcher. Zero minimum dimensions select the
// defaults.
func NewFetcher(store *Store, registry *connection.Registry, minWidth, minHeight int, logger zerolog.Logger) *Fetcher {
	if minWidth <= 0 {
		minWidth = defaultMinSourceWidth
	}
	if minHeight <= 0 {
		minHeight = defaultMinSourceHeight
	}
	return &Fetcher{
		store:     store,
		registry:  registry,
		minWidth:  minWidth,
		minHeight: minHeight,
		logger:    logger.With().Str("component", "fetcher").Logger(),
	}
}

// existingSource returns the episode's source file if one is already on
// disk, checking each supported extension.
func (f *Fetcher) existingSource(series *library.Series, episode *library.Episode) (string, bool) {
	for _, ext := range sourceExtensions {
		path := f.store.EpisodeSourcePath(series.Info, episode.Info, ext)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// EnsureEpisodeSource produces the local source image path for an episode.
// Selection order: the episode's manual override, the series' media-server
// libraries in declared order, then the metadata providers' ranked
// candidates. Already-downloaded sources are returned as-is.
func (f *Fetcher) EnsureEpisodeSource(ctx context.Context, series *library.Series, episode *library.Episode) (string, error) {
	if episode.SourceFile != nil && *episode.SourceFile != "" {
		if _, err := os.Stat(*episode.SourceFile); err == nil {
			return *episode.SourceFile, nil
		}
		f.logger.Warn().Str("path", *episode.SourceFile).Int64("episodeId", episode.ID).
			Msg("Manual source override missing on disk, falling back")
	}

	if path, ok := f.existingSource(series, episode); ok {
		return path, nil
	}

	// Media servers hold the episode's actual video thumbnail, preferred
	// over provider stills.
	for _, lib := range series.Libraries {
		server, ok := f.registry.MediaServer(lib.InterfaceID)
		if !ok || !server.Active() {
			continue
		}
		data, err := server.GetSourceImage(ctx, lib.Name, series.Info, episode.Info)
		if err != nil {
			if errors.Is(err, connection.ErrNotFound) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				return "", err
			}
			f.logger.Debug().Err(err).Int64("interfaceId", lib.InterfaceID).
				Msg("Media server source image lookup failed")
			continue
		}
		width, height, err := Dimensions(data)
		if err != nil || width < f.minWidth || height < f.minHeight {
			continue
		}
		path := f.store.EpisodeSourcePath(series.Info, episode.Info, ".jpg")
		if err := f.store.WriteFile(path, data); err != nil {
			return "", err
		}
		return path, nil
	}

	sources := f.registry.ImageSources()
	for _, id := range sources.IDs() {
		source, _ := sources.Get(id)
		if !source.Active() {
			continue
		}
		remote, err := source.GetSourceImage(ctx, series.Info, episode.Info)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return "", err
			}
			continue
		}
		path := f.store.EpisodeSourcePath(series.Info, episode.Info, remoteExtension(remote.URL))
		if err := f.store.Download(ctx, remote.URL, path); err != nil {
			f.logger.Debug().Err(err).Str("url", remote.URL).Msg("Source image download failed")
			continue
		}
		return path, nil
	}

	return "", fmt.Errorf("%w: no source image for %s %s", connection.ErrNotFound,
		series.Info.FullName(), episode.Info.Key())
}

// EnsureSeriesLogo produces the series' local logo path.
func (f *Fetcher) EnsureSeriesLogo(ctx context.Context, series *library.Series) (string, error) {
	path := f.store.LogoPath(series.Info)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	sources := f.registry.ImageSources()
	for _, id := range sources.IDs() {
		source, _ := sources.Get(id)
		if !source.Active() {
			continue
		}
		remote, err := source.GetSeriesLogo(ctx, series.Info)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return "", err
			}
			continue
		}
		if err := f.store.Download(ctx, remote.URL, path); err != nil {
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("%w: no logo for %s", connection.ErrNotFound, series.Info.FullName())
}

// EnsureSeriesBackdrop produces the series' local backdrop path.
func (f *Fetcher) EnsureSeriesBackdrop(ctx context.Context, series *library.Series) (string, error) {
	path := f.store.BackdropPath(series.Info)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	sources := f.registry.ImageSources()
	for _, id := range sources.IDs() {
		source, _ := sources.Get(id)
		if !source.Active() {
			continue
		}
		remote, err := source.GetSeriesBackdrop(ctx, series.Info)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return "", err
			}
			continue
		}
		if err := f.store.Download(ctx, remote.URL, path); err != nil {
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("%w: no backdrop for %s", connection.ErrNotFound, series.Info.FullName())
}

// remoteExtension picks a file extension from a remote URL, defaulting to
// .jpg.
func remoteExtension(url string) string {
	ext := filepath.Ext(url)
	for _, known := range sourceExtensions {
		if ext == known {
			return ext
		}
	}
	return ".jpg"
}
