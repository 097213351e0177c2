// Package uploader pushes built cards and series artwork into media
// servers and reconciles watched state back from them.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/assets"
	"github.com/titlecardmaker/titlecardmaker/internal/connection"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

// filesizeLimiter is implemented by connectors with a configured upload
// size limit.
type filesizeLimiter interface {
	FilesizeLimit() *int64
}

// Uploader computes which artifacts a server is missing or holding stale
// and pushes them, recording each acceptance.
type Uploader struct {
	library  *library.Service
	registry *connection.Registry
	logger   zerolog.Logger
}

// New creates an Uploader.
func New(svc *library.Service, registry *connection.Registry, logger zerolog.Logger) *Uploader {
	return &Uploader{
		library:  svc,
		registry: registry,
		logger:   logger.With().Str("component", "uploader").Logger(),
	}
}

// prepare reads and, when the server imposes a limit, compresses an
// artifact. A nil return with nil error means the upload must be skipped.
func (u *Uploader) prepare(path string, limit *int64) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	if limit == nil {
		return data, nil
	}
	compressed, err := assets.CompressToLimit(data, *limit)
	if err != nil {
		if errors.Is(err, assets.ErrResourceExceeded) {
			u.logger.Warn().Str("path", path).Int64("limit", *limit).
				Msg("Artifact exceeds filesize limit even at lowest quality, skipping")
			return nil, nil
		}
		return nil, err
	}
	return compressed, nil
}

// LoadTitleCards uploads every changed card of a series into one server
// library. A card counts as changed when its fingerprint or size differs
// from the server's last recorded acceptance. Episode order is preserved
// so a late failure cannot hide earlier successes. Returns the number of
// cards the server accepted.
func (u *Uploader) LoadTitleCards(ctx context.Context, interfaceID int64, libraryName string, series *library.Series) (int, error) {
	server, ok := u.registry.MediaServer(interfaceID)
	if !ok {
		return 0, fmt.Errorf("connection %d is not a media server", interfaceID)
	}
	if !server.Active() {
		return 0, connection.ErrInactive
	}
	var limit *int64
	if fl, ok := server.(filesizeLimiter); ok {
		limit = fl.FilesizeLimit()
	}

	cards, err := u.library.ListActiveCardsBySeries(ctx, series.ID)
	if err != nil {
		return 0, err
	}
	episodes, err := u.library.ListEpisodes(ctx, series.ID)
	if err != nil {
		return 0, err
	}
	episodeByID := make(map[int64]*library.Episode, len(episodes))
	for _, ep := range episodes {
		episodeByID[ep.ID] = ep
	}

	loadedCount := 0
	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return loadedCount, err
		}
		if card.LibraryName != libraryName {
			continue
		}
		episode := episodeByID[card.EpisodeID]
		if episode == nil {
			continue
		}

		key := library.LoadedKey{
			InterfaceID: interfaceID,
			LibraryName: libraryName,
			SeriesID:    series.ID,
			EpisodeID:   &card.EpisodeID,
			AssetType:   library.AssetCard,
		}
		loaded, err := u.library.GetLoaded(ctx, key)
		if err != nil {
			return loadedCount, err
		}
		if loaded != nil && loaded.Fingerprint == card.Fingerprint && loaded.FileSize == card.FileSize {
			continue
		}

		data, err := u.prepare(card.FilePath, limit)
		if err != nil {
			return loadedCount, err
		}
		if data == nil {
			continue
		}

		accepted, err := server.LoadTitleCards(ctx, libraryName, series.Info,
			[]connection.CardUpload{{Episode: episode.Info, Image: data}})
		if err != nil {
			return loadedCount, err
		}
		if accepted == 0 {
			continue
		}
		if err := u.library.RecordLoaded(ctx, key, int64(len(data)), card.Fingerprint); err != nil {
			return loadedCount, err
		}
		loadedCount++
	}
	return loadedCount, nil
}

// LoadSeriesPoster uploads a series poster when the server has not
// accepted this exact file yet.
func (u *Uploader) LoadSeriesPoster(ctx context.Context, interfaceID int64, libraryName string, series *library.Series, path, fingerprint string) error {
	return u.loadSeriesAsset(ctx, interfaceID, libraryName, series, path, fingerprint,
		library.AssetPoster, nil)
}

// LoadSeriesBackdrop uploads a series backdrop when the server has not
// accepted this exact file yet.
func (u *Uploader) LoadSeriesBackdrop(ctx context.Context, interfaceID int64, libraryName string, series *library.Series, path, fingerprint string) error {
	return u.loadSeriesAsset(ctx, interfaceID, libraryName, series, path, fingerprint,
		library.AssetBackdrop, nil)
}

// LoadSeasonPoster uploads one season's poster. Connectors without season
// poster support return ErrNotImplemented, which is surfaced unchanged.
func (u *Uploader) LoadSeasonPoster(ctx context.Context, interfaceID int64, libraryName string, series *library.Series, season int, path, fingerprint string) error {
	return u.loadSeriesAsset(ctx, interfaceID, libraryName, series, path, fingerprint,
		library.AssetSeasonPoster, &season)
}

func (u *Uploader) loadSeriesAsset(ctx context.Context, interfaceID int64, libraryName string, series *library.Series, path, fingerprint string, assetType library.AssetType, season *int) error {
	server, ok := u.registry.MediaServer(interfaceID)
	if !ok {
		return fmt.Errorf("connection %d is not a media server", interfaceID)
	}
	if !server.Active() {
		return connection.ErrInactive
	}
	var limit *int64
	if fl, ok := server.(filesizeLimiter); ok {
		limit = fl.FilesizeLimit()
	}

	key := library.LoadedKey{
		InterfaceID:  interfaceID,
		LibraryName:  libraryName,
		SeriesID:     series.ID,
		AssetType:    assetType,
		SeasonNumber: season,
	}
	loaded, err := u.library.GetLoaded(ctx, key)
	if err != nil {
		return err
	}
	if loaded != nil && loaded.Fingerprint == fingerprint {
		return nil
	}

	data, err := u.prepare(path, limit)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	switch assetType {
	case library.AssetPoster:
		err = server.LoadSeriesPoster(ctx, libraryName, series.Info, data)
	case library.AssetBackdrop:
		err = server.LoadSeriesBackground(ctx, libraryName, series.Info, data)
	case library.AssetSeasonPoster:
		err = server.LoadSeasonPoster(ctx, libraryName, series.Info, *season, data)
	default:
		err = fmt.Errorf("unsupported asset type %q", assetType)
	}
	if err != nil {
		return err
	}
	return u.library.RecordLoaded(ctx, key, int64(len(data)), fingerprint)
}

// SyncWatched pulls watched state for a series from one server library and
// merges it into each episode's per-library map. Returns the episodes
// whose flag changed; their cards may need re-resolution.
func (u *Uploader) SyncWatched(ctx context.Context, interfaceID int64, libraryName string, series *library.Series) ([]*library.Episode, error) {
	server, ok := u.registry.MediaServer(interfaceID)
	if !ok {
		return nil, fmt.Errorf("connection %d is not a media server", interfaceID)
	}
	if !server.Active() {
		return nil, connection.ErrInactive
	}

	episodes, err := u.library.ListEpisodes(ctx, series.ID)
	if err != nil {
		return nil, err
	}
	entries, err := server.GetAllEpisodes(ctx, libraryName, series.Info)
	if err != nil {
		return nil, err
	}

	var changed []*library.Episode
	for _, ep := range episodes {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		for _, entry := range entries {
			if entry.Watched == nil || !ep.Info.Matches(entry.Info, false) {
				continue
			}
			flipped, err := u.library.SetWatched(ctx, ep, info.WatchedStatus{
				InterfaceID: interfaceID,
				Library:     libraryName,
				Watched:     *entry.Watched,
			})
			if err != nil {
				return changed, err
			}
			if flipped {
				changed = append(changed, ep)
			}
			break
		}
	}
	return changed, nil
}
