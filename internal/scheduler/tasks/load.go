package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/titlecardmaker/titlecardmaker/internal/cards"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
)

// LoadCards pushes built cards and series artwork to every media-server
// library a monitored series is bound to. Already-loaded assets whose
// fingerprints still match are skipped.
func (t *Tasks) LoadCards(ctx context.Context) (int, error) {
	series, err := t.monitoredSeries(ctx)
	if err != nil {
		return 0, err
	}

	var st stats
	for _, s := range series {
		if err := ctx.Err(); err != nil {
			return st.retries, err
		}
		st.observe(t.loadSeries(ctx, s))
	}
	return st.result("series")
}

func (t *Tasks) loadSeries(ctx context.Context, series *library.Series) error {
	for _, lib := range series.Libraries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := t.registry.MediaServer(lib.InterfaceID); !ok {
			continue
		}

		n, err := t.uploader.LoadTitleCards(ctx, lib.InterfaceID, lib.Name, series)
		if err != nil {
			return err
		}
		t.metrics.CardsUploaded.Add(float64(n))
		if n > 0 {
			t.logger.Info().Str("series", series.Info.FullName()).Str("library", lib.Name).
				Int("cards", n).Msg("Cards loaded")
		}

		if err := t.loadBackdrop(ctx, series, lib); err != nil {
			t.logger.Warn().Err(err).Str("series", series.Info.FullName()).
				Str("library", lib.Name).Msg("Failed to load series backdrop")
		}
	}
	return nil
}

// loadBackdrop pushes the fetched series backdrop when one is on disk.
func (t *Tasks) loadBackdrop(ctx context.Context, series *library.Series, lib library.Library) error {
	path := t.store.BackdropPath(series.Info)
	fp, err := fileFingerprint(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return t.uploader.LoadSeriesBackdrop(ctx, lib.InterfaceID, lib.Name, series, path, fp)
}

func fileFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WatchedSync pulls watched flags from every bound media-server library
// and rebuilds cards whose style flipped with the flag. The rebuilt card
// is picked up by the next LoadCards run.
func (t *Tasks) WatchedSync(ctx context.Context) (int, error) {
	series, err := t.monitoredSeries(ctx)
	if err != nil {
		return 0, err
	}

	var st stats
	for _, s := range series {
		if err := ctx.Err(); err != nil {
			return st.retries, err
		}
		st.observe(t.syncSeriesWatched(ctx, s))
	}
	return st.result("series")
}

func (t *Tasks) syncSeriesWatched(ctx context.Context, series *library.Series) error {
	for _, lib := range series.Libraries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := t.registry.MediaServer(lib.InterfaceID); !ok {
			continue
		}

		changed, err := t.uploader.SyncWatched(ctx, lib.InterfaceID, lib.Name, series)
		if err != nil {
			if notFound(err) {
				continue
			}
			return err
		}

		id := lib.InterfaceID
		watchedKey := lib.WatchedKey()
		for _, ep := range changed {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := t.buildEpisode(ctx, series, ep, lib.Name, &id, ep.Watched[watchedKey])
			if err != nil {
				if notFound(err) {
					continue
				}
				return err
			}
			if result == cards.Built {
				t.metrics.CardsBuilt.Inc()
				t.logger.Debug().Str("series", series.Info.FullName()).
					Str("episode", ep.Info.Key()).Str("library", lib.Name).
					Msg("Card rebuilt after watched-state change")
			}
		}
	}
	return nil
}
