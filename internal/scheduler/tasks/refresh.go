package tasks

import (
	"context"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

// RefreshEpisodes pulls episode metadata for every monitored series from
// all active episode sources, upserts the union and advances the
// missing-sync counters of episodes no source reported.
func (t *Tasks) RefreshEpisodes(ctx context.Context) (int, error) {
	series, err := t.monitoredSeries(ctx)
	if err != nil {
		return 0, err
	}

	var st stats
	for _, s := range series {
		if err := ctx.Err(); err != nil {
			return st.retries, err
		}
		st.observe(t.refreshSeries(ctx, s))
	}
	return st.result("series")
}

func (t *Tasks) refreshSeries(ctx context.Context, series *library.Series) error {
	sources := t.registry.EpisodeSources()
	seen := make(map[int64]bool)
	answered := 0
	var firstErr error

	for _, id := range sources.IDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, _ := sources.Get(id)
		if !src.Active() {
			continue
		}
		libName := libraryFor(series, id)

		entries, err := src.GetAllEpisodes(ctx, libName, series.Info)
		if err != nil {
			if notFound(err) {
				continue
			}
			t.logger.Warn().Err(err).Int64("interfaceId", id).
				Str("series", series.Info.FullName()).Msg("Episode source failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		answered++

		for _, entry := range entries {
			ep, _, err := t.library.UpsertEpisode(ctx, &library.Episode{
				SeriesID: series.ID,
				Info:     entry.Info,
			})
			if err != nil {
				return err
			}
			seen[ep.ID] = true
			if entry.Watched != nil && libName != "" {
				if _, err := t.library.SetWatched(ctx, ep, info.WatchedStatus{
					InterfaceID: id,
					Library:     libName,
					Watched:     *entry.Watched,
				}); err != nil {
					return err
				}
			}
		}
	}

	if answered == 0 {
		// No source answered; do not advance missing counters on outage.
		return firstErr
	}

	deleted, err := t.library.MarkEpisodesMissing(ctx, series.ID, seen,
		t.cfg.Episodes.DeleteAfterMissingSyncs)
	if err != nil {
		return err
	}
	t.logger.Debug().Str("series", series.Info.FullName()).Int("episodes", len(seen)).
		Int("deleted", deleted).Msg("Episodes refreshed")
	return nil
}

// SetIDs backfills source identifiers on series and episodes from every
// active episode source, so later lookups can use the most specific key.
func (t *Tasks) SetIDs(ctx context.Context) (int, error) {
	series, err := t.monitoredSeries(ctx)
	if err != nil {
		return 0, err
	}

	var st stats
	for _, s := range series {
		if err := ctx.Err(); err != nil {
			return st.retries, err
		}
		st.observe(t.setSeriesIDs(ctx, s))
	}
	return st.result("series")
}

func (t *Tasks) setSeriesIDs(ctx context.Context, series *library.Series) error {
	sources := t.registry.EpisodeSources()

	episodes, err := t.library.ListEpisodes(ctx, series.ID)
	if err != nil {
		return err
	}
	episodes = liveEpisodes(episodes)
	infos := make([]*info.EpisodeInfo, len(episodes))
	for i, ep := range episodes {
		infos[i] = ep.Info
	}

	var firstErr error
	for _, id := range sources.IDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, _ := sources.Get(id)
		if !src.Active() {
			continue
		}
		libName := libraryFor(series, id)

		if err := src.SetSeriesIDs(ctx, libName, series.Info); err != nil && !notFound(err) {
			t.logger.Debug().Err(err).Int64("interfaceId", id).
				Str("series", series.Info.FullName()).Msg("Series ID backfill failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(infos) == 0 {
			continue
		}
		if err := src.SetEpisodeIDs(ctx, libName, series.Info, infos); err != nil && !notFound(err) {
			t.logger.Debug().Err(err).Int64("interfaceId", id).
				Str("series", series.Info.FullName()).Msg("Episode ID backfill failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := t.library.UpdateSeries(ctx, series); err != nil {
		return err
	}
	for _, ep := range episodes {
		if err := t.library.UpdateEpisode(ctx, ep); err != nil {
			return err
		}
	}
	return firstErr
}
