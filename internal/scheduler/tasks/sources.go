package tasks

import (
	"context"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
)

// FetchSources downloads missing source images, logos and backdrops for
// every monitored series. Episodes whose sources no provider has are
// skipped and retried on the next run.
func (t *Tasks) FetchSources(ctx context.Context) (int, error) {
	series, err := t.monitoredSeries(ctx)
	if err != nil {
		return 0, err
	}

	var st stats
	for _, s := range series {
		if err := ctx.Err(); err != nil {
			return st.retries, err
		}
		st.observe(t.fetchSeriesSources(ctx, s))
	}
	return st.result("series")
}

func (t *Tasks) fetchSeriesSources(ctx context.Context, series *library.Series) error {
	if _, err := t.fetcher.EnsureSeriesLogo(ctx, series); err != nil && !notFound(err) {
		t.logger.Warn().Err(err).Str("series", series.Info.FullName()).
			Msg("Failed to fetch series logo")
	}
	if _, err := t.fetcher.EnsureSeriesBackdrop(ctx, series); err != nil && !notFound(err) {
		t.logger.Warn().Err(err).Str("series", series.Info.FullName()).
			Msg("Failed to fetch series backdrop")
	}

	episodes, err := t.library.ListEpisodes(ctx, series.ID)
	if err != nil {
		return err
	}

	missing := 0
	for _, ep := range liveEpisodes(episodes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := t.fetcher.EnsureEpisodeSource(ctx, series, ep)
		if err != nil {
			if notFound(err) {
				missing++
				continue
			}
			return err
		}
		if ep.SourceFile == nil || *ep.SourceFile != path {
			ep.SourceFile = &path
			if err := t.library.UpdateEpisode(ctx, ep); err != nil {
				return err
			}
		}
	}

	if missing > 0 {
		t.logger.Debug().Str("series", series.Info.FullName()).Int("missing", missing).
			Msg("Episodes without an available source image")
	}
	return nil
}
