package tasks

import (
	"context"

	"github.com/titlecardmaker/titlecardmaker/internal/cards"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
)

// BuildCards renders missing or stale cards for every monitored series.
// A card is rebuilt only when its recipe fingerprint no longer matches the
// active artifact; unchanged episodes cost one fingerprint comparison.
func (t *Tasks) BuildCards(ctx context.Context) (int, error) {
	series, err := t.monitoredSeries(ctx)
	if err != nil {
		return 0, err
	}

	var st stats
	for _, s := range series {
		if err := ctx.Err(); err != nil {
			return st.retries, err
		}
		st.observe(t.buildSeries(ctx, s))
	}
	return st.result("series")
}

// buildTargets returns the (library, interface) pairs cards are built for.
// A series without library bindings still gets cards under the empty
// library name so local-only setups work.
func buildTargets(series *library.Series) []library.Library {
	if len(series.Libraries) == 0 {
		return []library.Library{{}}
	}
	return series.Libraries
}

func (t *Tasks) buildSeries(ctx context.Context, series *library.Series) error {
	episodes, err := t.library.ListEpisodes(ctx, series.ID)
	if err != nil {
		return err
	}
	episodes = liveEpisodes(episodes)

	built := 0
	for _, target := range buildTargets(series) {
		var interfaceID *int64
		if target.InterfaceID != 0 {
			id := target.InterfaceID
			interfaceID = &id
		}
		watchedKey := target.WatchedKey()

		for _, ep := range episodes {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := t.buildEpisode(ctx, series, ep, target.Name, interfaceID, ep.Watched[watchedKey])
			if err != nil {
				if notFound(err) {
					continue
				}
				return err
			}
			if result == cards.Built {
				built++
				t.metrics.CardsBuilt.Inc()
			}
		}
	}

	if built > 0 {
		t.logger.Info().Str("series", series.Info.FullName()).Int("cards", built).
			Msg("Cards built")
	}
	return nil
}

func (t *Tasks) buildEpisode(ctx context.Context, series *library.Series, ep *library.Episode,
	libraryName string, interfaceID *int64, watched bool) (cards.BuildResult, error) {

	recipe, err := t.resolver.Resolve(ctx, series, ep, watched)
	if err != nil {
		return cards.Unchanged, err
	}
	if recipe.SourceFile == "" {
		path, err := t.fetcher.EnsureEpisodeSource(ctx, series, ep)
		if err != nil {
			return cards.Unchanged, err
		}
		recipe.SourceFile = path
	}

	result, _, err := t.cards.EnsureBuilt(ctx, series, ep, libraryName, interfaceID, recipe)
	return result, err
}
