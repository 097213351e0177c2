package tasks

import (
	"context"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/resolver"
)

// Translate fetches missing title translations for every monitored series,
// driven by the translation requests in each episode's resolved options.
func (t *Tasks) Translate(ctx context.Context) (int, error) {
	series, err := t.monitoredSeries(ctx)
	if err != nil {
		return 0, err
	}

	var st stats
	for _, s := range series {
		if err := ctx.Err(); err != nil {
			return st.retries, err
		}
		st.observe(t.translateSeries(ctx, s))
	}
	return st.result("series")
}

func (t *Tasks) translateSeries(ctx context.Context, series *library.Series) error {
	episodes, err := t.library.ListEpisodes(ctx, series.ID)
	if err != nil {
		return err
	}

	translated := 0
	for _, ep := range liveEpisodes(episodes) {
		if err := ctx.Err(); err != nil {
			return err
		}
		recipe, err := t.resolver.Resolve(ctx, series, ep, false)
		if err != nil {
			return err
		}
		requests := resolver.TranslationRequests(recipe.Options)
		if len(requests) == 0 {
			continue
		}
		changed, err := t.translator.TranslateEpisode(ctx, series, ep, requests)
		if err != nil {
			return err
		}
		if changed {
			translated++
		}
	}

	if translated > 0 {
		t.logger.Info().Str("series", series.Info.FullName()).Int("episodes", translated).
			Msg("Translations updated")
	}
	return nil
}
