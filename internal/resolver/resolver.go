package resolver

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
)

// DefaultCardType is used when no layer names a card type.
const DefaultCardType = "standard"

// DefaultStyle is the spoiler-handling style applied when no layer sets
// one: the episode's own source image, unaltered.
const DefaultStyle = "unique"

// Resolver composes recipes from the configured layers.
type Resolver struct {
	library *library.Service
	global  Layer
	logger  zerolog.Logger
}

// New creates a Resolver. The global layer holds instance-wide defaults
// and sits below every template, series and episode override.
func New(svc *library.Service, global Layer, logger zerolog.Logger) *Resolver {
	return &Resolver{
		library: svc,
		global:  global,
		logger:  logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve materializes the recipe for one episode of a series. watched is
// the episode's flag within the target library; it selects the style and
// is visible to template filters.
func (r *Resolver) Resolve(ctx context.Context, series *library.Series, episode *library.Episode, watched bool) (*Recipe, error) {
	var m merged
	m.apply(r.global)

	fc := FilterContext{
		SeriesName:     series.Info.Name,
		SeriesYear:     series.Info.Year,
		SeasonNumber:   episode.Info.SeasonNumber,
		EpisodeNumber:  episode.Info.EpisodeNumber,
		AbsoluteNumber: episode.Info.AbsoluteNumber,
		Title:          episode.Info.Title,
		Airdate:        episode.Info.Airdate,
		Watched:        watched,
	}

	// Episode-level template lists supersede the series' list entirely.
	templateIDs := series.TemplateIDs
	if len(episode.TemplateIDs) > 0 {
		templateIDs = episode.TemplateIDs
	}
	if len(templateIDs) > 0 {
		templates, err := r.library.GetTemplates(ctx, templateIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load templates: %w", err)
		}
		for _, t := range templates {
			if !FiltersMatch(t.Filters, fc) {
				continue
			}
			m.apply(layerFromTemplate(t))
		}
	}

	m.apply(layerFromSeries(series))
	m.apply(layerFromEpisode(episode))

	recipe := &Recipe{
		CardType:      m.cardType,
		SeriesName:    series.Info.Name,
		SeriesYear:    series.Info.Year,
		Title:         episode.Info.Title,
		SeasonNumber:  episode.Info.SeasonNumber,
		EpisodeNumber: episode.Info.EpisodeNumber,
		SeasonTitles:  m.seasonTitles,
		Options:       m.options,
		Extras:        m.extras,
	}
	if recipe.CardType == "" {
		recipe.CardType = DefaultCardType
	}
	if len(episode.Translations) > 0 {
		recipe.Translations = episode.Translations
	}

	style := m.unwatchedStyle
	if watched {
		style = m.watchedStyle
	}
	if style == "" {
		style = DefaultStyle
	}
	recipe.Style = style
	recipe.Blur, recipe.Grayscale = styleFlags(style)

	if m.fontID != nil {
		font, err := r.library.GetFont(ctx, *m.fontID)
		if err != nil {
			return nil, fmt.Errorf("failed to load font %d: %w", *m.fontID, err)
		}
		recipe.Font = font
	}

	if episode.SourceFile != nil {
		recipe.SourceFile = *episode.SourceFile
	}
	if sf, ok := m.options["source_file"].(string); ok && recipe.SourceFile == "" {
		recipe.SourceFile = sf
	}
	if lf, ok := m.options["logo_file"].(string); ok {
		recipe.LogoFile = lf
	}

	return recipe, nil
}
