// Package blueprint exports and imports a series' complete configuration
// bundle: the series recipe, per-episode overrides, and the transitively
// referenced templates and fonts, with cross-references expressed as array
// indices into the document itself.
package blueprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/assets"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

// ErrInvalidDocument means a blueprint failed dry-run validation.
var ErrInvalidDocument = errors.New("invalid blueprint document")

// SeriesRecipe is the series-level portion of a blueprint. FontID and
// TemplateIDs are indices into the document's fonts and templates arrays.
type SeriesRecipe struct {
	Name           string            `json:"name"`
	Year           int               `json:"year"`
	CardType       *string           `json:"card_type,omitempty"`
	WatchedStyle   *string           `json:"watched_style,omitempty"`
	UnwatchedStyle *string           `json:"unwatched_style,omitempty"`
	SeasonTitles   map[string]string `json:"season_titles,omitempty"`
	Options        map[string]any    `json:"options,omitempty"`
	FontID         *int              `json:"font_id,omitempty"`
	TemplateIDs    []int             `json:"template_ids,omitempty"`
}

// EpisodeRecipe is one episode's overrides, keyed by "s<season>e<episode>"
// in the document.
type EpisodeRecipe struct {
	Options     map[string]any `json:"options,omitempty"`
	FontID      *int           `json:"font_id,omitempty"`
	TemplateIDs []int          `json:"template_ids,omitempty"`
}

// TemplateRecipe is one exported template. FontID indexes the document's
// fonts array.
type TemplateRecipe struct {
	Name     string           `json:"name"`
	Filters  []library.Filter `json:"filters,omitempty"`
	CardType *string          `json:"card_type,omitempty"`
	Options  map[string]any   `json:"options,omitempty"`
	FontID   *int             `json:"font_id,omitempty"`
}

// FontRecipe is one exported font. File is the original filename, or null
// for nameless fonts; FileURL, when present, is where the import can
// download the file from.
type FontRecipe struct {
	Name             string            `json:"name"`
	File             *string           `json:"file"`
	FileURL          *string           `json:"file_url,omitempty"`
	Color            *string           `json:"color,omitempty"`
	Size             float64           `json:"size,omitempty"`
	Kerning          float64           `json:"kerning,omitempty"`
	StrokeWidth      float64           `json:"stroke_width,omitempty"`
	InterlineSpacing int               `json:"interline_spacing,omitempty"`
	InterwordSpacing int               `json:"interword_spacing,omitempty"`
	VerticalShift    int               `json:"vertical_shift,omitempty"`
	TitleCase        *string           `json:"title_case,omitempty"`
	Replacements     map[string]string `json:"replacements,omitempty"`
	DeleteMissing    bool              `json:"delete_missing,omitempty"`
}

// Document is a complete blueprint.
type Document struct {
	Series    SeriesRecipe             `json:"series"`
	Episodes  map[string]EpisodeRecipe `json:"episodes,omitempty"`
	Templates []TemplateRecipe         `json:"templates,omitempty"`
	Fonts     []FontRecipe             `json:"fonts,omitempty"`
}

// Port exports and imports blueprints.
type Port struct {
	library *library.Service
	store   *assets.Store
	logger  zerolog.Logger
}

// New creates a blueprint Port.
func New(svc *library.Service, store *assets.Store, logger zerolog.Logger) *Port {
	return &Port{
		library: svc,
		store:   store,
		logger:  logger.With().Str("component", "blueprint").Logger(),
	}
}

// Export walks a series and its episodes and emits the blueprint document.
// includeEpisodes controls whether per-episode overrides are bundled.
func (p *Port) Export(ctx context.Context, seriesID int64, includeEpisodes bool) (*Document, error) {
	series, err := p.library.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	var episodes []*library.Episode
	if includeEpisodes {
		if episodes, err = p.library.ListEpisodes(ctx, seriesID); err != nil {
			return nil, err
		}
	}

	// Collect referenced template and font ids in first-seen order so the
	// emitted indices are stable.
	templateIndex := newIndexer()
	fontIndex := newIndexer()
	for _, id := range series.TemplateIDs {
		templateIndex.add(id)
	}
	if series.FontID != nil {
		fontIndex.add(*series.FontID)
	}
	for _, ep := range episodes {
		for _, id := range ep.TemplateIDs {
			templateIndex.add(id)
		}
		if ep.FontID != nil {
			fontIndex.add(*ep.FontID)
		}
	}

	templates := make([]*library.Template, 0, len(templateIndex.order))
	for _, id := range templateIndex.order {
		t, err := p.library.GetTemplate(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.FontID != nil {
			fontIndex.add(*t.FontID)
		}
		templates = append(templates, t)
	}

	doc := &Document{
		Series: SeriesRecipe{
			Name:           series.Info.Name,
			Year:           series.Info.Year,
			CardType:       series.CardType,
			WatchedStyle:   series.WatchedStyle,
			UnwatchedStyle: series.UnwatchedStyle,
			SeasonTitles:   series.SeasonTitles,
			Options:        series.Options,
			FontID:         fontIndex.ref(series.FontID),
			TemplateIDs:    templateIndex.refs(series.TemplateIDs),
		},
	}

	for _, t := range templates {
		doc.Templates = append(doc.Templates, TemplateRecipe{
			Name:     t.Name,
			Filters:  t.Filters,
			CardType: t.CardType,
			Options:  t.Options,
			FontID:   fontIndex.ref(t.FontID),
		})
	}

	for _, id := range fontIndex.order {
		font, err := p.library.GetFont(ctx, id)
		if err != nil {
			return nil, err
		}
		recipe := FontRecipe{
			Name:             font.Name,
			Color:            font.Color,
			Size:             font.Size,
			Kerning:          font.Kerning,
			StrokeWidth:      font.StrokeWidth,
			InterlineSpacing: font.InterlineSpacing,
			InterwordSpacing: font.InterwordSpacing,
			VerticalShift:    font.VerticalShift,
			TitleCase:        font.TitleCase,
			Replacements:     font.Replacements,
			DeleteMissing:    font.DeleteMissing,
		}
		if font.FilePath != nil {
			name := baseName(*font.FilePath)
			recipe.File = &name
		}
		doc.Fonts = append(doc.Fonts, recipe)
	}

	for _, ep := range episodes {
		if len(ep.Options) == 0 && ep.FontID == nil && len(ep.TemplateIDs) == 0 {
			continue
		}
		if doc.Episodes == nil {
			doc.Episodes = make(map[string]EpisodeRecipe)
		}
		doc.Episodes[ep.Info.Key()] = EpisodeRecipe{
			Options:     ep.Options,
			FontID:      fontIndex.ref(ep.FontID),
			TemplateIDs: templateIndex.refs(ep.TemplateIDs),
		}
	}

	return doc, nil
}

// ExportJSON exports a series and persists the document.
func (p *Port) ExportJSON(ctx context.Context, seriesID int64, includeEpisodes bool) ([]byte, error) {
	doc, err := p.Export(ctx, seriesID, includeEpisodes)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal blueprint: %w", err)
	}
	if _, err := p.library.SaveBlueprint(ctx, seriesID, data); err != nil {
		return nil, err
	}
	return data, nil
}

// validate dry-runs the document's internal consistency before any entity
// is created.
func validate(doc *Document) error {
	if doc.Series.Name == "" {
		return fmt.Errorf("%w: series name is required", ErrInvalidDocument)
	}
	checkFont := func(ref *int, where string) error {
		if ref != nil && (*ref < 0 || *ref >= len(doc.Fonts)) {
			return fmt.Errorf("%w: %s font index %d out of range", ErrInvalidDocument, where, *ref)
		}
		return nil
	}
	checkTemplates := func(refs []int, where string) error {
		for _, ref := range refs {
			if ref < 0 || ref >= len(doc.Templates) {
				return fmt.Errorf("%w: %s template index %d out of range", ErrInvalidDocument, where, ref)
			}
		}
		return nil
	}

	if err := checkFont(doc.Series.FontID, "series"); err != nil {
		return err
	}
	if err := checkTemplates(doc.Series.TemplateIDs, "series"); err != nil {
		return err
	}
	for i, t := range doc.Templates {
		if t.Name == "" {
			return fmt.Errorf("%w: template %d has no name", ErrInvalidDocument, i)
		}
		if err := checkFont(t.FontID, fmt.Sprintf("template %d", i)); err != nil {
			return err
		}
	}
	for i, f := range doc.Fonts {
		if f.Name == "" {
			return fmt.Errorf("%w: font %d has no name", ErrInvalidDocument, i)
		}
	}
	for key, ep := range doc.Episodes {
		if err := checkFont(ep.FontID, "episode "+key); err != nil {
			return err
		}
		if err := checkTemplates(ep.TemplateIDs, "episode "+key); err != nil {
			return err
		}
	}
	return nil
}

// Import applies a blueprint to the store. Fonts and templates are created
// first and their document indices rehydrated to real ids; the series is
// then updated field by field. Episode overrides match existing episodes
// by key; unknown keys are skipped. A failure removes every font and
// template this import created.
func (p *Port) Import(ctx context.Context, doc *Document) (*library.Series, error) {
	if err := validate(doc); err != nil {
		return nil, err
	}

	var createdFonts []int64
	var createdTemplates []int64
	rollback := func() {
		for _, id := range createdTemplates {
			if err := p.library.DeleteTemplate(ctx, id, true); err != nil {
				p.logger.Warn().Err(err).Int64("templateId", id).Msg("Rollback failed for template")
			}
		}
		for _, id := range createdFonts {
			if err := p.library.DeleteFont(ctx, id, true); err != nil {
				p.logger.Warn().Err(err).Int64("fontId", id).Msg("Rollback failed for font")
			}
		}
	}

	fontIDs := make([]int64, len(doc.Fonts))
	for i, recipe := range doc.Fonts {
		font, err := p.importFont(ctx, recipe)
		if err != nil {
			rollback()
			return nil, err
		}
		fontIDs[i] = font.ID
		createdFonts = append(createdFonts, font.ID)
	}

	templateIDs := make([]int64, len(doc.Templates))
	for i, recipe := range doc.Templates {
		t := &library.Template{
			Name:     recipe.Name,
			Filters:  recipe.Filters,
			CardType: recipe.CardType,
			Options:  recipe.Options,
		}
		if recipe.FontID != nil {
			t.FontID = &fontIDs[*recipe.FontID]
		}
		created, err := p.library.CreateTemplate(ctx, t)
		if err != nil {
			rollback()
			return nil, err
		}
		templateIDs[i] = created.ID
		createdTemplates = append(createdTemplates, created.ID)
	}

	series, err := p.applySeries(ctx, doc, fontIDs, templateIDs)
	if err != nil {
		rollback()
		return nil, err
	}

	if err := p.applyEpisodes(ctx, series, doc, fontIDs, templateIDs); err != nil {
		rollback()
		return nil, err
	}
	return series, nil
}

// importFont creates a font and downloads its bundled file into the font
// asset directory.
func (p *Port) importFont(ctx context.Context, recipe FontRecipe) (*library.Font, error) {
	font, err := p.library.CreateFont(ctx, &library.Font{
		Name:             recipe.Name,
		Color:            recipe.Color,
		Size:             recipe.Size,
		Kerning:          recipe.Kerning,
		StrokeWidth:      recipe.StrokeWidth,
		InterlineSpacing: recipe.InterlineSpacing,
		InterwordSpacing: recipe.InterwordSpacing,
		VerticalShift:    recipe.VerticalShift,
		TitleCase:        recipe.TitleCase,
		Replacements:     recipe.Replacements,
		DeleteMissing:    recipe.DeleteMissing,
	})
	if err != nil {
		return nil, err
	}

	if recipe.File != nil && recipe.FileURL != nil {
		path := p.store.FontPath(font.ID, *recipe.File)
		if err := p.store.Download(ctx, *recipe.FileURL, path); err != nil {
			p.discardFont(ctx, font.ID)
			return nil, fmt.Errorf("failed to download font file for %s: %w", recipe.Name, err)
		}
		font.FilePath = &path
		if err := p.library.UpdateFont(ctx, font); err != nil {
			p.discardFont(ctx, font.ID)
			return nil, err
		}
	}
	return font, nil
}

// discardFont removes a font created by a failed import step.
func (p *Port) discardFont(ctx context.Context, id int64) {
	if err := p.library.DeleteFont(ctx, id, true); err != nil {
		p.logger.Warn().Err(err).Int64("fontId", id).Msg("Rollback failed for font")
	}
}

func (p *Port) applySeries(ctx context.Context, doc *Document, fontIDs, templateIDs []int64) (*library.Series, error) {
	target := &library.Series{
		Monitored:      true,
		CardType:       doc.Series.CardType,
		WatchedStyle:   doc.Series.WatchedStyle,
		UnwatchedStyle: doc.Series.UnwatchedStyle,
		SeasonTitles:   doc.Series.SeasonTitles,
		Options:        doc.Series.Options,
	}
	if doc.Series.FontID != nil {
		target.FontID = &fontIDs[*doc.Series.FontID]
	}
	for _, ref := range doc.Series.TemplateIDs {
		target.TemplateIDs = append(target.TemplateIDs, templateIDs[ref])
	}

	target.Info = info.NewSeriesInfo(doc.Series.Name, doc.Series.Year)
	existing, err := p.library.FindSeries(ctx, target.Info)
	if err != nil && !errors.Is(err, library.ErrSeriesNotFound) {
		return nil, err
	}
	if existing == nil {
		created, err := p.library.CreateSeries(ctx, target)
		if err != nil {
			return nil, err
		}
		p.logger.Info().Str("series", created.Info.FullName()).Msg("Blueprint created series")
		return created, nil
	}

	// Field-by-field update with change logging.
	logChange := func(field string) {
		p.logger.Info().Str("series", existing.Info.FullName()).Str("field", field).
			Msg("Blueprint updated series field")
	}
	if target.CardType != nil {
		existing.CardType = target.CardType
		logChange("card_type")
	}
	if target.FontID != nil {
		existing.FontID = target.FontID
		logChange("font_id")
	}
	if target.WatchedStyle != nil {
		existing.WatchedStyle = target.WatchedStyle
		logChange("watched_style")
	}
	if target.UnwatchedStyle != nil {
		existing.UnwatchedStyle = target.UnwatchedStyle
		logChange("unwatched_style")
	}
	if len(target.SeasonTitles) > 0 {
		existing.SeasonTitles = target.SeasonTitles
		logChange("season_titles")
	}
	if len(target.Options) > 0 {
		if existing.Options == nil {
			existing.Options = make(map[string]any)
		}
		for k, v := range target.Options {
			existing.Options[k] = v
		}
		logChange("options")
	}
	if len(target.TemplateIDs) > 0 {
		existing.TemplateIDs = target.TemplateIDs
		logChange("template_ids")
	}
	if err := p.library.UpdateSeries(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (p *Port) applyEpisodes(ctx context.Context, series *library.Series, doc *Document, fontIDs, templateIDs []int64) error {
	if len(doc.Episodes) == 0 {
		return nil
	}
	episodes, err := p.library.ListEpisodes(ctx, series.ID)
	if err != nil {
		return err
	}
	byKey := make(map[string]*library.Episode, len(episodes))
	for _, ep := range episodes {
		byKey[ep.Info.Key()] = ep
	}

	for key, recipe := range doc.Episodes {
		ep, ok := byKey[key]
		if !ok {
			p.logger.Debug().Str("episode", key).Msg("Blueprint episode not present, skipping")
			continue
		}
		if recipe.FontID != nil {
			ep.FontID = &fontIDs[*recipe.FontID]
		}
		for _, ref := range recipe.TemplateIDs {
			ep.TemplateIDs = append(ep.TemplateIDs, templateIDs[ref])
		}
		if len(recipe.Options) > 0 {
			if ep.Options == nil {
				ep.Options = make(map[string]any)
			}
			for k, v := range recipe.Options {
				ep.Options[k] = v
			}
		}
		if err := p.library.UpdateEpisode(ctx, ep); err != nil {
			return err
		}
	}
	return nil
}

func baseName(path string) string {
	return filepath.Base(path)
}

// indexer assigns first-seen positions to entity ids.
type indexer struct {
	order []int64
	index map[int64]int
}

func newIndexer() *indexer {
	return &indexer{index: make(map[int64]int)}
}

func (ix *indexer) add(id int64) {
	if _, ok := ix.index[id]; ok {
		return
	}
	ix.index[id] = len(ix.order)
	ix.order = append(ix.order, id)
}

func (ix *indexer) ref(id *int64) *int {
	if id == nil {
		return nil
	}
	if pos, ok := ix.index[*id]; ok {
		return &pos
	}
	return nil
}

func (ix *indexer) refs(ids []int64) []int {
	var out []int
	for _, id := range ids {
		if pos, ok := ix.index[id]; ok {
			out = append(out, pos)
		}
	}
	return out
}
