package resolver_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
	"github.com/titlecardmaker/titlecardmaker/internal/resolver"
	"github.com/titlecardmaker/titlecardmaker/internal/testutil"
)

func strPtr(s string) *string { return &s }

func setup(t *testing.T) (*library.Service, *resolver.Resolver) {
	t.Helper()
	db := testutil.NewTestDB(t)
	svc := library.NewService(db.Conn(), zerolog.Nop())
	return svc, resolver.New(svc, resolver.Layer{}, zerolog.Nop())
}

func TestResolve_Defaults(t *testing.T) {
	svc, res := setup(t)
	ctx := context.Background()

	series, err := svc.CreateSeries(ctx, &library.Series{
		Info: info.NewSeriesInfo("Severance", 2022), Monitored: true,
	})
	if err != nil {
		t.Fatalf("CreateSeries() error = %v", err)
	}
	ep, err := svc.CreateEpisode(ctx, &library.Episode{
		SeriesID: series.ID, Info: info.NewEpisodeInfo("Half Loop", 1, 2),
	})
	if err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}

	recipe, err := res.Resolve(ctx, series, ep, false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if recipe.CardType != resolver.DefaultCardType {
		t.Errorf("CardType = %q, want default %q", recipe.CardType, resolver.DefaultCardType)
	}
	if recipe.Style != resolver.DefaultStyle {
		t.Errorf("Style = %q, want default %q", recipe.Style, resolver.DefaultStyle)
	}
	if recipe.Blur || recipe.Grayscale {
		t.Error("default style must not set blur/grayscale")
	}
	if recipe.SeriesName != "Severance" || recipe.SeasonNumber != 1 || recipe.EpisodeNumber != 2 {
		t.Errorf("identity fields wrong: %+v", recipe)
	}
}

func TestResolve_WatchedSelectsStyle(t *testing.T) {
	svc, res := setup(t)
	ctx := context.Background()

	series, err := svc.CreateSeries(ctx, &library.Series{
		Info:           info.NewSeriesInfo("Dark", 2017),
		Monitored:      true,
		WatchedStyle:   strPtr("unique"),
		UnwatchedStyle: strPtr("blur grayscale"),
	})
	if err != nil {
		t.Fatalf("CreateSeries() error = %v", err)
	}
	ep, err := svc.CreateEpisode(ctx, &library.Episode{
		SeriesID: series.ID, Info: info.NewEpisodeInfo("Secrets", 1, 1),
	})
	if err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}

	unwatched, err := res.Resolve(ctx, series, ep, false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !unwatched.Blur || !unwatched.Grayscale {
		t.Errorf("unwatched recipe = blur:%v grayscale:%v, want both", unwatched.Blur, unwatched.Grayscale)
	}

	watched, err := res.Resolve(ctx, series, ep, true)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if watched.Blur || watched.Grayscale {
		t.Error("watched recipe must use the spoiler-free style")
	}
}

func TestResolve_TemplateFilterGating(t *testing.T) {
	svc, res := setup(t)
	ctx := context.Background()

	// Applies only to specials.
	tmpl, err := svc.CreateTemplate(ctx, &library.Template{
		Name: "specials",
		Filters: []library.Filter{
			{Argument: "season_number", Operation: library.OpEquals, Reference: "0"},
		},
		Options: map[string]any{"season_label": "Specials"},
	})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	series, err := svc.CreateSeries(ctx, &library.Series{
		Info:        info.NewSeriesInfo("Sherlock", 2010),
		Monitored:   true,
		TemplateIDs: []int64{tmpl.ID},
	})
	if err != nil {
		t.Fatalf("CreateSeries() error = %v", err)
	}

	special, err := svc.CreateEpisode(ctx, &library.Episode{
		SeriesID: series.ID, Info: info.NewEpisodeInfo("Many Happy Returns", 0, 1),
	})
	if err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}
	regular, err := svc.CreateEpisode(ctx, &library.Episode{
		SeriesID: series.ID, Info: info.NewEpisodeInfo("A Study in Pink", 1, 1),
	})
	if err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}

	recipe, err := res.Resolve(ctx, series, special, false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if recipe.Options["season_label"] != "Specials" {
		t.Errorf("special episode missing gated option: %v", recipe.Options)
	}

	recipe, err = res.Resolve(ctx, series, regular, false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if _, ok := recipe.Options["season_label"]; ok {
		t.Error("regular episode got the specials-only option")
	}
}

func TestResolve_EpisodeTemplatesSupersedeSeries(t *testing.T) {
	svc, res := setup(t)
	ctx := context.Background()

	seriesTmpl, err := svc.CreateTemplate(ctx, &library.Template{
		Name: "series-wide", Options: map[string]any{"origin": "series"},
	})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	episodeTmpl, err := svc.CreateTemplate(ctx, &library.Template{
		Name: "episode-only", Options: map[string]any{"origin": "episode"},
	})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	series, err := svc.CreateSeries(ctx, &library.Series{
		Info:        info.NewSeriesInfo("Atlanta", 2016),
		Monitored:   true,
		TemplateIDs: []int64{seriesTmpl.ID},
	})
	if err != nil {
		t.Fatalf("CreateSeries() error = %v", err)
	}
	ep, err := svc.CreateEpisode(ctx, &library.Episode{
		SeriesID:    series.ID,
		Info:        info.NewEpisodeInfo("The Big Bang", 1, 1),
		TemplateIDs: []int64{episodeTmpl.ID},
	})
	if err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}

	recipe, err := res.Resolve(ctx, series, ep, false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if recipe.Options["origin"] != "episode" {
		t.Errorf("Options[origin] = %v, want the episode template list to supersede", recipe.Options["origin"])
	}
}

func TestResolve_PrecedenceSeriesOverTemplate(t *testing.T) {
	svc, res := setup(t)
	ctx := context.Background()

	tmpl, err := svc.CreateTemplate(ctx, &library.Template{
		Name:     "base",
		CardType: strPtr("anime"),
		Options:  map[string]any{"shared": "template", "only_template": true},
	})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	series, err := svc.CreateSeries(ctx, &library.Series{
		Info:        info.NewSeriesInfo("Frieren", 2023),
		Monitored:   true,
		CardType:    strPtr("standard"),
		TemplateIDs: []int64{tmpl.ID},
		Options:     map[string]any{"shared": "series"},
	})
	if err != nil {
		t.Fatalf("CreateSeries() error = %v", err)
	}
	ep, err := svc.CreateEpisode(ctx, &library.Episode{
		SeriesID: series.ID, Info: info.NewEpisodeInfo("The Journey's End", 1, 1),
	})
	if err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}

	recipe, err := res.Resolve(ctx, series, ep, false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if recipe.CardType != "standard" {
		t.Errorf("CardType = %q, want series override over template", recipe.CardType)
	}
	if recipe.Options["shared"] != "series" {
		t.Errorf("Options[shared] = %v, want series value", recipe.Options["shared"])
	}
	if recipe.Options["only_template"] != true {
		t.Error("template-only option lost during merge")
	}
}

func TestResolve_FontLoaded(t *testing.T) {
	svc, res := setup(t)
	ctx := context.Background()

	font, err := svc.CreateFont(ctx, &library.Font{Name: "Gotham", Size: 1.2})
	if err != nil {
		t.Fatalf("CreateFont() error = %v", err)
	}
	series, err := svc.CreateSeries(ctx, &library.Series{
		Info: info.NewSeriesInfo("Ted Lasso", 2020), Monitored: true, FontID: &font.ID,
	})
	if err != nil {
		t.Fatalf("CreateSeries() error = %v", err)
	}
	ep, err := svc.CreateEpisode(ctx, &library.Episode{
		SeriesID: series.ID, Info: info.NewEpisodeInfo("Pilot", 1, 1),
	})
	if err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}

	recipe, err := res.Resolve(ctx, series, ep, false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if recipe.Font == nil || recipe.Font.ID != font.ID {
		t.Errorf("Font = %+v, want font %d attached", recipe.Font, font.ID)
	}
}
