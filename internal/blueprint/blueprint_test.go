package blueprint_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/assets"
	"github.com/titlecardmaker/titlecardmaker/internal/blueprint"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
	"github.com/titlecardmaker/titlecardmaker/internal/testutil"
)

func newPort(t *testing.T) (*blueprint.Port, *library.Service) {
	t.Helper()
	db := testutil.NewTestDB(t)
	svc := library.NewService(db.Conn(), zerolog.Nop())
	root := t.TempDir()
	store := assets.NewStore(filepath.Join(root, "source"), filepath.Join(root, "assets"), zerolog.Nop())
	return blueprint.New(svc, store, zerolog.Nop()), svc
}

func strPtr(s string) *string { return &s }

// seedFullSeries creates a series with a font, a template referencing that
// font, and an episode carrying its own overrides.
func seedFullSeries(t *testing.T, svc *library.Service) *library.Series {
	t.Helper()
	ctx := context.Background()

	font, err := svc.CreateFont(ctx, &library.Font{Name: "Ubuntu", Size: 1.2})
	if err != nil {
		t.Fatalf("CreateFont() error = %v", err)
	}
	tmpl, err := svc.CreateTemplate(ctx, &library.Template{
		Name:     "Specials",
		Filters:  []library.Filter{{Argument: "season_number", Operation: "equals", Reference: "0"}},
		CardType: strPtr("standard"),
		Options:  map[string]any{"episode_text": "Special {episode}"},
		FontID:   &font.ID,
	})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	series, err := svc.CreateSeries(ctx, &library.Series{
		Info:         info.NewSeriesInfo("Dark", 2017),
		Monitored:    true,
		CardType:     strPtr("standard"),
		WatchedStyle: strPtr("unique"),
		SeasonTitles: map[string]string{"1": "Cycle One"},
		Options:      map[string]any{"font_color": "#ffffff"},
		FontID:       &font.ID,
		TemplateIDs:  []int64{tmpl.ID},
	})
	if err != nil {
		t.Fatalf("CreateSeries() error = %v", err)
	}

	_, err = svc.CreateEpisode(ctx, &library.Episode{
		SeriesID: series.ID,
		Info:     info.NewEpisodeInfo("Secrets", 1, 1),
		Options:  map[string]any{"episode_text": "Geheimnisse"},
	})
	if err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}
	return series
}

func TestExport_IndicesAreDocumentRelative(t *testing.T) {
	port, svc := newPort(t)
	series := seedFullSeries(t, svc)

	doc, err := port.Export(context.Background(), series.ID, true)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if doc.Series.Name != "Dark" || doc.Series.Year != 2017 {
		t.Errorf("series identity = %s (%d)", doc.Series.Name, doc.Series.Year)
	}
	if len(doc.Fonts) != 1 || len(doc.Templates) != 1 {
		t.Fatalf("exported %d fonts and %d templates, want 1 and 1",
			len(doc.Fonts), len(doc.Templates))
	}
	if doc.Series.FontID == nil || *doc.Series.FontID != 0 {
		t.Errorf("series font index = %v, want 0", doc.Series.FontID)
	}
	if len(doc.Series.TemplateIDs) != 1 || doc.Series.TemplateIDs[0] != 0 {
		t.Errorf("series template indices = %v, want [0]", doc.Series.TemplateIDs)
	}
	if doc.Templates[0].FontID == nil || *doc.Templates[0].FontID != 0 {
		t.Errorf("template font index = %v, want 0", doc.Templates[0].FontID)
	}
	if doc.Fonts[0].Name != "Ubuntu" {
		t.Errorf("font name = %q", doc.Fonts[0].Name)
	}

	ep, ok := doc.Episodes["s1e1"]
	if !ok {
		t.Fatalf("episode overrides missing, got keys %v", doc.Episodes)
	}
	if ep.Options["episode_text"] != "Geheimnisse" {
		t.Errorf("episode option = %v", ep.Options["episode_text"])
	}
}

func TestExport_WithoutEpisodes(t *testing.T) {
	port, svc := newPort(t)
	series := seedFullSeries(t, svc)

	doc, err := port.Export(context.Background(), series.ID, false)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if len(doc.Episodes) != 0 {
		t.Errorf("episodes bundled despite includeEpisodes=false: %v", doc.Episodes)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	srcPort, srcSvc := newPort(t)
	series := seedFullSeries(t, srcSvc)

	doc, err := srcPort.Export(context.Background(), series.ID, true)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	dstPort, dstSvc := newPort(t)
	ctx := context.Background()

	// Seed the matching episode so overrides have a target.
	target, err := dstSvc.CreateSeries(ctx, &library.Series{
		Info: info.NewSeriesInfo("Dark", 2017), Monitored: true,
	})
	if err != nil {
		t.Fatalf("CreateSeries() error = %v", err)
	}
	if _, err := dstSvc.CreateEpisode(ctx, &library.Episode{
		SeriesID: target.ID, Info: info.NewEpisodeInfo("Secrets", 1, 1),
	}); err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}

	imported, err := dstPort.Import(ctx, doc)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if imported.ID != target.ID {
		t.Errorf("Import() created a new series instead of updating the match")
	}

	got, err := dstSvc.GetSeries(ctx, target.ID)
	if err != nil {
		t.Fatalf("GetSeries() error = %v", err)
	}
	if got.CardType == nil || *got.CardType != "standard" {
		t.Errorf("card type = %v", got.CardType)
	}
	if got.SeasonTitles["1"] != "Cycle One" {
		t.Errorf("season titles = %v", got.SeasonTitles)
	}
	if got.FontID == nil {
		t.Fatal("series font not linked")
	}
	font, err := dstSvc.GetFont(ctx, *got.FontID)
	if err != nil {
		t.Fatalf("GetFont() error = %v", err)
	}
	if font.Name != "Ubuntu" {
		t.Errorf("imported font name = %q", font.Name)
	}
	if len(got.TemplateIDs) != 1 {
		t.Fatalf("template links = %v, want one", got.TemplateIDs)
	}
	tmpl, err := dstSvc.GetTemplate(ctx, got.TemplateIDs[0])
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if tmpl.Name != "Specials" || len(tmpl.Filters) != 1 {
		t.Errorf("imported template = %+v", tmpl)
	}
	if tmpl.FontID == nil || *tmpl.FontID != font.ID {
		t.Errorf("template font link = %v, want %d", tmpl.FontID, font.ID)
	}

	eps, err := dstSvc.ListEpisodes(ctx, target.ID)
	if err != nil {
		t.Fatalf("ListEpisodes() error = %v", err)
	}
	if len(eps) != 1 || eps[0].Options["episode_text"] != "Geheimnisse" {
		t.Errorf("episode overrides not applied: %+v", eps)
	}
}

func TestImport_Validation(t *testing.T) {
	port, svc := newPort(t)
	ctx := context.Background()
	badFont := 3

	tests := []struct {
		name string
		doc  *blueprint.Document
	}{
		{"missing series name", &blueprint.Document{}},
		{"series font out of range", &blueprint.Document{
			Series: blueprint.SeriesRecipe{Name: "Dark", Year: 2017, FontID: &badFont},
		}},
		{"series template out of range", &blueprint.Document{
			Series: blueprint.SeriesRecipe{Name: "Dark", Year: 2017, TemplateIDs: []int{0}},
		}},
		{"nameless template", &blueprint.Document{
			Series:    blueprint.SeriesRecipe{Name: "Dark", Year: 2017},
			Templates: []blueprint.TemplateRecipe{{}},
		}},
		{"nameless font", &blueprint.Document{
			Series: blueprint.SeriesRecipe{Name: "Dark", Year: 2017},
			Fonts:  []blueprint.FontRecipe{{}},
		}},
		{"episode font out of range", &blueprint.Document{
			Series:   blueprint.SeriesRecipe{Name: "Dark", Year: 2017},
			Episodes: map[string]blueprint.EpisodeRecipe{"s1e1": {FontID: &badFont}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := port.Import(ctx, tt.doc); !errors.Is(err, blueprint.ErrInvalidDocument) {
				t.Errorf("Import() error = %v, want ErrInvalidDocument", err)
			}
		})
	}

	// Dry-run validation rejects before anything is created.
	fonts, err := svc.ListFonts(ctx)
	if err != nil {
		t.Fatalf("ListFonts() error = %v", err)
	}
	if len(fonts) != 0 {
		t.Errorf("validation failures left %d fonts behind", len(fonts))
	}
}

func TestImport_RollbackRemovesCreatedEntities(t *testing.T) {
	port, svc := newPort(t)
	ctx := context.Background()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer broken.Close()

	doc := &blueprint.Document{
		Series: blueprint.SeriesRecipe{Name: "Dark", Year: 2017},
		Fonts: []blueprint.FontRecipe{
			{Name: "Plain"},
			{Name: "Remote", File: strPtr("remote.ttf"), FileURL: strPtr(broken.URL + "/remote.ttf")},
		},
	}

	if _, err := port.Import(ctx, doc); err == nil {
		t.Fatal("Import() with an unreachable font file should fail")
	}

	fonts, err := svc.ListFonts(ctx)
	if err != nil {
		t.Fatalf("ListFonts() error = %v", err)
	}
	if len(fonts) != 0 {
		t.Errorf("rollback left %d fonts behind", len(fonts))
	}
	if _, err := svc.FindSeries(ctx, info.NewSeriesInfo("Dark", 2017)); !errors.Is(err, library.ErrSeriesNotFound) {
		t.Errorf("rollback should not have created the series, FindSeries error = %v", err)
	}
}

func TestExportJSON_PersistsBlueprint(t *testing.T) {
	port, svc := newPort(t)
	series := seedFullSeries(t, svc)

	data, err := port.ExportJSON(context.Background(), series.ID, true)
	if err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("ExportJSON() returned no data")
	}
}

func TestExportImport_EpisodeTemplateLinks(t *testing.T) {
	srcPort, srcSvc := newPort(t)
	ctx := context.Background()

	tmpl, err := srcSvc.CreateTemplate(ctx, &library.Template{
		Name:    "Finale",
		Options: map[string]any{"episode_text": "The End"},
	})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	series, err := srcSvc.CreateSeries(ctx, &library.Series{
		Info: info.NewSeriesInfo("Dark", 2017), Monitored: true,
	})
	if err != nil {
		t.Fatalf("CreateSeries() error = %v", err)
	}
	if _, err := srcSvc.CreateEpisode(ctx, &library.Episode{
		SeriesID:    series.ID,
		Info:        info.NewEpisodeInfo("The Paradise", 3, 8),
		TemplateIDs: []int64{tmpl.ID},
	}); err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}

	doc, err := srcPort.Export(ctx, series.ID, true)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	ep, ok := doc.Episodes["s3e8"]
	if !ok {
		t.Fatalf("episode override missing, got keys %v", doc.Episodes)
	}
	if len(ep.TemplateIDs) != 1 || ep.TemplateIDs[0] != 0 {
		t.Fatalf("exported episode template indices = %v, want [0]", ep.TemplateIDs)
	}

	dstPort, dstSvc := newPort(t)
	target, err := dstSvc.CreateSeries(ctx, &library.Series{
		Info: info.NewSeriesInfo("Dark", 2017), Monitored: true,
	})
	if err != nil {
		t.Fatalf("CreateSeries() error = %v", err)
	}
	if _, err := dstSvc.CreateEpisode(ctx, &library.Episode{
		SeriesID: target.ID, Info: info.NewEpisodeInfo("The Paradise", 3, 8),
	}); err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}

	if _, err := dstPort.Import(ctx, doc); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	eps, err := dstSvc.ListEpisodes(ctx, target.ID)
	if err != nil {
		t.Fatalf("ListEpisodes() error = %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("ListEpisodes() returned %d episodes, want 1", len(eps))
	}
	if len(eps[0].TemplateIDs) != 1 {
		t.Fatalf("imported episode template links = %v, want one", eps[0].TemplateIDs)
	}
	linked, err := dstSvc.GetTemplate(ctx, eps[0].TemplateIDs[0])
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if linked.Name != "Finale" || linked.Options["episode_text"] != "The End" {
		t.Errorf("imported template = %+v", linked)
	}
}
