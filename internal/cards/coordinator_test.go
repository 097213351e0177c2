package cards_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/cards"
	"github.com/titlecardmaker/titlecardmaker/internal/cardtype"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
	"github.com/titlecardmaker/titlecardmaker/internal/resolver"
	"github.com/titlecardmaker/titlecardmaker/internal/testutil"
)

func writeSourceImage(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 36))
	for y := 0; y < 36; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 7), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("failed to encode source image: %v", err)
	}
	path := filepath.Join(dir, "s1e1.jpg")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write source image: %v", err)
	}
	return path
}

func setup(t *testing.T) (*library.Service, *cards.Coordinator, *library.Series, *library.Episode, string) {
	t.Helper()
	db := testutil.NewTestDB(t)
	svc := library.NewService(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	series, err := svc.CreateSeries(ctx, &library.Series{
		Info: info.NewSeriesInfo("Severance", 2022), Monitored: true,
	})
	if err != nil {
		t.Fatalf("CreateSeries() error = %v", err)
	}
	ep, err := svc.CreateEpisode(ctx, &library.Episode{
		SeriesID: series.ID, Info: info.NewEpisodeInfo("Good News About Hell", 1, 1),
	})
	if err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}

	types := cardtype.NewRegistry(nil, zerolog.Nop())
	types.Register(cardtype.Standard{})

	cardsRoot := t.TempDir()
	coordinator := cards.NewCoordinator(svc, types, cardsRoot, "", zerolog.Nop())
	source := writeSourceImage(t, t.TempDir())
	return svc, coordinator, series, ep, source
}

func testRecipe(series *library.Series, ep *library.Episode, source string, blur bool) *resolver.Recipe {
	style := "unique"
	if blur {
		style = "blur"
	}
	return &resolver.Recipe{
		CardType:      "standard",
		SeriesName:    series.Info.Name,
		SeriesYear:    series.Info.Year,
		Title:         ep.Info.Title,
		SeasonNumber:  ep.Info.SeasonNumber,
		EpisodeNumber: ep.Info.EpisodeNumber,
		Style:         style,
		Blur:          blur,
		SourceFile:    source,
	}
}

func TestEnsureBuilt_BuildThenUnchanged(t *testing.T) {
	svc, coordinator, series, ep, source := setup(t)
	ctx := context.Background()

	result, card, err := coordinator.EnsureBuilt(ctx, series, ep, "TV", nil,
		testRecipe(series, ep, source, false))
	if err != nil {
		t.Fatalf("EnsureBuilt() error = %v", err)
	}
	if result != cards.Built {
		t.Fatalf("EnsureBuilt() result = %v, want Built", result)
	}
	if card == nil || card.Fingerprint == "" {
		t.Fatal("EnsureBuilt() returned no card record")
	}

	stat, err := os.Stat(card.FilePath)
	if err != nil {
		t.Fatalf("artifact missing on disk: %v", err)
	}
	if stat.Size() != card.FileSize {
		t.Errorf("recorded size %d, on disk %d", card.FileSize, stat.Size())
	}

	// Same recipe again: one fingerprint comparison, no rebuild.
	result, again, err := coordinator.EnsureBuilt(ctx, series, ep, "TV", nil,
		testRecipe(series, ep, source, false))
	if err != nil {
		t.Fatalf("EnsureBuilt() rerun error = %v", err)
	}
	if result != cards.Unchanged {
		t.Errorf("EnsureBuilt() rerun result = %v, want Unchanged", result)
	}
	if again.ID != card.ID {
		t.Errorf("rerun returned card %d, want %d", again.ID, card.ID)
	}

	active, err := svc.GetActiveCard(ctx, ep.ID, "TV")
	if err != nil {
		t.Fatalf("GetActiveCard() error = %v", err)
	}
	if active.ID != card.ID {
		t.Errorf("active card = %d, want %d", active.ID, card.ID)
	}
}

func TestEnsureBuilt_RebuildOnStyleFlip(t *testing.T) {
	svc, coordinator, series, ep, source := setup(t)
	ctx := context.Background()

	_, first, err := coordinator.EnsureBuilt(ctx, series, ep, "TV", nil,
		testRecipe(series, ep, source, false))
	if err != nil {
		t.Fatalf("EnsureBuilt() error = %v", err)
	}

	result, second, err := coordinator.EnsureBuilt(ctx, series, ep, "TV", nil,
		testRecipe(series, ep, source, true))
	if err != nil {
		t.Fatalf("EnsureBuilt() after flip error = %v", err)
	}
	if result != cards.Built {
		t.Errorf("EnsureBuilt() after flip result = %v, want Built", result)
	}
	if second.Fingerprint == first.Fingerprint {
		t.Error("style flip did not change the fingerprint")
	}

	active, err := svc.GetActiveCard(ctx, ep.ID, "TV")
	if err != nil {
		t.Fatalf("GetActiveCard() error = %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("active card = %d, want the rebuilt card %d", active.ID, second.ID)
	}
}

func TestEnsureBuilt_RebuildWhenArtifactDeleted(t *testing.T) {
	_, coordinator, series, ep, source := setup(t)
	ctx := context.Background()

	_, card, err := coordinator.EnsureBuilt(ctx, series, ep, "TV", nil,
		testRecipe(series, ep, source, false))
	if err != nil {
		t.Fatalf("EnsureBuilt() error = %v", err)
	}
	if err := os.Remove(card.FilePath); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	result, rebuilt, err := coordinator.EnsureBuilt(ctx, series, ep, "TV", nil,
		testRecipe(series, ep, source, false))
	if err != nil {
		t.Fatalf("EnsureBuilt() after delete error = %v", err)
	}
	if result != cards.Built {
		t.Errorf("EnsureBuilt() after delete result = %v, want Built", result)
	}
	if _, err := os.Stat(rebuilt.FilePath); err != nil {
		t.Errorf("rebuilt artifact missing: %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	svc, coordinator, series, ep, source := setup(t)
	ctx := context.Background()

	_, card, err := coordinator.EnsureBuilt(ctx, series, ep, "TV", nil,
		testRecipe(series, ep, source, false))
	if err != nil {
		t.Fatalf("EnsureBuilt() error = %v", err)
	}

	if err := coordinator.Invalidate(ctx, ep); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := os.Stat(card.FilePath); !os.IsNotExist(err) {
		t.Error("Invalidate() left the artifact on disk")
	}
	if _, err := svc.GetActiveCard(ctx, ep.ID, "TV"); err == nil {
		t.Error("Invalidate() left an active card record")
	}
}

func TestCardPath_Tokens(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := library.NewService(db.Conn(), zerolog.Nop())
	types := cardtype.NewRegistry(nil, zerolog.Nop())
	coordinator := cards.NewCoordinator(svc, types, "/cards", "", zerolog.Nop())

	series := &library.Series{Info: info.NewSeriesInfo("Who Am I?", 2014)}
	ep := &library.Episode{Info: info.NewEpisodeInfo("Pilot", 1, 3)}

	got := coordinator.CardPath(series, ep)
	want := filepath.Join("/cards", "Who Am I! (2014)", "Season 1", "Who Am I! (2014) - S01E03.jpg")
	if got != want {
		t.Errorf("CardPath() = %q, want %q", got, want)
	}
	if strings.ContainsAny(got, `?<>:"|*`) {
		t.Errorf("CardPath() contains unsanitized characters: %q", got)
	}
}
