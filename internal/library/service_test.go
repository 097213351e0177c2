package library_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
	"github.com/titlecardmaker/titlecardmaker/internal/testutil"
)

func newService(t *testing.T) *library.Service {
	t.Helper()
	db := testutil.NewTestDB(t)
	return library.NewService(db.Conn(), zerolog.Nop())
}

func seedSeries(t *testing.T, svc *library.Service, name string, year int) *library.Series {
	t.Helper()
	series, err := svc.CreateSeries(context.Background(), &library.Series{
		Info:      info.NewSeriesInfo(name, year),
		Monitored: true,
	})
	if err != nil {
		t.Fatalf("CreateSeries() error = %v", err)
	}
	return series
}

func seedEpisode(t *testing.T, svc *library.Service, seriesID int64, season, episode int, title string) *library.Episode {
	t.Helper()
	ep, err := svc.CreateEpisode(context.Background(), &library.Episode{
		SeriesID: seriesID,
		Info:     info.NewEpisodeInfo(title, season, episode),
	})
	if err != nil {
		t.Fatalf("CreateEpisode() error = %v", err)
	}
	return ep
}

func TestUpsertSeries_NoDuplicates(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	first, created, err := svc.UpsertSeries(ctx, &library.Series{
		Info:      info.NewSeriesInfo("Breaking Bad", 2008),
		Monitored: true,
	})
	if err != nil {
		t.Fatalf("UpsertSeries() error = %v", err)
	}
	if !created {
		t.Fatal("UpsertSeries() created = false on first run")
	}

	incoming := &library.Series{
		Info:      info.NewSeriesInfo("Breaking Bad", 2008),
		Monitored: true,
		Libraries: []library.Library{{InterfaceID: 2, Name: "TV Shows"}},
	}
	_ = incoming.Info.IDs.Set(info.GlobalKey(info.SourceTVDb), "81189")

	second, created, err := svc.UpsertSeries(ctx, incoming)
	if err != nil {
		t.Fatalf("UpsertSeries() rerun error = %v", err)
	}
	if created {
		t.Error("UpsertSeries() created = true on rerun, want match")
	}
	if second.ID != first.ID {
		t.Errorf("UpsertSeries() matched ID = %d, want %d", second.ID, first.ID)
	}
	if got := second.Info.IDs.Get(info.GlobalKey(info.SourceTVDb)); got != "81189" {
		t.Errorf("UpsertSeries() did not merge IDs, got %q", got)
	}
	if len(second.Libraries) != 1 {
		t.Errorf("UpsertSeries() libraries = %v, want the new binding", second.Libraries)
	}

	all, err := svc.ListSeries(ctx)
	if err != nil {
		t.Fatalf("ListSeries() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListSeries() = %d series, want 1", len(all))
	}
}

func TestSeriesIDsAreNeverReused(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	a := seedSeries(t, svc, "Show A", 2000)
	b := seedSeries(t, svc, "Show B", 2001)
	if b.ID <= a.ID {
		t.Fatalf("IDs not increasing: %d then %d", a.ID, b.ID)
	}

	if err := svc.DeleteSeries(ctx, b.ID); err != nil {
		t.Fatalf("DeleteSeries() error = %v", err)
	}
	c := seedSeries(t, svc, "Show C", 2002)
	if c.ID <= b.ID {
		t.Errorf("ID %d reused after deleting %d", c.ID, b.ID)
	}
}

func TestUpsertEpisode_ResetsMissingCounter(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	series := seedSeries(t, svc, "Severance", 2022)

	ep := seedEpisode(t, svc, series.ID, 1, 1, "Good News About Hell")
	ep.MissingSyncs = 2
	if err := svc.UpdateEpisode(ctx, ep); err != nil {
		t.Fatalf("UpdateEpisode() error = %v", err)
	}

	same, created, err := svc.UpsertEpisode(ctx, &library.Episode{
		SeriesID: series.ID,
		Info:     info.NewEpisodeInfo("Good News About Hell", 1, 1),
	})
	if err != nil {
		t.Fatalf("UpsertEpisode() error = %v", err)
	}
	if created {
		t.Error("UpsertEpisode() created = true, want match")
	}
	if same.ID != ep.ID {
		t.Errorf("UpsertEpisode() matched ID = %d, want %d", same.ID, ep.ID)
	}
	if same.MissingSyncs != 0 {
		t.Errorf("UpsertEpisode() MissingSyncs = %d, want 0", same.MissingSyncs)
	}
}

func TestMarkEpisodesMissing_SoftDeleteAfterThreshold(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	series := seedSeries(t, svc, "Andor", 2022)

	kept := seedEpisode(t, svc, series.ID, 1, 1, "Kassa")
	gone := seedEpisode(t, svc, series.ID, 1, 2, "That Would Be Me")

	seen := map[int64]bool{kept.ID: true}
	for i := 0; i < 2; i++ {
		deleted, err := svc.MarkEpisodesMissing(ctx, series.ID, seen, 3)
		if err != nil {
			t.Fatalf("MarkEpisodesMissing() error = %v", err)
		}
		if deleted != 0 {
			t.Fatalf("MarkEpisodesMissing() deleted %d before threshold", deleted)
		}
	}

	deleted, err := svc.MarkEpisodesMissing(ctx, series.ID, seen, 3)
	if err != nil {
		t.Fatalf("MarkEpisodesMissing() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("MarkEpisodesMissing() deleted = %d, want 1", deleted)
	}

	got, err := svc.GetEpisode(ctx, gone.ID)
	if err != nil {
		t.Fatalf("GetEpisode() error = %v", err)
	}
	if got.DeletedAt == nil {
		t.Error("episode absent for 3 syncs should be soft-deleted")
	}
	still, err := svc.GetEpisode(ctx, kept.ID)
	if err != nil {
		t.Fatalf("GetEpisode() error = %v", err)
	}
	if still.DeletedAt != nil {
		t.Error("seen episode must not be soft-deleted")
	}
}

func TestSetWatched_ReportsChanges(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	series := seedSeries(t, svc, "Dark", 2017)
	ep := seedEpisode(t, svc, series.ID, 1, 1, "Secrets")

	status := info.WatchedStatus{InterfaceID: 1, Library: "TV", Watched: true}
	changed, err := svc.SetWatched(ctx, ep, status)
	if err != nil {
		t.Fatalf("SetWatched() error = %v", err)
	}
	if !changed {
		t.Error("SetWatched() changed = false for a new flag")
	}

	changed, err = svc.SetWatched(ctx, ep, status)
	if err != nil {
		t.Fatalf("SetWatched() error = %v", err)
	}
	if changed {
		t.Error("SetWatched() changed = true for an identical flag")
	}

	status.Watched = false
	changed, err = svc.SetWatched(ctx, ep, status)
	if err != nil {
		t.Fatalf("SetWatched() error = %v", err)
	}
	if !changed {
		t.Error("SetWatched() changed = false for a flipped flag")
	}

	got, err := svc.GetEpisode(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetEpisode() error = %v", err)
	}
	if got.Watched[status.WatchedKey()] {
		t.Error("flipped flag not persisted")
	}
}

func TestSaveCard_SingleActivePerLibrary(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	series := seedSeries(t, svc, "Chernobyl", 2019)
	ep := seedEpisode(t, svc, series.ID, 1, 1, "1:23:45")

	first, err := svc.SaveCard(ctx, &library.Card{
		EpisodeID:   ep.ID,
		LibraryName: "TV",
		FilePath:    "/cards/a.jpg",
		FileSize:    100,
		Fingerprint: "v1:aaa",
	})
	if err != nil {
		t.Fatalf("SaveCard() error = %v", err)
	}
	second, err := svc.SaveCard(ctx, &library.Card{
		EpisodeID:   ep.ID,
		LibraryName: "TV",
		FilePath:    "/cards/b.jpg",
		FileSize:    200,
		Fingerprint: "v1:bbb",
	})
	if err != nil {
		t.Fatalf("SaveCard() error = %v", err)
	}

	active, err := svc.GetActiveCard(ctx, ep.ID, "TV")
	if err != nil {
		t.Fatalf("GetActiveCard() error = %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("active card = %d, want %d", active.ID, second.ID)
	}

	old, err := svc.GetCard(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetCard() error = %v", err)
	}
	if old.Active {
		t.Error("previous card still active after SaveCard")
	}
}

func TestRecordLoaded_Upserts(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	series := seedSeries(t, svc, "Patriot", 2015)
	ep := seedEpisode(t, svc, series.ID, 1, 1, "Milwaukee")

	key := library.LoadedKey{
		InterfaceID: 7,
		LibraryName: "TV",
		SeriesID:    series.ID,
		EpisodeID:   &ep.ID,
		AssetType:   library.AssetCard,
	}

	got, err := svc.GetLoaded(ctx, key)
	if err != nil {
		t.Fatalf("GetLoaded() error = %v", err)
	}
	if got != nil {
		t.Fatal("GetLoaded() returned a record before any load")
	}

	if err := svc.RecordLoaded(ctx, key, 123, "v1:abc"); err != nil {
		t.Fatalf("RecordLoaded() error = %v", err)
	}
	if err := svc.RecordLoaded(ctx, key, 456, "v1:def"); err != nil {
		t.Fatalf("RecordLoaded() rerun error = %v", err)
	}

	got, err = svc.GetLoaded(ctx, key)
	if err != nil {
		t.Fatalf("GetLoaded() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetLoaded() = nil after RecordLoaded")
	}
	if got.FileSize != 456 || got.Fingerprint != "v1:def" {
		t.Errorf("RecordLoaded() did not overwrite: size=%d fp=%q", got.FileSize, got.Fingerprint)
	}
}

func TestJobRegistry(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Second)
	if err := svc.RecordJobStart(ctx, "build_cards", start); err != nil {
		t.Fatalf("RecordJobStart() error = %v", err)
	}
	if err := svc.RecordJobEnd(ctx, "build_cards", start.Add(time.Minute), library.OutcomeOK, 2); err != nil {
		t.Fatalf("RecordJobEnd() error = %v", err)
	}

	rec, err := svc.GetJobRecord(ctx, "build_cards")
	if err != nil {
		t.Fatalf("GetJobRecord() error = %v", err)
	}
	if rec.Outcome != library.OutcomeOK {
		t.Errorf("Outcome = %q, want %q", rec.Outcome, library.OutcomeOK)
	}
	if rec.Retries != 2 {
		t.Errorf("Retries = %d, want 2", rec.Retries)
	}
	if rec.LastStart == nil || rec.LastEnd == nil {
		t.Error("LastStart/LastEnd not recorded")
	}

	if err := svc.RecordJobOutcome(ctx, "build_cards", library.OutcomeOverlap); err != nil {
		t.Fatalf("RecordJobOutcome() error = %v", err)
	}
	rec, err = svc.GetJobRecord(ctx, "build_cards")
	if err != nil {
		t.Fatalf("GetJobRecord() error = %v", err)
	}
	if rec.Outcome != library.OutcomeOverlap {
		t.Errorf("Outcome = %q, want %q", rec.Outcome, library.OutcomeOverlap)
	}
}

func TestTakeSnapshot_Counts(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	series := seedSeries(t, svc, "Fargo", 2014)
	seedEpisode(t, svc, series.ID, 1, 1, "The Crocodile's Dilemma")
	seedEpisode(t, svc, series.ID, 1, 2, "The Rooster Prince")

	snap, err := svc.TakeSnapshot(ctx)
	if err != nil {
		t.Fatalf("TakeSnapshot() error = %v", err)
	}
	if snap.Series != 1 {
		t.Errorf("snapshot Series = %d, want 1", snap.Series)
	}
	if snap.Episodes != 2 {
		t.Errorf("snapshot Episodes = %d, want 2", snap.Episodes)
	}
}

func TestDeleteFont_OrphanRewrite(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	font, err := svc.CreateFont(ctx, &library.Font{Name: "Gotham", Size: 1.0})
	if err != nil {
		t.Fatalf("CreateFont() error = %v", err)
	}

	series := seedSeries(t, svc, "Mindhunter", 2017)
	series.FontID = &font.ID
	if err := svc.UpdateSeries(ctx, series); err != nil {
		t.Fatalf("UpdateSeries() error = %v", err)
	}

	if err := svc.DeleteFont(ctx, font.ID, false); !errors.Is(err, library.ErrInUse) {
		t.Errorf("DeleteFont(orphanRewrite=false) error = %v, want ErrInUse", err)
	}
	if err := svc.DeleteFont(ctx, font.ID, true); err != nil {
		t.Fatalf("DeleteFont(orphanRewrite=true) error = %v", err)
	}

	got, err := svc.GetSeries(ctx, series.ID)
	if err != nil {
		t.Fatalf("GetSeries() error = %v", err)
	}
	if got.FontID != nil {
		t.Error("series still references the deleted font")
	}
}

func TestUpdateEpisode_RewritesTemplateBindings(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	series := seedSeries(t, svc, "Dark", 2017)
	ep := seedEpisode(t, svc, series.ID, 1, 1, "Secrets")

	first, err := svc.CreateTemplate(ctx, &library.Template{Name: "Specials"})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	second, err := svc.CreateTemplate(ctx, &library.Template{Name: "Finales"})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	ep.TemplateIDs = []int64{first.ID}
	if err := svc.UpdateEpisode(ctx, ep); err != nil {
		t.Fatalf("UpdateEpisode() error = %v", err)
	}
	got, err := svc.GetEpisode(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetEpisode() error = %v", err)
	}
	if len(got.TemplateIDs) != 1 || got.TemplateIDs[0] != first.ID {
		t.Fatalf("TemplateIDs after update = %v, want [%d]", got.TemplateIDs, first.ID)
	}

	// Reordering and replacing bindings persists in order.
	got.TemplateIDs = []int64{second.ID, first.ID}
	if err := svc.UpdateEpisode(ctx, got); err != nil {
		t.Fatalf("UpdateEpisode() rewrite error = %v", err)
	}
	got, err = svc.GetEpisode(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetEpisode() error = %v", err)
	}
	if len(got.TemplateIDs) != 2 || got.TemplateIDs[0] != second.ID || got.TemplateIDs[1] != first.ID {
		t.Fatalf("TemplateIDs after rewrite = %v, want [%d %d]", got.TemplateIDs, second.ID, first.ID)
	}

	// Clearing the slice removes all bindings.
	got.TemplateIDs = nil
	if err := svc.UpdateEpisode(ctx, got); err != nil {
		t.Fatalf("UpdateEpisode() clear error = %v", err)
	}
	got, err = svc.GetEpisode(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetEpisode() error = %v", err)
	}
	if len(got.TemplateIDs) != 0 {
		t.Errorf("TemplateIDs after clear = %v, want none", got.TemplateIDs)
	}
}
