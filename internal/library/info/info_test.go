package info

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestIDSet_SetRefusesConflicts(t *testing.T) {
	s := make(IDSet)
	key := GlobalKey(SourceTVDb)

	if err := s.Set(key, "81189"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(key, "81189"); err != nil {
		t.Errorf("Set() same value error = %v, want nil", err)
	}
	if err := s.Set(key, "99999"); !errors.Is(err, ErrConflictingIDs) {
		t.Errorf("Set() conflicting value error = %v, want ErrConflictingIDs", err)
	}
	if got := s.Get(key); got != "81189" {
		t.Errorf("Get() = %q, want %q after refused overwrite", got, "81189")
	}

	if err := s.Set(key, ""); err != nil {
		t.Errorf("Set() empty value error = %v, want nil", err)
	}
}

func TestIDSet_Replace(t *testing.T) {
	s := make(IDSet)
	key := InstanceKey(SourceSonarr, 3)

	s.Replace(key, "42")
	if got := s.Get(key); got != "42" {
		t.Fatalf("Get() = %q, want %q", got, "42")
	}
	s.Replace(key, "43")
	if got := s.Get(key); got != "43" {
		t.Errorf("Get() = %q, want %q after replace", got, "43")
	}
	s.Replace(key, "")
	if _, ok := s[key]; ok {
		t.Error("Replace(\"\") should delete the key")
	}
}

func TestIDSet_Merge(t *testing.T) {
	a := IDSet{GlobalKey(SourceIMDb): "tt0903747"}
	b := IDSet{
		GlobalKey(SourceIMDb): "tt0903747",
		GlobalKey(SourceTMDb): "1396",
	}
	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if got := a.Get(GlobalKey(SourceTMDb)); got != "1396" {
		t.Errorf("Merge() did not copy missing key, got %q", got)
	}

	c := IDSet{GlobalKey(SourceIMDb): "tt0000000"}
	if err := a.Merge(c); !errors.Is(err, ErrConflictingIDs) {
		t.Errorf("Merge() conflict error = %v, want ErrConflictingIDs", err)
	}
}

func TestIDSet_SharedIDMatch(t *testing.T) {
	base := IDSet{GlobalKey(SourceTVDb): "81189"}

	tests := []struct {
		name        string
		other       IDSet
		wantMatch   bool
		wantOverlap bool
	}{
		{"agreeing", IDSet{GlobalKey(SourceTVDb): "81189"}, true, true},
		{"disagreeing", IDSet{GlobalKey(SourceTVDb): "12345"}, false, true},
		{"disjoint", IDSet{GlobalKey(SourceTMDb): "1396"}, false, false},
		{"empty", IDSet{}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, overlap := base.SharedIDMatch(tt.other)
			if match != tt.wantMatch || overlap != tt.wantOverlap {
				t.Errorf("SharedIDMatch() = (%v, %v), want (%v, %v)",
					match, overlap, tt.wantMatch, tt.wantOverlap)
			}
		})
	}
}

func TestIDSet_JSONRoundTrip(t *testing.T) {
	s := IDSet{
		GlobalKey(SourceIMDb):                 "tt0903747",
		LibraryKey(SourcePlex, 2, "TV Shows"): "49915",
		InstanceKey(SourceSonarr, 5):          "12",
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back IDSet
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(back) != len(s) {
		t.Fatalf("round trip lost keys: got %d, want %d", len(back), len(s))
	}
	for k, v := range s {
		if back.Get(k) != v {
			t.Errorf("round trip key %s = %q, want %q", k, back.Get(k), v)
		}
	}
}

func TestIDKey_Specificity(t *testing.T) {
	global := GlobalKey(SourceTVDb)
	instance := InstanceKey(SourceSonarr, 1)
	library := LibraryKey(SourcePlex, 1, "Anime")

	if !(global.Specificity() < instance.Specificity()) {
		t.Error("instance key should be more specific than global key")
	}
	if !(instance.Specificity() < library.Specificity()) {
		t.Error("library key should be more specific than instance key")
	}
}

func TestSeriesInfo_Matches(t *testing.T) {
	a := NewSeriesInfo("Breaking Bad", 2008)
	b := NewSeriesInfo("breaking bad", 2008)
	if !a.Matches(b) {
		t.Error("Matches() = false for same name/year with different case")
	}

	c := NewSeriesInfo("Breaking Bad", 2009)
	if a.Matches(c) {
		t.Error("Matches() = true for different year without shared IDs")
	}

	// A shared agreeing ID decides regardless of the name.
	d := NewSeriesInfo("Totally Different", 1990)
	_ = a.IDs.Set(GlobalKey(SourceTVDb), "81189")
	_ = d.IDs.Set(GlobalKey(SourceTVDb), "81189")
	if !a.Matches(d) {
		t.Error("Matches() = false despite agreeing shared ID")
	}
}

func TestEpisodeInfo_Matches(t *testing.T) {
	a := NewEpisodeInfo("Pilot", 1, 1)
	b := NewEpisodeInfo("Pilot (1)", 1, 1)
	if !a.Matches(b, false) {
		t.Error("Matches(matchTitles=false) = false for same index")
	}
	if a.Matches(b, true) {
		t.Error("Matches(matchTitles=true) = true for differing titles")
	}

	// A disagreeing shared ID vetoes an index match.
	c := NewEpisodeInfo("Pilot", 1, 1)
	_ = a.IDs.Set(GlobalKey(SourceTVDb), "349232")
	_ = c.IDs.Set(GlobalKey(SourceTVDb), "999999")
	if a.Matches(c, false) {
		t.Error("Matches() = true despite disagreeing shared ID")
	}
}

func TestEpisodeInfo_Key(t *testing.T) {
	ei := NewEpisodeInfo("Ozymandias", 5, 14)
	if got := ei.Key(); got != "s5e14" {
		t.Errorf("Key() = %q, want %q", got, "s5e14")
	}
}

func TestWatchedStatus_WatchedKey(t *testing.T) {
	ws := WatchedStatus{InterfaceID: 4, Library: "TV Shows", Watched: true}
	if got := ws.WatchedKey(); got != "4:TV Shows" {
		t.Errorf("WatchedKey() = %q, want %q", got, "4:TV Shows")
	}
}
