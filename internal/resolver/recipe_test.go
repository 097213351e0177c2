package resolver

import (
	"bytes"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestMerged_LayerPrecedence(t *testing.T) {
	var m merged
	m.apply(Layer{CardType: strPtr("standard"), Options: map[string]any{"a": 1, "b": 2}})
	m.apply(Layer{CardType: strPtr("anime"), Options: map[string]any{"b": 3}})

	if m.cardType != "anime" {
		t.Errorf("cardType = %q, want the later layer's value", m.cardType)
	}
	if m.options["a"] != 1 {
		t.Errorf("options[a] = %v, want 1 preserved from the lower layer", m.options["a"])
	}
	if m.options["b"] != 3 {
		t.Errorf("options[b] = %v, want 3 from the later layer", m.options["b"])
	}
}

func TestMerged_NilFieldsContributeNothing(t *testing.T) {
	var m merged
	fontID := int64(7)
	m.apply(Layer{CardType: strPtr("standard"), FontID: &fontID, WatchedStyle: strPtr("blur")})
	m.apply(Layer{})

	if m.cardType != "standard" || m.fontID == nil || *m.fontID != 7 || m.watchedStyle != "blur" {
		t.Errorf("empty layer overwrote state: %+v", m)
	}
}

func TestMerged_SeasonTitlesReplaceWholesale(t *testing.T) {
	var m merged
	m.apply(Layer{SeasonTitles: map[string]string{"1": "Part One", "2": "Part Two"}})
	m.apply(Layer{SeasonTitles: map[string]string{"*": "Specials"}})

	if len(m.seasonTitles) != 1 || m.seasonTitles["*"] != "Specials" {
		t.Errorf("seasonTitles = %v, want wholesale replacement", m.seasonTitles)
	}
}

func TestMerged_ExtrasMergeKeyWise(t *testing.T) {
	var m merged
	m.apply(Layer{Options: map[string]any{
		"extras": map[string]any{"logo": "a.png", "tint": "blue"},
	}})
	m.apply(Layer{Options: map[string]any{
		"extras": map[string]any{"tint": "red"},
	}})

	if m.extras["logo"] != "a.png" {
		t.Errorf("extras[logo] = %v, want preserved", m.extras["logo"])
	}
	if m.extras["tint"] != "red" {
		t.Errorf("extras[tint] = %v, want overridden", m.extras["tint"])
	}
	if _, ok := m.options["extras"]; ok {
		t.Error("extras leaked into the flat options map")
	}
}

func TestStyleFlags(t *testing.T) {
	tests := []struct {
		style     string
		blur      bool
		grayscale bool
	}{
		{"unique", false, false},
		{"blur", true, false},
		{"blur unique", true, false},
		{"art grayscale", false, true},
		{"blur grayscale", true, true},
		{"Blur Grayscale", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.style, func(t *testing.T) {
			blur, grayscale := styleFlags(tt.style)
			if blur != tt.blur || grayscale != tt.grayscale {
				t.Errorf("styleFlags(%q) = (%v, %v), want (%v, %v)",
					tt.style, blur, grayscale, tt.blur, tt.grayscale)
			}
		})
	}
}

func TestRecipe_SeasonTitle(t *testing.T) {
	r := &Recipe{SeasonTitles: map[string]string{"1": "Book One", "*": "Extras"}}

	if title, ok := r.SeasonTitle(1); !ok || title != "Book One" {
		t.Errorf("SeasonTitle(1) = (%q, %v), want exact match", title, ok)
	}
	if title, ok := r.SeasonTitle(9); !ok || title != "Extras" {
		t.Errorf("SeasonTitle(9) = (%q, %v), want wildcard", title, ok)
	}

	empty := &Recipe{}
	if _, ok := empty.SeasonTitle(1); ok {
		t.Error("SeasonTitle() = ok on empty map")
	}
}

func TestMarshalCanonical_Deterministic(t *testing.T) {
	make_ := func() *Recipe {
		return &Recipe{
			CardType:     "standard",
			SeriesName:   "Breaking Bad",
			SeriesYear:   2008,
			Title:        "Ozymandias",
			SeasonTitles: map[string]string{"5": "Final Season", "1": "Season One"},
			Options:      map[string]any{"zeta": 1, "alpha": 2},
			Extras:       map[string]any{"b": true, "a": false},
		}
	}

	first, err := make_().MarshalCanonical()
	if err != nil {
		t.Fatalf("MarshalCanonical() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := make_().MarshalCanonical()
		if err != nil {
			t.Fatalf("MarshalCanonical() error = %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("MarshalCanonical() not deterministic:\n%s\n%s", first, again)
		}
	}
}
