package resolver

import (
	"testing"
)

func TestIsGenericTitle(t *testing.T) {
	tests := []struct {
		title string
		lang  string
		want  bool
	}{
		{"Episode 5", "en", true},
		{"episode 12", "en", true},
		{"Ozymandias", "en", false},
		{"Episodio 3", "es", true},
		{"La Casa", "es", false},
		{"Épisode 7", "fr", true},
		{"Episode 7", "fr", true},
		{"Folge 2", "de", true},
		{"Der Anfang", "de", false},
		{"Episódio 9", "pt", true},
		{"第3話", "ja", true},
		{"進撃の巨人", "ja", false},
		{"", "en", true},
		{"   ", "en", true},
		// Region suffixes use the base language's patterns.
		{"Episodio 4", "es-MX", true},
		{"Episode 1", "pt_BR", true},
		// The fallback catches English placeholders in any language.
		{"Chapter 10", "ko", true},
		{"Episode 10", "ko", true},
	}
	for _, tt := range tests {
		t.Run(tt.lang+"/"+tt.title, func(t *testing.T) {
			if got := IsGenericTitle(tt.title, tt.lang); got != tt.want {
				t.Errorf("IsGenericTitle(%q, %q) = %v, want %v", tt.title, tt.lang, got, tt.want)
			}
		})
	}
}

func TestTranslationRequests(t *testing.T) {
	options := map[string]any{
		"translations": []any{
			map[string]any{"data_key": "title_es", "language_code": "es"},
			map[string]any{"data_key": "title_ja", "language_code": "ja"},
			map[string]any{"data_key": "", "language_code": "fr"},
			"not a map",
		},
	}
	got := TranslationRequests(options)
	if len(got) != 2 {
		t.Fatalf("TranslationRequests() = %d requests, want 2", len(got))
	}
	if got[0].DataKey != "title_es" || got[0].LanguageCode != "es" {
		t.Errorf("first request = %+v", got[0])
	}
	if got[1].DataKey != "title_ja" || got[1].LanguageCode != "ja" {
		t.Errorf("second request = %+v", got[1])
	}
}

func TestTranslationRequests_MissingOption(t *testing.T) {
	if got := TranslationRequests(nil); got != nil {
		t.Errorf("TranslationRequests(nil) = %v, want nil", got)
	}
	if got := TranslationRequests(map[string]any{"translations": "oops"}); got != nil {
		t.Errorf("TranslationRequests(non-list) = %v, want nil", got)
	}
}
