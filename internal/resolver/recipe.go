// Package resolver materializes render recipes. A recipe is composed from
// layered sources, lowest precedence first: global defaults, each attached
// template whose filters match, the series, then the episode.
package resolver

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
)

// Recipe is the fully resolved set of inputs a card type renders from.
type Recipe struct {
	CardType      string            `json:"cardType"`
	SeriesName    string            `json:"seriesName"`
	SeriesYear    int               `json:"seriesYear"`
	Title         string            `json:"title"`
	SeasonNumber  int               `json:"seasonNumber"`
	EpisodeNumber int               `json:"episodeNumber"`
	Style         string            `json:"style"`
	Blur          bool              `json:"blur"`
	Grayscale     bool              `json:"grayscale"`
	Font          *library.Font     `json:"font,omitempty"`
	SeasonTitles  map[string]string `json:"seasonTitles,omitempty"`
	Translations  map[string]string `json:"translations,omitempty"`
	Options       map[string]any    `json:"options,omitempty"`
	Extras        map[string]any    `json:"extras,omitempty"`
	SourceFile    string            `json:"sourceFile,omitempty"`
	LogoFile      string            `json:"logoFile,omitempty"`
}

// SeasonTitle returns the title for a season, checking an exact season key
// first and then a wildcard entry.
func (r *Recipe) SeasonTitle(season int) (string, bool) {
	if t, ok := r.SeasonTitles[fmt.Sprintf("%d", season)]; ok {
		return t, true
	}
	if t, ok := r.SeasonTitles["*"]; ok {
		return t, true
	}
	return "", false
}

// MarshalCanonical serializes the recipe with sorted keys so equal recipes
// always produce identical bytes. encoding/json already sorts map keys;
// struct fields marshal in declaration order, which is fixed.
func (r *Recipe) MarshalCanonical() ([]byte, error) {
	return json.Marshal(r)
}

// Layer is one precedence level's contribution to a recipe. Nil fields
// contribute nothing; a non-nil field overrides every lower layer.
type Layer struct {
	CardType       *string
	FontID         *int64
	WatchedStyle   *string
	UnwatchedStyle *string
	// SeasonTitles replaces wholesale when non-nil.
	SeasonTitles map[string]string
	// Options merge per key. The "extras" key is itself a map and merges
	// key-wise instead of replacing.
	Options map[string]any
}

// merged is the accumulating state of a resolution pass.
type merged struct {
	cardType       string
	fontID         *int64
	watchedStyle   string
	unwatchedStyle string
	seasonTitles   map[string]string
	options        map[string]any
	extras         map[string]any
}

// apply folds one layer into the accumulated state. Later calls win.
func (m *merged) apply(l Layer) {
	if l.CardType != nil {
		m.cardType = *l.CardType
	}
	if l.FontID != nil {
		m.fontID = l.FontID
	}
	if l.WatchedStyle != nil {
		m.watchedStyle = *l.WatchedStyle
	}
	if l.UnwatchedStyle != nil {
		m.unwatchedStyle = *l.UnwatchedStyle
	}
	if l.SeasonTitles != nil {
		m.seasonTitles = make(map[string]string, len(l.SeasonTitles))
		for k, v := range l.SeasonTitles {
			m.seasonTitles[k] = v
		}
	}
	for _, k := range sortedKeys(l.Options) {
		v := l.Options[k]
		if v == nil {
			continue
		}
		if k == "extras" {
			if ex, ok := v.(map[string]any); ok {
				if m.extras == nil {
					m.extras = make(map[string]any)
				}
				for ek, ev := range ex {
					m.extras[ek] = ev
				}
			}
			continue
		}
		if m.options == nil {
			m.options = make(map[string]any)
		}
		m.options[k] = v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// styleFlags derives the blur and grayscale toggles from a style name
// such as "blur unique" or "art grayscale".
func styleFlags(style string) (blur, grayscale bool) {
	lower := strings.ToLower(style)
	return strings.Contains(lower, "blur"), strings.Contains(lower, "grayscale")
}

// layerFromTemplate converts a template into a resolution layer.
func layerFromTemplate(t *library.Template) Layer {
	return Layer{
		CardType: t.CardType,
		FontID:   t.FontID,
		Options:  t.Options,
	}
}

// layerFromSeries converts a series' overrides into a resolution layer.
func layerFromSeries(s *library.Series) Layer {
	l := Layer{
		CardType:       s.CardType,
		FontID:         s.FontID,
		WatchedStyle:   s.WatchedStyle,
		UnwatchedStyle: s.UnwatchedStyle,
		Options:        s.Options,
	}
	if len(s.SeasonTitles) > 0 {
		l.SeasonTitles = s.SeasonTitles
	}
	return l
}

// layerFromEpisode converts an episode's overrides into a resolution layer.
func layerFromEpisode(e *library.Episode) Layer {
	return Layer{
		FontID:  e.FontID,
		Options: e.Options,
	}
}
