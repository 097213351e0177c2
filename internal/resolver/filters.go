package resolver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
)

// FilterContext is the evaluation scope a template filter sees.
type FilterContext struct {
	SeriesName     string
	SeriesYear     int
	SeasonNumber   int
	EpisodeNumber  int
	AbsoluteNumber *int
	Title          string
	Airdate        *time.Time
	Watched        bool
}

// argument resolves a filter argument name to its context value.
func (fc FilterContext) argument(name string) (any, bool) {
	switch name {
	case "series_name":
		return fc.SeriesName, true
	case "series_year":
		return fc.SeriesYear, true
	case "season_number":
		return fc.SeasonNumber, true
	case "episode_number":
		return fc.EpisodeNumber, true
	case "absolute_number":
		if fc.AbsoluteNumber == nil {
			return nil, false
		}
		return *fc.AbsoluteNumber, true
	case "title":
		return fc.Title, true
	case "airdate":
		if fc.Airdate == nil {
			return nil, false
		}
		return *fc.Airdate, true
	case "watched":
		return fc.Watched, true
	}
	return nil, false
}

// FiltersMatch reports whether every filter of the set holds in the given
// context. An empty set always matches; an unknown argument or a
// malformed reference fails the conjunction.
func FiltersMatch(filters []library.Filter, fc FilterContext) bool {
	for _, f := range filters {
		if !filterMatches(f, fc) {
			return false
		}
	}
	return true
}

func filterMatches(f library.Filter, fc FilterContext) bool {
	value, ok := fc.argument(f.Argument)
	if !ok {
		return false
	}

	switch f.Operation {
	case library.OpIsTrue:
		b, ok := value.(bool)
		return ok && b
	case library.OpIsFalse:
		b, ok := value.(bool)
		return ok && !b
	case library.OpEquals:
		return compareEqual(value, f.Reference)
	case library.OpNotEquals:
		return !compareEqual(value, f.Reference)
	case library.OpLessThan:
		av, bv, ok := asNumbers(value, f.Reference)
		return ok && av < bv
	case library.OpGreaterThan:
		av, bv, ok := asNumbers(value, f.Reference)
		return ok && av > bv
	case library.OpIn:
		return inList(value, f.Reference)
	case library.OpBefore:
		t, ok := value.(time.Time)
		if !ok {
			return false
		}
		ref, err := time.Parse("2006-01-02", f.Reference)
		return err == nil && t.Before(ref)
	case library.OpAfter:
		t, ok := value.(time.Time)
		if !ok {
			return false
		}
		ref, err := time.Parse("2006-01-02", f.Reference)
		return err == nil && t.After(ref)
	case library.OpContains:
		s, ok := value.(string)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(f.Reference))
	case library.OpMatchesRegex:
		s, ok := value.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(f.Reference)
		return err == nil && re.MatchString(s)
	}
	return false
}

func compareEqual(value any, reference string) bool {
	switch v := value.(type) {
	case string:
		return strings.EqualFold(v, reference)
	case int:
		n, err := strconv.Atoi(reference)
		return err == nil && v == n
	case bool:
		b, err := strconv.ParseBool(reference)
		return err == nil && v == b
	case time.Time:
		ref, err := time.Parse("2006-01-02", reference)
		return err == nil && v.Equal(ref)
	}
	return fmt.Sprintf("%v", value) == reference
}

func asNumbers(value any, reference string) (float64, float64, bool) {
	ref, err := strconv.ParseFloat(reference, 64)
	if err != nil {
		return 0, 0, false
	}
	switch v := value.(type) {
	case int:
		return float64(v), ref, true
	case float64:
		return v, ref, true
	}
	return 0, 0, false
}

// inList matches the value against a comma-separated reference list.
func inList(value any, reference string) bool {
	for _, part := range strings.Split(reference, ",") {
		if compareEqual(value, strings.TrimSpace(part)) {
			return true
		}
	}
	return false
}
