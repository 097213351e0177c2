package info

import (
	"fmt"
	"strings"
	"unicode"
)

// SeriesInfo is the canonical identity of a series across all sources.
type SeriesInfo struct {
	Name string `json:"name"`
	Year int    `json:"year"`
	IDs  IDSet  `json:"ids"`
}

// NewSeriesInfo creates a SeriesInfo with an empty ID set.
func NewSeriesInfo(name string, year int) *SeriesInfo {
	return &SeriesInfo{Name: name, Year: year, IDs: make(IDSet)}
}

// FullName is the display name with the release year.
func (si *SeriesInfo) FullName() string {
	return fmt.Sprintf("%s (%d)", si.Name, si.Year)
}

// MatchName is the normalized name used for fuzzy equality: lowercased
// alphanumerics only. Recomputed on demand so name edits cannot leave a
// stale value.
func (si *SeriesInfo) MatchName() string {
	return MatchName(si.Name)
}

// MatchName lowercases a title and strips everything that is not a letter
// or digit.
func MatchName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Matches reports whether two SeriesInfo refer to the same series. Any
// shared ID decides; otherwise fall back to match-name equality with a
// one-year tolerance for alias resolution.
func (si *SeriesInfo) Matches(other *SeriesInfo) bool {
	if other == nil {
		return false
	}
	if match, overlap := si.IDs.SharedIDMatch(other.IDs); overlap {
		return match
	}
	if si.MatchName() != other.MatchName() {
		return false
	}
	diff := si.Year - other.Year
	return diff >= -1 && diff <= 1
}

// MergeIDs copies IDs from other into si, never overwriting non-empty
// values. Returns ErrConflictingIDs when both sides disagree on a key.
func (si *SeriesInfo) MergeIDs(other *SeriesInfo) error {
	if other == nil {
		return nil
	}
	if si.IDs == nil {
		si.IDs = make(IDSet)
	}
	return si.IDs.Merge(other.IDs)
}

// QueryCondition produces a SQL predicate matching this series by any known
// ID, falling back to (match_name, year). The returned clause references
// the series table's ids, match_name and year columns.
func (si *SeriesInfo) QueryCondition() (clause string, args []any) {
	var parts []string
	for k, v := range si.IDs {
		if v == "" {
			continue
		}
		parts = append(parts, "json_extract(ids, '$.\""+k.String()+"\"') = ?")
		args = append(args, v)
	}
	parts = append(parts, "(match_name = ? AND year BETWEEN ? AND ?)")
	args = append(args, si.MatchName(), si.Year-1, si.Year+1)
	return "(" + strings.Join(parts, " OR ") + ")", args
}
