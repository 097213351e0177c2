package info

import (
	"fmt"
	"time"
)

// EpisodeInfo is the canonical identity of an episode across all sources.
type EpisodeInfo struct {
	Title          string     `json:"title"`
	SeasonNumber   int        `json:"seasonNumber"`
	EpisodeNumber  int        `json:"episodeNumber"`
	AbsoluteNumber *int       `json:"absoluteNumber,omitempty"`
	Airdate        *time.Time `json:"airdate,omitempty"`
	IDs            IDSet      `json:"ids"`
}

// NewEpisodeInfo creates an EpisodeInfo with an empty ID set.
func NewEpisodeInfo(title string, season, episode int) *EpisodeInfo {
	return &EpisodeInfo{
		Title:         title,
		SeasonNumber:  season,
		EpisodeNumber: episode,
		IDs:           make(IDSet),
	}
}

// Key is the index key used throughout the card pipeline and in blueprint
// documents: "s<season>e<episode>".
func (ei *EpisodeInfo) Key() string {
	return fmt.Sprintf("s%de%d", ei.SeasonNumber, ei.EpisodeNumber)
}

// Matches reports whether two EpisodeInfo within the same series refer to
// the same episode. Any shared ID decides; otherwise (season, episode),
// optionally also requiring a title match.
func (ei *EpisodeInfo) Matches(other *EpisodeInfo, matchTitles bool) bool {
	if other == nil {
		return false
	}
	if match, overlap := ei.IDs.SharedIDMatch(other.IDs); overlap {
		return match
	}
	if ei.SeasonNumber != other.SeasonNumber || ei.EpisodeNumber != other.EpisodeNumber {
		return false
	}
	if matchTitles {
		return MatchName(ei.Title) == MatchName(other.Title)
	}
	return true
}

// MergeIDs copies IDs from other into ei, never overwriting non-empty
// values.
func (ei *EpisodeInfo) MergeIDs(other *EpisodeInfo) error {
	if other == nil {
		return nil
	}
	if ei.IDs == nil {
		ei.IDs = make(IDSet)
	}
	return ei.IDs.Merge(other.IDs)
}

// QueryCondition produces a SQL predicate matching this episode by any
// known ID, falling back to (season_number, episode_number). The clause
// references the episodes table's columns; the caller scopes it to a
// series.
func (ei *EpisodeInfo) QueryCondition() (clause string, args []any) {
	var parts []string
	for k, v := range ei.IDs {
		if v == "" {
			continue
		}
		parts = append(parts, "json_extract(ids, '$.\""+k.String()+"\"') = ?")
		args = append(args, v)
	}
	parts = append(parts, "(season_number = ? AND episode_number = ?)")
	args = append(args, ei.SeasonNumber, ei.EpisodeNumber)
	clause = "(" + parts[0]
	for _, p := range parts[1:] {
		clause += " OR " + p
	}
	clause += ")"
	return clause, args
}

// WatchedStatus is an episode's watched flag within one server library.
type WatchedStatus struct {
	InterfaceID int64  `json:"interfaceId"`
	Library     string `json:"library"`
	Watched     bool   `json:"watched"`
}

// WatchedKey is the map key used in an episode's per-library watched map.
func (ws WatchedStatus) WatchedKey() string {
	return fmt.Sprintf("%d:%s", ws.InterfaceID, ws.Library)
}
