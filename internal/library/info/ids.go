package info

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrConflictingIDs is returned when two info objects hold different
// non-empty values for the same ID key.
var ErrConflictingIDs = errors.New("conflicting ids")

// SourceKind identifies where a foreign ID came from.
type SourceKind string

const (
	SourceIMDb     SourceKind = "imdb"
	SourceTMDb     SourceKind = "tmdb"
	SourceTVDb     SourceKind = "tvdb"
	SourceTVRage   SourceKind = "tvrage"
	SourceEmby     SourceKind = "emby"
	SourceJellyfin SourceKind = "jellyfin"
	SourcePlex     SourceKind = "plex"
	SourceSonarr   SourceKind = "sonarr"
)

// IDKey identifies a foreign ID slot. Global sources (IMDb, TMDb, TVDb,
// TVRage) use a zero InterfaceID and empty Library; media servers key by
// connection instance and, where the server scopes IDs per library, by
// library name as well.
type IDKey struct {
	Kind        SourceKind
	InterfaceID int64
	Library     string
}

// Specificity orders keys for conflict tie-breaks:
// (kind, instance, library) > (kind, instance) > (kind).
func (k IDKey) Specificity() int {
	s := 1
	if k.InterfaceID != 0 {
		s++
	}
	if k.Library != "" {
		s++
	}
	return s
}

func (k IDKey) String() string {
	return fmt.Sprintf("%s:%d:%s", k.Kind, k.InterfaceID, k.Library)
}

func parseIDKey(s string) (IDKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return IDKey{}, fmt.Errorf("malformed id key %q", s)
	}
	iid, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return IDKey{}, fmt.Errorf("malformed interface id in key %q: %w", s, err)
	}
	return IDKey{Kind: SourceKind(parts[0]), InterfaceID: iid, Library: parts[2]}, nil
}

// IDSet maps ID keys to foreign ID values.
type IDSet map[IDKey]string

// Get returns the ID stored for key, or "".
func (s IDSet) Get(key IDKey) string {
	return s[key]
}

// Set stores an ID, refusing to overwrite a different non-empty value.
// An ID of a given key is immutable once set unless an explicit re-query
// proves it changed; callers that have re-queried use Replace.
func (s IDSet) Set(key IDKey, id string) error {
	if id == "" {
		return nil
	}
	if existing, ok := s[key]; ok && existing != "" && existing != id {
		return fmt.Errorf("%w: %s has %q, refusing %q", ErrConflictingIDs, key, existing, id)
	}
	s[key] = id
	return nil
}

// Replace stores an ID unconditionally. Used when a re-query proved the
// upstream ID changed.
func (s IDSet) Replace(key IDKey, id string) {
	if id == "" {
		delete(s, key)
		return
	}
	s[key] = id
}

// Merge copies any IDs from other that s lacks. Non-empty IDs in s are
// never overwritten; a differing non-empty value on both sides is a
// conflict.
func (s IDSet) Merge(other IDSet) error {
	// Deterministic order so the first conflict reported is stable.
	keys := make([]IDKey, 0, len(other))
	for k := range other {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, k := range keys {
		if err := s.Set(k, other[k]); err != nil {
			return err
		}
	}
	return nil
}

// SharedIDMatch reports whether the two sets agree on any common key.
// The second return is true when at least one common key exists, so
// callers can distinguish "no overlap" from "overlap disagrees".
func (s IDSet) SharedIDMatch(other IDSet) (match, overlap bool) {
	for k, v := range s {
		if v == "" {
			continue
		}
		if ov, ok := other[k]; ok && ov != "" {
			overlap = true
			if ov == v {
				return true, true
			}
		}
	}
	return false, overlap
}

// MarshalJSON encodes the set as {"kind:interface:library": id}.
func (s IDSet) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, len(s))
	for k, v := range s {
		m[k.String()] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the {"kind:interface:library": id} form.
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(IDSet, len(m))
	for ks, v := range m {
		k, err := parseIDKey(ks)
		if err != nil {
			return err
		}
		out[k] = v
	}
	*s = out
	return nil
}

// GlobalKey builds an IDKey for a provider-wide source.
func GlobalKey(kind SourceKind) IDKey {
	return IDKey{Kind: kind}
}

// InstanceKey builds an IDKey scoped to a connection instance.
func InstanceKey(kind SourceKind, interfaceID int64) IDKey {
	return IDKey{Kind: kind, InterfaceID: interfaceID}
}

// LibraryKey builds an IDKey scoped to a library of a connection instance.
func LibraryKey(kind SourceKind, interfaceID int64, library string) IDKey {
	return IDKey{Kind: kind, InterfaceID: interfaceID, Library: library}
}
