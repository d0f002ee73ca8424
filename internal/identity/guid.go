package identity

import (
	"encoding/json"
	"sort"
	"strings"
)

// GUID is one typed external identifier in "agency:value" form,
// e.g. "tmdb:603" or "imdb:tt0133093".
type GUID string

// Agency returns the identifier authority ("tmdb", "tvdb", ...) or an empty
// string for opaque GUIDs.
func (g GUID) Agency() string {
	if idx := strings.IndexByte(string(g), ':'); idx > 0 {
		return string(g)[:idx]
	}
	return ""
}

// Value returns the agency-local identifier portion.
func (g GUID) Value() string {
	if idx := strings.IndexByte(string(g), ':'); idx >= 0 {
		return string(g)[idx+1:]
	}
	return string(g)
}

// DiffKey is the single canonical GUID used as a map key when diffing feed
// snapshots. It is a performance optimization only and must never be used to
// enforce uniqueness.
type DiffKey string

// ContentIdentity is the full normalized GUID set of one piece of content,
// in canonical order.
type ContentIdentity []GUID

// agencyRank orders authoritative agencies ahead of incidental ones so the
// first GUID of a canonical identity is stable across payload orderings.
func agencyRank(agency string) int {
	switch agency {
	case "tmdb":
		return 0
	case "tvdb":
		return 1
	case "imdb":
		return 2
	case "":
		return 4
	default:
		return 3
	}
}

// Parse normalizes one raw GUID value. It accepts "agency://value" and
// "agency:value" forms as well as a JSON-encoded string or list of strings.
// Malformed encodings degrade to a single opaque GUID rather than failing.
func Parse(raw string) []GUID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if strings.HasPrefix(raw, "[") {
		var values []string
		if err := json.Unmarshal([]byte(raw), &values); err == nil {
			var out []GUID
			for _, v := range values {
				out = append(out, Parse(v)...)
			}
			return out
		}
		return []GUID{GUID(raw)}
	}
	if strings.HasPrefix(raw, `"`) {
		var value string
		if err := json.Unmarshal([]byte(raw), &value); err == nil {
			return Parse(value)
		}
		return []GUID{GUID(raw)}
	}

	if agency, value, ok := strings.Cut(raw, "://"); ok && agency != "" && value != "" {
		return []GUID{GUID(strings.ToLower(agency) + ":" + value)}
	}
	if agency, value, ok := strings.Cut(raw, ":"); ok && agency != "" && value != "" {
		return []GUID{GUID(strings.ToLower(agency) + ":" + value)}
	}
	return []GUID{GUID(raw)}
}

// NewIdentity builds a canonical ContentIdentity from raw GUID values:
// parsed, deduplicated, and sorted into canonical order.
func NewIdentity(raw ...string) ContentIdentity {
	var guids []GUID
	for _, value := range raw {
		guids = append(guids, Parse(value)...)
	}
	if len(guids) == 0 {
		return nil
	}

	seen := make(map[GUID]struct{}, len(guids))
	identity := make(ContentIdentity, 0, len(guids))
	for _, g := range guids {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		identity = append(identity, g)
	}

	sort.SliceStable(identity, func(i, j int) bool {
		ri, rj := agencyRank(identity[i].Agency()), agencyRank(identity[j].Agency())
		if ri != rj {
			return ri < rj
		}
		return identity[i] < identity[j]
	})
	return identity
}

// DiffKey returns the first GUID in canonical order, or an empty key for an
// empty identity.
func (c ContentIdentity) DiffKey() DiffKey {
	if len(c) == 0 {
		return ""
	}
	return DiffKey(c[0])
}

// Strings returns the identity as plain strings, preserving canonical order.
func (c ContentIdentity) Strings() []string {
	if len(c) == 0 {
		return nil
	}
	out := make([]string, len(c))
	for i, g := range c {
		out[i] = string(g)
	}
	return out
}

// ValueFor returns the agency-local identifier for the given agency, if the
// identity carries one.
func (c ContentIdentity) ValueFor(agency string) (string, bool) {
	for _, g := range c {
		if g.Agency() == agency {
			return g.Value(), true
		}
	}
	return "", false
}

// AuthorityFor names the agency whose agreement carries extra match weight
// for a content kind: tmdb for movies, tvdb for shows.
func AuthorityFor(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "movie":
		return "tmdb"
	case "show":
		return "tvdb"
	default:
		return ""
	}
}

// HasMatch reports whether the two identities intersect. Either side being
// empty yields no match.
func HasMatch(a, b ContentIdentity) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[GUID]struct{}, len(a))
	for _, g := range a {
		set[g] = struct{}{}
	}
	for _, g := range b {
		if _, ok := set[g]; ok {
			return true
		}
	}
	return false
}

// MatchScore counts overlapping GUIDs, weighting agreement on the
// authoritative agency for the given kind above incidental overlaps. A zero
// score means no match. Used to pick the single best candidate when several
// items could plausibly correspond to one pending record.
func MatchScore(a, b ContentIdentity, kind string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	authority := AuthorityFor(kind)

	set := make(map[GUID]struct{}, len(a))
	for _, g := range a {
		set[g] = struct{}{}
	}

	score := 0
	for _, g := range b {
		if _, ok := set[g]; !ok {
			continue
		}
		if authority != "" && g.Agency() == authority {
			score += 2
		} else {
			score++
		}
	}
	return score
}
