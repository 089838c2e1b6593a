package models

import (
	"fmt"
	"sort"
	"strings"
)

// PlacementKind is a slot in the content timeline where an ad may appear.
type PlacementKind string

const (
	PreRoll  PlacementKind = "pre-roll"
	MidRoll  PlacementKind = "mid-roll"
	PostRoll PlacementKind = "post-roll"
)

// placementOrder is the canonical timeline order used for sorting and for
// allocating campaigns across slots.
var placementOrder = map[PlacementKind]int{PreRoll: 0, MidRoll: 1, PostRoll: 2}

// ParsePlacementKind accepts the canonical names plus the common spellings
// "preroll", "pre_roll" and friends.
func ParsePlacementKind(s string) (PlacementKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "-", " ", "-").Replace(norm)
	switch norm {
	case "pre-roll", "preroll":
		return PreRoll, nil
	case "mid-roll", "midroll":
		return MidRoll, nil
	case "post-roll", "postroll":
		return PostRoll, nil
	}
	return "", fmt.Errorf("unknown placement kind %q", s)
}

// Valid reports whether k is one of the known placement kinds.
func (k PlacementKind) Valid() bool {
	_, ok := placementOrder[k]
	return ok
}

// NormalizePlacements returns the valid, de-duplicated kinds in timeline order.
func NormalizePlacements(kinds []PlacementKind) []PlacementKind {
	seen := make(map[PlacementKind]struct{}, len(kinds))
	out := make([]PlacementKind, 0, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return placementOrder[out[i]] < placementOrder[out[j]] })
	return out
}
