package agent

import (
	"fmt"
	"strings"

	"github.com/ciatc/band/internal/errors"
)

// ID identifies one agent. The set is closed: only the constants below are
// valid, and every lookup by name goes through [Parse].
type ID string

const (
	John     ID = "john"
	George   ID = "george"
	Paul     ID = "paul"
	Gilfoyle ID = "gilfoyle"
	Pete     ID = "pete"
	Ringo    ID = "ringo"
	Marie    ID = "marie"
)

// All returns every agent in declaration order.
func All() []ID {
	return []ID{John, George, Paul, Gilfoyle, Pete, Ringo, Marie}
}

// Valid reports whether id is one of the declared agents.
func (id ID) Valid() bool {
	for _, known := range All() {
		if id == known {
			return true
		}
	}
	return false
}

func (id ID) String() string { return string(id) }

// Title returns the capitalized name used in reports.
func (id ID) Title() string {
	s := string(id)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Parse converts a name to an ID. Matching is case-insensitive and ignores
// surrounding space.
func Parse(name string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(name)))
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", errors.ErrUnknownAgent, name)
	}
	return id, nil
}

// ParseAll converts names to IDs, failing on the first unknown name.
// Duplicates are dropped, first occurrence wins.
func ParseAll(names []string) ([]ID, error) {
	ids := make([]ID, 0, len(names))
	seen := make(map[ID]bool, len(names))
	for _, name := range names {
		id, err := Parse(name)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// Names converts ids to their string form.
func Names(ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
