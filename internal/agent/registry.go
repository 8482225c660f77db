package agent

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ciatc/band/internal/errors"
)

// Spec declares one agent.
type Spec struct {
	ID ID
	// Role is the short label shown in reports, e.g. "Structure".
	Role string
	// Responsibility is the one-line description offered to the conductor.
	Responsibility string
	// DependsOn lists agents whose output this agent consumes.
	DependsOn []ID
	Handler   Handler
}

// Phase is one step of a plan: agents with no dependency on each other.
type Phase struct {
	// Number is the static phase number, starting at 1. Plans keep the
	// registry's numbering even when earlier phases are empty.
	Number int
	Agents []ID
}

// Plan is an ordered sequence of non-empty phases.
type Plan []Phase

// Len returns the number of agents across all phases.
func (p Plan) Len() int {
	n := 0
	for _, ph := range p {
		n += len(ph.Agents)
	}
	return n
}

// String renders the plan as "1:[john george] 2:[pete]".
func (p Plan) String() string {
	parts := make([]string, len(p))
	for i, ph := range p {
		parts[i] = fmt.Sprintf("%d:[%s]", ph.Number, strings.Join(Names(ph.Agents), " "))
	}
	return strings.Join(parts, " ")
}

// Registry holds the registered agents and their static phase assignment.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	specs  map[ID]Spec
	order  []ID // registration order
	phase  map[ID]int
	phases [][]ID
}

// NewRegistry validates specs and levelizes their dependency graph.
// It fails on unknown or duplicate identities, missing handlers,
// dependencies on unregistered agents, and cycles.
func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{
		specs: make(map[ID]Spec, len(specs)),
		phase: make(map[ID]int, len(specs)),
	}

	for _, s := range specs {
		if !s.ID.Valid() {
			return nil, fmt.Errorf("%w: %q", errors.ErrUnknownAgent, s.ID)
		}
		if _, dup := r.specs[s.ID]; dup {
			return nil, fmt.Errorf("agent %s registered twice", s.ID)
		}
		if s.Handler == nil {
			return nil, fmt.Errorf("agent %s has no handler", s.ID)
		}
		r.specs[s.ID] = s
		r.order = append(r.order, s.ID)
	}

	for _, id := range r.order {
		for _, dep := range r.specs[id].DependsOn {
			if _, ok := r.specs[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on unregistered %q", errors.ErrUnknownAgent, id, dep)
			}
			if dep == id {
				return nil, fmt.Errorf("%w: %s depends on itself", errors.ErrDependencyCycle, id)
			}
		}
	}

	if err := r.levelize(); err != nil {
		return nil, err
	}
	return r, nil
}

// levelize assigns phases level by level (Kahn's algorithm). An agent lands
// in the level after its deepest dependency.
func (r *Registry) levelize() error {
	inDegree := make(map[ID]int, len(r.order))
	dependents := make(map[ID][]ID, len(r.order))
	for _, id := range r.order {
		for _, dep := range r.specs[id].DependsOn {
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var level []ID
	for _, id := range r.order {
		if inDegree[id] == 0 {
			level = append(level, id)
		}
	}

	placed := 0
	for n := 1; len(level) > 0; n++ {
		r.sortByOrder(level)
		r.phases = append(r.phases, level)
		for _, id := range level {
			r.phase[id] = n
		}
		placed += len(level)

		var next []ID
		for _, id := range level {
			for _, d := range dependents[id] {
				inDegree[d]--
				if inDegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		level = next
	}

	if placed != len(r.order) {
		var stuck []string
		for _, id := range r.order {
			if _, ok := r.phase[id]; !ok {
				stuck = append(stuck, string(id))
			}
		}
		return fmt.Errorf("%w: %s", errors.ErrDependencyCycle, strings.Join(stuck, ", "))
	}
	return nil
}

func (r *Registry) sortByOrder(ids []ID) {
	pos := make(map[ID]int, len(r.order))
	for i, id := range r.order {
		pos[id] = i
	}
	slices.SortFunc(ids, func(a, b ID) int { return pos[a] - pos[b] })
}

// Spec returns the declaration of id.
func (r *Registry) Spec(id ID) (Spec, bool) {
	s, ok := r.specs[id]
	return s, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id ID) bool {
	_, ok := r.specs[id]
	return ok
}

// IDs returns the registered agents in registration order.
func (r *Registry) IDs() []ID {
	return slices.Clone(r.order)
}

// PhaseOf returns the static phase of id, or 0 if it is not registered.
func (r *Registry) PhaseOf(id ID) int {
	return r.phase[id]
}

// Phases returns the full static schedule.
func (r *Registry) Phases() Plan {
	return r.Plan(r.order)
}

// Canonical returns ids deduplicated, restricted to registered agents, and
// sorted by phase then registration order. Unknown ids are returned
// separately.
func (r *Registry) Canonical(ids []ID) (known, unknown []ID) {
	seen := make(map[ID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if r.Has(id) {
			known = append(known, id)
		} else {
			unknown = append(unknown, id)
		}
	}
	pos := make(map[ID]int, len(r.order))
	for i, id := range r.order {
		pos[id] = i
	}
	slices.SortFunc(known, func(a, b ID) int {
		if pa, pb := r.phase[a], r.phase[b]; pa != pb {
			return pa - pb
		}
		return pos[a] - pos[b]
	})
	return known, unknown
}

// Plan partitions the requested agents into the static phases. Agents not
// requested are absent; phases left empty are dropped. Unregistered ids are
// ignored, so callers that care should check Canonical first.
//
// A requested agent whose dependencies were not requested still runs in its
// own phase; it simply receives no upstream output for them.
func (r *Registry) Plan(ids []ID) Plan {
	known, _ := r.Canonical(ids)
	var plan Plan
	for _, id := range known {
		n := r.phase[id]
		if len(plan) == 0 || plan[len(plan)-1].Number != n {
			plan = append(plan, Phase{Number: n})
		}
		last := &plan[len(plan)-1]
		last.Agents = append(last.Agents, id)
	}
	return plan
}

// Responsibilities renders "- name: responsibility" lines for the given
// agents, in canonical order.
func (r *Registry) Responsibilities(ids []ID) string {
	known, _ := r.Canonical(ids)
	var sb strings.Builder
	for _, id := range known {
		s := r.specs[id]
		fmt.Fprintf(&sb, "- %s: %s", id, s.Responsibility)
		if len(s.DependsOn) > 0 {
			fmt.Fprintf(&sb, " (uses output of %s)", strings.Join(Names(s.DependsOn), ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
