// Package deps tracks which annotation phases are up to date by comparing
// phase timestamps along the dependency graph.
package deps

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors for the deps package.
var (
	// ErrPhaseAlreadyRegistered is returned when registering a duplicate phase.
	ErrPhaseAlreadyRegistered = errors.New("phase already registered")

	// ErrPhaseNotFound is returned when a phase or dependency is unknown.
	ErrPhaseNotFound = errors.New("phase not found")

	// ErrDependencyCycle is returned when phase dependencies form a cycle.
	ErrDependencyCycle = errors.New("dependency cycle detected")
)

// Phase is a node of the dependency graph.
type Phase struct {
	Name         string
	Dependencies []string
	// Optional phases count as up to date when they have no timestamp.
	Optional bool
}

// Graph holds phases and their immediate predecessors.
type Graph struct {
	mu     sync.RWMutex
	phases map[string]Phase
	order  []string // registration order
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{phases: make(map[string]Phase)}
}

// Register adds a phase.
func (g *Graph) Register(p Phase) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.phases[p.Name]; exists {
		return fmt.Errorf("%w: %s", ErrPhaseAlreadyRegistered, p.Name)
	}
	g.phases[p.Name] = p
	g.order = append(g.order, p.Name)
	return nil
}

// Get returns a phase by name.
func (g *Graph) Get(name string) (Phase, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.phases[name]
	return p, ok
}

// Names returns all phase names in registration order.
func (g *Graph) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// Ordered returns phase names sorted so that every phase follows its
// dependencies. Ties keep registration order.
func (g *Graph) Ordered() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.orderedLocked()
}

func (g *Graph) orderedLocked() ([]string, error) {
	inDegree := make(map[string]int, len(g.order))
	for _, name := range g.order {
		for _, dep := range g.phases[name].Dependencies {
			if _, ok := g.phases[dep]; !ok {
				return nil, fmt.Errorf("%w: phase %q depends on %q", ErrPhaseNotFound, name, dep)
			}
			inDegree[name]++
		}
	}

	// Kahn's algorithm
	var queue []string
	for _, name := range g.order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	var ordered []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, name)
		for _, other := range g.order {
			for _, dep := range g.phases[other].Dependencies {
				if dep == name {
					inDegree[other]--
					if inDegree[other] == 0 {
						queue = append(queue, other)
					}
				}
			}
		}
	}
	if len(ordered) != len(g.phases) {
		return nil, ErrDependencyCycle
	}
	return ordered, nil
}

// Validate checks that every dependency exists and there are no cycles.
func (g *Graph) Validate() error {
	_, err := g.Ordered()
	return err
}

// DependenciesOf returns the immediate predecessors of name.
func (g *Graph) DependenciesOf(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.phases[name].Dependencies...)
}

// DependentsOf returns the phases that list name as an immediate
// predecessor, in registration order.
func (g *Graph) DependentsOf(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for _, other := range g.order {
		for _, dep := range g.phases[other].Dependencies {
			if dep == name {
				out = append(out, other)
				break
			}
		}
	}
	return out
}

// Closure returns every transitive predecessor of name in dependency
// order.
func (g *Graph) Closure(name string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.phases[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrPhaseNotFound, name)
	}
	ordered, err := g.orderedLocked()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var visit func(string)
	visit = func(n string) {
		for _, dep := range g.phases[n].Dependencies {
			if !seen[dep] {
				seen[dep] = true
				visit(dep)
			}
		}
	}
	visit(name)

	out := make([]string, 0, len(seen))
	for _, n := range ordered {
		if seen[n] {
			out = append(out, n)
		}
	}
	return out, nil
}
