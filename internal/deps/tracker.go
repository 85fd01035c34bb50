package deps

import (
	"context"
	"fmt"
	"time"
)

// TimestampSource reports when a phase was last produced. ok is false when
// the phase has never been produced.
type TimestampSource interface {
	Timestamp(ctx context.Context, phase string) (t time.Time, ok bool, err error)
}

// Timestamps is a TimestampSource backed by a map.
type Timestamps map[string]time.Time

// Timestamp implements TimestampSource.
func (m Timestamps) Timestamp(_ context.Context, phase string) (time.Time, bool, error) {
	t, ok := m[phase]
	return t, ok, nil
}

// Status is the freshness of one phase.
type Status struct {
	Phase     string    `json:"phase"`
	Present   bool      `json:"present"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	UpToDate  bool      `json:"up_to_date"`
	// NewerDependencies are transitive predecessors with a later timestamp.
	NewerDependencies []string `json:"newer_dependencies,omitempty"`
}

// Tracker decides which phases are up to date.
type Tracker struct {
	graph *Graph
}

// NewTracker creates a tracker over g, or the default graph if g is nil.
func NewTracker(g *Graph) *Tracker {
	if g == nil {
		g = DefaultGraph()
	}
	return &Tracker{graph: g}
}

// Graph returns the tracker's graph.
func (t *Tracker) Graph() *Graph {
	return t.graph
}

// Status computes the freshness of every phase in dependency order.
func (t *Tracker) Status(ctx context.Context, src TimestampSource) ([]Status, error) {
	ordered, err := t.graph.Ordered()
	if err != nil {
		return nil, err
	}
	stamps, err := t.collect(ctx, src, ordered)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(ordered))
	for _, name := range ordered {
		st, err := t.status(name, stamps)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// PhaseStatus computes the freshness of one phase.
func (t *Tracker) PhaseStatus(ctx context.Context, src TimestampSource, phase string) (Status, error) {
	closure, err := t.graph.Closure(phase)
	if err != nil {
		return Status{}, err
	}
	stamps, err := t.collect(ctx, src, append(closure, phase))
	if err != nil {
		return Status{}, err
	}
	return t.status(phase, stamps)
}

// UpToDate reports whether phase is up to date.
func (t *Tracker) UpToDate(ctx context.Context, src TimestampSource, phase string) (bool, error) {
	st, err := t.PhaseStatus(ctx, src, phase)
	return st.UpToDate, err
}

// Stale returns the phases that are not up to date, in dependency order.
func (t *Tracker) Stale(ctx context.Context, src TimestampSource) ([]string, error) {
	all, err := t.Status(ctx, src)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, st := range all {
		if !st.UpToDate {
			out = append(out, st.Phase)
		}
	}
	return out, nil
}

func (t *Tracker) collect(ctx context.Context, src TimestampSource, phases []string) (map[string]time.Time, error) {
	stamps := make(map[string]time.Time, len(phases))
	for _, p := range phases {
		ts, ok, err := src.Timestamp(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("timestamp for %s: %w", p, err)
		}
		if ok {
			stamps[p] = ts
		}
	}
	return stamps, nil
}

// status applies the rule: a phase is up to date iff it has a timestamp
// and no transitive predecessor has a strictly later one. Optional phases
// without a timestamp are up to date.
func (t *Tracker) status(phase string, stamps map[string]time.Time) (Status, error) {
	p, ok := t.graph.Get(phase)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrPhaseNotFound, phase)
	}
	ts, present := stamps[phase]
	st := Status{Phase: phase, Present: present, Timestamp: ts}
	if !present {
		st.UpToDate = p.Optional
		return st, nil
	}
	closure, err := t.graph.Closure(phase)
	if err != nil {
		return Status{}, err
	}
	for _, dep := range closure {
		if dts, ok := stamps[dep]; ok && dts.After(ts) {
			st.NewerDependencies = append(st.NewerDependencies, dep)
		}
	}
	st.UpToDate = len(st.NewerDependencies) == 0
	return st, nil
}
