// Package mwe locates multi-word expressions inside segments and enforces
// that their member words carry identical annotations.
package mwe

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/text"
)

// FindPositions returns the element indices of the words of m inside seg,
// in strictly increasing order. When several placements exist the one with
// the smallest span wins, ties going to the leftmost.
func FindPositions(seg *text.Segment, m []string) ([]int, error) {
	if len(m) == 0 {
		return nil, mweError(seg, m, "empty MWE")
	}
	candidates := make([][]int, len(m))
	for i, w := range m {
		for j, e := range seg.Elements {
			if e.Type == text.Word && sameWord(e.Content, w) {
				candidates[i] = append(candidates[i], j)
			}
		}
		if len(candidates[i]) == 0 {
			return nil, mweError(seg, m, fmt.Sprintf("word %q not found", w))
		}
	}

	var best []int
	for _, start := range candidates[0] {
		// Taking the earliest admissible position for every later word gives
		// the tightest placement for this start.
		placement := []int{start}
		ok := true
		for i := 1; i < len(m); i++ {
			next := -1
			for _, p := range candidates[i] {
				if p > placement[i-1] {
					next = p
					break
				}
			}
			if next < 0 {
				ok = false
				break
			}
			placement = append(placement, next)
		}
		if !ok {
			continue
		}
		if best == nil || span(placement) < span(best) {
			best = placement
		}
	}
	if best == nil {
		return nil, mweError(seg, m, "words do not occur in order")
	}
	return best, nil
}

func span(p []int) int { return p[len(p)-1] - p[0] }

func sameWord(a, b string) bool {
	return a == b || strings.EqualFold(a, b)
}

func mweError(seg *text.Segment, m []string, msg string) error {
	return &clerr.MWEError{MWE: append([]string(nil), m...), Segment: seg.Plain(), Message: msg}
}

// CheckWellFormed verifies that every MWE of seg can be located.
func CheckWellFormed(seg *text.Segment) error {
	for _, m := range seg.Annotations.MWEs {
		if len(m) == 0 {
			continue
		}
		if _, err := FindPositions(seg, m); err != nil {
			return err
		}
	}
	return nil
}

// CheckConsistency verifies that, for every MWE of seg, all member words
// share one value under key and that the value is not the no-data marker.
func CheckConsistency(seg *text.Segment, key string) error {
	for _, m := range seg.Annotations.MWEs {
		if len(m) == 0 {
			continue
		}
		positions, err := FindPositions(seg, m)
		if err != nil {
			return err
		}
		first := seg.Elements[positions[0]].Annotations.Value(key)
		if first == "" || first == text.NoData {
			return mweError(seg, m, fmt.Sprintf("%s of %q is missing", key, seg.Elements[positions[0]].Content))
		}
		for _, p := range positions[1:] {
			if v := seg.Elements[p].Annotations.Value(key); v != first {
				return mweError(seg, m, fmt.Sprintf("inconsistent %s: %q vs %q", key, first, v))
			}
		}
	}
	return nil
}

// Enforcer checks MWE consistency after a gloss or lemma run.
type Enforcer struct {
	// Strict makes Enforce return the first inconsistency. Otherwise the
	// offending members are reset to the no-data marker and the problem is
	// logged.
	Strict bool
	Logger *slog.Logger
}

// Enforce checks every segment of t under key. Keys accompanying key (pos
// for lemma) are reset alongside it in best-effort mode.
func (e *Enforcer) Enforce(t *text.Text, key string) error {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, seg := range t.Segments() {
		err := CheckConsistency(seg, key)
		if err == nil {
			continue
		}
		if e.Strict {
			return err
		}
		logger.Warn("mwe consistency check failed", "key", key, "error", err)
		resetInconsistent(seg, key)
	}
	return nil
}

func resetInconsistent(seg *text.Segment, key string) {
	for _, m := range seg.Annotations.MWEs {
		positions, err := FindPositions(seg, m)
		if err != nil {
			continue
		}
		values := make(map[string]bool)
		for _, p := range positions {
			values[seg.Elements[p].Annotations.Value(key)] = true
		}
		if len(values) == 1 && !values[""] && !values[text.NoData] {
			continue
		}
		for _, p := range positions {
			seg.Elements[p].Annotations.Set(key, text.NoData)
		}
	}
}

// Unify copies the value under key of the first member of each MWE to the
// other members. Used to apply a single MWE-level annotation.
func Unify(seg *text.Segment, keys ...string) error {
	for _, m := range seg.Annotations.MWEs {
		if len(m) == 0 {
			continue
		}
		positions, err := FindPositions(seg, m)
		if err != nil {
			return err
		}
		head := seg.Elements[positions[0]]
		for _, p := range positions[1:] {
			for _, k := range keys {
				if v, ok := head.Annotations.Get(k); ok {
					seg.Elements[p].Annotations.Set(k, v)
				}
			}
		}
	}
	return nil
}

// Propagate tags MWE member words with mwe_id, mwe_text and mwe_length.
// Ids are unique within the text. MWEs that cannot be located are skipped
// and returned as errors.
func Propagate(t *text.Text) []error {
	var errs []error
	n := 0
	for _, seg := range t.Segments() {
		for _, m := range seg.Annotations.MWEs {
			if len(m) == 0 {
				continue
			}
			positions, err := FindPositions(seg, m)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			n++
			id := "mwe_" + strconv.Itoa(n)
			surface := make([]string, len(positions))
			for i, p := range positions {
				surface[i] = seg.Elements[p].Content
			}
			for _, p := range positions {
				a := &seg.Elements[p].Annotations
				a.Set(text.KeyMWEID, id)
				a.Set(text.KeyMWEText, strings.Join(surface, " "))
				a.Set(text.KeyMWELength, strconv.Itoa(len(positions)))
			}
		}
	}
	return errs
}

// Words returns the set of element indices belonging to some MWE of seg.
func Words(seg *text.Segment) map[int]bool {
	out := make(map[int]bool)
	for _, m := range seg.Annotations.MWEs {
		positions, err := FindPositions(seg, m)
		if err != nil {
			continue
		}
		for _, p := range positions {
			out[p] = true
		}
	}
	return out
}
