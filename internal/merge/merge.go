// Package merge combines independently produced annotation layers of one
// text into a single document.
package merge

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/markup"
	"github.com/jackzampolin/clara/internal/text"
)

// Layer is one annotated version of a text together with the name of the
// layer it carries.
type Layer struct {
	Name string
	Text *text.Text
}

// Options controls key clashes. By default the target keeps its values.
type Options struct {
	Overwrite bool
}

// Keys returns the element annotation keys carried by layer.
func Keys(layer string) []string {
	v, err := markup.ViewFor(layer)
	if err != nil {
		return nil
	}
	return v.Keys()
}

func segmentLevel(layer string) bool {
	switch layer {
	case markup.LayerTranslated, markup.LayerMWE, markup.LayerMWEMinimal:
		return true
	}
	return false
}

// Exact copies the annotations of layer from source into target. The two
// texts must have the same pages, segments and element surfaces.
func Exact(target, source *text.Text, layer string, opts Options) error {
	if len(target.Pages) != len(source.Pages) {
		return clerr.Internalf("exact merge of %s: %d pages vs %d", layer, len(target.Pages), len(source.Pages))
	}
	keys := Keys(layer)
	for pi, tp := range target.Pages {
		sp := source.Pages[pi]
		if len(tp.Segments) != len(sp.Segments) {
			return clerr.Internalf("exact merge of %s: page %d has %d segments vs %d", layer, pi+1, len(tp.Segments), len(sp.Segments))
		}
		for si, ts := range tp.Segments {
			ss := sp.Segments[si]
			if len(ts.Elements) != len(ss.Elements) {
				return clerr.Internalf("exact merge of %s: segment %q has %d elements vs %d", layer, ts.Plain(), len(ts.Elements), len(ss.Elements))
			}
			for ei, te := range ts.Elements {
				se := ss.Elements[ei]
				if te.Type != se.Type || te.Content != se.Content {
					return clerr.Internalf("exact merge of %s: element %q differs from %q", layer, te.Content, se.Content)
				}
				copyKeys(&te.Annotations, &se.Annotations, keys, opts.Overwrite)
			}
			if segmentLevel(layer) {
				copySegment(ts, ss, layer)
			}
		}
	}
	return nil
}

// Diff merges the annotations of layer from source into target by aligning
// surfaces. Target surfaces are never changed.
func Diff(target, source *text.Text, layer string, opts Options) {
	keys := Keys(layer)
	tsegs, ssegs := target.Segments(), source.Segments()

	a := segmentKeys(tsegs)
	b := segmentKeys(ssegs)
	m := difflib.NewMatcherWithJunk(a, b, false, nil)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for k := 0; k < op.I2-op.I1; k++ {
				mergeSegment(tsegs[op.I1+k], ssegs[op.J1+k], layer, keys, opts)
			}
		case 'r':
			n := min(op.I2-op.I1, op.J2-op.J1)
			for k := 0; k < n; k++ {
				mergeSegment(tsegs[op.I1+k], ssegs[op.J1+k], layer, keys, opts)
			}
			for k := op.I1 + n; k < op.I2; k++ {
				fillMissing(tsegs[k].Elements, keys)
			}
		case 'd':
			for k := op.I1; k < op.I2; k++ {
				fillMissing(tsegs[k].Elements, keys)
			}
		}
	}
}

func segmentKeys(segs []*text.Segment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = strings.TrimSpace(s.Plain())
	}
	return out
}

func mergeSegment(ts, ss *text.Segment, layer string, keys []string, opts Options) {
	if segmentLevel(layer) {
		copySegment(ts, ss, layer)
	}
	if len(keys) == 0 {
		return
	}
	mergeElements(ts, ss, keys, opts)
}

func elementKeys(s *text.Segment) []string {
	diff := text.DiffElements(s)
	out := make([]string, len(diff))
	for i, d := range diff {
		out[i] = string(d.Type) + ":" + d.Content
	}
	return out
}

func mergeElements(ts, ss *text.Segment, keys []string, opts Options) {
	target, source := ts.Elements, ss.Elements
	m := difflib.NewMatcherWithJunk(elementKeys(ts), elementKeys(ss), false, nil)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for k := 0; k < op.I2-op.I1; k++ {
				copyKeys(&target[op.I1+k].Annotations, &source[op.J1+k].Annotations, keys, opts.Overwrite)
			}
		case 'r':
			for _, te := range target[op.I1:op.I2] {
				if te.Type != text.Word {
					continue
				}
				if se := bestMatch(te, source[op.J1:op.J2]); se != nil {
					copyKeys(&te.Annotations, &se.Annotations, keys, opts.Overwrite)
				}
			}
			fillMissing(target[op.I1:op.I2], keys)
		case 'd':
			fillMissing(target[op.I1:op.I2], keys)
		}
	}
}

// bestMatch returns the source word whose surface is most similar to e.
func bestMatch(e *text.Element, candidates []*text.Element) *text.Element {
	var best *text.Element
	bestRatio := 0.0
	for _, c := range candidates {
		if c.Type != text.Word {
			continue
		}
		r := Similarity(e.Content, c.Content)
		if r > bestRatio {
			best, bestRatio = c, r
		}
	}
	return best
}

// Similarity returns the character-level match ratio of a and b in [0,1].
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	m := difflib.NewMatcherWithJunk(runes(a), runes(b), false, nil)
	return m.Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func copyKeys(dst, src *text.Annotations, keys []string, overwrite bool) {
	for _, k := range keys {
		v, ok := src.Get(k)
		if !ok {
			continue
		}
		if _, exists := dst.Get(k); exists && !overwrite {
			continue
		}
		dst.Set(k, v)
	}
}

// fillMissing gives words lacking a key the no-data placeholder.
func fillMissing(els []*text.Element, keys []string) {
	for _, e := range els {
		if e.Type != text.Word {
			continue
		}
		for _, k := range keys {
			if _, ok := e.Annotations.Get(k); !ok {
				e.Annotations.Set(k, text.NoData)
			}
		}
	}
}

// copySegment copies segment-level annotations. The producing layer is the
// source of truth, so its values always replace the target's.
func copySegment(ts, ss *text.Segment, layer string) {
	src := ss.Annotations.Clone()
	switch layer {
	case markup.LayerTranslated:
		ts.Annotations.Translated = src.Translated
	case markup.LayerMWE, markup.LayerMWEMinimal:
		ts.Annotations.MWEs = src.MWEs
		if src.Analysis != nil {
			ts.Annotations.Analysis = src.Analysis
		}
	}
}

// Unify merges every layer into a copy of base, in order. Layers whose
// structure matches base exactly are merged exactly; others fall back to
// the diff-based merge.
func Unify(base *text.Text, layers []Layer, opts Options) *text.Text {
	out := base.Clone()
	for _, l := range layers {
		if l.Text == nil {
			continue
		}
		if err := Exact(out, l.Text, l.Name, opts); err != nil {
			Diff(out, l.Text, l.Name, opts)
		}
	}
	return out
}

// LemmaAndGloss derives the lemma_and_gloss layer from the lemma and gloss
// layers. Surfaces follow the lemma layer.
func LemmaAndGloss(lemma, gloss *text.Text, extra ...Layer) *text.Text {
	layers := append([]Layer{{Name: markup.LayerGloss, Text: gloss}}, extra...)
	out := Unify(lemma, layers, Options{})
	for _, seg := range out.Segments() {
		fillMissing(seg.Elements, []string{text.KeyLemma, text.KeyPOS, text.KeyGloss})
	}
	return out
}
