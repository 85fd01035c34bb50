// Package concordance numbers segments and indexes them by lemma.
package concordance

import (
	"fmt"
	"sort"

	"github.com/jackzampolin/clara/internal/text"
)

// UIDPrefix prefixes segment uids.
const UIDPrefix = "seg_"

// Options controls concordance construction.
type Options struct {
	// Phonetic keys the concordance by the phonetic annotation instead of
	// the lemma, and ignores image regions.
	Phonetic bool
	// FirstUID is the counter value of the first segment, so uids stay
	// unique across the texts of one project.
	FirstUID int
}

// Annotate sets segment_uid and page_number on every segment of t and
// stores the concordance on t. It returns the next free counter value.
func Annotate(t *text.Text, opts Options) int {
	k := opts.FirstUID
	if k <= 0 {
		k = 1
	}
	key := text.KeyLemma
	if opts.Phonetic {
		key = text.KeyPhonetic
	}

	conc := make(map[string]*text.ConcordanceEntry)
	seen := make(map[string]map[*text.Segment]bool)
	add := func(seg *text.Segment) {
		for _, w := range seg.Words() {
			l := w.Annotations.Value(key)
			if l == "" || l == text.NoData {
				continue
			}
			e, ok := conc[l]
			if !ok {
				e = &text.ConcordanceEntry{}
				conc[l] = e
				seen[l] = make(map[*text.Segment]bool)
			}
			e.Frequency++
			if !seen[l][seg] {
				seen[l][seg] = true
				e.Segments = append(e.Segments, seg)
			}
		}
	}
	number := func(seg *text.Segment, page int) {
		seg.Annotations.SegmentUID = fmt.Sprintf("%s%d", UIDPrefix, k)
		seg.Annotations.PageNumber = page
		k++
	}

	for i, page := range t.Pages {
		for _, seg := range page.Segments {
			number(seg, i+1)
			add(seg)
			if opts.Phonetic {
				continue
			}
			for _, e := range seg.Elements {
				if e.Type != text.Image {
					continue
				}
				for _, ts := range e.TransformedSegments {
					number(ts, i+1)
					add(ts)
				}
			}
		}
	}
	t.Concordance = conc
	return k
}

// Keys returns the concordance keys in alphabetical order.
func Keys(t *text.Text) []string {
	keys := make([]string, 0, len(t.Concordance))
	for k := range t.Concordance {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ByFrequency returns the concordance keys by descending frequency, ties
// alphabetical.
func ByFrequency(t *text.Text) []string {
	keys := Keys(t)
	sort.SliceStable(keys, func(i, j int) bool {
		return t.Concordance[keys[i]].Frequency > t.Concordance[keys[j]].Frequency
	})
	return keys
}
