// Package history combines previously annotated texts into one reading
// history.
package history

import (
	"fmt"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/text"
)

// Combine returns a new text holding the pages of texts in order, with
// their concordances merged by key. Languages come from the first text.
// Every input must carry a concordance. Inputs are not modified.
func Combine(texts []*text.Text) (*text.Text, error) {
	if len(texts) == 0 {
		return nil, &clerr.ReadingHistoryError{Message: "no texts to combine"}
	}
	out := text.New(texts[0].L2Language, texts[0].L1Language)
	out.Voice = texts[0].Voice
	out.Concordance = make(map[string]*text.ConcordanceEntry)

	for i, t := range texts {
		if t == nil {
			return nil, &clerr.ReadingHistoryError{Message: fmt.Sprintf("text %d is missing", i+1)}
		}
		if t.Concordance == nil {
			return nil, &clerr.ReadingHistoryError{Message: fmt.Sprintf("text %d has no concordance", i+1)}
		}
		c := t.Clone()
		out.Pages = append(out.Pages, c.Pages...)
		for key, e := range c.Concordance {
			dst, ok := out.Concordance[key]
			if !ok {
				dst = &text.ConcordanceEntry{}
				out.Concordance[key] = dst
			}
			dst.Segments = append(dst.Segments, e.Segments...)
			dst.Frequency += e.Frequency
		}
	}
	return out, nil
}
