package annotate

import (
	"strings"
	"unicode"

	"github.com/jackzampolin/clara/internal/text"
)

// SourceTrivial is the provenance of rule-based annotations.
const SourceTrivial = "trivial"

// sentenceFinal reports whether r ends a sentence.
func sentenceFinal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…', '؟', '।':
		return true
	}
	return false
}

func closingPunct(r rune) bool {
	return unicode.Is(unicode.Pf, r) || unicode.Is(unicode.Pe, r) || r == '"' || r == '\''
}

// TrivialSegment splits plain text into one page of segments ending at
// sentence-final punctuation. Whitespace after a boundary starts the next
// segment.
func TrivialSegment(plain, l2, l1 string) *text.Text {
	t := text.New(l2, l1)
	page := &text.Page{}
	rs := []rune(plain)
	start := 0
	for i := 0; i < len(rs); i++ {
		if !sentenceFinal(rs[i]) {
			continue
		}
		end := i + 1
		for end < len(rs) && (sentenceFinal(rs[end]) || closingPunct(rs[end])) {
			end++
		}
		if end < len(rs) && !unicode.IsSpace(rs[end]) {
			continue
		}
		page.Segments = append(page.Segments, &text.Segment{Elements: text.Tokenize(string(rs[start:end]))})
		start = end
		i = end - 1
	}
	if start < len(rs) {
		page.Segments = append(page.Segments, &text.Segment{Elements: text.Tokenize(string(rs[start:]))})
	}
	if len(page.Segments) > 0 {
		t.Pages = append(t.Pages, page)
	}
	return t
}

// TrivialLemma tags every word with its lower-cased surface as lemma and
// POS X.
func TrivialLemma(in *text.Text) *text.Text {
	out := in.Clone()
	_ = out.Walk(func(_ *text.Page, _ *text.Segment, e *text.Element) error {
		if e.IsWord() {
			e.Annotations.Set(text.KeyLemma, strings.ToLower(e.Content))
			e.Annotations.Set(text.KeyPOS, "X")
		}
		return nil
	})
	return out
}

// TrivialGloss gives every word the no-data gloss.
func TrivialGloss(in *text.Text) *text.Text {
	out := in.Clone()
	_ = out.Walk(func(_ *text.Page, _ *text.Segment, e *text.Element) error {
		if e.IsWord() {
			e.Annotations.Set(text.KeyGloss, text.NoData)
		}
		return nil
	})
	return out
}
