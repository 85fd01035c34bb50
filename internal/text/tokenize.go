package text

import (
	"unicode"
	"unicode/utf8"
)

// IsWordRune reports whether r can appear in an undelimited word.
func IsWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func isJoiner(r rune) bool {
	return r == '\'' || r == '’' || r == '-'
}

// Tokenize splits s into Word and NonWordText elements. Apostrophes and
// hyphens directly between word runes stay inside the word.
func Tokenize(s string) []*Element {
	var out []*Element
	for _, span := range TokenSpans(s) {
		if span.Word {
			out = append(out, NewWord(s[span.Start:span.End]))
		} else {
			out = append(out, NewNonWord(s[span.Start:span.End]))
		}
	}
	return out
}

// Span is a byte range of a string classified as word or non-word.
type Span struct {
	Start, End int
	Word       bool
}

// TokenSpans returns the word and non-word spans of s in order.
func TokenSpans(s string) []Span {
	var out []Span
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		start := i
		if IsWordRune(r) {
			i += size
			for i < len(s) {
				r, size = utf8.DecodeRuneInString(s[i:])
				if IsWordRune(r) {
					i += size
					continue
				}
				if isJoiner(r) && i+size < len(s) {
					next, _ := utf8.DecodeRuneInString(s[i+size:])
					if IsWordRune(next) {
						i += size
						continue
					}
				}
				break
			}
			out = append(out, Span{Start: start, End: i, Word: true})
			continue
		}
		i += size
		for i < len(s) {
			r, size = utf8.DecodeRuneInString(s[i:])
			if IsWordRune(r) {
				break
			}
			i += size
		}
		out = append(out, Span{Start: start, End: i})
	}
	return out
}

// IsSimpleWord reports whether s would tokenize to exactly one Word.
func IsSimpleWord(s string) bool {
	spans := TokenSpans(s)
	return len(spans) == 1 && spans[0].Word
}

// HasWordContent reports whether s contains at least one word rune.
func HasWordContent(s string) bool {
	for _, r := range s {
		if IsWordRune(r) {
			return true
		}
	}
	return false
}
