package merge

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/jackzampolin/clara/internal/markup"
)

// Markup phases accepted by Charwise.
const (
	// PreSegmentation inserts page tags and segment separators.
	PreSegmentation = "presegmented"
	// Segmentation inserts word separators and multi-word delimiters.
	Segmentation = "segmented"
)

// Charwise returns original with the markup tokens of phase that annotated
// inserted. Every surface character comes from original, escaped where it
// is reserved; text the model added or changed is dropped except for
// whitelisted markup.
func Charwise(original, annotated, phase string) (string, error) {
	extract, err := extractor(phase)
	if err != nil {
		return "", err
	}
	a, b := runes(original), runes(annotated)
	m := difflib.NewMatcherWithJunk(a, b, false, nil)

	var out strings.Builder
	for _, op := range m.GetOpCodes() {
		orig := markup.Escape(strings.Join(a[op.I1:op.I2], ""))
		ann := strings.Join(b[op.J1:op.J2], "")
		switch op.Tag {
		case 'e', 'd':
			out.WriteString(orig)
		case 'i':
			out.WriteString(extract(ann))
		case 'r':
			tokens := extract(ann)
			if leadsWithMarkup(ann) {
				out.WriteString(tokens)
				out.WriteString(orig)
			} else {
				out.WriteString(orig)
				out.WriteString(tokens)
			}
		}
	}
	return out.String(), nil
}

func leadsWithMarkup(s string) bool {
	return strings.HasPrefix(s, "<page") || strings.HasPrefix(s, "|") || strings.HasPrefix(s, "@")
}

func extractor(phase string) (func(string) string, error) {
	switch phase {
	case PreSegmentation:
		return extractSegmentationMarkup, nil
	case Segmentation:
		return extractWordMarkup, nil
	}
	return nil, fmt.Errorf("no character-wise merge for phase %q", phase)
}

// extractSegmentationMarkup keeps "<page ...>" tags and "||" separators.
func extractSegmentationMarkup(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], "<page"):
			end := strings.IndexByte(s[i:], '>')
			if end < 0 {
				i = len(s)
				continue
			}
			b.WriteString(s[i : i+end+1])
			i += end + 1
		case strings.HasPrefix(s[i:], "||"):
			b.WriteString("||")
			i += 2
		default:
			i++
		}
	}
	return b.String()
}

// extractWordMarkup keeps "|" and "@".
func extractWordMarkup(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '|' || r == '@' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StripMarkup removes the markup tokens of phase from s and resolves its
// escapes, so that StripMarkup(Charwise(o, a, phase), phase) == o.
func StripMarkup(s, phase string) string {
	if phase != PreSegmentation && phase != Segmentation {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		switch {
		case s[i] == '\\' && i+1 < len(s):
			r, size := utf8.DecodeRuneInString(s[i+1:])
			b.WriteRune(r)
			i += 1 + size
		case phase == PreSegmentation && strings.HasPrefix(s[i:], "<page"):
			end := strings.IndexByte(s[i:], '>')
			if end < 0 {
				b.WriteString(s[i:])
				i = len(s)
				continue
			}
			i += end + 1
		case phase == PreSegmentation && strings.HasPrefix(s[i:], "||"):
			i += 2
		case phase == Segmentation && (s[i] == '|' || s[i] == '@'):
			i++
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}
