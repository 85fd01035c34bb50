package markup

import (
	"strings"
	"unicode"

	"github.com/jackzampolin/clara/internal/text"
)

// Externalise renders t under the named layer.
func Externalise(t *text.Text, layer string) (string, error) {
	v, err := ViewFor(layer)
	if err != nil {
		return "", err
	}
	return ExternaliseView(t, v), nil
}

// ExternaliseView renders t under v.
func ExternaliseView(t *text.Text, v View) string {
	var b strings.Builder
	if v.Plain {
		_ = t.Walk(func(_ *text.Page, _ *text.Segment, e *text.Element) error {
			b.WriteString(e.Content)
			return nil
		})
		return b.String()
	}
	for i, page := range t.Pages {
		if i > 0 || page.Annotations.Tagged || len(page.Annotations.Attrs) > 0 {
			b.WriteString(PageTag(page.Annotations.Attrs))
		}
		for j, seg := range page.Segments {
			trailer := segmentTrailer(seg, v)
			writeSegment(&b, seg, v)
			b.WriteString(trailer)
			if j == len(page.Segments)-1 && trailer == "" && whitespaceOnly(seg) {
				continue
			}
			b.WriteString("||")
		}
	}
	return b.String()
}

func whitespaceOnly(seg *text.Segment) bool {
	if len(seg.Elements) == 0 {
		return false
	}
	for _, e := range seg.Elements {
		if e.Type != text.NonWordText || strings.TrimFunc(e.Content, unicode.IsSpace) != "" {
			return false
		}
	}
	return true
}

type segmentWriter struct {
	b   *strings.Builder
	run strings.Builder
}

func (w *segmentWriter) literal(s string) {
	w.b.WriteString(Escape(s))
	w.run.WriteString(s)
}

func (w *segmentWriter) raw(s string) {
	w.b.WriteString(s)
	w.run.Reset()
}

// glues reports whether surface written after the pending run would not
// come back as a separate word.
func (w *segmentWriter) glues(surface string) bool {
	if w.run.Len() == 0 {
		return false
	}
	prefix := w.run.String()
	spans := text.TokenSpans(prefix + surface)
	last := spans[len(spans)-1]
	return !last.Word || last.Start != len(prefix)
}

func writeSegment(b *strings.Builder, seg *text.Segment, v View) {
	w := &segmentWriter{b: b}
	lastWord := -1
	for k, e := range seg.Elements {
		if e.Type == text.Word {
			lastWord = k
		}
	}

	seenWord, barOwed := false, false
	for k, e := range seg.Elements {
		switch e.Type {
		case text.Word:
			if v.Bars && seenWord && barOwed {
				w.raw("|")
			}
			if text.IsSimpleWord(e.Content) {
				if w.glues(e.Content) {
					w.raw("|")
				}
				w.literal(e.Content)
			} else {
				w.raw("@" + Escape(e.Content) + "@")
			}
			if payload, ok := wordPayload(e, v); ok {
				w.raw("#" + payload + "#")
			}
			seenWord, barOwed = true, true

		case text.NonWordText:
			if v.Bars && barOwed && k < lastWord {
				prefix, rest := splitAtSpace(e.Content)
				w.literal(prefix)
				w.raw("|")
				w.literal(rest)
				barOwed = false
				continue
			}
			w.literal(e.Content)

		default:
			w.raw(e.Content)
		}
	}
}

// splitAtSpace splits s after its longest whitespace-free prefix.
func splitAtSpace(s string) (string, string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

func wordPayload(e *text.Element, v View) (string, bool) {
	a := &e.Annotations
	switch v.Payload {
	case PayloadSingle:
		val, ok := a.Get(v.Key)
		if !ok {
			return "", false
		}
		return Escape(val), true
	case PayloadLemmaPOS:
		lemma, pos := a.Value(text.KeyLemma), a.Value(text.KeyPOS)
		if lemma == "" && pos == "" {
			return "", false
		}
		out := escapeComponent(lemma)
		if pos != "" {
			out += "/" + escapeComponent(pos)
		}
		return out, true
	case PayloadLemmaPOSGloss:
		lemma, pos, gloss := a.Value(text.KeyLemma), a.Value(text.KeyPOS), a.Value(text.KeyGloss)
		if lemma == "" && pos == "" && gloss == "" {
			return "", false
		}
		return escapeComponent(lemma) + "/" + escapeComponent(pos) + "/" + escapeComponent(gloss), true
	}
	return "", false
}

func segmentTrailer(seg *text.Segment, v View) string {
	a := seg.Annotations
	switch v.Trailer {
	case TrailerTranslation:
		if a.Translated != nil {
			return "#" + Escape(*a.Translated) + "#"
		}
	case TrailerMWEMinimal:
		if a.MWEs != nil {
			return "#" + formatMWEGroups(a.MWEs, ",") + "#"
		}
	case TrailerMWE:
		if a.Analysis == nil && a.MWEs == nil {
			return ""
		}
		var b strings.Builder
		b.WriteString("\n\n")
		if a.Analysis != nil {
			b.WriteString(analysisPrefix + " " + Escape(*a.Analysis))
			if a.MWEs != nil {
				b.WriteString("\n")
			}
		}
		if a.MWEs != nil {
			b.WriteString(mwesPrefix + " " + formatMWEGroups(a.MWEs, ", "))
		}
		return b.String()
	}
	return ""
}

func formatMWEGroups(mwes [][]string, sep string) string {
	groups := make([]string, len(mwes))
	for i, m := range mwes {
		words := make([]string, len(m))
		for j, w := range m {
			words[j] = escapeSet(w, reserved+",")
		}
		groups[i] = strings.Join(words, " ")
	}
	return strings.Join(groups, sep)
}
