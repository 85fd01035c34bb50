package markup

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/text"
)

// Internalise parses s as a serialization of the named layer.
func Internalise(s, layer, l2, l1 string) (*text.Text, error) {
	v, err := ViewFor(layer)
	if err != nil {
		return nil, err
	}
	return InternaliseView(s, v, l2, l1)
}

// InternaliseView parses s under v.
func InternaliseView(s string, v View, l2, l1 string) (*text.Text, error) {
	s = Normalize(s)
	t := text.New(l2, l1)
	if v.Plain {
		internalisePlain(s, t)
		return t, nil
	}
	p := &parser{src: s, view: v, text: t}
	if err := p.parse(); err != nil {
		return nil, err
	}
	return t, nil
}

// Normalize converts newlines to "\n" and applies NFC.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return norm.NFC.String(s)
}

func internalisePlain(s string, t *text.Text) {
	if s == "" {
		return
	}
	seg := &text.Segment{}
	i, last := 0, 0
	for i < len(s) {
		if s[i] != '<' {
			i++
			continue
		}
		end := tagEnd(s, i)
		if end < 0 {
			i++
			continue
		}
		seg.Elements = append(seg.Elements, text.Tokenize(s[last:i])...)
		seg.Elements = append(seg.Elements, tagElement(s[i:end]))
		i, last = end, end
	}
	seg.Elements = append(seg.Elements, text.Tokenize(s[last:])...)
	t.Pages = append(t.Pages, &text.Page{Segments: []*text.Segment{seg}})
}

func tagElement(raw string) *text.Element {
	tag, err := ParseTag(raw)
	if err != nil || tag.Closing {
		return &text.Element{Type: text.Markup, Content: raw}
	}
	switch tag.Name {
	case "img":
		return &text.Element{Type: text.Image, Content: raw, Attrs: tag.Attrs}
	case "audio", "video":
		return &text.Element{Type: text.Embedded, Content: raw, Attrs: tag.Attrs}
	}
	return &text.Element{Type: text.Markup, Content: raw}
}

type parser struct {
	src  string
	view View
	text *text.Text

	page *text.Page
	seg  *text.Segment

	run      strings.Builder
	segOpen  bool
	closed   bool
	wordOpen bool
}

func (p *parser) errorf(offset int, msg string) error {
	end := offset + 20
	if end > len(p.src) {
		end = len(p.src)
	}
	start := offset
	for start > 0 && !utf8.RuneStart(p.src[start]) {
		start--
	}
	for end < len(p.src) && !utf8.RuneStart(p.src[end]) {
		end++
	}
	return &clerr.InternalisationError{
		Layer:     p.view.Name,
		Substring: p.src[start:end],
		Offset:    offset,
		Message:   msg,
	}
}

func (p *parser) parse() error {
	s := p.src
	p.page = &text.Page{}
	p.seg = &text.Segment{}

	i := 0
	for i < len(s) {
		if p.closed && !p.atSegmentEnd(i) {
			return p.errorf(i, "content after segment trailer")
		}
		c := s[i]
		switch {
		case c == '\\':
			if i+1 >= len(s) {
				return p.errorf(i, "dangling escape")
			}
			r, size := utf8.DecodeRuneInString(s[i+1:])
			p.run.WriteRune(r)
			i += 1 + size

		case c == '<' && isPageTag(s, i):
			end := tagEnd(s, i)
			if end < 0 {
				return p.errorf(i, "unterminated page tag")
			}
			tag, err := ParseTag(s[i:end])
			if err != nil {
				return p.errorf(i, err.Error())
			}
			p.flush()
			p.endSegment(false)
			p.startPage(tag)
			i = end

		case c == '<':
			end := tagEnd(s, i)
			if end < 0 {
				return p.errorf(i, "unterminated tag")
			}
			p.flush()
			p.add(tagElement(s[i:end]))
			p.wordOpen = false
			i = end

		case c == '|':
			p.flush()
			p.wordOpen = false
			if i+1 < len(s) && s[i+1] == '|' {
				p.endSegment(true)
				i += 2
			} else {
				i++
			}

		case c == '@':
			end := indexUnescaped(s, i+1, '@')
			if end < 0 {
				return p.errorf(i, "unterminated @ word")
			}
			surface := Unescape(s[i+1 : end])
			if surface == "" {
				return p.errorf(i, "empty @ word")
			}
			p.flush()
			p.add(text.NewWord(surface))
			p.wordOpen = true
			i = end + 1

		case c == '#':
			end := indexUnescaped(s, i+1, '#')
			if end < 0 {
				return p.errorf(i, "unterminated # payload")
			}
			p.flush()
			if err := p.hash(i, s[i+1:end]); err != nil {
				return err
			}
			i = end + 1

		case c == '\n' && p.view.Trailer == TrailerMWE && mweTrailerAt(s, i):
			p.flush()
			i = p.mweTrailer(i)

		default:
			r, size := utf8.DecodeRuneInString(s[i:])
			p.run.WriteRune(r)
			i += size
		}
	}
	p.flush()
	p.endSegment(false)
	p.endPage()
	return nil
}

func (p *parser) atSegmentEnd(i int) bool {
	return strings.HasPrefix(p.src[i:], "||") || isPageTag(p.src, i)
}

// segmentEnd returns the offset of the next unescaped segment or page
// boundary at or after from.
func (p *parser) segmentEnd(from int) int {
	s := p.src
	for i := from; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if p.atSegmentEnd(i) {
			return i
		}
	}
	return len(s)
}

func (p *parser) flush() {
	if p.run.Len() == 0 {
		return
	}
	elems := text.Tokenize(p.run.String())
	p.run.Reset()
	for _, e := range elems {
		p.add(e)
	}
	p.wordOpen = elems[len(elems)-1].IsWord()
}

func (p *parser) add(e *text.Element) {
	p.segOpen = true
	els := p.seg.Elements
	if e.Type == text.NonWordText && len(els) > 0 && els[len(els)-1].Type == text.NonWordText {
		els[len(els)-1].Content += e.Content
		return
	}
	p.seg.Elements = append(els, e)
}

func (p *parser) hash(offset int, body string) error {
	switch {
	case p.view.Payload != PayloadNone && p.wordOpen:
		p.wordOpen = false
		word := p.seg.Elements[len(p.seg.Elements)-1]
		return p.payload(offset, word, body)
	case p.view.Trailer == TrailerTranslation:
		tr := Unescape(body)
		p.seg.Annotations.Translated = &tr
	case p.view.Trailer == TrailerMWEMinimal:
		p.seg.Annotations.MWEs = parseMWEGroups(body)
	default:
		return p.errorf(offset, "unexpected # not attached to a word")
	}
	p.segOpen = true
	p.closed = true
	return nil
}

func (p *parser) payload(offset int, word *text.Element, body string) error {
	a := &word.Annotations
	switch p.view.Payload {
	case PayloadSingle:
		a.Set(p.view.Key, Unescape(body))
	case PayloadLemmaPOS:
		comps := splitUnescaped(body, '/')
		if len(comps) > 2 {
			return p.errorf(offset, "expected lemma/POS payload")
		}
		a.Set(text.KeyLemma, Unescape(comps[0]))
		if len(comps) == 2 {
			a.Set(text.KeyPOS, Unescape(comps[1]))
		}
	case PayloadLemmaPOSGloss:
		comps := splitUnescaped(body, '/')
		if len(comps) != 3 {
			return p.errorf(offset, "expected lemma/POS/gloss payload")
		}
		a.Set(text.KeyLemma, Unescape(comps[0]))
		a.Set(text.KeyPOS, Unescape(comps[1]))
		a.Set(text.KeyGloss, Unescape(comps[2]))
	}
	return nil
}

const (
	analysisPrefix = "_analysis:"
	mwesPrefix     = "_MWEs:"
)

func mweTrailerAt(s string, i int) bool {
	rest := s[i:]
	return strings.HasPrefix(rest, "\n\n"+analysisPrefix) || strings.HasPrefix(rest, "\n\n"+mwesPrefix)
}

func (p *parser) mweTrailer(i int) int {
	s := p.src
	j := i + 2
	if strings.HasPrefix(s[j:], analysisPrefix) {
		j += len(analysisPrefix)
		end := p.segmentEnd(j)
		body := s[j:end]
		if k := strings.Index(body, "\n"+mwesPrefix); k >= 0 {
			body = body[:k]
			end = j + k + 1
		}
		analysis := Unescape(strings.TrimPrefix(body, " "))
		p.seg.Annotations.Analysis = &analysis
		j = end
	}
	if strings.HasPrefix(s[j:], mwesPrefix) {
		j += len(mwesPrefix)
		end := p.segmentEnd(j)
		p.seg.Annotations.MWEs = parseMWEGroups(s[j:end])
		j = end
	}
	p.segOpen = true
	p.closed = true
	return j
}

func parseMWEGroups(body string) [][]string {
	groups := make([][]string, 0)
	for _, g := range splitUnescaped(strings.TrimSpace(body), ',') {
		var words []string
		for _, w := range strings.Fields(g) {
			words = append(words, Unescape(w))
		}
		if len(words) > 0 {
			groups = append(groups, words)
		}
	}
	return groups
}

func (p *parser) endSegment(force bool) {
	if force || p.segOpen {
		p.page.Segments = append(p.page.Segments, p.seg)
	}
	p.seg = &text.Segment{}
	p.segOpen = false
	p.closed = false
	p.wordOpen = false
}

func (p *parser) startPage(tag *Tag) {
	virgin := len(p.text.Pages) == 0 && len(p.page.Segments) == 0 && !p.page.Annotations.Tagged
	if !virgin {
		p.endPage()
		p.page = &text.Page{}
	}
	p.page.Annotations.Tagged = true
	for _, a := range tag.Attrs {
		p.page.SetAttr(a.Key, a.Value)
	}
}

func (p *parser) endPage() {
	if p.page.Annotations.Tagged || len(p.page.Segments) > 0 {
		p.text.Pages = append(p.text.Pages, p.page)
	}
}
