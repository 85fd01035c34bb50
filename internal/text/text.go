// Package text holds the in-memory model of an annotated text: a tree of
// pages, segments and content elements, each level carrying its own
// annotation bag.
package text

import (
	"sort"
	"strings"
)

// ElementType identifies the kind of a content element.
type ElementType string

const (
	Word        ElementType = "Word"
	NonWordText ElementType = "NonWordText"
	Markup      ElementType = "Markup"
	Embedded    ElementType = "Embedded"
	Image       ElementType = "Image"
)

// Recognised element annotation keys.
const (
	KeyLemma     = "lemma"
	KeyPOS       = "pos"
	KeyGloss     = "gloss"
	KeyPinyin    = "pinyin"
	KeyPhonetic  = "phonetic"
	KeyMWEID     = "mwe_id"
	KeyMWEText   = "mwe_text"
	KeyMWELength = "mwe_length"
)

// NoData is the explicit "no data" placeholder value.
const NoData = "-"

// AudioRef points at an audio file held by an audio repository.
type AudioRef struct {
	EngineID   string `json:"engine_id"`
	LanguageID string `json:"language_id"`
	VoiceID    string `json:"voice_id"`
	FilePath   string `json:"file_path"`
}

// Region is an image region associated with a word.
type Region struct {
	Shape       string       `json:"shape"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// Annotations is the annotation bag of a content element. String-valued
// layers live in Values under the Key* names; keys outside that set are
// kept as extensions.
type Annotations struct {
	Values map[string]string `json:"values,omitempty"`
	TTS    *AudioRef         `json:"tts,omitempty"`
	Region *Region           `json:"region,omitempty"`
}

// Get returns the value stored under key.
func (a *Annotations) Get(key string) (string, bool) {
	v, ok := a.Values[key]
	return v, ok
}

// Value returns the value stored under key, or "".
func (a *Annotations) Value(key string) string {
	return a.Values[key]
}

// Set stores value under key. An empty value removes the key.
func (a *Annotations) Set(key, value string) {
	if value == "" {
		delete(a.Values, key)
		return
	}
	if a.Values == nil {
		a.Values = make(map[string]string)
	}
	a.Values[key] = value
}

// Delete removes key.
func (a *Annotations) Delete(key string) {
	delete(a.Values, key)
}

// Keys returns the stored value keys in sorted order.
func (a *Annotations) Keys() []string {
	keys := make([]string, 0, len(a.Values))
	for k := range a.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Union copies entries of other that are missing from a. When overwrite is
// true, entries of other replace existing ones.
func (a *Annotations) Union(other Annotations, overwrite bool) {
	for k, v := range other.Values {
		if _, ok := a.Values[k]; ok && !overwrite {
			continue
		}
		a.Set(k, v)
	}
	if other.TTS != nil && (a.TTS == nil || overwrite) {
		ref := *other.TTS
		a.TTS = &ref
	}
	if other.Region != nil && (a.Region == nil || overwrite) {
		a.Region = other.Region.clone()
	}
}

// Clone returns a deep copy.
func (a Annotations) Clone() Annotations {
	out := Annotations{Region: a.Region.clone()}
	if a.Values != nil {
		out.Values = make(map[string]string, len(a.Values))
		for k, v := range a.Values {
			out.Values[k] = v
		}
	}
	if a.TTS != nil {
		ref := *a.TTS
		out.TTS = &ref
	}
	return out
}

func (r *Region) clone() *Region {
	if r == nil {
		return nil
	}
	out := &Region{Shape: r.Shape, Coordinates: make([][2]float64, len(r.Coordinates))}
	copy(out.Coordinates, r.Coordinates)
	return out
}

// Attr is one attribute of an HTML-like tag, kept in source order.
type Attr struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Element is an atomic token inside a segment.
type Element struct {
	Type        ElementType `json:"type"`
	Content     string      `json:"content"`
	Attrs       []Attr      `json:"attrs,omitempty"`
	Annotations Annotations `json:"annotations"`

	// TransformedSegments holds, for Image elements, the segments built
	// from words associated with image regions.
	TransformedSegments []*Segment `json:"transformed_segments,omitempty"`
}

// NewWord returns a Word element.
func NewWord(surface string) *Element {
	return &Element{Type: Word, Content: surface}
}

// NewNonWord returns a NonWordText element.
func NewNonWord(s string) *Element {
	return &Element{Type: NonWordText, Content: s}
}

// Attr returns the value of the named tag attribute.
func (e *Element) Attr(key string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// IsWord reports whether e is a Word.
func (e *Element) IsWord() bool { return e.Type == Word }

// Clone returns a deep copy.
func (e *Element) Clone() *Element {
	out := &Element{
		Type:        e.Type,
		Content:     e.Content,
		Annotations: e.Annotations.Clone(),
	}
	if e.Attrs != nil {
		out.Attrs = append([]Attr(nil), e.Attrs...)
	}
	for _, s := range e.TransformedSegments {
		out.TransformedSegments = append(out.TransformedSegments, s.Clone())
	}
	return out
}

// SegmentAnnotations is the annotation bag of a segment. Pointer and slice
// fields distinguish absent (nil) from present-but-empty.
type SegmentAnnotations struct {
	Translated *string    `json:"translated,omitempty"`
	MWEs       [][]string `json:"mwes,omitempty"`
	Analysis   *string    `json:"analysis,omitempty"`
	PageNumber int        `json:"page_number,omitempty"`
	SegmentUID string     `json:"segment_uid,omitempty"`
	TTS        *AudioRef  `json:"tts,omitempty"`
}

// Clone returns a deep copy.
func (a SegmentAnnotations) Clone() SegmentAnnotations {
	out := a
	if a.Translated != nil {
		s := *a.Translated
		out.Translated = &s
	}
	if a.Analysis != nil {
		s := *a.Analysis
		out.Analysis = &s
	}
	if a.MWEs != nil {
		out.MWEs = make([][]string, len(a.MWEs))
		for i, m := range a.MWEs {
			out.MWEs[i] = append([]string(nil), m...)
		}
	}
	if a.TTS != nil {
		ref := *a.TTS
		out.TTS = &ref
	}
	return out
}

// Segment is an ordered sequence of content elements.
type Segment struct {
	Elements    []*Element         `json:"content_elements"`
	Annotations SegmentAnnotations `json:"annotations"`
}

// Plain returns the concatenated Word and NonWordText surfaces.
func (s *Segment) Plain() string {
	var b strings.Builder
	for _, e := range s.Elements {
		if e.Type == Word || e.Type == NonWordText {
			b.WriteString(e.Content)
		}
	}
	return b.String()
}

// Words returns the Word elements in order.
func (s *Segment) Words() []*Element {
	var out []*Element
	for _, e := range s.Elements {
		if e.Type == Word {
			out = append(out, e)
		}
	}
	return out
}

// SurfaceKey returns the tuple of element surfaces, used to recognise
// unchanged segments across versions.
func (s *Segment) SurfaceKey() string {
	parts := make([]string, len(s.Elements))
	for i, e := range s.Elements {
		parts[i] = string(e.Type) + ":" + e.Content
	}
	return strings.Join(parts, "\x1f")
}

// Clone returns a deep copy.
func (s *Segment) Clone() *Segment {
	out := &Segment{Annotations: s.Annotations.Clone()}
	out.Elements = make([]*Element, len(s.Elements))
	for i, e := range s.Elements {
		out.Elements[i] = e.Clone()
	}
	return out
}

// Page attribute keys.
const (
	PageAttrImg      = "img"
	PageAttrPage     = "page"
	PageAttrPosition = "position"
	PageAttrTitle    = "title"
)

// PageAnnotations is the annotation bag of a page. Attrs are the attributes
// carried by the page tag; Tagged records whether the page began with an
// explicit tag.
type PageAnnotations struct {
	Attrs  map[string]string `json:"attrs,omitempty"`
	TTS    *AudioRef         `json:"tts,omitempty"`
	Tagged bool              `json:"tagged,omitempty"`
}

// Page is an ordered list of segments.
type Page struct {
	Segments    []*Segment      `json:"segments"`
	Annotations PageAnnotations `json:"annotations"`
}

// Attr returns the named page attribute.
func (p *Page) Attr(key string) string {
	return p.Annotations.Attrs[key]
}

// SetAttr sets a page attribute.
func (p *Page) SetAttr(key, value string) {
	if p.Annotations.Attrs == nil {
		p.Annotations.Attrs = make(map[string]string)
	}
	p.Annotations.Attrs[key] = value
}

// Plain returns the concatenated plain text of the page.
func (p *Page) Plain() string {
	var b strings.Builder
	for _, s := range p.Segments {
		b.WriteString(s.Plain())
	}
	return b.String()
}

// Clone returns a deep copy.
func (p *Page) Clone() *Page {
	out := &Page{Annotations: PageAnnotations{Tagged: p.Annotations.Tagged}}
	if p.Annotations.Attrs != nil {
		out.Annotations.Attrs = make(map[string]string, len(p.Annotations.Attrs))
		for k, v := range p.Annotations.Attrs {
			out.Annotations.Attrs[k] = v
		}
	}
	if p.Annotations.TTS != nil {
		ref := *p.Annotations.TTS
		out.Annotations.TTS = &ref
	}
	out.Segments = make([]*Segment, len(p.Segments))
	for i, s := range p.Segments {
		out.Segments[i] = s.Clone()
	}
	return out
}

// ConcordanceEntry indexes the segments in which one lemma occurs.
type ConcordanceEntry struct {
	Segments  []*Segment `json:"segments"`
	Frequency int        `json:"frequency"`
}

// Text is a complete annotated document.
type Text struct {
	L2Language  string                       `json:"l2_language"`
	L1Language  string                       `json:"l1_language"`
	Voice       string                       `json:"voice,omitempty"`
	Pages       []*Page                      `json:"pages"`
	Concordance map[string]*ConcordanceEntry `json:"concordance,omitempty"`
}

// New returns an empty text for the given languages.
func New(l2, l1 string) *Text {
	return &Text{L2Language: l2, L1Language: l1}
}

// Plain returns the plain text of the whole document.
func (t *Text) Plain() string {
	var b strings.Builder
	for _, p := range t.Pages {
		b.WriteString(p.Plain())
	}
	return b.String()
}

// Segments returns every segment in document order.
func (t *Text) Segments() []*Segment {
	var out []*Segment
	for _, p := range t.Pages {
		out = append(out, p.Segments...)
	}
	return out
}

// Walk calls fn for every element in document order, stopping at the first
// error.
func (t *Text) Walk(fn func(p *Page, s *Segment, e *Element) error) error {
	for _, p := range t.Pages {
		for _, s := range p.Segments {
			for _, e := range s.Elements {
				if err := fn(p, s, e); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// WordCount returns the number of Word elements.
func (t *Text) WordCount() int {
	n := 0
	_ = t.Walk(func(_ *Page, _ *Segment, e *Element) error {
		if e.Type == Word {
			n++
		}
		return nil
	})
	return n
}

// Clone returns a deep copy. Concordance segment references are remapped
// to the cloned segments.
func (t *Text) Clone() *Text {
	out := &Text{L2Language: t.L2Language, L1Language: t.L1Language, Voice: t.Voice}
	remap := make(map[*Segment]*Segment)
	out.Pages = make([]*Page, len(t.Pages))
	for i, p := range t.Pages {
		out.Pages[i] = p.Clone()
		for j, s := range p.Segments {
			remap[s] = out.Pages[i].Segments[j]
		}
	}
	if t.Concordance != nil {
		out.Concordance = make(map[string]*ConcordanceEntry, len(t.Concordance))
		for k, e := range t.Concordance {
			ce := &ConcordanceEntry{Frequency: e.Frequency}
			for _, s := range e.Segments {
				if m, ok := remap[s]; ok {
					ce.Segments = append(ce.Segments, m)
				} else {
					ce.Segments = append(ce.Segments, s)
				}
			}
			out.Concordance[k] = ce
		}
	}
	return out
}

// DiffElement is a transient (type, content, annotations) triple used when
// aligning two serializations of the same surface text.
type DiffElement struct {
	Type        ElementType
	Content     string
	Annotations Annotations
}

// DiffElements flattens the elements of a segment.
func DiffElements(s *Segment) []DiffElement {
	out := make([]DiffElement, len(s.Elements))
	for i, e := range s.Elements {
		out[i] = DiffElement{Type: e.Type, Content: e.Content, Annotations: e.Annotations.Clone()}
	}
	return out
}
