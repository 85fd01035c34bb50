package markup

import (
	"github.com/jackzampolin/clara/internal/text"
)

// Project returns a copy of t reduced to what v can express: element
// annotations outside the view's keys, segment annotations outside its
// trailer, audio references and concordance data are dropped, and
// adjacent non-word runs are merged.
func Project(t *text.Text, v View) *text.Text {
	if v.Plain {
		out := text.New(t.L2Language, t.L1Language)
		internalisePlain(ExternaliseView(t, v), out)
		return out
	}
	keys := v.Keys()
	out := text.New(t.L2Language, t.L1Language)
	for i, page := range t.Pages {
		np := &text.Page{}
		tagged := i > 0 || page.Annotations.Tagged || len(page.Annotations.Attrs) > 0
		if i == 0 && !tagged && len(page.Segments) == 0 {
			continue
		}
		np.Annotations.Tagged = tagged
		for k, val := range page.Annotations.Attrs {
			np.SetAttr(k, val)
		}
		for _, seg := range page.Segments {
			np.Segments = append(np.Segments, projectSegment(seg, v, keys))
		}
		out.Pages = append(out.Pages, np)
	}
	return out
}

func projectSegment(seg *text.Segment, v View, keys []string) *text.Segment {
	ns := &text.Segment{}
	for _, e := range seg.Elements {
		if e.Content == "" {
			continue
		}
		ne := &text.Element{Type: e.Type, Content: e.Content}
		if e.Type == text.Image || e.Type == text.Embedded {
			ne.Attrs = append([]text.Attr(nil), e.Attrs...)
		}
		if e.Type == text.Word {
			for _, k := range keys {
				if val, ok := e.Annotations.Get(k); ok {
					ne.Annotations.Set(k, val)
				}
			}
		}
		last := len(ns.Elements) - 1
		if ne.Type == text.NonWordText && last >= 0 && ns.Elements[last].Type == text.NonWordText {
			ns.Elements[last].Content += ne.Content
			continue
		}
		ns.Elements = append(ns.Elements, ne)
	}
	src := seg.Annotations.Clone()
	switch v.Trailer {
	case TrailerTranslation:
		ns.Annotations.Translated = src.Translated
	case TrailerMWEMinimal:
		ns.Annotations.MWEs = nonEmptyGroups(src.MWEs)
	case TrailerMWE:
		ns.Annotations.MWEs = nonEmptyGroups(src.MWEs)
		ns.Annotations.Analysis = src.Analysis
	}
	return ns
}

func nonEmptyGroups(mwes [][]string) [][]string {
	if mwes == nil {
		return nil
	}
	out := make([][]string, 0, len(mwes))
	for _, m := range mwes {
		if len(m) > 0 {
			out = append(out, m)
		}
	}
	return out
}
