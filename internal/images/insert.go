package images

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackzampolin/clara/internal/markup"
	"github.com/jackzampolin/clara/internal/text"
)

// ImgTag renders the inline tag for img.
func ImgTag(img *Image) string {
	attr := func(k, v string) string {
		q := "'"
		if strings.Contains(v, "'") {
			q = `"`
		}
		return " " + k + "=" + q + v + q
	}
	var b strings.Builder
	b.WriteString("<img")
	b.WriteString(attr("src", img.FilePath))
	b.WriteString(attr("id", img.Name))
	if img.Page > 0 {
		b.WriteString(attr("page", strconv.Itoa(img.Page)))
		b.WriteString(attr("position", img.Position))
	}
	b.WriteString("/>")
	return b.String()
}

func imageElement(img *Image) (*text.Element, error) {
	raw := ImgTag(img)
	tag, err := markup.ParseTag(raw)
	if err != nil {
		return nil, err
	}
	return &text.Element{Type: text.Image, Content: raw, Attrs: tag.Attrs}, nil
}

// InsertImages adds a segment holding an Image element for every placed
// image of imgs to t: first on its page for position top, last otherwise.
// Images for pages the text does not have are skipped. It returns the
// number inserted.
func InsertImages(t *text.Text, imgs []*Image) (int, error) {
	n := 0
	for _, img := range imgs {
		if img.Page < 1 || img.Page > len(t.Pages) {
			continue
		}
		e, err := imageElement(img)
		if err != nil {
			return n, fmt.Errorf("image %s: %w", img.Name, err)
		}
		segs, err := RegionSegments(img, t.L2Language, t.L1Language)
		if err != nil {
			return n, err
		}
		e.TransformedSegments = segs
		page := t.Pages[img.Page-1]
		seg := &text.Segment{Elements: []*text.Element{e}}
		if img.Position == PositionTop {
			page.Segments = append([]*text.Segment{seg}, page.Segments...)
		} else {
			page.Segments = append(page.Segments, seg)
		}
		n++
	}
	return n, nil
}

// RegionSegments parses the segmented associated text of img and gives
// each word that names an area the area's region. Each area is used once,
// in order.
func RegionSegments(img *Image, l2, l1 string) ([]*text.Segment, error) {
	if strings.TrimSpace(img.AssociatedText) == "" {
		return nil, nil
	}
	parsed, err := markup.Internalise(img.AssociatedText, markup.LayerSegmented, l2, l1)
	if err != nil {
		return nil, fmt.Errorf("associated text of image %s: %w", img.Name, err)
	}
	used := make([]bool, len(img.Areas))
	segs := parsed.Segments()
	for _, seg := range segs {
		for _, w := range seg.Words() {
			for i, a := range img.Areas {
				if used[i] || a.Word != w.Content {
					continue
				}
				used[i] = true
				w.Annotations.Region = &text.Region{Shape: a.Shape, Coordinates: a.Coordinates}
				break
			}
		}
	}
	return segs, nil
}

// AttachRegions fills the transformed segments of the Image elements of t
// whose id names one of imgs. Region words take the annotations of the
// first word with the same surface in the body of t.
func AttachRegions(t *text.Text, imgs []*Image) error {
	byName := make(map[string]*Image, len(imgs))
	for _, img := range imgs {
		byName[img.Name] = img
	}
	body := make(map[string]text.Annotations)
	_ = t.Walk(func(_ *text.Page, _ *text.Segment, e *text.Element) error {
		if e.IsWord() {
			if _, ok := body[e.Content]; !ok {
				body[e.Content] = e.Annotations
			}
		}
		return nil
	})
	return t.Walk(func(_ *text.Page, _ *text.Segment, e *text.Element) error {
		if e.Type != text.Image {
			return nil
		}
		id, _ := e.Attr("id")
		img, ok := byName[id]
		if !ok {
			return nil
		}
		segs, err := RegionSegments(img, t.L2Language, t.L1Language)
		if err != nil {
			return err
		}
		for _, seg := range segs {
			for _, w := range seg.Words() {
				if a, ok := body[w.Content]; ok {
					region := w.Annotations.Region
					w.Annotations = a.Clone()
					w.Annotations.Region = region
				}
			}
		}
		e.TransformedSegments = segs
		return nil
	})
}
