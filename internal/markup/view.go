// Package markup converts between the inline layer serialization and the
// text model.
//
// Structure: "<page ...>" starts a page, "||" ends a segment and "|"
// separates words. "@surface@" delimits a word that would otherwise be
// split, "Surface#payload#" attaches a word annotation and "\x" makes any
// reserved character x literal.
package markup

import (
	"fmt"

	"github.com/jackzampolin/clara/internal/text"
)

// Layer names.
const (
	LayerPlain               = "plain"
	LayerTitle               = "title"
	LayerSummary             = "summary"
	LayerCEFRLevel           = "cefr_level"
	LayerSegmented           = "segmented"
	LayerSegmentedTitle      = "segmented_title"
	LayerSegmentedWithImages = "segmented_with_images"
	LayerTranslated          = "translated"
	LayerMWE                 = "mwe"
	LayerMWEMinimal          = "mwe_minimal"
	LayerPhonetic            = "phonetic"
	LayerGloss               = "gloss"
	LayerLemma               = "lemma"
	LayerPinyin              = "pinyin"
	LayerLemmaAndGloss       = "lemma_and_gloss"
)

// PayloadKind describes the word-level payload carried by a view.
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadSingle
	PayloadLemmaPOS
	PayloadLemmaPOSGloss
)

// TrailerKind describes the segment-level trailer carried by a view.
type TrailerKind int

const (
	TrailerNone TrailerKind = iota
	TrailerTranslation
	TrailerMWE
	TrailerMWEMinimal
)

// View is the grammar of one layer serialization.
type View struct {
	Name    string
	Plain   bool
	Bars    bool
	Payload PayloadKind
	Key     string
	Trailer TrailerKind
}

// Keys returns the element annotation keys visible in the view.
func (v View) Keys() []string {
	switch v.Payload {
	case PayloadSingle:
		return []string{v.Key}
	case PayloadLemmaPOS:
		return []string{text.KeyLemma, text.KeyPOS}
	case PayloadLemmaPOSGloss:
		return []string{text.KeyLemma, text.KeyPOS, text.KeyGloss}
	}
	return nil
}

var views = map[string]View{
	LayerPlain:               {Name: LayerPlain, Plain: true},
	LayerTitle:               {Name: LayerTitle, Plain: true},
	LayerSummary:             {Name: LayerSummary, Plain: true},
	LayerCEFRLevel:           {Name: LayerCEFRLevel, Plain: true},
	LayerSegmented:           {Name: LayerSegmented, Bars: true},
	LayerSegmentedTitle:      {Name: LayerSegmentedTitle, Bars: true},
	LayerSegmentedWithImages: {Name: LayerSegmentedWithImages, Bars: true},
	LayerTranslated:          {Name: LayerTranslated, Bars: true, Trailer: TrailerTranslation},
	LayerMWE:                 {Name: LayerMWE, Bars: true, Trailer: TrailerMWE},
	LayerMWEMinimal:          {Name: LayerMWEMinimal, Bars: true, Trailer: TrailerMWEMinimal},
	LayerPhonetic:            {Name: LayerPhonetic, Bars: true, Payload: PayloadSingle, Key: text.KeyPhonetic},
	LayerGloss:               {Name: LayerGloss, Payload: PayloadSingle, Key: text.KeyGloss},
	LayerPinyin:              {Name: LayerPinyin, Payload: PayloadSingle, Key: text.KeyPinyin},
	LayerLemma:               {Name: LayerLemma, Payload: PayloadLemmaPOS},
	LayerLemmaAndGloss:       {Name: LayerLemmaAndGloss, Payload: PayloadLemmaPOSGloss},
}

// ViewFor returns the view for a layer name.
func ViewFor(layer string) (View, error) {
	v, ok := views[layer]
	if !ok {
		return View{}, fmt.Errorf("unknown layer view: %s", layer)
	}
	return v, nil
}

// MustView is ViewFor for names known at compile time.
func MustView(layer string) View {
	v, err := ViewFor(layer)
	if err != nil {
		panic(err)
	}
	return v
}

// Layers returns every named layer view.
func Layers() []string {
	return []string{
		LayerPlain, LayerTitle, LayerSummary, LayerCEFRLevel,
		LayerSegmented, LayerSegmentedTitle, LayerSegmentedWithImages,
		LayerTranslated, LayerMWE, LayerMWEMinimal, LayerPhonetic,
		LayerGloss, LayerLemma, LayerPinyin, LayerLemmaAndGloss,
	}
}
