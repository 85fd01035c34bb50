package markup

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/text"
)

func mustInternalise(t *testing.T, s, layer string) *text.Text {
	t.Helper()
	txt, err := Internalise(s, layer, "english", "french")
	if err != nil {
		t.Fatalf("Internalise(%q, %s) error = %v", s, layer, err)
	}
	return txt
}

func TestSegmentedRoundTrip(t *testing.T) {
	input := "Hello,| world!|| How| are| you?||"
	txt := mustInternalise(t, input, LayerSegmented)

	if len(txt.Pages) != 1 || len(txt.Pages[0].Segments) != 2 {
		t.Fatalf("expected 1 page with 2 segments, got %+v", txt.Pages)
	}
	if got := txt.Plain(); got != "Hello, world! How are you?" {
		t.Errorf("unexpected plain text %q", got)
	}

	out, err := Externalise(txt, LayerSegmented)
	if err != nil {
		t.Fatalf("Externalise() error = %v", err)
	}
	if out != input {
		t.Errorf("round trip mismatch:\n got %q\nwant %q", out, input)
	}

	stripped := strings.NewReplacer("||", "", "|", "").Replace(out)
	if stripped != "Hello, world! How are you?" {
		t.Errorf("stripping separators gave %q", stripped)
	}
}

func TestGlossLayer(t *testing.T) {
	txt, err := Internalise("le#the# chien#dog#||", LayerGloss, "french", "english")
	if err != nil {
		t.Fatalf("Internalise() error = %v", err)
	}
	seg := txt.Pages[0].Segments[0]
	if len(seg.Elements) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(seg.Elements))
	}
	want := []struct {
		typ   text.ElementType
		body  string
		gloss string
	}{
		{text.Word, "le", "the"},
		{text.NonWordText, " ", ""},
		{text.Word, "chien", "dog"},
	}
	for i, w := range want {
		e := seg.Elements[i]
		if e.Type != w.typ || e.Content != w.body || e.Annotations.Value(text.KeyGloss) != w.gloss {
			t.Errorf("element %d: got %s %q gloss=%q", i, e.Type, e.Content, e.Annotations.Value(text.KeyGloss))
		}
	}
	out, _ := Externalise(txt, LayerGloss)
	if out != "le#the# chien#dog#||" {
		t.Errorf("unexpected gloss externalisation %q", out)
	}
}

func TestRoundTripCanonicalFiles(t *testing.T) {
	tests := []struct {
		layer string
		input string
	}{
		{LayerSegmented, "<page img='cover.jpg' page='1'>Once| upon| a| time.||\n<page>The| @New York@| end.||"},
		{LayerSegmented, "a||||b||"},
		{LayerSegmented, "l'|homme| est| là.||\n"},
		{LayerSegmented, "Price:| 5\\#| or| \\@home.||"},
		{LayerTranslated, "Le| chien| dort.#The dog sleeps.#||Il| rêve.##||"},
		{LayerMWE, "He| gave| up.\n\n_analysis: phrasal verb\n_MWEs: gave up||It| rained.\n\n_MWEs: ||"},
		{LayerMWEMinimal, "He| gave| up.#gave up#||On| Boxing| Day.#Boxing Day,On Day#||"},
		{LayerLemma, "The#the/DET# dogs#dog/NOUN# ran#run/VERB#.||"},
		{LayerLemmaAndGloss, "dogs#dog/NOUN/chiens# and#and/CCONJ/et#||"},
		{LayerLemmaAndGloss, "a#a\\/b/X/-#||"},
		{LayerPinyin, "你好#nǐ hǎo#！||"},
		{LayerPhonetic, "cat#kæt#| sat#sæt#.||"},
		{LayerGloss, "<b>chien#dog#</b> <img src='dog.png'/>||"},
		{LayerGloss, "un#a#deux#two#||"},
		{LayerSegmented, "abc|def||"},
	}

	for _, tt := range tests {
		t.Run(tt.layer+"/"+tt.input, func(t *testing.T) {
			txt := mustInternalise(t, tt.input, tt.layer)
			out, err := Externalise(txt, tt.layer)
			if err != nil {
				t.Fatalf("Externalise() error = %v", err)
			}
			if out != tt.input {
				t.Errorf("round trip mismatch:\n got %q\nwant %q", out, tt.input)
			}
		})
	}
}

func TestInternaliseExternaliseStructural(t *testing.T) {
	seg := &text.Segment{Elements: []*text.Element{
		text.NewWord("She"), text.NewNonWord(" "), text.NewWord("can't"), text.NewNonWord(" "),
		text.NewWord("New York"), text.NewNonWord(", "), text.NewWord("a-b"), text.NewNonWord("-"),
		text.NewWord("c"), text.NewNonWord("!"),
	}}
	seg.Elements[0].Annotations.Set(text.KeyGloss, "elle")
	seg.Elements[0].Annotations.Set(text.KeyLemma, "she")
	seg.Elements[0].Annotations.Set(text.KeyPOS, "PRON")
	seg.Elements[4].Annotations.Set(text.KeyGloss, "New#York")
	translated := "Elle ne peut pas | New York"
	analysis := "no MWE"
	seg.Annotations.Translated = &translated
	seg.Annotations.Analysis = &analysis
	seg.Annotations.MWEs = [][]string{{"She", "can't"}}
	seg.Annotations.SegmentUID = "seg_1"

	tail := &text.Segment{Elements: []*text.Element{text.NewNonWord("\n")}}
	page2 := &text.Page{Segments: []*text.Segment{{Elements: text.Tokenize("Bye now.")}}}
	page2.SetAttr(text.PageAttrImg, "x.jpg")
	orig := &text.Text{
		L2Language: "english", L1Language: "french",
		Pages: []*text.Page{{Segments: []*text.Segment{seg, tail}}, page2},
	}

	for _, layer := range []string{
		LayerSegmented, LayerTranslated, LayerMWE, LayerMWEMinimal,
		LayerGloss, LayerLemma, LayerLemmaAndGloss, LayerPhonetic, LayerPinyin,
	} {
		t.Run(layer, func(t *testing.T) {
			v := MustView(layer)
			out := ExternaliseView(orig, v)
			back, err := InternaliseView(out, v, "english", "french")
			if err != nil {
				t.Fatalf("InternaliseView(%q) error = %v", out, err)
			}
			if back.Plain() != orig.Plain() {
				t.Errorf("surface changed:\n got %q\nwant %q", back.Plain(), orig.Plain())
			}
			want := Project(orig, v)
			if !reflect.DeepEqual(back, want) {
				t.Errorf("structure mismatch for %q", out)
			}
			again := ExternaliseView(back, v)
			if again != out {
				t.Errorf("second externalisation differs:\n got %q\nwant %q", again, out)
			}
		})
	}
}

func TestInternalisationErrors(t *testing.T) {
	tests := []struct {
		layer  string
		input  string
		offset int
	}{
		{LayerGloss, "chien#dog", 5},
		{LayerSegmented, "a @b c||", 2},
		{LayerGloss, "le #the#||", 3},
		{LayerLemma, "dogs#dog/NOUN/x#||", 4},
		{LayerTranslated, "a#b# c||", 4},
		{LayerSegmented, "trailing\\", 8},
		{LayerSegmented, "<b unclosed", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Internalise(tt.input, tt.layer, "en", "fr")
			if err == nil {
				t.Fatal("expected error")
			}
			var ie *clerr.InternalisationError
			if !errors.As(err, &ie) {
				t.Fatalf("expected InternalisationError, got %T", err)
			}
			if ie.Offset != tt.offset {
				t.Errorf("expected offset %d, got %d (%v)", tt.offset, ie.Offset, err)
			}
			if ie.Substring == "" {
				t.Error("expected offending substring")
			}
		})
	}
}

func TestPageTags(t *testing.T) {
	txt := mustInternalise(t, "<page img='a.jpg' position='top' page='2'>Hi.||", LayerSegmented)
	if len(txt.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(txt.Pages))
	}
	p := txt.Pages[0]
	if !p.Annotations.Tagged {
		t.Error("expected tagged page")
	}
	if p.Attr(text.PageAttrImg) != "a.jpg" || p.Attr(text.PageAttrPage) != "2" || p.Attr(text.PageAttrPosition) != "top" {
		t.Errorf("unexpected attrs %+v", p.Annotations.Attrs)
	}
	out, _ := Externalise(txt, LayerSegmented)
	if out != "<page img='a.jpg' page='2' position='top'>Hi.||" {
		t.Errorf("unexpected canonical page tag: %q", out)
	}

	pre := mustInternalise(t, "Intro.||<page>Body.||", LayerSegmented)
	if len(pre.Pages) != 2 || pre.Pages[0].Annotations.Tagged {
		t.Fatalf("expected untagged first page before tag, got %+v", pre.Pages)
	}
}

func TestEmbeddedAndImageElements(t *testing.T) {
	txt := mustInternalise(t, "<img src='pic.png' alt=\"a cat\"/><audio src='a.mp3'></audio>Hi||", LayerSegmented)
	els := txt.Pages[0].Segments[0].Elements
	if els[0].Type != text.Image {
		t.Fatalf("expected Image, got %s", els[0].Type)
	}
	if src, _ := els[0].Attr("src"); src != "pic.png" {
		t.Errorf("expected src pic.png, got %q", src)
	}
	if alt, _ := els[0].Attr("alt"); alt != "a cat" {
		t.Errorf("expected alt 'a cat', got %q", alt)
	}
	if els[1].Type != text.Embedded {
		t.Errorf("expected Embedded, got %s", els[1].Type)
	}
	if els[2].Type != text.Markup {
		t.Errorf("expected closing tag as Markup, got %s", els[2].Type)
	}
}

func TestPlainView(t *testing.T) {
	input := "Hello <i>there</i>, world || not a separator"
	txt := mustInternalise(t, input, LayerPlain)
	out, _ := Externalise(txt, LayerPlain)
	if out != input {
		t.Errorf("plain round trip mismatch: %q", out)
	}
}

func TestEscape(t *testing.T) {
	s := `a#b@c<d>e|f\g`
	if got := Unescape(Escape(s)); got != s {
		t.Errorf("unescape(escape(s)) = %q", got)
	}
	if got := splitUnescaped(`a\/b/c`, '/'); len(got) != 2 || got[0] != `a\/b` {
		t.Errorf("unexpected split %q", got)
	}
}

func TestNormalize(t *testing.T) {
	decomposed := "cafe\u0301\r\n"
	if got := Normalize(decomposed); got != "caf\u00e9\n" {
		t.Errorf("unexpected normalisation %q", got)
	}
}
