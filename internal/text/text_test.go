package text

import (
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
		words []bool
	}{
		{"simple", "Hello, world!", []string{"Hello", ", ", "world", "!"}, []bool{true, false, true, false}},
		{"apostrophe", "don't stop", []string{"don't", " ", "stop"}, []bool{true, false, true}},
		{"trailing hyphen", "well- done", []string{"well", "- ", "done"}, []bool{true, false, true}},
		{"leading space", " How", []string{" ", "How"}, []bool{false, true}},
		{"accents", "café noir", []string{"café", " ", "noir"}, []bool{true, false, true}},
		{"empty", "", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d elements, got %d: %+v", len(tt.want), len(got), got)
			}
			for i, e := range got {
				if e.Content != tt.want[i] {
					t.Errorf("element %d: expected %q, got %q", i, tt.want[i], e.Content)
				}
				if e.IsWord() != tt.words[i] {
					t.Errorf("element %d (%q): expected word=%v", i, e.Content, tt.words[i])
				}
			}
		})
	}
}

func TestIsSimpleWord(t *testing.T) {
	if !IsSimpleWord("chien") {
		t.Error("expected chien to be a simple word")
	}
	if IsSimpleWord("New York") {
		t.Error("expected New York to need delimiting")
	}
	if IsSimpleWord("e.g") {
		t.Error("expected e.g to need delimiting")
	}
}

func TestAnnotations(t *testing.T) {
	t.Run("empty value deletes", func(t *testing.T) {
		var a Annotations
		a.Set(KeyGloss, "dog")
		a.Set(KeyGloss, "")
		if _, ok := a.Get(KeyGloss); ok {
			t.Error("expected gloss to be removed")
		}
	})

	t.Run("union keeps existing unless overwrite", func(t *testing.T) {
		var a, b Annotations
		a.Set(KeyLemma, "chien")
		b.Set(KeyLemma, "chienne")
		b.Set(KeyGloss, "dog")

		a.Union(b, false)
		if a.Value(KeyLemma) != "chien" {
			t.Errorf("expected lemma chien, got %q", a.Value(KeyLemma))
		}
		if a.Value(KeyGloss) != "dog" {
			t.Errorf("expected gloss dog, got %q", a.Value(KeyGloss))
		}

		a.Union(b, true)
		if a.Value(KeyLemma) != "chienne" {
			t.Errorf("expected overwritten lemma, got %q", a.Value(KeyLemma))
		}
	})

	t.Run("clone is independent", func(t *testing.T) {
		var a Annotations
		a.Set(KeyGloss, "dog")
		a.TTS = &AudioRef{FilePath: "a.mp3"}
		c := a.Clone()
		c.Set(KeyGloss, "cat")
		c.TTS.FilePath = "b.mp3"
		if a.Value(KeyGloss) != "dog" || a.TTS.FilePath != "a.mp3" {
			t.Error("clone shares state with original")
		}
	})
}

func TestTextPlainAndClone(t *testing.T) {
	seg := &Segment{Elements: []*Element{
		NewWord("le"), NewNonWord(" "), {Type: Markup, Content: "<b>"}, NewWord("chien"),
	}}
	txt := &Text{L2Language: "french", Pages: []*Page{{Segments: []*Segment{seg}}}}
	txt.Concordance = map[string]*ConcordanceEntry{"chien": {Segments: []*Segment{seg}, Frequency: 1}}

	if got := txt.Plain(); got != "le chien" {
		t.Errorf("expected plain %q, got %q", "le chien", got)
	}
	if txt.WordCount() != 2 {
		t.Errorf("expected 2 words, got %d", txt.WordCount())
	}

	c := txt.Clone()
	if c.Concordance["chien"].Segments[0] != c.Pages[0].Segments[0] {
		t.Error("expected concordance to reference cloned segment")
	}
	c.Pages[0].Segments[0].Elements[0].Annotations.Set(KeyGloss, "the")
	if _, ok := seg.Elements[0].Annotations.Get(KeyGloss); ok {
		t.Error("clone mutation leaked into original")
	}
}

func TestSurfaceKey(t *testing.T) {
	a := &Segment{Elements: Tokenize("le chien")}
	b := &Segment{Elements: Tokenize("le chien")}
	b.Elements[0].Annotations.Set(KeyGloss, "the")
	if a.SurfaceKey() != b.SurfaceKey() {
		t.Error("annotations must not affect the surface key")
	}
	c := &Segment{Elements: Tokenize("le chat")}
	if a.SurfaceKey() == c.SurfaceKey() {
		t.Error("different surfaces must have different keys")
	}
}
