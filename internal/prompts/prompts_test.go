package prompts

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/providers"
)

func TestExtractVariables(t *testing.T) {
	got := ExtractVariables(`Gloss {text} in {l1_language}. Output: [["a", "b"]] {"k": 1} {text}`)
	if strings.Join(got, ",") != "l1_language,text" {
		t.Errorf("ExtractVariables() = %v", got)
	}
}

func TestEmbeddedTemplatesValidate(t *testing.T) {
	r := NewResolver(nil, nil)
	if len(r.Phases()) == 0 {
		t.Fatal("no embedded phases")
	}
	if err := r.ValidateAll(); err != nil {
		t.Fatalf("ValidateAll() error = %v", err)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	r := NewResolver(nil, nil)

	fr, err := r.Resolve("French", "gloss", ModeAnnotate)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if fr.Language != "french" || !strings.Contains(fr.Text, "Elided forms") {
		t.Errorf("expected french template, got %s", fr.Language)
	}

	improve, err := r.Resolve("french", "gloss", ModeImprove)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if improve.Language != DefaultLanguage {
		t.Errorf("expected default-language fallback, got %s", improve.Language)
	}

	_, err = r.Resolve("french", "gloss", "nonexistent")
	var te *clerr.TemplateError
	if !errors.As(err, &te) {
		t.Errorf("expected TemplateError, got %v", err)
	}
}

func TestRender(t *testing.T) {
	r := NewResolver(nil, nil)
	tmpl, err := r.Resolve("english", "gloss", ModeAnnotate)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	out, err := tmpl.Render(Vars{L1: "french", L2: "english", Elements: `["the", "dog"]`})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{"English text", "French gloss", `["the", "dog"]`, `[["le", "the"]`} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered prompt missing %q", want)
		}
	}
	if strings.Contains(out, "{examples}") || strings.Contains(out, "{simplified_elements_json}") {
		t.Error("placeholders left in rendered prompt")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		tmpl Template
		ok   bool
	}{
		{"ok", Template{Text: "{l2_language} {text}"}, true},
		{"disallowed", Template{Text: "{text} {user_name}"}, false},
		{"both inputs", Template{Text: "{text} {simplified_elements_json}"}, false},
		{"no input", Template{Text: "{l2_language}"}, false},
		{"missing examples", Template{Text: "{examples} {text}"}, false},
		{"with examples", Template{Text: "{examples} {text}", Examples: []Example{{Text: "x"}}}, true},
		{"empty", Template{Text: "  "}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tmpl.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestOverrides(t *testing.T) {
	store := NewStore(t.TempDir())
	r := NewResolver(store, nil)

	before, err := r.Resolve("german", "summary", ModeAnnotate)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	err = r.SaveOverride("german", "summary", ModeAnnotate, ModeFile{
		Template: "Fasse zusammen: {text}",
	})
	if err != nil {
		t.Fatalf("SaveOverride() error = %v", err)
	}
	after, err := r.Resolve("german", "summary", ModeAnnotate)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !after.IsOverride || after.Text != "Fasse zusammen: {text}" {
		t.Errorf("override not used: %+v", after)
	}
	if after.Hash == before.Hash {
		t.Error("expected hash to change")
	}

	if err := r.SaveOverride("german", "summary", ModeAnnotate, ModeFile{Template: "{bad}"}); err == nil {
		t.Error("expected invalid override to be rejected")
	}

	if err := r.DeleteOverride("german", "summary", ModeAnnotate); err != nil {
		t.Fatalf("DeleteOverride() error = %v", err)
	}
	restored, _ := r.Resolve("german", "summary", ModeAnnotate)
	if restored.IsOverride {
		t.Error("override still used after delete")
	}
}

func TestStoreRejectsBadNames(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Put("../etc", "gloss", ModeAnnotate, ModeFile{}); err == nil {
		t.Error("expected invalid language error")
	}
}

func TestSelectByPOSNgrams(t *testing.T) {
	examples := []Example{
		{Text: "a", Pos: []string{"NOUN", "NOUN", "NOUN"}},
		{Text: "b", Pos: []string{"DET", "NOUN", "VERB"}},
		{Text: "c", Pos: []string{"DET", "ADJ", "NOUN", "VERB"}},
	}
	cache := NewNgramCache()
	got := SelectByPOSNgrams(cache, []string{"DET", "NOUN", "VERB", "ADP"}, examples, 2)
	if len(got) != 2 || got[0].Text != "b" || got[1].Text != "c" {
		t.Errorf("SelectByPOSNgrams() = %v", got)
	}
	if cache.Len() != 4 {
		t.Errorf("cache.Len() = %d, want 4", cache.Len())
	}

	path := filepath.Join(t.TempDir(), "ngrams.json")
	if err := cache.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded := NewNgramCache()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Len() != 4 {
		t.Errorf("loaded.Len() = %d", loaded.Len())
	}
}

type fakeEmbedder map[string][]float64

func (f fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = f[t]
	}
	return out, nil
}

var _ providers.Embedder = fakeEmbedder(nil)

func TestSelectByEmbedding(t *testing.T) {
	emb := fakeEmbedder{
		"query": {1, 0},
		"far":   {0, 1},
		"near":  {0.9, 0.1},
		"mid":   {0.5, 0.5},
	}
	examples := []Example{{Text: "far"}, {Text: "near"}, {Text: "mid"}}
	got, err := SelectByEmbedding(context.Background(), emb, "query", examples, 2)
	if err != nil {
		t.Fatalf("SelectByEmbedding() error = %v", err)
	}
	if got[0].Text != "near" || got[1].Text != "mid" {
		t.Errorf("SelectByEmbedding() = %v", got)
	}

	all, _ := SelectByEmbedding(context.Background(), emb, "query", examples, 5)
	if len(all) != 3 {
		t.Errorf("expected all examples when n exceeds list, got %d", len(all))
	}
}
