package phonetic

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/clara/internal/text"
)

func openTestLexicon(t *testing.T) *Lexicon {
	t.Helper()
	lex, err := OpenLexicon(filepath.Join(t.TempDir(), "phonetic.db"))
	if err != nil {
		t.Fatalf("OpenLexicon() error = %v", err)
	}
	t.Cleanup(func() { lex.Close() })
	return lex
}

func TestEncoding(t *testing.T) {
	lex := openTestLexicon(t)
	ctx := context.Background()
	if enc, _ := lex.EncodingFor(ctx, "english"); enc != EncodingIPA {
		t.Errorf("default encoding = %q", enc)
	}
	if err := lex.SetEncoding(ctx, "english", EncodingLetter); err != nil {
		t.Fatal(err)
	}
	if enc, _ := lex.EncodingFor(ctx, "english"); enc != EncodingLetter {
		t.Errorf("encoding = %q", enc)
	}
}

func TestPlainEntries(t *testing.T) {
	lex := openTestLexicon(t)
	ctx := context.Background()

	n, err := lex.LoadPlainJSON(ctx, "english", strings.NewReader(`{"cat": ["kæt"], "Read": ["riːd", "rɛd"]}`))
	if err != nil || n != 3 {
		t.Fatalf("LoadPlainJSON() = %d, %v", n, err)
	}
	got, err := lex.PlainEntriesFor(ctx, []string{"Cat", "read", "dog"}, "english")
	if err != nil {
		t.Fatalf("PlainEntriesFor() error = %v", err)
	}
	if len(got) != 2 || got["cat"][0] != "kæt" || len(got["read"]) != 2 {
		t.Errorf("PlainEntriesFor() = %v", got)
	}

	// A guess never shadows a known word.
	if err := lex.RecordGuessedPlainEntries(ctx, "english", []PlainEntry{{Word: "cat", Phonemes: "kat"}, {Word: "dog", Phonemes: "dɒg"}}); err != nil {
		t.Fatal(err)
	}
	got, _ = lex.PlainEntriesFor(ctx, []string{"cat", "dog"}, "english")
	if len(got["cat"]) != 1 || got["dog"][0] != "dɒg" {
		t.Errorf("after guesses = %v", got)
	}
	if other, _ := lex.PlainEntriesFor(ctx, []string{"cat"}, "french"); len(other) != 0 {
		t.Errorf("entries leaked across languages: %v", other)
	}
}

func TestAlignedEntries(t *testing.T) {
	lex := openTestLexicon(t)
	ctx := context.Background()

	entries := []AlignedEntry{
		{Word: "cat", Phonemes: "kæt", AlignedGraphemes: "c|a|t", AlignedPhonemes: "k|æ|t"},
		{Word: "bad", AlignedGraphemes: "b|a", AlignedPhonemes: "b|æ|d"},
	}
	if err := lex.AddAlignedEntries(ctx, "english", entries); err != nil {
		t.Fatal(err)
	}
	got, err := lex.AlignedEntriesFor(ctx, []string{"CAT", "bad"}, "english")
	if err != nil {
		t.Fatalf("AlignedEntriesFor() error = %v", err)
	}
	if len(got) != 1 || got["cat"].AlignedPhonemes != "k|æ|t" || got["cat"].Status != StatusUploaded {
		t.Errorf("AlignedEntriesFor() = %+v", got)
	}

	if err := lex.RecordGuessedAlignedEntries(ctx, "english", []AlignedEntry{
		{Word: "cat", AlignedGraphemes: "ca|t", AlignedPhonemes: "ka|t"},
		{Word: "sit", AlignedGraphemes: "s|i|t", AlignedPhonemes: "s|ɪ|t"},
	}); err != nil {
		t.Fatal(err)
	}
	all, err := lex.AllAlignedEntries(ctx, "english")
	if err != nil || len(all) != 2 {
		t.Fatalf("AllAlignedEntries() = %+v, %v", all, err)
	}
	if all[0].Word != "cat" || all[0].AlignedGraphemes != "c|a|t" || all[1].Status != StatusGuessed {
		t.Errorf("AllAlignedEntries() = %+v", all)
	}
}

func TestAnnotate(t *testing.T) {
	lex := openTestLexicon(t)
	ctx := context.Background()
	_ = lex.AddAlignedEntries(ctx, "english", []AlignedEntry{{Word: "the", AlignedGraphemes: "th|e", AlignedPhonemes: "ð|ə"}})
	_ = lex.AddPlainEntries(ctx, "english", []PlainEntry{{Word: "cat", Phonemes: "kæt"}})

	seg := &text.Segment{Elements: []*text.Element{
		text.NewWord("The"), text.NewNonWord(" "), text.NewWord("cat"), text.NewNonWord(" "),
		text.NewWord("purrs"), text.NewNonWord(" "), text.NewWord("zzz"),
	}}
	in := text.New("english", "french")
	in.Pages = []*text.Page{{Segments: []*text.Segment{seg}}}

	var asked []string
	guesser := GuesserFunc(func(_ context.Context, lang string, words []string) (map[string]string, error) {
		asked = words
		return map[string]string{"purrs": "pɜːz", "zzz": "-"}, nil
	})
	res, err := NewAnnotator(lex, guesser, nil).Annotate(ctx, in)
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if strings.Join(asked, ",") != "purrs,zzz" {
		t.Errorf("guesser asked for %v", asked)
	}
	var got []string
	for _, w := range res.Text.Segments()[0].Words() {
		got = append(got, w.Annotations.Value(text.KeyPhonetic))
	}
	if strings.Join(got, " ") != "ðə kæt pɜːz -" {
		t.Errorf("phonetic = %v", got)
	}
	if res.Lexicon != 2 || res.Guessed != 1 || res.Missing != 1 {
		t.Errorf("result = %+v", res)
	}
	if in.Segments()[0].Words()[0].Annotations.Value(text.KeyPhonetic) != "" {
		t.Error("input text was modified")
	}

	// The guess was recorded.
	if p, _ := lex.PlainEntriesFor(ctx, []string{"purrs"}, "english"); p["purrs"][0] != "pɜːz" {
		t.Errorf("guess not recorded: %v", p)
	}
}
