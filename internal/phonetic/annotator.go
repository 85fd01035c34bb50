package phonetic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/clara/internal/text"
)

// Guesser proposes pronunciations for words the lexicon does not know.
type Guesser interface {
	Guess(ctx context.Context, language string, words []string) (map[string]string, error)
}

// GuesserFunc adapts a function to Guesser.
type GuesserFunc func(ctx context.Context, language string, words []string) (map[string]string, error)

// Guess implements Guesser.
func (f GuesserFunc) Guess(ctx context.Context, language string, words []string) (map[string]string, error) {
	return f(ctx, language, words)
}

// Result summarises a phonetic annotation run.
type Result struct {
	Text    *text.Text
	Lexicon int
	Guessed int
	Missing int
}

// Annotator fills the phonetic layer from the lexicon, asking the
// guesser for unknown words.
type Annotator struct {
	lexicon *Lexicon
	guesser Guesser
	logger  *slog.Logger
}

// NewAnnotator creates a phonetic annotator. guesser may be nil, in which
// case unknown words get the no-data marker.
func NewAnnotator(lex *Lexicon, guesser Guesser, logger *slog.Logger) *Annotator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Annotator{lexicon: lex, guesser: guesser, logger: logger}
}

// pronunciation returns the lexicon pronunciation of a word, preferring
// an alignment.
func pronunciation(w string, aligned map[string]AlignedEntry, plain map[string][]string) (string, bool) {
	if e, ok := aligned[w]; ok {
		if e.Phonemes != "" {
			return e.Phonemes, true
		}
		return strings.ReplaceAll(e.AlignedPhonemes, "|", ""), true
	}
	if ps := plain[w]; len(ps) > 0 {
		return ps[0], true
	}
	return "", false
}

// Annotate returns a copy of t whose words carry a phonetic annotation.
// Guessed pronunciations are recorded in the lexicon.
func (a *Annotator) Annotate(ctx context.Context, t *text.Text) (*Result, error) {
	out := t.Clone()
	lang := out.L2Language

	var words []string
	seen := make(map[string]bool)
	_ = out.Walk(func(_ *text.Page, _ *text.Segment, e *text.Element) error {
		if e.IsWord() && !seen[key(e.Content)] {
			seen[key(e.Content)] = true
			words = append(words, e.Content)
		}
		return nil
	})

	aligned, err := a.lexicon.AlignedEntriesFor(ctx, words, lang)
	if err != nil {
		return nil, err
	}
	plain, err := a.lexicon.PlainEntriesFor(ctx, words, lang)
	if err != nil {
		return nil, err
	}

	known := make(map[string]string)
	var unknown []string
	for _, w := range words {
		if p, ok := pronunciation(key(w), aligned, plain); ok {
			known[key(w)] = p
		} else {
			unknown = append(unknown, w)
		}
	}

	res := &Result{Text: out}
	if len(unknown) > 0 && a.guesser != nil {
		a.logger.Info("guessing pronunciations", "language", lang, "words", len(unknown))
		guessed, err := a.guesser.Guess(ctx, lang, unknown)
		if err != nil {
			return nil, fmt.Errorf("guess pronunciations: %w", err)
		}
		var record []PlainEntry
		for w, p := range guessed {
			p = strings.TrimSpace(p)
			if p == "" || p == text.NoData {
				continue
			}
			known[key(w)] = p
			record = append(record, PlainEntry{Word: w, Phonemes: p})
		}
		if err := a.lexicon.RecordGuessedPlainEntries(ctx, lang, record); err != nil {
			return nil, err
		}
		res.Guessed = len(record)
	}

	_ = out.Walk(func(_ *text.Page, _ *text.Segment, e *text.Element) error {
		if !e.IsWord() {
			return nil
		}
		if p, ok := known[key(e.Content)]; ok {
			e.Annotations.Set(text.KeyPhonetic, p)
		} else {
			e.Annotations.Set(text.KeyPhonetic, text.NoData)
			res.Missing++
		}
		return nil
	})
	res.Lexicon = len(words) - len(unknown)
	return res, nil
}
