// Package phonetic holds the phonetic lexicon and the lexicon-driven
// annotator that produces the phonetic layer.
package phonetic

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/db"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS encodings (
		language TEXT PRIMARY KEY,
		encoding TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS plain_entries (
		language TEXT NOT NULL,
		word TEXT NOT NULL,
		phonemes TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (language, word, phonemes)
	);`,
	`CREATE TABLE IF NOT EXISTS aligned_entries (
		language TEXT NOT NULL,
		word TEXT NOT NULL,
		phonemes TEXT NOT NULL,
		aligned_graphemes TEXT NOT NULL,
		aligned_phonemes TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (language, word)
	);`,
}

// Entry statuses. Guessed entries never replace uploaded or reviewed ones.
const (
	StatusUploaded = "uploaded"
	StatusReviewed = "reviewed"
	StatusGuessed  = "generated"
)

// Encodings.
const (
	EncodingIPA    = "ipa"
	EncodingLetter = "letter"
)

// PlainEntry is one pronunciation of a word.
type PlainEntry struct {
	Word     string `json:"word"`
	Phonemes string `json:"phonemes"`
	Status   string `json:"status,omitempty"`
}

// AlignedEntry pairs the letter groups of a word with phoneme groups.
// AlignedGraphemes and AlignedPhonemes are "|"-separated with the same
// number of groups.
type AlignedEntry struct {
	Word             string `json:"word"`
	Phonemes         string `json:"phonemes"`
	AlignedGraphemes string `json:"aligned_graphemes"`
	AlignedPhonemes  string `json:"aligned_phonemes"`
	Status           string `json:"status,omitempty"`
}

// Valid reports whether the alignment has matching groups that spell
// the word.
func (e AlignedEntry) Valid() bool {
	g := strings.Split(e.AlignedGraphemes, "|")
	p := strings.Split(e.AlignedPhonemes, "|")
	return len(g) == len(p) && strings.Join(g, "") == e.Word
}

// Lexicon is the sqlite-backed phonetic lexicon. Lookups are cached per
// language; writes invalidate the cache.
type Lexicon struct {
	db *db.DB

	mu    sync.RWMutex
	plain map[string]map[string][]string // language -> word -> phonemes
}

// OpenLexicon opens the lexicon database at path.
func OpenLexicon(path string) (*Lexicon, error) {
	d, err := db.Open(path, migrations...)
	if err != nil {
		return nil, lexErr("open", err)
	}
	return &Lexicon{db: d, plain: make(map[string]map[string][]string)}, nil
}

// Close closes the database.
func (l *Lexicon) Close() error {
	return l.db.Close()
}

func lexErr(op string, err error) error {
	return &clerr.RepositoryError{Repository: "phonetic", Op: op, Err: err}
}

func key(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

// SetEncoding records the encoding used for a language.
func (l *Lexicon) SetEncoding(ctx context.Context, language, encoding string) error {
	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO encodings (language, encoding) VALUES (?, ?)
		 ON CONFLICT (language) DO UPDATE SET encoding = excluded.encoding`,
		language, encoding); err != nil {
		return lexErr("set_encoding", err)
	}
	return nil
}

// EncodingFor returns the encoding of a language, EncodingIPA if unset.
func (l *Lexicon) EncodingFor(ctx context.Context, language string) (string, error) {
	var enc string
	err := l.db.QueryRowContext(ctx, `SELECT encoding FROM encodings WHERE language = ?`, language).Scan(&enc)
	if errors.Is(err, sql.ErrNoRows) {
		return EncodingIPA, nil
	}
	if err != nil {
		return "", lexErr("encoding_for", err)
	}
	return enc, nil
}

func (l *Lexicon) invalidate(language string) {
	l.mu.Lock()
	delete(l.plain, language)
	l.mu.Unlock()
}

// AddPlainEntries stores entries, replacing the status of existing ones.
func (l *Lexicon) AddPlainEntries(ctx context.Context, language string, entries []PlainEntry) error {
	return l.writePlain(ctx, language, entries, StatusUploaded, true)
}

// RecordGuessedPlainEntries stores guessed entries for words the lexicon
// has no entry for.
func (l *Lexicon) RecordGuessedPlainEntries(ctx context.Context, language string, entries []PlainEntry) error {
	return l.writePlain(ctx, language, entries, StatusGuessed, false)
}

func (l *Lexicon) writePlain(ctx context.Context, language string, entries []PlainEntry, status string, replace bool) error {
	defer l.invalidate(language)
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return lexErr("add_plain_entries", err)
	}
	defer tx.Rollback()

	now := db.FormatTime(time.Now())
	for _, e := range entries {
		w := key(e.Word)
		if w == "" || strings.TrimSpace(e.Phonemes) == "" {
			continue
		}
		st := e.Status
		if st == "" {
			st = status
		}
		if !replace {
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM plain_entries WHERE language = ? AND word = ?`, language, w).Scan(&n); err != nil {
				return lexErr("add_plain_entries", err)
			}
			if n > 0 {
				continue
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO plain_entries (language, word, phonemes, status, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (language, word, phonemes) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
			language, w, strings.TrimSpace(e.Phonemes), st, now); err != nil {
			return lexErr("add_plain_entries", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return lexErr("add_plain_entries", err)
	}
	return nil
}

// LoadPlainJSON adds the entries of a JSON object mapping words to lists
// of pronunciations. It returns the number of entries read.
func (l *Lexicon) LoadPlainJSON(ctx context.Context, language string, r io.Reader) (int, error) {
	var m map[string][]string
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return 0, fmt.Errorf("decode plain lexicon: %w", err)
	}
	var entries []PlainEntry
	for w, ps := range m {
		for _, p := range ps {
			entries = append(entries, PlainEntry{Word: w, Phonemes: p})
		}
	}
	return len(entries), l.AddPlainEntries(ctx, language, entries)
}

func (l *Lexicon) loadPlain(ctx context.Context, language string) (map[string][]string, error) {
	l.mu.RLock()
	m, ok := l.plain[language]
	l.mu.RUnlock()
	if ok {
		return m, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT word, phonemes FROM plain_entries WHERE language = ?
		 ORDER BY word, CASE status WHEN 'generated' THEN 1 ELSE 0 END, phonemes`, language)
	if err != nil {
		return nil, lexErr("plain_entries_for", err)
	}
	defer rows.Close()
	m = make(map[string][]string)
	for rows.Next() {
		var w, p string
		if err := rows.Scan(&w, &p); err != nil {
			return nil, lexErr("plain_entries_for", err)
		}
		m[w] = append(m[w], p)
	}
	if err := rows.Err(); err != nil {
		return nil, lexErr("plain_entries_for", err)
	}
	l.mu.Lock()
	l.plain[language] = m
	l.mu.Unlock()
	return m, nil
}

// PlainEntriesFor returns the pronunciations of the words the lexicon
// knows, keyed by lower-cased word. Non-guessed pronunciations come first.
func (l *Lexicon) PlainEntriesFor(ctx context.Context, words []string, language string) (map[string][]string, error) {
	m, err := l.loadPlain(ctx, language)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, w := range words {
		k := key(w)
		if ps, ok := m[k]; ok {
			out[k] = ps
		}
	}
	return out, nil
}

// AddAlignedEntries stores aligned entries, replacing existing ones.
func (l *Lexicon) AddAlignedEntries(ctx context.Context, language string, entries []AlignedEntry) error {
	return l.writeAligned(ctx, language, entries, StatusUploaded, true)
}

// RecordGuessedAlignedEntries stores guessed alignments for words without
// one. Invalid alignments are skipped.
func (l *Lexicon) RecordGuessedAlignedEntries(ctx context.Context, language string, entries []AlignedEntry) error {
	return l.writeAligned(ctx, language, entries, StatusGuessed, false)
}

func (l *Lexicon) writeAligned(ctx context.Context, language string, entries []AlignedEntry, status string, replace bool) error {
	conflict := `DO NOTHING`
	if replace {
		conflict = `DO UPDATE SET phonemes = excluded.phonemes, aligned_graphemes = excluded.aligned_graphemes,
			aligned_phonemes = excluded.aligned_phonemes, status = excluded.status, updated_at = excluded.updated_at`
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return lexErr("add_aligned_entries", err)
	}
	defer tx.Rollback()

	now := db.FormatTime(time.Now())
	for _, e := range entries {
		e.Word = key(e.Word)
		if e.Word == "" || !e.Valid() {
			continue
		}
		st := e.Status
		if st == "" {
			st = status
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO aligned_entries (language, word, phonemes, aligned_graphemes, aligned_phonemes, status, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (language, word) `+conflict,
			language, e.Word, e.Phonemes, e.AlignedGraphemes, e.AlignedPhonemes, st, now); err != nil {
			return lexErr("add_aligned_entries", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return lexErr("add_aligned_entries", err)
	}
	return nil
}

// AlignedEntriesFor returns the aligned entries of the words the lexicon
// knows, keyed by lower-cased word.
func (l *Lexicon) AlignedEntriesFor(ctx context.Context, words []string, language string) (map[string]AlignedEntry, error) {
	out := make(map[string]AlignedEntry)
	seen := make(map[string]bool)
	var keys []string
	for _, w := range words {
		k := key(w)
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	const batch = 500
	for start := 0; start < len(keys); start += batch {
		end := min(start+batch, len(keys))
		args := []any{language}
		for _, k := range keys[start:end] {
			args = append(args, k)
		}
		entries, err := l.queryAligned(ctx,
			`WHERE language = ? AND word IN (`+db.Placeholders(end-start)+`)`, args...)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			out[e.Word] = e
		}
	}
	return out, nil
}

// AllAlignedEntries returns every aligned entry of a language by word.
func (l *Lexicon) AllAlignedEntries(ctx context.Context, language string) ([]AlignedEntry, error) {
	return l.queryAligned(ctx, `WHERE language = ?`, language)
}

func (l *Lexicon) queryAligned(ctx context.Context, where string, args ...any) ([]AlignedEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT word, phonemes, aligned_graphemes, aligned_phonemes, status FROM aligned_entries `+where+` ORDER BY word`,
		args...)
	if err != nil {
		return nil, lexErr("aligned_entries_for", err)
	}
	defer rows.Close()
	var out []AlignedEntry
	for rows.Next() {
		var e AlignedEntry
		if err := rows.Scan(&e.Word, &e.Phonemes, &e.AlignedGraphemes, &e.AlignedPhonemes, &e.Status); err != nil {
			return nil, lexErr("aligned_entries_for", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, lexErr("aligned_entries_for", err)
	}
	return out, nil
}
