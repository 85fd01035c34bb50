package audio

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/db"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS audio_entries (
		engine_id TEXT NOT NULL,
		language_id TEXT NOT NULL,
		voice_id TEXT NOT NULL,
		text TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (engine_id, language_id, voice_id, text, context)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_audio_entries_language ON audio_entries (engine_id, language_id);`,
}

// Item is an audio repository lookup key within one voice.
type Item struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

// Voice identifies an engine, language and voice.
type Voice struct {
	EngineID   string `json:"engine_id"`
	LanguageID string `json:"language_id"`
	VoiceID    string `json:"voice_id"`
}

func (v Voice) String() string {
	return v.EngineID + "/" + v.LanguageID + "/" + v.VoiceID
}

// Entry is one stored recording.
type Entry struct {
	Voice
	Item
	FilePath  string    `json:"file_path"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository maps (engine, language, voice, text, context) to stored MP3
// files. Files live under dir/<engine>/<language>/<voice>/.
type Repository struct {
	db  *db.DB
	dir string
}

// OpenRepository opens the repository database at dbPath storing files
// under dir.
func OpenRepository(dbPath, dir string) (*Repository, error) {
	d, err := db.Open(dbPath, migrations...)
	if err != nil {
		return nil, repoErr("open", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.Close()
		return nil, repoErr("open", err)
	}
	return &Repository{db: d, dir: dir}, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Dir returns the directory holding stored files.
func (r *Repository) Dir() string {
	return r.dir
}

func repoErr(op string, err error) error {
	return &clerr.RepositoryError{Repository: "audio", Op: op, Err: err}
}

// GetEntry returns the stored file for text in the context prefix, or ""
// if there is none.
func (r *Repository) GetEntry(ctx context.Context, v Voice, text, prefix string) (string, error) {
	var path string
	err := r.db.QueryRowContext(ctx,
		`SELECT file_path FROM audio_entries
		 WHERE engine_id = ? AND language_id = ? AND voice_id = ? AND text = ? AND context = ?`,
		v.EngineID, v.LanguageID, v.VoiceID, text, prefix).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", repoErr("get_entry", err)
	}
	return path, nil
}

// GetEntryBatch looks up many items in one voice. Missing items are
// absent from the result.
func (r *Repository) GetEntryBatch(ctx context.Context, v Voice, items []Item) (map[Item]string, error) {
	out := make(map[Item]string)
	if len(items) == 0 {
		return out, nil
	}
	byText := make(map[string]bool)
	var texts []string
	for _, it := range items {
		if !byText[it.Text] {
			byText[it.Text] = true
			texts = append(texts, it.Text)
		}
	}
	want := make(map[Item]bool, len(items))
	for _, it := range items {
		want[it] = true
	}

	// Stay well under sqlite's bound parameter limit.
	const batch = 500
	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))
		args := []any{v.EngineID, v.LanguageID, v.VoiceID}
		for _, t := range texts[start:end] {
			args = append(args, t)
		}
		rows, err := r.db.QueryContext(ctx,
			`SELECT text, context, file_path FROM audio_entries
			 WHERE engine_id = ? AND language_id = ? AND voice_id = ? AND text IN (`+db.Placeholders(end-start)+`)`,
			args...)
		if err != nil {
			return nil, repoErr("get_entry_batch", err)
		}
		for rows.Next() {
			var it Item
			var path string
			if err := rows.Scan(&it.Text, &it.Context, &path); err != nil {
				rows.Close()
				return nil, repoErr("get_entry_batch", err)
			}
			if want[it] {
				out[it] = path
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, repoErr("get_entry_batch", err)
		}
	}
	return out, nil
}

// AddOrUpdateEntry upserts the file for text in the context prefix. The
// last write wins.
func (r *Repository) AddOrUpdateEntry(ctx context.Context, v Voice, text, path, prefix string) error {
	now := db.FormatTime(time.Now())
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audio_entries (engine_id, language_id, voice_id, text, context, file_path, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (engine_id, language_id, voice_id, text, context)
		 DO UPDATE SET file_path = excluded.file_path, updated_at = excluded.updated_at`,
		v.EngineID, v.LanguageID, v.VoiceID, text, prefix, path, now, now)
	if err != nil {
		return repoErr("add_or_update_entry", err)
	}
	return nil
}

// DeleteEntriesForLanguage removes every entry for an engine and language.
// Stored files are left in place.
func (r *Repository) DeleteEntriesForLanguage(ctx context.Context, engineID, languageID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM audio_entries WHERE engine_id = ? AND language_id = ?`, engineID, languageID)
	if err != nil {
		return 0, repoErr("delete_entries_for_language", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Entries lists the entries of a voice.
func (r *Repository) Entries(ctx context.Context, v Voice) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT text, context, file_path, updated_at FROM audio_entries
		 WHERE engine_id = ? AND language_id = ? AND voice_id = ? ORDER BY text, context`,
		v.EngineID, v.LanguageID, v.VoiceID)
	if err != nil {
		return nil, repoErr("entries", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e := Entry{Voice: v}
		var updated string
		if err := rows.Scan(&e.Text, &e.Context, &e.FilePath, &updated); err != nil {
			return nil, repoErr("entries", err)
		}
		if e.UpdatedAt, err = db.ParseTime(updated); err != nil {
			return nil, repoErr("entries", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, repoErr("entries", err)
	}
	return out, nil
}

// LatestUpdate returns the most recent update time in a voice, or the zero
// time if it has no entries.
func (r *Repository) LatestUpdate(ctx context.Context, v Voice) (time.Time, error) {
	var s sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(updated_at) FROM audio_entries WHERE engine_id = ? AND language_id = ? AND voice_id = ?`,
		v.EngineID, v.LanguageID, v.VoiceID).Scan(&s)
	if err != nil {
		return time.Time{}, repoErr("latest_update", err)
	}
	if !s.Valid {
		return time.Time{}, nil
	}
	t, err := db.ParseTime(s.String)
	if err != nil {
		return time.Time{}, repoErr("latest_update", err)
	}
	return t, nil
}

// StoreMP3 copies the file at src into the repository and returns the
// stored path.
func (r *Repository) StoreMP3(v Voice, src string) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", repoErr("store_mp3", err)
	}
	return r.StoreBytes(v, data)
}

// StoreBytes writes MP3 data into the repository under its content hash
// and returns the stored path. Identical audio is stored once.
func (r *Repository) StoreBytes(v Voice, data []byte) (string, error) {
	if len(data) == 0 {
		return "", repoErr("store_mp3", fmt.Errorf("empty audio"))
	}
	sum := blake3.Sum256(data)
	dir := filepath.Join(r.dir, safeName(v.EngineID), safeName(v.LanguageID), safeName(v.VoiceID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", repoErr("store_mp3", err)
	}
	path := filepath.Join(dir, hex.EncodeToString(sum[:16])+".mp3")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", repoErr("store_mp3", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", repoErr("store_mp3", err)
	}
	return path, nil
}

// safeName keeps identifiers usable as single path components.
func safeName(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == 0 {
			return '_'
		}
		return r
	}, s)
}
