// Package images stores project images with their page placement, word
// region associations and descriptions, and inserts them into segmented
// texts.
package images

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
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
	`CREATE TABLE IF NOT EXISTS image_entries (
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		file_path TEXT NOT NULL,
		thumbnail_path TEXT NOT NULL DEFAULT '',
		associated_text TEXT NOT NULL DEFAULT '',
		associated_areas TEXT NOT NULL DEFAULT '[]',
		page INTEGER NOT NULL DEFAULT 0,
		position TEXT NOT NULL DEFAULT 'bottom',
		style_description TEXT NOT NULL DEFAULT '',
		content_description TEXT NOT NULL DEFAULT '',
		user_prompt TEXT NOT NULL DEFAULT '',
		request_type TEXT NOT NULL DEFAULT 'image-generation',
		description_variable TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (project_id, name)
	);`,
	`CREATE TABLE IF NOT EXISTS image_descriptions (
		project_id TEXT NOT NULL,
		variable TEXT NOT NULL,
		description TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (project_id, variable)
	);`,
	`CREATE TABLE IF NOT EXISTS image_understanding (
		project_id TEXT NOT NULL,
		description_variable TEXT NOT NULL,
		page INTEGER NOT NULL,
		position TEXT NOT NULL,
		result TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (project_id, description_variable, page, position)
	);`,
}

// Request types.
const (
	RequestGeneration    = "image-generation"
	RequestUnderstanding = "image-understanding"
)

// Positions of an image on its page.
const (
	PositionTop    = "top"
	PositionBottom = "bottom"
)

// Area associates one word of an image's text with a region.
type Area struct {
	Word        string       `json:"word"`
	Shape       string       `json:"shape"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// Image is one stored project image.
type Image struct {
	ProjectID           string    `json:"project_id"`
	Name                string    `json:"name"`
	FilePath            string    `json:"file_path"`
	ThumbnailPath       string    `json:"thumbnail_path,omitempty"`
	AssociatedText      string    `json:"associated_text,omitempty"`
	Areas               []Area    `json:"associated_areas,omitempty"`
	Page                int       `json:"page"`
	Position            string    `json:"position"`
	StyleDescription    string    `json:"style_description,omitempty"`
	ContentDescription  string    `json:"content_description,omitempty"`
	UserPrompt          string    `json:"user_prompt,omitempty"`
	RequestType         string    `json:"request_type"`
	DescriptionVariable string    `json:"description_variable,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Repository is the sqlite-backed image store. Image files live under
// dir/<project>/.
type Repository struct {
	db  *db.DB
	dir string
}

// OpenRepository opens the image database at dbPath storing files under
// dir.
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

func repoErr(op string, err error) error {
	return &clerr.RepositoryError{Repository: "image", Op: op, Err: err}
}

// AddEntry upserts img, keyed by project and name.
func (r *Repository) AddEntry(ctx context.Context, img *Image) error {
	if img.ProjectID == "" || img.Name == "" {
		return repoErr("add_entry", fmt.Errorf("project id and name are required"))
	}
	if img.Position == "" {
		img.Position = PositionBottom
	}
	if img.RequestType == "" {
		img.RequestType = RequestGeneration
	}
	areas, err := json.Marshal(img.Areas)
	if err != nil {
		return repoErr("add_entry", err)
	}
	img.UpdatedAt = time.Now().UTC()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO image_entries (project_id, name, file_path, thumbnail_path, associated_text,
			associated_areas, page, position, style_description, content_description, user_prompt,
			request_type, description_variable, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, name) DO UPDATE SET
			file_path = excluded.file_path,
			thumbnail_path = excluded.thumbnail_path,
			associated_text = excluded.associated_text,
			associated_areas = excluded.associated_areas,
			page = excluded.page,
			position = excluded.position,
			style_description = excluded.style_description,
			content_description = excluded.content_description,
			user_prompt = excluded.user_prompt,
			request_type = excluded.request_type,
			description_variable = excluded.description_variable,
			updated_at = excluded.updated_at`,
		img.ProjectID, img.Name, img.FilePath, img.ThumbnailPath, img.AssociatedText,
		string(areas), img.Page, img.Position, img.StyleDescription, img.ContentDescription,
		img.UserPrompt, img.RequestType, img.DescriptionVariable, db.FormatTime(img.UpdatedAt))
	if err != nil {
		return repoErr("add_entry", err)
	}
	return nil
}

const imageColumns = `project_id, name, file_path, thumbnail_path, associated_text, associated_areas,
	page, position, style_description, content_description, user_prompt, request_type,
	description_variable, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanImage(s scanner) (*Image, error) {
	var (
		img     Image
		areas   string
		updated string
	)
	if err := s.Scan(&img.ProjectID, &img.Name, &img.FilePath, &img.ThumbnailPath, &img.AssociatedText,
		&areas, &img.Page, &img.Position, &img.StyleDescription, &img.ContentDescription,
		&img.UserPrompt, &img.RequestType, &img.DescriptionVariable, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(areas), &img.Areas); err != nil {
		return nil, fmt.Errorf("decode areas of %s: %w", img.Name, err)
	}
	t, err := db.ParseTime(updated)
	if err != nil {
		return nil, err
	}
	img.UpdatedAt = t
	return &img, nil
}

// GetEntry returns the named image, or nil if there is none.
func (r *Repository) GetEntry(ctx context.Context, projectID, name string) (*Image, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM image_entries WHERE project_id = ? AND name = ?`, projectID, name)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, repoErr("get_entry", err)
	}
	return img, nil
}

// GetAllEntries returns a project's images ordered by page, top before
// bottom, then name.
func (r *Repository) GetAllEntries(ctx context.Context, projectID string) ([]*Image, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM image_entries WHERE project_id = ?
		 ORDER BY page, CASE position WHEN 'top' THEN 0 ELSE 1 END, name`, projectID)
	if err != nil {
		return nil, repoErr("get_all_entries", err)
	}
	defer rows.Close()
	var out []*Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, repoErr("get_all_entries", err)
		}
		out = append(out, img)
	}
	if err := rows.Err(); err != nil {
		return nil, repoErr("get_all_entries", err)
	}
	return out, nil
}

// RemoveEntry deletes the named image entry. The file is left in place.
func (r *Repository) RemoveEntry(ctx context.Context, projectID, name string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM image_entries WHERE project_id = ? AND name = ?`, projectID, name); err != nil {
		return repoErr("remove_entry", err)
	}
	return nil
}

// LatestUpdate returns the most recent image update in a project, or the
// zero time.
func (r *Repository) LatestUpdate(ctx context.Context, projectID string) (time.Time, error) {
	var s sql.NullString
	if err := r.db.QueryRowContext(ctx,
		`SELECT MAX(updated_at) FROM image_entries WHERE project_id = ?`, projectID).Scan(&s); err != nil {
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

// StoreImage copies the file at src into the project's image directory
// under its content hash and returns the stored path.
func (r *Repository) StoreImage(projectID, src string) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", repoErr("store_image", err)
	}
	if len(data) == 0 {
		return "", repoErr("store_image", fmt.Errorf("empty image"))
	}
	sum := blake3.Sum256(data)
	dir := filepath.Join(r.dir, strings.ReplaceAll(projectID, string(filepath.Separator), "_"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", repoErr("store_image", err)
	}
	ext := strings.ToLower(filepath.Ext(src))
	if ext == "" {
		ext = ".png"
	}
	path := filepath.Join(dir, hex.EncodeToString(sum[:16])+ext)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", repoErr("store_image", err)
	}
	return path, nil
}

// AnnotatedImageText returns an <img> tag for every image of a project,
// each followed by the image's associated text, in page order.
func (r *Repository) AnnotatedImageText(ctx context.Context, projectID string) (string, error) {
	imgs, err := r.GetAllEntries(ctx, projectID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, img := range imgs {
		b.WriteString(ImgTag(img))
		if img.AssociatedText != "" {
			b.WriteString("\n")
			b.WriteString(img.AssociatedText)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// AddDescription upserts a named description variable.
func (r *Repository) AddDescription(ctx context.Context, projectID, variable, description string) error {
	now := db.FormatTime(time.Now())
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO image_descriptions (project_id, variable, description, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (project_id, variable) DO UPDATE SET description = excluded.description, updated_at = excluded.updated_at`,
		projectID, variable, description, now); err != nil {
		return repoErr("add_description", err)
	}
	return nil
}

// GetDescription returns a description variable, or "" if unset.
func (r *Repository) GetDescription(ctx context.Context, projectID, variable string) (string, error) {
	var s string
	err := r.db.QueryRowContext(ctx,
		`SELECT description FROM image_descriptions WHERE project_id = ? AND variable = ?`,
		projectID, variable).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", repoErr("get_description", err)
	}
	return s, nil
}

// RemoveDescription deletes a description variable.
func (r *Repository) RemoveDescription(ctx context.Context, projectID, variable string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM image_descriptions WHERE project_id = ? AND variable = ?`, projectID, variable); err != nil {
		return repoErr("remove_description", err)
	}
	return nil
}

// StoreUnderstandingResult records the result of an image-understanding
// request for a page position.
func (r *Repository) StoreUnderstandingResult(ctx context.Context, projectID, variable string, page int, position, result string) error {
	now := db.FormatTime(time.Now())
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO image_understanding (project_id, description_variable, page, position, result, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, description_variable, page, position)
		 DO UPDATE SET result = excluded.result, updated_at = excluded.updated_at`,
		projectID, variable, page, position, result, now); err != nil {
		return repoErr("store_understanding_result", err)
	}
	return nil
}

// GetUnderstandingResult returns a stored understanding result, or "".
func (r *Repository) GetUnderstandingResult(ctx context.Context, projectID, variable string, page int, position string) (string, error) {
	var s string
	err := r.db.QueryRowContext(ctx,
		`SELECT result FROM image_understanding
		 WHERE project_id = ? AND description_variable = ? AND page = ? AND position = ?`,
		projectID, variable, page, position).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", repoErr("get_understanding_result", err)
	}
	return s, nil
}
