package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

// Provenance of a layer version.
const (
	SourceAIGenerated     = "ai_generated"
	SourceAIRevised       = "ai_revised"
	SourceHumanRevised    = "human_revised"
	SourceAICorrected     = "ai_corrected"
	SourceMerged          = "merged"
	SourceTaggerGenerated = "tagger_generated"
	SourceJiebaGenerated  = "jieba_generated"
	SourceTrivial         = "trivial"
)

const (
	archiveDirName   = "archive"
	metadataFileName = "metadata.json"
	archiveStamp     = "20060102150405"
)

// ErrNoLayer is returned when a layer has no current version.
var ErrNoLayer = errors.New("layer has no current version")

// MetadataEntry describes one saved layer version.
type MetadataEntry struct {
	File         string    `json:"file"`
	Version      string    `json:"version"`
	Source       string    `json:"source"`
	User         string    `json:"user"`
	Timestamp    time.Time `json:"timestamp"`
	GoldStandard bool      `json:"gold_standard"`
	Label        string    `json:"label,omitempty"`
}

// SaveOptions records who produced a layer version and how.
type SaveOptions struct {
	Source       string
	User         string
	Label        string
	GoldStandard bool
}

// ArchivedVersion is a superseded layer version.
type ArchivedVersion struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// LayerPath returns the path of the current version of layer.
func (p *Project) LayerPath(layer string) string {
	return filepath.Join(p.dir, layer, fmt.Sprintf("%s_%s.txt", p.id, layer))
}

// LoadLayer returns the current content of layer.
func (p *Project) LoadLayer(layer string) (string, error) {
	data, err := os.ReadFile(p.LayerPath(layer))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", layer, ErrNoLayer)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// HasLayer reports whether layer has a current version.
func (p *Project) HasLayer(layer string) bool {
	_, err := os.Stat(p.LayerPath(layer))
	return err == nil
}

// LayerModified returns the modification time of the current version of
// layer.
func (p *Project) LayerModified(layer string) (time.Time, bool) {
	info, err := os.Stat(p.LayerPath(layer))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// SaveLayer archives the current version of layer, writes content as the
// new one and appends a metadata entry.
func (p *Project) SaveLayer(layer, content string, opts SaveOptions) error {
	if opts.Source == "" {
		opts.Source = SourceHumanRevised
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	path := p.LayerPath(layer)
	if _, err := os.Stat(path); err == nil {
		if _, err := p.archive(layer, path); err != nil {
			return fmt.Errorf("archive %s: %w", layer, err)
		}
	}
	if err := writeAtomic(path, []byte(content)); err != nil {
		return fmt.Errorf("write %s: %w", layer, err)
	}

	entries, err := p.readMetadata()
	if err != nil {
		return err
	}
	entries = append(entries, MetadataEntry{
		File:         p.rel(path),
		Version:      layer,
		Source:       opts.Source,
		User:         opts.User,
		Timestamp:    p.now().UTC(),
		GoldStandard: opts.GoldStandard,
		Label:        opts.Label,
	})
	if err := p.writeJSON(metadataFileName, entries); err != nil {
		return err
	}
	p.logger.Info("saved layer", "project", p.id, "layer", layer, "source", opts.Source)
	return nil
}

func (p *Project) archive(layer, path string) (string, error) {
	dir := filepath.Join(p.dir, archiveDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	stamp := p.now().UTC().Format(archiveStamp)
	dst := filepath.Join(dir, fmt.Sprintf("%s_%s.txt", layer, stamp))
	for i := 2; exists(dst); i++ {
		dst = filepath.Join(dir, fmt.Sprintf("%s_%s_%d.txt", layer, stamp, i))
	}
	return dst, os.Rename(path, dst)
}

// rel returns path relative to the project directory, in slash form.
func (p *Project) rel(path string) string {
	r, err := filepath.Rel(p.dir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(r)
}

// Metadata returns every metadata entry, oldest first.
func (p *Project) Metadata() ([]MetadataEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readMetadata()
}

func (p *Project) readMetadata() ([]MetadataEntry, error) {
	var entries []MetadataEntry
	if _, err := p.readJSON(metadataFileName, &entries); err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return entries, nil
}

// Current returns the metadata entry of the current version of layer.
func (p *Project) Current(layer string) (*MetadataEntry, bool, error) {
	entries, err := p.Metadata()
	if err != nil {
		return nil, false, err
	}
	want := p.rel(p.LayerPath(layer))
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].File == want {
			e := entries[i]
			return &e, true, nil
		}
	}
	return nil, false, nil
}

// Archived lists the archived versions of layer, newest first.
func (p *Project) Archived(layer string) ([]ArchivedVersion, error) {
	matches, err := filepath.Glob(filepath.Join(p.dir, archiveDirName, layer+"_*.txt"))
	if err != nil {
		return nil, err
	}
	var out []ArchivedVersion
	for _, m := range matches {
		rest := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), layer+"_"), ".txt")
		stamp, _, _ := strings.Cut(rest, "_")
		ts, err := time.Parse(archiveStamp, stamp)
		if err != nil {
			// Another layer whose name extends this one, e.g. segmented_title.
			continue
		}
		out = append(out, ArchivedVersion{Path: m, Timestamp: ts})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Path > out[j].Path
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// DiffVersions returns a unified diff between two versions of layer. An
// empty version name means the current one; others are archive paths as
// returned by Archived.
func (p *Project) DiffVersions(layer, from, to string) (string, error) {
	read := func(v string) (string, string, error) {
		if v == "" {
			s, err := p.LoadLayer(layer)
			return s, "current", err
		}
		data, err := os.ReadFile(v)
		return string(data), filepath.Base(v), err
	}
	a, aName, err := read(from)
	if err != nil {
		return "", err
	}
	b, bName, err := read(to)
	if err != nil {
		return "", err
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(splitSegments(a)),
		B:        difflib.SplitLines(splitSegments(b)),
		FromFile: aName,
		ToFile:   bName,
		Context:  2,
	})
}

// splitSegments puts each segment on its own line so diffs of one-line
// layers stay readable.
func splitSegments(s string) string {
	return strings.ReplaceAll(s, "||", "||\n")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (p *Project) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(p.dir, name), data)
}

// readJSON decodes a project file into v. It reports false when the file
// does not exist.
func (p *Project) readJSON(name string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(p.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return true, nil
}
