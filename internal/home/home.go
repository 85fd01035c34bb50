package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDirName is the default name for the clara home directory.
	DefaultDirName = ".clara"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// EnvFileName is the optional dotenv file holding API keys.
	EnvFileName = ".env"
)

// Subdirectories and files of the home directory.
const (
	projectsDir   = "projects"
	audioDir      = "audio"
	imagesDir     = "images"
	promptsDir    = "prompts"
	rendersDir    = "renders"
	exportsDir    = "exports"
	blobsDir      = "blobs"
	audioDB       = "audio.db"
	imagesDB      = "images.db"
	lexiconDB     = "phonetic_lexicon.db"
	llmCallsFile  = "llm_calls.jsonl"
	projectPrefix = "project_"
)

// Dir represents the clara home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.clara).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnvPath returns the path to the dotenv file.
func (d *Dir) EnvPath() string {
	return filepath.Join(d.path, EnvFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, sub := range []string{projectsDir, audioDir, imagesDir, promptsDir, rendersDir, exportsDir} {
		if err := os.MkdirAll(filepath.Join(d.path, sub), 0o755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// ProjectsDir returns the directory holding every project.
func (d *Dir) ProjectsDir() string {
	return filepath.Join(d.path, projectsDir)
}

// ProjectDir returns the directory of one project.
func (d *Dir) ProjectDir(id string) string {
	return filepath.Join(d.ProjectsDir(), projectPrefix+id)
}

// ProjectIDs lists the projects found under the projects directory.
func (d *Dir) ProjectIDs() ([]string, error) {
	entries, err := os.ReadDir(d.ProjectsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), projectPrefix) {
			ids = append(ids, strings.TrimPrefix(e.Name(), projectPrefix))
		}
	}
	return ids, nil
}

// AudioDir returns the audio repository file directory.
func (d *Dir) AudioDir() string {
	return filepath.Join(d.path, audioDir)
}

// AudioDBPath returns the audio repository database.
func (d *Dir) AudioDBPath() string {
	return filepath.Join(d.path, audioDB)
}

// ImagesDir returns the image repository file directory.
func (d *Dir) ImagesDir() string {
	return filepath.Join(d.path, imagesDir)
}

// ImagesDBPath returns the image repository database.
func (d *Dir) ImagesDBPath() string {
	return filepath.Join(d.path, imagesDB)
}

// LexiconDBPath returns the phonetic lexicon database.
func (d *Dir) LexiconDBPath() string {
	return filepath.Join(d.path, lexiconDB)
}

// PromptsDir returns the directory of prompt template overrides.
func (d *Dir) PromptsDir() string {
	return filepath.Join(d.path, promptsDir)
}

// RendersDir returns the root of rendered projects.
func (d *Dir) RendersDir() string {
	return filepath.Join(d.path, rendersDir)
}

// ExportsDir returns the directory for exported content zips.
func (d *Dir) ExportsDir() string {
	return filepath.Join(d.path, exportsDir)
}

// ExportPath returns the content zip path of a project.
func (d *Dir) ExportPath(id string, phonetic bool) string {
	name := id + ".zip"
	if phonetic {
		name = id + "_phonetic.zip"
	}
	return filepath.Join(d.ExportsDir(), name)
}

// BlobsDir returns the filesystem blob store root.
func (d *Dir) BlobsDir() string {
	return filepath.Join(d.path, blobsDir)
}

// LLMCallsPath returns the JSONL log of LLM calls.
func (d *Dir) LLMCallsPath() string {
	return filepath.Join(d.path, llmCallsFile)
}
