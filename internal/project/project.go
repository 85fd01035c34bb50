// Package project holds the layer files, metadata and records of one
// annotated text and runs the pipeline operations over them.
package project

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/clara/internal/annotate"
	"github.com/jackzampolin/clara/internal/audio"
	"github.com/jackzampolin/clara/internal/images"
	"github.com/jackzampolin/clara/internal/llmcall"
	"github.com/jackzampolin/clara/internal/phonetic"
	"github.com/jackzampolin/clara/internal/render"
	"github.com/jackzampolin/clara/internal/repair"
)

const storedDataFileName = "stored_data.json"

// StoredData is enough to reopen a project from its directory.
type StoredData struct {
	ID         string `json:"id"`
	L2Language string `json:"l2_language"`
	L1Language string `json:"l1_language"`
}

// Services are the collaborators a project calls. Any of them may be nil;
// operations that need a missing one fail.
type Services struct {
	Engine   *annotate.Engine
	Repairer *repair.Repairer
	Images   *images.Repository
	Audio    *audio.Annotator
	Lexicon  *phonetic.Lexicon
	Renderer *render.Renderer
	// Calls reads back the recorded LLM calls for cost summaries.
	Calls  *llmcall.Store
	Logger *slog.Logger
}

// Project is one text and its layers.
type Project struct {
	id  string
	dir string
	l2  string
	l1  string

	svc    Services
	logger *slog.Logger
	now    func() time.Time

	// mu serialises layer and metadata writes.
	mu sync.Mutex
}

// ErrExists is returned when creating a project in a used directory.
var ErrExists = errors.New("project already exists")

// Create initialises a project directory.
func Create(dir string, data StoredData, svc Services) (*Project, error) {
	if strings.TrimSpace(data.ID) == "" || strings.ContainsAny(data.ID, `/\`) {
		return nil, fmt.Errorf("invalid project id %q", data.ID)
	}
	if data.L2Language == "" || data.L1Language == "" {
		return nil, fmt.Errorf("project %s: both languages are required", data.ID)
	}
	data.L2Language = strings.ToLower(data.L2Language)
	data.L1Language = strings.ToLower(data.L1Language)
	if exists(filepath.Join(dir, storedDataFileName)) {
		return nil, fmt.Errorf("%s: %w", dir, ErrExists)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	p := newProject(dir, data, svc)
	if err := p.writeJSON(storedDataFileName, data); err != nil {
		return nil, err
	}
	p.logger.Info("created project", "id", data.ID, "l2", data.L2Language, "l1", data.L1Language)
	return p, nil
}

// Open reconstitutes a project from its directory.
func Open(dir string, svc Services) (*Project, error) {
	p := &Project{dir: dir}
	var data StoredData
	ok, err := p.readJSON(storedDataFileName, &data)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s is not a project directory", dir)
	}
	return newProject(dir, data, svc), nil
}

func newProject(dir string, data StoredData, svc Services) *Project {
	logger := svc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Project{
		id:     data.ID,
		dir:    dir,
		l2:     data.L2Language,
		l1:     data.L1Language,
		svc:    svc,
		logger: logger.With("project", data.ID),
		now:    time.Now,
	}
}

// ID returns the project id.
func (p *Project) ID() string { return p.id }

// Dir returns the project directory.
func (p *Project) Dir() string { return p.dir }

// L2 returns the text language.
func (p *Project) L2() string { return p.l2 }

// L1 returns the annotation language.
func (p *Project) L1() string { return p.l1 }

// Stored returns the stored-state marker contents.
func (p *Project) Stored() StoredData {
	return StoredData{ID: p.id, L2Language: p.l2, L1Language: p.l1}
}

// record is a timestamped project setting.
type record[T any] struct {
	UpdatedAt time.Time `json:"updated_at"`
	Data      T         `json:"data"`
}

func recordFile(name string) string {
	return filepath.Join("records", name+".json")
}

func saveRecord[T any](p *Project, name string, v T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeJSON(recordFile(name), record[T]{UpdatedAt: p.now().UTC(), Data: v})
}

func loadRecord[T any](p *Project, name string) (T, time.Time, bool, error) {
	var r record[T]
	ok, err := p.readJSON(recordFile(name), &r)
	return r.Data, r.UpdatedAt, ok, err
}
