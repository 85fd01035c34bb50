package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/clara/internal/clerr"
)

//go:embed templates
var embeddedTemplates embed.FS

// Resolver resolves templates, preferring on-disk overrides over embedded
// defaults. Parsed phase files are cached for the life of the process.
type Resolver struct {
	store    *Store
	embedded fs.FS
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]*PhaseFile // "<source>:<language>/<phase>"
}

// NewResolver creates a resolver. store may be nil, in which case only
// embedded defaults are used.
func NewResolver(store *Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	sub, err := fs.Sub(embeddedTemplates, "templates")
	if err != nil {
		panic(err)
	}
	return &Resolver{
		store:    store,
		embedded: sub,
		logger:   logger,
		cache:    make(map[string]*PhaseFile),
	}
}

// Resolve returns the validated template for (language, phase, mode),
// falling back to the default language.
func (r *Resolver) Resolve(language, phase, mode string) (*Template, error) {
	language = strings.ToLower(strings.TrimSpace(language))
	languages := []string{language}
	if language != DefaultLanguage {
		languages = append(languages, DefaultLanguage)
	}

	for _, lang := range languages {
		for _, override := range []bool{true, false} {
			pf, err := r.phaseFile(lang, phase, override)
			if err != nil {
				return nil, &clerr.TemplateError{Language: lang, Phase: phase, Mode: mode, Message: err.Error()}
			}
			if pf == nil {
				continue
			}
			mf, ok := pf.Modes[mode]
			if !ok {
				continue
			}
			t := &Template{
				Language:   lang,
				Phase:      phase,
				Mode:       mode,
				Text:       mf.Template,
				Examples:   mf.Examples,
				Variables:  ExtractVariables(mf.Template),
				IsOverride: override,
			}
			t.Hash = HashText(t.Text, FormatExamples(t.Examples))
			if err := t.Validate(); err != nil {
				return nil, err
			}
			if lang != language {
				r.logger.Debug("using default-language template", "language", language, "phase", phase, "mode", mode)
			}
			return t, nil
		}
	}
	return nil, &clerr.TemplateError{Language: language, Phase: phase, Mode: mode, Message: "template not found"}
}

// Invalidate drops cached phase files so overrides written elsewhere are
// picked up.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*PhaseFile)
}

// Phases lists the phases with embedded default templates.
func (r *Resolver) Phases() []string {
	entries, err := fs.ReadDir(r.embedded, DefaultLanguage)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".yaml"); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ValidateAll resolves and validates every embedded default template.
func (r *Resolver) ValidateAll() error {
	var errs []error
	for _, phase := range r.Phases() {
		pf, err := r.phaseFile(DefaultLanguage, phase, false)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for mode := range pf.Modes {
			if _, err := r.Resolve(DefaultLanguage, phase, mode); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// SaveOverride stores a template override and invalidates the cache.
func (r *Resolver) SaveOverride(language, phase, mode string, mf ModeFile) error {
	if r.store == nil {
		return fmt.Errorf("override store not configured")
	}
	t := &Template{Language: language, Phase: phase, Mode: mode, Text: mf.Template, Examples: mf.Examples}
	if err := t.Validate(); err != nil {
		return err
	}
	if err := r.store.Put(language, phase, mode, mf); err != nil {
		return err
	}
	r.Invalidate()
	r.logger.Info("saved prompt override", "language", language, "phase", phase, "mode", mode)
	return nil
}

// phaseFile returns nil, nil when the file does not exist.
func (r *Resolver) phaseFile(language, phase string, override bool) (*PhaseFile, error) {
	source := "embedded"
	if override {
		if r.store == nil {
			return nil, nil
		}
		source = "override"
	}
	key := source + ":" + language + "/" + phase

	r.mu.RLock()
	pf, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return pf, nil
	}

	var (
		data []byte
		err  error
	)
	if override {
		data, err = r.store.read(language, phase)
	} else {
		data, err = fs.ReadFile(r.embedded, path.Join(language, phase+".yaml"))
	}
	if errors.Is(err, fs.ErrNotExist) {
		r.mu.Lock()
		r.cache[key] = nil
		r.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s template file: %w", source, err)
	}

	pf = &PhaseFile{}
	if err := yaml.Unmarshal(data, pf); err != nil {
		return nil, fmt.Errorf("failed to parse %s template file %s/%s: %w", source, language, phase, err)
	}
	r.mu.Lock()
	r.cache[key] = pf
	r.mu.Unlock()
	return pf, nil
}

// DeleteOverride removes a template override and invalidates the cache.
func (r *Resolver) DeleteOverride(language, phase, mode string) error {
	if r.store == nil {
		return fmt.Errorf("override store not configured")
	}
	if err := r.store.Delete(language, phase, mode); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}
