package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// validNamePattern matches valid language, phase and mode names.
var validNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Store holds template overrides on disk as
// <dir>/<language>/<phase>.yaml, in the same format as the embedded
// defaults.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates an override store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(language, phase string) (string, error) {
	if !validNamePattern.MatchString(language) || !validNamePattern.MatchString(phase) {
		return "", fmt.Errorf("invalid template key %s/%s", language, phase)
	}
	return filepath.Join(s.dir, language, phase+".yaml"), nil
}

func (s *Store) read(language, phase string) ([]byte, error) {
	p, err := s.path(language, phase)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Put writes one mode of a phase file, keeping the file's other modes.
func (s *Store) Put(language, phase, mode string, mf ModeFile) error {
	if !validNamePattern.MatchString(mode) {
		return fmt.Errorf("invalid template mode %q", mode)
	}
	p, err := s.path(language, phase)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pf := PhaseFile{Phase: phase, Modes: map[string]ModeFile{}}
	data, err := os.ReadFile(p)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return fmt.Errorf("failed to parse existing override %s: %w", p, err)
		}
		if pf.Modes == nil {
			pf.Modes = map[string]ModeFile{}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("failed to read existing override: %w", err)
	}
	pf.Modes[mode] = mf

	out, err := yaml.Marshal(&pf)
	if err != nil {
		return fmt.Errorf("failed to encode override: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create override directory: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("failed to write override: %w", err)
	}
	return os.Rename(tmp, p)
}

// Delete removes one mode override. Removing the last mode removes the file.
func (s *Store) Delete(language, phase, mode string) error {
	p, err := s.path(language, phase)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var pf PhaseFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("failed to parse override %s: %w", p, err)
	}
	delete(pf.Modes, mode)
	if len(pf.Modes) == 0 {
		return os.Remove(p)
	}
	out, err := yaml.Marshal(&pf)
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o644)
}
