package llmcall

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"
)

// Store reads call records back from a JSONL sink file.
type Store struct {
	path string
}

// NewStore creates a store over the given sink path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// QueryFilter specifies filters for listing LLM calls.
type QueryFilter struct {
	ProjectID string
	Phase     string
	Provider  string
	Model     string
	After     *time.Time
	Before    *time.Time
	Success   *bool
	Limit     int
	Offset    int
}

func (f QueryFilter) match(c *Call) bool {
	switch {
	case f.ProjectID != "" && c.ProjectID != f.ProjectID,
		f.Phase != "" && c.Phase != f.Phase,
		f.Provider != "" && c.Provider != f.Provider,
		f.Model != "" && c.Model != f.Model,
		f.After != nil && !c.Timestamp.After(*f.After),
		f.Before != nil && !c.Timestamp.Before(*f.Before),
		f.Success != nil && c.Success != *f.Success:
		return false
	}
	return true
}

// Get retrieves a single call by ID. Returns nil when not found.
func (s *Store) Get(id string) (*Call, error) {
	calls, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, c := range calls {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

// List retrieves calls matching the filter, newest first.
func (s *Store) List(filter QueryFilter) ([]*Call, error) {
	calls, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []*Call
	for _, c := range calls {
		if filter.match(c) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CountByPhase returns call counts per phase for a project.
func (s *Store) CountByPhase(projectID string) (map[string]int, error) {
	calls, err := s.List(QueryFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, c := range calls {
		counts[c.Phase]++
	}
	return counts, nil
}

func (s *Store) load() ([]*Call, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	defer f.Close()

	var calls []*Call
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var c Call
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			return nil, fmt.Errorf("call log line %d: %w", line, err)
		}
		calls = append(calls, &c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call log: %w", err)
	}
	return calls, nil
}
