package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/clara/internal/clerr"
)

// Manager runs jobs and keeps their records in memory.
type Manager struct {
	mu      sync.RWMutex
	records map[string]*Record
	done    map[string]chan struct{}
	cancels map[string]context.CancelFunc
	subs    map[string][]chan Message
	slots   chan struct{}
	logger  *slog.Logger
	wg      sync.WaitGroup
	maxMsgs int
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// MaxConcurrent bounds running jobs; further jobs wait queued.
	MaxConcurrent int
	// MaxMessages bounds the progress messages kept per job.
	MaxMessages int
	Logger      *slog.Logger
}

// NewManager creates a job manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		records: make(map[string]*Record),
		done:    make(map[string]chan struct{}),
		cancels: make(map[string]context.CancelFunc),
		subs:    make(map[string][]chan Message),
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		logger:  cfg.Logger,
		maxMsgs: cfg.MaxMessages,
	}
}

// Submit starts job in the background under key and returns the job id.
// ctx bounds the job's lifetime.
func (m *Manager) Submit(ctx context.Context, key string, job Job) (string, error) {
	if job == nil {
		return "", fmt.Errorf("job is required")
	}
	id := uuid.NewString()
	rec := &Record{ID: id, JobType: job.Type(), Key: key, Status: StatusQueued, CreatedAt: time.Now().UTC()}
	jobCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.records[id] = rec
	m.done[id] = make(chan struct{})
	m.cancels[id] = cancel
	m.mu.Unlock()

	m.logger.Info("job created", "id", id, "type", job.Type(), "key", key)
	m.wg.Add(1)
	go m.run(jobCtx, id, job)
	return id, nil
}

func (m *Manager) run(ctx context.Context, id string, job Job) {
	defer m.wg.Done()
	defer m.finishCancel(id)

	select {
	case m.slots <- struct{}{}:
	case <-ctx.Done():
		m.complete(id, ctx.Err())
		return
	}
	defer func() { <-m.slots }()

	m.setRunning(id)
	ctx = WithReporter(ctx, func(msg string) { m.report(id, msg) })
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = clerr.Internalf("job panicked: %v", r)
			}
		}()
		return job.Execute(ctx)
	}()
	m.complete(id, err)
}

func (m *Manager) finishCancel(id string) {
	m.mu.Lock()
	cancel := m.cancels[id]
	delete(m.cancels, id)
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) setRunning(id string) {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[id]
	rec.Status = StatusRunning
	rec.StartedAt = &now
}

func (m *Manager) complete(id string, err error) {
	now := time.Now().UTC()
	m.mu.Lock()
	rec := m.records[id]
	rec.CompletedAt = &now
	switch {
	case err == nil:
		rec.Status = StatusCompleted
	case errors.Is(err, context.Canceled):
		rec.Status = StatusCancelled
		rec.Error = err.Error()
	default:
		rec.Status = StatusFailed
		rec.Error = err.Error()
		rec.ErrorKind = string(clerr.KindOf(err))
	}
	subs := m.subs[id]
	delete(m.subs, id)
	close(m.done[id])
	status := rec.Status
	m.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
	if err != nil && status == StatusFailed {
		m.logger.Error("job failed", "id", id, "type", rec.JobType, "error", err)
		return
	}
	m.logger.Info("job finished", "id", id, "type", rec.JobType, "status", status)
}

func (m *Manager) report(id, text string) {
	msg := Message{Time: time.Now().UTC(), Text: text}
	m.mu.Lock()
	rec := m.records[id]
	rec.Messages = append(rec.Messages, msg)
	if over := len(rec.Messages) - m.maxMsgs; over > 0 {
		rec.Messages = rec.Messages[over:]
	}
	subs := append([]chan Message(nil), m.subs[id]...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
	m.logger.Debug("job progress", "id", id, "message", text)
}

// Get returns a copy of a job record.
func (m *Manager) Get(id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	return copyRecord(rec), nil
}

func copyRecord(r *Record) *Record {
	out := *r
	out.Messages = append([]Message(nil), r.Messages...)
	return &out
}

// ListFilter specifies criteria for listing jobs.
type ListFilter struct {
	Key     string // empty = all
	Status  Status // empty = all
	JobType string // empty = all
	Limit   int    // 0 = no limit
}

// List returns the matching jobs, newest first.
func (m *Manager) List(filter ListFilter) []*Record {
	m.mu.RLock()
	var out []*Record
	for _, r := range m.records {
		if (filter.Key != "" && r.Key != filter.Key) ||
			(filter.Status != "" && r.Status != filter.Status) ||
			(filter.JobType != "" && r.JobType != filter.JobType) {
			continue
		}
		out = append(out, copyRecord(r))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// Latest returns the most recent job submitted under key.
func (m *Manager) Latest(key string) (*Record, bool) {
	recs := m.List(ListFilter{Key: key, Limit: 1})
	if len(recs) == 0 {
		return nil, false
	}
	return recs[0], true
}

// Subscribe returns a channel of the job's future progress messages. It is
// closed when the job finishes. Slow readers miss messages.
func (m *Manager) Subscribe(id string) (<-chan Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	ch := make(chan Message, 64)
	if rec.Status.Done() {
		close(ch)
		return ch, nil
	}
	m.subs[id] = append(m.subs[id], ch)
	return ch, nil
}

// Wait blocks until the job finishes and returns its final record.
func (m *Manager) Wait(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	done, ok := m.done[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	select {
	case <-done:
		return m.Get(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel cancels a queued or running job.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	cancel, ok := m.cancels[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job not running: %s", id)
	}
	cancel()
	return nil
}

// Shutdown cancels every job and waits for them to return.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(m.cancels))
	for _, c := range m.cancels {
		cancels = append(cancels, c)
	}
	m.mu.RUnlock()
	for _, c := range cancels {
		c()
	}
	m.wg.Wait()
}
