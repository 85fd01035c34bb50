package llmcall

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jackzampolin/clara/internal/providers"
)

// Recorder collects calls in memory and, when a sink file is configured,
// appends them as JSON lines from a background writer.
type Recorder struct {
	mu    sync.Mutex
	calls []*Call

	logger   *slog.Logger
	queue    chan *Call
	done     chan struct{}
	stopOnce sync.Once
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// SinkPath is the JSONL file calls are appended to. Empty disables
	// persistence.
	SinkPath  string
	QueueSize int // default: 256
	Logger    *slog.Logger
}

// NewRecorder creates a new LLM call recorder. Close must be called to flush
// the sink.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	r := &Recorder{logger: cfg.Logger}
	if cfg.SinkPath == "" {
		return r, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SinkPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create call log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.SinkPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	r.queue = make(chan *Call, cfg.QueueSize)
	r.done = make(chan struct{})
	go r.writeLoop(f)
	return r, nil
}

// Record captures an LLM call. The sink write is queued, not blocking on
// disk.
func (r *Recorder) Record(req *providers.ChatRequest, result *providers.ChatResult, opts RecordOptions) *Call {
	call := FromChatResult(req, result, opts)
	r.RecordCall(call)
	return call
}

// RecordCall captures an already-constructed Call.
func (r *Recorder) RecordCall(call *Call) {
	if r == nil || call == nil {
		return
	}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	if r.queue != nil {
		r.queue <- call
	}
}

// Calls returns the calls recorded so far.
func (r *Recorder) Calls() []*Call {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Call(nil), r.calls...)
}

// TotalCost returns the summed cost of recorded calls.
func (r *Recorder) TotalCost() float64 {
	return TotalCost(r.Calls())
}

// Close drains the queue and closes the sink file.
func (r *Recorder) Close() {
	if r == nil || r.queue == nil {
		return
	}
	r.stopOnce.Do(func() {
		close(r.queue)
		<-r.done
	})
}

func (r *Recorder) writeLoop(f *os.File) {
	defer close(r.done)
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for call := range r.queue {
		if err := enc.Encode(call); err != nil {
			r.logger.Warn("failed to write LLM call record", "id", call.ID, "error", err)
		}
		if len(r.queue) == 0 {
			if err := w.Flush(); err != nil {
				r.logger.Warn("failed to flush LLM call log", "error", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		r.logger.Warn("failed to flush LLM call log", "error", err)
	}
	if err := f.Close(); err != nil {
		r.logger.Warn("failed to close LLM call log", "error", err)
	}
}
