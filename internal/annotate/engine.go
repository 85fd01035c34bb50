// Package annotate produces annotation layers from their predecessors by
// prompting an LLM, or by rule-based fallbacks.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/llmcall"
	"github.com/jackzampolin/clara/internal/prompts"
	"github.com/jackzampolin/clara/internal/providers"
	"github.com/jackzampolin/clara/internal/text"
)

// Config holds engine settings.
type Config struct {
	Model       string
	Temperature float64

	// MaxElementsPerChunk bounds the words sent in one word-level request.
	MaxElementsPerChunk int
	// ReuseThreshold is the number of changed segments below which an
	// existing version is reused for unchanged segments.
	ReuseThreshold int
	// MaxRetries is the number of attempts per chunk on malformed
	// responses.
	MaxRetries int
	RetryDelay time.Duration
	// MaxConcurrency bounds in-flight LLM requests.
	MaxConcurrency int
	// MWEStrict makes MWE consistency failures fail the phase.
	MWEStrict bool
	// FewShot is the number of examples to select when a template has more.
	// Zero sends every example.
	FewShot int
}

func (c *Config) applyDefaults() {
	if c.MaxElementsPerChunk <= 0 {
		c.MaxElementsPerChunk = 100
	}
	if c.ReuseThreshold <= 0 {
		c.ReuseThreshold = 20
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
}

// Engine annotates texts.
type Engine struct {
	client   providers.LLMClient
	limiter  *providers.RateLimiter
	prompts  *prompts.Resolver
	recorder *llmcall.Recorder
	embedder providers.Embedder
	cfg      Config
	logger   *slog.Logger
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Client   providers.LLMClient
	Limiter  *providers.RateLimiter // optional
	Prompts  *prompts.Resolver
	Recorder *llmcall.Recorder // optional
	Embedder providers.Embedder // optional, used for few-shot selection
	Config   Config
	Logger   *slog.Logger
}

// NewEngine creates an annotation engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("LLM client is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("prompt resolver is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = providers.NewRateLimiter(0)
	}
	cfg.Config.applyDefaults()
	return &Engine{
		client:   cfg.Client,
		limiter:  cfg.Limiter,
		prompts:  cfg.Prompts,
		recorder: cfg.Recorder,
		embedder: cfg.Embedder,
		cfg:      cfg.Config,
		logger:   cfg.Logger,
	}, nil
}

// Request describes one annotation operation.
type Request struct {
	Phase string
	Mode  string // prompts.ModeAnnotate if empty

	// Input is the internalised predecessor. It is not modified.
	Input *text.Text
	// Previous is the current version of the phase, if any, used to reuse
	// annotations of unchanged segments.
	Previous *text.Text

	// UseMWE enables MWE-aware gloss and lemma annotation.
	UseMWE bool

	ProjectID string
	Progress  func(msg string)
}

func (r *Request) mode() string {
	if r.Mode == "" {
		return prompts.ModeAnnotate
	}
	return r.Mode
}

func (r *Request) progress(format string, args ...any) {
	if r.Progress != nil {
		r.Progress(fmt.Sprintf(format, args...))
	}
}

// Result is the outcome of an annotation operation.
type Result struct {
	Text      *text.Text
	Calls     []*llmcall.Call
	Reused    int
	Annotated int
}

// Cost returns the summed cost of the calls made.
func (r *Result) Cost() float64 {
	return llmcall.TotalCost(r.Calls)
}

// callCollector gathers calls from concurrent chunks.
type callCollector struct {
	calls chan *llmcall.Call
	list  []*llmcall.Call
	done  chan struct{}
}

func newCallCollector() *callCollector {
	c := &callCollector{calls: make(chan *llmcall.Call, 16), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		for call := range c.calls {
			c.list = append(c.list, call)
		}
	}()
	return c
}

func (c *callCollector) finish() []*llmcall.Call {
	close(c.calls)
	<-c.done
	return c.list
}

// call sends one prompt, retrying transport failures and responses that
// parse rejects. Every attempt is recorded.
func (e *Engine) call(ctx context.Context, req *Request, prompt string, cc *callCollector, parse func(string) error) error {
	attempts := 0
	err := retry.Do(
		func() error {
			attempts++
			if err := e.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			chat := providers.UserPrompt(prompt)
			chat.Model = e.cfg.Model
			chat.Temperature = e.cfg.Temperature
			result, err := e.client.Chat(ctx, chat)
			if result != nil {
				call := llmcall.FromChatResult(chat, result, llmcall.RecordOptions{
					ProjectID: req.ProjectID,
					Phase:     req.Phase,
					Operation: req.mode(),
				})
				if call != nil {
					cc.calls <- call
					e.recorder.RecordCall(call)
				}
			}
			if err != nil {
				if rle, ok := providers.IsRateLimitError(err); ok {
					e.limiter.Record429(rle.RetryAfter)
				}
				if ctx.Err() != nil {
					return retry.Unrecoverable(ctx.Err())
				}
				return err
			}
			return parse(result.Content)
		},
		retry.Context(ctx),
		retry.Attempts(uint(e.cfg.MaxRetries)),
		retry.Delay(e.cfg.RetryDelay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Warn("retrying annotation request", "phase", req.Phase, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &clerr.LLMError{Phase: req.Phase, Attempts: attempts, Err: err}
	}
	return nil
}

// job is one unit of concurrent LLM work.
type job struct {
	prompt string
	parse  func(string) error
}

// runJobs executes jobs with bounded concurrency. All jobs must succeed.
func (e *Engine) runJobs(ctx context.Context, req *Request, jobs []job) ([]*llmcall.Call, error) {
	cc := newCallCollector()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, j := range jobs {
		g.Go(func() error {
			if err := e.call(gctx, req, j.prompt, cc, j.parse); err != nil {
				return err
			}
			req.progress("%s: annotated chunk %d of %d", req.Phase, i+1, len(jobs))
			e.logger.Debug("annotated chunk", "phase", req.Phase, "chunk", i+1, "total", len(jobs))
			return nil
		})
	}
	err := g.Wait()
	return cc.finish(), err
}

// template resolves and checks the template for a request.
func (e *Engine) template(req *Request, phase string) (*prompts.Template, error) {
	return e.prompts.Resolve(req.Input.L2Language, phase, req.mode())
}

// Annotate runs the phase named in req.
func (e *Engine) Annotate(ctx context.Context, req *Request) (*Result, error) {
	if req.Input == nil {
		return nil, fmt.Errorf("annotate %s: input text is required", req.Phase)
	}
	e.logger.Info("annotating", "phase", req.Phase, "mode", req.mode(), "project", req.ProjectID)
	switch req.Phase {
	case PhaseGloss, PhaseLemma, PhasePinyin, PhasePhonetic, PhaseLemmaAndGloss:
		return e.annotateWords(ctx, req)
	case PhaseTranslated:
		return e.annotateTranslations(ctx, req)
	case PhaseMWE:
		return e.annotateMWEs(ctx, req)
	}
	return nil, fmt.Errorf("phase %s is not a word or segment annotation phase", req.Phase)
}
