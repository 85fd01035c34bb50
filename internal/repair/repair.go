// Package repair fixes malformed inline markup one segment at a time by
// asking an LLM to change markup characters only.
package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/llmcall"
	"github.com/jackzampolin/clara/internal/markup"
	"github.com/jackzampolin/clara/internal/prompts"
	"github.com/jackzampolin/clara/internal/providers"
	"github.com/jackzampolin/clara/internal/text"
)

// Config holds repairer settings.
type Config struct {
	Model          string
	MaxRetries     int // attempts per segment, default 3
	RetryDelay     time.Duration
	MaxConcurrency int
}

// Repairer repairs layer files.
type Repairer struct {
	client   providers.LLMClient
	limiter  *providers.RateLimiter
	prompts  *prompts.Resolver
	recorder *llmcall.Recorder
	cfg      Config
	logger   *slog.Logger
}

// RepairerConfig wires a Repairer.
type RepairerConfig struct {
	Client   providers.LLMClient
	Limiter  *providers.RateLimiter
	Prompts  *prompts.Resolver
	Recorder *llmcall.Recorder
	Config   Config
	Logger   *slog.Logger
}

// New creates a Repairer.
func New(cfg RepairerConfig) (*Repairer, error) {
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
	if cfg.Config.MaxRetries <= 0 {
		cfg.Config.MaxRetries = 3
	}
	if cfg.Config.RetryDelay <= 0 {
		cfg.Config.RetryDelay = time.Second
	}
	if cfg.Config.MaxConcurrency <= 0 {
		cfg.Config.MaxConcurrency = 8
	}
	return &Repairer{
		client:   cfg.Client,
		limiter:  cfg.Limiter,
		prompts:  cfg.Prompts,
		recorder: cfg.Recorder,
		cfg:      cfg.Config,
		logger:   cfg.Logger,
	}, nil
}

// Request is a layer file to repair.
type Request struct {
	Layer     string
	L2        string
	L1        string
	Source    string
	ProjectID string
}

// Result is the repaired layer.
type Result struct {
	Source   string
	Text     *text.Text
	Repaired int
	Calls    []*llmcall.Call
}

// Repair checks every segment of req.Source and repairs those that do not
// parse. Segments that parse are left byte-for-byte unchanged.
func (r *Repairer) Repair(ctx context.Context, req Request) (*Result, error) {
	view, err := markup.ViewFor(req.Layer)
	if err != nil {
		return nil, err
	}
	pieces := SplitSegments(req.Source)

	var broken []int
	for i, p := range pieces {
		if _, err := markup.InternaliseView(p, view, req.L2, req.L1); err != nil {
			var ie *clerr.InternalisationError
			if !errors.As(err, &ie) {
				return nil, err
			}
			broken = append(broken, i)
		}
	}

	res := &Result{}
	if len(broken) > 0 {
		r.logger.Info("repairing malformed segments", "layer", req.Layer, "segments", len(broken), "project", req.ProjectID)
		tmpl, err := r.prompts.Resolve(req.L2, req.Layer, prompts.ModeRepair)
		if err != nil {
			return nil, err
		}

		calls := make([][]*llmcall.Call, len(broken))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.MaxConcurrency)
		for k, idx := range broken {
			g.Go(func() error {
				fixed, segCalls, err := r.repairSegment(gctx, req, view, tmpl, pieces[idx])
				calls[k] = segCalls
				if err != nil {
					return err
				}
				pieces[idx] = fixed
				return nil
			})
		}
		err = g.Wait()
		for _, c := range calls {
			res.Calls = append(res.Calls, c...)
		}
		if err != nil {
			return res, err
		}
		res.Repaired = len(broken)
	}

	res.Source = strings.Join(pieces, "")
	t, err := markup.InternaliseView(res.Source, view, req.L2, req.L1)
	if err != nil {
		return res, err
	}
	res.Text = t
	return res, nil
}

// repairSegment asks for a repaired segment until one parses and keeps
// the words of piece.
func (r *Repairer) repairSegment(ctx context.Context, req Request, view markup.View, tmpl *prompts.Template, piece string) (string, []*llmcall.Call, error) {
	body := strings.TrimSuffix(piece, "||")
	terminated := len(body) != len(piece)
	lead := leadRe.FindString(body)
	body = body[len(lead):]
	trail := body[len(strings.TrimRight(body, " \t\n")):]
	prompt, err := tmpl.Render(prompts.Vars{L1: req.L1, L2: req.L2, Text: strings.TrimSpace(body)})
	if err != nil {
		return "", nil, err
	}

	var (
		calls    []*llmcall.Call
		out      string
		attempts int
	)
	err = retry.Do(
		func() error {
			attempts++
			if err := r.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			chat := providers.UserPrompt(prompt)
			chat.Model = r.cfg.Model
			result, err := r.client.Chat(ctx, chat)
			if call := llmcall.FromChatResult(chat, result, llmcall.RecordOptions{
				ProjectID: req.ProjectID,
				Phase:     req.Layer,
				Operation: prompts.ModeRepair,
			}); call != nil {
				calls = append(calls, call)
				r.recorder.RecordCall(call)
			}
			if err != nil {
				if rle, ok := providers.IsRateLimitError(err); ok {
					r.limiter.Record429(rle.RetryAfter)
				}
				return err
			}
			candidate := strings.TrimSpace(stripFences(result.Content))
			candidate = strings.TrimSuffix(candidate, "||")
			candidate = lead + strings.TrimSpace(candidate) + trail
			if terminated {
				candidate += "||"
			}
			t, err := markup.InternaliseView(candidate, view, req.L2, req.L1)
			if err != nil {
				return err
			}
			if err := checkWords(t, piece, view); err != nil {
				return err
			}
			out = candidate
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(r.cfg.MaxRetries)),
		retry.Delay(r.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("retrying segment repair", "layer", req.Layer, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", calls, ctx.Err()
		}
		return "", calls, &clerr.LLMError{Phase: req.Layer, Attempts: attempts, Err: err}
	}
	return out, calls, nil
}

// leadRe matches leading whitespace and page tags, which are kept out of
// the repair prompt.
var leadRe = regexp.MustCompile(`^\s*(?:<page[^>]*>\s*)*`)

// checkWords verifies that t reproduces the surface text of the original
// piece and that its words occur there in order, so that only markup was
// changed.
func checkWords(t *text.Text, piece string, view markup.View) error {
	want := strings.TrimSpace(surface(piece, view))
	if got := strings.TrimSpace(t.Plain()); got != want {
		return fmt.Errorf("repaired text %q does not match the original text %q", got, want)
	}
	rest := want
	for _, seg := range t.Segments() {
		for _, w := range seg.Words() {
			i := strings.Index(rest, w.Content)
			if i < 0 {
				return fmt.Errorf("repaired text has word %q not in the original", w.Content)
			}
			rest = rest[i+len(w.Content):]
		}
	}
	return nil
}

// surface recovers the plain text of a piece that may not parse. Tags,
// separators and payloads are dropped. An unterminated payload runs to the
// next whitespace, or to the end of the piece for translation trailers.
func surface(piece string, view markup.View) string {
	if view.Trailer == markup.TrailerMWE {
		for _, marker := range []string{"\n\n_analysis:", "\n\n_MWEs:"} {
			if i := strings.Index(piece, marker); i >= 0 {
				piece = piece[:i]
			}
		}
	}
	var b strings.Builder
	for i := 0; i < len(piece); i++ {
		switch c := piece[i]; c {
		case '\\':
			if i+1 < len(piece) {
				i++
				b.WriteByte(piece[i])
			}
		case '|', '@':
		case '<':
			end := strings.IndexByte(piece[i:], '>')
			if end < 0 {
				b.WriteByte(c)
				continue
			}
			i += end
		case '#':
			end := strings.IndexByte(piece[i+1:], '#')
			switch {
			case end >= 0:
				i += end + 1
			case view.Trailer == markup.TrailerTranslation:
				i = len(piece)
			default:
				for i+1 < len(piece) && !strings.ContainsRune(" \t\n|", rune(piece[i+1])) {
					i++
				}
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}

// SplitSegments splits a layer file after every unescaped "||". The
// pieces concatenate back to s.
func SplitSegments(s string) []string {
	var (
		out   []string
		start int
	)
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\':
			i++
		case s[i] == '|' && i+1 < len(s) && s[i+1] == '|':
			out = append(out, s[start:i+2])
			start = i + 2
			i++
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
