package annotate

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackzampolin/clara/internal/llmcall"
	"github.com/jackzampolin/clara/internal/markup"
	"github.com/jackzampolin/clara/internal/merge"
	"github.com/jackzampolin/clara/internal/prompts"
	"github.com/jackzampolin/clara/internal/text"
)

// GenerateRequest asks for free text: a story from a description (plain)
// or a title, summary or CEFR level of a plain text.
type GenerateRequest struct {
	Phase     string
	L2        string
	L1        string
	Input     string
	ProjectID string
}

// GenerateResult is the generated text plus the calls made.
type GenerateResult struct {
	Text  string
	Calls []*llmcall.Call
}

// Generate runs a text generation phase.
func (e *Engine) Generate(ctx context.Context, gr GenerateRequest) (*GenerateResult, error) {
	switch gr.Phase {
	case PhasePlain, PhaseTitle, PhaseSummary, PhaseCEFRLevel:
	default:
		return nil, fmt.Errorf("phase %s is not a text generation phase", gr.Phase)
	}
	tmpl, err := e.prompts.Resolve(gr.L2, gr.Phase, prompts.ModeAnnotate)
	if err != nil {
		return nil, err
	}
	prompt, err := tmpl.Render(prompts.Vars{L1: gr.L1, L2: gr.L2, Text: gr.Input})
	if err != nil {
		return nil, err
	}

	req := &Request{Phase: gr.Phase, ProjectID: gr.ProjectID}
	var out string
	calls, err := e.runJobs(ctx, req, []job{{prompt: prompt, parse: func(content string) error {
		content = strings.TrimSpace(content)
		if content == "" {
			return fmt.Errorf("empty response")
		}
		out = content
		return nil
	}}})
	if err != nil {
		return &GenerateResult{Calls: calls}, err
	}
	if gr.Phase == PhaseTitle || gr.Phase == PhaseCEFRLevel {
		out = strings.Trim(out, "\"'* \n")
	}
	return &GenerateResult{Text: out, Calls: calls}, nil
}

// Segment divides plain text into pages, segments and words in two steps.
// The first step inserts page and segment boundaries, the second marks
// word boundaries inside each segment. Both responses are reduced to their
// markup by a character-wise merge, so the surface text is always
// preserved.
func (e *Engine) Segment(ctx context.Context, plain, l2, l1, projectID string) (*Result, error) {
	req := &Request{Phase: PhaseSegmented, Mode: prompts.ModePresegmented, ProjectID: projectID, Input: text.New(l2, l1)}
	presegTmpl, err := e.template(req, PhaseSegmented)
	if err != nil {
		return nil, err
	}
	prompt, err := presegTmpl.Render(prompts.Vars{L1: l1, L2: l2, Text: plain})
	if err != nil {
		return nil, err
	}

	var presegmented string
	calls, err := e.runJobs(ctx, req, []job{{prompt: prompt, parse: func(content string) error {
		merged, err := merge.Charwise(plain, content, merge.PreSegmentation)
		if err != nil {
			return err
		}
		presegmented = merged
		return nil
	}}})
	res := &Result{Calls: calls}
	if err != nil {
		return res, err
	}

	t, err := markup.Internalise(presegmented, markup.LayerSegmented, l2, l1)
	if err != nil {
		return res, err
	}

	wordReq := &Request{Phase: PhaseSegmented, Mode: prompts.ModeAnnotate, ProjectID: projectID, Input: t}
	wordTmpl, err := e.template(wordReq, PhaseSegmented)
	if err != nil {
		return res, err
	}

	var (
		jobs    []job
		targets []*text.Segment
	)
	for _, seg := range t.Segments() {
		if !plainOnly(seg) {
			continue
		}
		segPlain := seg.Plain()
		if !text.HasWordContent(segPlain) {
			continue
		}
		prompt, err := wordTmpl.Render(prompts.Vars{L1: l1, L2: l2, Text: strings.TrimSpace(segPlain)})
		if err != nil {
			return res, err
		}
		target := seg
		targets = append(targets, target)
		jobs = append(jobs, job{prompt: prompt, parse: func(content string) error {
			merged, err := merge.Charwise(segPlain, strings.TrimSpace(content), merge.Segmentation)
			if err != nil {
				return err
			}
			st, err := markup.Internalise(merged, markup.LayerSegmented, l2, l1)
			if err != nil {
				return err
			}
			segs := st.Segments()
			if len(segs) != 1 || segs[0].Plain() != segPlain {
				return fmt.Errorf("segmentation changed the segment structure")
			}
			target.Elements = segs[0].Elements
			return nil
		}})
	}

	wordCalls, err := e.runJobs(ctx, wordReq, jobs)
	res.Calls = append(res.Calls, wordCalls...)
	if err != nil {
		return res, err
	}
	res.Text = t
	res.Annotated = len(targets)
	return res, nil
}

// plainOnly reports whether seg holds only words and non-word text.
func plainOnly(seg *text.Segment) bool {
	for _, e := range seg.Elements {
		if e.Type != text.Word && e.Type != text.NonWordText {
			return false
		}
	}
	return true
}
