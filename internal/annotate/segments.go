package annotate

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackzampolin/clara/internal/mwe"
	"github.com/jackzampolin/clara/internal/prompts"
	"github.com/jackzampolin/clara/internal/text"
)

var translationSchema = tupleSchema(2)

// annotateTranslations translates one segment per request.
func (e *Engine) annotateTranslations(ctx context.Context, req *Request) (*Result, error) {
	tmpl, err := e.template(req, PhaseTranslated)
	if err != nil {
		return nil, err
	}
	out := req.Input.Clone()
	todo, reused := e.reuse(req, out.Segments(), func(dst, src *text.Segment) {
		if src.Annotations.Translated != nil {
			tr := *src.Annotations.Translated
			dst.Annotations.Translated = &tr
		}
	})

	var (
		jobs    []job
		targets []*text.Segment
		results []string
	)
	for _, seg := range todo {
		source := strings.TrimSpace(seg.Plain())
		if !text.HasWordContent(source) {
			continue
		}
		var input any = []string{source}
		if req.mode() != prompts.ModeAnnotate {
			existing := text.NoData
			if seg.Annotations.Translated != nil {
				existing = *seg.Annotations.Translated
			}
			input = [][]string{{source, existing}}
		}
		prompt, err := tmpl.Render(prompts.Vars{
			L1:       out.L1Language,
			L2:       out.L2Language,
			Elements: mustJSON(input),
		})
		if err != nil {
			return nil, err
		}
		idx := len(targets)
		targets = append(targets, seg)
		results = append(results, "")
		jobs = append(jobs, job{prompt: prompt, parse: func(content string) error {
			pairs, err := parseTuples(content, translationSchema)
			if err != nil {
				return err
			}
			if len(pairs) == 0 {
				return fmt.Errorf("empty translation list")
			}
			parts := make([]string, len(pairs))
			for i, p := range pairs {
				parts[i] = strings.TrimSpace(p[1])
			}
			results[idx] = strings.Join(parts, " ")
			return nil
		}})
	}

	calls, err := e.runJobs(ctx, req, jobs)
	res := &Result{Calls: calls, Reused: reused}
	if err != nil {
		return res, err
	}
	for i, seg := range targets {
		tr := results[i]
		seg.Annotations.Translated = &tr
	}
	res.Text = out
	res.Annotated = len(targets)
	return res, nil
}

// annotateMWEs finds multi-word expressions one segment per request. MWEs
// that do not occur in order in their segment are dropped with a warning.
func (e *Engine) annotateMWEs(ctx context.Context, req *Request) (*Result, error) {
	tmpl, err := e.template(req, PhaseMWE)
	if err != nil {
		return nil, err
	}
	out := req.Input.Clone()
	todo, reused := e.reuse(req, out.Segments(), func(dst, src *text.Segment) {
		c := src.Annotations.Clone()
		dst.Annotations.MWEs = c.MWEs
		dst.Annotations.Analysis = c.Analysis
	})

	type found struct {
		analysis string
		mwes     []string
	}
	var (
		jobs    []job
		targets []*text.Segment
		results []found
	)
	for _, seg := range todo {
		words := make([]string, 0)
		for _, w := range seg.Words() {
			words = append(words, w.Content)
		}
		if len(words) < 2 {
			continue
		}
		var input any = words
		if req.mode() != prompts.ModeAnnotate {
			existing := make([]string, 0, len(seg.Annotations.MWEs))
			for _, m := range seg.Annotations.MWEs {
				existing = append(existing, strings.Join(m, " "))
			}
			input = map[string][]string{"words": words, "mwes": existing}
		}
		prompt, err := tmpl.Render(prompts.Vars{
			L1:       out.L1Language,
			L2:       out.L2Language,
			Elements: mustJSON(input),
		})
		if err != nil {
			return nil, err
		}
		idx := len(targets)
		targets = append(targets, seg)
		results = append(results, found{})
		jobs = append(jobs, job{prompt: prompt, parse: func(content string) error {
			analysis, mwes, err := parseMWEResponse(content)
			if err != nil {
				return err
			}
			results[idx] = found{analysis: analysis, mwes: mwes}
			return nil
		}})
	}

	calls, err := e.runJobs(ctx, req, jobs)
	res := &Result{Calls: calls, Reused: reused}
	if err != nil {
		return res, err
	}

	for i, seg := range targets {
		seg.Annotations.MWEs = nil
		for _, s := range results[i].mwes {
			words := strings.Fields(s)
			if len(words) < 2 {
				continue
			}
			if _, err := mwe.FindPositions(seg, words); err != nil {
				e.logger.Warn("dropping MWE not found in segment", "mwe", s, "segment", seg.Plain(), "error", err)
				continue
			}
			seg.Annotations.MWEs = append(seg.Annotations.MWEs, words)
		}
		analysis := results[i].analysis
		seg.Annotations.Analysis = &analysis
	}
	res.Text = out
	res.Annotated = len(targets)
	return res, nil
}
