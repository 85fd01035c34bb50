package annotate

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackzampolin/clara/internal/mwe"
	"github.com/jackzampolin/clara/internal/prompts"
	"github.com/jackzampolin/clara/internal/text"
)

// chunk is a run of words annotated by one request.
type chunk struct {
	words  []*text.Element
	mwes   [][]string
	values [][]string // per word; nil when the response had no item for it
}

func (c *chunk) surfaces() []string {
	out := make([]string, len(c.words))
	for i, w := range c.words {
		out[i] = w.Content
	}
	return out
}

// chunkWords groups the words of segs into chunks of at most max words.
// Segments carrying MWEs get a chunk of their own when mweAware is set.
func chunkWords(segs []*text.Segment, max int, mweAware bool) []*chunk {
	var (
		out []*chunk
		cur = &chunk{}
	)
	flush := func() {
		if len(cur.words) > 0 {
			out = append(out, cur)
		}
		cur = &chunk{}
	}
	for _, seg := range segs {
		words := seg.Words()
		if len(words) == 0 {
			continue
		}
		if mweAware && len(seg.Annotations.MWEs) > 0 {
			flush()
			out = append(out, &chunk{words: words, mwes: seg.Annotations.MWEs})
			continue
		}
		if len(cur.words)+len(words) > max {
			flush()
		}
		for len(words) > max {
			out = append(out, &chunk{words: words[:max]})
			words = words[max:]
		}
		cur.words = append(cur.words, words...)
	}
	flush()
	return out
}

// reuse copies annotations of unchanged segments from req.Previous when
// fewer than the reuse threshold segments changed, and returns the
// segments still to annotate.
func (e *Engine) reuse(req *Request, segs []*text.Segment, copyFn func(dst, src *text.Segment)) ([]*text.Segment, int) {
	if req.Previous == nil {
		return segs, 0
	}
	prev := make(map[string]*text.Segment)
	for _, s := range req.Previous.Segments() {
		if _, ok := prev[s.SurfaceKey()]; !ok {
			prev[s.SurfaceKey()] = s
		}
	}
	var changed []*text.Segment
	for _, s := range segs {
		if _, ok := prev[s.SurfaceKey()]; !ok {
			changed = append(changed, s)
		}
	}
	if len(changed) >= e.cfg.ReuseThreshold {
		e.logger.Info("too many changed segments, annotating from scratch", "phase", req.Phase, "changed", len(changed))
		return segs, 0
	}
	reused := 0
	for _, s := range segs {
		if p, ok := prev[s.SurfaceKey()]; ok {
			copyFn(s, p)
			reused++
		}
	}
	e.logger.Info("reusing unchanged segments", "phase", req.Phase, "reused", reused, "changed", len(changed))
	return changed, reused
}

func copyElementKeys(keys []string) func(dst, src *text.Segment) {
	return func(dst, src *text.Segment) {
		for i, el := range dst.Elements {
			for _, k := range keys {
				if v, ok := src.Elements[i].Annotations.Get(k); ok {
					el.Annotations.Set(k, v)
				}
			}
		}
	}
}

func (e *Engine) annotateWords(ctx context.Context, req *Request) (*Result, error) {
	wp := wordPhases[req.Phase]
	tmpl, err := e.template(req, req.Phase)
	if err != nil {
		return nil, err
	}

	out := req.Input.Clone()
	todo, reused := e.reuse(req, out.Segments(), copyElementKeys(wp.keys))
	mweAware := req.UseMWE && (req.Phase == PhaseGloss || req.Phase == PhaseLemma)
	chunks := chunkWords(todo, e.cfg.MaxElementsPerChunk, mweAware)
	req.progress("%s: %d segments reused, %d chunks to annotate", req.Phase, reused, len(chunks))

	jobs := make([]job, 0, len(chunks))
	for _, c := range chunks {
		prompt, err := e.wordPrompt(ctx, tmpl, req, wp, c)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job{prompt: prompt, parse: func(content string) error {
			return parseWordChunk(content, wp, c)
		}})
	}

	calls, err := e.runJobs(ctx, req, jobs)
	res := &Result{Calls: calls, Reused: reused}
	if err != nil {
		return res, err
	}

	annotated := 0
	for _, c := range chunks {
		for i, w := range c.words {
			for k, key := range wp.keys {
				v := text.NoData
				if c.values[i] != nil && c.values[i][k] != "" {
					v = c.values[i][k]
				}
				if key == text.KeyPOS {
					v = strings.ToUpper(v)
				}
				w.Annotations.Set(key, v)
			}
			annotated++
		}
	}

	if mweAware {
		key := text.KeyGloss
		if req.Phase == PhaseLemma {
			key = text.KeyLemma
		}
		enf := &mwe.Enforcer{Strict: e.cfg.MWEStrict, Logger: e.logger}
		if err := enf.Enforce(out, key); err != nil {
			return res, err
		}
	}

	res.Text = out
	res.Annotated = annotated
	return res, nil
}

// parseWordChunk parses a response into c.values.
func parseWordChunk(content string, wp wordPhase, c *chunk) error {
	tuples, err := parseTuples(content, wp.schema)
	if err != nil {
		return err
	}
	items := make([]string, len(tuples))
	for i, t := range tuples {
		items[i] = t[0]
	}
	positions := align(c.surfaces(), items)
	if matched(positions) == 0 {
		return fmt.Errorf("response matched none of %d words", len(c.words))
	}
	c.values = make([][]string, len(c.words))
	for i, p := range positions {
		if p >= 0 {
			c.values[i] = tuples[p][1:]
		}
	}
	return nil
}

// wordPrompt renders the prompt for one chunk.
func (e *Engine) wordPrompt(ctx context.Context, tmpl *prompts.Template, req *Request, wp wordPhase, c *chunk) (string, error) {
	var input any
	if req.mode() == prompts.ModeAnnotate {
		input = c.surfaces()
	} else {
		rows := make([][]string, len(c.words))
		for i, w := range c.words {
			row := []string{w.Content}
			for _, k := range wp.keys {
				v := w.Annotations.Value(k)
				if v == "" {
					v = text.NoData
				}
				row = append(row, v)
			}
			rows[i] = row
		}
		input = rows
	}

	examples, err := e.selectExamples(ctx, tmpl, strings.Join(c.surfaces(), " "), posTags(c.words))
	if err != nil {
		return "", err
	}
	prompt, err := tmpl.Render(prompts.Vars{
		L1:       req.Input.L1Language,
		L2:       req.Input.L2Language,
		Examples: examples,
		Elements: mustJSON(input),
	})
	if err != nil {
		return "", err
	}
	if len(c.mwes) > 0 {
		prompt += mweInstructions(req.Phase, c.mwes)
	}
	return prompt, nil
}

func mweInstructions(phase string, mwes [][]string) string {
	quoted := make([]string, len(mwes))
	for i, m := range mwes {
		quoted[i] = `"` + strings.Join(m, " ") + `"`
	}
	return fmt.Sprintf("\n\nThe following multi-word expressions occur in this text: %s. "+
		"Every word of a multi-word expression must be given the same %s, the %s of the whole expression.",
		strings.Join(quoted, ", "), phase, phase)
}

func posTags(words []*text.Element) []string {
	var out []string
	for _, w := range words {
		if p := w.Annotations.Value(text.KeyPOS); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// selectExamples trims the template examples to cfg.FewShot when the list
// is longer, preferring embedding similarity, then POS n-gram similarity.
func (e *Engine) selectExamples(ctx context.Context, tmpl *prompts.Template, query string, pos []string) ([]prompts.Example, error) {
	n := e.cfg.FewShot
	if n <= 0 || len(tmpl.Examples) <= n {
		return tmpl.Examples, nil
	}
	if e.embedder != nil {
		return prompts.SelectByEmbedding(ctx, e.embedder, query, tmpl.Examples, n)
	}
	if len(pos) > 0 {
		return prompts.SelectByPOSNgrams(nil, pos, tmpl.Examples, n), nil
	}
	return tmpl.Examples[:n], nil
}
