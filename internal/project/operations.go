package project

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackzampolin/clara/internal/annotate"
	"github.com/jackzampolin/clara/internal/images"
	"github.com/jackzampolin/clara/internal/jobs"
	"github.com/jackzampolin/clara/internal/llmcall"
	"github.com/jackzampolin/clara/internal/markup"
	"github.com/jackzampolin/clara/internal/merge"
	"github.com/jackzampolin/clara/internal/mwe"
	"github.com/jackzampolin/clara/internal/phonetic"
	"github.com/jackzampolin/clara/internal/prompts"
	"github.com/jackzampolin/clara/internal/repair"
	"github.com/jackzampolin/clara/internal/text"
)

// Result is the outcome of an operation that saved a layer.
type Result struct {
	Layer     string          `json:"layer"`
	Source    string          `json:"source"`
	Calls     []*llmcall.Call `json:"-"`
	Reused    int             `json:"reused,omitempty"`
	Annotated int             `json:"annotated,omitempty"`
	Repaired  int             `json:"repaired,omitempty"`
}

// Cost returns the summed cost of the LLM calls made.
func (r *Result) Cost() float64 {
	return llmcall.TotalCost(r.Calls)
}

// freeTextLayers hold plain text rather than inline markup.
var freeTextLayers = map[string]bool{
	markup.LayerPlain:     true,
	markup.LayerTitle:     true,
	markup.LayerSummary:   true,
	markup.LayerCEFRLevel: true,
}

// Text internalises the current version of layer.
func (p *Project) Text(layer string) (*text.Text, error) {
	s, err := p.LoadLayer(layer)
	if err != nil {
		return nil, err
	}
	return markup.Internalise(s, layer, p.l2, p.l1)
}

// Edit saves a hand-edited version of layer. Annotated layers must
// internalise.
func (p *Project) Edit(layer, content, user string) error {
	if !freeTextLayers[layer] {
		t, err := markup.Internalise(content, layer, p.l2, p.l1)
		if err != nil {
			return err
		}
		if layer == markup.LayerMWE {
			if err := checkMWEs(t); err != nil {
				return err
			}
		}
	}
	return p.SaveLayer(layer, content, SaveOptions{Source: SourceHumanRevised, User: user})
}

// checkMWEs rejects MWEs whose words cannot be found in their segment.
func checkMWEs(t *text.Text) error {
	for _, pg := range t.Pages {
		for _, seg := range pg.Segments {
			if err := mwe.CheckWellFormed(seg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Project) engine() (*annotate.Engine, error) {
	if p.svc.Engine == nil {
		return nil, fmt.Errorf("project %s: no annotation engine configured", p.id)
	}
	return p.svc.Engine, nil
}

func (p *Project) saveText(t *text.Text, layer string, opts SaveOptions) error {
	s, err := markup.Externalise(t, layer)
	if err != nil {
		return err
	}
	return p.SaveLayer(layer, s, opts)
}

// GeneratePlain asks the LLM for a story from a description and saves it
// as the plain layer.
func (p *Project) GeneratePlain(ctx context.Context, description, user string) (*Result, error) {
	return p.generate(ctx, annotate.PhasePlain, description, user)
}

// Generate produces a text phase (title, summary or cefr_level) from the
// plain layer.
func (p *Project) Generate(ctx context.Context, phase, user string) (*Result, error) {
	switch phase {
	case annotate.PhaseTitle, annotate.PhaseSummary, annotate.PhaseCEFRLevel:
	default:
		return nil, fmt.Errorf("phase %s is not generated from the plain text", phase)
	}
	plain, err := p.LoadLayer(markup.LayerPlain)
	if err != nil {
		return nil, err
	}
	return p.generate(ctx, phase, plain, user)
}

func (p *Project) generate(ctx context.Context, phase, input, user string) (*Result, error) {
	e, err := p.engine()
	if err != nil {
		return nil, err
	}
	jobs.Report(ctx, "generating "+phase)
	gr, err := e.Generate(ctx, annotate.GenerateRequest{Phase: phase, L2: p.l2, L1: p.l1, Input: input, ProjectID: p.id})
	res := &Result{Layer: phase, Source: SourceAIGenerated}
	if gr != nil {
		res.Calls = gr.Calls
	}
	if err != nil {
		return res, err
	}
	if err := p.SaveLayer(phase, strings.TrimSpace(gr.Text), SaveOptions{Source: SourceAIGenerated, User: user}); err != nil {
		return res, err
	}
	return res, nil
}

// Segment divides the plain layer into pages, segments and words.
func (p *Project) Segment(ctx context.Context, user string) (*Result, error) {
	return p.segment(ctx, markup.LayerPlain, markup.LayerSegmented, user)
}

// SegmentTitle segments the title layer.
func (p *Project) SegmentTitle(ctx context.Context, user string) (*Result, error) {
	return p.segment(ctx, markup.LayerTitle, markup.LayerSegmentedTitle, user)
}

func (p *Project) segment(ctx context.Context, from, to, user string) (*Result, error) {
	e, err := p.engine()
	if err != nil {
		return nil, err
	}
	src, err := p.LoadLayer(from)
	if err != nil {
		return nil, err
	}
	jobs.Report(ctx, "segmenting "+from)
	ar, err := e.Segment(ctx, src, p.l2, p.l1, p.id)
	res := &Result{Layer: to, Source: SourceAIGenerated}
	if ar != nil {
		res.Calls = ar.Calls
		res.Annotated = ar.Annotated
	}
	if err != nil {
		return res, err
	}
	return res, p.saveText(ar.Text, to, SaveOptions{Source: SourceAIGenerated, User: user})
}

// Trivial produces a layer with the rule-based annotators: segmented by
// sentence punctuation, lemma as the lower-cased surface, gloss as the
// no-data marker.
func (p *Project) Trivial(ctx context.Context, layer, user string) (*Result, error) {
	var t *text.Text
	switch layer {
	case markup.LayerSegmented:
		plain, err := p.LoadLayer(markup.LayerPlain)
		if err != nil {
			return nil, err
		}
		t = annotate.TrivialSegment(plain, p.l2, p.l1)
	case markup.LayerLemma, markup.LayerGloss:
		in, err := p.SegmentedWithImages(ctx)
		if err != nil {
			return nil, err
		}
		if layer == markup.LayerLemma {
			t = annotate.TrivialLemma(in)
		} else {
			t = annotate.TrivialGloss(in)
		}
	default:
		return nil, fmt.Errorf("no trivial annotator for %s", layer)
	}
	res := &Result{Layer: layer, Source: SourceTrivial}
	return res, p.saveText(t, layer, SaveOptions{Source: SourceTrivial, User: user})
}

// SegmentedWithImages returns the segmented layer with the project's
// positioned images inserted as Image elements.
func (p *Project) SegmentedWithImages(ctx context.Context) (*text.Text, error) {
	t, err := p.Text(markup.LayerSegmented)
	if err != nil {
		return nil, err
	}
	if err := p.insertImages(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *Project) projectImages(ctx context.Context) ([]*images.Image, error) {
	if p.svc.Images == nil {
		return nil, nil
	}
	return p.svc.Images.GetAllEntries(ctx, p.id)
}

// insertImages adds the project's images to t unless it already has some.
func (p *Project) insertImages(ctx context.Context, t *text.Text) error {
	hasImages := false
	_ = t.Walk(func(_ *text.Page, _ *text.Segment, e *text.Element) error {
		if e.Type == text.Image {
			hasImages = true
		}
		return nil
	})
	if hasImages {
		return nil
	}
	imgs, err := p.projectImages(ctx)
	if err != nil {
		return err
	}
	n, err := images.InsertImages(t, imgs)
	if err != nil {
		return err
	}
	if n > 0 {
		p.logger.Debug("inserted images", "count", n)
	}
	return nil
}

// AnnotateOptions selects an annotation operation.
type AnnotateOptions struct {
	Phase string
	// Mode is prompts.ModeAnnotate, ModeImprove or, for lemma_and_gloss,
	// ModeCorrect.
	Mode string
	// UseMWE runs gloss and lemma in MWE mode when an mwe layer exists.
	UseMWE bool
	User   string
}

// Annotate produces or improves a word- or segment-level layer with the
// LLM and saves it.
func (p *Project) Annotate(ctx context.Context, opts AnnotateOptions) (*Result, error) {
	e, err := p.engine()
	if err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		opts.Mode = prompts.ModeAnnotate
	}
	source := SourceAIGenerated
	switch opts.Mode {
	case prompts.ModeImprove:
		source = SourceAIRevised
	case prompts.ModeCorrect:
		source = SourceAICorrected
	}

	if opts.Phase == annotate.PhasePhonetic && opts.Mode == prompts.ModeAnnotate && p.svc.Lexicon != nil {
		return p.annotatePhonetic(ctx, e, opts.User)
	}

	input, err := p.annotationInput(ctx, opts)
	if err != nil {
		return nil, err
	}
	req := &annotate.Request{
		Phase:     opts.Phase,
		Mode:      opts.Mode,
		Input:     input,
		UseMWE:    opts.UseMWE && p.HasLayer(markup.LayerMWE),
		ProjectID: p.id,
		Progress:  func(msg string) { jobs.Report(ctx, msg) },
	}
	if opts.Mode == prompts.ModeAnnotate && p.HasLayer(opts.Phase) {
		if prev, err := p.Text(opts.Phase); err == nil {
			req.Previous = prev
		} else {
			p.logger.Warn("ignoring unreadable previous version", "layer", opts.Phase, "error", err)
		}
	}

	ar, err := e.Annotate(ctx, req)
	res := &Result{Layer: opts.Phase, Source: source}
	if ar != nil {
		res.Calls = ar.Calls
		res.Reused = ar.Reused
		res.Annotated = ar.Annotated
	}
	if err != nil {
		return res, err
	}
	return res, p.saveText(ar.Text, opts.Phase, SaveOptions{Source: source, User: opts.User})
}

// annotationInput loads the predecessor of a phase.
func (p *Project) annotationInput(ctx context.Context, opts AnnotateOptions) (*text.Text, error) {
	if opts.Mode == prompts.ModeImprove {
		return p.Text(opts.Phase)
	}
	switch opts.Phase {
	case annotate.PhaseTranslated, annotate.PhaseMWE, annotate.PhasePhonetic:
		return p.Text(markup.LayerSegmented)
	case annotate.PhaseGloss, annotate.PhaseLemma, annotate.PhasePinyin:
		t, err := p.SegmentedWithImages(ctx)
		if err != nil {
			return nil, err
		}
		var aux []merge.Layer
		if opts.UseMWE && opts.Phase != annotate.PhasePinyin {
			aux = p.appendLayer(aux, markup.LayerMWE)
		}
		if opts.Phase == annotate.PhaseGloss {
			aux = p.appendLayer(aux, markup.LayerTranslated)
		}
		if len(aux) == 0 {
			return t, nil
		}
		return merge.Unify(t, aux, merge.Options{}), nil
	case annotate.PhaseLemmaAndGloss:
		if p.HasLayer(markup.LayerLemmaAndGloss) {
			return p.Text(markup.LayerLemmaAndGloss)
		}
		return p.mergedLemmaAndGloss()
	}
	return nil, fmt.Errorf("phase %s is not an annotation phase", opts.Phase)
}

// appendLayer adds layer to ls when it has a readable current version.
func (p *Project) appendLayer(ls []merge.Layer, layer string) []merge.Layer {
	if !p.HasLayer(layer) {
		return ls
	}
	t, err := p.Text(layer)
	if err != nil {
		p.logger.Warn("skipping unreadable layer", "layer", layer, "error", err)
		return ls
	}
	return append(ls, merge.Layer{Name: layer, Text: t})
}

// phoneticGuesser asks the LLM for the pronunciation of words the lexicon
// lacks.
type phoneticGuesser struct {
	engine    *annotate.Engine
	projectID string
	l1        string
	calls     []*llmcall.Call
}

func (g *phoneticGuesser) Guess(ctx context.Context, language string, words []string) (map[string]string, error) {
	seg := &text.Segment{}
	for i, w := range words {
		if i > 0 {
			seg.Elements = append(seg.Elements, text.NewNonWord(" "))
		}
		seg.Elements = append(seg.Elements, text.NewWord(w))
	}
	t := text.New(language, g.l1)
	t.Pages = []*text.Page{{Segments: []*text.Segment{seg}}}

	ar, err := g.engine.Annotate(ctx, &annotate.Request{Phase: annotate.PhasePhonetic, Input: t, ProjectID: g.projectID})
	if ar != nil {
		g.calls = append(g.calls, ar.Calls...)
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(words))
	for _, s := range ar.Text.Segments() {
		for _, w := range s.Words() {
			if v := w.Annotations.Value(text.KeyPhonetic); v != "" && v != text.NoData {
				out[w.Content] = v
			}
		}
	}
	return out, nil
}

func (p *Project) annotatePhonetic(ctx context.Context, e *annotate.Engine, user string) (*Result, error) {
	in, err := p.Text(markup.LayerSegmented)
	if err != nil {
		return nil, err
	}
	g := &phoneticGuesser{engine: e, projectID: p.id, l1: p.l1}
	pr, err := phonetic.NewAnnotator(p.svc.Lexicon, g, p.logger).Annotate(ctx, in)
	res := &Result{Layer: markup.LayerPhonetic, Source: SourceAIGenerated, Calls: g.calls}
	if err != nil {
		return res, err
	}
	res.Annotated = pr.Lexicon + pr.Guessed
	jobs.Report(ctx, fmt.Sprintf("phonetic: %d from lexicon, %d guessed, %d missing", pr.Lexicon, pr.Guessed, pr.Missing))
	return res, p.saveText(pr.Text, markup.LayerPhonetic, SaveOptions{Source: SourceAIGenerated, User: user})
}

// mergedLemmaAndGloss derives lemma_and_gloss from the lemma and gloss
// layers, adding pinyin and translations when present.
func (p *Project) mergedLemmaAndGloss() (*text.Text, error) {
	lemma, err := p.Text(markup.LayerLemma)
	if err != nil {
		return nil, err
	}
	gloss, err := p.Text(markup.LayerGloss)
	if err != nil {
		return nil, err
	}
	var extra []merge.Layer
	extra = p.appendLayer(extra, markup.LayerPinyin)
	extra = p.appendLayer(extra, markup.LayerTranslated)
	return merge.LemmaAndGloss(lemma, gloss, extra...), nil
}

// MergeLemmaAndGloss saves the merge of the lemma and gloss layers.
func (p *Project) MergeLemmaAndGloss(ctx context.Context, user string) (*Result, error) {
	t, err := p.mergedLemmaAndGloss()
	if err != nil {
		return nil, err
	}
	jobs.Report(ctx, "merged lemma and gloss")
	res := &Result{Layer: markup.LayerLemmaAndGloss, Source: SourceMerged}
	return res, p.saveText(t, markup.LayerLemmaAndGloss, SaveOptions{Source: SourceMerged, User: user})
}

// Repair fixes the segments of layer that do not parse. Nothing is saved
// when every segment parses.
func (p *Project) Repair(ctx context.Context, layer, user string) (*Result, error) {
	if p.svc.Repairer == nil {
		return nil, fmt.Errorf("project %s: no repairer configured", p.id)
	}
	src, err := p.LoadLayer(layer)
	if err != nil {
		return nil, err
	}
	rr, err := p.svc.Repairer.Repair(ctx, repair.Request{Layer: layer, L2: p.l2, L1: p.l1, Source: src, ProjectID: p.id})
	res := &Result{Layer: layer, Source: SourceAIRevised}
	if rr != nil {
		res.Calls = rr.Calls
		res.Repaired = rr.Repaired
	}
	if err != nil {
		return res, err
	}
	if rr.Repaired == 0 {
		return res, nil
	}
	jobs.Report(ctx, fmt.Sprintf("repaired %d segments of %s", rr.Repaired, layer))
	return res, p.SaveLayer(layer, rr.Source, SaveOptions{Source: SourceAIRevised, User: user})
}

// IsMissing reports whether err means a layer has no current version.
func IsMissing(err error) bool {
	return errors.Is(err, ErrNoLayer)
}
