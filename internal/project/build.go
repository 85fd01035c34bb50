package project

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jackzampolin/clara/internal/audio"
	"github.com/jackzampolin/clara/internal/concordance"
	"github.com/jackzampolin/clara/internal/history"
	"github.com/jackzampolin/clara/internal/images"
	"github.com/jackzampolin/clara/internal/jobs"
	"github.com/jackzampolin/clara/internal/markup"
	"github.com/jackzampolin/clara/internal/merge"
	"github.com/jackzampolin/clara/internal/mwe"
	"github.com/jackzampolin/clara/internal/render"
	"github.com/jackzampolin/clara/internal/text"
)

// Record names.
const (
	recordAudioSettings    = "audio_settings"
	recordAudioBinding     = "audio_binding"
	recordAudioPhonetic    = "audio_phonetic_binding"
	recordFormat           = "format_preferences"
	recordAcknowledgements = "acknowledgements"
	recordRender           = "render"
	recordRenderPhonetic   = "render_phonetic"
)

// DefaultAudioSettings voices words and segments with TTS.
func DefaultAudioSettings() audio.Options {
	return audio.Options{
		WordsType:     audio.SourceTTS,
		SegmentsType:  audio.SourceTTS,
		ContextLength: audio.DefaultContextLength,
	}
}

// SetAudioSettings stores how the project is voiced.
func (p *Project) SetAudioSettings(opts audio.Options) error {
	return saveRecord(p, recordAudioSettings, opts)
}

// AudioSettings returns the stored audio settings, or the defaults.
func (p *Project) AudioSettings() (audio.Options, error) {
	opts, _, ok, err := loadRecord[audio.Options](p, recordAudioSettings)
	if err != nil {
		return audio.Options{}, err
	}
	if !ok {
		return DefaultAudioSettings(), nil
	}
	return opts, nil
}

// SetFormatPreferences stores the rendering format preferences.
func (p *Project) SetFormatPreferences(f render.FormatPreferences) error {
	return saveRecord(p, recordFormat, f)
}

// FormatPreferences returns the stored format preferences, or the
// defaults.
func (p *Project) FormatPreferences() (render.FormatPreferences, error) {
	f, _, ok, err := loadRecord[render.FormatPreferences](p, recordFormat)
	if err != nil {
		return render.FormatPreferences{}, err
	}
	if !ok {
		return render.DefaultFormatPreferences(), nil
	}
	return f, nil
}

// SetAcknowledgements stores the acknowledgements text.
func (p *Project) SetAcknowledgements(s string) error {
	return saveRecord(p, recordAcknowledgements, s)
}

// Acknowledgements returns the acknowledgements text, if any.
func (p *Project) Acknowledgements() (string, error) {
	s, _, _, err := loadRecord[string](p, recordAcknowledgements)
	return s, err
}

// audioBinding is what the last audio annotation bound the text to.
type audioBinding struct {
	Files  []string     `json:"files"`
	Result audio.Result `json:"result"`
}

// renderRecord notes a completed rendering.
type renderRecord struct {
	Dir string `json:"dir"`
}

// BuildText assembles the fully annotated text: the richest word-level
// layer as the base, the other layers merged in, images inserted and MWE
// member words tagged. The phonetic variant is built on the phonetic
// layer.
func (p *Project) BuildText(ctx context.Context, phonetic bool) (*text.Text, error) {
	imgs, err := p.projectImages(ctx)
	if err != nil {
		return nil, err
	}

	var base *text.Text
	var layers []merge.Layer
	if phonetic {
		if !p.HasLayer(markup.LayerPhonetic) {
			return nil, fmt.Errorf("project %s: %s: %w", p.id, markup.LayerPhonetic, ErrNoLayer)
		}
		if base, err = p.Text(markup.LayerSegmented); err != nil {
			return nil, err
		}
		layers = p.appendLayer(layers, markup.LayerPhonetic)
		layers = p.appendLayer(layers, markup.LayerTranslated)
	} else {
		baseLayer := markup.LayerSegmented
		for _, l := range []string{markup.LayerLemmaAndGloss, markup.LayerGloss, markup.LayerLemma} {
			if p.HasLayer(l) {
				baseLayer = l
				break
			}
		}
		if base, err = p.Text(baseLayer); err != nil {
			return nil, err
		}
		for _, l := range []string{markup.LayerGloss, markup.LayerLemma, markup.LayerPinyin, markup.LayerTranslated, markup.LayerMWE} {
			if l == baseLayer {
				continue
			}
			if baseLayer == markup.LayerLemmaAndGloss && (l == markup.LayerGloss || l == markup.LayerLemma) {
				continue
			}
			layers = p.appendLayer(layers, l)
		}
	}

	t := base
	if len(layers) > 0 {
		t = merge.Unify(base, layers, merge.Options{})
	}
	for _, err := range mwe.Propagate(t) {
		p.logger.Warn("skipping MWE", "error", err)
	}
	if len(imgs) > 0 {
		if err := p.insertImages(ctx, t); err != nil {
			return nil, err
		}
		if err := images.AttachRegions(t, imgs); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// AnnotateAudio binds audio to t with the stored settings and records the
// files used.
func (p *Project) AnnotateAudio(ctx context.Context, t *text.Text, phonetic bool) (*audio.Result, error) {
	if p.svc.Audio == nil {
		return nil, fmt.Errorf("project %s: no audio annotator configured", p.id)
	}
	opts, err := p.AudioSettings()
	if err != nil {
		return nil, err
	}
	opts.Phonetic = phonetic
	jobs.Report(ctx, "binding audio")
	res, err := p.svc.Audio.Annotate(ctx, t, opts)
	if err != nil {
		return nil, err
	}
	t.Voice = opts.TTSVoice
	if err := saveRecord(p, bindingRecord(phonetic), audioBinding{Files: audioFiles(t), Result: *res}); err != nil {
		return res, err
	}
	return res, nil
}

func bindingRecord(phonetic bool) string {
	if phonetic {
		return recordAudioPhonetic
	}
	return recordAudioBinding
}

// audioFiles lists the distinct recordings referenced by t.
func audioFiles(t *text.Text) []string {
	seen := make(map[string]bool)
	add := func(ref *text.AudioRef) {
		if ref != nil && ref.FilePath != "" && ref.FilePath != audio.Placeholder {
			seen[ref.FilePath] = true
		}
	}
	for _, pg := range t.Pages {
		add(pg.Annotations.TTS)
		for _, s := range pg.Segments {
			add(s.Annotations.TTS)
			for _, e := range s.Elements {
				add(e.Annotations.TTS)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// HumanAudioMetadata lists the words and segments to be recorded by a
// human voice.
func (p *Project) HumanAudioMetadata(ctx context.Context, onlyMissing bool) ([]audio.HumanItem, error) {
	if p.svc.Audio == nil {
		return nil, fmt.Errorf("project %s: no audio annotator configured", p.id)
	}
	t, err := p.BuildText(ctx, false)
	if err != nil {
		return nil, err
	}
	opts, err := p.AudioSettings()
	if err != nil {
		return nil, err
	}
	return p.svc.Audio.HumanMetadata(ctx, t, opts, onlyMissing)
}

// RenderOptions selects a rendering variant.
type RenderOptions struct {
	Phonetic      bool
	SelfContained bool
	URLPrefix     string
	// NoAudio renders without binding audio.
	NoAudio bool
}

// prepare builds t for rendering with audio and a concordance. It returns
// the next free segment counter.
func (p *Project) prepare(ctx context.Context, opts RenderOptions, firstUID int) (*text.Text, int, error) {
	t, err := p.BuildText(ctx, opts.Phonetic)
	if err != nil {
		return nil, 0, err
	}
	if !opts.NoAudio && p.svc.Audio != nil {
		if _, err := p.AnnotateAudio(ctx, t, opts.Phonetic); err != nil {
			return nil, 0, err
		}
	}
	next := concordance.Annotate(t, concordance.Options{Phonetic: opts.Phonetic, FirstUID: firstUID})
	return t, next, nil
}

// Render builds, voices and renders the project. It returns the output
// directory.
func (p *Project) Render(ctx context.Context, opts RenderOptions) (string, error) {
	if p.svc.Renderer == nil {
		return "", fmt.Errorf("project %s: no renderer configured", p.id)
	}
	t, _, err := p.prepare(ctx, opts, 1)
	if err != nil {
		return "", err
	}
	format, err := p.FormatPreferences()
	if err != nil {
		return "", err
	}
	title := p.id
	if s, err := p.LoadLayer(markup.LayerTitle); err == nil && strings.TrimSpace(s) != "" {
		title = strings.TrimSpace(s)
	}
	jobs.Report(ctx, "rendering")
	dir, err := p.svc.Renderer.Render(ctx, t, render.Options{
		ProjectID:     p.id,
		Title:         title,
		Phonetic:      opts.Phonetic,
		SelfContained: opts.SelfContained,
		Format:        format,
		URLPrefix:     opts.URLPrefix,
	})
	if err != nil {
		return "", err
	}
	name := recordRender
	if opts.Phonetic {
		name = recordRenderPhonetic
	}
	if err := saveRecord(p, name, renderRecord{Dir: dir}); err != nil {
		return dir, err
	}
	return dir, nil
}

// Export packages the last rendering into a zip with its media.
func (p *Project) Export(ctx context.Context, zipPath string, phonetic bool, src render.MediaSources) error {
	if p.svc.Renderer == nil {
		return fmt.Errorf("project %s: no renderer configured", p.id)
	}
	dir := p.svc.Renderer.OutputDir(p.id, phonetic)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("project %s has not been rendered: %w", p.id, err)
	}
	jobs.Report(ctx, "building content zip")
	return p.svc.Renderer.BuildContentZip(ctx, dir, zipPath, src)
}

// RenderHistory renders the texts of projects as one reading history under
// id. Segment uids continue across texts.
func RenderHistory(ctx context.Context, r *render.Renderer, id string, projects []*Project, opts RenderOptions) (string, error) {
	if len(projects) == 0 {
		return "", fmt.Errorf("reading history %s has no projects", id)
	}
	texts := make([]*text.Text, 0, len(projects))
	next := 1
	for _, p := range projects {
		t, n, err := p.prepare(ctx, opts, next)
		if err != nil {
			return "", fmt.Errorf("project %s: %w", p.id, err)
		}
		next = n
		texts = append(texts, t)
	}
	combined, err := history.Combine(texts)
	if err != nil {
		return "", err
	}
	format, err := projects[0].FormatPreferences()
	if err != nil {
		return "", err
	}
	return r.Render(ctx, combined, render.Options{
		ProjectID:     id,
		Title:         id,
		Phonetic:      opts.Phonetic,
		SelfContained: opts.SelfContained,
		Format:        format,
		URLPrefix:     opts.URLPrefix,
	})
}
