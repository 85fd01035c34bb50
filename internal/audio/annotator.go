package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/clara/internal/text"
)

// Placeholder is the file path given to items with no recording.
const Placeholder = "placeholder.mp3"

// Audio sources.
const (
	SourceTTS   = "tts"
	SourceHuman = "human"
)

// Options selects how a text is voiced.
type Options struct {
	WordsType    string `validate:"required,oneof=tts human"`
	SegmentsType string `validate:"required,oneof=tts human"`
	// EnginePreference orders TTS engine ids.
	EnginePreference []string
	// TTSVoice overrides the engine's default voice.
	TTSVoice     string
	HumanVoiceID string
	// UseContext keys human segment recordings by the preceding text.
	UseContext    bool
	ContextLength int `validate:"gte=0,lte=1000"`
	// Phonetic voices the phonetic annotation of each word.
	Phonetic bool
	// NoPageAudio disables page audio concatenation.
	NoPageAudio bool
}

// DefaultContextLength is the number of preceding characters used as
// context for human segment recordings.
const DefaultContextLength = 20

// Result summarises an annotation run.
type Result struct {
	Words     int `json:"words"`
	Segments  int `json:"segments"`
	Pages     int `json:"pages"`
	Found     int `json:"found"`
	Generated int `json:"generated"`
	Failed    int `json:"failed"`
	Missing   int `json:"missing"`
}

// Annotator binds audio to texts.
type Annotator struct {
	repo        *Repository
	engines     []Engine
	processor   Processor
	concurrency int
	logger      *slog.Logger
	validate    *validator.Validate
}

// AnnotatorConfig wires an Annotator.
type AnnotatorConfig struct {
	Repository *Repository
	Engines    []Engine
	// Processor concatenates page audio. Page audio is skipped when nil.
	Processor      Processor
	MaxConcurrency int
	Logger         *slog.Logger
}

// NewAnnotator creates an audio annotator.
func NewAnnotator(cfg AnnotatorConfig) (*Annotator, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("audio repository is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Annotator{
		repo:        cfg.Repository,
		engines:     cfg.Engines,
		processor:   cfg.Processor,
		concurrency: cfg.MaxConcurrency,
		logger:      cfg.Logger,
		validate:    validator.New(),
	}, nil
}

func (a *Annotator) checkOptions(opts *Options) error {
	if err := a.validate.Struct(opts); err != nil {
		return fmt.Errorf("invalid audio options: %w", err)
	}
	if (opts.WordsType == SourceHuman || opts.SegmentsType == SourceHuman) && opts.HumanVoiceID == "" {
		return fmt.Errorf("invalid audio options: human audio needs a voice id")
	}
	if opts.UseContext && opts.ContextLength == 0 {
		opts.ContextLength = DefaultContextLength
	}
	return nil
}

// voiceFor resolves the voice for a source.
func (a *Annotator) voiceFor(source, language string, opts *Options) (Voice, Engine, error) {
	if source == SourceHuman {
		return Voice{EngineID: HumanEngineID, LanguageID: LanguageID(language), VoiceID: opts.HumanVoiceID}, nil, nil
	}
	e, err := SelectEngine(a.engines, language, opts.EnginePreference)
	if err != nil {
		return Voice{}, nil, err
	}
	voice := opts.TTSVoice
	if voice == "" {
		voice = e.DefaultVoice(language)
	}
	return Voice{EngineID: e.ID(), LanguageID: e.LanguageID(language), VoiceID: voice}, e, nil
}

// target is one thing that gets a tts annotation.
type target struct {
	item  Item
	apply func(ref *text.AudioRef)
}

type batch struct {
	source  string
	voice   Voice
	engine  Engine
	targets []target
}

// collect walks t and returns word, segment and page batches. Items with
// no audio content are left out.
func (a *Annotator) collect(t *text.Text, opts *Options, words, segs *batch) [][]*text.Segment {
	var running strings.Builder
	var pages [][]*text.Segment
	for _, page := range t.Pages {
		var pageSegs []*text.Segment
		for _, seg := range page.Segments {
			for _, e := range seg.Elements {
				if !e.IsWord() {
					continue
				}
				src := e.Content
				if opts.Phonetic {
					if p := e.Annotations.Value(text.KeyPhonetic); p != "" && p != text.NoData {
						src = p
					}
				}
				if !HasAudioContent(src) {
					continue
				}
				words.targets = append(words.targets, target{
					item:  Item{Text: Canonical(src)},
					apply: func(ref *text.AudioRef) { e.Annotations.TTS = ref },
				})
			}

			canonical := Canonical(segmentText(seg, opts.Phonetic))
			if canonical == "" {
				continue
			}
			item := Item{Text: canonical}
			if opts.UseContext && opts.SegmentsType == SourceHuman {
				item.Context = lastRunes(running.String(), opts.ContextLength)
			}
			if running.Len() > 0 {
				running.WriteByte(' ')
			}
			running.WriteString(canonical)

			segs.targets = append(segs.targets, target{
				item:  item,
				apply: func(ref *text.AudioRef) { seg.Annotations.TTS = ref },
			})
			pageSegs = append(pageSegs, seg)
		}
		pages = append(pages, pageSegs)
	}
	return pages
}

// segmentText renders seg, with words replaced by their phonetic
// annotation in phonetic mode.
func segmentText(seg *text.Segment, phonetic bool) string {
	if !phonetic {
		return seg.Plain()
	}
	var b strings.Builder
	for _, e := range seg.Elements {
		switch e.Type {
		case text.Word:
			if p := e.Annotations.Value(text.KeyPhonetic); p != "" && p != text.NoData {
				b.WriteString(p)
			} else {
				b.WriteString(e.Content)
			}
		case text.NonWordText:
			b.WriteString(e.Content)
		}
	}
	return b.String()
}

func lastRunes(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return strings.TrimLeft(string(rs[len(rs)-n:]), " ")
}

// Annotate attaches tts annotations to the words, segments and pages of t
// in place, generating missing TTS audio and page audio on the way.
func (a *Annotator) Annotate(ctx context.Context, t *text.Text, opts Options) (*Result, error) {
	if err := a.checkOptions(&opts); err != nil {
		return nil, err
	}
	words := &batch{source: opts.WordsType}
	segs := &batch{source: opts.SegmentsType}
	var err error
	if words.voice, words.engine, err = a.voiceFor(opts.WordsType, t.L2Language, &opts); err != nil {
		return nil, err
	}
	if segs.voice, segs.engine, err = a.voiceFor(opts.SegmentsType, t.L2Language, &opts); err != nil {
		return nil, err
	}
	pages := a.collect(t, &opts, words, segs)
	res := &Result{Words: len(words.targets), Segments: len(segs.targets)}

	tmp, err := os.MkdirTemp("", "clara-audio-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	for _, b := range []*batch{words, segs} {
		paths, err := a.resolve(ctx, b, tmp, res)
		if err != nil {
			return nil, err
		}
		for _, tg := range b.targets {
			path := paths[tg.item]
			if path == "" {
				path = Placeholder
				res.Missing++
			}
			tg.apply(&text.AudioRef{
				EngineID:   b.voice.EngineID,
				LanguageID: b.voice.LanguageID,
				VoiceID:    b.voice.VoiceID,
				FilePath:   path,
			})
		}
	}

	if !opts.Phonetic && !opts.NoPageAudio && a.processor != nil {
		for i, page := range t.Pages {
			ref, err := a.pageAudio(ctx, i, pages[i], segs.voice, tmp)
			if err != nil {
				return nil, err
			}
			if ref != nil {
				page.Annotations.TTS = ref
				res.Pages++
			}
		}
	}

	a.logger.Info("annotated audio",
		"words", res.Words, "segments", res.Segments, "pages", res.Pages,
		"found", res.Found, "generated", res.Generated, "missing", res.Missing)
	return res, nil
}

// resolve looks up every item of b and generates the missing ones when b
// is voiced by TTS.
func (a *Annotator) resolve(ctx context.Context, b *batch, tmp string, res *Result) (map[Item]string, error) {
	var items []Item
	seen := make(map[Item]bool)
	for _, tg := range b.targets {
		if !seen[tg.item] {
			seen[tg.item] = true
			items = append(items, tg.item)
		}
	}
	found, err := a.repo.GetEntryBatch(ctx, b.voice, items)
	if err != nil {
		return nil, err
	}
	res.Found += len(found)
	if b.source != SourceTTS || b.engine == nil {
		return found, nil
	}

	var missing []Item
	for _, it := range items {
		if _, ok := found[it]; !ok {
			missing = append(missing, it)
		}
	}
	if len(missing) == 0 {
		return found, nil
	}
	a.logger.Info("generating TTS audio", "voice", b.voice.String(), "items", len(missing))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, it := range missing {
		g.Go(func() error {
			out := filepath.Join(tmp, fmt.Sprintf("%s-%d.mp3", b.voice.EngineID, i))
			if err := b.engine.CreateMP3(gctx, b.voice.LanguageID, b.voice.VoiceID, it.Text, out); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.logger.Warn("TTS generation failed", "text", it.Text, "error", err)
				mu.Lock()
				res.Failed++
				mu.Unlock()
				return nil
			}
			stored, err := a.repo.StoreMP3(b.voice, out)
			if err != nil {
				return err
			}
			if err := a.repo.AddOrUpdateEntry(gctx, b.voice, it.Text, stored, it.Context); err != nil {
				return err
			}
			mu.Lock()
			found[it] = stored
			res.Generated++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// pageAudio returns the page's recording, concatenating its segment audio
// when the repository has none.
func (a *Annotator) pageAudio(ctx context.Context, index int, segs []*text.Segment, v Voice, tmp string) (*text.AudioRef, error) {
	var (
		texts   []string
		files   []string
		partial bool
	)
	for _, seg := range segs {
		ref := seg.Annotations.TTS
		if ref == nil {
			continue
		}
		texts = append(texts, Canonical(seg.Plain()))
		if ref.FilePath == Placeholder {
			partial = true
		} else {
			files = append(files, ref.FilePath)
		}
	}
	if len(texts) == 0 {
		return nil, nil
	}
	key := strings.Join(texts, " ")
	ref := &text.AudioRef{EngineID: v.EngineID, LanguageID: v.LanguageID, VoiceID: v.VoiceID}

	path, err := a.repo.GetEntry(ctx, v, key, "")
	if err != nil {
		return nil, err
	}
	if path != "" {
		ref.FilePath = path
		return ref, nil
	}
	if len(files) == 0 {
		ref.FilePath = Placeholder
		return ref, nil
	}
	out := filepath.Join(tmp, fmt.Sprintf("page-%d.mp3", index))
	if err := a.processor.Concat(ctx, files, out); err != nil {
		return nil, fmt.Errorf("page audio: %w", err)
	}
	stored, err := a.repo.StoreMP3(v, out)
	if err != nil {
		return nil, err
	}
	ref.FilePath = stored
	// A page missing segment audio is not recorded under its key, so it is
	// rebuilt once the missing segments exist.
	if partial {
		a.logger.Debug("page audio is partial", "page", index, "segments", len(texts), "files", len(files))
		return ref, nil
	}
	if err := a.repo.AddOrUpdateEntry(ctx, v, key, stored, ""); err != nil {
		return nil, err
	}
	return ref, nil
}
