package project

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/clara/internal/annotate"
	"github.com/jackzampolin/clara/internal/deps"
	"github.com/jackzampolin/clara/internal/markup"
	"github.com/jackzampolin/clara/internal/prompts"
	"github.com/jackzampolin/clara/internal/providers"
	"github.com/jackzampolin/clara/internal/render"
	"github.com/jackzampolin/clara/internal/text"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProject(t *testing.T, svc Services) *Project {
	t.Helper()
	svc.Logger = discard()
	p, err := Create(filepath.Join(t.TempDir(), "p1"), StoredData{ID: "p1", L2Language: "French", L1Language: "english"}, svc)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return p
}

func testEngine(t *testing.T, client providers.LLMClient) *annotate.Engine {
	t.Helper()
	e, err := annotate.NewEngine(annotate.EngineConfig{
		Client:  client,
		Prompts: prompts.NewResolver(nil, nil),
		Config:  annotate.Config{RetryDelay: time.Millisecond},
		Logger:  discard(),
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func mustEdit(t *testing.T, p *Project, layer, content string) {
	t.Helper()
	if err := p.Edit(layer, content, "tester"); err != nil {
		t.Fatalf("Edit(%s) error = %v", layer, err)
	}
}

func TestCreateAndOpen(t *testing.T) {
	p := newTestProject(t, Services{})
	if p.L2() != "french" {
		t.Errorf("L2() = %q, want lower-cased", p.L2())
	}

	q, err := Open(p.Dir(), Services{Logger: discard()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if q.Stored() != p.Stored() {
		t.Errorf("Stored() = %+v, want %+v", q.Stored(), p.Stored())
	}

	if _, err := Create(p.Dir(), p.Stored(), Services{}); !errors.Is(err, ErrExists) {
		t.Errorf("Create() on existing dir error = %v, want ErrExists", err)
	}
	if _, err := Create(t.TempDir(), StoredData{ID: "a/b", L2Language: "x", L1Language: "y"}, Services{}); err == nil {
		t.Error("expected error for id with a slash")
	}
	if _, err := Open(t.TempDir(), Services{}); err == nil {
		t.Error("expected error opening a non-project directory")
	}
}

func TestSaveLayerArchivesPrevious(t *testing.T) {
	p := newTestProject(t, Services{})
	fixed := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	for _, s := range []string{"one", "two", "three"} {
		if err := p.SaveLayer(markup.LayerPlain, s, SaveOptions{Source: SourceAIGenerated, User: "u"}); err != nil {
			t.Fatalf("SaveLayer() error = %v", err)
		}
	}
	got, err := p.LoadLayer(markup.LayerPlain)
	if err != nil || got != "three" {
		t.Fatalf("LoadLayer() = %q, %v", got, err)
	}

	archived, err := p.Archived(markup.LayerPlain)
	if err != nil {
		t.Fatalf("Archived() error = %v", err)
	}
	if len(archived) != 2 {
		t.Fatalf("expected 2 archived versions, got %d", len(archived))
	}
	data, _ := os.ReadFile(archived[0].Path)
	if string(data) != "two" {
		t.Errorf("newest archive = %q, want two", data)
	}
	if !archived[0].Timestamp.Equal(fixed) {
		t.Errorf("archive timestamp = %v", archived[0].Timestamp)
	}

	entries, err := p.Metadata()
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("expected 3 metadata entries, got %d", len(entries))
	}
	cur, ok, err := p.Current(markup.LayerPlain)
	if err != nil || !ok {
		t.Fatalf("Current() = %v, %v", ok, err)
	}
	if cur.File != "plain/p1_plain.txt" || cur.Source != SourceAIGenerated || cur.User != "u" {
		t.Errorf("Current() = %+v", cur)
	}
}

func TestArchivedIgnoresLongerLayerNames(t *testing.T) {
	p := newTestProject(t, Services{})
	for i := 0; i < 2; i++ {
		mustEdit(t, p, markup.LayerSegmented, "Le chien.||")
		mustEdit(t, p, markup.LayerSegmentedTitle, "Titre.||")
	}
	archived, err := p.Archived(markup.LayerSegmented)
	if err != nil {
		t.Fatalf("Archived() error = %v", err)
	}
	if len(archived) != 1 {
		t.Errorf("expected 1 archived segmented version, got %d", len(archived))
	}
}

func TestDiffVersions(t *testing.T) {
	p := newTestProject(t, Services{})
	mustEdit(t, p, markup.LayerSegmented, "Le chien.||Il dort.||")
	mustEdit(t, p, markup.LayerSegmented, "Le chien.||Elle dort.||")
	archived, err := p.Archived(markup.LayerSegmented)
	if err != nil || len(archived) != 1 {
		t.Fatalf("Archived() = %v, %v", archived, err)
	}
	diff, err := p.DiffVersions(markup.LayerSegmented, archived[0].Path, "")
	if err != nil {
		t.Fatalf("DiffVersions() error = %v", err)
	}
	if !strings.Contains(diff, "-Il dort.||") || !strings.Contains(diff, "+Elle dort.||") {
		t.Errorf("unexpected diff:\n%s", diff)
	}
}

func TestEditValidatesAnnotatedLayers(t *testing.T) {
	p := newTestProject(t, Services{})
	if err := p.Edit(markup.LayerGloss, "chien#dog", "u"); err == nil {
		t.Error("expected error for malformed gloss layer")
	}
	if p.HasLayer(markup.LayerGloss) {
		t.Error("invalid edit was saved")
	}
	mustEdit(t, p, markup.LayerPlain, "Free text with # and @ signs.")
	cur, _, _ := p.Current(markup.LayerPlain)
	if cur == nil || cur.Source != SourceHumanRevised || cur.User != "tester" {
		t.Errorf("Current() = %+v", cur)
	}
}

func TestAnnotateGloss(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseText = `[["Le", "the"], ["chien", "dog"], ["dort", "sleeps"]]`
	p := newTestProject(t, Services{Engine: testEngine(t, client)})
	mustEdit(t, p, markup.LayerSegmented, "Le chien dort.||")

	res, err := p.Annotate(context.Background(), AnnotateOptions{Phase: annotate.PhaseGloss, User: "u"})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if res.Source != SourceAIGenerated || len(res.Calls) != 1 || res.Cost() <= 0 {
		t.Errorf("unexpected result %+v", res)
	}
	g, err := p.Text(markup.LayerGloss)
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	var glosses []string
	for _, w := range g.Segments()[0].Words() {
		glosses = append(glosses, w.Annotations.Value(text.KeyGloss))
	}
	if strings.Join(glosses, " ") != "the dog sleeps" {
		t.Errorf("glosses = %v", glosses)
	}

	res, err = p.Annotate(context.Background(), AnnotateOptions{Phase: annotate.PhaseGloss, Mode: prompts.ModeImprove})
	if err != nil {
		t.Fatalf("Annotate(improve) error = %v", err)
	}
	cur, _, _ := p.Current(markup.LayerGloss)
	if res.Source != SourceAIRevised || cur == nil || cur.Source != SourceAIRevised {
		t.Errorf("improve source = %s, metadata %+v", res.Source, cur)
	}
	if archived, _ := p.Archived(markup.LayerGloss); len(archived) != 1 {
		t.Errorf("expected the first gloss version to be archived, got %d", len(archived))
	}
}

func TestAnnotateWithoutEngine(t *testing.T) {
	p := newTestProject(t, Services{})
	mustEdit(t, p, markup.LayerSegmented, "Le chien.||")
	if _, err := p.Annotate(context.Background(), AnnotateOptions{Phase: annotate.PhaseGloss}); err == nil {
		t.Error("expected error without an engine")
	}
}

func TestGenerateTitle(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseText = `"The Sleeping Dog"`
	p := newTestProject(t, Services{Engine: testEngine(t, client)})

	if _, err := p.Generate(context.Background(), annotate.PhaseTitle, "u"); !IsMissing(err) {
		t.Errorf("Generate() without plain error = %v, want missing layer", err)
	}
	mustEdit(t, p, markup.LayerPlain, "The dog sleeps.")
	if _, err := p.Generate(context.Background(), annotate.PhaseTitle, "u"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got, _ := p.LoadLayer(markup.LayerTitle); got != "The Sleeping Dog" {
		t.Errorf("title = %q", got)
	}
	if _, err := p.Generate(context.Background(), annotate.PhaseGloss, "u"); err == nil {
		t.Error("expected error for a word phase")
	}
}

func TestTrivialMergeAndBuild(t *testing.T) {
	p := newTestProject(t, Services{})
	mustEdit(t, p, markup.LayerSegmented, "Le Chien dort.||")
	for _, layer := range []string{markup.LayerLemma, markup.LayerGloss} {
		if _, err := p.Trivial(context.Background(), layer, "u"); err != nil {
			t.Fatalf("Trivial(%s) error = %v", layer, err)
		}
	}
	if _, err := p.Trivial(context.Background(), markup.LayerMWE, "u"); err == nil {
		t.Error("expected error for a layer without a trivial annotator")
	}
	if _, err := p.MergeLemmaAndGloss(context.Background(), "u"); err != nil {
		t.Fatalf("MergeLemmaAndGloss() error = %v", err)
	}
	cur, _, _ := p.Current(markup.LayerLemmaAndGloss)
	if cur == nil || cur.Source != SourceMerged {
		t.Errorf("Current() = %+v", cur)
	}

	built, err := p.BuildText(context.Background(), false)
	if err != nil {
		t.Fatalf("BuildText() error = %v", err)
	}
	words := built.Segments()[0].Words()
	if len(words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(words))
	}
	if got := words[1].Annotations.Value(text.KeyLemma); got != "chien" {
		t.Errorf("lemma = %q, want chien", got)
	}
	if got := words[1].Annotations.Value(text.KeyGloss); got != text.NoData {
		t.Errorf("gloss = %q, want no-data marker", got)
	}

	if _, err := p.BuildText(context.Background(), true); !IsMissing(err) {
		t.Errorf("phonetic BuildText() error = %v, want missing layer", err)
	}
}

func TestStatusFollowsFileTimes(t *testing.T) {
	p := newTestProject(t, Services{})
	mustEdit(t, p, markup.LayerPlain, "Le chien dort.")
	mustEdit(t, p, markup.LayerSegmented, "Le chien dort.||")
	mustEdit(t, p, markup.LayerGloss, "Le#the# chien#dog# dort#sleeps#.||")

	base := time.Now().Add(-time.Hour)
	touch := func(layer string, at time.Time) {
		t.Helper()
		if err := os.Chtimes(p.LayerPath(layer), at, at); err != nil {
			t.Fatal(err)
		}
	}
	touch(markup.LayerPlain, base)
	touch(markup.LayerSegmented, base.Add(time.Minute))
	touch(markup.LayerGloss, base.Add(2*time.Minute))

	tr := deps.NewTracker(deps.DefaultGraph())
	ctx := context.Background()
	for _, phase := range []string{deps.Plain, deps.Segmented, deps.Gloss} {
		st, err := tr.PhaseStatus(ctx, p, phase)
		if err != nil {
			t.Fatalf("PhaseStatus(%s) error = %v", phase, err)
		}
		if !st.Present || !st.UpToDate {
			t.Errorf("%s: %+v, want present and up to date", phase, st)
		}
	}

	touch(markup.LayerPlain, base.Add(3*time.Minute))
	st, err := tr.PhaseStatus(ctx, p, deps.Gloss)
	if err != nil {
		t.Fatalf("PhaseStatus() error = %v", err)
	}
	if st.UpToDate {
		t.Error("gloss should be stale after plain was edited")
	}
	if len(st.NewerDependencies) != 1 || st.NewerDependencies[0] != deps.Plain {
		t.Errorf("NewerDependencies = %v, want [plain]", st.NewerDependencies)
	}

	stale, err := p.Stale(ctx)
	if err != nil {
		t.Fatalf("Stale() error = %v", err)
	}
	if !contains(stale, deps.Segmented) || contains(stale, deps.Plain) {
		t.Errorf("Stale() = %v", stale)
	}
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func TestRenderRecordsTimestamp(t *testing.T) {
	r, err := render.New(t.TempDir(), discard())
	if err != nil {
		t.Fatalf("render.New() error = %v", err)
	}
	p := newTestProject(t, Services{Renderer: r})
	mustEdit(t, p, markup.LayerSegmented, "Le chien dort.||")
	mustEdit(t, p, markup.LayerTitle, "Le chien")
	if _, err := p.Trivial(context.Background(), markup.LayerGloss, "u"); err != nil {
		t.Fatalf("Trivial() error = %v", err)
	}

	dir, err := p.Render(context.Background(), RenderOptions{NoAudio: true})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	page, err := os.ReadFile(filepath.Join(dir, render.PageFile(1)))
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if !strings.Contains(string(page), "<title>Le chien</title>") {
		t.Error("page does not carry the project title")
	}

	ts, ok, err := p.Timestamp(context.Background(), deps.Render)
	if err != nil || !ok {
		t.Fatalf("Timestamp(render) = %v, %v, %v", ts, ok, err)
	}
	later := ts.Add(time.Minute)
	if err := os.Chtimes(p.LayerPath(markup.LayerGloss), later, later); err != nil {
		t.Fatal(err)
	}
	st, err := deps.NewTracker(deps.DefaultGraph()).PhaseStatus(context.Background(), p, deps.Render)
	if err != nil {
		t.Fatalf("PhaseStatus() error = %v", err)
	}
	if st.UpToDate || !contains(st.NewerDependencies, deps.Gloss) {
		t.Errorf("render status = %+v, want stale on gloss", st)
	}

	zipPath := filepath.Join(t.TempDir(), "out.zip")
	if err := p.Export(context.Background(), zipPath, false, render.MediaSources{}); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if _, err := os.Stat(zipPath); err != nil {
		t.Errorf("export zip missing: %v", err)
	}
}

func TestRecords(t *testing.T) {
	p := newTestProject(t, Services{})
	f, err := p.FormatPreferences()
	if err != nil || f != render.DefaultFormatPreferences() {
		t.Fatalf("FormatPreferences() = %+v, %v", f, err)
	}
	f.FontSize = "large"
	if err := p.SetFormatPreferences(f); err != nil {
		t.Fatal(err)
	}
	if got, _ := p.FormatPreferences(); got.FontSize != "large" {
		t.Errorf("FontSize = %q", got.FontSize)
	}
	if _, ok, _ := p.Timestamp(context.Background(), deps.FormatPreferences); !ok {
		t.Error("format preferences should be dated once set")
	}

	opts, err := p.AudioSettings()
	if err != nil || opts.WordsType != "tts" {
		t.Fatalf("AudioSettings() = %+v, %v", opts, err)
	}
	if _, ok, _ := p.Timestamp(context.Background(), deps.Audio); ok {
		t.Error("audio should be absent until bound")
	}

	cost, err := p.Cost()
	if err != nil || cost.Total != 0 {
		t.Errorf("Cost() = %+v, %v", cost, err)
	}
}
