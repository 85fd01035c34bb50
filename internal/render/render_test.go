package render

import (
	"archive/zip"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/clara/internal/concordance"
	"github.com/jackzampolin/clara/internal/text"
)

// pagedText returns a text with one word per page, each with its own audio.
func pagedText(l2 string, words []string, refs []*text.AudioRef) *text.Text {
	t := text.New(l2, "english")
	for i, w := range words {
		e := text.NewWord(w)
		e.Annotations.Set(text.KeyLemma, strings.ToLower(w))
		e.Annotations.Set(text.KeyGloss, "gloss-"+w)
		e.Annotations.TTS = refs[i]
		seg := &text.Segment{Elements: []*text.Element{e, text.NewNonWord(".")}}
		t.Pages = append(t.Pages, &text.Page{Segments: []*text.Segment{seg}})
	}
	concordance.Annotate(t, concordance.Options{})
	return t
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(data)
}

func TestRenderSelfContained(t *testing.T) {
	mediaDir := t.TempDir()
	var refs []*text.AudioRef
	for _, name := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		p := filepath.Join(mediaDir, name)
		if err := os.WriteFile(p, []byte("ID3"+name), 0o644); err != nil {
			t.Fatal(err)
		}
		refs = append(refs, &text.AudioRef{EngineID: "openai", LanguageID: "french", VoiceID: "alloy", FilePath: p})
	}
	tx := pagedText("french", []string{"Un", "Deux", "Trois"}, refs)

	r, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	dir, err := r.Render(context.Background(), tx, Options{ProjectID: "p1", SelfContained: true})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	for i, name := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		page := readFile(t, filepath.Join(dir, PageFile(i+1)))
		if !strings.Contains(page, `data-audio="./multimedia/`+name+`"`) {
			t.Errorf("page %d does not reference ./multimedia/%s", i+1, name)
		}
		if got := readFile(t, filepath.Join(dir, DirMultimedia, name)); got != "ID3"+name {
			t.Errorf("multimedia/%s = %q", name, got)
		}
	}
}

func TestRenderWritesEveryFile(t *testing.T) {
	refs := make([]*text.AudioRef, 3)
	tx := pagedText("french", []string{"chat", "chien", "chat"}, refs)

	r, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	dir, err := r.Render(context.Background(), tx, Options{ProjectID: "p1", Title: "Animaux"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var pages, conc, vocab int
	for _, e := range entries {
		switch {
		case strings.HasPrefix(e.Name(), "page_"):
			pages++
		case strings.HasPrefix(e.Name(), "concordance_"):
			conc++
		case strings.HasPrefix(e.Name(), "vocab_list_"):
			vocab++
		}
	}
	if pages != 3 || conc != 2 || vocab != 2 {
		t.Errorf("pages=%d concordance=%d vocab=%d, want 3/2/2", pages, conc, vocab)
	}
	if _, err := os.Stat(filepath.Join(dir, DirMultimedia)); !os.IsNotExist(err) {
		t.Error("multimedia directory written for a served rendering")
	}

	for _, f := range []string{stylesMain, stylesConc, "clara_page.js"} {
		if _, err := os.Stat(filepath.Join(dir, DirStatic, f)); err != nil {
			t.Errorf("missing static file %s: %v", f, err)
		}
	}
	css := readFile(t, filepath.Join(dir, DirStatic, stylesMain))
	if !strings.Contains(css, "font-size: 1.2em") || !strings.Contains(css, "text-align: left") {
		t.Errorf("stylesheet not instantiated with defaults:\n%s", css)
	}

	page1 := readFile(t, filepath.Join(dir, PageFile(1)))
	for _, want := range []string{"<title>Animaux</title>", `href="page_2.html"`, `data-gloss="gloss-chat"`, `data-concordance="` + ConcordanceFile("chat") + `"`} {
		if !strings.Contains(page1, want) {
			t.Errorf("page_1.html missing %q", want)
		}
	}
	if strings.Contains(page1, "page_0.html") {
		t.Error("first page links to a previous page")
	}

	conc1 := readFile(t, filepath.Join(dir, ConcordanceFile("chat")))
	if strings.Count(conc1, "back-link") != 2 {
		t.Errorf("concordance of chat should list 2 segments:\n%s", conc1)
	}
	if !strings.Contains(conc1, "https://en.wiktionary.org/wiki/chat#French") {
		t.Error("concordance page missing inflection link")
	}

	freq := readFile(t, filepath.Join(dir, VocabFrequency))
	if strings.Index(freq, ConcordanceFile("chat")) > strings.Index(freq, ConcordanceFile("chien")) {
		t.Error("frequency list not ordered by frequency")
	}
}

func TestRenderServedURLs(t *testing.T) {
	refs := []*text.AudioRef{{EngineID: "openai", LanguageID: "french", VoiceID: "alloy", FilePath: "/var/audio/x1.mp3"}}
	tx := pagedText("french", []string{"chat"}, refs)
	img := &text.Element{Type: text.Image, Attrs: []text.Attr{{Key: "src", Value: "/var/images/p1/cat.png"}, {Key: "id", Value: "cat"}}}
	tx.Pages[0].Segments[0].Elements = append(tx.Pages[0].Segments[0].Elements, img)

	r, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	dir, err := r.Render(context.Background(), tx, Options{ProjectID: "p1", URLPrefix: "/accounts"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	page := readFile(t, filepath.Join(dir, PageFile(1)))
	if !strings.Contains(page, `data-audio="/accounts/serve_audio_file/openai/french/alloy/x1.mp3"`) {
		t.Errorf("served audio URL missing:\n%s", page)
	}
	if !strings.Contains(page, `src="/accounts/serve_project_image/p1/cat.png"`) {
		t.Errorf("served image URL missing:\n%s", page)
	}
}

func TestRenderPlaceholderAudioIsSilent(t *testing.T) {
	refs := []*text.AudioRef{{EngineID: "openai", LanguageID: "french", VoiceID: "alloy", FilePath: "placeholder.mp3"}}
	tx := pagedText("french", []string{"chat"}, refs)

	r, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	dir, err := r.Render(context.Background(), tx, Options{ProjectID: "p1", SelfContained: true})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if strings.Contains(readFile(t, filepath.Join(dir, PageFile(1))), "placeholder.mp3") {
		t.Error("placeholder audio should not be referenced")
	}
}

func TestRenderRTLAndPhonetic(t *testing.T) {
	w := text.NewWord("كتاب")
	w.Annotations.Set(text.KeyPhonetic, "kitaab")
	tx := text.New("arabic", "english")
	tx.Pages = []*text.Page{{Segments: []*text.Segment{{Elements: []*text.Element{w}}}}}
	concordance.Annotate(tx, concordance.Options{Phonetic: true})

	r, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	dir, err := r.Render(context.Background(), tx, Options{ProjectID: "p2", Phonetic: true})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if filepath.Base(dir) != DirPhonetic {
		t.Errorf("dir = %s, want phonetic variant", dir)
	}
	page := readFile(t, filepath.Join(dir, PageFile(1)))
	if !strings.Contains(page, `dir="rtl"`) {
		t.Error("arabic page not marked rtl")
	}
	if !strings.Contains(page, `data-gloss="kitaab"`) {
		t.Error("phonetic rendering should gloss with the phonetic value")
	}
	if _, err := os.Stat(filepath.Join(dir, ConcordanceFile("kitaab"))); err != nil {
		t.Errorf("phonetic concordance page missing: %v", err)
	}
}

func TestRenderInvalidOptions(t *testing.T) {
	r, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	tx := text.New("french", "english")
	if _, err := r.Render(context.Background(), tx, Options{}); err == nil {
		t.Error("expected error for missing project id")
	}
	opts := Options{ProjectID: "p1", Format: FormatPreferences{FontSize: "gigantic"}}
	if _, err := r.Render(context.Background(), tx, opts); err == nil {
		t.Error("expected error for unknown font size")
	}
}

func TestInflectionURL(t *testing.T) {
	if got := InflectionURL("French", "chien"); got != "https://en.wiktionary.org/wiki/chien#French" {
		t.Errorf("InflectionURL() = %q", got)
	}
	if got := InflectionURL("klingon", "qapla"); got != "" {
		t.Errorf("InflectionURL() = %q, want empty", got)
	}
}

func TestConcordanceFile(t *testing.T) {
	got := ConcordanceFile("a/b?")
	if !strings.HasPrefix(got, "concordance_a_b__") || !strings.HasSuffix(got, ".html") {
		t.Errorf("ConcordanceFile() = %q", got)
	}
	if got != ConcordanceFile("a/b?") {
		t.Error("ConcordanceFile() is not stable")
	}
	for _, pair := range [][2]string{{"and/or", "and_or"}, {"a:b", "a*b"}, {"Chat", "chat"}} {
		if ConcordanceFile(pair[0]) == ConcordanceFile(pair[1]) {
			t.Errorf("%q and %q share a concordance file", pair[0], pair[1])
		}
	}
}

func TestRenderDistinctConcordancePages(t *testing.T) {
	tx := text.New("english", "french")
	seg := &text.Segment{}
	for i, lemma := range []string{"and/or", "and_or"} {
		if i > 0 {
			seg.Elements = append(seg.Elements, text.NewNonWord(" "))
		}
		e := text.NewWord("andor")
		e.Annotations.Set(text.KeyLemma, lemma)
		seg.Elements = append(seg.Elements, e)
	}
	tx.Pages = append(tx.Pages, &text.Page{Segments: []*text.Segment{seg}})
	concordance.Annotate(tx, concordance.Options{})

	r, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	dir, err := r.Render(context.Background(), tx, Options{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "concordance_*.html"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Errorf("wrote %d concordance pages, want 2: %v", len(matches), matches)
	}
	page := readFile(t, filepath.Join(dir, PageFile(1)))
	for _, lemma := range []string{"and/or", "and_or"} {
		if !strings.Contains(page, url.PathEscape(ConcordanceFile(lemma))) {
			t.Errorf("page does not link the concordance of %q", lemma)
		}
	}
}

func TestRenderRejectsUnsafeFontFamily(t *testing.T) {
	r, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	tx := pagedText("french", []string{"chat"}, make([]*text.AudioRef, 1))
	bad := Options{ProjectID: "p1", Format: FormatPreferences{FontType: "serif; } body { display: none"}}
	if _, err := r.Render(context.Background(), tx, bad); err == nil {
		t.Error("expected error for a font family that ends the declaration")
	}
	good := Options{ProjectID: "p1", Format: FormatPreferences{FontType: `"Noto Sans", sans-serif`}}
	dir, err := r.Render(context.Background(), tx, good)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if css := readFile(t, filepath.Join(dir, DirStatic, stylesMain)); !strings.Contains(css, `font-family: "Noto Sans", sans-serif;`) {
		t.Errorf("stylesheet missing font family:\n%s", css)
	}
}

func TestBuildContentZip(t *testing.T) {
	audioDir := t.TempDir()
	voiceDir := filepath.Join(audioDir, "openai", "french", "alloy")
	if err := os.MkdirAll(voiceDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(voiceDir, "x1.mp3"), []byte("ID3x1"), 0o644); err != nil {
		t.Fatal(err)
	}
	refs := []*text.AudioRef{{EngineID: "openai", LanguageID: "french", VoiceID: "alloy", FilePath: filepath.Join(voiceDir, "x1.mp3")}}
	tx := pagedText("french", []string{"chat"}, refs)

	r, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	dir, err := r.Render(context.Background(), tx, Options{ProjectID: "p1", URLPrefix: "/accounts"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	zipPath := filepath.Join(t.TempDir(), "content.zip")
	if err := r.BuildContentZip(context.Background(), dir, zipPath, MediaSources{AudioDir: audioDir}); err != nil {
		t.Fatalf("BuildContentZip() error = %v", err)
	}

	page := readFile(t, filepath.Join(dir, PageFile(1)))
	if !strings.Contains(page, `data-audio="multimedia/x1.mp3"`) || strings.Contains(page, "serve_audio_file") {
		t.Errorf("served URL not rewritten:\n%s", page)
	}

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()
	files := make(map[string]*zip.File)
	for _, f := range zr.File {
		files[f.Name] = f
	}
	for _, want := range []string{"page_1.html", "multimedia/x1.mp3", "static/clara_styles_main.css", VocabAlphabetical} {
		if files[want] == nil {
			t.Errorf("zip missing %s", want)
		}
	}
	if f := files["multimedia/x1.mp3"]; f != nil {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if string(data) != "ID3x1" {
			t.Errorf("zipped audio = %q", data)
		}
	}
}
