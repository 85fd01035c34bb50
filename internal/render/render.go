// Package render writes an annotated text as a static HTML site: one file
// per page, one per concordance entry and two vocabulary lists.
package render

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	texttemplate "text/template"

	"github.com/go-playground/validator/v10"
	"github.com/zeebo/blake3"

	"github.com/jackzampolin/clara/internal/audio"
	"github.com/jackzampolin/clara/internal/concordance"
	"github.com/jackzampolin/clara/internal/text"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Output directory names.
const (
	DirNormal     = "normal"
	DirPhonetic   = "phonetic"
	DirStatic     = "static"
	DirMultimedia = "multimedia"

	VocabAlphabetical = "vocab_list_alphabetical.html"
	VocabFrequency    = "vocab_list_frequency.html"

	stylesTemplate = "clara_styles.css.tmpl"
	stylesMain     = "clara_styles_main.css"
	stylesConc     = "clara_styles_concordance.css"
)

// FormatPreferences sets the fonts and alignment of rendered pages.
type FormatPreferences struct {
	FontType             string `json:"font_type" validate:"omitempty,max=100,fontfamily"`
	FontSize             string `json:"font_size" validate:"omitempty,oneof=small medium large huge"`
	TextAlign            string `json:"text_align" validate:"omitempty,oneof=left center right justify"`
	ConcordanceFontType  string `json:"concordance_font_type" validate:"omitempty,max=100,fontfamily"`
	ConcordanceFontSize  string `json:"concordance_font_size" validate:"omitempty,oneof=small medium large huge"`
	ConcordanceTextAlign string `json:"concordance_text_align" validate:"omitempty,oneof=left center right justify"`
}

// DefaultFormatPreferences returns the preferences used when none are
// given.
func DefaultFormatPreferences() FormatPreferences {
	return FormatPreferences{
		FontType:             "sans-serif",
		FontSize:             "medium",
		TextAlign:            "left",
		ConcordanceFontType:  "sans-serif",
		ConcordanceFontSize:  "medium",
		ConcordanceTextAlign: "left",
	}
}

func (f FormatPreferences) withDefaults() FormatPreferences {
	d := DefaultFormatPreferences()
	if f.FontType == "" {
		f.FontType = d.FontType
	}
	if f.FontSize == "" {
		f.FontSize = d.FontSize
	}
	if f.TextAlign == "" {
		f.TextAlign = d.TextAlign
	}
	if f.ConcordanceFontType == "" {
		f.ConcordanceFontType = f.FontType
	}
	if f.ConcordanceFontSize == "" {
		f.ConcordanceFontSize = f.FontSize
	}
	if f.ConcordanceTextAlign == "" {
		f.ConcordanceTextAlign = f.TextAlign
	}
	return f
}

// Options controls one rendering.
type Options struct {
	ProjectID string `validate:"required"`
	Title     string
	Phonetic  bool
	// SelfContained copies referenced audio and images into multimedia/.
	SelfContained bool
	Format        FormatPreferences
	// URLPrefix prefixes the served audio and image URLs of a
	// non-self-contained rendering.
	URLPrefix string
}

// Renderer writes rendered projects under a root directory.
type Renderer struct {
	root     string
	tmpl     *template.Template
	css      *texttemplate.Template
	validate *validator.Validate
	logger   *slog.Logger
}

// New creates a renderer writing under root.
func New(root string, logger *slog.Logger) (*Renderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tmpl, err := template.New("").Funcs(templateFuncs()).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	css, err := texttemplate.ParseFS(staticFS, "static/"+stylesTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse styles: %w", err)
	}
	v := validator.New()
	if err := v.RegisterValidation("fontfamily", func(fl validator.FieldLevel) bool {
		return fontFamilyRe.MatchString(fl.Field().String())
	}); err != nil {
		return nil, err
	}
	return &Renderer{root: root, tmpl: tmpl, css: css, validate: v, logger: logger}, nil
}

// fontFamilyRe admits CSS font family lists without characters that could
// end the declaration.
var fontFamilyRe = regexp.MustCompile(`^[\p{L}\p{N} ,'"_-]+$`)

var templateFuncs = func() template.FuncMap {
	return template.FuncMap{
		"add":         func(a, b int) int { return a + b },
		"subtract":    func(a, b int) int { return a - b },
		"pageFile":    PageFile,
		"concordance": func(key string) string { return url.PathEscape(ConcordanceFile(key)) },
	}
}

// OutputDir returns the directory a project is rendered into.
func (r *Renderer) OutputDir(projectID string, phonetic bool) string {
	return filepath.Join(r.root, projectID, variant(phonetic))
}

func variant(phonetic bool) string {
	if phonetic {
		return DirPhonetic
	}
	return DirNormal
}

// PageFile returns the file name of page n (1-based).
func PageFile(n int) string {
	return fmt.Sprintf("page_%d.html", n)
}

// ConcordanceFile returns the file name of the concordance page of key.
// The name carries a hash of the raw key, so keys that sanitise alike or
// differ only in case get distinct files.
func ConcordanceFile(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, key)
	sum := blake3.Sum256([]byte(key))
	return fmt.Sprintf("concordance_%s_%x.html", safe, sum[:4])
}

var rtlLanguages = map[string]bool{
	"arabic": true, "hebrew": true, "farsi": true, "persian": true, "urdu": true, "yiddish": true,
}

// IsRTL reports whether a language is written right to left.
func IsRTL(language string) bool {
	return rtlLanguages[strings.ToLower(language)]
}

var inflectionURLs = map[string]string{
	"english":   "https://en.wiktionary.org/wiki/%s#English",
	"french":    "https://en.wiktionary.org/wiki/%s#French",
	"german":    "https://en.wiktionary.org/wiki/%s#German",
	"italian":   "https://en.wiktionary.org/wiki/%s#Italian",
	"spanish":   "https://en.wiktionary.org/wiki/%s#Spanish",
	"swedish":   "https://en.wiktionary.org/wiki/%s#Swedish",
	"danish":    "https://en.wiktionary.org/wiki/%s#Danish",
	"icelandic": "https://en.wiktionary.org/wiki/%s#Icelandic",
}

// InflectionURL returns the inflection table URL of a lemma, or "" when
// the language has none.
func InflectionURL(language, lemma string) string {
	pattern, ok := inflectionURLs[strings.ToLower(language)]
	if !ok || lemma == "" {
		return ""
	}
	return fmt.Sprintf(pattern, url.PathEscape(lemma))
}

// Render writes t and returns the output directory. The concordance of t
// must already be built.
func (r *Renderer) Render(ctx context.Context, t *text.Text, opts Options) (string, error) {
	if err := r.validate.Struct(&opts); err != nil {
		return "", fmt.Errorf("invalid render options: %w", err)
	}
	opts.Format = opts.Format.withDefaults()
	if err := r.validate.Struct(&opts.Format); err != nil {
		return "", fmt.Errorf("invalid format preferences: %w", err)
	}

	dir := r.OutputDir(opts.ProjectID, opts.Phonetic)
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(dir, DirStatic), 0o755); err != nil {
		return "", err
	}
	if err := r.writeStatic(dir, opts.Format); err != nil {
		return "", err
	}

	m := &media{selfContained: opts.SelfContained, prefix: opts.URLPrefix, project: opts.ProjectID,
		dir: filepath.Join(dir, DirMultimedia), copied: make(map[string]string), logger: r.logger}
	if opts.SelfContained {
		if err := os.MkdirAll(m.dir, 0o755); err != nil {
			return "", err
		}
	}

	site := &siteData{
		ProjectID:          opts.ProjectID,
		Title:              opts.Title,
		L2:                 t.L2Language,
		L1:                 t.L1Language,
		IsRTL:              IsRTL(t.L2Language),
		Phonetic:           opts.Phonetic,
		TotalPages:         len(t.Pages),
		NormalHTMLExists:   !opts.Phonetic || exists(r.OutputDir(opts.ProjectID, false)),
		PhoneticHTMLExists: opts.Phonetic || exists(r.OutputDir(opts.ProjectID, true)),
	}

	pageOf := make(map[*text.Segment]int)
	for i, p := range t.Pages {
		for _, s := range p.Segments {
			pageOf[s] = i + 1
		}
	}

	for i, p := range t.Pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		pv, err := m.page(p, opts.Phonetic)
		if err != nil {
			return "", err
		}
		data := pageData{siteData: site, Page: pv, PageNumber: i + 1}
		if err := r.execute(filepath.Join(dir, PageFile(i+1)), "page.html", data); err != nil {
			return "", err
		}
	}

	keys := concordance.Keys(t)
	for _, key := range keys {
		entry := t.Concordance[key]
		data := concordanceData{
			siteData:  site,
			Key:       key,
			Frequency: entry.Frequency,
		}
		if !opts.Phonetic {
			data.InflectionURL = InflectionURL(t.L2Language, key)
		}
		for _, seg := range entry.Segments {
			sv, err := m.segment(seg, opts.Phonetic)
			if err != nil {
				return "", err
			}
			sv.Page = seg.Annotations.PageNumber
			if sv.Page == 0 {
				sv.Page = pageOf[seg]
			}
			data.Segments = append(data.Segments, sv)
		}
		if err := r.execute(filepath.Join(dir, ConcordanceFile(key)), "concordance.html", data); err != nil {
			return "", err
		}
	}

	for _, list := range []struct {
		file  string
		title string
		keys  []string
	}{
		{VocabAlphabetical, "Alphabetical", keys},
		{VocabFrequency, "Frequency", concordance.ByFrequency(t)},
	} {
		data := vocabData{siteData: site, Order: list.title}
		for _, k := range list.keys {
			data.Entries = append(data.Entries, vocabEntry{Key: k, Frequency: t.Concordance[k].Frequency})
		}
		if err := r.execute(filepath.Join(dir, list.file), "vocab.html", data); err != nil {
			return "", err
		}
	}

	r.logger.Info("rendered project", "project", opts.ProjectID, "variant", variant(opts.Phonetic),
		"pages", len(t.Pages), "concordance", len(keys), "media", len(m.copied))
	return dir, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func (r *Renderer) execute(out, name string, data any) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := r.tmpl.ExecuteTemplate(f, name, data); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", filepath.Base(out), err)
	}
	return f.Close()
}

// writeStatic copies the static assets and instantiates the stylesheet
// for main and concordance pages.
func (r *Renderer) writeStatic(dir string, f FormatPreferences) error {
	err := fs.WalkDir(staticFS, "static", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || path.Base(p) == stylesTemplate {
			return err
		}
		data, err := staticFS.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, DirStatic, path.Base(p)), data, 0o644)
	})
	if err != nil {
		return err
	}
	for _, css := range []struct {
		file              string
		font, size, align string
	}{
		{stylesMain, f.FontType, f.FontSize, f.TextAlign},
		{stylesConc, f.ConcordanceFontType, f.ConcordanceFontSize, f.ConcordanceTextAlign},
	} {
		out, err := os.Create(filepath.Join(dir, DirStatic, css.file))
		if err != nil {
			return err
		}
		err = r.css.Execute(out, map[string]string{
			"FontFamily": css.font,
			"FontSize":   fontSizes[css.size],
			"TextAlign":  css.align,
		})
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("instantiate %s: %w", css.file, err)
		}
	}
	return nil
}

var fontSizes = map[string]string{
	"small":  "0.9em",
	"medium": "1.2em",
	"large":  "1.6em",
	"huge":   "2.2em",
}

// silentAudio reports a reference that has no playable file.
func silentAudio(ref *text.AudioRef) bool {
	return ref == nil || ref.FilePath == "" || ref.FilePath == audio.Placeholder
}
