package render

import (
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jackzampolin/clara/internal/text"
)

type siteData struct {
	ProjectID          string
	Title              string
	L2                 string
	L1                 string
	IsRTL              bool
	Phonetic           bool
	TotalPages         int
	NormalHTMLExists   bool
	PhoneticHTMLExists bool
}

type pageData struct {
	*siteData
	Page       *pageView
	PageNumber int
}

type concordanceData struct {
	*siteData
	Key           string
	Frequency     int
	InflectionURL string
	Segments      []*segmentView
}

type vocabEntry struct {
	Key       string
	Frequency int
}

type vocabData struct {
	*siteData
	Order   string
	Entries []vocabEntry
}

type pageView struct {
	Audio    string
	Segments []*segmentView
}

type segmentView struct {
	UID         string
	Page        int
	Translation string
	Audio       string
	Elements    []elementView
}

type elementView struct {
	Kind           string
	Text           string
	Gloss          string
	Lemma          string
	POS            string
	ConcordanceKey string
	Audio          string
	MWE            string
	Src            string
	Alt            string
	Raw            template.HTML
}

// media resolves audio and image references to URLs, copying the files
// into the multimedia directory of a self-contained rendering.
type media struct {
	selfContained bool
	prefix        string
	project       string
	dir           string
	copied        map[string]string // source path -> file name
	names         map[string]bool
	logger        *slog.Logger
}

func (m *media) audioURL(ref *text.AudioRef) (string, error) {
	if silentAudio(ref) {
		return "", nil
	}
	if m.selfContained {
		return m.local(ref.FilePath)
	}
	return fmt.Sprintf("%s/serve_audio_file/%s/%s/%s/%s", m.prefix,
		ref.EngineID, ref.LanguageID, ref.VoiceID, filepath.Base(ref.FilePath)), nil
}

func (m *media) imageURL(src string) (string, error) {
	if src == "" {
		return "", nil
	}
	if m.selfContained {
		return m.local(src)
	}
	return fmt.Sprintf("%s/serve_project_image/%s/%s", m.prefix, m.project, path.Base(filepath.ToSlash(src))), nil
}

// local copies src into the multimedia directory once and returns its
// relative URL. A missing source keeps its URL and is logged.
func (m *media) local(src string) (string, error) {
	if name, ok := m.copied[src]; ok {
		return "./" + DirMultimedia + "/" + name, nil
	}
	if m.names == nil {
		m.names = make(map[string]bool)
	}
	base := filepath.Base(src)
	name := base
	for i := 2; m.names[name]; i++ {
		name = fmt.Sprintf("%d_%s", i, base)
	}
	if err := copyFile(src, filepath.Join(m.dir, name)); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		m.logger.Warn("referenced media file is missing", "path", src)
	}
	m.names[name] = true
	m.copied[src] = name
	return "./" + DirMultimedia + "/" + name, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (m *media) page(p *text.Page, phonetic bool) (*pageView, error) {
	pv := &pageView{}
	var err error
	if pv.Audio, err = m.audioURL(p.Annotations.TTS); err != nil {
		return nil, err
	}
	for _, s := range p.Segments {
		sv, err := m.segment(s, phonetic)
		if err != nil {
			return nil, err
		}
		pv.Segments = append(pv.Segments, sv)
	}
	return pv, nil
}

func (m *media) segment(s *text.Segment, phonetic bool) (*segmentView, error) {
	sv := &segmentView{UID: s.Annotations.SegmentUID, Page: s.Annotations.PageNumber}
	if s.Annotations.Translated != nil {
		sv.Translation = *s.Annotations.Translated
	}
	var err error
	if sv.Audio, err = m.audioURL(s.Annotations.TTS); err != nil {
		return nil, err
	}
	for _, e := range s.Elements {
		ev, err := m.element(e, phonetic)
		if err != nil {
			return nil, err
		}
		sv.Elements = append(sv.Elements, ev)
	}
	return sv, nil
}

func present(v string) string {
	if v == text.NoData {
		return ""
	}
	return v
}

func (m *media) element(e *text.Element, phonetic bool) (elementView, error) {
	ev := elementView{Kind: strings.ToLower(string(e.Type)), Text: e.Content}
	var err error
	switch e.Type {
	case text.Word:
		a := &e.Annotations
		ev.Lemma = present(a.Value(text.KeyLemma))
		ev.POS = present(a.Value(text.KeyPOS))
		ev.MWE = a.Value(text.KeyMWEID)
		if phonetic {
			ev.Gloss = present(a.Value(text.KeyPhonetic))
			ev.ConcordanceKey = ev.Gloss
		} else {
			ev.Gloss = present(a.Value(text.KeyGloss))
			ev.ConcordanceKey = ev.Lemma
		}
		if ev.Audio, err = m.audioURL(a.TTS); err != nil {
			return ev, err
		}
	case text.Image:
		src, _ := e.Attr("src")
		ev.Alt, _ = e.Attr("id")
		if ev.Src, err = m.imageURL(src); err != nil {
			return ev, err
		}
	case text.Markup, text.Embedded:
		ev.Raw = template.HTML(e.Content)
	}
	return ev, nil
}
