package audio

import (
	"archive/zip"
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackzampolin/clara/internal/text"
)

// HumanItem is one recording slot in human audio metadata.
type HumanItem struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
	File    string `json:"file"`
}

// HumanMetadata lists the items of t voiced by a human. With onlyMissing
// set, items already recorded for the voice are left out; otherwise File
// holds the stored path of recorded items.
func (a *Annotator) HumanMetadata(ctx context.Context, t *text.Text, opts Options, onlyMissing bool) ([]HumanItem, error) {
	if err := a.checkOptions(&opts); err != nil {
		return nil, err
	}
	words := &batch{source: opts.WordsType}
	segs := &batch{source: opts.SegmentsType}
	a.collect(t, &opts, words, segs)

	voice := Voice{EngineID: HumanEngineID, LanguageID: LanguageID(t.L2Language), VoiceID: opts.HumanVoiceID}
	var items []Item
	seen := make(map[Item]bool)
	for _, b := range []*batch{words, segs} {
		if b.source != SourceHuman {
			continue
		}
		for _, tg := range b.targets {
			if !seen[tg.item] {
				seen[tg.item] = true
				items = append(items, tg.item)
			}
		}
	}
	found, err := a.repo.GetEntryBatch(ctx, voice, items)
	if err != nil {
		return nil, err
	}
	out := make([]HumanItem, 0, len(items))
	for _, it := range items {
		file := found[it]
		if onlyMissing && file != "" {
			continue
		}
		out = append(out, HumanItem{Text: it.Text, Context: it.Context, File: file})
	}
	return out, nil
}

// ZipMetadataName is the metadata file expected in a recording zip.
const ZipMetadataName = "metadata.json"

// IngestZip stores the recordings of a zip holding audio files and a
// metadata.json list of HumanItem whose File names entries of the zip.
// WAV files are converted to MP3 first. It returns the number of
// recordings stored.
func IngestZip(ctx context.Context, repo *Repository, proc Processor, v Voice, zipPath string) (int, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("open recording zip: %w", err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File, len(zr.File))
	var meta *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files[path.Base(f.Name)] = f
		if path.Base(f.Name) == ZipMetadataName {
			meta = f
		}
	}
	if meta == nil {
		return 0, fmt.Errorf("recording zip has no %s", ZipMetadataName)
	}
	var items []HumanItem
	if err := readZipJSON(meta, &items); err != nil {
		return 0, err
	}

	tmp, err := os.MkdirTemp("", "clara-human-")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(tmp)

	stored := 0
	for i, it := range items {
		if it.File == "" {
			continue
		}
		f, ok := files[path.Base(it.File)]
		if !ok {
			return stored, fmt.Errorf("recording %q listed in metadata is missing from zip", it.File)
		}
		src := filepath.Join(tmp, fmt.Sprintf("%d%s", i, strings.ToLower(path.Ext(f.Name))))
		if err := extractZipFile(f, src); err != nil {
			return stored, err
		}
		mp3 := src
		if !strings.EqualFold(path.Ext(f.Name), ".mp3") {
			mp3 = filepath.Join(tmp, fmt.Sprintf("%d.mp3", i))
			if err := proc.ToMP3(ctx, src, mp3); err != nil {
				return stored, err
			}
		}
		if err := storeRecording(ctx, repo, v, mp3, it); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

func storeRecording(ctx context.Context, repo *Repository, v Voice, mp3 string, it HumanItem) error {
	p, err := repo.StoreMP3(v, mp3)
	if err != nil {
		return err
	}
	return repo.AddOrUpdateEntry(ctx, v, Canonical(it.Text), p, it.Context)
}

func readZipJSON(f *zip.File, out any) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", f.Name, err)
	}
	return nil
}

func extractZipFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Label is one Audacity label track line.
type Label struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"label"`
}

// ParseAudacityLabels reads an Audacity label export: one
// "start<TAB>end<TAB>label" line per label. Blank lines and the spectral
// "\" continuation lines are skipped.
func ParseAudacityLabels(r io.Reader) ([]Label, error) {
	var labels []Label
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, `\`) {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) < 2 {
			return nil, fmt.Errorf("label line %d: expected tab-separated times", n)
		}
		start, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("label line %d: %w", n, err)
		}
		end, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("label line %d: %w", n, err)
		}
		l := Label{Start: start, End: end}
		if len(fields) == 3 {
			l.Text = strings.TrimSpace(fields[2])
		}
		labels = append(labels, l)
	}
	return labels, sc.Err()
}

// LabelledSegmentedView renders t one segment per line, each preceded by
// its 1-based number as "|n|".
func LabelledSegmentedView(t *text.Text) string {
	var b strings.Builder
	n := 0
	for _, seg := range t.Segments() {
		plain := strings.TrimSpace(seg.Plain())
		if !HasAudioContent(plain) {
			continue
		}
		n++
		fmt.Fprintf(&b, "|%d| %s\n", n, plain)
	}
	return b.String()
}

var labelledRe = regexp.MustCompile(`\|(\d+)\|`)

// LabelledSegments parses a labelled segmented view back into canonical
// segment texts keyed by number.
func LabelledSegments(view string) map[int]string {
	out := make(map[int]string)
	locs := labelledRe.FindAllStringSubmatchIndex(view, -1)
	for i, loc := range locs {
		n, _ := strconv.Atoi(view[loc[2]:loc[3]])
		end := len(view)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out[n] = Canonical(view[loc[1]:end])
	}
	return out
}

// Breakpoint is a time range of a long recording and the text it holds.
type Breakpoint struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// BreakpointsFromLabels pairs consecutive label times with the segments of
// a labelled view. A label whose text is a segment number selects that
// segment; otherwise labels are taken in segment order. A point label
// ends where the next one starts; the last runs to the end of the file
// (End 0).
func BreakpointsFromLabels(labels []Label, view string) ([]Breakpoint, error) {
	segs := LabelledSegments(view)
	out := make([]Breakpoint, 0, len(labels))
	for i, l := range labels {
		n := i + 1
		if v, err := strconv.Atoi(strings.Trim(l.Text, "| ")); err == nil {
			n = v
		}
		txt, ok := segs[n]
		if !ok {
			return nil, fmt.Errorf("label %d refers to unknown segment %d", i+1, n)
		}
		end := l.End
		if end <= l.Start {
			end = 0
			if i+1 < len(labels) {
				end = labels[i+1].Start
			}
		}
		out = append(out, Breakpoint{Start: l.Start, End: end, Text: txt})
	}
	return out, nil
}

// IngestMP3WithBreakpoints slices a long recording at the breakpoints and
// stores each piece under its text. It returns the number stored.
func IngestMP3WithBreakpoints(ctx context.Context, repo *Repository, proc Processor, v Voice, mp3 string, bps []Breakpoint) (int, error) {
	tmp, err := os.MkdirTemp("", "clara-slice-")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(tmp)

	stored := 0
	for i, bp := range bps {
		if !HasAudioContent(bp.Text) {
			continue
		}
		out := filepath.Join(tmp, fmt.Sprintf("%d.mp3", i))
		if err := proc.Slice(ctx, mp3, bp.Start, bp.End, out); err != nil {
			return stored, err
		}
		if err := storeRecording(ctx, repo, v, out, HumanItem{Text: bp.Text}); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}
