package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/clara/internal/clerr"
	"github.com/jackzampolin/clara/internal/markup"
	"github.com/jackzampolin/clara/internal/prompts"
	"github.com/jackzampolin/clara/internal/providers"
	"github.com/jackzampolin/clara/internal/text"
)

func newTestEngine(t *testing.T, client providers.LLMClient, cfg Config) *Engine {
	t.Helper()
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	e, err := NewEngine(EngineConfig{
		Client:  client,
		Prompts: prompts.NewResolver(nil, nil),
		Config:  cfg,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func segmented(t *testing.T, s string) *text.Text {
	t.Helper()
	txt, err := markup.Internalise(s, markup.LayerSegmented, "french", "english")
	if err != nil {
		t.Fatalf("Internalise(%q) error = %v", s, err)
	}
	return txt
}

// promptInput returns the input block of a rendered prompt: the last
// paragraph before the closing instruction, or the last paragraph.
func promptInput(prompt string) string {
	if i := strings.LastIndex(prompt, "\n\nReturn only"); i >= 0 {
		prompt = prompt[:i]
	}
	prompt = strings.TrimSpace(prompt)
	if i := strings.LastIndex(prompt, "\n\n"); i >= 0 {
		prompt = prompt[i+2:]
	}
	return strings.TrimSpace(prompt)
}

func promptWords(t *testing.T, prompt string) []string {
	t.Helper()
	var words []string
	if err := json.Unmarshal([]byte(promptInput(prompt)), &words); err != nil {
		t.Errorf("prompt input is not a word list: %v\n%s", err, prompt)
	}
	return words
}

// glossHandler glosses each word as its upper-cased form.
func glossHandler(t *testing.T) func(req *providers.ChatRequest) (string, error) {
	return func(req *providers.ChatRequest) (string, error) {
		var pairs [][]string
		for _, w := range promptWords(t, req.Prompt()) {
			pairs = append(pairs, []string{w, strings.ToUpper(w)})
		}
		return mustJSON(pairs), nil
	}
}

func glosses(txt *text.Text) []string {
	var out []string
	for _, seg := range txt.Segments() {
		for _, w := range seg.Words() {
			out = append(out, w.Annotations.Value(text.KeyGloss))
		}
	}
	return out
}

func TestAnnotateGloss(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseText = `[["Le", "the"], ["chien", "dog"], ["dort", "sleeps"]]`
	e := newTestEngine(t, client, Config{})

	input := segmented(t, "Le chien dort.||")
	res, err := e.Annotate(context.Background(), &Request{Phase: PhaseGloss, Input: input, ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if got, want := glosses(res.Text), []string{"the", "dog", "sleeps"}; !reflect.DeepEqual(got, want) {
		t.Errorf("glosses = %v, want %v", got, want)
	}
	if got := glosses(input); !reflect.DeepEqual(got, []string{"", "", ""}) {
		t.Errorf("input was modified: %v", got)
	}
	if len(res.Calls) != 1 || res.Calls[0].ProjectID != "p1" || res.Calls[0].Phase != PhaseGloss {
		t.Fatalf("unexpected calls %+v", res.Calls)
	}
	if res.Cost() <= 0 {
		t.Error("expected a recorded cost")
	}
	if res.Annotated != 3 {
		t.Errorf("Annotated = %d, want 3", res.Annotated)
	}
	if !strings.Contains(client.Prompts()[0], "Elided forms") {
		t.Error("expected the French gloss template")
	}
}

func TestAnnotateGlossAlignment(t *testing.T) {
	client := providers.NewMockClient()
	// The model skipped "Le" and invented a word.
	client.ResponseText = `[["chien", "dog"], ["extra", "x"], ["dort", "sleeps"]]`
	e := newTestEngine(t, client, Config{})

	res, err := e.Annotate(context.Background(), &Request{Phase: PhaseGloss, Input: segmented(t, "Le chien dort.||")})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if got, want := glosses(res.Text), []string{text.NoData, "dog", "sleeps"}; !reflect.DeepEqual(got, want) {
		t.Errorf("glosses = %v, want %v", got, want)
	}
}

func TestAnnotateRetriesMalformedResponse(t *testing.T) {
	client := providers.NewMockClient()
	client.Responses = []string{
		"I'm sorry, here you go",
		"```json\n[['Le', 'the'], ['chien', 'dog'], ['dort', 'sleeps']]\n```",
	}
	e := newTestEngine(t, client, Config{})

	res, err := e.Annotate(context.Background(), &Request{Phase: PhaseGloss, Input: segmented(t, "Le chien dort.||")})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if len(res.Calls) != 2 {
		t.Errorf("expected 2 recorded calls, got %d", len(res.Calls))
	}
	if got := glosses(res.Text); got[1] != "dog" {
		t.Errorf("glosses = %v", got)
	}
}

func TestAnnotateFailsAfterRetries(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseText = "not a list"
	e := newTestEngine(t, client, Config{MaxRetries: 3})

	res, err := e.Annotate(context.Background(), &Request{Phase: PhaseGloss, Input: segmented(t, "Le chien dort.||")})
	var le *clerr.LLMError
	if !errors.As(err, &le) {
		t.Fatalf("expected LLMError, got %T: %v", err, err)
	}
	if le.Attempts != 3 || le.Phase != PhaseGloss {
		t.Errorf("unexpected error %+v", le)
	}
	if clerr.KindOf(err) == "" {
		t.Error("expected a classified error")
	}
	if res == nil || len(res.Calls) != 3 || res.Cost() <= 0 {
		t.Fatalf("expected 3 costed calls on failure, got %+v", res)
	}
	if res.Text != nil {
		t.Error("no text expected on failure")
	}
}

func TestAnnotateTransportFailure(t *testing.T) {
	client := providers.NewMockClient()
	client.ShouldFail = true
	e := newTestEngine(t, client, Config{MaxRetries: 2})

	_, err := e.Annotate(context.Background(), &Request{Phase: PhaseGloss, Input: segmented(t, "Le chien.||")})
	var le *clerr.LLMError
	if !errors.As(err, &le) {
		t.Fatalf("expected LLMError, got %v", err)
	}
	if client.RequestCount() != 2 {
		t.Errorf("RequestCount = %d, want 2", client.RequestCount())
	}
}

func TestAnnotateChunks(t *testing.T) {
	client := providers.NewMockClient()
	client.Handler = glossHandler(t)
	e := newTestEngine(t, client, Config{MaxElementsPerChunk: 2})

	res, err := e.Annotate(context.Background(), &Request{Phase: PhaseGloss, Input: segmented(t, "Le chien.||Il dort.||Elle mange bien.||")})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if client.RequestCount() != 4 {
		t.Errorf("RequestCount = %d, want 4", client.RequestCount())
	}
	want := []string{"LE", "CHIEN", "IL", "DORT", "ELLE", "MANGE", "BIEN"}
	if got := glosses(res.Text); !reflect.DeepEqual(got, want) {
		t.Errorf("glosses = %v, want %v", got, want)
	}
}

func TestAnnotateReusesUnchangedSegments(t *testing.T) {
	client := providers.NewMockClient()
	client.Handler = glossHandler(t)
	e := newTestEngine(t, client, Config{})

	prev := segmented(t, "Le chien dort.||")
	for i, w := range prev.Segments()[0].Words() {
		w.Annotations.Set(text.KeyGloss, []string{"the", "dog", "sleeps"}[i])
	}
	input := segmented(t, "Le chien dort.||Il mange.||")

	res, err := e.Annotate(context.Background(), &Request{Phase: PhaseGloss, Input: input, Previous: prev})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if res.Reused != 1 {
		t.Errorf("Reused = %d, want 1", res.Reused)
	}
	prompts := client.Prompts()
	if len(prompts) != 1 {
		t.Fatalf("expected 1 request, got %d", len(prompts))
	}
	if got := promptWords(t, prompts[0]); !reflect.DeepEqual(got, []string{"Il", "mange"}) {
		t.Errorf("requested words = %v", got)
	}
	want := []string{"the", "dog", "sleeps", "IL", "MANGE"}
	if got := glosses(res.Text); !reflect.DeepEqual(got, want) {
		t.Errorf("glosses = %v, want %v", got, want)
	}

	// Above the threshold everything is annotated again.
	client2 := providers.NewMockClient()
	client2.Handler = glossHandler(t)
	e2 := newTestEngine(t, client2, Config{ReuseThreshold: 1})
	res, err = e2.Annotate(context.Background(), &Request{Phase: PhaseGloss, Input: input, Previous: prev})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if res.Reused != 0 || glosses(res.Text)[0] != "LE" {
		t.Errorf("expected a full re-annotation, got reused=%d glosses=%v", res.Reused, glosses(res.Text))
	}
}

func TestAnnotateLemma(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseText = `[["Les", "le", "det"], ["chiens", "chien", "Noun"], ["dorment", "dormir", "VERB"]]`
	e := newTestEngine(t, client, Config{})

	res, err := e.Annotate(context.Background(), &Request{Phase: PhaseLemma, Input: segmented(t, "Les chiens dorment.||")})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	words := res.Text.Segments()[0].Words()
	for i, want := range [][2]string{{"le", "DET"}, {"chien", "NOUN"}, {"dormir", "VERB"}} {
		if words[i].Annotations.Value(text.KeyLemma) != want[0] || words[i].Annotations.Value(text.KeyPOS) != want[1] {
			t.Errorf("word %d = %v", i, words[i].Annotations.Values)
		}
	}

	// Wrong tuple length is malformed.
	client.ResponseText = `[["Les", "le"]]`
	e = newTestEngine(t, client, Config{MaxRetries: 1})
	if _, err := e.Annotate(context.Background(), &Request{Phase: PhaseLemma, Input: segmented(t, "Les chiens.||")}); err == nil {
		t.Fatal("expected error for pairs in a lemma response")
	}
}

func TestAnnotateImproveSendsExistingValues(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseText = `[["Le", "the"], ["chien", "dog"]]`
	e := newTestEngine(t, client, Config{})

	input := segmented(t, "Le chien.||")
	input.Segments()[0].Words()[1].Annotations.Set(text.KeyGloss, "cat")
	if _, err := e.Annotate(context.Background(), &Request{Phase: PhaseGloss, Mode: prompts.ModeImprove, Input: input}); err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	prompt := client.Prompts()[0]
	if !strings.Contains(prompt, `["chien","cat"]`) || !strings.Contains(prompt, `["Le","-"]`) {
		t.Errorf("improve prompt lacks existing values:\n%s", prompt)
	}
}

func mweInput(t *testing.T) *text.Text {
	t.Helper()
	input := segmented(t, "She threw it out.||")
	input.Segments()[0].Annotations.MWEs = [][]string{{"threw", "out"}}
	return input
}

func TestAnnotateMWEConsistency(t *testing.T) {
	response := `[["She", "she", "PRON"], ["threw", "throw out", "VERB"], ["it", "it", "PRON"], ["out", "out", "ADP"]]`

	t.Run("strict", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ResponseText = response
		e := newTestEngine(t, client, Config{MWEStrict: true})

		_, err := e.Annotate(context.Background(), &Request{Phase: PhaseLemma, Input: mweInput(t), UseMWE: true})
		var me *clerr.MWEError
		if !errors.As(err, &me) {
			t.Fatalf("expected MWEError, got %v", err)
		}
		if !strings.Contains(client.Prompts()[0], `"threw out"`) {
			t.Error("expected MWE instructions in the prompt")
		}
	})

	t.Run("best effort", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ResponseText = response
		e := newTestEngine(t, client, Config{})

		res, err := e.Annotate(context.Background(), &Request{Phase: PhaseLemma, Input: mweInput(t), UseMWE: true})
		if err != nil {
			t.Fatalf("Annotate() error = %v", err)
		}
		words := res.Text.Segments()[0].Words()
		if words[1].Annotations.Value(text.KeyLemma) != text.NoData || words[3].Annotations.Value(text.KeyLemma) != text.NoData {
			t.Errorf("inconsistent MWE members were not reset: %v %v", words[1].Annotations.Values, words[3].Annotations.Values)
		}
		if words[0].Annotations.Value(text.KeyLemma) != "she" {
			t.Error("non-member was reset")
		}
	})

	t.Run("consistent", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ResponseText = `[["She", "she", "PRON"], ["threw", "throw out", "VERB"], ["it", "it", "PRON"], ["out", "throw out", "VERB"]]`
		e := newTestEngine(t, client, Config{MWEStrict: true})
		if _, err := e.Annotate(context.Background(), &Request{Phase: PhaseLemma, Input: mweInput(t), UseMWE: true}); err != nil {
			t.Fatalf("Annotate() error = %v", err)
		}
	})
}

func TestAnnotateTranslations(t *testing.T) {
	client := providers.NewMockClient()
	client.Handler = func(req *providers.ChatRequest) (string, error) {
		src := promptWords(t, req.Prompt())
		return mustJSON([][]string{{src[0], "EN: " + src[0]}}), nil
	}
	e := newTestEngine(t, client, Config{})

	res, err := e.Annotate(context.Background(), &Request{Phase: PhaseTranslated, Input: segmented(t, "Le chien dort.|| Il mange.||")})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	segs := res.Text.Segments()
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	for i, want := range []string{"EN: Le chien dort.", "EN: Il mange."} {
		if segs[i].Annotations.Translated == nil || *segs[i].Annotations.Translated != want {
			t.Errorf("segment %d translation = %v, want %q", i, segs[i].Annotations.Translated, want)
		}
	}
	if client.RequestCount() != 2 {
		t.Errorf("RequestCount = %d, want 2", client.RequestCount())
	}
}

func TestAnnotateMWEs(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseText = "Analysis: \"threw ... out\" is a phrasal verb.\nMWEs: [\"threw out\", \"green cheese\"]"
	e := newTestEngine(t, client, Config{})

	res, err := e.Annotate(context.Background(), &Request{Phase: PhaseMWE, Input: segmented(t, "She threw it out.||Hi.||")})
	if err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	if client.RequestCount() != 1 {
		t.Errorf("single-word segments should be skipped, got %d requests", client.RequestCount())
	}
	seg := res.Text.Segments()[0]
	if !reflect.DeepEqual(seg.Annotations.MWEs, [][]string{{"threw", "out"}}) {
		t.Errorf("MWEs = %v", seg.Annotations.MWEs)
	}
	if seg.Annotations.Analysis == nil || *seg.Annotations.Analysis != `"threw ... out" is a phrasal verb.` {
		t.Errorf("Analysis = %v", seg.Annotations.Analysis)
	}
}

func TestParseMWEResponse(t *testing.T) {
	analysis, mwes, err := parseMWEResponse("Analysis: nothing here.\nMWEs: []")
	if err != nil {
		t.Fatalf("parseMWEResponse() error = %v", err)
	}
	if analysis != "nothing here." || len(mwes) != 0 {
		t.Errorf("got %q %v", analysis, mwes)
	}
	if _, _, err := parseMWEResponse("Analysis: x\nMWEs: [1, 2]"); err == nil {
		t.Error("expected schema error for non-string MWEs")
	}
}

func TestSegment(t *testing.T) {
	client := providers.NewMockClient()
	var mu sync.Mutex
	var sentences []string
	client.Handler = func(req *providers.ChatRequest) (string, error) {
		prompt := req.Prompt()
		in := promptInput(prompt)
		if strings.Contains(prompt, "divide it into pages") {
			// The model also "corrects" a word, which must not survive.
			return "<page>Hello, word!|| How are you?||", nil
		}
		mu.Lock()
		sentences = append(sentences, in)
		mu.Unlock()
		return strings.ReplaceAll(in, " ", "| "), nil
	}
	e := newTestEngine(t, client, Config{})

	res, err := e.Segment(context.Background(), "Hello, world! How are you?", "english", "french", "p1")
	if err != nil {
		t.Fatalf("Segment() error = %v", err)
	}
	if got := res.Text.Plain(); got != "Hello, world! How are you?" {
		t.Errorf("Plain() = %q", got)
	}
	segs := res.Text.Segments()
	if len(res.Text.Pages) != 1 || len(segs) != 2 {
		t.Fatalf("expected 1 page and 2 segments, got %d pages %d segments", len(res.Text.Pages), len(segs))
	}
	if res.Text.WordCount() != 5 {
		t.Errorf("WordCount() = %d, want 5", res.Text.WordCount())
	}
	if len(res.Calls) != 3 {
		t.Errorf("expected 3 calls, got %d", len(res.Calls))
	}
	if len(sentences) != 2 {
		t.Errorf("expected 2 word-boundary requests, got %v", sentences)
	}
}

func TestSegmentMultiword(t *testing.T) {
	client := providers.NewMockClient()
	client.Handler = func(req *providers.ChatRequest) (string, error) {
		prompt := req.Prompt()
		if strings.Contains(prompt, "divide it into pages") {
			return "<page>We saw New York.||", nil
		}
		return "We| saw| @New York@.", nil
	}
	e := newTestEngine(t, client, Config{})

	res, err := e.Segment(context.Background(), "We saw New York.", "english", "french", "")
	if err != nil {
		t.Fatalf("Segment() error = %v", err)
	}
	var surfaces []string
	for _, w := range res.Text.Segments()[0].Words() {
		surfaces = append(surfaces, w.Content)
	}
	if !reflect.DeepEqual(surfaces, []string{"We", "saw", "New York"}) {
		t.Errorf("words = %q", surfaces)
	}
}

func TestGenerate(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseText = `"The Sleeping Dog"`
	e := newTestEngine(t, client, Config{})

	res, err := e.Generate(context.Background(), GenerateRequest{Phase: PhaseTitle, L2: "english", L1: "french", Input: "The dog sleeps."})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "The Sleeping Dog" {
		t.Errorf("Text = %q", res.Text)
	}
	if !strings.Contains(client.Prompts()[0], "The dog sleeps.") {
		t.Error("prompt lacks the input text")
	}
	if _, err := e.Generate(context.Background(), GenerateRequest{Phase: PhaseGloss}); err == nil {
		t.Error("expected error for a word phase")
	}
}

func TestAnnotateRejectsUnknownPhase(t *testing.T) {
	e := newTestEngine(t, providers.NewMockClient(), Config{})
	if _, err := e.Annotate(context.Background(), &Request{Phase: "audio", Input: text.New("en", "fr")}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := e.Annotate(context.Background(), &Request{Phase: PhaseGloss}); err == nil {
		t.Fatal("expected error for missing input")
	}
}

func TestAlign(t *testing.T) {
	tests := []struct {
		name  string
		words []string
		items []string
		want  []int
	}{
		{"identical", []string{"a", "b", "c"}, []string{"a", "b", "c"}, []int{0, 1, 2}},
		{"case and spacing", []string{"Le", "chien"}, []string{"le ", "CHIEN"}, []int{0, 1}},
		{"missing item", []string{"a", "b", "c"}, []string{"a", "c"}, []int{0, -1, 1}},
		{"substituted item", []string{"a", "b", "c"}, []string{"a", "x", "c"}, []int{0, 1, 2}},
		{"extra item", []string{"a", "c"}, []string{"a", "b", "c"}, []int{0, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := align(tt.words, tt.items); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("align() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrivial(t *testing.T) {
	txt := TrivialSegment("Hello, world! How are you? Fine", "english", "french")
	segs := txt.Segments()
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}
	if segs[1].Plain() != " How are you?" {
		t.Errorf("segment 1 = %q", segs[1].Plain())
	}
	if txt.Plain() != "Hello, world! How are you? Fine" {
		t.Errorf("Plain() = %q", txt.Plain())
	}
	if got := TrivialSegment("3.14 is pi.", "english", "french").Segments(); len(got) != 1 {
		t.Errorf("decimal point split the segment: %d segments", len(got))
	}

	lemma := TrivialLemma(txt)
	w := lemma.Segments()[0].Words()[0]
	if w.Annotations.Value(text.KeyLemma) != "hello" || w.Annotations.Value(text.KeyPOS) != "X" {
		t.Errorf("trivial lemma = %v", w.Annotations.Values)
	}
	if txt.Segments()[0].Words()[0].Annotations.Value(text.KeyLemma) != "" {
		t.Error("TrivialLemma modified its input")
	}
	for _, g := range glosses(TrivialGloss(txt)) {
		if g != text.NoData {
			t.Fatalf("trivial gloss = %q", g)
		}
	}
}
