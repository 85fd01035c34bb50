package annotate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/clara/internal/markup"
	"github.com/jackzampolin/clara/internal/providers"
	"github.com/jackzampolin/clara/internal/text"
)

// Phase names.
const (
	PhasePlain          = markup.LayerPlain
	PhaseTitle          = markup.LayerTitle
	PhaseSegmentedTitle = markup.LayerSegmentedTitle
	PhaseSummary        = markup.LayerSummary
	PhaseCEFRLevel      = markup.LayerCEFRLevel
	PhaseSegmented      = markup.LayerSegmented
	PhaseTranslated     = markup.LayerTranslated
	PhaseMWE            = markup.LayerMWE
	PhasePhonetic       = markup.LayerPhonetic
	PhaseGloss          = markup.LayerGloss
	PhaseLemma          = markup.LayerLemma
	PhasePinyin         = markup.LayerPinyin
	PhaseLemmaAndGloss  = markup.LayerLemmaAndGloss
)

// wordPhase describes the response of a word-level phase: a list of
// tuples [word, keys...].
type wordPhase struct {
	keys   []string
	schema json.RawMessage
}

var wordPhases = map[string]wordPhase{
	PhaseGloss:         newWordPhase(text.KeyGloss),
	PhasePinyin:        newWordPhase(text.KeyPinyin),
	PhasePhonetic:      newWordPhase(text.KeyPhonetic),
	PhaseLemma:         newWordPhase(text.KeyLemma, text.KeyPOS),
	PhaseLemmaAndGloss: newWordPhase(text.KeyLemma, text.KeyPOS, text.KeyGloss),
}

func newWordPhase(keys ...string) wordPhase {
	return wordPhase{keys: keys, schema: tupleSchema(len(keys) + 1)}
}

// tupleSchema returns the schema of a list of string tuples of length n.
func tupleSchema(n int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"type": "array",
		"items": {
			"type": "array",
			"minItems": %d,
			"maxItems": %d,
			"items": {"type": "string"}
		}
	}`, n, n))
}

var mweListSchema = json.RawMessage(`{"type": "array", "items": {"type": "string"}}`)

// parseTuples parses and validates a list of string tuples of length n.
func parseTuples(content string, schema json.RawMessage) ([][]string, error) {
	raw, err := providers.ParseJSON(content)
	if err != nil {
		return nil, err
	}
	if err := providers.ValidateJSON(schema, raw); err != nil {
		return nil, err
	}
	var out [][]string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode tuples: %w", err)
	}
	return out, nil
}

// parseMWEResponse splits an "Analysis: ... MWEs: [...]" response.
func parseMWEResponse(content string) (analysis string, mwes []string, err error) {
	body := content
	if i := strings.LastIndex(content, "MWEs:"); i >= 0 {
		body = content[i+len("MWEs:"):]
		analysis = content[:i]
	} else if i := strings.IndexAny(content, "[{"); i >= 0 {
		analysis = content[:i]
		body = content[i:]
	}
	analysis = strings.TrimSpace(analysis)
	analysis = strings.TrimSpace(strings.TrimPrefix(analysis, "Analysis:"))

	raw, err := providers.ParseJSON(body)
	if err != nil {
		return "", nil, err
	}
	if err := providers.ValidateJSON(mweListSchema, raw); err != nil {
		return "", nil, err
	}
	if err := json.Unmarshal(raw, &mwes); err != nil {
		return "", nil, fmt.Errorf("failed to decode MWE list: %w", err)
	}
	return analysis, mwes, nil
}

// mustJSON encodes v without HTML escaping. v is always a string slice or
// map built here.
func mustJSON(v any) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
	return strings.TrimSpace(b.String())
}
