package prompts

import (
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/jackzampolin/clara/internal/clerr"
)

// Placeholder names.
const (
	VarL1       = "l1_language"
	VarL2       = "l2_language"
	VarExamples = "examples"
	VarText     = "text"
	VarElements = "simplified_elements_json"
)

var allowedVariables = map[string]bool{
	VarL1: true, VarL2: true, VarExamples: true, VarText: true, VarElements: true,
}

// variablePattern matches {name} placeholders. JSON braces in example
// output never match because they contain quotes or brackets.
var variablePattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// ExtractVariables returns the sorted, de-duplicated placeholder names in
// text.
func ExtractVariables(text string) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, m := range variablePattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	sort.Strings(vars)
	return vars
}

// HashText returns a BLAKE3 hash of the parts for change detection.
func HashText(parts ...string) string {
	h := blake3.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Validate checks that the template references only known placeholders,
// exactly one of {text} and {simplified_elements_json}, and that a
// template using {examples} has an example list.
func (t *Template) Validate() error {
	fail := func(msg string) error {
		return &clerr.TemplateError{Language: t.Language, Phase: t.Phase, Mode: t.Mode, Message: msg}
	}
	if strings.TrimSpace(t.Text) == "" {
		return fail("template is empty")
	}
	hasText, hasElements, hasExamples := false, false, false
	for _, v := range ExtractVariables(t.Text) {
		if !allowedVariables[v] {
			return fail("template references disallowed placeholder {" + v + "}")
		}
		switch v {
		case VarText:
			hasText = true
		case VarElements:
			hasElements = true
		case VarExamples:
			hasExamples = true
		}
	}
	if hasText == hasElements {
		return fail("template must reference exactly one of {text} and {simplified_elements_json}")
	}
	if hasExamples && len(t.Examples) == 0 {
		return fail("example list is missing")
	}
	return nil
}

// Vars are the values substituted into a template.
type Vars struct {
	L1       string
	L2       string
	Examples []Example
	Text     string
	Elements string
}

// Render substitutes vars into the template. Validate is called first.
func (t *Template) Render(vars Vars) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	examples := vars.Examples
	if examples == nil {
		examples = t.Examples
	}
	r := strings.NewReplacer(
		"{"+VarL1+"}", capitalise(vars.L1),
		"{"+VarL2+"}", capitalise(vars.L2),
		"{"+VarExamples+"}", FormatExamples(examples),
		"{"+VarText+"}", vars.Text,
		"{"+VarElements+"}", vars.Elements,
	)
	return r.Replace(t.Text), nil
}

// FormatExamples renders examples one per paragraph.
func FormatExamples(examples []Example) string {
	parts := make([]string, len(examples))
	for i, e := range examples {
		parts[i] = strings.TrimSpace(e.Text)
	}
	return strings.Join(parts, "\n\n")
}

func capitalise(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
