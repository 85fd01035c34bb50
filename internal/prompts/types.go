// Package prompts provides the prompt template repository used by the
// annotation engine and the syntax repairer.
//
// Templates are keyed by language, phase and mode. Resolution order for a
// key:
//  1. On-disk override for the language
//  2. Embedded default for the language
//  3. On-disk override for the default language
//  4. Embedded default for the default language
//
// Each template carries a list of few-shot examples. When an example list
// is long the engine may pick the most relevant examples with one of the
// selectors in select.go.
package prompts

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultLanguage is the language used when no language-specific template
// exists.
const DefaultLanguage = "default"

// Template modes.
const (
	ModeAnnotate     = "annotate"
	ModeImprove      = "improve"
	ModeCorrect      = "correct"
	ModePresegmented = "presegmented"
	ModeRepair       = "repair"
)

// Example is one few-shot example. Pos holds the POS tag sequence used by
// n-gram selection and may be empty.
type Example struct {
	Text string   `yaml:"text" json:"text"`
	Pos  []string `yaml:"pos,omitempty" json:"pos,omitempty"`
}

// UnmarshalYAML accepts either a plain scalar or a {text, pos} mapping.
func (e *Example) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Text = node.Value
		e.Pos = nil
		return nil
	}
	type plain Example
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*e = Example(p)
	return nil
}

// MarshalYAML writes examples without POS tags as plain scalars.
func (e Example) MarshalYAML() (any, error) {
	if len(e.Pos) == 0 {
		return e.Text, nil
	}
	type plain Example
	return plain(e), nil
}

// ModeFile is one mode entry in a phase file.
type ModeFile struct {
	Description string    `yaml:"description,omitempty"`
	Template    string    `yaml:"template"`
	Examples    []Example `yaml:"examples,omitempty"`
}

// PhaseFile is the YAML document holding every mode of one phase for one
// language: templates/<language>/<phase>.yaml.
type PhaseFile struct {
	Phase string              `yaml:"phase"`
	Modes map[string]ModeFile `yaml:"modes"`
}

// Template is a resolved template.
type Template struct {
	Language string
	Phase    string
	Mode     string
	Text     string
	Examples []Example

	// Variables are the placeholders referenced by Text.
	Variables []string
	// Hash identifies the exact template text and examples.
	Hash string
	// IsOverride is true when the template came from the override directory.
	IsOverride bool
}
