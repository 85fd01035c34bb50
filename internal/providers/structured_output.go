package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParseJSON parses JSON from model output, recovering from markdown code
// fences, surrounding prose and Python-style literals (single quotes,
// True/False/None).
func ParseJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty structured output")
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}
	for _, c := range candidates[:len(candidates):len(candidates)] {
		if converted, ok := pythonLiteralToJSON(c); ok && converted != c {
			candidates = append(candidates, converted)
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}

		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			normalized, mErr := json.Marshal(parsed)
			if mErr != nil {
				return nil, fmt.Errorf("failed to normalize structured output: %w", mErr)
			}
			return normalized, nil
		}
	}
	return nil, fmt.Errorf("failed to parse structured JSON")
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// extractJSONCandidate returns the outermost array or object in content.
func extractJSONCandidate(content string) string {
	trimmed := strings.TrimSpace(content)
	objectStart := strings.Index(trimmed, "{")
	arrayStart := strings.Index(trimmed, "[")

	start, closeChar := -1, ""
	switch {
	case arrayStart >= 0 && (objectStart < 0 || arrayStart < objectStart):
		start, closeChar = arrayStart, "]"
	case objectStart >= 0:
		start, closeChar = objectStart, "}"
	default:
		return ""
	}
	end := strings.LastIndex(trimmed, closeChar)
	if end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}

// pythonLiteralToJSON rewrites single-quoted strings and the Python
// constants outside strings. ok is false when quoting is unbalanced.
func pythonLiteralToJSON(s string) (string, bool) {
	var b strings.Builder
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '"' || r == '\'':
			quote := r
			var body strings.Builder
			closed := false
			for i++; i < len(rs); i++ {
				c := rs[i]
				if c == '\\' && i+1 < len(rs) {
					i++
					if rs[i] == '\'' {
						body.WriteRune('\'')
					} else {
						body.WriteRune('\\')
						body.WriteRune(rs[i])
					}
					continue
				}
				if c == quote {
					closed = true
					break
				}
				if c == '"' {
					body.WriteString(`\"`)
					continue
				}
				body.WriteRune(c)
			}
			if !closed {
				return "", false
			}
			b.WriteRune('"')
			b.WriteString(body.String())
			b.WriteRune('"')
		case hasWordAt(rs, i, "True"):
			b.WriteString("true")
			i += 3
		case hasWordAt(rs, i, "False"):
			b.WriteString("false")
			i += 4
		case hasWordAt(rs, i, "None"):
			b.WriteString("null")
			i += 3
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), true
}

func hasWordAt(rs []rune, i int, w string) bool {
	wr := []rune(w)
	if i+len(wr) > len(rs) || string(rs[i:i+len(wr)]) != w {
		return false
	}
	isIdent := func(r rune) bool {
		return r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
	}
	if i > 0 && isIdent(rs[i-1]) {
		return false
	}
	end := i + len(wr)
	return end == len(rs) || !isIdent(rs[end])
}

var schemaCache sync.Map // schema text -> *jsonschema.Schema

// ValidateJSON validates parsed JSON against schemaRaw. The schema may be
// wrapped as {"schema": ...} or {"json_schema": {"schema": ...}}.
func ValidateJSON(schemaRaw, parsed json.RawMessage) error {
	if len(schemaRaw) == 0 || len(parsed) == 0 {
		return nil
	}
	schema, err := compileSchema(schemaRaw)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(parsed, &doc); err != nil {
		return fmt.Errorf("failed to decode structured JSON for validation: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("structured output does not match schema: %w", err)
	}
	return nil
}

func compileSchema(schemaRaw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schemaRaw)
	if s, ok := schemaCache.Load(key); ok {
		return s.(*jsonschema.Schema), nil
	}
	core, err := extractValidationSchema(schemaRaw)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(core)); err != nil {
		return nil, fmt.Errorf("failed to load structured schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile structured schema: %w", err)
	}
	schemaCache.Store(key, schema)
	return schema, nil
}

func extractValidationSchema(schemaRaw json.RawMessage) (json.RawMessage, error) {
	var root any
	if err := json.Unmarshal(schemaRaw, &root); err != nil {
		return nil, fmt.Errorf("invalid structured schema JSON: %w", err)
	}
	if rootMap, ok := root.(map[string]any); ok {
		if inner, ok := rootMap["schema"]; ok {
			return json.Marshal(inner)
		}
		if rawInner, ok := rootMap["json_schema"].(map[string]any); ok {
			if innerSchema, ok := rawInner["schema"]; ok {
				return json.Marshal(innerSchema)
			}
		}
	}
	return schemaRaw, nil
}
