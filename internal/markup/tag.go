package markup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/jackzampolin/clara/internal/text"
)

var tagLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `'[^']*'|"[^"]*"`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_:.\-]*`},
	{Name: "Bare", Pattern: `[^\s'"=<>/]+`},
	{Name: "Punct", Pattern: `[<>=/]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

// tagAST is the grammar of an opening tag such as <img src='a.jpg'/>.
type tagAST struct {
	Close bool       `"<" @"/"?`
	Name  string     `@Ident`
	Attrs []*attrAST `@@*`
	Self  bool       `@"/"? ">"`
}

type attrAST struct {
	Key   string  `@Ident`
	Value *string `( "=" @(String | Ident | Bare) )?`
}

var tagParser = participle.MustBuild[tagAST](
	participle.Lexer(tagLexer),
	participle.Elide("Whitespace"),
)

// Tag is a parsed HTML-like tag.
type Tag struct {
	Name    string
	Closing bool
	Attrs   []text.Attr
}

// ParseTag parses raw, which must span exactly one tag from '<' to '>'.
func ParseTag(raw string) (*Tag, error) {
	ast, err := tagParser.ParseString("", raw)
	if err != nil {
		return nil, fmt.Errorf("parse tag %q: %w", raw, err)
	}
	tag := &Tag{Name: strings.ToLower(ast.Name), Closing: ast.Close}
	for _, a := range ast.Attrs {
		attr := text.Attr{Key: a.Key}
		if a.Value != nil {
			attr.Value = unquote(*a.Value)
		}
		tag.Attrs = append(tag.Attrs, attr)
	}
	return tag, nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

var pageAttrOrder = []string{text.PageAttrImg, text.PageAttrPage, text.PageAttrPosition, text.PageAttrTitle}

// PageTag renders the canonical page tag for attrs.
func PageTag(attrs map[string]string) string {
	var b strings.Builder
	b.WriteString("<page")
	seen := make(map[string]bool, len(pageAttrOrder))
	write := func(k string) {
		v := attrs[k]
		quote := "'"
		if strings.Contains(v, "'") {
			quote = `"`
		}
		b.WriteString(" " + k + "=" + quote + v + quote)
	}
	for _, k := range pageAttrOrder {
		seen[k] = true
		if _, ok := attrs[k]; ok {
			write(k)
		}
	}
	var rest []string
	for k := range attrs {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		write(k)
	}
	b.WriteString(">")
	return b.String()
}

// tagEnd returns the index just past the '>' closing the tag that starts
// at s[start], honouring quoted attribute values, or -1.
func tagEnd(s string, start int) int {
	var quote byte
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '>':
			return i + 1
		case c == '<':
			return -1
		}
	}
	return -1
}

// isPageTag reports whether s[i:] starts a page tag.
func isPageTag(s string, i int) bool {
	if !strings.HasPrefix(s[i:], "<page") {
		return false
	}
	if i+5 >= len(s) {
		return false
	}
	switch s[i+5] {
	case '>', ' ', '\t', '\n', '/':
		return true
	}
	return false
}
