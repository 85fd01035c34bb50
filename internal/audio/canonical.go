// Package audio attaches word, segment and page audio to texts, backed by
// a keyed audio repository, TTS engines and ffmpeg.
package audio

import (
	"io"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// StripHTML returns the text content of s with tags removed and entities
// decoded.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return b.String()
			}
			// Malformed input: keep what was read plus the raw remainder.
			b.Write(z.Raw())
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}

// silent reports runes that carry no audio content.
func silent(r rune) bool {
	return r == '|' || unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.Is(unicode.Z, r)
}

// HasAudioContent reports whether s, once HTML is stripped, holds
// anything other than punctuation, whitespace and separators.
func HasAudioContent(s string) bool {
	for _, r := range StripHTML(s) {
		if !silent(r) {
			return true
		}
	}
	return false
}

// Canonical returns the repository key text for s: HTML stripped,
// punctuation and separators removed except inside words, whitespace
// collapsed.
func Canonical(s string) string {
	rs := []rune(StripHTML(s))
	var b strings.Builder
	space := false
	for i, r := range rs {
		switch {
		case unicode.IsSpace(r) || unicode.Is(unicode.Z, r):
			space = true
			continue
		case silent(r) && !(inWord(rs, i) && joiner(r)):
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

func joiner(r rune) bool {
	return r == '\'' || r == '’' || r == '-'
}

func inWord(rs []rune, i int) bool {
	return i > 0 && i+1 < len(rs) && isLetter(rs[i-1]) && isLetter(rs[i+1])
}

func isLetter(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}
