// Package textnorm canonicalizes keyword and product text into comparison keys.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalizer turns free text into a deterministic comparison key.
type Normalizer interface {
	Normalize(s string) string
}

// Func adapts a plain function to the Normalizer interface.
type Func func(string) string

func (f Func) Normalize(s string) string { return f(s) }

// Default is the normalizer used for keywords, clusters and products.
var Default Normalizer = Func(Normalize)

var folder = cases.Fold()

// Normalize applies NFKC, case folding, strips punctuation and removes all
// whitespace. "아이폰 16" and "아이폰16" share a key.
func Normalize(s string) string {
	return strings.ReplaceAll(Collapse(s), " ", "")
}

// Collapse is Normalize without whitespace removal: word boundaries are
// kept as single spaces. Used where tokens matter.
func Collapse(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '+' || r == '.':
			// kept inside tokens like "a-b" or "v1.2"
			if b.Len() > 0 && !space {
				b.WriteRune(r)
			}
		default:
			space = true
		}
	}
	return strings.TrimRight(b.String(), "-_.")
}

// Tokens splits s on whitespace, hyphen and underscore and drops tokens
// of a single rune.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(Collapse(s), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			out = append(out, f)
		}
	}
	return out
}
