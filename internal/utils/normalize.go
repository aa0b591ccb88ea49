package utils

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeHeader canonicalizes an email header value (subject or sender)
// for identity comparison: Unicode compatibility normalization, case
// folding, and whitespace collapsing. Two headers that differ only in
// encoding, case, or spacing normalize to the same string.
func NormalizeHeader(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeAddress canonicalizes an email address for identity comparison.
// Beyond header normalization it strips an optional display-name wrapper
// ("Name <addr@host>" becomes "addr@host").
func NormalizeAddress(s string) string {
	if open := strings.LastIndexByte(s, '<'); open >= 0 {
		if close := strings.IndexByte(s[open:], '>'); close > 0 {
			s = s[open+1 : open+close]
		}
	}
	return NormalizeHeader(s)
}
