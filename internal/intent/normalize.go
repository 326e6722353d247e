package intent

import (
	"strings"
	"unicode"
)

// Normalize lowercases the query, replaces punctuation that never takes part
// in matching with spaces, and collapses whitespace. Normalize(Normalize(x))
// == Normalize(x).
func Normalize(query string) string {
	lower := strings.ToLower(query)
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
			return r
		case r == '%' || r == '.' || r == '-' || r == '_' || r == '/':
			return r
		default:
			return ' '
		}
	}, lower)
	return strings.Join(strings.Fields(mapped), " ")
}
