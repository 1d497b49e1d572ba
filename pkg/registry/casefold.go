package registry

import "strings"

// Fold returns the canonical form of a nickname or channel name under the
// rfc1459 casemapping: ASCII letters are lowered and []\~ fold to {}|^,
// which are the canonical forms.
func Fold(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == '[':
			return '{'
		case r == ']':
			return '}'
		case r == '\\':
			return '|'
		case r == '~':
			return '^'
		}
		return r
	}, name)
}
