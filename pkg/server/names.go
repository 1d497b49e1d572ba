package server

import (
	"strings"
	"unicode/utf8"

	"github.com/aeolun/ircrelay/pkg/registry"
)

// isSpecial reports the rfc2812 "special" nickname characters: [ ] \ ` _ ^ { | }
func isSpecial(b byte) bool {
	return strings.IndexByte("[]\\`_^{|}", b) >= 0
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// validNick checks a nickname against the rfc2812 grammar and the length limit
func validNick(nick string, maxLen int) bool {
	if nick == "" || len(nick) > maxLen {
		return false
	}
	if !isLetter(nick[0]) && !isSpecial(nick[0]) {
		return false
	}
	for i := 1; i < len(nick); i++ {
		b := nick[i]
		if !isLetter(b) && !isDigit(b) && !isSpecial(b) && b != '-' {
			return false
		}
	}
	return true
}

// validUsername accepts letters, digits and a few punctuation characters that
// are safe inside a nick!user@host mask.
func validUsername(user string) bool {
	if user == "" {
		return false
	}
	for i := 0; i < len(user); i++ {
		b := user[i]
		if !isLetter(b) && !isDigit(b) && !isSpecial(b) && strings.IndexByte("-.~", b) < 0 {
			return false
		}
	}
	return true
}

// isChannelName reports whether the target names a channel rather than a nick
func isChannelName(name string) bool {
	return name != "" && (name[0] == '#' || name[0] == '&')
}

// validChannelName checks the prefix, the length limit and forbidden bytes
// (space, comma, BEL, colon and control characters).
func validChannelName(name string, maxLen int) bool {
	if len(name) < 2 || len(name) > maxLen || !isChannelName(name) {
		return false
	}
	for i := 1; i < len(name); i++ {
		b := name[i]
		if b <= ' ' || b == ',' || b == ':' || b == 0x7f {
			return false
		}
	}
	return true
}

// validKey rejects channel keys that could not be sent back as one parameter
func validKey(key string) bool {
	if key == "" || len(key) > 23 {
		return false
	}
	for i := 0; i < len(key); i++ {
		b := key[i]
		if b <= ' ' || b == ',' || b == ':' || b == 0x7f {
			return false
		}
	}
	return true
}

// matchMask matches s against an IRC wildcard mask ('*' any run, '?' one
// byte) under rfc1459 case folding.
func matchMask(mask, s string) bool {
	return wildcardMatch(registry.Fold(mask), registry.Fold(s))
}

func wildcardMatch(pattern, s string) bool {
	p, i := 0, 0
	star, mark := -1, 0
	for i < len(s) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == s[i]):
			p++
			i++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = i
			p++
		case star >= 0:
			p = star + 1
			mark++
			i = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// splitList splits a comma separated parameter, dropping empty items
func splitList(param string) []string {
	parts := strings.Split(param, ",")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
