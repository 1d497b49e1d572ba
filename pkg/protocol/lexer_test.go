package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLex(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []Lexeme
	}{
		{
			name: "empty line",
			line: "",
			want: nil,
		},
		{
			name: "bare command",
			line: "PING",
			want: []Lexeme{{LexWord, "PING"}},
		},
		{
			name: "words",
			line: "USER alice 0 *",
			want: []Lexeme{{LexWord, "USER"}, {LexWord, "alice"}, {LexWord, "0"}, {LexWord, "*"}},
		},
		{
			name: "runs of spaces collapse",
			line: "JOIN   #chan    key",
			want: []Lexeme{{LexWord, "JOIN"}, {LexWord, "#chan"}, {LexWord, "key"}},
		},
		{
			name: "leading and trailing spaces",
			line: "  NICK bob  ",
			want: []Lexeme{{LexWord, "NICK"}, {LexWord, "bob"}},
		},
		{
			name: "trailing keeps spaces",
			line: "PRIVMSG #chan :hello  big world ",
			want: []Lexeme{{LexWord, "PRIVMSG"}, {LexWord, "#chan"}, {LexTrailing, "hello  big world "}},
		},
		{
			name: "empty trailing",
			line: "TOPIC #chan :",
			want: []Lexeme{{LexWord, "TOPIC"}, {LexWord, "#chan"}, {LexTrailing, ""}},
		},
		{
			name: "trailing keeps inner colons",
			line: "PRIVMSG bob :see :this",
			want: []Lexeme{{LexWord, "PRIVMSG"}, {LexWord, "bob"}, {LexTrailing, "see :this"}},
		},
		{
			name: "colon inside a word is not trailing",
			line: "PING a:b",
			want: []Lexeme{{LexWord, "PING"}, {LexWord, "a:b"}},
		},
		{
			name: "prefix",
			line: ":alice!a@host PRIVMSG bob :hi",
			want: []Lexeme{{LexPrefix, "alice!a@host"}, {LexWord, "PRIVMSG"}, {LexWord, "bob"}, {LexTrailing, "hi"}},
		},
		{
			name: "prefix only",
			line: ":irc.local",
			want: []Lexeme{{LexPrefix, "irc.local"}},
		},
		{
			name: "lone colon is an empty prefix",
			line: ":",
			want: []Lexeme{{LexPrefix, ""}},
		},
		{
			name: "prefix followed by trailing",
			line: ":srv :oops",
			want: []Lexeme{{LexPrefix, "srv"}, {LexTrailing, "oops"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Lex([]byte(tt.line)))
		})
	}
}

func TestLexemeKindString(t *testing.T) {
	assert.Equal(t, "prefix", LexPrefix.String())
	assert.Equal(t, "word", LexWord.String())
	assert.Equal(t, "trailing", LexTrailing.String())
	assert.Equal(t, "unknown", LexemeKind(42).String())
}
