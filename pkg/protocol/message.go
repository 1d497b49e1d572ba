package protocol

import (
	"errors"
	"strings"
)

// MaxParams is the maximum number of parameters a message can carry
const MaxParams = 15

var (
	ErrEmptyLine = errors.New("empty line")
	ErrNoCommand = errors.New("line has no command")
)

// Message is one parsed protocol line
type Message struct {
	Prefix  string   // Sender prefix without the leading ':' (empty when absent)
	Command string   // Command name or numeric, exactly as received
	Params  []string // Ordered parameters, at most MaxParams
	// Trailing reports whether the last parameter was sent as a ':' trailing
	// parameter. Encoding always uses the trailing form when the value needs it.
	Trailing bool
}

// NewMessage builds a message whose last parameter is sent in trailing form.
func NewMessage(prefix, command string, params ...string) Message {
	return Message{
		Prefix:   prefix,
		Command:  command,
		Params:   params,
		Trailing: len(params) > 0,
	}
}

// Param returns the i-th parameter, or "" when it is absent.
func (m Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// Parse consumes lexemes produced by Lex into a Message.
//
// It returns ErrEmptyLine when there are no lexemes and ErrNoCommand when the
// line carries only a prefix, or when a trailing token sits where the command
// should be. Parameters past MaxParams are folded into the last one, joined by
// a single space.
func Parse(lexemes []Lexeme) (Message, error) {
	var m Message
	if len(lexemes) == 0 {
		return m, ErrEmptyLine
	}

	rest := lexemes
	if rest[0].Kind == LexPrefix {
		m.Prefix = rest[0].Text
		rest = rest[1:]
	}

	if len(rest) == 0 || rest[0].Kind != LexWord {
		return m, ErrNoCommand
	}
	m.Command = rest[0].Text
	rest = rest[1:]

	if len(rest) == 0 {
		return m, nil
	}

	m.Params = make([]string, 0, min(len(rest), MaxParams))
	for i, lx := range rest {
		if i == MaxParams-1 && len(rest) > MaxParams {
			folded := make([]string, 0, len(rest)-i)
			for _, tail := range rest[i:] {
				folded = append(folded, tail.Text)
			}
			m.Params = append(m.Params, strings.Join(folded, " "))
			m.Trailing = true
			break
		}
		m.Params = append(m.Params, lx.Text)
		if lx.Kind == LexTrailing {
			m.Trailing = true
		}
	}

	return m, nil
}

// ParseLine lexes and parses one delimited line.
func ParseLine(line []byte) (Message, error) {
	return Parse(Lex(line))
}

// String encodes the message in wire form without the line terminator.
// A middle parameter that cannot be framed as one word (empty, holding a
// space, or starting with ':') is written as "*" so the parameter count on
// the wire always matches len(Params).
func (m Message) String() string {
	var sb strings.Builder
	size := len(m.Prefix) + len(m.Command) + 2
	for _, p := range m.Params {
		size += len(p) + 2
	}
	sb.Grow(size)

	if m.Prefix != "" {
		sb.WriteByte(':')
		sb.WriteString(m.Prefix)
		sb.WriteByte(' ')
	}
	sb.WriteString(m.Command)

	for i, p := range m.Params {
		sb.WriteByte(' ')
		if i == len(m.Params)-1 {
			if m.Trailing || needsTrailing(p) {
				sb.WriteByte(':')
			}
			sb.WriteString(p)
			continue
		}
		if needsTrailing(p) {
			p = "*"
		}
		sb.WriteString(p)
	}

	return sb.String()
}

// Bytes encodes the message in wire form including the CRLF terminator.
func (m Message) Bytes() []byte {
	return append([]byte(m.String()), '\r', '\n')
}

func needsTrailing(p string) bool {
	return p == "" || p[0] == ':' || strings.IndexByte(p, ' ') >= 0
}
