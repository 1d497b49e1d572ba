package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultMaxLineBytes is the classic line limit, terminator excluded
const DefaultMaxLineBytes = 510

var ErrLineTooLong = errors.New("line exceeds maximum length")

// LineTooLongError lists the lines one Feed call dropped for their length.
// At[i] is the number of returned lines that came before the i-th dropped
// line, so callers can answer each one in input order.
type LineTooLongError struct {
	At []int
}

func (e *LineTooLongError) Error() string {
	return fmt.Sprintf("%v (%d dropped)", ErrLineTooLong, len(e.At))
}

func (e *LineTooLongError) Unwrap() error {
	return ErrLineTooLong
}

// LineBuffer frames a byte stream into protocol lines.
//
// Reads from a stream socket may deliver partial lines, several lines, or
// fragments split anywhere. Feed accumulates them and hands back every complete
// line in arrival order; an unterminated tail stays buffered until the rest of
// it arrives. Lines end in "\r\n" or a bare "\n".
//
// A LineBuffer is owned by exactly one connection and is not safe for
// concurrent use.
type LineBuffer struct {
	buf        []byte
	max        int
	discarding bool // dropping an over-long line until its terminator shows up
}

// NewLineBuffer creates a buffer that rejects lines longer than maxLine bytes
// (terminator excluded). maxLine <= 0 selects DefaultMaxLineBytes.
func NewLineBuffer(maxLine int) *LineBuffer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &LineBuffer{max: maxLine}
}

// Feed appends p and returns every line it completes, terminators stripped.
// The returned slices do not alias the buffer.
//
// When a line is longer than the limit it is dropped and a *LineTooLongError
// (matching ErrLineTooLong) is returned together with the lines that were
// fine. An over-long unterminated tail is dropped right away and the rest of
// that line is skipped when it arrives.
func (b *LineBuffer) Feed(p []byte) ([][]byte, error) {
	var lines [][]byte
	var dropped []int

	b.buf = append(b.buf, p...)

	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}

		line := b.buf[:i]
		b.buf = b.buf[i+1:]

		if b.discarding {
			b.discarding = false
			continue
		}

		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if len(line) > b.max {
			dropped = append(dropped, len(lines))
			continue
		}

		lines = append(lines, bytes.Clone(line))
	}

	if len(b.buf) > b.max+1 {
		// +1 leaves room for a '\r' whose '\n' is still in flight
		if !b.discarding {
			dropped = append(dropped, len(lines))
		}
		b.discarding = true
		b.buf = b.buf[:0]
	}

	// Release the consumed prefix of the backing array
	switch {
	case len(b.buf) == 0:
		b.buf = nil
	case len(lines) > 0 || len(dropped) > 0:
		b.buf = bytes.Clone(b.buf)
	}

	if len(dropped) > 0 {
		return lines, &LineTooLongError{At: dropped}
	}
	return lines, nil
}

// Pending returns the number of buffered bytes not yet forming a full line.
func (b *LineBuffer) Pending() int {
	return len(b.buf)
}

// Reset drops any buffered partial line.
func (b *LineBuffer) Reset() {
	b.buf = nil
	b.discarding = false
}
