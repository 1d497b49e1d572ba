package server

import (
	"net"
	"sync"
	"time"

	"github.com/aeolun/ircrelay/pkg/registry"
)

// writeTimeout bounds a single write to a slow peer
const writeTimeout = 30 * time.Second

// SafeConn owns the write side of one client connection.
//
// The event loop never writes to a socket. It only enqueues encoded lines on
// a bounded queue that a dedicated writer goroutine drains, so a slow peer can
// never stall the loop. When the queue is full the line is refused and the
// overflow callback runs (on the loop goroutine) so the client can be
// disconnected with "SendQ exceeded".
type SafeConn struct {
	id        registry.ClientID
	conn      net.Conn
	transport string

	queue      chan []byte
	closeOnce  sync.Once
	overflowed bool // loop goroutine only
	onOverflow func(registry.ClientID)

	done chan struct{}
}

// NewSafeConn wraps conn with a send queue of sendq lines
func NewSafeConn(id registry.ClientID, conn net.Conn, transport string, sendq int, onOverflow func(registry.ClientID)) *SafeConn {
	return &SafeConn{
		id:         id,
		conn:       conn,
		transport:  transport,
		queue:      make(chan []byte, sendq),
		onOverflow: onOverflow,
		done:       make(chan struct{}),
	}
}

// Enqueue queues one encoded line without blocking. It reports false when the
// queue is full or closed; the first refusal triggers the overflow callback.
func (sc *SafeConn) Enqueue(line []byte) bool {
	if sc.overflowed {
		return false
	}
	select {
	case sc.queue <- line:
		return true
	default:
		sc.overflowed = true
		if sc.onOverflow != nil {
			sc.onOverflow(sc.id)
		}
		return false
	}
}

// Overflowed reports whether a line was ever refused
func (sc *SafeConn) Overflowed() bool {
	return sc.overflowed
}

// writeLoop drains the queue to the socket until the queue is closed. A write
// error closes the socket at once, which makes the reader report a hang-up;
// later lines are discarded.
func (sc *SafeConn) writeLoop() {
	defer close(sc.done)

	failed := false
	for line := range sc.queue {
		if failed {
			continue
		}
		err := sc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err == nil {
			_, err = sc.conn.Write(line)
		}
		if err != nil {
			failed = true
			sc.conn.Close()
		}
	}

	if !failed {
		sc.conn.Close()
	}
}

// Close stops accepting lines. Lines already queued are still written before
// the socket is closed. Only the loop goroutine calls Close.
func (sc *SafeConn) Close() {
	sc.closeOnce.Do(func() {
		sc.overflowed = true
		close(sc.queue)
	})
}

// Done is closed once the writer has finished and the socket is closed
func (sc *SafeConn) Done() <-chan struct{} {
	return sc.done
}

// RemoteAddr returns the remote network address
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
