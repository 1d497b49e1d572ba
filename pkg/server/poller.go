package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/aeolun/ircrelay/pkg/registry"
)

const (
	// readChunk is the size of one socket read
	readChunk = 4096

	maxAcceptBackoff = time.Second
)

type eventKind int

const (
	eventAccept eventKind = iota // a listener produced a connection
	eventRead                    // bytes arrived on a connection
	eventHangup                  // a connection hit EOF or a read error
)

func (k eventKind) String() string {
	switch k {
	case eventAccept:
		return "accept"
	case eventRead:
		return "read"
	case eventHangup:
		return "hangup"
	}
	return "unknown"
}

// event is one readiness notification
type event struct {
	kind      eventKind
	conn      net.Conn // eventAccept
	transport string   // eventAccept
	id        registry.ClientID
	data      []byte // eventRead, owned by the receiver
	err       error  // eventHangup, nil on clean EOF
}

// poller funnels readiness from listener and reader goroutines into the event
// loop. Only the loop calls wait; everything else only posts.
type poller struct {
	events   chan event
	maxBatch int
	closed   chan struct{}
}

func newPoller(maxBatch int) *poller {
	if maxBatch <= 0 {
		maxBatch = 64
	}
	return &poller{
		events:   make(chan event, maxBatch*4),
		maxBatch: maxBatch,
		closed:   make(chan struct{}),
	}
}

// post hands an event to the loop. It blocks while the queue is full and
// reports false once the poller is shut down.
func (p *poller) post(ev event) bool {
	select {
	case p.events <- ev:
		return true
	case <-p.closed:
		return false
	}
}

// wait blocks until at least one event is queued, then returns a snapshot of
// up to maxBatch events in arrival order. It returns ctx.Err() on
// cancellation.
func (p *poller) wait(ctx context.Context) ([]event, error) {
	var batch []event
	select {
	case ev := <-p.events:
		batch = append(make([]event, 0, p.maxBatch), ev)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for len(batch) < p.maxBatch {
		select {
		case ev := <-p.events:
			batch = append(batch, ev)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// shutdown releases every goroutine blocked in post
func (p *poller) shutdown() {
	close(p.closed)
}

// acceptLoop posts one accept event per connection until the listener is
// closed. Transient accept errors are reported to onError and retried with
// backoff.
func (p *poller) acceptLoop(ln net.Listener, transport string, onError func(error)) error {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-p.closed:
				return nil
			default:
			}

			if onError != nil {
				onError(err)
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}

		if !p.post(event{kind: eventAccept, conn: conn, transport: transport}) {
			conn.Close()
			return nil
		}
	}
}

// readLoop posts the bytes of every read, then one hang-up event.
func (p *poller) readLoop(id registry.ClientID, conn net.Conn) {
	buf := make([]byte, readChunk)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !p.post(event{kind: eventRead, id: id, data: data}) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			p.post(event{kind: eventHangup, id: id, err: err})
			return
		}
	}
}
