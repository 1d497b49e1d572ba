package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/ircrelay/pkg/protocol"
	"github.com/aeolun/ircrelay/pkg/registry"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	transportTCP       = "tcp"
	transportWebSocket = "websocket"

	shutdownGrace = 5 * time.Second
)

// connection is the event loop's view of one live transport
type connection struct {
	id        registry.ClientID
	transport string
	out       *SafeConn
	lines     *protocol.LineBuffer
	closing   bool // disconnected, waiting for the end-of-pass reap
}

// Server owns the listeners and the event loop. One goroutine runs the loop
// and is the only one that touches the registry, the engine and the
// connection table; every other goroutine talks to it through the poller.
type Server struct {
	config   ServerConfig
	log      zerolog.Logger
	metrics  *Metrics
	registry *registry.Registry
	engine   *Engine
	poller   *poller
	upgrader *websocket.Upgrader

	listener    net.Listener
	httpServers []*http.Server
	httpAddrs   map[string]net.Addr // "metrics" / "websocket" -> bound address

	// Loop goroutine only
	conns     map[registry.ClientID]*connection
	nextID    registry.ClientID
	reapList  []registry.ClientID
	overflows []registry.ClientID

	// Published by the loop for the HTTP handlers
	liveClients  atomic.Int64
	liveChannels atomic.Int64

	startTime time.Time
	wg        sync.WaitGroup
	running   atomic.Bool
}

// NewServer creates a new server instance
func NewServer(config ServerConfig, logger zerolog.Logger) (*Server, error) {
	s := &Server{
		config:    config,
		log:       logger,
		metrics:   NewMetrics(),
		registry:  registry.New(),
		poller:    newPoller(config.MaxBatch),
		upgrader:  newUpgrader(config.AllowedOrigins),
		httpAddrs: make(map[string]net.Addr),
		conns:     make(map[registry.ClientID]*connection),
		startTime: time.Now(),
	}

	engine, err := NewEngine(config, s.registry, s.metrics, logger, s.release)
	if err != nil {
		return nil, err
	}
	s.engine = engine

	return s, nil
}

// Listen binds the TCP listener and any configured HTTP listeners. Run calls
// it when it has not been called yet.
func (s *Server) Listen() error {
	addr := s.config.ListenAddress()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	// One HTTP listener per distinct address
	type endpoint struct {
		metrics, websocket bool
	}
	endpoints := make(map[string]*endpoint)
	var order []string
	for _, want := range []struct {
		addr string
		kind string
	}{
		{s.config.MetricsListen, "metrics"},
		{s.config.WebSocketListen, "websocket"},
	} {
		if want.addr == "" {
			continue
		}
		ep, ok := endpoints[want.addr]
		if !ok {
			ep = &endpoint{}
			endpoints[want.addr] = ep
			order = append(order, want.addr)
		}
		if want.kind == "metrics" {
			ep.metrics = true
		} else {
			ep.websocket = true
		}
	}

	for _, httpAddr := range order {
		ep := endpoints[httpAddr]
		ln, err := net.Listen("tcp", httpAddr)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("failed to listen on %s: %w", httpAddr, err)
		}

		srv := &http.Server{
			Handler:           s.newHTTPHandler(ep.metrics, ep.websocket),
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.httpServers = append(s.httpServers, srv)

		if ep.metrics {
			s.httpAddrs["metrics"] = ln.Addr()
		}
		if ep.websocket {
			s.httpAddrs["websocket"] = ln.Addr()
		}

		s.wg.Add(1)
		go func(srv *http.Server, ln net.Listener) {
			defer s.wg.Done()
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error().Err(err).Str("addr", ln.Addr().String()).Msg("http server failed")
			}
		}(srv, ln)
	}

	return nil
}

// Addr returns the TCP listener address, nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// MetricsAddr returns the bound metrics listener address, or nil
func (s *Server) MetricsAddr() net.Addr {
	return s.httpAddrs["metrics"]
}

// WebSocketAddr returns the bound WebSocket listener address, or nil
func (s *Server) WebSocketAddr() net.Addr {
	return s.httpAddrs["websocket"]
}

// Metrics returns the server's collectors
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Run serves until ctx is cancelled, then notifies every client and closes
// all connections. It returns only startup errors.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("server already running")
	}
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.log.Info().
		Str("addr", s.listener.Addr().String()).
		Str("server", s.config.ServerName).
		Bool("password", s.config.Password != "").
		Msg("listening")
	for kind, addr := range s.httpAddrs {
		s.log.Info().Str("addr", addr.String()).Str("listener", kind).Msg("http listening")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.poller.acceptLoop(s.listener, transportTCP, func(err error) {
			s.log.Warn().Err(err).Msg("accept error")
		})
		if err != nil {
			s.log.Error().Err(err).Msg("accept loop stopped")
		}
	}()

	s.loop(ctx)
	s.shutdown()
	return nil
}

// loop is the event loop: wait for a snapshot batch, handle it in order,
// then disconnect overflowed clients and reap closed connections.
func (s *Server) loop(ctx context.Context) {
	for {
		batch, err := s.poller.wait(ctx)
		if err != nil {
			return
		}
		s.metrics.RecordBatch(len(batch))

		for _, ev := range batch {
			s.handleEvent(ev)
		}

		s.disconnectOverflowed()
		s.reap()
		s.publishCounts()
	}
}

func (s *Server) handleEvent(ev event) {
	switch ev.kind {
	case eventAccept:
		s.accept(ev.conn, ev.transport)
	case eventRead:
		s.read(ev.id, ev.data)
	case eventHangup:
		s.hangup(ev.id, ev.err)
	}
}

func (s *Server) accept(conn net.Conn, transport string) {
	s.nextID++
	id := s.nextID

	host, port := splitRemote(conn.RemoteAddr())
	out := NewSafeConn(id, conn, transport, s.config.SendQLines, s.markOverflow)

	if _, err := s.registry.AddClient(id, host, port, transport, out); err != nil {
		s.log.Error().Err(err).Stringer("client", id).Msg("failed to add client")
		conn.Close()
		return
	}

	s.conns[id] = &connection{
		id:        id,
		transport: transport,
		out:       out,
		lines:     protocol.NewLineBuffer(s.config.maxLineBody()),
	}
	s.metrics.RecordConnection(transport)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		out.writeLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.poller.readLoop(id, conn)
	}()

	s.log.Info().
		Stringer("client", id).
		Str("remote", conn.RemoteAddr().String()).
		Str("transport", transport).
		Msg("client connected")
}

func (s *Server) read(id registry.ClientID, data []byte) {
	conn, ok := s.conns[id]
	if !ok || conn.closing {
		return
	}
	client, ok := s.registry.Client(id)
	if !ok {
		return
	}

	lines, err := conn.lines.Feed(data)

	// Dropped lines are answered where they sat in the input
	var dropped []int
	var tooLong *protocol.LineTooLongError
	if errors.As(err, &tooLong) {
		dropped = tooLong.At
	}

	for i := 0; i <= len(lines); i++ {
		for len(dropped) > 0 && dropped[0] == i {
			if conn.closing {
				return
			}
			s.engine.LineTooLong(client)
			dropped = dropped[1:]
		}
		if i == len(lines) || conn.closing {
			return
		}
		s.engine.HandleLine(client, lines[i])
	}
}

func (s *Server) hangup(id registry.ClientID, readErr error) {
	conn, ok := s.conns[id]
	if !ok || conn.closing {
		return
	}
	client, ok := s.registry.Client(id)
	if !ok {
		s.release(id)
		return
	}

	reason := "Connection closed"
	if readErr != nil {
		reason = "Read error"
		s.log.Debug().Err(readErr).Stringer("client", id).Msg("read failed")
	}
	s.engine.Disconnect(client, causeHangup, reason)
}

// release is the engine's closer: the connection stops taking events now and
// its transport is closed at the end of the pass.
func (s *Server) release(id registry.ClientID) {
	conn, ok := s.conns[id]
	if !ok || conn.closing {
		return
	}
	conn.closing = true
	s.reapList = append(s.reapList, id)
}

// markOverflow runs on the loop goroutine when a send queue refuses a line
func (s *Server) markOverflow(id registry.ClientID) {
	s.metrics.RecordSendQDrop()
	s.overflows = append(s.overflows, id)
}

// disconnectOverflowed drops every client whose send queue filled up. The QUIT
// broadcasts it sends can overflow further clients, so it runs to a fixpoint.
func (s *Server) disconnectOverflowed() {
	for len(s.overflows) > 0 {
		ids := s.overflows
		s.overflows = nil
		for _, id := range ids {
			if client, ok := s.registry.Client(id); ok {
				s.engine.Disconnect(client, causeSendQ, "SendQ exceeded")
			}
		}
	}
}

// reap closes the send queues of connections released during the pass. Each
// writer flushes what is queued and then closes its socket.
func (s *Server) reap() {
	for _, id := range s.reapList {
		if conn, ok := s.conns[id]; ok {
			conn.out.Close()
			delete(s.conns, id)
		}
	}
	s.reapList = s.reapList[:0]
}

func (s *Server) publishCounts() {
	clients := s.registry.ClientCount()
	channels := s.registry.ChannelCount()
	s.liveClients.Store(int64(clients))
	s.liveChannels.Store(int64(channels))
	s.metrics.SetCounts(clients, s.engine.RegisteredCount(), channels)
}

// shutdown notifies all clients, closes listeners and connections, and waits
// for the worker goroutines.
func (s *Server) shutdown() {
	s.log.Info().Msg("graceful shutdown initiated")

	s.closeListeners()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for _, srv := range s.httpServers {
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("http shutdown")
		}
	}

	s.log.Info().Int("clients", len(s.conns)).Msg("notifying connected clients of shutdown")
	s.engine.ShutdownNotice("Server shutting down")

	raw := make([]*SafeConn, 0, len(s.conns))
	for id, conn := range s.conns {
		s.registry.RemoveClient(id)
		s.metrics.RecordDisconnect(causeShutdown)
		conn.out.Close()
		raw = append(raw, conn.out)
	}
	s.conns = make(map[registry.ClientID]*connection)
	s.poller.shutdown()
	s.discardPending()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("shutdown grace expired, closing remaining connections")
		for _, out := range raw {
			out.conn.Close()
		}
		<-done
	}

	s.publishCounts()
	s.log.Info().Msg("graceful shutdown complete")
}

// discardPending closes connections that were accepted but never reached the
// loop.
func (s *Server) discardPending() {
	for {
		select {
		case ev := <-s.poller.events:
			if ev.kind == eventAccept {
				ev.conn.Close()
			}
		default:
			return
		}
	}
}

func (s *Server) closeListeners() {
	if s.listener != nil {
		s.listener.Close()
	}
}

// splitRemote extracts host and port from a peer address
func splitRemote(addr net.Addr) (string, int) {
	if addr == nil {
		return "unknown", 0
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
