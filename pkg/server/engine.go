package server

import (
	"fmt"
	"time"

	"github.com/aeolun/ircrelay/pkg/protocol"
	"github.com/aeolun/ircrelay/pkg/registry"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Version is reported in the welcome burst
const Version = "ircrelay-1.0.0"

// Disconnect causes, used as the metrics label
const (
	causeQuit     = "quit"
	causeHangup   = "hangup"
	causeSendQ    = "sendq"
	causeShutdown = "shutdown"
)

// handlerFunc executes one command. Handlers turn their own failures into
// numeric replies and never return errors.
type handlerFunc func(e *Engine, c *registry.Client, msg protocol.Message)

// command is one entry of the command table
type command struct {
	name              string
	needsRegistration bool
	minParams         int
	handle            handlerFunc
}

func newCommandTable() map[string]command {
	table := make(map[string]command)
	add := func(name string, needsRegistration bool, minParams int, handle handlerFunc) {
		table[name] = command{name: name, needsRegistration: needsRegistration, minParams: minParams, handle: handle}
	}

	// Registration-exempt
	add("PASS", false, 1, (*Engine).handlePass)
	add("NICK", false, 0, (*Engine).handleNick)
	add("USER", false, 4, (*Engine).handleUser)
	add("QUIT", false, 0, (*Engine).handleQuit)
	add("PING", false, 0, (*Engine).handlePing)
	add("PONG", false, 0, (*Engine).handlePong)
	add("CAP", false, 1, (*Engine).handleCap)

	// Registration-required
	add("JOIN", true, 1, (*Engine).handleJoin)
	add("PART", true, 1, (*Engine).handlePart)
	add("PRIVMSG", true, 0, (*Engine).handlePrivmsg)
	add("NOTICE", true, 0, (*Engine).handleNotice)
	add("MODE", true, 1, (*Engine).handleMode)
	add("TOPIC", true, 1, (*Engine).handleTopic)
	add("KICK", true, 2, (*Engine).handleKick)
	add("INVITE", true, 2, (*Engine).handleInvite)
	add("WHO", true, 0, (*Engine).handleWho)
	add("NAMES", true, 0, (*Engine).handleNames)
	add("MOTD", true, 0, (*Engine).handleMotd)

	return table
}

// Engine is the protocol engine: it dispatches parsed lines to the command
// set, which mutates the registry and queues replies. It is driven by the
// event loop goroutine only.
type Engine struct {
	config    ServerConfig
	registry  *registry.Registry
	metrics   *Metrics
	log       zerolog.Logger
	commands  map[string]command
	passHash  []byte // nil when no password is configured
	startedAt time.Time
	now       func() time.Time

	registered int // clients that completed registration

	// closer is told about every client the engine removed, so the owner can
	// release the transport at the end of the pass.
	closer func(registry.ClientID)
}

// NewEngine builds an engine over reg. The configured password is kept only
// as a bcrypt hash.
func NewEngine(config ServerConfig, reg *registry.Registry, metrics *Metrics, logger zerolog.Logger, closer func(registry.ClientID)) (*Engine, error) {
	e := &Engine{
		config:    config,
		registry:  reg,
		metrics:   metrics,
		log:       logger,
		commands:  newCommandTable(),
		startedAt: time.Now(),
		now:       time.Now,
		closer:    closer,
	}

	if config.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(config.Password), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash server password: %w", err)
		}
		e.passHash = hash
	}

	return e, nil
}

// HandleLine lexes, parses and dispatches one framed line. Empty lines and
// lines without a command are dropped without a reply.
func (e *Engine) HandleLine(c *registry.Client, line []byte) {
	e.metrics.RecordMessageReceived()

	msg, err := protocol.ParseLine(line)
	if err != nil {
		e.log.Debug().Err(err).Stringer("client", c.ID).Msg("dropping line")
		return
	}
	e.Dispatch(c, msg)
}

// Dispatch routes msg to its command, enforcing the registration gate and the
// command's minimum parameter count.
func (e *Engine) Dispatch(c *registry.Client, msg protocol.Message) {
	if msg.Command == "" {
		return
	}

	cmd, ok := e.commands[msg.Command]
	if !ok {
		e.numeric(c, protocol.ErrUnknownCommand, msg.Command, "Unknown command")
		e.metrics.RecordCommand(msg.Command, resultUnknown)
		return
	}

	if cmd.needsRegistration && !c.Registered {
		e.numeric(c, protocol.ErrNotRegistered, "You have not registered")
		e.metrics.RecordCommand(cmd.name, resultUnregistered)
		return
	}

	if len(msg.Params) < cmd.minParams {
		e.numeric(c, protocol.ErrNeedMoreParams, cmd.name, "Not enough parameters")
		e.metrics.RecordCommand(cmd.name, resultNeedMoreParams)
		return
	}

	e.log.Debug().
		Stringer("client", c.ID).
		Str("nick", c.Nick).
		Str("command", cmd.name).
		Int("params", len(msg.Params)).
		Msg("dispatch")

	cmd.handle(e, c, msg)
	e.metrics.RecordCommand(cmd.name, resultOK)
}

// LineTooLong answers a line the framer dropped for its length.
func (e *Engine) LineTooLong(c *registry.Client) {
	e.metrics.RecordOversizedLine()
	e.numeric(c, protocol.ErrInputTooLong, "Input line was too long")
}

// Disconnect removes c from the registry after telling its peers. It is a
// no-op for clients already gone.
func (e *Engine) Disconnect(c *registry.Client, cause, reason string) {
	if _, ok := e.registry.Client(c.ID); !ok {
		return
	}

	if c.Registered {
		e.registered--
		quit := protocol.Message{Prefix: c.Prefix(), Command: "QUIT", Params: []string{reason}, Trailing: true}
		for _, peer := range e.registry.Peers(c) {
			e.send(peer, quit)
		}
	}

	dropped := e.registry.RemoveClient(c.ID)
	e.metrics.RecordDisconnect(cause)

	e.log.Info().
		Stringer("client", c.ID).
		Str("nick", c.Nick).
		Str("cause", cause).
		Str("reason", reason).
		Strs("dropped_channels", dropped).
		Msg("client disconnected")

	if e.closer != nil {
		e.closer(c.ID)
	}
}

// ShutdownNotice sends a final ERROR line to every client.
func (e *Engine) ShutdownNotice(reason string) {
	for _, c := range e.registry.Clients() {
		e.send(c, protocol.Message{Command: "ERROR", Params: []string{reason}, Trailing: true})
	}
}

// send queues one message for c
func (e *Engine) send(c *registry.Client, msg protocol.Message) {
	c.Send(msg.Bytes())
	e.metrics.RecordMessageSent()
}

// numeric sends ":<server> <code> <nick-or-*> <params...>" with the last
// parameter in trailing form.
func (e *Engine) numeric(c *registry.Client, code string, params ...string) {
	all := make([]string, 0, len(params)+1)
	all = append(all, c.NickOrStar())
	all = append(all, params...)
	e.send(c, protocol.NewMessage(e.config.ServerName, code, all...))
}

// numericWords is numeric without forcing the trailing form, for replies made
// only of tokens.
func (e *Engine) numericWords(c *registry.Client, code string, params ...string) {
	all := make([]string, 0, len(params)+1)
	all = append(all, c.NickOrStar())
	all = append(all, params...)
	e.send(c, protocol.Message{Prefix: e.config.ServerName, Command: code, Params: all})
}

// relay builds a message sourced from c
func relay(c *registry.Client, command string, trailing bool, params ...string) protocol.Message {
	return protocol.Message{Prefix: c.Prefix(), Command: command, Params: params, Trailing: trailing}
}

// sendToChannel queues msg for every member of ch except skip (may be nil).
func (e *Engine) sendToChannel(ch *registry.Channel, msg protocol.Message, skip *registry.Client) {
	for _, member := range e.registry.Members(ch) {
		if skip != nil && member.ID == skip.ID {
			continue
		}
		e.send(member, msg)
	}
}

// sendToPeers queues msg for c and every client sharing a channel with it.
func (e *Engine) sendToPeers(c *registry.Client, msg protocol.Message) {
	e.send(c, msg)
	for _, peer := range e.registry.Peers(c) {
		e.send(peer, msg)
	}
}

// RegisteredCount returns how many clients completed registration
func (e *Engine) RegisteredCount() int {
	return e.registered
}
