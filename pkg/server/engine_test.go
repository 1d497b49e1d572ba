package server

import (
	"strings"
	"testing"

	"github.com/aeolun/ircrelay/pkg/protocol"
	"github.com/aeolun/ircrelay/pkg/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Engine harness: drives the engine directly, no sockets involved
// ---------------------------------------------------------------------------

// inbox records what the engine queued for one client
type inbox struct {
	msgs []protocol.Message
}

func (in *inbox) Enqueue(line []byte) bool {
	msg, err := protocol.ParseLine([]byte(strings.TrimRight(string(line), "\r\n")))
	if err == nil {
		in.msgs = append(in.msgs, msg)
	}
	return true
}

// take returns and forgets everything received so far
func (in *inbox) take() []protocol.Message {
	msgs := in.msgs
	in.msgs = nil
	return msgs
}

type engineHarness struct {
	t        *testing.T
	engine   *Engine
	registry *registry.Registry
	inboxes  map[registry.ClientID]*inbox
	released []registry.ClientID
	nextID   registry.ClientID
}

func testConfig() ServerConfig {
	cfg := DefaultConfig()
	cfg.ServerName = "irc.test"
	cfg.NetworkName = "TestNet"
	cfg.MOTD = []string{"hello"}
	return cfg
}

func newEngineHarness(t *testing.T, cfg ServerConfig) *engineHarness {
	t.Helper()
	h := &engineHarness{
		t:        t,
		registry: registry.New(),
		inboxes:  make(map[registry.ClientID]*inbox),
	}
	engine, err := NewEngine(cfg, h.registry, NewMetrics(), zerolog.Nop(), func(id registry.ClientID) {
		h.released = append(h.released, id)
	})
	require.NoError(t, err)
	h.engine = engine

	t.Cleanup(func() {
		assert.NoError(t, h.registry.CheckInvariants())
	})
	return h
}

// connect adds an unregistered client
func (h *engineHarness) connect() *registry.Client {
	h.t.Helper()
	h.nextID++
	in := &inbox{}
	c, err := h.registry.AddClient(h.nextID, "127.0.0.1", 40000+int(h.nextID), transportTCP, in)
	require.NoError(h.t, err)
	h.inboxes[c.ID] = in
	return c
}

// register connects a client and completes registration as nick
func (h *engineHarness) register(nick string) *registry.Client {
	h.t.Helper()
	c := h.connect()
	h.send(c, "NICK "+nick)
	h.send(c, "USER "+nick+" 0 * :Real "+nick)
	require.True(h.t, c.Registered, "%s should be registered", nick)
	h.inboxes[c.ID].take()
	return c
}

func (h *engineHarness) send(c *registry.Client, line string) {
	h.engine.HandleLine(c, []byte(line))
}

func (h *engineHarness) take(c *registry.Client) []protocol.Message {
	return h.inboxes[c.ID].take()
}

// commands lists the command or numeric of each message
func commands(msgs []protocol.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Command
	}
	return out
}

// find returns the first message with the given command
func find(t *testing.T, msgs []protocol.Message, command string) protocol.Message {
	t.Helper()
	for _, m := range msgs {
		if m.Command == command {
			return m
		}
	}
	t.Fatalf("no %s in %v", command, commands(msgs))
	return protocol.Message{}
}

func isError(m protocol.Message) bool {
	return len(m.Command) == 3 && m.Command >= "400" && m.Command <= "999"
}

// ---------------------------------------------------------------------------
// Acceptance scenarios
// ---------------------------------------------------------------------------

func TestScenarioRegistration(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	c := h.connect()

	h.send(c, "NICK alice")
	h.send(c, "USER alice 0 * :Alice A")

	require.True(t, c.Registered)
	msgs := h.take(c)
	for _, m := range msgs {
		assert.False(t, isError(m), "unexpected error reply %s", m.String())
	}
	assert.Equal(t, []string{"001", "002", "003", "004", "005", "375", "372", "376"}, commands(msgs))

	welcome := find(t, msgs, "001")
	assert.Equal(t, "irc.test", welcome.Prefix)
	assert.Equal(t, "alice", welcome.Params[0])
	assert.Contains(t, welcome.Params[1], "alice!alice@127.0.0.1")
	assert.Equal(t, 1, h.engine.RegisteredCount())
}

func TestScenarioJoinBeforeRegistration(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	c := h.connect()

	h.send(c, "JOIN #chan")

	msgs := h.take(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, "451", msgs[0].Command)
	assert.Equal(t, "*", msgs[0].Params[0])
	_, exists := h.registry.Channel("#chan")
	assert.False(t, exists)
}

func TestScenarioJoinCreatesChannel(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")

	h.send(alice, "JOIN #chan")

	ch, ok := h.registry.Channel("#chan")
	require.True(t, ok)
	assert.Equal(t, []registry.ClientID{alice.ID}, ch.MemberIDs())
	assert.Equal(t, []registry.ClientID{alice.ID}, ch.OperatorIDs())

	msgs := h.take(alice)
	assert.Equal(t, []string{"JOIN", "353", "366"}, commands(msgs))
	assert.Equal(t, "alice!alice@127.0.0.1", msgs[0].Prefix)
	assert.Equal(t, "@alice", msgs[1].Params[3])
}

func TestScenarioPrivmsgRelay(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	h.send(alice, "JOIN #chan")
	h.send(bob, "JOIN #chan")
	h.take(alice)
	h.take(bob)

	h.send(alice, "PRIVMSG #chan :hi")

	assert.Empty(t, h.take(alice))
	msgs := h.take(bob)
	require.Len(t, msgs, 1)
	assert.Equal(t, "PRIVMSG", msgs[0].Command)
	assert.Equal(t, "alice!alice@127.0.0.1", msgs[0].Prefix)
	assert.Equal(t, []string{"#chan", "hi"}, msgs[0].Params)
}

func TestScenarioKickByNonOperator(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	carol := h.register("carol")
	h.send(alice, "JOIN #chan")
	h.send(bob, "JOIN #chan")
	h.send(carol, "JOIN #chan")
	h.take(bob)

	h.send(bob, "KICK #chan carol")

	msgs := h.take(bob)
	require.Len(t, msgs, 1)
	assert.Equal(t, "482", msgs[0].Command)
	ch, _ := h.registry.Channel("#chan")
	assert.True(t, ch.HasMember(carol.ID))
}

func TestScenarioUnknownCommand(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")

	h.send(alice, "FOO")

	msgs := h.take(alice)
	require.Len(t, msgs, 1)
	assert.Equal(t, "421", msgs[0].Command)
	assert.Equal(t, []string{"alice", "FOO", "Unknown command"}, msgs[0].Params)
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func TestUnknownCommandBeforeNickUsesStar(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	c := h.connect()

	h.send(c, "FOO bar")

	msgs := h.take(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"*", "FOO", "Unknown command"}, msgs[0].Params)
}

func TestPasswordGate(t *testing.T) {
	cfg := testConfig()
	cfg.Password = "sekrit"
	h := newEngineHarness(t, cfg)

	t.Run("missing password blocks registration", func(t *testing.T) {
		c := h.connect()
		h.send(c, "NICK alice")
		h.send(c, "USER alice 0 * :Alice")

		assert.False(t, c.Registered)
		assert.Equal(t, []string{"464"}, commands(h.take(c)))

		h.send(c, "PASS sekrit")
		assert.True(t, c.Registered)
		assert.Equal(t, "001", h.take(c)[0].Command)
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		c := h.connect()
		h.send(c, "PASS nope")
		h.send(c, "NICK bob")
		h.send(c, "USER bob 0 * :Bob")

		assert.False(t, c.Registered)
		assert.Equal(t, []string{"464", "464"}, commands(h.take(c)))
	})

	t.Run("correct password first", func(t *testing.T) {
		c := h.connect()
		h.send(c, "PASS sekrit")
		h.send(c, "NICK carol")
		h.send(c, "USER carol 0 * :Carol")

		assert.True(t, c.Registered)
		h.take(c)
		h.send(c, "PASS sekrit")
		assert.Equal(t, []string{"462"}, commands(h.take(c)))
	})
}

func TestNoPasswordConfiguredAcceptsAnyPass(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	c := h.connect()

	h.send(c, "PASS whatever")
	h.send(c, "NICK alice")
	h.send(c, "USER alice 0 * :Alice")

	assert.True(t, c.Registered)
}

func TestNickErrors(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	h.register("alice")
	c := h.connect()

	h.send(c, "NICK")
	h.send(c, "NICK 9lives")
	h.send(c, "NICK ALICE")
	h.send(c, "NICK "+strings.Repeat("a", 31))

	assert.Equal(t, []string{"431", "432", "433", "432"}, commands(h.take(c)))
	assert.False(t, c.HasNick())
}

func TestNickChangeBroadcastsToPeers(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	carol := h.register("carol")
	h.send(alice, "JOIN #a")
	h.send(bob, "JOIN #a")
	h.take(alice)
	h.take(bob)

	h.send(alice, "NICK Alicia")

	for _, c := range []*registry.Client{alice, bob} {
		msgs := h.take(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, "NICK", msgs[0].Command)
		assert.Equal(t, "alice!alice@127.0.0.1", msgs[0].Prefix)
		assert.Equal(t, []string{"Alicia"}, msgs[0].Params)
	}
	assert.Empty(t, h.take(carol))

	found, ok := h.registry.ClientByNick("alicia")
	require.True(t, ok)
	assert.Equal(t, alice.ID, found.ID)
}

func TestUserErrors(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	c := h.connect()

	h.send(c, "USER alice 0 *")
	h.send(c, "USER al@ice 0 * :Alice")
	h.send(c, "USER alice 0 * :Alice")
	h.send(c, "USER alice 0 * :Alice")

	assert.Equal(t, []string{"461", "468", "462"}, commands(h.take(c)))
}

func TestRegisteredCommandsNeedRegistration(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	c := h.connect()

	for _, line := range []string{"PRIVMSG x :y", "PART #a", "MODE #a", "TOPIC #a", "NAMES", "WHO", "MOTD"} {
		h.send(c, line)
		msgs := h.take(c)
		require.Len(t, msgs, 1, line)
		assert.Equal(t, "451", msgs[0].Command, line)
	}
}

func TestPingPong(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	c := h.connect()

	h.send(c, "PING :token123")
	h.send(c, "PING")
	h.send(c, "PONG whatever")

	msgs := h.take(c)
	require.Len(t, msgs, 2)
	assert.Equal(t, "PONG", msgs[0].Command)
	assert.Equal(t, []string{"irc.test", "token123"}, msgs[0].Params)
	assert.Equal(t, "409", msgs[1].Command)
}

func TestCap(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	c := h.connect()

	h.send(c, "CAP LS 302")
	h.send(c, "CAP REQ :multi-prefix")
	h.send(c, "CAP END")
	h.send(c, "CAP BOGUS")

	msgs := h.take(c)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"*", "LS", ""}, msgs[0].Params)
	assert.Equal(t, []string{"*", "NAK", "multi-prefix"}, msgs[1].Params)
	assert.Equal(t, "410", msgs[2].Command)
}

func TestLineTooLong(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	c := h.connect()

	h.engine.LineTooLong(c)

	msgs := h.take(c)
	require.Len(t, msgs, 1)
	assert.Equal(t, "417", msgs[0].Command)
}

func TestEmptyAndPrefixOnlyLinesAreIgnored(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	c := h.connect()

	h.send(c, "")
	h.send(c, "   ")
	h.send(c, ":prefix.only")

	assert.Empty(t, h.take(c))
}

// ---------------------------------------------------------------------------
// Quit and disconnect
// ---------------------------------------------------------------------------

func TestQuitNotifiesPeersAndCleansUp(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	h.send(alice, "JOIN #a,#b")
	h.send(bob, "JOIN #a,#b")
	h.take(alice)
	h.take(bob)

	h.send(alice, "QUIT :gone fishing")

	aliceMsgs := h.take(alice)
	require.Len(t, aliceMsgs, 1)
	assert.Equal(t, "ERROR", aliceMsgs[0].Command)
	assert.Contains(t, aliceMsgs[0].Params[0], "Quit: gone fishing")

	bobMsgs := h.take(bob)
	require.Len(t, bobMsgs, 1, "one QUIT per peer, not per shared channel")
	assert.Equal(t, "QUIT", bobMsgs[0].Command)
	assert.Equal(t, []string{"Quit: gone fishing"}, bobMsgs[0].Params)

	_, ok := h.registry.Client(alice.ID)
	assert.False(t, ok)
	_, ok = h.registry.ClientByNick("alice")
	assert.False(t, ok)
	assert.Equal(t, []registry.ClientID{alice.ID}, h.released)
	assert.Equal(t, 1, h.engine.RegisteredCount())
}

func TestDisconnectDropsEmptyChannels(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	h.send(alice, "JOIN #solo")

	h.engine.Disconnect(alice, causeHangup, "Connection closed")
	h.engine.Disconnect(alice, causeHangup, "Connection closed")

	assert.Equal(t, 0, h.registry.ChannelCount())
	assert.Equal(t, []registry.ClientID{alice.ID}, h.released)
}

func TestShutdownNotice(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	pending := h.connect()

	h.engine.ShutdownNotice("Server shutting down")

	for _, c := range []*registry.Client{alice, pending} {
		msgs := h.take(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, "ERROR", msgs[0].Command)
	}
}

// ---------------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------------

func TestJoinAndPart(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	h.send(alice, "JOIN #a")
	h.take(alice)

	h.send(bob, "JOIN #A")
	bobMsgs := h.take(bob)
	assert.Equal(t, []string{"JOIN", "353", "366"}, commands(bobMsgs))
	assert.Equal(t, []string{"#a"}, bobMsgs[0].Params, "canonical name keeps the creator's spelling")
	assert.Equal(t, "@alice bob", bobMsgs[1].Params[3])
	assert.Equal(t, []string{"JOIN"}, commands(h.take(alice)))

	h.send(bob, "PART #a :bye")
	for _, c := range []*registry.Client{alice, bob} {
		msgs := h.take(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, "PART", msgs[0].Command)
		assert.Equal(t, []string{"#a", "bye"}, msgs[0].Params)
	}

	h.send(bob, "PART #a")
	h.send(bob, "PART #nowhere")
	assert.Equal(t, []string{"442", "403"}, commands(h.take(bob)))

	h.send(alice, "PART #a")
	assert.Equal(t, 0, h.registry.ChannelCount())
}

func TestJoinZeroPartsAll(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	h.send(alice, "JOIN #a,#b,#c")
	require.Equal(t, 3, alice.ChannelCount())
	h.take(alice)

	h.send(alice, "JOIN 0")

	assert.Equal(t, 0, alice.ChannelCount())
	assert.Equal(t, []string{"PART", "PART", "PART"}, commands(h.take(alice)))
}

func TestJoinErrors(t *testing.T) {
	cfg := testConfig()
	cfg.MaxChannelsPerClient = 1
	h := newEngineHarness(t, cfg)
	alice := h.register("alice")

	h.send(alice, "JOIN nochan")
	h.send(alice, "JOIN #")
	h.send(alice, "JOIN #ok")
	h.take(alice)
	h.send(alice, "JOIN #second")
	h.send(alice, "JOIN")

	assert.Equal(t, []string{"405", "461"}, commands(h.take(alice)))
	assert.Equal(t, 1, h.registry.ChannelCount())
}

func TestChannelKeyAndLimit(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	carol := h.register("carol")
	h.send(alice, "JOIN #k")
	h.take(alice)

	h.send(alice, "MODE #k +kl secret 2")
	msgs := h.take(alice)
	require.Len(t, msgs, 1)
	assert.Equal(t, "MODE", msgs[0].Command)
	assert.Equal(t, []string{"#k", "+kl", "secret", "2"}, msgs[0].Params)

	h.send(alice, "MODE #k +k other")
	assert.Equal(t, []string{"467"}, commands(h.take(alice)))

	h.send(bob, "JOIN #k")
	h.send(bob, "JOIN #k wrong")
	assert.Equal(t, []string{"475", "475"}, commands(h.take(bob)))

	h.send(bob, "JOIN #k secret")
	assert.Equal(t, "JOIN", h.take(bob)[0].Command)
	h.take(alice)

	h.send(carol, "JOIN #k secret")
	assert.Equal(t, []string{"471"}, commands(h.take(carol)))

	h.send(alice, "MODE #k")
	view := h.take(alice)
	assert.Equal(t, []string{"324", "329"}, commands(view))
	assert.Equal(t, []string{"alice", "#k", "+klt", "secret", "2"}, view[0].Params)

	h.send(carol, "MODE #k")
	view = h.take(carol)
	assert.Equal(t, []string{"carol", "#k", "+klt", "*", "2"}, view[0].Params, "key is hidden from non-members")
}

func TestInviteOnly(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	carol := h.register("carol")
	h.send(alice, "JOIN #priv")
	h.send(alice, "MODE #priv +i")
	h.send(carol, "JOIN #priv")
	h.take(alice)

	assert.Equal(t, []string{"473"}, commands(h.take(carol)))

	h.send(alice, "INVITE carol #priv")
	assert.Equal(t, []string{"341"}, commands(h.take(alice)))
	invite := h.take(carol)
	require.Len(t, invite, 1)
	assert.Equal(t, "INVITE", invite[0].Command)
	assert.Equal(t, []string{"carol", "#priv"}, invite[0].Params)

	h.send(carol, "JOIN #priv")
	assert.Equal(t, "JOIN", h.take(carol)[0].Command)
	h.take(alice)

	h.send(carol, "INVITE bob #priv")
	assert.Equal(t, []string{"482"}, commands(h.take(carol)), "only operators invite to +i channels")

	h.send(alice, "INVITE carol #priv")
	h.send(alice, "INVITE nobody #priv")
	h.send(alice, "INVITE bob #missing")
	assert.Equal(t, []string{"443", "401", "403"}, commands(h.take(alice)))
	assert.Empty(t, h.take(bob))
}

func TestTopic(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	h.send(alice, "JOIN #t")
	h.send(bob, "JOIN #t")
	h.take(alice)
	h.take(bob)

	h.send(bob, "TOPIC #t")
	assert.Equal(t, []string{"331"}, commands(h.take(bob)))

	h.send(bob, "TOPIC #t :bob's topic")
	assert.Equal(t, []string{"482"}, commands(h.take(bob)), "channels start +t")

	h.send(alice, "TOPIC #t :welcome all")
	for _, c := range []*registry.Client{alice, bob} {
		msgs := h.take(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, "TOPIC", msgs[0].Command)
		assert.Equal(t, []string{"#t", "welcome all"}, msgs[0].Params)
	}

	h.send(bob, "TOPIC #t")
	msgs := h.take(bob)
	assert.Equal(t, []string{"332", "333"}, commands(msgs))
	assert.Equal(t, "welcome all", msgs[0].Params[2])
	assert.Equal(t, "alice", msgs[1].Params[2])

	h.send(alice, "MODE #t -t")
	h.take(alice)
	h.take(bob)
	h.send(bob, "TOPIC #t :anyone")
	assert.Equal(t, "TOPIC", h.take(alice)[0].Command)

	carol := h.register("carol")
	h.send(carol, "JOIN #t")
	assert.Equal(t, []string{"JOIN", "332", "333", "353", "366"}, commands(h.take(carol)))
	h.take(alice)

	h.send(carol, "TOPIC #nowhere")
	h.send(alice, "PART #t")
	h.send(alice, "TOPIC #t :x")
	assert.Equal(t, []string{"403"}, commands(h.take(carol)))
	assert.Equal(t, []string{"PART", "442"}, commands(h.take(alice)))
}

func TestKick(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	carol := h.register("carol")
	h.send(alice, "JOIN #k")
	h.send(bob, "JOIN #k")
	h.take(alice)
	h.take(bob)

	h.send(alice, "KICK #k bob :behave")
	for _, c := range []*registry.Client{alice, bob} {
		msgs := h.take(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, "KICK", msgs[0].Command)
		assert.Equal(t, []string{"#k", "bob", "behave"}, msgs[0].Params)
	}
	ch, _ := h.registry.Channel("#k")
	assert.False(t, ch.HasMember(bob.ID))

	h.send(alice, "KICK #k carol")
	h.send(alice, "KICK #k ghost")
	h.send(carol, "KICK #k alice")
	assert.Equal(t, []string{"441", "401"}, commands(h.take(alice)))
	assert.Equal(t, []string{"442"}, commands(h.take(carol)))

	h.send(alice, "KICK #k alice")
	assert.Equal(t, 0, h.registry.ChannelCount(), "kicking the last member drops the channel")
}

func TestKickStopsOnceKickerLeaves(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	carol := h.register("carol")
	for _, c := range []*registry.Client{alice, bob, carol} {
		h.send(c, "JOIN #c")
	}
	h.take(alice)
	h.take(bob)
	h.take(carol)

	h.send(alice, "KICK #c alice,bob")

	assert.Equal(t, []string{"KICK", "442"}, commands(h.take(alice)))
	msgs := h.take(bob)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"#c", "alice", "alice"}, msgs[0].Params)

	ch, ok := h.registry.Channel("#c")
	require.True(t, ok)
	assert.False(t, ch.HasMember(alice.ID))
	assert.True(t, ch.HasMember(bob.ID), "a former operator cannot go on kicking")
	assert.True(t, ch.HasMember(carol.ID))
}

func TestRepliesNeverSplitEchoedParams(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	h.register("bob")
	h.send(alice, "JOIN #c")
	h.take(alice)

	tests := []struct {
		line    string
		command string
		params  []string
	}{
		{"KICK #c :bob carol", "401", []string{"alice", "*", "No such nick/channel"}},
		{"MODE :", "401", []string{"alice", "*", "No such nick/channel"}},
		{"TOPIC :#a b", "403", []string{"alice", "*", "No such channel"}},
		{"INVITE bob :#c d", "403", []string{"alice", "*", "No such channel"}},
		{"NAMES :#x y", "366", []string{"alice", "*", "End of /NAMES list"}},
	}

	for _, tt := range tests {
		h.send(alice, tt.line)
		msgs := h.take(alice)
		require.Len(t, msgs, 1, tt.line)
		assert.Equal(t, tt.command, msgs[0].Command, tt.line)
		assert.Equal(t, tt.params, msgs[0].Params, tt.line)
	}
}

func TestNames(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	carol := h.register("carol")
	h.send(bob, "MODE bob +i")
	h.send(alice, "JOIN #n")
	h.send(bob, "JOIN #n")
	h.take(alice)

	h.send(carol, "NAMES #n")
	msgs := h.take(carol)
	assert.Equal(t, []string{"353", "366"}, commands(msgs))
	assert.Equal(t, "@alice", msgs[0].Params[3], "invisible members are hidden from outsiders")

	h.send(alice, "NAMES #n")
	assert.Equal(t, "@alice bob", h.take(alice)[0].Params[3])

	h.send(carol, "NAMES #missing")
	assert.Equal(t, []string{"366"}, commands(h.take(carol)))
}

func TestNamesSplitsLongLists(t *testing.T) {
	cfg := testConfig()
	cfg.MaxNickLength = 30
	h := newEngineHarness(t, cfg)

	var first *registry.Client
	for i := 0; i < 40; i++ {
		nick := "user" + strings.Repeat("x", 20) + string(rune('a'+i%26)) + string(rune('a'+i/26))
		c := h.register(nick)
		h.send(c, "JOIN #big")
		if first == nil {
			first = c
		}
	}
	h.take(first)

	h.send(first, "NAMES #big")
	msgs := h.take(first)
	require.Greater(t, len(msgs), 2)
	total := 0
	for _, m := range msgs[:len(msgs)-1] {
		assert.Equal(t, "353", m.Command)
		assert.LessOrEqual(t, len(m.Params[3]), namesChunk)
		total += len(strings.Fields(m.Params[3]))
	}
	assert.Equal(t, 40, total)
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

func TestPrivmsgToNickAndErrors(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	h.send(bob, "JOIN #b")
	h.take(bob)

	h.send(alice, "PRIVMSG BOB :hello there")
	msgs := h.take(bob)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"bob", "hello there"}, msgs[0].Params)

	h.send(alice, "PRIVMSG")
	h.send(alice, "PRIVMSG bob")
	h.send(alice, "PRIVMSG ghost :hi")
	h.send(alice, "PRIVMSG #missing :hi")
	h.send(alice, "PRIVMSG #b :hi")
	assert.Equal(t, []string{"411", "412", "401", "403", "404"}, commands(h.take(alice)))
	assert.Empty(t, h.take(bob))
}

func TestPrivmsgMultipleTargets(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	carol := h.register("carol")

	h.send(alice, "PRIVMSG bob,carol,ghost :hi both")

	assert.Len(t, h.take(bob), 1)
	assert.Len(t, h.take(carol), 1)
	assert.Equal(t, []string{"401"}, commands(h.take(alice)))
}

func TestNoticeNeverReplies(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")

	h.send(alice, "NOTICE ghost :hi")
	h.send(alice, "NOTICE #missing :hi")
	h.send(alice, "NOTICE bob")
	assert.Empty(t, h.take(alice))

	h.send(alice, "NOTICE bob :psst")
	msgs := h.take(bob)
	require.Len(t, msgs, 1)
	assert.Equal(t, "NOTICE", msgs[0].Command)
}

func TestWho(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	h.register("alicia")
	hidden := h.register("ally")
	h.send(hidden, "MODE ally +i")
	h.send(alice, "JOIN #w")
	h.take(alice)
	h.take(hidden)

	h.send(alice, "WHO #w")
	msgs := h.take(alice)
	assert.Equal(t, []string{"352", "315"}, commands(msgs))
	assert.Equal(t, []string{"alice", "#w", "alice", "127.0.0.1", "irc.test", "alice", "H@", "0 Real alice"}, msgs[0].Params)

	h.send(alice, "WHO ali*")
	msgs = h.take(alice)
	assert.Equal(t, []string{"352", "352", "315"}, commands(msgs), "invisible users outside shared channels are hidden")

	h.send(hidden, "WHO al?y")
	msgs = h.take(hidden)
	assert.Equal(t, []string{"352", "315"}, commands(msgs))
	assert.Equal(t, "ally", msgs[0].Params[5])
}

func TestMotdCommand(t *testing.T) {
	cfg := testConfig()
	cfg.MOTD = nil
	h := newEngineHarness(t, cfg)
	c := h.connect()
	h.send(c, "NICK alice")
	h.send(c, "USER alice 0 * :Alice")
	msgs := h.take(c)
	assert.Equal(t, "422", msgs[len(msgs)-1].Command)

	h.send(c, "MOTD")
	assert.Equal(t, []string{"422"}, commands(h.take(c)))
}

// ---------------------------------------------------------------------------
// Modes
// ---------------------------------------------------------------------------

func TestUserModes(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	h.register("bob")

	h.send(alice, "MODE alice")
	assert.Equal(t, []string{"alice", "+"}, h.take(alice)[0].Params)

	h.send(alice, "MODE alice +i")
	msgs := h.take(alice)
	require.Len(t, msgs, 1)
	assert.Equal(t, "MODE", msgs[0].Command)
	assert.Equal(t, []string{"alice", "+i"}, msgs[0].Params)
	assert.True(t, alice.Invisible)

	h.send(alice, "MODE alice +i")
	assert.Empty(t, h.take(alice), "no change, no reply")

	h.send(alice, "MODE alice +x")
	h.send(alice, "MODE bob +i")
	h.send(alice, "MODE ghost")
	assert.Equal(t, []string{"501", "502", "401"}, commands(h.take(alice)))
}

func TestChannelOperatorMode(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	h.register("carol")
	h.send(alice, "JOIN #o")
	h.send(bob, "JOIN #o")
	h.take(alice)
	h.take(bob)

	h.send(bob, "MODE #o +o bob")
	assert.Equal(t, []string{"482"}, commands(h.take(bob)))

	h.send(alice, "MODE #o +o bob")
	msgs := h.take(bob)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"#o", "+o", "bob"}, msgs[0].Params)
	ch, _ := h.registry.Channel("#o")
	assert.True(t, ch.IsOperator(bob.ID))

	h.send(alice, "MODE #o +o")
	h.send(alice, "MODE #o +o carol")
	h.send(alice, "MODE #o +o ghost")
	h.send(alice, "MODE #o +z")
	assert.Equal(t, []string{"MODE", "461", "441", "401", "472"}, commands(h.take(alice)))

	h.send(bob, "MODE #o -o alice")
	assert.False(t, ch.IsOperator(alice.ID))
}

func TestChannelModeBanListAndErrors(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")
	bob := h.register("bob")
	h.send(alice, "JOIN #m")
	h.take(alice)

	h.send(bob, "MODE #m b")
	h.send(bob, "MODE #m +b")
	assert.Equal(t, []string{"368", "368"}, commands(h.take(bob)), "anyone may list bans")

	h.send(alice, "MODE #missing +i")
	h.send(alice, "MODE #m +k")
	h.send(alice, "MODE #m +k bad:key")
	h.send(alice, "MODE #m +l")
	h.send(alice, "MODE #m +l zero")
	assert.Equal(t, []string{"403", "461", "696", "461", "696"}, commands(h.take(alice)))

	h.send(alice, "MODE #m +k ok")
	h.take(alice)
	h.send(alice, "MODE #m -k ignored")
	msgs := h.take(alice)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"#m", "-k", "*"}, msgs[0].Params)
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func TestNeedMoreParams(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")

	for _, line := range []string{"JOIN", "PART", "MODE", "TOPIC", "KICK #a", "INVITE bob"} {
		h.send(alice, line)
		msgs := h.take(alice)
		require.Len(t, msgs, 1, line)
		assert.Equal(t, "461", msgs[0].Command, line)
		assert.Equal(t, strings.Fields(line)[0], msgs[0].Params[1], line)
	}
}

func TestCommandNamesAreCaseSensitive(t *testing.T) {
	h := newEngineHarness(t, testConfig())
	alice := h.register("alice")

	h.send(alice, "join #a")

	assert.Equal(t, []string{"421"}, commands(h.take(alice)))
	assert.Equal(t, 0, h.registry.ChannelCount())
}
