package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aeolun/ircrelay/pkg/protocol"
	"github.com/rs/zerolog"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

// probeTag marks messages sent by the load generator. The send time rides
// along so any receiving bot can measure relay latency.
const probeTag = "ircload"

var loremWords = strings.Fields(strings.NewReplacer(",", "", ".", "").Replace(loremIpsum))

var errClosed = errors.New("connection closed")

// generateNick combines fragments of two random words with the bot id, which
// keeps nicknames unique and within the default length limit.
func generateNick(rng *rand.Rand, id int) string {
	word1 := loremWords[rng.Intn(len(loremWords))]
	word2 := loremWords[rng.Intn(len(loremWords))]

	frag := func(w string) string {
		n := 3 + rng.Intn(3)
		if n > len(w) {
			n = len(w)
		}
		return w[:n]
	}

	nick := strings.ToLower(frag(word1) + frag(word2))
	return nick + strconv.Itoa(id)
}

// probeText builds a message body carrying its send time
func probeText(rng *rand.Rand, sent time.Time) string {
	wordCount := 3 + rng.Intn(10)
	words := make([]string, 0, wordCount+2)
	words = append(words, probeTag, strconv.FormatInt(sent.UnixNano(), 10))
	for i := 0; i < wordCount; i++ {
		words = append(words, loremWords[rng.Intn(len(loremWords))])
	}
	return strings.Join(words, " ")
}

// parseProbe extracts the send time from a probe body
func parseProbe(text string) (time.Time, bool) {
	fields := strings.SplitN(text, " ", 3)
	if len(fields) < 2 || fields[0] != probeTag {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// botClient is one simulated IRC client
type botClient struct {
	id      int
	nick    string
	channel string
	conn    net.Conn
	stats   *Stats
	log     zerolog.Logger
	rng     *rand.Rand

	writeMu sync.Mutex

	// Replies the setup phase waits on; the reader never blocks on it
	replies chan protocol.Message
	done    chan struct{}
}

func newBotClient(id int, channel string, stats *Stats, logger zerolog.Logger) *botClient {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	nick := generateNick(rng, id)
	return &botClient{
		id:      id,
		nick:    nick,
		channel: channel,
		stats:   stats,
		log:     logger.With().Int("bot", id).Str("nick", nick).Logger(),
		rng:     rng,
		replies: make(chan protocol.Message, 64),
		done:    make(chan struct{}),
	}
}

// connect dials the server, registers and joins the channel
func (bc *botClient) connect(addr, password string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		bc.stats.connectDialFailed.Add(1)
		return fmt.Errorf("dial: %w", err)
	}
	bc.conn = conn
	go bc.readLoop()

	if password != "" {
		bc.send("PASS " + password)
	}
	bc.send("NICK " + bc.nick)
	bc.send("USER " + bc.nick + " 0 * :ircload bot " + strconv.Itoa(bc.id))

	if err := bc.await(protocol.RplWelcome, timeout); err != nil {
		bc.stats.connectRegisterFailed.Add(1)
		return fmt.Errorf("register: %w", err)
	}

	bc.send("JOIN " + bc.channel)
	if err := bc.await(protocol.RplEndOfNames, timeout); err != nil {
		bc.stats.connectJoinFailed.Add(1)
		return fmt.Errorf("join %s: %w", bc.channel, err)
	}
	return nil
}

// await waits for a reply with the given command, failing on an error numeric
func (bc *botClient) await(command string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case msg := <-bc.replies:
			if msg.Command == command {
				return nil
			}
			if isErrorNumeric(msg.Command) {
				return fmt.Errorf("server replied %s: %s", msg.Command, msg.Param(len(msg.Params)-1))
			}
		case <-bc.done:
			return errClosed
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for %s", command)
		}
	}
}

func (bc *botClient) send(line string) error {
	bc.writeMu.Lock()
	defer bc.writeMu.Unlock()

	bc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := bc.conn.Write([]byte(line + "\r\n"))
	return err
}

// readLoop frames server output, answers PINGs and measures probe latency
func (bc *botClient) readLoop() {
	defer close(bc.done)

	lines := protocol.NewLineBuffer(0)
	buf := make([]byte, 4096)
	for {
		n, err := bc.conn.Read(buf)
		if n > 0 {
			complete, _ := lines.Feed(buf[:n])
			for _, line := range complete {
				msg, perr := protocol.ParseLine(line)
				if perr != nil {
					continue
				}
				bc.handle(msg)
			}
		}
		if err != nil {
			return
		}
	}
}

func (bc *botClient) handle(msg protocol.Message) {
	switch {
	case msg.Command == "PING":
		bc.send("PONG :" + msg.Param(len(msg.Params)-1))
		return
	case msg.Command == "PRIVMSG":
		if sent, ok := parseProbe(msg.Param(1)); ok {
			bc.stats.recordReceived(time.Since(sent))
		}
		return
	case msg.Command == "ERROR":
		bc.log.Debug().Str("reason", msg.Param(0)).Msg("server closed link")
	case isErrorNumeric(msg.Command):
		bc.stats.recordErrorReply()
		bc.log.Debug().Str("numeric", msg.Command).Strs("params", msg.Params).Msg("error reply")
	}

	select {
	case bc.replies <- msg:
	default:
	}
}

// run posts probes at random intervals until the duration ends or ctx is done
func (bc *botClient) run(ctx context.Context, duration, minDelay, maxDelay time.Duration) {
	end := time.Now().Add(duration)

	for time.Now().Before(end) {
		text := probeText(bc.rng, time.Now())
		if err := bc.send("PRIVMSG " + bc.channel + " :" + text); err != nil {
			bc.stats.recordSendFailure()
			bc.stats.recordDisconnection()
			bc.log.Debug().Err(err).Msg("send failed")
			return
		}
		bc.stats.recordSent()

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(bc.rng.Int63n(int64(maxDelay - minDelay)))
		}
		select {
		case <-ctx.Done():
			return
		case <-bc.done:
			bc.stats.recordDisconnection()
			return
		case <-time.After(delay):
		}
	}
}

// close quits politely and waits briefly for the server to hang up
func (bc *botClient) close() {
	if bc.conn == nil {
		return
	}
	bc.send("QUIT :load test finished")
	select {
	case <-bc.done:
	case <-time.After(time.Second):
	}
	bc.conn.Close()
}

// isErrorNumeric reports 4xx and 5xx replies. A missing MOTD is not a failure.
func isErrorNumeric(command string) bool {
	if command == protocol.ErrNoMotd {
		return false
	}
	return len(command) == 3 && command >= "400" && command <= "599"
}
