package registry

import (
	"sort"
	"strconv"
	"time"
)

// ClientID identifies a live connection. IDs are never reused within a process.
type ClientID uint64

func (id ClientID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Outbox receives encoded lines queued for delivery to a client.
// Enqueue reports false when the line could not be queued.
type Outbox interface {
	Enqueue(line []byte) bool
}

// Client represents one connection as seen by the protocol engine
type Client struct {
	ID        ClientID
	Host      string
	Port      int
	Transport string // "tcp" or "websocket"

	Nick     string
	User     string
	RealName string

	Registered   bool
	PassAccepted bool
	Invisible    bool // user mode +i

	ConnectedAt time.Time

	channels  map[string]struct{} // canonical channel names
	invitedTo map[string]struct{} // canonical names of channels holding an invite for this client
	out       Outbox
	dropped   int // lines the outbox refused
}

// Send queues one encoded line for the client.
func (c *Client) Send(line []byte) {
	if c.out == nil {
		return
	}
	if !c.out.Enqueue(line) {
		c.dropped++
	}
}

// Dropped returns how many lines the outbox refused.
func (c *Client) Dropped() int {
	return c.dropped
}

// HasNick reports whether a nickname has been set
func (c *Client) HasNick() bool {
	return c.Nick != ""
}

// NickOrStar returns the nickname, or "*" before one is set. Numeric replies
// are addressed to this value.
func (c *Client) NickOrStar() string {
	if c.Nick == "" {
		return "*"
	}
	return c.Nick
}

// Prefix returns the nick!user@host mask used as the source of relayed
// messages.
func (c *Client) Prefix() string {
	user := c.User
	if user == "" {
		user = "*"
	}
	return c.NickOrStar() + "!" + user + "@" + c.Host
}

// InChannel reports whether the client is a member of the named channel.
func (c *Client) InChannel(name string) bool {
	_, ok := c.channels[Fold(name)]
	return ok
}

// ChannelCount returns the number of channels the client belongs to
func (c *Client) ChannelCount() int {
	return len(c.channels)
}

// Channels returns the canonical names of the client's channels, sorted.
func (c *Client) Channels() []string {
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
