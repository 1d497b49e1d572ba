// Package registry holds every client and channel known to the server.
//
// The Registry is owned by the server's event loop goroutine and is not safe
// for concurrent use. Channels reference clients by ClientID only, so removing
// a client can never leave a dangling reference behind: RemoveClient strips it
// from every member, operator and invite set before it returns.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrDuplicateClient  = errors.New("client already exists")
	ErrNoSuchClient     = errors.New("no such client")
	ErrNickInUse        = errors.New("nickname is already in use")
	ErrNoSuchChannel    = errors.New("no such channel")
	ErrNotOnChannel     = errors.New("not on channel")
	ErrAlreadyOnChannel = errors.New("already on channel")
)

// Registry owns all clients and channels
type Registry struct {
	clients  map[ClientID]*Client
	nicks    map[string]ClientID // folded nickname -> client
	channels map[string]*Channel // folded channel name -> channel
	now      func() time.Time
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		clients:  make(map[ClientID]*Client),
		nicks:    make(map[string]ClientID),
		channels: make(map[string]*Channel),
		now:      time.Now,
	}
}

// AddClient registers a freshly accepted connection.
func (r *Registry) AddClient(id ClientID, host string, port int, transport string, out Outbox) (*Client, error) {
	if _, exists := r.clients[id]; exists {
		return nil, fmt.Errorf("add client %d: %w", id, ErrDuplicateClient)
	}

	c := &Client{
		ID:          id,
		Host:        host,
		Port:        port,
		Transport:   transport,
		ConnectedAt: r.now(),
		channels:    make(map[string]struct{}),
		invitedTo:   make(map[string]struct{}),
		out:         out,
	}
	r.clients[id] = c
	return c, nil
}

// Client looks a client up by ID
func (r *Registry) Client(id ClientID) (*Client, bool) {
	c, ok := r.clients[id]
	return c, ok
}

// ClientByNick looks a client up by nickname, case-insensitively
func (r *Registry) ClientByNick(nick string) (*Client, bool) {
	id, ok := r.nicks[Fold(nick)]
	if !ok {
		return nil, false
	}
	return r.clients[id], true
}

// Clients returns every client ordered by ID
func (r *Registry) Clients() []*Client {
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients
}

// ClientCount returns the number of live clients
func (r *Registry) ClientCount() int {
	return len(r.clients)
}

// SetNick gives c a new nickname. Changing only the case of the current
// nickname is allowed; taking a nickname held by another client returns
// ErrNickInUse and leaves c untouched.
func (r *Registry) SetNick(c *Client, nick string) error {
	folded := Fold(nick)
	if owner, taken := r.nicks[folded]; taken && owner != c.ID {
		return fmt.Errorf("set nick %q: %w", nick, ErrNickInUse)
	}

	if c.Nick != "" {
		delete(r.nicks, Fold(c.Nick))
	}
	r.nicks[folded] = c.ID
	c.Nick = nick
	return nil
}

// RemoveClient deletes a client and detaches it from every channel. Channels
// left without members are dropped; their names are returned.
func (r *Registry) RemoveClient(id ClientID) []string {
	c, ok := r.clients[id]
	if !ok {
		return nil
	}

	var dropped []string
	for _, key := range c.Channels() {
		ch := r.channels[key]
		if ch == nil {
			continue
		}
		if r.detach(ch, c) {
			dropped = append(dropped, ch.Name)
		}
	}

	for key := range c.invitedTo {
		if ch := r.channels[key]; ch != nil {
			delete(ch.invited, c.ID)
		}
	}
	c.invitedTo = nil

	if c.Nick != "" && r.nicks[Fold(c.Nick)] == id {
		delete(r.nicks, Fold(c.Nick))
	}
	delete(r.clients, id)

	return dropped
}

// Channel looks a channel up by name, case-insensitively
func (r *Registry) Channel(name string) (*Channel, bool) {
	ch, ok := r.channels[Fold(name)]
	return ch, ok
}

// Channels returns every channel ordered by canonical name
func (r *Registry) Channels() []*Channel {
	keys := make([]string, 0, len(r.channels))
	for key := range r.channels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	channels := make([]*Channel, 0, len(keys))
	for _, key := range keys {
		channels = append(channels, r.channels[key])
	}
	return channels
}

// ChannelCount returns the number of channels
func (r *Registry) ChannelCount() int {
	return len(r.channels)
}

// Join adds c to the named channel, creating it when absent. The creator of a
// channel becomes its only operator. Any invitation c held for the channel is
// consumed. Admission checks (key, invite-only, limit) are the caller's job.
func (r *Registry) Join(c *Client, name string) (*Channel, bool, error) {
	key := Fold(name)

	ch, exists := r.channels[key]
	if exists && ch.HasMember(c.ID) {
		return ch, false, fmt.Errorf("join %s: %w", name, ErrAlreadyOnChannel)
	}

	if !exists {
		ch = newChannel(name, r.now())
		r.channels[key] = ch
		ch.operators[c.ID] = struct{}{}
	}

	ch.members[c.ID] = struct{}{}
	c.channels[key] = struct{}{}

	delete(ch.invited, c.ID)
	delete(c.invitedTo, key)

	return ch, !exists, nil
}

// Part removes c from the named channel. It reports whether the channel was
// dropped because it became empty.
func (r *Registry) Part(c *Client, name string) (bool, error) {
	ch, ok := r.channels[Fold(name)]
	if !ok {
		return false, fmt.Errorf("part %s: %w", name, ErrNoSuchChannel)
	}
	if !ch.HasMember(c.ID) {
		return false, fmt.Errorf("part %s: %w", name, ErrNotOnChannel)
	}
	return r.detach(ch, c), nil
}

// SetOperator grants or revokes operator status. The target must be a member.
func (r *Registry) SetOperator(ch *Channel, id ClientID, op bool) error {
	if !ch.HasMember(id) {
		return fmt.Errorf("set operator on %s: %w", ch.Name, ErrNotOnChannel)
	}
	if op {
		ch.operators[id] = struct{}{}
	} else {
		delete(ch.operators, id)
	}
	return nil
}

// Invite records an invite exception for the client on the channel.
func (r *Registry) Invite(ch *Channel, id ClientID) error {
	c, ok := r.clients[id]
	if !ok {
		return fmt.Errorf("invite to %s: %w", ch.Name, ErrNoSuchClient)
	}
	ch.invited[id] = struct{}{}
	c.invitedTo[Fold(ch.Name)] = struct{}{}
	return nil
}

// Members resolves the member set of a channel, ordered by ID.
func (r *Registry) Members(ch *Channel) []*Client {
	ids := ch.MemberIDs()
	members := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.clients[id]; ok {
			members = append(members, c)
		}
	}
	return members
}

// Peers returns every client sharing at least one channel with c, each once,
// c excluded, ordered by ID.
func (r *Registry) Peers(c *Client) []*Client {
	seen := make(map[ClientID]struct{})
	for key := range c.channels {
		ch := r.channels[key]
		if ch == nil {
			continue
		}
		for id := range ch.members {
			if id != c.ID {
				seen[id] = struct{}{}
			}
		}
	}

	peers := make([]*Client, 0, len(seen))
	for _, id := range sortedIDs(seen) {
		if p, ok := r.clients[id]; ok {
			peers = append(peers, p)
		}
	}
	return peers
}

// SharesChannel reports whether a and b have at least one channel in common.
func (r *Registry) SharesChannel(a, b *Client) bool {
	small, other := a, b
	if len(b.channels) < len(a.channels) {
		small, other = b, a
	}
	for key := range small.channels {
		if _, ok := other.channels[key]; ok {
			return true
		}
	}
	return false
}

// detach removes c from ch's member and operator sets and drops ch when it is
// left empty. It reports whether ch was dropped.
func (r *Registry) detach(ch *Channel, c *Client) bool {
	key := Fold(ch.Name)

	delete(ch.operators, c.ID)
	delete(ch.members, c.ID)
	delete(c.channels, key)

	if len(ch.members) > 0 {
		return false
	}

	for id := range ch.invited {
		if invitee, ok := r.clients[id]; ok {
			delete(invitee.invitedTo, key)
		}
	}
	delete(r.channels, key)
	return true
}
