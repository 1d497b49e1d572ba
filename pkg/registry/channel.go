package registry

import (
	"sort"
	"strconv"
	"time"
)

// Channel is a named group of clients. Members, operators and invitations are
// held by ClientID; the Registry resolves them.
type Channel struct {
	Name      string // as given by the creator
	CreatedAt time.Time

	Topic      string
	TopicSetBy string
	TopicSetAt time.Time

	Key         string // +k, empty when unset
	InviteOnly  bool   // +i
	TopicLocked bool   // +t
	Limit       int    // +l, 0 when unset

	members   map[ClientID]struct{}
	operators map[ClientID]struct{}
	invited   map[ClientID]struct{}
}

func newChannel(name string, now time.Time) *Channel {
	return &Channel{
		Name:        name,
		CreatedAt:   now,
		TopicLocked: true,
		members:     make(map[ClientID]struct{}),
		operators:   make(map[ClientID]struct{}),
		invited:     make(map[ClientID]struct{}),
	}
}

// HasMember reports whether id is in the member set
func (ch *Channel) HasMember(id ClientID) bool {
	_, ok := ch.members[id]
	return ok
}

// IsOperator reports whether id is in the operator set
func (ch *Channel) IsOperator(id ClientID) bool {
	_, ok := ch.operators[id]
	return ok
}

// IsInvited reports whether id holds an invite exception
func (ch *Channel) IsInvited(id ClientID) bool {
	_, ok := ch.invited[id]
	return ok
}

// MemberCount returns the number of members
func (ch *Channel) MemberCount() int {
	return len(ch.members)
}

// OperatorCount returns the number of operators
func (ch *Channel) OperatorCount() int {
	return len(ch.operators)
}

// Full reports whether a +l limit is set and reached.
func (ch *Channel) Full() bool {
	return ch.Limit > 0 && len(ch.members) >= ch.Limit
}

// MemberIDs returns the member IDs in ascending order.
func (ch *Channel) MemberIDs() []ClientID {
	return sortedIDs(ch.members)
}

// OperatorIDs returns the operator IDs in ascending order.
func (ch *Channel) OperatorIDs() []ClientID {
	return sortedIDs(ch.operators)
}

// Modes renders the mode string and its arguments, e.g. "+iklt" with
// ["secret", "10"]. The key is only revealed when showKey is set.
func (ch *Channel) Modes(showKey bool) (string, []string) {
	modes := []byte{'+'}
	var args []string

	if ch.InviteOnly {
		modes = append(modes, 'i')
	}
	if ch.Key != "" {
		modes = append(modes, 'k')
		if showKey {
			args = append(args, ch.Key)
		} else {
			args = append(args, "*")
		}
	}
	if ch.Limit > 0 {
		modes = append(modes, 'l')
		args = append(args, strconv.Itoa(ch.Limit))
	}
	if ch.TopicLocked {
		modes = append(modes, 't')
	}

	return string(modes), args
}

func sortedIDs(set map[ClientID]struct{}) []ClientID {
	ids := make([]ClientID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
