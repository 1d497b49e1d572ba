package registry

import "fmt"

// CheckInvariants verifies the cross-references between clients, nicknames and
// channels. It is meant for tests and debug builds; it walks everything.
func (r *Registry) CheckInvariants() error {
	for folded, id := range r.nicks {
		c, ok := r.clients[id]
		if !ok {
			return fmt.Errorf("nick %q points at missing client %d", folded, id)
		}
		if Fold(c.Nick) != folded {
			return fmt.Errorf("nick %q indexed for client %d whose nick is %q", folded, id, c.Nick)
		}
	}

	for id, c := range r.clients {
		if c.ID != id {
			return fmt.Errorf("client stored under %d has id %d", id, c.ID)
		}
		if c.Nick != "" {
			if owner, ok := r.nicks[Fold(c.Nick)]; !ok || owner != id {
				return fmt.Errorf("client %d nick %q not indexed", id, c.Nick)
			}
		}
		for key := range c.channels {
			ch, ok := r.channels[key]
			if !ok {
				return fmt.Errorf("client %d references missing channel %q", id, key)
			}
			if !ch.HasMember(id) {
				return fmt.Errorf("client %d lists %s but is not a member", id, ch.Name)
			}
		}
		for key := range c.invitedTo {
			ch, ok := r.channels[key]
			if !ok {
				return fmt.Errorf("client %d invited to missing channel %q", id, key)
			}
			if !ch.IsInvited(id) {
				return fmt.Errorf("client %d lists invite to %s that the channel lacks", id, ch.Name)
			}
		}
	}

	for key, ch := range r.channels {
		if Fold(ch.Name) != key {
			return fmt.Errorf("channel %s stored under %q", ch.Name, key)
		}
		if len(ch.members) == 0 {
			return fmt.Errorf("channel %s has no members", ch.Name)
		}
		for id := range ch.members {
			c, ok := r.clients[id]
			if !ok {
				return fmt.Errorf("channel %s has missing member %d", ch.Name, id)
			}
			if _, ok := c.channels[key]; !ok {
				return fmt.Errorf("channel %s member %d does not list it", ch.Name, id)
			}
		}
		for id := range ch.operators {
			if !ch.HasMember(id) {
				return fmt.Errorf("channel %s operator %d is not a member", ch.Name, id)
			}
		}
		for id := range ch.invited {
			c, ok := r.clients[id]
			if !ok {
				return fmt.Errorf("channel %s invites missing client %d", ch.Name, id)
			}
			if _, ok := c.invitedTo[key]; !ok {
				return fmt.Errorf("channel %s invite for %d not mirrored", ch.Name, id)
			}
		}
	}

	return nil
}
