package server

import (
	"strconv"
	"strings"

	"github.com/aeolun/ircrelay/pkg/protocol"
	"github.com/aeolun/ircrelay/pkg/registry"
)

// namesChunk bounds the nick list of one 353 line
const namesChunk = 400

func (e *Engine) handleJoin(c *registry.Client, msg protocol.Message) {
	if msg.Params[0] == "0" {
		for _, key := range c.Channels() {
			if ch, ok := e.registry.Channel(key); ok {
				e.partChannel(c, ch, "Left all channels")
			}
		}
		return
	}

	names := splitList(msg.Params[0])
	var keys []string
	if len(msg.Params) > 1 {
		keys = strings.Split(msg.Params[1], ",")
	}

	for i, name := range names {
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		e.joinChannel(c, name, key)
	}
}

func (e *Engine) joinChannel(c *registry.Client, name, key string) {
	if !validChannelName(name, e.config.MaxChannelLength) {
		e.numeric(c, protocol.ErrBadChanMask, name, "Bad Channel Mask")
		return
	}

	ch, exists := e.registry.Channel(name)
	if exists && ch.HasMember(c.ID) {
		return
	}
	if c.ChannelCount() >= e.config.MaxChannelsPerClient {
		e.numeric(c, protocol.ErrTooManyChannels, name, "You have joined too many channels")
		return
	}

	if exists {
		if ch.InviteOnly && !ch.IsInvited(c.ID) {
			e.numeric(c, protocol.ErrInviteOnlyChan, ch.Name, "Cannot join channel (+i)")
			return
		}
		if ch.Key != "" && key != ch.Key {
			e.numeric(c, protocol.ErrBadChannelKey, ch.Name, "Cannot join channel (+k)")
			return
		}
		if ch.Full() {
			e.numeric(c, protocol.ErrChannelIsFull, ch.Name, "Cannot join channel (+l)")
			return
		}
	}

	ch, created, err := e.registry.Join(c, name)
	if err != nil {
		e.log.Warn().Err(err).Stringer("client", c.ID).Msg("join failed")
		return
	}
	if created {
		e.log.Debug().Str("channel", ch.Name).Str("nick", c.Nick).Msg("channel created")
	}

	e.sendToChannel(ch, relay(c, "JOIN", false, ch.Name), nil)
	if ch.Topic != "" {
		e.sendTopic(c, ch)
	}
	e.sendNames(c, ch)
}

func (e *Engine) handlePart(c *registry.Client, msg protocol.Message) {
	reason := msg.Param(1)
	for _, name := range splitList(msg.Params[0]) {
		ch, ok := e.registry.Channel(name)
		if !ok {
			e.numeric(c, protocol.ErrNoSuchChannel, name, "No such channel")
			continue
		}
		if !ch.HasMember(c.ID) {
			e.numeric(c, protocol.ErrNotOnChannel, ch.Name, "You're not on that channel")
			continue
		}
		e.partChannel(c, ch, reason)
	}
}

// partChannel announces c leaving ch and removes it
func (e *Engine) partChannel(c *registry.Client, ch *registry.Channel, reason string) {
	part := relay(c, "PART", false, ch.Name)
	if reason != "" {
		part = relay(c, "PART", true, ch.Name, reason)
	}
	e.sendToChannel(ch, part, nil)

	if _, err := e.registry.Part(c, ch.Name); err != nil {
		e.log.Warn().Err(err).Stringer("client", c.ID).Msg("part failed")
	}
}

func (e *Engine) handleTopic(c *registry.Client, msg protocol.Message) {
	ch, ok := e.registry.Channel(msg.Params[0])
	if !ok {
		e.numeric(c, protocol.ErrNoSuchChannel, msg.Params[0], "No such channel")
		return
	}
	if !ch.HasMember(c.ID) {
		e.numeric(c, protocol.ErrNotOnChannel, ch.Name, "You're not on that channel")
		return
	}

	if len(msg.Params) < 2 {
		if ch.Topic == "" {
			e.numeric(c, protocol.RplNoTopic, ch.Name, "No topic is set")
			return
		}
		e.sendTopic(c, ch)
		return
	}

	if ch.TopicLocked && !ch.IsOperator(c.ID) {
		e.numeric(c, protocol.ErrChanOPrivsNeeded, ch.Name, "You're not channel operator")
		return
	}

	ch.Topic = truncate(msg.Params[1], e.config.MaxTopicLength)
	ch.TopicSetBy = c.Nick
	ch.TopicSetAt = e.now()

	e.sendToChannel(ch, relay(c, "TOPIC", true, ch.Name, ch.Topic), nil)
}

func (e *Engine) sendTopic(c *registry.Client, ch *registry.Channel) {
	e.numeric(c, protocol.RplTopic, ch.Name, ch.Topic)
	e.numericWords(c, protocol.RplTopicWhoTime, ch.Name, ch.TopicSetBy, strconv.FormatInt(ch.TopicSetAt.Unix(), 10))
}

func (e *Engine) handleKick(c *registry.Client, msg protocol.Message) {
	ch, ok := e.registry.Channel(msg.Params[0])
	if !ok {
		e.numeric(c, protocol.ErrNoSuchChannel, msg.Params[0], "No such channel")
		return
	}
	if !ch.HasMember(c.ID) {
		e.numeric(c, protocol.ErrNotOnChannel, ch.Name, "You're not on that channel")
		return
	}
	if !ch.IsOperator(c.ID) {
		e.numeric(c, protocol.ErrChanOPrivsNeeded, ch.Name, "You're not channel operator")
		return
	}

	reason := msg.Param(2)
	if reason == "" {
		reason = c.Nick
	}

	for _, nick := range splitList(msg.Params[1]) {
		// An operator who kicked themselves loses the right to go on
		if !ch.HasMember(c.ID) {
			e.numeric(c, protocol.ErrNotOnChannel, ch.Name, "You're not on that channel")
			return
		}
		if !ch.IsOperator(c.ID) {
			e.numeric(c, protocol.ErrChanOPrivsNeeded, ch.Name, "You're not channel operator")
			return
		}

		target, ok := e.registry.ClientByNick(nick)
		if !ok {
			e.numeric(c, protocol.ErrNoSuchNick, nick, "No such nick/channel")
			continue
		}
		if !ch.HasMember(target.ID) {
			e.numeric(c, protocol.ErrUserNotInChannel, target.Nick, ch.Name, "They aren't on that channel")
			continue
		}

		e.sendToChannel(ch, relay(c, "KICK", true, ch.Name, target.Nick, reason), nil)

		dropped, err := e.registry.Part(target, ch.Name)
		if err != nil {
			e.log.Warn().Err(err).Stringer("client", target.ID).Msg("kick failed")
			continue
		}
		e.log.Info().Str("channel", ch.Name).Str("by", c.Nick).Str("target", target.Nick).Msg("kick")
		if dropped {
			return
		}
	}
}

func (e *Engine) handleInvite(c *registry.Client, msg protocol.Message) {
	nick, name := msg.Params[0], msg.Params[1]

	target, ok := e.registry.ClientByNick(nick)
	if !ok {
		e.numeric(c, protocol.ErrNoSuchNick, nick, "No such nick/channel")
		return
	}
	ch, ok := e.registry.Channel(name)
	if !ok {
		e.numeric(c, protocol.ErrNoSuchChannel, name, "No such channel")
		return
	}
	if !ch.HasMember(c.ID) {
		e.numeric(c, protocol.ErrNotOnChannel, ch.Name, "You're not on that channel")
		return
	}
	if ch.InviteOnly && !ch.IsOperator(c.ID) {
		e.numeric(c, protocol.ErrChanOPrivsNeeded, ch.Name, "You're not channel operator")
		return
	}
	if ch.HasMember(target.ID) {
		e.numeric(c, protocol.ErrUserOnChannel, target.Nick, ch.Name, "is already on channel")
		return
	}

	if err := e.registry.Invite(ch, target.ID); err != nil {
		e.log.Warn().Err(err).Stringer("client", target.ID).Msg("invite failed")
		return
	}

	e.numericWords(c, protocol.RplInviting, target.Nick, ch.Name)
	e.send(target, relay(c, "INVITE", false, target.Nick, ch.Name))
}

func (e *Engine) handleNames(c *registry.Client, msg protocol.Message) {
	if len(msg.Params) == 0 || msg.Params[0] == "" {
		for _, key := range c.Channels() {
			if ch, ok := e.registry.Channel(key); ok {
				e.sendNames(c, ch)
			}
		}
		return
	}

	for _, name := range splitList(msg.Params[0]) {
		ch, ok := e.registry.Channel(name)
		if !ok {
			e.numeric(c, protocol.RplEndOfNames, name, "End of /NAMES list")
			continue
		}
		e.sendNames(c, ch)
	}
}

// sendNames lists the visible members of ch, operators prefixed with '@',
// split over as many 353 lines as needed.
func (e *Engine) sendNames(c *registry.Client, ch *registry.Channel) {
	member := ch.HasMember(c.ID)

	var batch strings.Builder
	flush := func() {
		if batch.Len() > 0 {
			e.numeric(c, protocol.RplNamReply, "=", ch.Name, batch.String())
			batch.Reset()
		}
	}

	for _, m := range e.registry.Members(ch) {
		if !member && m.Invisible {
			continue
		}
		entry := m.Nick
		if ch.IsOperator(m.ID) {
			entry = "@" + entry
		}
		if batch.Len()+len(entry)+1 > namesChunk {
			flush()
		}
		if batch.Len() > 0 {
			batch.WriteByte(' ')
		}
		batch.WriteString(entry)
	}
	flush()

	e.numeric(c, protocol.RplEndOfNames, ch.Name, "End of /NAMES list")
}
