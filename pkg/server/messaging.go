package server

import (
	"github.com/aeolun/ircrelay/pkg/protocol"
	"github.com/aeolun/ircrelay/pkg/registry"
)

func (e *Engine) handlePrivmsg(c *registry.Client, msg protocol.Message) {
	e.deliver(c, msg, "PRIVMSG", false)
}

func (e *Engine) handleNotice(c *registry.Client, msg protocol.Message) {
	e.deliver(c, msg, "NOTICE", true)
}

// deliver routes a PRIVMSG or NOTICE to each listed target. NOTICE never
// produces error replies.
func (e *Engine) deliver(c *registry.Client, msg protocol.Message, command string, quiet bool) {
	fail := func(code string, params ...string) {
		if !quiet {
			e.numeric(c, code, params...)
		}
	}

	if len(msg.Params) == 0 || msg.Params[0] == "" {
		fail(protocol.ErrNoRecipient, "No recipient given ("+command+")")
		return
	}
	text := msg.Param(1)
	if text == "" {
		fail(protocol.ErrNoTextToSend, "No text to send")
		return
	}

	for _, target := range splitList(msg.Params[0]) {
		if isChannelName(target) {
			ch, ok := e.registry.Channel(target)
			if !ok {
				fail(protocol.ErrNoSuchChannel, target, "No such channel")
				continue
			}
			if !ch.HasMember(c.ID) {
				fail(protocol.ErrCannotSendToChan, ch.Name, "Cannot send to channel")
				continue
			}
			e.sendToChannel(ch, relay(c, command, true, ch.Name, text), c)
			continue
		}

		recipient, ok := e.registry.ClientByNick(target)
		if !ok || !recipient.Registered {
			fail(protocol.ErrNoSuchNick, target, "No such nick/channel")
			continue
		}
		e.send(recipient, relay(c, command, true, recipient.Nick, text))
	}
}

// handleWho lists the members of a channel, or every visible client whose
// nickname matches a wildcard mask.
func (e *Engine) handleWho(c *registry.Client, msg protocol.Message) {
	mask := msg.Param(0)
	if mask == "" || mask == "0" {
		mask = "*"
	}

	if isChannelName(mask) {
		if ch, ok := e.registry.Channel(mask); ok {
			member := ch.HasMember(c.ID)
			for _, m := range e.registry.Members(ch) {
				if !member && m.Invisible {
					continue
				}
				e.sendWhoReply(c, ch.Name, m, ch.IsOperator(m.ID))
			}
		}
		e.numeric(c, protocol.RplEndOfWho, mask, "End of WHO list")
		return
	}

	for _, m := range e.registry.Clients() {
		if !m.Registered || !matchMask(mask, m.Nick) {
			continue
		}
		if m.Invisible && m.ID != c.ID && !e.registry.SharesChannel(c, m) {
			continue
		}
		e.sendWhoReply(c, "*", m, false)
	}
	e.numeric(c, protocol.RplEndOfWho, mask, "End of WHO list")
}

func (e *Engine) sendWhoReply(c *registry.Client, channel string, m *registry.Client, op bool) {
	flags := "H"
	if op {
		flags += "@"
	}
	e.numeric(c, protocol.RplWhoReply, channel, m.User, m.Host, e.config.ServerName, m.Nick, flags, "0 "+m.RealName)
}
