package server

import (
	"strconv"
	"strings"

	"github.com/aeolun/ircrelay/pkg/protocol"
	"github.com/aeolun/ircrelay/pkg/registry"
)

// modeChanges accumulates applied changes as "+it-k" plus arguments
type modeChanges struct {
	modes strings.Builder
	args  []string
	sign  byte
}

func (m *modeChanges) add(adding bool, mode byte, arg ...string) {
	sign := byte('-')
	if adding {
		sign = '+'
	}
	if sign != m.sign {
		m.modes.WriteByte(sign)
		m.sign = sign
	}
	m.modes.WriteByte(mode)
	m.args = append(m.args, arg...)
}

func (m *modeChanges) empty() bool {
	return m.modes.Len() == 0
}

func (m *modeChanges) params(target string) []string {
	params := make([]string, 0, len(m.args)+2)
	params = append(params, target, m.modes.String())
	return append(params, m.args...)
}

func (e *Engine) handleMode(c *registry.Client, msg protocol.Message) {
	if isChannelName(msg.Params[0]) {
		e.channelMode(c, msg)
		return
	}
	e.userMode(c, msg)
}

func (e *Engine) userMode(c *registry.Client, msg protocol.Message) {
	target, ok := e.registry.ClientByNick(msg.Params[0])
	if !ok {
		e.numeric(c, protocol.ErrNoSuchNick, msg.Params[0], "No such nick/channel")
		return
	}
	if target.ID != c.ID {
		e.numeric(c, protocol.ErrUsersDontMatch, "Cant change mode for other users")
		return
	}

	if len(msg.Params) < 2 {
		modes := "+"
		if c.Invisible {
			modes += "i"
		}
		e.numericWords(c, protocol.RplUModeIs, modes)
		return
	}

	var changes modeChanges
	adding := true
	unknown := false
	for i := 0; i < len(msg.Params[1]); i++ {
		switch mode := msg.Params[1][i]; mode {
		case '+':
			adding = true
		case '-':
			adding = false
		case 'i':
			if c.Invisible != adding {
				c.Invisible = adding
				changes.add(adding, mode)
			}
		default:
			unknown = true
		}
	}

	if unknown {
		e.numeric(c, protocol.ErrUModeUnknownFlag, "Unknown MODE flag")
	}
	if !changes.empty() {
		e.send(c, protocol.Message{Prefix: c.Nick, Command: "MODE", Params: changes.params(c.Nick), Trailing: true})
	}
}

// channelMode views or changes the modes of a channel. Supported: i t k l o,
// and an always empty b list.
func (e *Engine) channelMode(c *registry.Client, msg protocol.Message) {
	ch, ok := e.registry.Channel(msg.Params[0])
	if !ok {
		e.numeric(c, protocol.ErrNoSuchChannel, msg.Params[0], "No such channel")
		return
	}

	if len(msg.Params) < 2 {
		modes, args := ch.Modes(ch.HasMember(c.ID))
		e.numericWords(c, protocol.RplChannelModeIs, append([]string{ch.Name, modes}, args...)...)
		e.numericWords(c, protocol.RplCreationTime, ch.Name, strconv.FormatInt(ch.CreatedAt.Unix(), 10))
		return
	}

	flags := msg.Params[1]
	if strings.Trim(flags, "+-b") == "" && strings.Contains(flags, "b") {
		e.numeric(c, protocol.RplEndOfBanList, ch.Name, "End of channel ban list")
		return
	}

	if !ch.IsOperator(c.ID) {
		e.numeric(c, protocol.ErrChanOPrivsNeeded, ch.Name, "You're not channel operator")
		return
	}

	args := msg.Params[2:]
	nextArg := func() (string, bool) {
		if len(args) == 0 {
			return "", false
		}
		arg := args[0]
		args = args[1:]
		return arg, true
	}

	var changes modeChanges
	adding := true
	for i := 0; i < len(flags); i++ {
		mode := flags[i]
		switch mode {
		case '+':
			adding = true
		case '-':
			adding = false

		case 'i':
			if ch.InviteOnly != adding {
				ch.InviteOnly = adding
				changes.add(adding, mode)
			}

		case 't':
			if ch.TopicLocked != adding {
				ch.TopicLocked = adding
				changes.add(adding, mode)
			}

		case 'k':
			if !adding {
				nextArg()
				if ch.Key != "" {
					ch.Key = ""
					changes.add(false, mode, "*")
				}
				continue
			}
			key, ok := nextArg()
			if !ok {
				e.numeric(c, protocol.ErrNeedMoreParams, "MODE", "Not enough parameters")
				continue
			}
			if ch.Key != "" {
				e.numeric(c, protocol.ErrKeySet, ch.Name, "Channel key already set")
				continue
			}
			if !validKey(key) {
				e.numeric(c, protocol.ErrInvalidModeParam, ch.Name, "k", key, "Invalid key")
				continue
			}
			ch.Key = key
			changes.add(true, mode, key)

		case 'l':
			if !adding {
				if ch.Limit > 0 {
					ch.Limit = 0
					changes.add(false, mode)
				}
				continue
			}
			arg, ok := nextArg()
			if !ok {
				e.numeric(c, protocol.ErrNeedMoreParams, "MODE", "Not enough parameters")
				continue
			}
			limit, err := strconv.Atoi(arg)
			if err != nil || limit <= 0 {
				e.numeric(c, protocol.ErrInvalidModeParam, ch.Name, "l", arg, "Invalid limit")
				continue
			}
			if ch.Limit != limit {
				ch.Limit = limit
				changes.add(true, mode, arg)
			}

		case 'o':
			nick, ok := nextArg()
			if !ok {
				e.numeric(c, protocol.ErrNeedMoreParams, "MODE", "Not enough parameters")
				continue
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
			if ch.IsOperator(target.ID) == adding {
				continue
			}
			if err := e.registry.SetOperator(ch, target.ID, adding); err != nil {
				e.log.Warn().Err(err).Stringer("client", target.ID).Msg("mode o failed")
				continue
			}
			changes.add(adding, mode, target.Nick)

		case 'b':
			e.numeric(c, protocol.RplEndOfBanList, ch.Name, "End of channel ban list")

		default:
			e.numeric(c, protocol.ErrUnknownMode, string(mode), "is unknown mode char to me")
		}
	}

	if !changes.empty() {
		e.sendToChannel(ch, relay(c, "MODE", false, changes.params(ch.Name)...), nil)
	}
}
