package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aeolun/ircrelay/pkg/protocol"
	"github.com/aeolun/ircrelay/pkg/registry"
	"golang.org/x/crypto/bcrypt"
)

func (e *Engine) handlePass(c *registry.Client, msg protocol.Message) {
	if c.Registered {
		e.numeric(c, protocol.ErrAlreadyRegistered, "You may not reregister")
		return
	}

	if !e.checkPassword(msg.Params[0]) {
		c.PassAccepted = false
		e.numeric(c, protocol.ErrPasswdMismatch, "Password incorrect")
		e.log.Info().Stringer("client", c.ID).Str("remote", c.Host).Msg("password rejected")
		return
	}

	c.PassAccepted = true
	e.tryRegister(c)
}

// checkPassword compares against the configured password. Any password is
// accepted when none is configured.
func (e *Engine) checkPassword(password string) bool {
	if e.passHash == nil {
		return true
	}
	return bcrypt.CompareHashAndPassword(e.passHash, []byte(password)) == nil
}

func (e *Engine) handleNick(c *registry.Client, msg protocol.Message) {
	nick := msg.Param(0)
	if nick == "" {
		e.numeric(c, protocol.ErrNoNicknameGiven, "No nickname given")
		return
	}
	if !validNick(nick, e.config.MaxNickLength) {
		e.numeric(c, protocol.ErrErroneusNickname, nick, "Erroneous nickname")
		return
	}
	if nick == c.Nick {
		return
	}

	oldPrefix := c.Prefix()
	if err := e.registry.SetNick(c, nick); err != nil {
		if errors.Is(err, registry.ErrNickInUse) {
			e.numeric(c, protocol.ErrNicknameInUse, nick, "Nickname is already in use")
		}
		return
	}

	if c.Registered {
		e.sendToPeers(c, protocol.Message{Prefix: oldPrefix, Command: "NICK", Params: []string{nick}, Trailing: true})
		e.log.Info().Stringer("client", c.ID).Str("nick", nick).Msg("nick changed")
		return
	}
	e.tryRegister(c)
}

func (e *Engine) handleUser(c *registry.Client, msg protocol.Message) {
	if c.Registered || c.User != "" {
		e.numeric(c, protocol.ErrAlreadyRegistered, "You may not reregister")
		return
	}

	username := msg.Params[0]
	if !validUsername(username) {
		e.numeric(c, protocol.ErrInvalidUsername, "Malformed username")
		return
	}

	c.User = truncate(username, e.config.MaxNickLength)
	c.RealName = msg.Params[3]
	e.tryRegister(c)
}

// tryRegister completes registration once nickname and username are set and
// the password gate, if any, has been passed.
func (e *Engine) tryRegister(c *registry.Client) {
	if c.Registered || !c.HasNick() || c.User == "" {
		return
	}
	if e.passHash != nil && !c.PassAccepted {
		e.numeric(c, protocol.ErrPasswdMismatch, "Password incorrect")
		return
	}

	c.Registered = true
	e.registered++
	e.log.Info().
		Stringer("client", c.ID).
		Str("nick", c.Nick).
		Str("user", c.User).
		Str("remote", c.Host).
		Str("transport", c.Transport).
		Msg("client registered")

	e.sendWelcome(c)
}

func (e *Engine) sendWelcome(c *registry.Client) {
	cfg := e.config

	e.numeric(c, protocol.RplWelcome, fmt.Sprintf("Welcome to the %s Network, %s", cfg.NetworkName, c.Prefix()))
	e.numeric(c, protocol.RplYourHost, fmt.Sprintf("Your host is %s, running version %s", cfg.ServerName, Version))
	e.numeric(c, protocol.RplCreated, "This server was created "+e.startedAt.UTC().Format("Mon Jan 2 2006 at 15:04:05 MST"))
	e.numericWords(c, protocol.RplMyInfo, cfg.ServerName, Version, "i", "iklot")

	isupport := []string{
		"CASEMAPPING=rfc1459",
		"CHANTYPES=#&",
		"CHANMODES=,k,l,it",
		"PREFIX=(o)@",
		"NETWORK=" + cfg.NetworkName,
		"NICKLEN=" + strconv.Itoa(cfg.MaxNickLength),
		"CHANNELLEN=" + strconv.Itoa(cfg.MaxChannelLength),
		"TOPICLEN=" + strconv.Itoa(cfg.MaxTopicLength),
		"CHANLIMIT=#&:" + strconv.Itoa(cfg.MaxChannelsPerClient),
		"are supported by this server",
	}
	e.numeric(c, protocol.RplISupport, isupport...)

	e.sendMotd(c)
}

func (e *Engine) sendMotd(c *registry.Client) {
	if len(e.config.MOTD) == 0 {
		e.numeric(c, protocol.ErrNoMotd, "MOTD File is missing")
		return
	}

	e.numeric(c, protocol.RplMotdStart, "- "+e.config.ServerName+" Message of the day - ")
	for _, line := range e.config.MOTD {
		e.numeric(c, protocol.RplMotd, "- "+line)
	}
	e.numeric(c, protocol.RplEndOfMotd, "End of /MOTD command.")
}

func (e *Engine) handleMotd(c *registry.Client, _ protocol.Message) {
	e.sendMotd(c)
}

func (e *Engine) handleQuit(c *registry.Client, msg protocol.Message) {
	reason := "Client Quit"
	if text := msg.Param(0); text != "" {
		reason = "Quit: " + text
	}

	e.send(c, protocol.Message{
		Command:  "ERROR",
		Params:   []string{fmt.Sprintf("Closing Link: %s (%s)", c.Host, reason)},
		Trailing: true,
	})
	e.Disconnect(c, causeQuit, reason)
}

func (e *Engine) handlePing(c *registry.Client, msg protocol.Message) {
	token := msg.Param(0)
	if token == "" {
		e.numeric(c, protocol.ErrNoOrigin, "No origin specified")
		return
	}
	e.send(c, protocol.NewMessage(e.config.ServerName, "PONG", e.config.ServerName, token))
}

func (e *Engine) handlePong(*registry.Client, protocol.Message) {}

// handleCap answers capability negotiation. The server offers no
// capabilities, so every request is refused.
func (e *Engine) handleCap(c *registry.Client, msg protocol.Message) {
	sub := strings.ToUpper(msg.Params[0])
	switch sub {
	case "LS", "LIST":
		e.send(c, protocol.NewMessage(e.config.ServerName, "CAP", c.NickOrStar(), sub, ""))
	case "REQ":
		e.send(c, protocol.NewMessage(e.config.ServerName, "CAP", c.NickOrStar(), "NAK", msg.Param(1)))
	case "END":
	default:
		e.numeric(c, protocol.ErrInvalidCapCmd, msg.Params[0], "Invalid CAP command")
	}
}
