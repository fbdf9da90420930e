package irc

import (
	"strconv"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/matt0x6f/cascade/internal/logger"
)

// handleWelcome processes 001: registration is complete and the server
// has confirmed our nick
func handleWelcome(e *Engine, msg ircmsg.Message, ts time.Time) {
	nick := ""
	if len(msg.Params) > 0 {
		nick = msg.Params[0]
	}

	e.mu.Lock()
	e.registered = true
	if nick != "" {
		e.currentNick = nick
	}
	// a server that never answered CAP is done negotiating either way
	e.capState = capDone
	e.mu.Unlock()

	if len(msg.Params) >= 2 {
		e.displayStatus(msg.Params[len(msg.Params)-1])
	}
	logger.Log.Info().
		Str("network", e.ctx.Identity.NetworkName()).
		Str("nick", nick).
		Msg("Registered with server")

	e.emit(EventConnectionEstablished, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"nick":    nick,
	})
}

// handleISupportReply processes 005: server parameter tokens, minus the
// leading nick and the trailing "are supported" text
func handleISupportReply(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 3 {
		return
	}
	tokens := msg.Params[1 : len(msg.Params)-1]

	before := e.isupport.Network()
	e.isupport.Apply(tokens)
	after := e.isupport.Network()

	if after != "" && after != before {
		e.emit(EventNetworkName, map[string]interface{}{
			"network": e.ctx.Identity.NetworkName(),
			"name":    after,
		})
	}
}

// handleMOTDStart processes 375
func handleMOTDStart(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) >= 2 {
		e.displayStatus(msg.Params[len(msg.Params)-1])
	}
}

// handleMOTDLine processes 372
func handleMOTDLine(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 2 {
		return
	}
	e.ctx.Display.DisplayMessage(Message{
		Sender:    "*",
		Text:      msg.Params[len(msg.Params)-1],
		Type:      "motd",
		Timestamp: ts,
	})
}

// handleMOTDEnd processes 376
func handleMOTDEnd(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) >= 2 {
		e.displayStatus(msg.Params[len(msg.Params)-1])
	}
}

// handleNoMOTD processes 422: the server has no MOTD to send
func handleNoMOTD(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) >= 2 {
		e.displayStatus(msg.Params[len(msg.Params)-1])
	}
}

// handleLusers processes the 251-255 and 265/266 statistics numerics. The
// count parameters and trailing text only read as a sentence together.
func handleLusers(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 2 {
		return
	}
	e.displayStatus(strings.Join(msg.Params[1:], " "))
}

// handleNickInUse processes 433. Before registration the engine retries
// with an underscore suffix so the handshake can finish; the host learns
// about it either way and can rename properly later.
func handleNickInUse(e *Engine, msg ircmsg.Message, ts time.Time) {
	attempted := ""
	if len(msg.Params) >= 2 {
		attempted = msg.Params[1]
	}

	e.displayError("Nickname already in use: " + attempted)
	e.emit(EventNickInUse, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"nick":    attempted,
	})

	if !e.IsRegistered() && attempted != "" {
		fallback := attempted + "_"
		logger.Log.Info().
			Str("attempted", attempted).
			Str("fallback", fallback).
			Msg("Nick in use during registration, retrying")
		e.send(nil, "NICK", fallback)
	}
}

// handleTopicReply processes 332: the topic sent on join
func handleTopicReply(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 3 {
		return
	}
	channel := msg.Params[1]
	topic := msg.Params[2]

	e.ctx.Display.DisplayMessage(Message{
		Target:    channel,
		Sender:    "*",
		Text:      "Topic: " + topic,
		Type:      "status",
		Timestamp: ts,
	})

	e.emit(EventChannelTopic, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"channel": channel,
		"topic":   topic,
	})
}

// handleTopicSetBy processes 333: who set the topic and when
func handleTopicSetBy(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 4 {
		return
	}
	channel := msg.Params[1]
	setter := msg.Params[2]
	if idx := strings.IndexByte(setter, '!'); idx != -1 {
		setter = setter[:idx]
	}

	text := "Topic set by " + setter
	if when := parseUnixParam(msg.Params[3]); !when.IsZero() {
		text += " on " + when.Format("2006-01-02 15:04")
	}
	e.ctx.Display.DisplayMessage(Message{
		Target:    channel,
		Sender:    "*",
		Text:      text,
		Type:      "status",
		Timestamp: ts,
	})
}

// handleNamesReply processes 353. The first reply of a burst resets the
// channel's member table; userhost-in-names entries are trimmed to the
// bare nick after the privilege prefixes are peeled off.
func handleNamesReply(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 4 {
		return
	}
	channel := msg.Params[2]
	entries := strings.Fields(msg.Params[3])

	e.namesMu.Lock()
	first := !e.namesInProgress[channel]
	e.namesInProgress[channel] = true
	e.namesMu.Unlock()
	if first {
		e.ctx.Members.ClearMembers(channel)
	}

	userhost := e.UserhostInNames()
	for _, entry := range entries {
		priv, nick := e.isupport.SplitNameEntry(entry)
		if userhost {
			if idx := strings.IndexByte(nick, '!'); idx != -1 {
				nick = nick[:idx]
			}
		}
		if nick == "" {
			continue
		}
		e.ctx.Members.AddMember(channel, nick, priv)
	}
}

// handleNamesEnd processes 366, closing the NAMES burst for a channel
func handleNamesEnd(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 2 {
		return
	}
	channel := msg.Params[1]

	e.namesMu.Lock()
	delete(e.namesInProgress, channel)
	e.namesMu.Unlock()

	e.emit(EventChannelNames, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"channel": channel,
	})
}

// displayNumericError renders a rejection numeric, prefixing the channel
// argument when the numeric carries one
func (e *Engine) displayNumericError(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	text := msg.Params[len(msg.Params)-1]
	if len(msg.Params) >= 3 {
		text = msg.Params[1] + ": " + text
	}
	e.displayError(text)
}

// handleNotOnChannel processes 442
func handleNotOnChannel(e *Engine, msg ircmsg.Message, ts time.Time) {
	e.displayNumericError(msg)
}

// handleNoPrivileges processes 481
func handleNoPrivileges(e *Engine, msg ircmsg.Message, ts time.Time) {
	e.displayNumericError(msg)
}

// handleChanopNeeded processes 482
func handleChanopNeeded(e *Engine, msg ircmsg.Message, ts time.Time) {
	e.displayNumericError(msg)
}

// parseUnixParam converts a unix timestamp parameter; malformed values
// yield the zero time
func parseUnixParam(param string) time.Time {
	secs, err := strconv.ParseInt(param, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
