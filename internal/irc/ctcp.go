package irc

import (
	"fmt"
	"strings"
	"time"

	"github.com/matt0x6f/cascade/internal/logger"
)

// ctcpDelim frames CTCP payloads inside PRIVMSG and NOTICE text
const ctcpDelim = "\x01"

// ctcpClientInfo lists the queries we answer, for CLIENTINFO replies
const ctcpClientInfo = "ACTION CLIENTINFO FINGER PING SOURCE TIME USERINFO VERSION"

// CTCP is one parsed client-to-client request or reply
type CTCP struct {
	Command string
	Args    string
}

// ParseCTCP decodes a CTCP payload from message text. The command is
// uppercased; the argument string keeps its original spacing. Text that is
// not wrapped in the CTCP delimiter, or an empty payload, is not CTCP.
func ParseCTCP(text string) (CTCP, bool) {
	if len(text) < 2 || !strings.HasPrefix(text, ctcpDelim) || !strings.HasSuffix(text, ctcpDelim) {
		return CTCP{}, false
	}
	payload := text[1 : len(text)-1]
	if payload == "" {
		return CTCP{}, false
	}

	command := payload
	args := ""
	if idx := strings.IndexByte(payload, ' '); idx != -1 {
		command = payload[:idx]
		args = payload[idx+1:]
	}
	return CTCP{Command: strings.ToUpper(command), Args: args}, true
}

// EncodeCTCP wraps a command and arguments in the CTCP delimiter
func EncodeCTCP(command, args string) string {
	if args == "" {
		return ctcpDelim + command + ctcpDelim
	}
	return ctcpDelim + command + " " + args + ctcpDelim
}

// handleCTCPRequest answers a CTCP query carried in a PRIVMSG. Replies go
// back as NOTICEs to the sender. ACTION is rendered by the message handler
// and never reaches this path; DCC-family offers are surfaced to the user
// but never answered automatically.
func (e *Engine) handleCTCPRequest(from, target string, req CTCP, ts time.Time) {
	if !e.ctx.Conn.IsConnected() {
		return
	}

	var response string
	switch req.Command {
	case "VERSION":
		response = e.ctx.Client.Version()
	case "TIME":
		response = time.Now().Format(time.RFC1123Z)
	case "PING":
		response = req.Args
		if response == "" {
			response = fmt.Sprintf("%d", time.Now().Unix())
		}
	case "CLIENTINFO":
		response = ctcpClientInfo
	case "USERINFO":
		response = fmt.Sprintf("%s (%s)", e.ctx.Identity.Username(), e.ctx.Identity.Realname())
	case "SOURCE":
		response = e.ctx.Client.SourceURL()
	case "FINGER":
		response = e.ctx.Identity.Realname()
	case "DCC", "SLOTS", "XDCC", "TDCC", "RDCC":
		e.displayCTCP(from, req, ts)
		logger.Log.Debug().
			Str("from", from).
			Str("command", req.Command).
			Msg("Ignoring DCC-family CTCP request")
		return
	default:
		e.displayCTCP(from, req, ts)
		logger.Log.Debug().
			Str("from", from).
			Str("command", req.Command).
			Str("args", req.Args).
			Msg("Unhandled CTCP request")
		return
	}

	reply := EncodeCTCP(req.Command, response)
	if err := e.send(nil, "NOTICE", from, reply); err != nil {
		logger.Log.Error().Err(err).Str("command", req.Command).Msg("Failed to send CTCP reply")
	}
}

// SendCTCP sends a CTCP query to a nick or channel. The reply, if any,
// comes back inside a NOTICE and is surfaced by the notice handler.
func (e *Engine) SendCTCP(target, command, args string) error {
	if !e.ctx.Conn.IsConnected() {
		return ErrNotConnected
	}
	payload := EncodeCTCP(strings.ToUpper(command), args)
	if err := e.send(nil, "PRIVMSG", target, payload); err != nil {
		return fmt.Errorf("failed to send CTCP request: %w", err)
	}

	e.ctx.Display.DisplayMessage(Message{
		Sender:    e.CurrentNick(),
		Text:      fmt.Sprintf("CTCP %s sent to %s", strings.ToUpper(command), target),
		Type:      "ctcp",
		Timestamp: time.Now(),
	})
	return nil
}

// displayCTCP surfaces a request we will not answer in the sender's window
func (e *Engine) displayCTCP(from string, req CTCP, ts time.Time) {
	text := "CTCP " + req.Command
	if req.Args != "" {
		text += " " + req.Args
	}
	e.ctx.Display.DisplayMessage(Message{
		Target:    from,
		Sender:    from,
		Text:      text,
		Type:      "ctcp",
		Timestamp: ts,
	})
}
