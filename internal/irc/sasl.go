package irc

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/matt0x6f/cascade/internal/constants"
	"github.com/matt0x6f/cascade/internal/logger"
)

// saslConfiguredLocked reports whether there is anything to authenticate
// with: credentials, a client certificate, or the force flag. Caller holds
// the engine mutex.
func (e *Engine) saslConfiguredLocked() bool {
	if !e.cfg.SASL.Enabled {
		return false
	}
	if e.cfg.SASL.Force {
		return true
	}
	if e.ctx.Creds.HasClientCertificate() {
		return true
	}
	_, _, ok := e.ctx.Creds.SASLCredentials()
	return ok
}

// selectMechanismLocked picks the mechanism for this attempt: explicit
// configuration wins, then EXTERNAL when a client certificate is loaded,
// then SCRAM-SHA-256 when credentials exist. PLAIN sends the password in
// cleartext inside the TLS session, so it is never picked automatically;
// configure it explicitly for servers without SCRAM support. Caller holds
// the engine mutex.
func (e *Engine) selectMechanismLocked() string {
	if m := e.cfg.SASL.Mechanism; m != "" {
		return strings.ToUpper(m)
	}
	if e.ctx.Creds.HasClientCertificate() {
		return "EXTERNAL"
	}
	if _, _, ok := e.ctx.Creds.SASLCredentials(); ok {
		return "SCRAM-SHA-256"
	}
	return ""
}

// startSASL begins an authentication attempt. At most one attempt runs at
// a time; a second call while one is in flight is ignored.
func (e *Engine) startSASL() {
	e.mu.Lock()
	if e.saslInProgress {
		e.mu.Unlock()
		return
	}
	mechanism := e.selectMechanismLocked()
	if mechanism == "" {
		e.mu.Unlock()
		e.displayError("SASL is enabled but no mechanism is usable with the configured credentials")
		e.capEndIfNegotiating()
		return
	}
	e.saslInProgress = true
	e.saslMechanism = mechanism
	e.saslChunks = ""
	e.scram = nil
	e.mu.Unlock()

	e.displayStatus("Starting SASL authentication with mechanism: " + mechanism)
	e.emit(EventSASLStarted, map[string]interface{}{
		"network":   e.ctx.Identity.NetworkName(),
		"mechanism": mechanism,
	})

	e.sendRawf("AUTHENTICATE %s", mechanism)
}

// handleAuthenticate drives the AUTHENTICATE exchange. Server payloads
// longer than 400 bytes arrive chunked; a short chunk, or a lone "+"
// following full chunks, terminates the sequence.
func handleAuthenticate(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) == 0 {
		return
	}
	payload := msg.Params[0]

	e.mu.Lock()
	if payload == "+" && e.saslChunks != "" {
		payload = e.saslChunks
		e.saslChunks = ""
	} else if payload != "+" && payload != "*" {
		e.saslChunks += payload
		if len(payload) == 400 {
			e.mu.Unlock()
			return
		}
		payload = e.saslChunks
		e.saslChunks = ""
	}
	mechanism := e.saslMechanism
	inProgress := e.saslInProgress
	e.mu.Unlock()

	if !inProgress {
		logger.Log.Debug().Str("payload", payload).Msg("AUTHENTICATE outside an authentication attempt, ignoring")
		return
	}

	switch mechanism {
	case "PLAIN":
		e.authPlain(payload)
	case "EXTERNAL":
		e.authExternal(payload)
	case "SCRAM-SHA-256", "SCRAM-SHA-512":
		e.authScram(payload)
	default:
		e.abortSASL("unsupported mechanism " + mechanism)
	}
}

// authPlain answers the PLAIN challenge with base64("\0account\0password")
func (e *Engine) authPlain(payload string) {
	switch payload {
	case "+":
		account, password, ok := e.ctx.Creds.SASLCredentials()
		if !ok {
			e.abortSASL("no credentials configured")
			return
		}
		blob := fmt.Sprintf("\x00%s\x00%s", account, password)
		e.sendRawf("AUTHENTICATE %s", base64.StdEncoding.EncodeToString([]byte(blob)))
	case "*":
		e.failSASL("server aborted authentication")
	default:
		e.abortSASL("unexpected PLAIN challenge")
	}
}

// authExternal answers the EXTERNAL challenge; identity comes from the TLS
// client certificate, so the response is empty
func (e *Engine) authExternal(payload string) {
	switch payload {
	case "+":
		e.sendRawf("AUTHENTICATE +")
	case "*":
		e.failSASL("server aborted authentication")
	default:
		e.abortSASL("unexpected EXTERNAL challenge")
	}
}

// authScram steps the SCRAM-SHA-256 conversation with one server payload
func (e *Engine) authScram(payload string) {
	switch payload {
	case "+":
		e.scramClientFirst()
	case "*":
		e.failSASL("server aborted authentication")
	default:
		e.scramChallenge(payload)
	}
}

// abortSASL cancels the running attempt from our side and cleans up
func (e *Engine) abortSASL(reason string) {
	e.sendRawf("AUTHENTICATE *")
	e.failSASL(reason)
}

// failSASL clears authentication state after an aborted attempt and ends
// negotiation so registration is never left hanging
func (e *Engine) failSASL(reason string) {
	e.mu.Lock()
	if !e.saslInProgress {
		e.mu.Unlock()
		e.capEndIfNegotiating()
		return
	}
	e.saslInProgress = false
	e.saslChunks = ""
	e.scram = nil
	e.saslFailures++
	failures := e.saslFailures
	e.mu.Unlock()

	e.displayError("SASL authentication aborted: " + reason)
	e.emit(EventSASLAborted, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"reason":  reason,
	})

	e.capEndIfNegotiating()
	e.checkSASLFailureCeiling(failures)
}

// saslFailed clears authentication state after a server-reported failure
func (e *Engine) saslFailed(reason string) {
	e.mu.Lock()
	if !e.saslInProgress {
		e.mu.Unlock()
		e.capEndIfNegotiating()
		return
	}
	e.saslInProgress = false
	e.saslChunks = ""
	e.scram = nil
	e.saslFailures++
	failures := e.saslFailures
	e.mu.Unlock()

	e.displayError("SASL authentication failed: " + reason)
	e.emit(EventSASLFailed, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"error":   reason,
	})

	e.capEndIfNegotiating()
	e.checkSASLFailureCeiling(failures)
}

// checkSASLFailureCeiling asks the host to disconnect after repeated
// authentication failures rather than looping against the server
func (e *Engine) checkSASLFailureCeiling(failures int) {
	if failures < constants.SASLMaxFailures {
		return
	}
	logger.Log.Warn().
		Int("failures", failures).
		Msg("Repeated SASL failures, requesting disconnect")
	e.emit(EventDisconnectRequested, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"reason":  "repeated SASL authentication failures",
	})
}

// handleLoggedIn processes 900: the server has bound us to an account
func handleLoggedIn(e *Engine, msg ircmsg.Message, ts time.Time) {
	account := ""
	if len(msg.Params) >= 3 {
		account = msg.Params[2]
	}

	e.mu.Lock()
	e.saslAuthenticated = true
	e.mu.Unlock()

	e.displayStatus("Logged in as " + account)
	logger.Log.Info().Str("account", account).Msg("SASL login succeeded")
}

// handleLoggedOut processes 901: the server dropped our account binding
func handleLoggedOut(e *Engine, msg ircmsg.Message, ts time.Time) {
	e.mu.Lock()
	e.saslAuthenticated = false
	e.mu.Unlock()
	e.displayStatus("Logged out of account")
}

// handleSASLNickLocked processes 902: the target nick is reserved
func handleSASLNickLocked(e *Engine, msg ircmsg.Message, ts time.Time) {
	e.saslFailed("nickname is locked to another account")
}

// handleSASLSuccessReply processes 903: authentication finished cleanly
func handleSASLSuccessReply(e *Engine, msg ircmsg.Message, ts time.Time) {
	e.mu.Lock()
	e.saslInProgress = false
	e.saslAuthenticated = true
	e.saslChunks = ""
	e.scram = nil
	e.saslFailures = 0
	e.mu.Unlock()

	e.displayStatus("SASL authentication successful")
	e.emit(EventSASLSuccess, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
	})
	e.capEndIfNegotiating()
}

// handleSASLFailReply processes 904: the credentials were rejected
func handleSASLFailReply(e *Engine, msg ircmsg.Message, ts time.Time) {
	reason := "invalid credentials"
	if len(msg.Params) > 0 {
		reason = msg.Params[len(msg.Params)-1]
	}
	e.saslFailed(reason)
}

// handleSASLTooLong processes 905: our AUTHENTICATE payload was oversized
func handleSASLTooLong(e *Engine, msg ircmsg.Message, ts time.Time) {
	e.saslFailed("authentication payload too long")
}

// handleSASLAbortedReply processes 906: the server confirmed our abort
func handleSASLAbortedReply(e *Engine, msg ircmsg.Message, ts time.Time) {
	e.failSASL("authentication aborted")
}

// handleSASLAlreadyDone processes 907: we tried to authenticate twice
func handleSASLAlreadyDone(e *Engine, msg ircmsg.Message, ts time.Time) {
	e.saslFailed("already authenticated")
}

// handleSASLMechanisms processes 908: the server's supported mechanism list
func handleSASLMechanisms(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) >= 2 {
		e.displayStatus("Server SASL mechanisms: " + msg.Params[1])
	}
}
