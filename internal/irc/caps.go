package irc

import (
	"sort"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/matt0x6f/cascade/internal/logger"
)

// capState tracks progress through capability negotiation
type capState int

const (
	capIdle capState = iota
	capListing
	capRequesting
	capAwaitingAck
	capSASLPending
	capDone
)

// defaultRequestCaps are requested whenever the server advertises them.
// sasl is appended separately, only when authentication is configured.
var defaultRequestCaps = []string{
	"account-notify",
	"away-notify",
	"batch",
	"cap-notify",
	"chghost",
	"draft/multiline",
	"echo-message",
	"extended-join",
	"invite-notify",
	"labeled-response",
	"message-tags",
	"multi-prefix",
	"server-time",
	"userhost-in-names",
}

// CapEnabled reports whether the server has acknowledged a capability
func (e *Engine) CapEnabled(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.capEnabled[name]
	return ok
}

// AvailableCaps returns the advertised capability names, sorted
func (e *Engine) AvailableCaps() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.capAvailable))
	for name := range e.capAvailable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnabledCaps returns the acknowledged capability names, sorted
func (e *Engine) EnabledCaps() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.capEnabled))
	for name := range e.capEnabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UserhostInNames reports whether NAMES entries carry full nick!user@host
func (e *Engine) UserhostInNames() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.userhostInNames
}

// ExtendedJoin reports whether JOIN lines carry account and realname
func (e *Engine) ExtendedJoin() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.extendedJoin
}

// handleCap drives the capability negotiation state machine
func handleCap(e *Engine, msg ircmsg.Message, ts time.Time) {
	params := msg.Params
	if len(params) == 0 {
		return
	}

	// the first param is normally the client prefix ("*" before
	// registration, our nick after); tolerate servers that omit it
	subIdx := 0
	switch strings.ToUpper(params[0]) {
	case "LS", "LIST", "ACK", "NAK", "NEW", "DEL":
	default:
		subIdx = 1
	}
	if len(params) <= subIdx {
		return
	}
	subcommand := strings.ToUpper(params[subIdx])
	args := params[subIdx+1:]

	switch subcommand {
	case "LS":
		e.capLS(args)
	case "ACK":
		e.capAck(args)
	case "NAK":
		e.capNak(args)
	case "NEW":
		e.capNew(args)
	case "DEL":
		e.capDel(args)
	default:
		logger.Log.Debug().Str("subcommand", subcommand).Msg("Ignoring CAP subcommand")
	}
}

// capLS records advertised capabilities. CAP LS 302 replies may span
// several lines, each but the last carrying a "*" continuation marker; the
// request set is computed only once the final line lands.
func (e *Engine) capLS(args []string) {
	if len(args) == 0 {
		return
	}
	more := len(args) >= 2 && args[0] == "*"
	blob := args[len(args)-1]

	e.mu.Lock()
	if e.capState == capIdle || e.capState == capDone {
		e.capState = capListing
	}
	for _, token := range strings.Fields(blob) {
		name, value := splitCapToken(token)
		e.capAvailable[name] = value
	}
	e.mu.Unlock()

	if more {
		return
	}
	e.finishCapLS()
}

// finishCapLS emits the capability listing and sends one CAP REQ for
// everything we support that the server offers
func (e *Engine) finishCapLS() {
	e.mu.Lock()
	available := make(map[string]string, len(e.capAvailable))
	for name, value := range e.capAvailable {
		available[name] = value
	}

	want := make([]string, 0, len(defaultRequestCaps)+len(e.cfg.RequestCaps)+1)
	want = append(want, defaultRequestCaps...)
	want = append(want, e.cfg.RequestCaps...)
	if e.saslConfiguredLocked() {
		want = append(want, "sasl")
	}

	request := make([]string, 0, len(want))
	for _, name := range want {
		if _, offered := e.capAvailable[name]; !offered {
			// forced SASL requests the capability sight unseen
			if !(name == "sasl" && e.cfg.SASL.Force) {
				continue
			}
		}
		if _, enabled := e.capEnabled[name]; enabled {
			continue
		}
		if _, requested := e.capRequested[name]; requested {
			continue
		}
		e.capRequested[name] = struct{}{}
		request = append(request, name)
	}

	if len(request) > 0 {
		e.capState = capRequesting
	}
	e.mu.Unlock()

	e.emitCapabilities(available)

	if len(request) == 0 {
		e.capEndIfNegotiating()
		return
	}

	logger.Log.Debug().Strs("caps", request).Msg("Requesting capabilities")
	e.sendRawf("CAP REQ :%s", strings.Join(request, " "))

	e.mu.Lock()
	e.capState = capAwaitingAck
	e.mu.Unlock()
}

// capAck records acknowledged capabilities and runs their side effects:
// sts advertises a policy to the host, userhost-in-names and extended-join
// flip parser flags, and sasl starts authentication instead of ending
// negotiation.
func (e *Engine) capAck(args []string) {
	if len(args) == 0 {
		return
	}
	names := strings.Fields(args[len(args)-1])

	stsValue := ""
	ackedSASL := false

	e.mu.Lock()
	for _, name := range names {
		if rest, disabled := strings.CutPrefix(name, "-"); disabled {
			delete(e.capEnabled, rest)
			delete(e.capRequested, rest)
			switch rest {
			case "userhost-in-names":
				e.userhostInNames = false
			case "extended-join":
				e.extendedJoin = false
			}
			continue
		}

		if _, offered := e.capAvailable[name]; !offered {
			logger.Log.Warn().Str("cap", name).Msg("Server acked a capability it never advertised")
			e.capAvailable[name] = ""
		}
		e.capEnabled[name] = struct{}{}
		delete(e.capRequested, name)

		switch name {
		case "sasl":
			ackedSASL = true
		case "sts":
			stsValue = e.capAvailable[name]
		case "userhost-in-names":
			e.userhostInNames = true
		case "extended-join":
			e.extendedJoin = true
		}
	}
	saslConfigured := e.saslConfiguredLocked()
	saslForced := e.cfg.SASL.Force
	inProgress := e.saslInProgress
	registered := e.registered
	e.mu.Unlock()

	if stsValue != "" {
		e.emit(EventSTSPolicy, map[string]interface{}{
			"network": e.ctx.Identity.NetworkName(),
			"policy":  stsValue,
		})
	}

	if saslConfigured && (ackedSASL || saslForced) && !inProgress {
		e.mu.Lock()
		e.capState = capSASLPending
		e.mu.Unlock()
		e.startSASL()
		return
	}

	if !registered {
		e.capEndIfNegotiating()
	}
}

// capNak drops rejected capabilities from the requested set and closes
// negotiation
func (e *Engine) capNak(args []string) {
	if len(args) == 0 {
		return
	}
	names := strings.Fields(args[len(args)-1])

	e.mu.Lock()
	for _, name := range names {
		delete(e.capRequested, name)
	}
	e.mu.Unlock()

	logger.Log.Warn().Strs("caps", names).Msg("Server rejected capability request")
	e.capEndIfNegotiating()
}

// capNew records capabilities advertised after registration. When sasl
// appears, credentials are configured and no attempt is running, a fresh
// CAP REQ re-opens authentication.
func (e *Engine) capNew(args []string) {
	if len(args) == 0 {
		return
	}
	tokens := strings.Fields(args[len(args)-1])

	requestSASL := false
	e.mu.Lock()
	for _, token := range tokens {
		name, value := splitCapToken(token)
		e.capAvailable[name] = value
		if name == "sasl" && e.saslConfiguredLocked() && !e.saslInProgress {
			e.capRequested["sasl"] = struct{}{}
			requestSASL = true
		}
	}
	available := make(map[string]string, len(e.capAvailable))
	for name, value := range e.capAvailable {
		available[name] = value
	}
	e.mu.Unlock()

	e.emitCapabilities(available)
	if requestSASL {
		e.sendRawf("CAP REQ :sasl")
	}
}

// capDel removes withdrawn capabilities from both the available and
// enabled sets
func (e *Engine) capDel(args []string) {
	if len(args) == 0 {
		return
	}
	names := strings.Fields(args[len(args)-1])

	e.mu.Lock()
	for _, name := range names {
		delete(e.capAvailable, name)
		delete(e.capEnabled, name)
		switch name {
		case "userhost-in-names":
			e.userhostInNames = false
		case "extended-join":
			e.extendedJoin = false
		}
	}
	available := make(map[string]string, len(e.capAvailable))
	for name, value := range e.capAvailable {
		available[name] = value
	}
	e.mu.Unlock()

	e.emitCapabilities(available)
}

// capEndIfNegotiating sends CAP END when registration is still waiting on
// capability negotiation. Outside registration it does nothing.
func (e *Engine) capEndIfNegotiating() {
	e.mu.Lock()
	negotiating := !e.registered && e.capState != capIdle && e.capState != capDone
	if negotiating {
		e.capState = capDone
	}
	e.mu.Unlock()

	if negotiating {
		e.sendRawf("CAP END")
	}
}

// emitCapabilities publishes the current capability tables to the host
func (e *Engine) emitCapabilities(available map[string]string) {
	names := make([]string, 0, len(available))
	for name := range available {
		names = append(names, name)
	}
	sort.Strings(names)

	e.emit(EventCapabilities, map[string]interface{}{
		"network":   e.ctx.Identity.NetworkName(),
		"available": names,
		"enabled":   e.EnabledCaps(),
	})
}

// splitCapToken splits a "name=value" capability advertisement; most
// capabilities carry no value
func splitCapToken(token string) (name, value string) {
	if idx := strings.IndexByte(token, '='); idx != -1 {
		return token[:idx], token[idx+1:]
	}
	return token, ""
}
