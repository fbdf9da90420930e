package irc

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/matt0x6f/cascade/internal/events"
	"github.com/matt0x6f/cascade/internal/logger"
	"github.com/matt0x6f/cascade/internal/validation"
)

// ServerTimeLayout is the timestamp format of the IRCv3 server-time tag
const ServerTimeLayout = "2006-01-02T15:04:05.000Z"

var (
	// ErrNotConnected is returned by send operations while the transport is down
	ErrNotConnected = errors.New("not connected")

	// ErrLabelTimeout is delivered to a labeled-response callback whose
	// reply did not arrive within the label timeout
	ErrLabelTimeout = errors.New("labeled command timed out")

	// ErrDisconnected is delivered to pending labeled-response callbacks
	// when the connection goes away before the reply
	ErrDisconnected = errors.New("connection closed before reply")
)

// Config carries the per-connection protocol options
type Config struct {
	SASL SASLConfig

	// RequestCaps adds capability names to the built-in request set
	RequestCaps []string
}

// SASLConfig controls authentication during registration
type SASLConfig struct {
	Enabled bool

	// Mechanism is "PLAIN", "EXTERNAL" or "SCRAM-SHA-256"; empty selects
	// automatically from the configured credentials
	Mechanism string

	// Force attempts SASL even when the server does not advertise the
	// sasl capability
	Force bool
}

// Engine is a connection-scoped IRC protocol engine. It interprets inbound
// server lines, maintains protocol state (capability negotiation, SASL,
// batches, labeled responses, multiline reassembly) and reaches the outside
// world exclusively through its Context. One Engine serves one connection;
// nothing is shared across connections.
type Engine struct {
	ctx      Context
	cfg      Config
	registry *Registry

	mu          sync.RWMutex
	currentNick string
	registered  bool

	// capability negotiation state
	capState        capState
	capAvailable    map[string]string
	capEnabled      map[string]struct{}
	capRequested    map[string]struct{}
	userhostInNames bool
	extendedJoin    bool

	// SASL state
	saslInProgress    bool
	saslAuthenticated bool
	saslMechanism     string
	saslChunks        string
	saslFailures      int
	scram             *scramConversation

	isupport  *ISupport
	batches   *batchTracker
	labels    *labelCorrelator
	multiline *assembler
	whois     *whoisTracker

	namesMu         sync.Mutex
	namesInProgress map[string]bool
}

// New creates an engine for one connection. The context collaborators must
// all be non-nil except Mod, which is optional.
func New(cfg Config, ctx Context) *Engine {
	e := &Engine{
		ctx:             ctx,
		cfg:             cfg,
		currentNick:     ctx.Identity.Nick(),
		capState:        capIdle,
		capAvailable:    make(map[string]string),
		capEnabled:      make(map[string]struct{}),
		capRequested:    make(map[string]struct{}),
		isupport:        NewISupport(),
		multiline:       newAssembler(),
		whois:           newWhoisTracker(),
		namesInProgress: make(map[string]bool),
	}
	e.batches = newBatchTracker(e)
	e.labels = newLabelCorrelator(e)
	e.registry = newRegistry()
	return e
}

// Register adds or replaces the handler for a verb. The standard table is
// built once at construction; hosts extend it before starting the read loop.
func (e *Engine) Register(verb string, handler Handler) {
	e.registry.Register(verb, handler)
}

// CurrentNick returns the nick the server currently knows us by
func (e *Engine) CurrentNick() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentNick
}

// IsRegistered reports whether the server has accepted registration (001)
func (e *Engine) IsRegistered() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registered
}

// ISupport exposes the server parameter table parsed from 005
func (e *Engine) ISupport() *ISupport {
	return e.isupport
}

// Dispatch routes one parsed inbound line through the engine and returns
// whether a handler was found for its verb. Unknown verbs are forwarded to
// the display sink as a raw line. A panicking handler is caught and logged
// here so one malformed line cannot stop protocol processing.
func (e *Engine) Dispatch(msg ircmsg.Message) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error().
				Interface("panic", r).
				Str("command", msg.Command).
				Msg("Handler panicked; continuing dispatch")
		}
	}()

	ts := messageTime(msg)

	// Correlate labeled replies before anything else so a pending callback
	// always sees its response, whatever the verb.
	if present, label := msg.GetTag("label"); present && label != "" {
		e.labels.handleResponse(label, msg)
	}

	// Lines belonging to an open batch accumulate silently; the fold on
	// batch close replaces their individual display.
	if present, ref := msg.GetTag("batch"); present {
		if e.batches.accumulate(ref, msg) {
			return true
		}
	}

	handler, ok := e.registry.lookup(msg.Command)
	if !ok {
		e.displayRaw(msg, ts)
		return false
	}

	handled = true
	handler(e, msg, ts)
	return handled
}

// HandleLine parses one raw inbound line and dispatches it. Unparseable
// lines are logged and dropped, never fatal.
func (e *Engine) HandleLine(line string) {
	msg, err := ircmsg.ParseLine(line)
	if err != nil {
		logger.Log.Debug().Err(err).Str("line", line).Msg("Dropping unparseable line")
		return
	}
	e.Dispatch(msg)
}

// messageTime returns the server-time tag timestamp when present, or now
func messageTime(msg ircmsg.Message) time.Time {
	if present, value := msg.GetTag("time"); present {
		if t, err := time.Parse(ServerTimeLayout, value); err == nil {
			return t
		}
	}
	return time.Now()
}

// StartRegistration opens the registration handshake: capability listing
// first so CAP LS 302 reaches the server before the welcome burst, then
// PASS/NICK/USER from the configured identity.
func (e *Engine) StartRegistration(serverPassword string) error {
	e.mu.Lock()
	e.capState = capListing
	e.mu.Unlock()

	if err := e.sendRawf("CAP LS 302"); err != nil {
		return err
	}
	if serverPassword != "" {
		if err := e.send(nil, "PASS", serverPassword); err != nil {
			return err
		}
	}
	if err := e.send(nil, "NICK", e.ctx.Identity.Nick()); err != nil {
		return err
	}
	return e.send(nil, "USER", e.ctx.Identity.Username(), "0", "*", e.ctx.Identity.Realname())
}

// HandleDisconnect resets connection-scoped protocol state after the
// transport drops. Pending labeled callbacks are flushed synchronously with
// a disconnect error; partial batches and multiline buffers are discarded.
func (e *Engine) HandleDisconnect() {
	e.labels.flushPending(ErrDisconnected)
	e.batches.reset()
	e.multiline.reset()
	e.whois.reset()

	e.mu.Lock()
	e.registered = false
	e.capState = capIdle
	e.capAvailable = make(map[string]string)
	e.capEnabled = make(map[string]struct{})
	e.capRequested = make(map[string]struct{})
	e.saslInProgress = false
	e.saslAuthenticated = false
	e.scram = nil
	e.mu.Unlock()

	e.namesMu.Lock()
	e.namesInProgress = make(map[string]bool)
	e.namesMu.Unlock()

	e.emit(EventConnectionLost, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
	})
}

// SendMessage sends a PRIVMSG. Unless echo-message is enabled the message
// is displayed locally right away; with echo-message the server's echo
// drives the display instead.
func (e *Engine) SendMessage(target, text string) error {
	if !e.ctx.Conn.IsConnected() {
		return ErrNotConnected
	}
	if err := e.send(nil, "PRIVMSG", target, text); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !e.CapEnabled("echo-message") {
		e.ctx.Display.DisplayMessage(Message{
			Target:    target,
			Sender:    e.CurrentNick(),
			Text:      text,
			Type:      "privmsg",
			Timestamp: time.Now(),
			RawLine:   fmt.Sprintf("PRIVMSG %s :%s", target, text),
		})
	}

	e.emit(EventMessageSent, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"target":  target,
		"message": text,
	})
	return nil
}

// SendAction sends a CTCP ACTION ("/me") to a channel or user
func (e *Engine) SendAction(target, text string) error {
	if !e.ctx.Conn.IsConnected() {
		return ErrNotConnected
	}
	payload := EncodeCTCP("ACTION", text)
	if err := e.send(nil, "PRIVMSG", target, payload); err != nil {
		return fmt.Errorf("failed to send action: %w", err)
	}

	if !e.CapEnabled("echo-message") {
		e.ctx.Display.DisplayMessage(Message{
			Target:    target,
			Sender:    e.CurrentNick(),
			Text:      fmt.Sprintf("* %s %s", e.CurrentNick(), text),
			Type:      "action",
			Timestamp: time.Now(),
		})
	}
	return nil
}

// SendNotice sends a NOTICE to a channel or user
func (e *Engine) SendNotice(target, text string) error {
	if !e.ctx.Conn.IsConnected() {
		return ErrNotConnected
	}
	return e.send(nil, "NOTICE", target, text)
}

// JoinChannel sends a JOIN after validating the channel name
func (e *Engine) JoinChannel(channel string) error {
	if err := validation.ValidateChannelName(channel); err != nil {
		return fmt.Errorf("invalid channel name: %w", err)
	}
	if !e.ctx.Conn.IsConnected() {
		logger.Log.Warn().Str("channel", channel).Msg("Not connected, cannot join")
		return ErrNotConnected
	}
	return e.send(nil, "JOIN", channel)
}

// PartChannel sends a PART, with an optional reason
func (e *Engine) PartChannel(channel, reason string) error {
	if !e.ctx.Conn.IsConnected() {
		return ErrNotConnected
	}
	if reason == "" {
		return e.send(nil, "PART", channel)
	}
	return e.send(nil, "PART", channel, reason)
}

// Whois requests WHOIS for a nick; the aggregated reply arrives as a
// whois.received event once the end-of-WHOIS numeric lands
func (e *Engine) Whois(nick string) error {
	if err := validation.ValidateNickname(nick); err != nil {
		return fmt.Errorf("invalid nickname: %w", err)
	}
	if !e.ctx.Conn.IsConnected() {
		return ErrNotConnected
	}
	return e.send(nil, "WHOIS", nick)
}

// Quit sends QUIT with the given reason
func (e *Engine) Quit(reason string) error {
	if !e.ctx.Conn.IsConnected() {
		return ErrNotConnected
	}
	if reason == "" {
		return e.send(nil, "QUIT")
	}
	return e.send(nil, "QUIT", reason)
}

// SendRawCommand sends a raw protocol line and records it in the status
// window, for host "/raw" style passthrough
func (e *Engine) SendRawCommand(line string) error {
	if !e.ctx.Conn.IsConnected() {
		return ErrNotConnected
	}
	if err := e.ctx.Conn.SendRaw(line); err != nil {
		return fmt.Errorf("failed to send raw command: %w", err)
	}
	e.ctx.Display.DisplayMessage(Message{
		Sender:    e.CurrentNick(),
		Text:      line,
		Type:      "command",
		Timestamp: time.Now(),
		RawLine:   line,
	})
	return nil
}

// send serializes one outbound message through the wire codec
func (e *Engine) send(tags map[string]string, command string, params ...string) error {
	msg := ircmsg.MakeMessage(tags, "", command, params...)
	line, err := msg.Line()
	if err != nil {
		return fmt.Errorf("failed to build %s line: %w", command, err)
	}
	return e.ctx.Conn.SendRaw(line)
}

// sendRawf sends a preformatted protocol line
func (e *Engine) sendRawf(format string, args ...interface{}) error {
	return e.ctx.Conn.SendRaw(fmt.Sprintf(format, args...))
}

// emit publishes an engine event through the host's sink
func (e *Engine) emit(eventType string, data map[string]interface{}) {
	e.ctx.Events.Emit(events.Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		Source:    events.EventSourceIRC,
	})
}

// displayStatus writes a line to the status window
func (e *Engine) displayStatus(text string) {
	e.ctx.Display.DisplayMessage(Message{
		Sender:    "*",
		Text:      text,
		Type:      "status",
		Timestamp: time.Now(),
	})
}

// displayError writes an error line to the status window and publishes it
// so hosts can react without scraping the display stream
func (e *Engine) displayError(text string) {
	e.ctx.Display.DisplayMessage(Message{
		Sender:    "*",
		Text:      text,
		Type:      "error",
		Timestamp: time.Now(),
	})
	e.emit(EventError, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"message": text,
	})
}

// displayRaw forwards an unhandled line to the display sink verbatim
func (e *Engine) displayRaw(msg ircmsg.Message, ts time.Time) {
	parts := make([]string, 0, len(msg.Params)+2)
	if msg.Source != "" {
		parts = append(parts, msg.Source)
	}
	parts = append(parts, msg.Command)
	parts = append(parts, msg.Params...)
	raw := strings.Join(parts, " ")

	e.ctx.Display.DisplayMessage(Message{
		Sender:    "*",
		Text:      raw,
		Type:      "raw",
		Timestamp: ts,
		RawLine:   raw,
	})
}

// inboundTarget maps an inbound message to its display pane: channel
// messages file under the channel, direct messages under the peer nick.
// Echoes of our own direct messages file under the recipient.
func (e *Engine) inboundTarget(target, sender string) string {
	if e.isupport.IsChannel(target) {
		return target
	}
	if strings.EqualFold(sender, e.CurrentNick()) {
		return target
	}
	return sender
}
