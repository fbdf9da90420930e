package irc

import (
	"strconv"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/matt0x6f/cascade/internal/constants"
	"github.com/matt0x6f/cascade/internal/logger"
)

// LabeledResponse delivers the correlated reply, or failure, for a command
// sent through SendWithLabel. Exactly one of Message and Err is meaningful.
type LabeledResponse struct {
	Label   string
	Message ircmsg.Message
	Err     error
}

// pendingLabel is one outbound command awaiting its correlated reply
type pendingLabel struct {
	label    string
	command  string
	sent     time.Time
	callback func(LabeledResponse)
	timer    *time.Timer
}

// labelCorrelator matches outbound labeled commands to their replies via
// the labeled-response capability. Labels are monotonically increasing
// integers scoped to the connection. Each callback fires exactly once:
// on the reply, on timeout, or on disconnect.
type labelCorrelator struct {
	engine  *Engine
	mu      sync.Mutex
	next    uint64
	pending map[string]*pendingLabel
	timeout time.Duration
}

func newLabelCorrelator(e *Engine) *labelCorrelator {
	return &labelCorrelator{
		engine:  e,
		pending: make(map[string]*pendingLabel),
		timeout: constants.LabelTimeout,
	}
}

// SendWithLabel sends a command tagged for reply correlation. When the
// labeled-response capability is not enabled this degrades to a plain send
// and the callback is never invoked.
func (e *Engine) SendWithLabel(callback func(LabeledResponse), tags map[string]string, command string, params ...string) error {
	if !e.ctx.Conn.IsConnected() {
		return ErrNotConnected
	}
	return e.labels.send(callback, tags, command, params...)
}

func (l *labelCorrelator) send(callback func(LabeledResponse), tags map[string]string, command string, params ...string) error {
	if !l.engine.CapEnabled("labeled-response") {
		return l.engine.send(tags, command, params...)
	}

	l.mu.Lock()
	l.next++
	label := strconv.FormatUint(l.next, 10)
	entry := &pendingLabel{
		label:    label,
		command:  command,
		sent:     time.Now(),
		callback: callback,
	}
	l.pending[label] = entry
	entry.timer = time.AfterFunc(l.timeout, func() { l.expire(label) })
	l.mu.Unlock()

	sendTags := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		sendTags[k] = v
	}
	sendTags["label"] = label

	if err := l.engine.send(sendTags, command, params...); err != nil {
		// the line never left, so no reply will ever come
		l.mu.Lock()
		if entry, ok := l.pending[label]; ok {
			entry.timer.Stop()
			delete(l.pending, label)
		}
		l.mu.Unlock()
		return err
	}
	return nil
}

// handleResponse delivers a labeled reply to its pending callback. Replies
// whose label matches nothing are logged and dropped.
func (l *labelCorrelator) handleResponse(label string, msg ircmsg.Message) {
	l.mu.Lock()
	entry, ok := l.pending[label]
	if ok {
		entry.timer.Stop()
		delete(l.pending, label)
	}
	l.mu.Unlock()

	if !ok {
		logger.Log.Debug().
			Str("label", label).
			Str("command", msg.Command).
			Msg("Labeled response with no pending command, dropping")
		return
	}
	if entry.callback != nil {
		entry.callback(LabeledResponse{Label: label, Message: msg})
	}
}

// expire times out one pending label. A reply that won the race has
// already cleared the entry and this is a no-op.
func (l *labelCorrelator) expire(label string) {
	l.mu.Lock()
	entry, ok := l.pending[label]
	delete(l.pending, label)
	l.mu.Unlock()
	if !ok {
		return
	}

	logger.Log.Debug().
		Str("label", label).
		Str("command", entry.command).
		Msg("Labeled command timed out")
	if entry.callback != nil {
		entry.callback(LabeledResponse{Label: label, Err: ErrLabelTimeout})
	}
}

// flushPending fails every pending label synchronously. Called from the
// disconnect path so callbacks settle before reconnect logic runs.
func (l *labelCorrelator) flushPending(err error) {
	l.mu.Lock()
	pending := l.pending
	l.pending = make(map[string]*pendingLabel)
	l.mu.Unlock()

	for label, entry := range pending {
		entry.timer.Stop()
		if entry.callback != nil {
			entry.callback(LabeledResponse{Label: label, Err: err})
		}
	}
}
