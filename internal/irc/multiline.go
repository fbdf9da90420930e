package irc

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matt0x6f/cascade/internal/constants"
)

// multilineKey identifies one in-flight multiline message. Fragments from
// the same sender to different targets assemble independently.
type multilineKey struct {
	sender string
	target string
}

type multilineBuffer struct {
	parts      []string
	lastUpdate time.Time
}

// assembler reassembles inbound messages fragmented under the
// draft/multiline capability. Buffers are purged lazily: every call first
// drops buffers whose last fragment is older than the staleness window, so
// an abandoned multiline never blocks later messages from the same pair.
type assembler struct {
	mu      sync.Mutex
	buffers map[multilineKey]*multilineBuffer
	stale   time.Duration
}

func newAssembler() *assembler {
	return &assembler{
		buffers: make(map[multilineKey]*multilineBuffer),
		stale:   constants.MultilineStale,
	}
}

// Handle processes one message fragment and reports whether a complete
// message is ready. A message without a concat tag is complete as-is. A
// non-empty concat tag buffers the fragment; an empty concat tag marks the
// terminal fragment and yields the buffered lines joined with newlines.
func (a *assembler) Handle(sender, target, text, concat string, hasConcat bool) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.purgeStale(time.Now())

	if !hasConcat {
		return text, true
	}

	key := multilineKey{sender: sender, target: target}
	buf := a.buffers[key]
	if buf == nil {
		buf = &multilineBuffer{}
		a.buffers[key] = buf
	}
	buf.parts = append(buf.parts, text)
	buf.lastUpdate = time.Now()

	if concat != "" {
		return "", false
	}

	assembled := strings.Join(buf.parts, "\n")
	delete(a.buffers, key)
	return assembled, true
}

// purgeStale drops buffers that have not seen a fragment recently. Caller
// holds the mutex.
func (a *assembler) purgeStale(now time.Time) {
	for key, buf := range a.buffers {
		if now.Sub(buf.lastUpdate) > a.stale {
			delete(a.buffers, key)
		}
	}
}

func (a *assembler) reset() {
	a.mu.Lock()
	a.buffers = make(map[multilineKey]*multilineBuffer)
	a.mu.Unlock()
}

// SendMultiline sends text containing newlines as one logical message.
// With the batch and draft/multiline capabilities enabled the lines travel
// inside a client-initiated batch the receiving side can reassemble;
// otherwise each line degrades to its own PRIVMSG.
func (e *Engine) SendMultiline(target, text string) error {
	if !e.ctx.Conn.IsConnected() {
		return ErrNotConnected
	}

	lines := strings.Split(text, "\n")
	if len(lines) == 1 {
		return e.SendMessage(target, text)
	}

	if !e.CapEnabled("batch") || !e.CapEnabled("draft/multiline") {
		for _, line := range lines {
			if line == "" {
				line = " "
			}
			if err := e.SendMessage(target, line); err != nil {
				return err
			}
		}
		return nil
	}

	ref := uuid.NewString()
	if err := e.send(nil, "BATCH", "+"+ref, "draft/multiline", target); err != nil {
		return err
	}
	tags := map[string]string{"batch": ref}
	for _, line := range lines {
		if line == "" {
			line = " "
		}
		if err := e.send(tags, "PRIVMSG", target, line); err != nil {
			return err
		}
	}
	if err := e.send(nil, "BATCH", "-"+ref); err != nil {
		return err
	}

	if !e.CapEnabled("echo-message") {
		e.ctx.Display.DisplayMessage(Message{
			Target:    target,
			Sender:    e.CurrentNick(),
			Text:      text,
			Type:      "privmsg",
			Timestamp: time.Now(),
		})
	}
	e.emit(EventMessageSent, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"target":  target,
		"message": text,
	})
	return nil
}
