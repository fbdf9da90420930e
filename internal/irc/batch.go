package irc

import (
	"fmt"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/matt0x6f/cascade/internal/logger"
)

// batch is one open inbound batch and the lines accumulated under it
type batch struct {
	Ref      string
	Type     string
	Params   []string
	Messages []ircmsg.Message
	Started  time.Time
}

// batchTracker owns the open batches of one connection. There is no batch
// timeout: a server that opens a batch and never closes it keeps the entry
// alive until disconnect, when reset discards everything.
type batchTracker struct {
	engine  *Engine
	mu      sync.Mutex
	batches map[string]*batch
}

func newBatchTracker(e *Engine) *batchTracker {
	return &batchTracker{engine: e, batches: make(map[string]*batch)}
}

// open registers a batch under its reference. Reusing a live reference
// replaces the previous batch.
func (t *batchTracker) open(ref, batchType string, params []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.batches[ref]; exists {
		logger.Log.Warn().Str("ref", ref).Msg("Batch reference reopened, replacing")
	}
	t.batches[ref] = &batch{
		Ref:     ref,
		Type:    batchType,
		Params:  params,
		Started: time.Now(),
	}
}

// accumulate appends a line to its open batch, reporting whether the line
// was consumed. Lines referencing an unknown batch are not consumed and
// flow through normal dispatch.
func (t *batchTracker) accumulate(ref string, msg ircmsg.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[ref]
	if !ok {
		return false
	}
	b.Messages = append(b.Messages, msg)
	return true
}

// close folds a finished batch into a single summary line and a batch.end
// event carrying the accumulated messages. Closing an unknown reference is
// a no-op.
func (t *batchTracker) close(ref string, ts time.Time) {
	t.mu.Lock()
	b, ok := t.batches[ref]
	delete(t.batches, ref)
	t.mu.Unlock()
	if !ok {
		return
	}

	t.engine.ctx.Display.DisplayMessage(Message{
		Sender:    "*",
		Text:      foldSummary(b),
		Type:      "batch",
		Timestamp: ts,
	})

	t.engine.emit(EventBatchEnd, map[string]interface{}{
		"network":  t.engine.ctx.Identity.NetworkName(),
		"ref":      b.Ref,
		"type":     b.Type,
		"params":   b.Params,
		"count":    len(b.Messages),
		"messages": b.Messages,
	})
}

func (t *batchTracker) reset() {
	t.mu.Lock()
	t.batches = make(map[string]*batch)
	t.mu.Unlock()
}

// foldSummary renders one line describing a closed batch
func foldSummary(b *batch) string {
	n := len(b.Messages)
	switch b.Type {
	case "netsplit":
		if len(b.Params) >= 2 {
			return fmt.Sprintf("Netsplit between %s and %s (%d messages)", b.Params[0], b.Params[1], n)
		}
		return fmt.Sprintf("Netsplit (%d messages)", n)
	case "netjoin":
		if len(b.Params) >= 2 {
			return fmt.Sprintf("Netjoin between %s and %s (%d messages)", b.Params[0], b.Params[1], n)
		}
		return fmt.Sprintf("Netjoin (%d messages)", n)
	case "chathistory", "history":
		return fmt.Sprintf("Replayed %d messages of history", n)
	case "soju.im/bouncer-playback", "bouncer-playback":
		return fmt.Sprintf("Played back %d messages", n)
	case "cap-notify":
		return fmt.Sprintf("Capability update (%d messages)", n)
	default:
		return fmt.Sprintf("Batch %s: %d messages", b.Type, n)
	}
}

// handleBatchVerb processes BATCH open ("+ref type params") and close
// ("-ref") lines
func handleBatchVerb(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) == 0 || len(msg.Params[0]) < 2 {
		logger.Log.Warn().Strs("params", msg.Params).Msg("Malformed BATCH line")
		return
	}
	marker := msg.Params[0][0]
	ref := msg.Params[0][1:]

	switch marker {
	case '+':
		if len(msg.Params) < 2 {
			logger.Log.Warn().Str("ref", ref).Msg("Batch opened without a type")
			return
		}
		e.batches.open(ref, msg.Params[1], msg.Params[2:])
	case '-':
		e.batches.close(ref, ts)
	default:
		logger.Log.Warn().Str("param", msg.Params[0]).Msg("BATCH parameter missing +/- marker")
	}
}
