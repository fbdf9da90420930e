package irc

import (
	"testing"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetsplitBatchFoldsIntoSummary(t *testing.T) {
	e, h := newTestEngine(t, Config{})
	enableCaps(e, "batch")
	h.members.AddMember("#go", "carol", PrivNone)

	e.HandleLine(":irc.example.com BATCH +yXNAbvnRHTRBv netsplit *.net *.split")
	e.HandleLine("@batch=yXNAbvnRHTRBv :carol!c@host QUIT :*.net *.split")
	e.HandleLine("@batch=yXNAbvnRHTRBv :dave!d@host QUIT :*.net *.split")

	assert.Empty(t, h.display.all(), "Batched lines are not displayed individually")
	assert.True(t, h.members.has("#go", "carol"), "Batched lines are not dispatched individually")

	e.HandleLine(":irc.example.com BATCH -yXNAbvnRHTRBv")

	folds := h.display.byType("batch")
	require.Len(t, folds, 1)
	assert.Equal(t, "Netsplit between *.net and *.split (2 messages)", folds[0].Text)

	evs := h.sink.byType(EventBatchEnd)
	require.Len(t, evs, 1)
	assert.Equal(t, "netsplit", evs[0].Data["type"])
	assert.Equal(t, 2, evs[0].Data["count"])
	messages, ok := evs[0].Data["messages"].([]ircmsg.Message)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestChathistoryBatchFoldsIntoSummary(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com BATCH +hist chathistory #go")
	e.HandleLine("@batch=hist :bob!b@host PRIVMSG #go :archived chatter")
	e.HandleLine(":irc.example.com BATCH -hist")

	folds := h.display.byType("batch")
	require.Len(t, folds, 1)
	assert.Equal(t, "Replayed 1 messages of history", folds[0].Text)
}

func TestUnknownBatchTypeGenericSummary(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com BATCH +z example.com/custom")
	e.HandleLine("@batch=z :bob!b@host PRIVMSG #go :one")
	e.HandleLine(":irc.example.com BATCH -z")

	folds := h.display.byType("batch")
	require.Len(t, folds, 1)
	assert.Equal(t, "Batch example.com/custom: 1 messages", folds[0].Text)
}

func TestBatchCloseUnknownRefIsNoOp(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com BATCH -nope")

	assert.Empty(t, h.display.all())
	assert.Empty(t, h.sink.byType(EventBatchEnd))
}

func TestBatchDoubleCloseFoldsOnce(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com BATCH +ref netsplit a.net b.net")
	e.HandleLine(":irc.example.com BATCH -ref")
	e.HandleLine(":irc.example.com BATCH -ref")

	assert.Len(t, h.display.byType("batch"), 1)
	assert.Len(t, h.sink.byType(EventBatchEnd), 1)
}

func TestBatchTagWithUnknownRefFlowsThrough(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine("@batch=nope :bob!b@host PRIVMSG #go :hello there")

	msgs := h.display.byType("privmsg")
	require.Len(t, msgs, 1, "A line referencing no open batch dispatches normally")
	assert.Equal(t, "hello there", msgs[0].Text)
}

func TestBatchReopeningRefReplacesBatch(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com BATCH +ref netsplit a.net b.net")
	e.HandleLine("@batch=ref :x!u@h QUIT :gone")
	e.HandleLine(":irc.example.com BATCH +ref netsplit a.net b.net")
	e.HandleLine("@batch=ref :y!u@h QUIT :gone")
	e.HandleLine(":irc.example.com BATCH -ref")

	evs := h.sink.byType(EventBatchEnd)
	require.Len(t, evs, 1)
	assert.Equal(t, 1, evs[0].Data["count"], "Reopening a live reference discards the previous accumulation")
}

func TestBatchDiscardedOnDisconnect(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com BATCH +ref netsplit a.net b.net")
	e.HandleLine("@batch=ref :x!u@h QUIT :gone")
	e.HandleDisconnect()
	e.HandleLine(":irc.example.com BATCH -ref")

	assert.Empty(t, h.display.byType("batch"))
	assert.Empty(t, h.sink.byType(EventBatchEnd))
}

func TestBatchMalformedLinesIgnored(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com BATCH +")
	e.HandleLine(":irc.example.com BATCH x5")
	e.HandleLine(":irc.example.com BATCH +typeless")
	e.HandleLine(":irc.example.com BATCH -typeless")

	assert.Empty(t, h.display.byType("batch"))
	assert.Empty(t, h.sink.byType(EventBatchEnd))
}
