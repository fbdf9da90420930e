package irc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// responseRecorder collects labeled-response callbacks safely across the
// timer goroutine and the dispatch path
type responseRecorder struct {
	mu        sync.Mutex
	responses []LabeledResponse
}

func (r *responseRecorder) record(resp LabeledResponse) {
	r.mu.Lock()
	r.responses = append(r.responses, resp)
	r.mu.Unlock()
}

func (r *responseRecorder) all() []LabeledResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LabeledResponse(nil), r.responses...)
}

func (r *responseRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.responses)
}

func TestLabeledCommandCorrelatesReply(t *testing.T) {
	e, h := newTestEngine(t, Config{})
	enableCaps(e, "labeled-response")
	e.labels.timeout = 50 * time.Millisecond
	rec := &responseRecorder{}

	require.NoError(t, e.SendWithLabel(rec.record, nil, "WHO", "#go"))

	sent := h.conn.lastLine()
	assert.Contains(t, sent, "label=1")
	assert.Contains(t, sent, "WHO #go")

	e.HandleLine("@label=1 :irc.example.com 315 alice #go :End of WHO list")

	responses := rec.all()
	require.Len(t, responses, 1)
	assert.NoError(t, responses[0].Err)
	assert.Equal(t, "315", responses[0].Message.Command)
	assert.Equal(t, "1", responses[0].Label)

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, rec.count(), "The stopped timer must not deliver a second response")
}

func TestLabeledCommandTimesOutOnce(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	enableCaps(e, "labeled-response")
	e.labels.timeout = 20 * time.Millisecond
	rec := &responseRecorder{}

	require.NoError(t, e.SendWithLabel(rec.record, nil, "WHO", "#go"))

	require.Eventually(t, func() bool { return rec.count() == 1 },
		time.Second, 5*time.Millisecond, "The pending command should expire")
	assert.ErrorIs(t, rec.all()[0].Err, ErrLabelTimeout)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestLabeledReplyAfterTimeoutDropped(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	enableCaps(e, "labeled-response")
	e.labels.timeout = 10 * time.Millisecond
	rec := &responseRecorder{}

	require.NoError(t, e.SendWithLabel(rec.record, nil, "WHO", "#go"))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	e.HandleLine("@label=1 :irc.example.com 315 alice #go :End of WHO list")

	responses := rec.all()
	require.Len(t, responses, 1, "A reply that lost the race to the timeout is dropped")
	assert.ErrorIs(t, responses[0].Err, ErrLabelTimeout)
}

func TestLabelsIncreaseMonotonically(t *testing.T) {
	e, h := newTestEngine(t, Config{})
	enableCaps(e, "labeled-response")

	require.NoError(t, e.SendWithLabel(nil, nil, "WHO", "#go"))
	require.NoError(t, e.SendWithLabel(nil, nil, "WHO", "#dev"))

	lines := h.conn.sent()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "label=1")
	assert.Contains(t, lines[1], "label=2")
}

func TestDisconnectFlushesPendingLabels(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	enableCaps(e, "labeled-response")
	rec := &responseRecorder{}

	require.NoError(t, e.SendWithLabel(rec.record, nil, "WHO", "#go"))
	require.NoError(t, e.SendWithLabel(rec.record, nil, "WHOIS", "bob"))

	e.HandleDisconnect()

	responses := rec.all()
	require.Len(t, responses, 2, "Disconnect settles every pending callback synchronously")
	for _, resp := range responses {
		assert.ErrorIs(t, resp.Err, ErrDisconnected)
	}
}

func TestSendWithLabelDegradesWithoutCapability(t *testing.T) {
	e, h := newTestEngine(t, Config{})
	e.labels.timeout = 10 * time.Millisecond
	rec := &responseRecorder{}

	require.NoError(t, e.SendWithLabel(rec.record, nil, "WHO", "#go"))

	assert.Equal(t, "WHO #go", h.conn.lastLine(), "Plain send when the server never acked labeled-response")

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count(), "No callback is registered for an unlabeled send")
}

func TestSendWithLabelPreservesCallerTags(t *testing.T) {
	e, h := newTestEngine(t, Config{})
	enableCaps(e, "labeled-response")
	tags := map[string]string{"foo": "bar"}

	require.NoError(t, e.SendWithLabel(nil, tags, "TAGMSG", "#go"))

	assert.NotContains(t, tags, "label", "The caller's tag map is not mutated")
	sent := h.conn.lastLine()
	assert.Contains(t, sent, "foo=bar")
	assert.Contains(t, sent, "label=1")
}

func TestSendWithLabelWhileDisconnected(t *testing.T) {
	e, h := newTestEngine(t, Config{})
	enableCaps(e, "labeled-response")
	h.conn.connected = false

	err := e.SendWithLabel(nil, nil, "WHO", "#go")

	assert.ErrorIs(t, err, ErrNotConnected)
}
