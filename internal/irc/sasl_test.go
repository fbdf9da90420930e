package irc

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSASLPlainFullNegotiation(t *testing.T) {
	e, h := newTestEngine(t, Config{SASL: SASLConfig{Enabled: true, Mechanism: "PLAIN"}})
	h.creds.account = "testuser"
	h.creds.password = "hunter2"
	require.NoError(t, e.StartRegistration(""))
	h.conn.clear()

	e.HandleLine(":irc.example.com CAP * LS :sasl server-time")

	reqs := h.conn.sentContaining("CAP REQ")
	require.Len(t, reqs, 1)
	assert.Equal(t, "CAP REQ :server-time sasl", reqs[0])

	e.HandleLine(":irc.example.com CAP alice ACK :server-time sasl")

	assert.Empty(t, h.conn.sentContaining("CAP END"), "Negotiation stays open while authentication runs")
	require.Len(t, h.conn.sentContaining("AUTHENTICATE PLAIN"), 1)
	require.Len(t, h.sink.byType(EventSASLStarted), 1)

	e.HandleLine("AUTHENTICATE +")

	blob := strings.TrimPrefix(h.conn.lastLine(), "AUTHENTICATE ")
	decoded, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	assert.Equal(t, "\x00testuser\x00hunter2", string(decoded))

	e.HandleLine(":irc.example.com 903 alice :SASL authentication successful")

	require.Len(t, h.sink.byType(EventSASLSuccess), 1)
	assert.Len(t, h.conn.sentContaining("CAP END"), 1, "CAP END follows the authentication result")
}

func TestSASLRejectedCredentialsEndNegotiation(t *testing.T) {
	e, h := newTestEngine(t, Config{SASL: SASLConfig{Enabled: true}})
	h.creds.account = "testuser"
	h.creds.password = "wrong"
	require.NoError(t, e.StartRegistration(""))
	e.HandleLine(":irc.example.com CAP * LS :sasl")
	e.HandleLine(":irc.example.com CAP alice ACK :sasl")
	h.conn.clear()

	e.HandleLine(":irc.example.com 904 alice :SASL authentication failed")

	evs := h.sink.byType(EventSASLFailed)
	require.Len(t, evs, 1)
	assert.Equal(t, "SASL authentication failed", evs[0].Data["error"])
	assert.Len(t, h.conn.sentContaining("CAP END"), 1)
	require.NotEmpty(t, h.display.byType("error"))
}

func TestSASLRepeatedFailuresRequestDisconnect(t *testing.T) {
	e, h := newTestEngine(t, Config{SASL: SASLConfig{Enabled: true}})
	h.creds.account = "testuser"
	h.creds.password = "wrong"

	for i := 0; i < 3; i++ {
		e.startSASL()
		e.HandleLine(":irc.example.com 904 alice :SASL authentication failed")
	}

	require.Len(t, h.sink.byType(EventDisconnectRequested), 1,
		"The third failure asks the host to tear the connection down")
}

func TestSASLExternalSendsEmptyResponse(t *testing.T) {
	e, h := newTestEngine(t, Config{SASL: SASLConfig{Enabled: true}})
	h.creds.cert = true

	e.startSASL()
	assert.Equal(t, "AUTHENTICATE EXTERNAL", h.conn.lastLine(), "A client certificate selects EXTERNAL")

	e.HandleLine("AUTHENTICATE +")
	assert.Equal(t, "AUTHENTICATE +", h.conn.lastLine())
}

func TestSASLMechanismSelection(t *testing.T) {
	e, h := newTestEngine(t, Config{SASL: SASLConfig{Enabled: true}})
	h.creds.account = "alice"
	h.creds.password = "pw"
	e.startSASL()
	assert.Equal(t, "AUTHENTICATE SCRAM-SHA-256", h.conn.lastLine(),
		"Credentials alone select SCRAM, keeping the password off the wire")

	e, h = newTestEngine(t, Config{SASL: SASLConfig{Enabled: true, Mechanism: "plain"}})
	h.creds.account = "alice"
	h.creds.password = "pw"
	e.startSASL()
	assert.Equal(t, "AUTHENTICATE PLAIN", h.conn.lastLine(), "Explicit configuration wins, case-normalized")

	e, h = newTestEngine(t, Config{SASL: SASLConfig{Enabled: true}})
	h.creds.account = "alice"
	h.creds.password = "pw"
	h.creds.cert = true
	e.startSASL()
	assert.Equal(t, "AUTHENTICATE EXTERNAL", h.conn.lastLine(), "A client certificate outranks credentials")
}

func TestSASLWithoutCredentialsNotRequested(t *testing.T) {
	e, h := newTestEngine(t, Config{SASL: SASLConfig{Enabled: true}})
	require.NoError(t, e.StartRegistration(""))
	h.conn.clear()

	e.HandleLine(":irc.example.com CAP * LS :sasl batch")

	reqs := h.conn.sentContaining("CAP REQ")
	require.Len(t, reqs, 1)
	assert.Equal(t, "CAP REQ :batch", reqs[0], "sasl is not requested with nothing to authenticate with")
}

func TestSASLForceRequestsSightUnseen(t *testing.T) {
	e, h := newTestEngine(t, Config{SASL: SASLConfig{Enabled: true, Force: true}})
	h.creds.account = "alice"
	h.creds.password = "pw"
	require.NoError(t, e.StartRegistration(""))
	h.conn.clear()

	e.HandleLine(":irc.example.com CAP * LS :batch")

	reqs := h.conn.sentContaining("CAP REQ")
	require.Len(t, reqs, 1)
	assert.Equal(t, "CAP REQ :batch sasl", reqs[0], "Force requests sasl even when unadvertised")
}

func TestSASLPlusFlushesBufferedChunks(t *testing.T) {
	e, h := newTestEngine(t, Config{SASL: SASLConfig{Enabled: true, Mechanism: "PLAIN"}})
	h.creds.account = "alice"
	h.creds.password = "pw"
	e.startSASL()
	h.conn.clear()

	e.HandleLine("AUTHENTICATE " + strings.Repeat("A", 400))
	assert.Empty(t, h.conn.sent(), "A full 400-byte chunk waits for its continuation")

	e.HandleLine("AUTHENTICATE +")
	assert.Equal(t, "AUTHENTICATE *", h.conn.lastLine(),
		"The buffered payload reaches the mechanism, which rejects it for PLAIN")
}

func TestSASLServerAbortFailsAttempt(t *testing.T) {
	e, h := newTestEngine(t, Config{SASL: SASLConfig{Enabled: true}})
	h.creds.account = "alice"
	h.creds.password = "pw"
	e.startSASL()

	e.HandleLine("AUTHENTICATE *")

	evs := h.sink.byType(EventSASLAborted)
	require.Len(t, evs, 1)
	assert.Equal(t, "server aborted authentication", evs[0].Data["reason"])
}

func TestSASLDuplicateStartIgnored(t *testing.T) {
	e, h := newTestEngine(t, Config{SASL: SASLConfig{Enabled: true}})
	h.creds.account = "alice"
	h.creds.password = "pw"

	e.startSASL()
	e.startSASL()

	assert.Len(t, h.conn.sentContaining("AUTHENTICATE SCRAM-SHA-256"), 1, "At most one attempt runs at a time")
}

func TestSASLLoggedInRecordsAccount(t *testing.T) {
	e, h := newTestEngine(t, Config{SASL: SASLConfig{Enabled: true}})
	h.creds.account = "testuser"
	h.creds.password = "pw"
	e.startSASL()

	e.HandleLine(":irc.example.com 900 alice alice!a@host testuser :You are now logged in as testuser")

	statuses := h.display.byType("status")
	require.NotEmpty(t, statuses)
	assert.Contains(t, statuses[len(statuses)-1].Text, "Logged in as testuser")
}

func TestSASLMechanismListDisplayed(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com 908 alice PLAIN,EXTERNAL,SCRAM-SHA-256 :are available SASL mechanisms")

	statuses := h.display.byType("status")
	require.Len(t, statuses, 1)
	assert.Contains(t, statuses[0].Text, "PLAIN,EXTERNAL,SCRAM-SHA-256")
}
