package irc

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 7677 section 3 exchange for SCRAM-SHA-256, user "user" and password
// "pencil" with the fixed nonce "rOprNGfwEbeRWgbNEkqO".
const (
	rfcNonce       = "rOprNGfwEbeRWgbNEkqO"
	rfcServerFirst = "r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"
	rfcClientFinal = "c=biws,r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,p=dHzbZapWIk4jUhN+Ute9ytag9zjfMHgsqmmiz7AndVQ="
	rfcServerFinal = "v=6rriTRBi23WpRR/wtup+mMhUZUn/dB5nLTJRsjl95G4="
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func newRFCConversation(t *testing.T) *scramConversation {
	t.Helper()
	conv, err := newScramConversation("SCRAM-SHA-256", "user", "pencil", nil)
	require.NoError(t, err)
	conv.clientNonce = rfcNonce
	return conv
}

func TestScramRFC7677Vector(t *testing.T) {
	conv := newRFCConversation(t)

	first, err := conv.clientFirst()
	require.NoError(t, err)
	assert.Equal(t, b64("n,,n=user,r="+rfcNonce), first)

	require.NoError(t, conv.processServerFirst(b64(rfcServerFirst)))
	assert.Equal(t, 4096, conv.iterations)

	final, err := conv.clientFinal()
	require.NoError(t, err)
	assert.Equal(t, b64(rfcClientFinal), final, "Derived proof must match the RFC exchange")

	require.NoError(t, conv.verifyServerFinal(b64(rfcServerFinal)))
	assert.Equal(t, scramVerified, conv.phase)
}

func TestScramServerNonceMustExtendClientNonce(t *testing.T) {
	conv := newRFCConversation(t)
	_, err := conv.clientFirst()
	require.NoError(t, err)

	err = conv.processServerFirst(b64("r=completelydifferent,s=QSXCR+Q6sek8bf92,i=4096"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce")
	assert.Equal(t, scramFailed, conv.phase)

	// echoing our nonce without extending it is just as bad
	conv = newRFCConversation(t)
	_, err = conv.clientFirst()
	require.NoError(t, err)
	err = conv.processServerFirst(b64("r=" + rfcNonce + ",s=QSXCR+Q6sek8bf92,i=4096"))
	require.Error(t, err)
}

func TestScramIterationFloorEnforced(t *testing.T) {
	conv := newRFCConversation(t)
	_, err := conv.clientFirst()
	require.NoError(t, err)

	err = conv.processServerFirst(b64("r=" + rfcNonce + "ext,s=QSXCR+Q6sek8bf92,i=1024"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below")
	assert.Equal(t, scramFailed, conv.phase)
}

func TestScramServerFirstMissingAttributes(t *testing.T) {
	for _, tc := range []struct {
		name    string
		message string
		want    string
	}{
		{"no salt", "r=" + rfcNonce + "ext,i=4096", "salt"},
		{"no iterations", "r=" + rfcNonce + "ext,s=QSXCR+Q6sek8bf92", "iteration"},
		{"no nonce", "s=QSXCR+Q6sek8bf92,i=4096", "nonce"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conv := newRFCConversation(t)
			_, err := conv.clientFirst()
			require.NoError(t, err)

			err = conv.processServerFirst(b64(tc.message))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestScramServerErrorAttributeIsHardFailure(t *testing.T) {
	conv := newRFCConversation(t)
	_, err := conv.clientFirst()
	require.NoError(t, err)
	require.NoError(t, conv.processServerFirst(b64(rfcServerFirst)))
	_, err = conv.clientFinal()
	require.NoError(t, err)

	err = conv.verifyServerFinal(b64("e=invalid-proof"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid-proof")
	assert.Equal(t, scramFailed, conv.phase)
}

func TestScramServerSignatureMismatch(t *testing.T) {
	conv := newRFCConversation(t)
	_, err := conv.clientFirst()
	require.NoError(t, err)
	require.NoError(t, conv.processServerFirst(b64(rfcServerFirst)))
	_, err = conv.clientFinal()
	require.NoError(t, err)

	forged := "v=" + base64.StdEncoding.EncodeToString([]byte("not the signature"))
	err = conv.verifyServerFinal(b64(forged))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature mismatch")
}

func TestScramPhaseOrderEnforced(t *testing.T) {
	conv := newRFCConversation(t)
	require.Error(t, conv.processServerFirst(b64(rfcServerFirst)), "server-first before client-first")

	conv = newRFCConversation(t)
	_, err := conv.clientFinal()
	require.Error(t, err, "client-final before server-first")

	conv = newRFCConversation(t)
	require.Error(t, conv.verifyServerFinal(b64(rfcServerFinal)), "server-final before client-final")
}

func TestScramUsernameEscaping(t *testing.T) {
	for input, want := range map[string]string{
		"user":    "user",
		"a=b":     "a=3Db",
		"a,b":     "a=2Cb",
		"=,":      "=3D=2C",
		"a=2Cb":   "a=3D2Cb",
		"a.b@c.d": "a.b@c.d",
	} {
		assert.Equal(t, want, escapeSCRAMUsername(input), "escaping %q", input)
	}

	conv, err := newScramConversation("SCRAM-SHA-256", "ali,ce=x", "pw", nil)
	require.NoError(t, err)
	first, err := conv.clientFirst()
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(first)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "n=ali=2Cce=3Dx,")
}

func TestScramChannelBindingHeader(t *testing.T) {
	conv, err := newScramConversation("SCRAM-SHA-256", "user", "pencil", []byte{0x01, 0x02})
	require.NoError(t, err)
	conv.clientNonce = rfcNonce

	first, err := conv.clientFirst()
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(first)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(decoded), "p=tls-unique,,"))

	require.NoError(t, conv.processServerFirst(b64("r="+rfcNonce+"ext,s=QSXCR+Q6sek8bf92,i=4096")))
	final, err := conv.clientFinal()
	require.NoError(t, err)
	decodedFinal, err := base64.StdEncoding.DecodeString(final)
	require.NoError(t, err)

	wantBinding := base64.StdEncoding.EncodeToString([]byte("p=tls-unique,,\x01\x02"))
	assert.True(t, strings.HasPrefix(string(decodedFinal), "c="+wantBinding+","),
		"The c attribute carries the GS2 header plus the binding data")
}

func TestScramUnsupportedMechanismRejected(t *testing.T) {
	_, err := newScramConversation("SCRAM-SHA-1", "user", "pencil", nil)
	require.Error(t, err)
}

func TestScramNoncesAreUnique(t *testing.T) {
	a, err := newScramConversation("SCRAM-SHA-256", "user", "pencil", nil)
	require.NoError(t, err)
	b, err := newScramConversation("SCRAM-SHA-256", "user", "pencil", nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.clientNonce, b.clientNonce)
	assert.NotEmpty(t, a.clientNonce)
}

// startScramEngine drives an engine through AUTHENTICATE SCRAM-SHA-256 and
// the server go-ahead, returning the client nonce pulled from the wire.
func startScramEngine(t *testing.T) (*Engine, *testHost, string) {
	t.Helper()
	e, h := newTestEngine(t, Config{SASL: SASLConfig{Enabled: true, Mechanism: "SCRAM-SHA-256"}})
	h.creds.account = "user"
	h.creds.password = "pencil"

	e.startSASL()
	require.Equal(t, "AUTHENTICATE SCRAM-SHA-256", h.conn.lastLine())

	e.HandleLine("AUTHENTICATE +")
	first := strings.TrimPrefix(h.conn.lastLine(), "AUTHENTICATE ")
	decoded, err := base64.StdEncoding.DecodeString(first)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(decoded), "n,,n=user,r="), "client-first: %q", decoded)
	nonce := strings.TrimPrefix(string(decoded), "n,,n=user,r=")
	require.NotEmpty(t, nonce)
	return e, h, nonce
}

func TestScramEngineConversationWithChunkedChallenge(t *testing.T) {
	e, h, nonce := startScramEngine(t)

	salt := base64.StdEncoding.EncodeToString([]byte("salty salt value"))
	serverNonce := nonce + strings.Repeat("x", 300)
	payload := b64(fmt.Sprintf("r=%s,s=%s,i=4096", serverNonce, salt))
	require.Greater(t, len(payload), 400, "challenge must span two chunks")

	h.conn.clear()
	e.HandleLine("AUTHENTICATE " + payload[:400])
	assert.Empty(t, h.conn.sent(), "A 400-byte chunk is buffered until the remainder arrives")

	e.HandleLine("AUTHENTICATE " + payload[400:])

	final := strings.TrimPrefix(h.conn.lastLine(), "AUTHENTICATE ")
	decoded, err := base64.StdEncoding.DecodeString(final)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(decoded), "c=biws,r="+serverNonce), "client-final: %q", decoded)
	assert.Contains(t, string(decoded), ",p=")
}

func TestScramEngineAbortsOnTamperedNonce(t *testing.T) {
	e, h, _ := startScramEngine(t)

	e.HandleLine("AUTHENTICATE " + b64("r=attackernonce,s=QSXCR+Q6sek8bf92,i=4096"))

	assert.Equal(t, "AUTHENTICATE *", h.conn.lastLine())
	require.Len(t, h.sink.byType(EventSASLAborted), 1)
}

func TestScramEngineAbortsOnLowIterationCount(t *testing.T) {
	e, h, nonce := startScramEngine(t)

	e.HandleLine("AUTHENTICATE " + b64("r="+nonce+"ext,s=QSXCR+Q6sek8bf92,i=512"))

	assert.Equal(t, "AUTHENTICATE *", h.conn.lastLine())
	require.Len(t, h.sink.byType(EventSASLAborted), 1)
}

func TestScramEngineAbortsOnBadServerSignature(t *testing.T) {
	e, h, nonce := startScramEngine(t)

	e.HandleLine("AUTHENTICATE " + b64("r="+nonce+"ext,s=QSXCR+Q6sek8bf92,i=4096"))
	require.Contains(t, h.conn.lastLine(), "AUTHENTICATE ", "client-final should have been sent")

	forged := "v=" + base64.StdEncoding.EncodeToString([]byte("wrong"))
	e.HandleLine("AUTHENTICATE " + b64(forged))

	assert.Equal(t, "AUTHENTICATE *", h.conn.lastLine())
	require.Len(t, h.sink.byType(EventSASLAborted), 1)
}

func TestScramEngineChallengeBeforeClientFirstAborts(t *testing.T) {
	e, h := newTestEngine(t, Config{SASL: SASLConfig{Enabled: true, Mechanism: "SCRAM-SHA-256"}})
	h.creds.account = "user"
	h.creds.password = "pencil"
	e.startSASL()

	e.HandleLine("AUTHENTICATE " + b64(rfcServerFirst))

	assert.Equal(t, "AUTHENTICATE *", h.conn.lastLine())
}
