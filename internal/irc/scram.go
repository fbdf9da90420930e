package irc

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"github.com/matt0x6f/cascade/internal/constants"
	"github.com/matt0x6f/cascade/internal/logger"
	"golang.org/x/crypto/pbkdf2"
)

// scramPhase tracks progress through one SCRAM conversation
type scramPhase int

const (
	scramUninitialized scramPhase = iota
	scramClientFirstBuilt
	scramServerFirstParsed
	scramClientFinalBuilt
	scramVerified
	scramFailed
)

// scramConversation holds the transcript state of one SCRAM authentication
// attempt. A conversation is single-use: it is created when the attempt
// starts and discarded on success, failure or disconnect.
type scramConversation struct {
	phase       scramPhase
	newHash     func() hash.Hash
	username    string
	password    string
	gs2Header   string
	bindingData []byte
	clientNonce string

	serverNonce string
	salt        []byte
	iterations  int

	clientFirstBare string
	serverFirst     string

	// expected server signature, derived alongside the client proof
	serverSignature []byte
}

// scramHash maps a mechanism name to its hash constructor
func scramHash(mechanism string) (func() hash.Hash, error) {
	switch mechanism {
	case "SCRAM-SHA-256":
		return sha256.New, nil
	case "SCRAM-SHA-512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported SCRAM mechanism %q", mechanism)
	}
}

// newScramConversation seeds a conversation with a fresh random nonce.
// Non-nil bindingData selects the tls-unique GS2 header; callers without
// access to TLS keying material pass nil and get the unbound "n,," form.
func newScramConversation(mechanism, username, password string, bindingData []byte) (*scramConversation, error) {
	newHash, err := scramHash(mechanism)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, constants.SCRAMNonceSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate client nonce: %w", err)
	}

	gs2 := "n,,"
	if bindingData != nil {
		gs2 = "p=tls-unique,,"
	}

	return &scramConversation{
		phase:       scramUninitialized,
		newHash:     newHash,
		username:    username,
		password:    password,
		gs2Header:   gs2,
		bindingData: bindingData,
		clientNonce: base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// clientFirst builds the client-first-message: the GS2 header, the escaped
// username and the client nonce
func (s *scramConversation) clientFirst() (string, error) {
	if s.phase != scramUninitialized {
		return "", fmt.Errorf("client-first built out of order (phase %d)", s.phase)
	}
	s.clientFirstBare = fmt.Sprintf("n=%s,r=%s", escapeSCRAMUsername(s.username), s.clientNonce)
	s.phase = scramClientFirstBuilt
	return base64.StdEncoding.EncodeToString([]byte(s.gs2Header + s.clientFirstBare)), nil
}

// processServerFirst validates the server's nonce, salt and iteration
// count. Both the nonce prefix check and the iteration floor run before
// any key derivation, so a tampered exchange costs nothing.
func (s *scramConversation) processServerFirst(payload string) error {
	if s.phase != scramClientFirstBuilt {
		return fmt.Errorf("server-first received out of order (phase %d)", s.phase)
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		s.phase = scramFailed
		return fmt.Errorf("failed to decode server-first message: %w", err)
	}
	message := string(decoded)
	attrs := parseSCRAMAttributes(message)

	serverNonce, ok := attrs["r"]
	if !ok || !strings.HasPrefix(serverNonce, s.clientNonce) || len(serverNonce) <= len(s.clientNonce) {
		s.phase = scramFailed
		return errors.New("server nonce does not extend the client nonce")
	}

	saltB64, ok := attrs["s"]
	if !ok {
		s.phase = scramFailed
		return errors.New("server-first message is missing the salt")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		s.phase = scramFailed
		return fmt.Errorf("failed to decode salt: %w", err)
	}

	iterStr, ok := attrs["i"]
	if !ok {
		s.phase = scramFailed
		return errors.New("server-first message is missing the iteration count")
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil {
		s.phase = scramFailed
		return fmt.Errorf("invalid iteration count %q: %w", iterStr, err)
	}
	if iterations < constants.SCRAMMinIterations {
		s.phase = scramFailed
		return fmt.Errorf("iteration count %d is below the %d floor", iterations, constants.SCRAMMinIterations)
	}

	s.serverNonce = serverNonce
	s.salt = salt
	s.iterations = iterations
	s.serverFirst = message
	s.phase = scramServerFirstParsed
	return nil
}

// clientFinal derives the client proof and the expected server signature
// over the auth message transcript:
//
//	SaltedPassword  = PBKDF2(password, salt, i)
//	ClientKey       = HMAC(SaltedPassword, "Client Key")
//	StoredKey       = H(ClientKey)
//	ClientSignature = HMAC(StoredKey, AuthMessage)
//	ClientProof     = ClientKey XOR ClientSignature
//	ServerKey       = HMAC(SaltedPassword, "Server Key")
//	ServerSignature = HMAC(ServerKey, AuthMessage)
func (s *scramConversation) clientFinal() (string, error) {
	if s.phase != scramServerFirstParsed {
		return "", fmt.Errorf("client-final built out of order (phase %d)", s.phase)
	}

	binding := append([]byte(s.gs2Header), s.bindingData...)
	clientFinalBare := fmt.Sprintf("c=%s,r=%s", base64.StdEncoding.EncodeToString(binding), s.serverNonce)
	authMessage := s.clientFirstBare + "," + s.serverFirst + "," + clientFinalBare

	saltedPassword := pbkdf2.Key([]byte(s.password), s.salt, s.iterations, s.newHash().Size(), s.newHash)
	clientKey := computeHMAC(s.newHash, saltedPassword, "Client Key")
	storedKey := computeHash(s.newHash, clientKey)
	clientSignature := computeHMAC(s.newHash, storedKey, authMessage)

	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}

	serverKey := computeHMAC(s.newHash, saltedPassword, "Server Key")
	s.serverSignature = computeHMAC(s.newHash, serverKey, authMessage)

	final := fmt.Sprintf("%s,p=%s", clientFinalBare, base64.StdEncoding.EncodeToString(proof))
	s.phase = scramClientFinalBuilt
	return base64.StdEncoding.EncodeToString([]byte(final)), nil
}

// verifyServerFinal checks the server's signature in constant time against
// the one derived with the proof. An e= attribute is a hard failure
// carrying the server's reason.
func (s *scramConversation) verifyServerFinal(payload string) error {
	if s.phase != scramClientFinalBuilt {
		return fmt.Errorf("server-final received out of order (phase %d)", s.phase)
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		s.phase = scramFailed
		return fmt.Errorf("failed to decode server-final message: %w", err)
	}
	message := string(decoded)

	if strings.HasPrefix(message, "e=") {
		s.phase = scramFailed
		return fmt.Errorf("server rejected authentication: %s", message[2:])
	}

	attrs := parseSCRAMAttributes(message)
	signatureB64, ok := attrs["v"]
	if !ok {
		s.phase = scramFailed
		return errors.New("server-final message is missing the signature")
	}
	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		s.phase = scramFailed
		return fmt.Errorf("failed to decode server signature: %w", err)
	}

	if !hmac.Equal(signature, s.serverSignature) {
		s.phase = scramFailed
		return errors.New("server signature mismatch")
	}

	s.phase = scramVerified
	return nil
}

// escapeSCRAMUsername applies saslname escaping. "=" is escaped first so
// the replacement text is never re-escaped.
func escapeSCRAMUsername(username string) string {
	username = strings.ReplaceAll(username, "=", "=3D")
	return strings.ReplaceAll(username, ",", "=2C")
}

// parseSCRAMAttributes parses a comma-separated a=value attribute list.
// Values are base64 or printable strings, so a plain comma split is safe.
func parseSCRAMAttributes(message string) map[string]string {
	attrs := make(map[string]string)
	for _, part := range strings.Split(message, ",") {
		if len(part) >= 2 && part[1] == '=' {
			attrs[part[:1]] = part[2:]
		}
	}
	return attrs
}

func computeHMAC(newHash func() hash.Hash, key []byte, data string) []byte {
	mac := hmac.New(newHash, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func computeHash(newHash func() hash.Hash, data []byte) []byte {
	h := newHash()
	h.Write(data)
	return h.Sum(nil)
}

// scramClientFirst opens the SCRAM conversation after the server's
// go-ahead
func (e *Engine) scramClientFirst() {
	account, password, ok := e.ctx.Creds.SASLCredentials()
	if !ok {
		e.abortSASL("no credentials configured")
		return
	}

	e.mu.RLock()
	mechanism := e.saslMechanism
	e.mu.RUnlock()

	conv, err := newScramConversation(mechanism, account, password, nil)
	if err != nil {
		e.abortSASL(err.Error())
		return
	}
	payload, err := conv.clientFirst()
	if err != nil {
		e.abortSASL(err.Error())
		return
	}

	e.mu.Lock()
	e.scram = conv
	e.mu.Unlock()

	e.sendRawf("AUTHENTICATE %s", payload)
}

// scramChallenge advances the conversation with one server payload
func (e *Engine) scramChallenge(payload string) {
	e.mu.RLock()
	conv := e.scram
	e.mu.RUnlock()
	if conv == nil {
		e.abortSASL("server challenge before client-first")
		return
	}

	switch conv.phase {
	case scramClientFirstBuilt:
		if err := conv.processServerFirst(payload); err != nil {
			e.abortSASL(err.Error())
			return
		}
		response, err := conv.clientFinal()
		if err != nil {
			e.abortSASL(err.Error())
			return
		}
		e.sendRawf("AUTHENTICATE %s", response)
	case scramClientFinalBuilt:
		if err := conv.verifyServerFinal(payload); err != nil {
			e.abortSASL(err.Error())
			return
		}
		logger.Log.Debug().Msg("SCRAM server signature verified")
		// the success numeric closes out the attempt
	default:
		e.abortSASL(fmt.Sprintf("unexpected SCRAM payload in phase %d", conv.phase))
	}
}
