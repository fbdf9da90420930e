package irc

import (
	"strings"
	"sync"
	"testing"

	"github.com/matt0x6f/cascade/internal/events"
)

// fakeConn records every line the engine writes to the wire
type fakeConn struct {
	mu        sync.Mutex
	connected bool
	lines     []string
}

func (c *fakeConn) SendRaw(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	c.lines = append(c.lines, strings.TrimRight(line, "\r\n"))
	return nil
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func (c *fakeConn) lastLine() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) == 0 {
		return ""
	}
	return c.lines[len(c.lines)-1]
}

func (c *fakeConn) sentContaining(substr string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, line := range c.lines {
		if strings.Contains(line, substr) {
			out = append(out, line)
		}
	}
	return out
}

func (c *fakeConn) clear() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
}

// fakeSink records emitted events synchronously
type fakeSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *fakeSink) Emit(event events.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *fakeSink) byType(eventType string) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, event := range s.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// fakeDisplay records display-ready messages
type fakeDisplay struct {
	mu       sync.Mutex
	messages []Message
}

func (d *fakeDisplay) DisplayMessage(msg Message) {
	d.mu.Lock()
	d.messages = append(d.messages, msg)
	d.mu.Unlock()
}

func (d *fakeDisplay) all() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message(nil), d.messages...)
}

func (d *fakeDisplay) byType(msgType string) []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Message
	for _, msg := range d.messages {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func (d *fakeDisplay) last() Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.messages) == 0 {
		return Message{}
	}
	return d.messages[len(d.messages)-1]
}

func (d *fakeDisplay) clear() {
	d.mu.Lock()
	d.messages = nil
	d.mu.Unlock()
}

// fakeMembers is an in-memory member table
type fakeMembers struct {
	mu      sync.Mutex
	members map[string]map[string]Privilege
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{members: make(map[string]map[string]Privilege)}
}

func (m *fakeMembers) AddMember(channel, nick string, priv Privilege) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[channel] == nil {
		m.members[channel] = make(map[string]Privilege)
	}
	m.members[channel][nick] = priv
}

func (m *fakeMembers) SetPrivilege(channel, nick string, priv Privilege) {
	m.AddMember(channel, nick, priv)
}

func (m *fakeMembers) RemoveMember(channel, nick string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[channel], nick)
}

func (m *fakeMembers) RemoveMemberAll(nick string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, nicks := range m.members {
		delete(nicks, nick)
	}
}

func (m *fakeMembers) RenameMember(oldNick, newNick string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, nicks := range m.members {
		if priv, ok := nicks[oldNick]; ok {
			delete(nicks, oldNick)
			nicks[newNick] = priv
		}
	}
}

func (m *fakeMembers) ClearMembers(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, channel)
}

func (m *fakeMembers) MemberPrivilege(channel, nick string) (Privilege, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	priv, ok := m.members[channel][nick]
	return priv, ok
}

func (m *fakeMembers) has(channel, nick string) bool {
	_, ok := m.MemberPrivilege(channel, nick)
	return ok
}

func (m *fakeMembers) count(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members[channel])
}

type fakeIdentity struct {
	network  string
	nick     string
	username string
	realname string
}

func (i fakeIdentity) NetworkName() string { return i.network }
func (i fakeIdentity) Nick() string        { return i.nick }
func (i fakeIdentity) Username() string    { return i.username }
func (i fakeIdentity) Realname() string    { return i.realname }

type fakeClient struct{}

func (fakeClient) Version() string   { return "cascade 0.1.0" }
func (fakeClient) SourceURL() string { return "https://github.com/matt0x6f/cascade" }

// fakeCreds serves static credentials; an empty account means none
type fakeCreds struct {
	account  string
	password string
	cert     bool
}

func (c *fakeCreds) SASLCredentials() (string, string, bool) {
	if c.account == "" {
		return "", "", false
	}
	return c.account, c.password, true
}

func (c *fakeCreds) HasClientCertificate() bool { return c.cert }

// fakeMod delegates to optional funcs so tests only wire what they use
type fakeMod struct {
	autoMode  func(channel, nick string) (byte, bool)
	blacklist func(channel, hostmask string) (string, bool)
}

func (m *fakeMod) AutoModeFor(channel, nick string) (byte, bool) {
	if m.autoMode == nil {
		return 0, false
	}
	return m.autoMode(channel, nick)
}

func (m *fakeMod) BlacklistReason(channel, hostmask string) (string, bool) {
	if m.blacklist == nil {
		return "", false
	}
	return m.blacklist(channel, hostmask)
}

type testHost struct {
	conn    *fakeConn
	sink    *fakeSink
	display *fakeDisplay
	members *fakeMembers
	creds   *fakeCreds
	mod     *fakeMod
}

// newTestEngine builds an engine wired to recording fakes. The fake
// connection starts connected and the identity nick is "alice".
func newTestEngine(t *testing.T, cfg Config) (*Engine, *testHost) {
	t.Helper()
	h := &testHost{
		conn:    &fakeConn{connected: true},
		sink:    &fakeSink{},
		display: &fakeDisplay{},
		members: newFakeMembers(),
		creds:   &fakeCreds{},
		mod:     &fakeMod{},
	}
	e := New(cfg, Context{
		Conn:     h.conn,
		Events:   h.sink,
		Display:  h.display,
		Members:  h.members,
		Identity: fakeIdentity{network: "testnet", nick: "alice", username: "alice", realname: "Alice Example"},
		Client:   fakeClient{},
		Creds:    h.creds,
		Mod:      h.mod,
	})
	return e, h
}

// enableCaps force-enables capabilities without running the CAP dance
func enableCaps(e *Engine, names ...string) {
	e.mu.Lock()
	for _, name := range names {
		e.capAvailable[name] = ""
		e.capEnabled[name] = struct{}{}
		switch name {
		case "userhost-in-names":
			e.userhostInNames = true
		case "extended-join":
			e.extendedJoin = true
		}
	}
	e.mu.Unlock()
}
