package irc

import (
	"time"

	"github.com/matt0x6f/cascade/internal/events"
)

// Message is a display-ready unit the engine hands to the host. Target is a
// channel name, the peer nick for a query, or "" for the status window.
type Message struct {
	Target    string
	Sender    string
	Text      string
	Type      string // "privmsg", "notice", "action", "ctcp", "status", "error", "raw", "batch", "topic", "motd", "command"
	Timestamp time.Time
	RawLine   string
	Highlight bool
}

// Connection is the transport slice of the host context. The engine writes
// protocol lines through it and never touches a socket directly.
type Connection interface {
	SendRaw(line string) error
	IsConnected() bool
}

// EventSink receives engine events. The host's event bus satisfies this.
type EventSink interface {
	Emit(event events.Event)
}

// MessageSink receives display-ready messages for rendering or persistence.
type MessageSink interface {
	DisplayMessage(msg Message)
}

// ChannelState is the per-channel member table owned by the host.
type ChannelState interface {
	AddMember(channel, nick string, priv Privilege)
	SetPrivilege(channel, nick string, priv Privilege)
	RemoveMember(channel, nick string)
	// RemoveMemberAll removes the nick from every channel (QUIT, KILL).
	RemoveMemberAll(nick string)
	// RenameMember renames the nick across every channel it appears in.
	RenameMember(oldNick, newNick string)
	ClearMembers(channel string)
	MemberPrivilege(channel, nick string) (Privilege, bool)
}

// Identity reports the configured identity for this connection.
type Identity interface {
	NetworkName() string
	Nick() string
	Username() string
	Realname() string
}

// ClientInfo supplies the strings used in CTCP replies.
type ClientInfo interface {
	Version() string
	SourceURL() string
}

// CredentialSource resolves SASL credentials. Implementations may consult
// the OS keychain, so lookups happen once per authentication attempt.
type CredentialSource interface {
	// SASLCredentials returns the account name and password for SASL.
	// ok is false when no credentials are configured.
	SASLCredentials() (account, password string, ok bool)
	// HasClientCertificate reports whether a TLS client certificate pair
	// is configured, enabling the EXTERNAL mechanism.
	HasClientCertificate() bool
}

// Moderation answers the channel-policy questions the JOIN handler asks.
// It is optional; a nil Moderation disables auto-modes and blacklists.
type Moderation interface {
	// AutoModeFor returns the channel mode letter ('o', 'h' or 'v') to
	// grant a joining nick, if any.
	AutoModeFor(channel, nick string) (mode byte, ok bool)
	// BlacklistReason returns the configured kick reason when the joining
	// user's hostmask is blacklisted on the channel.
	BlacklistReason(channel, hostmask string) (reason string, ok bool)
}

// Context bundles the host collaborators the engine talks through. Every
// handler receives the same context; handlers hold no state of their own.
type Context struct {
	Conn     Connection
	Events   EventSink
	Display  MessageSink
	Members  ChannelState
	Identity Identity
	Client   ClientInfo
	Creds    CredentialSource
	Mod      Moderation
}
