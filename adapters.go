package main

import (
	"strings"

	"github.com/matt0x6f/cascade/internal/config"
	"github.com/matt0x6f/cascade/internal/irc"
	"github.com/matt0x6f/cascade/internal/logger"
	"github.com/matt0x6f/cascade/internal/storage"
	"github.com/matt0x6f/cascade/internal/validation"
)

// validateNetwork re-checks a network's identity and server list right
// before dialing. Config loading validates the file, but networks can also
// arrive programmatically.
func validateNetwork(n config.Network) error {
	servers := make([]struct {
		Address string
		Port    int
	}, len(n.Servers))
	for i, srv := range n.Servers {
		servers[i].Address = srv.Address
		servers[i].Port = srv.Port
	}
	return validation.ValidateNetworkConfig(n.Name, n.Nick, n.Username, n.Realname, servers)
}

// transcriptSink persists display messages for one network and mirrors them
// to the console. Implements irc.MessageSink.
type transcriptSink struct {
	app     *App
	network string
}

func (t *transcriptSink) DisplayMessage(msg irc.Message) {
	err := t.app.store.WriteMessage(storage.Message{
		Network:   t.network,
		Target:    msg.Target,
		Sender:    msg.Sender,
		Body:      msg.Text,
		Kind:      msg.Type,
		Highlight: msg.Highlight,
		SentAt:    msg.Timestamp,
		RawLine:   msg.RawLine,
	})
	if err != nil {
		logger.Log.Warn().Err(err).Str("network", t.network).Msg("Failed to persist message")
	}
	t.app.render(t.network, msg)
}

// memberTable backs the engine's channel-member bookkeeping with the
// transcript database. Implements irc.ChannelState.
type memberTable struct {
	store   *storage.Store
	network string
}

func (m *memberTable) AddMember(channel, nick string, priv irc.Privilege) {
	if err := m.store.UpsertMember(m.network, channel, nick, int(priv)); err != nil {
		logger.Log.Warn().Err(err).Str("channel", channel).Str("nick", nick).Msg("Failed to add member")
	}
}

func (m *memberTable) SetPrivilege(channel, nick string, priv irc.Privilege) {
	if err := m.store.UpsertMember(m.network, channel, nick, int(priv)); err != nil {
		logger.Log.Warn().Err(err).Str("channel", channel).Str("nick", nick).Msg("Failed to update privilege")
	}
}

func (m *memberTable) RemoveMember(channel, nick string) {
	if err := m.store.RemoveMember(m.network, channel, nick); err != nil {
		logger.Log.Warn().Err(err).Str("channel", channel).Str("nick", nick).Msg("Failed to remove member")
	}
}

func (m *memberTable) RemoveMemberAll(nick string) {
	if err := m.store.RemoveMemberEverywhere(m.network, nick); err != nil {
		logger.Log.Warn().Err(err).Str("nick", nick).Msg("Failed to remove member everywhere")
	}
}

func (m *memberTable) RenameMember(oldNick, newNick string) {
	if err := m.store.RenameMemberEverywhere(m.network, oldNick, newNick); err != nil {
		logger.Log.Warn().Err(err).Str("old", oldNick).Str("new", newNick).Msg("Failed to rename member")
	}
}

func (m *memberTable) ClearMembers(channel string) {
	if err := m.store.ClearChannel(m.network, channel); err != nil {
		logger.Log.Warn().Err(err).Str("channel", channel).Msg("Failed to clear members")
	}
}

func (m *memberTable) MemberPrivilege(channel, nick string) (irc.Privilege, bool) {
	priv, ok := m.store.MemberPrivilege(m.network, channel, nick)
	return irc.Privilege(priv), ok
}

// identity reports the configured identity for one network connection.
// Implements irc.Identity.
type identity struct {
	cfg config.Network
}

func (id identity) NetworkName() string { return id.cfg.Name }
func (id identity) Nick() string        { return id.cfg.Nick }
func (id identity) Username() string    { return id.cfg.Username }
func (id identity) Realname() string    { return id.cfg.Realname }

// clientInfo supplies the CTCP VERSION and SOURCE reply strings.
type clientInfo struct{}

func (clientInfo) Version() string   { return "cascade " + appVersion }
func (clientInfo) SourceURL() string { return "https://github.com/matt0x6f/cascade" }

// credentials is a CredentialSource resolved once at connect time, so the
// keyring and any interactive prompt are consulted before the socket opens.
type credentials struct {
	account  string
	password string
	hasCert  bool
}

func (c credentials) SASLCredentials() (string, string, bool) {
	return c.account, c.password, c.account != "" && c.password != ""
}

func (c credentials) HasClientCertificate() bool { return c.hasCert }

// moderation answers channel policy questions from the config's automode
// and blacklist tables. Implements irc.Moderation.
type moderation struct {
	automodes []config.AutoMode
	blacklist []config.BlacklistEntry
}

// newModeration returns nil when the network configures no policies, which
// disables policy checks in the engine entirely.
func newModeration(n config.Network) irc.Moderation {
	if len(n.AutoModes) == 0 && len(n.Blacklist) == 0 {
		return nil
	}
	return &moderation{automodes: n.AutoModes, blacklist: n.Blacklist}
}

func (m *moderation) AutoModeFor(channel, nick string) (byte, bool) {
	for _, am := range m.automodes {
		if strings.EqualFold(am.Channel, channel) && strings.EqualFold(am.Nick, nick) {
			return am.Mode[0], true
		}
	}
	return 0, false
}

func (m *moderation) BlacklistReason(channel, hostmask string) (string, bool) {
	for _, b := range m.blacklist {
		if strings.EqualFold(b.Channel, channel) && matchMask(b.Mask, hostmask) {
			reason := b.Reason
			if reason == "" {
				reason = "You are banned from this channel"
			}
			return reason, true
		}
	}
	return "", false
}

// matchMask reports whether a nick!user@host matches an IRC mask. Masks are
// case-insensitive; * matches any run, ? any single character.
func matchMask(mask, hostmask string) bool {
	mask = strings.ToLower(mask)
	hostmask = strings.ToLower(hostmask)

	var mi, si int
	star, backtrack := -1, 0
	for si < len(hostmask) {
		switch {
		case mi < len(mask) && (mask[mi] == '?' || mask[mi] == hostmask[si]):
			mi++
			si++
		case mi < len(mask) && mask[mi] == '*':
			star = mi
			backtrack = si
			mi++
		case star >= 0:
			mi = star + 1
			backtrack++
			si = backtrack
		default:
			return false
		}
	}
	for mi < len(mask) && mask[mi] == '*' {
		mi++
	}
	return mi == len(mask)
}
