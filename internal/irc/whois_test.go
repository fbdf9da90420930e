package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhoisAggregatesNumerics(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com 311 alice bob buser bhost.example.com * :Bob Builder")
	e.HandleLine(":irc.example.com 312 alice bob irc.example.com :Example server")
	e.HandleLine(":irc.example.com 313 alice bob :is an IRC operator")
	e.HandleLine(":irc.example.com 317 alice bob 42 1673778645 :seconds idle, signon time")
	e.HandleLine(":irc.example.com 319 alice bob :@#go +#dev")
	e.HandleLine(":irc.example.com 330 alice bob bobaccount :is logged in as")

	assert.Empty(t, h.sink.byType(EventWhoisReceived), "Nothing publishes until the end numeric")

	e.HandleLine(":irc.example.com 318 alice bob :End of /WHOIS list")

	got := h.sink.byType(EventWhoisReceived)
	require.Len(t, got, 1)
	info, ok := got[0].Data["whois"].(*WhoisInfo)
	require.True(t, ok)
	assert.Equal(t, "bob", info.Nickname)
	assert.Equal(t, "buser", info.Username)
	assert.Equal(t, "bhost.example.com", info.Host)
	assert.Equal(t, "Bob Builder", info.Realname)
	assert.Equal(t, "irc.example.com", info.Server)
	assert.Equal(t, "Example server", info.ServerInfo)
	assert.True(t, info.IsOperator)
	assert.Equal(t, int64(42), info.IdleSeconds)
	assert.Equal(t, int64(1673778645), info.SignOn)
	assert.Equal(t, []string{"@#go", "+#dev"}, info.Channels)
	assert.Equal(t, "bobaccount", info.Account)

	assert.Equal(t,
		"WHOIS bob: buser@bhost.example.com (Bob Builder), account bobaccount, channels: @#go +#dev",
		h.display.last().Text)
}

func TestWhoisEndWithoutNumericsIsSilent(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com 318 alice nobody :End of /WHOIS list")

	assert.Empty(t, h.sink.byType(EventWhoisReceived))
	assert.Empty(t, h.display.all())
}

func TestWhoisMinimalSummary(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com 311 alice bob buser bhost.example.com * :Bob Builder")
	e.HandleLine(":irc.example.com 318 alice bob :End of /WHOIS list")

	assert.Equal(t, "WHOIS bob: buser@bhost.example.com (Bob Builder)", h.display.last().Text)
}

func TestWhoisNickKeyedCaseInsensitively(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com 311 alice BoB buser bhost.example.com * :Bob Builder")
	e.HandleLine(":irc.example.com 318 alice bob :End of /WHOIS list")

	got := h.sink.byType(EventWhoisReceived)
	require.Len(t, got, 1)
	info := got[0].Data["whois"].(*WhoisInfo)
	assert.Equal(t, "BoB", info.Nickname, "The display casing comes from the numerics")
}

func TestWhoisQueriesTrackedIndependently(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com 311 alice bob buser bhost.example.com * :Bob")
	e.HandleLine(":irc.example.com 311 alice carol cuser chost.example.com * :Carol")
	e.HandleLine(":irc.example.com 318 alice carol :End of /WHOIS list")

	got := h.sink.byType(EventWhoisReceived)
	require.Len(t, got, 1)
	info := got[0].Data["whois"].(*WhoisInfo)
	assert.Equal(t, "carol", info.Nickname)

	e.HandleLine(":irc.example.com 318 alice bob :End of /WHOIS list")
	require.Len(t, h.sink.byType(EventWhoisReceived), 2)
}

func TestWhoisStateDroppedOnDisconnect(t *testing.T) {
	e, h := newTestEngine(t, Config{})

	e.HandleLine(":irc.example.com 311 alice bob buser bhost.example.com * :Bob")
	e.HandleDisconnect()
	e.HandleLine(":irc.example.com 318 alice bob :End of /WHOIS list")

	assert.Empty(t, h.sink.byType(EventWhoisReceived))
}
