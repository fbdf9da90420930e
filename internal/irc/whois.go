package irc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
)

// WhoisInfo aggregates the numeric replies of one WHOIS query
type WhoisInfo struct {
	Nickname    string   `json:"nickname"`
	Username    string   `json:"username"`
	Host        string   `json:"host"`
	Realname    string   `json:"realname"`
	Server      string   `json:"server"`
	ServerInfo  string   `json:"server_info"`
	IsOperator  bool     `json:"is_operator"`
	IdleSeconds int64    `json:"idle_seconds"`
	SignOn      int64    `json:"sign_on"`
	Channels    []string `json:"channels"`
	Account     string   `json:"account"`
}

// whoisTracker collects WHOIS numerics per nick until the end numeric
// closes the query
type whoisTracker struct {
	mu      sync.Mutex
	pending map[string]*WhoisInfo
}

func newWhoisTracker() *whoisTracker {
	return &whoisTracker{pending: make(map[string]*WhoisInfo)}
}

// get returns the in-progress record for a nick, creating it on first use.
// Nicks are keyed case-insensitively.
func (t *whoisTracker) get(nick string) *WhoisInfo {
	key := strings.ToLower(nick)
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.pending[key]
	if !ok {
		info = &WhoisInfo{Nickname: nick}
		t.pending[key] = info
	}
	return info
}

// complete removes and returns the finished record, if any numerics were
// collected for the nick
func (t *whoisTracker) complete(nick string) (*WhoisInfo, bool) {
	key := strings.ToLower(nick)
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.pending[key]
	delete(t.pending, key)
	return info, ok
}

func (t *whoisTracker) reset() {
	t.mu.Lock()
	t.pending = make(map[string]*WhoisInfo)
	t.mu.Unlock()
}

// handleWhoisUser processes 311: nick, user, host and realname
func handleWhoisUser(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 6 {
		return
	}
	info := e.whois.get(msg.Params[1])
	info.Nickname = msg.Params[1]
	info.Username = msg.Params[2]
	info.Host = msg.Params[3]
	info.Realname = msg.Params[5]
}

// handleWhoisServer processes 312: which server the user is on
func handleWhoisServer(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 3 {
		return
	}
	info := e.whois.get(msg.Params[1])
	info.Server = msg.Params[2]
	if len(msg.Params) >= 4 {
		info.ServerInfo = msg.Params[3]
	}
}

// handleWhoisOperator processes 313
func handleWhoisOperator(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 2 {
		return
	}
	e.whois.get(msg.Params[1]).IsOperator = true
}

// handleWhoisIdle processes 317: idle seconds and sign-on time
func handleWhoisIdle(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 3 {
		return
	}
	info := e.whois.get(msg.Params[1])
	if idle, err := strconv.ParseInt(msg.Params[2], 10, 64); err == nil {
		info.IdleSeconds = idle
	}
	if len(msg.Params) >= 4 {
		if signOn, err := strconv.ParseInt(msg.Params[3], 10, 64); err == nil {
			info.SignOn = signOn
		}
	}
}

// handleWhoisChannels processes 319: the space-separated channel list,
// privilege prefixes included
func handleWhoisChannels(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 3 {
		return
	}
	info := e.whois.get(msg.Params[1])
	info.Channels = append(info.Channels, strings.Fields(msg.Params[2])...)
}

// handleWhoisAccount processes 330: the services account binding
func handleWhoisAccount(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 3 {
		return
	}
	e.whois.get(msg.Params[1]).Account = msg.Params[2]
}

// handleWhoisEnd processes 318, publishing the aggregated record and a
// one-line summary in the status window
func handleWhoisEnd(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 2 {
		return
	}
	nick := msg.Params[1]
	info, ok := e.whois.complete(nick)
	if !ok {
		return
	}

	summary := fmt.Sprintf("WHOIS %s: %s@%s (%s)", info.Nickname, info.Username, info.Host, info.Realname)
	if info.Account != "" {
		summary += ", account " + info.Account
	}
	if len(info.Channels) > 0 {
		summary += ", channels: " + strings.Join(info.Channels, " ")
	}
	e.displayStatus(summary)

	e.emit(EventWhoisReceived, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"nick":    info.Nickname,
		"whois":   info,
	})
}
