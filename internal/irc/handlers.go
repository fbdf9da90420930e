package irc

import (
	"fmt"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/matt0x6f/cascade/internal/logger"
)

// handlePing answers server keepalives with a matching PONG
func handlePing(e *Engine, msg ircmsg.Message, ts time.Time) {
	if err := e.send(nil, "PONG", msg.Params...); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to send PONG")
	}
}

// handleServerError surfaces a fatal ERROR line and hands the connection
// back to the host for teardown
func handleServerError(e *Engine, msg ircmsg.Message, ts time.Time) {
	reason := ""
	if len(msg.Params) > 0 {
		reason = msg.Params[len(msg.Params)-1]
	}
	e.displayError("Server error: " + reason)
	e.emit(EventDisconnectRequested, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"reason":  reason,
	})
}

// handlePrivmsg routes a PRIVMSG: CTCP payloads split off first, then
// multiline fragments buffer until complete, then the text is delivered.
// Without echo-message our own messages were already displayed at send
// time, so their occasional server copies are dropped.
func handlePrivmsg(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 2 {
		return
	}
	target := msg.Params[0]
	text := msg.Params[1]
	sender := msg.Nick()
	self := strings.EqualFold(sender, e.CurrentNick())

	if self && !e.CapEnabled("echo-message") {
		return
	}

	if ctcp, ok := ParseCTCP(text); ok {
		if ctcp.Command == "ACTION" {
			e.deliverMessage(msg, sender, target, fmt.Sprintf("* %s %s", sender, ctcp.Args), "action", ts)
		} else if !self {
			e.handleCTCPRequest(sender, target, ctcp, ts)
		}
		return
	}

	present, concat := msg.GetTag("draft/multiline-concat")
	assembled, done := e.multiline.Handle(sender, target, text, concat, present)
	if !done {
		return
	}

	e.deliverMessage(msg, sender, target, assembled, "privmsg", ts)
}

// handleNotice routes a NOTICE. CTCP payloads inside NOTICEs are replies
// to our own queries: they are displayed and never answered, which is what
// keeps two clients from ping-ponging forever.
func handleNotice(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 2 {
		return
	}
	target := msg.Params[0]
	text := msg.Params[1]
	sender := msg.Nick()

	if ctcp, ok := ParseCTCP(text); ok {
		e.ctx.Display.DisplayMessage(Message{
			Target:    e.inboundTarget(target, sender),
			Sender:    sender,
			Text:      fmt.Sprintf("CTCP %s reply: %s", ctcp.Command, ctcp.Args),
			Type:      "ctcp",
			Timestamp: ts,
		})
		return
	}

	e.deliverMessage(msg, sender, target, text, "notice", ts)
}

// handleTagmsg records tag-only messages (typing notifications, reactions)
// without displaying them
func handleTagmsg(e *Engine, msg ircmsg.Message, ts time.Time) {
	logger.Log.Debug().
		Str("source", msg.Source).
		Strs("params", msg.Params).
		Msg("TAGMSG received")
}

// deliverMessage hands a display-ready inbound message to the host,
// emitting the received event and flagging mentions of our nick
func (e *Engine) deliverMessage(msg ircmsg.Message, sender, target, text, msgType string, ts time.Time) {
	rawLine, _ := msg.Line()
	rawLine = strings.TrimRight(rawLine, "\r\n")

	self := strings.EqualFold(sender, e.CurrentNick())
	highlight := !self && isHighlight(text, e.CurrentNick())

	e.ctx.Display.DisplayMessage(Message{
		Target:    e.inboundTarget(target, sender),
		Sender:    sender,
		Text:      text,
		Type:      msgType,
		Timestamp: ts,
		RawLine:   rawLine,
		Highlight: highlight,
	})

	e.emit(EventMessageReceived, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"target":  target,
		"sender":  sender,
		"message": text,
		"type":    msgType,
	})

	if highlight {
		e.emit(EventMessageHighlight, map[string]interface{}{
			"network": e.ctx.Identity.NetworkName(),
			"target":  e.inboundTarget(target, sender),
			"sender":  sender,
			"message": text,
		})
	}
}

// isHighlight reports whether text mentions nick as a standalone word
func isHighlight(text, nick string) bool {
	if nick == "" {
		return false
	}
	lowText := strings.ToLower(text)
	lowNick := strings.ToLower(nick)

	for i := 0; ; {
		idx := strings.Index(lowText[i:], lowNick)
		if idx == -1 {
			return false
		}
		idx += i
		end := idx + len(lowNick)
		before := idx == 0 || isNickBoundary(lowText[idx-1])
		after := end == len(lowText) || isNickBoundary(lowText[end])
		if before && after {
			return true
		}
		i = idx + 1
	}
}

// isNickBoundary reports whether a byte can end a nick mention; nicks are
// letters, digits and the RFC 1459 specials
func isNickBoundary(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == '_', c == '-', c == '[', c == ']', c == '\\', c == '^', c == '{', c == '}', c == '|', c == '`':
		return false
	}
	return true
}

// handleJoin records a join, displays it and runs the host's join
// policies. With extended-join the line carries the account name.
func handleJoin(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 1 {
		return
	}
	channel := msg.Params[0]
	nick := msg.Nick()
	self := strings.EqualFold(nick, e.CurrentNick())

	account := ""
	if e.ExtendedJoin() && len(msg.Params) >= 2 && msg.Params[1] != "*" {
		account = msg.Params[1]
	}

	e.ctx.Members.AddMember(channel, nick, PrivNone)

	text := fmt.Sprintf("%s joined %s", nick, channel)
	if self {
		text = "Joined " + channel
	}
	e.ctx.Display.DisplayMessage(Message{
		Target:    channel,
		Sender:    nick,
		Text:      text,
		Type:      "status",
		Timestamp: ts,
	})

	data := map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"channel": channel,
		"nick":    nick,
		"self":    self,
	}
	if account != "" {
		data["account"] = account
	}
	e.emit(EventUserJoined, data)

	if !self {
		e.applyJoinPolicies(channel, nick, msg.Source)
	}
}

// applyJoinPolicies runs the host's blacklist and auto-mode rules for a
// newly joined user. Both need us to hold enough privilege to act, so
// without op (halfop for voicing) they are quietly skipped.
func (e *Engine) applyJoinPolicies(channel, nick, hostmask string) {
	if e.ctx.Mod == nil {
		return
	}

	ourPriv, ok := e.ctx.Members.MemberPrivilege(channel, e.CurrentNick())
	if !ok {
		return
	}

	if reason, banned := e.ctx.Mod.BlacklistReason(channel, hostmask); banned {
		if !ourPriv.AtLeast(PrivOp) {
			logger.Log.Debug().
				Str("channel", channel).
				Str("nick", nick).
				Msg("Blacklisted user joined but we lack op")
			return
		}
		e.send(nil, "MODE", channel, "+b", banMaskFor(hostmask))
		e.send(nil, "KICK", channel, nick, reason)
		logger.Log.Info().
			Str("channel", channel).
			Str("nick", nick).
			Str("reason", reason).
			Msg("Enforced channel blacklist")
		return
	}

	if mode, ok := e.ctx.Mod.AutoModeFor(channel, nick); ok {
		needed := PrivOp
		if PrivilegeFromMode(mode) == PrivVoice {
			needed = PrivHalfop
		}
		if ourPriv.AtLeast(needed) {
			e.send(nil, "MODE", channel, fmt.Sprintf("+%c", mode), nick)
		}
	}
}

// banMaskFor widens a full nick!user@host to the conventional *!*@host ban
func banMaskFor(hostmask string) string {
	if idx := strings.IndexByte(hostmask, '@'); idx != -1 {
		return "*!*@" + hostmask[idx+1:]
	}
	return hostmask + "!*@*"
}

// handlePart records a part; our own part clears the member table for the
// channel
func handlePart(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 1 {
		return
	}
	channel := msg.Params[0]
	nick := msg.Nick()
	reason := ""
	if len(msg.Params) >= 2 {
		reason = msg.Params[1]
	}

	if strings.EqualFold(nick, e.CurrentNick()) {
		e.ctx.Members.ClearMembers(channel)
	} else {
		e.ctx.Members.RemoveMember(channel, nick)
	}

	text := fmt.Sprintf("%s left %s", nick, channel)
	if reason != "" {
		text = fmt.Sprintf("%s left %s (%s)", nick, channel, reason)
	}
	e.ctx.Display.DisplayMessage(Message{
		Target:    channel,
		Sender:    nick,
		Text:      text,
		Type:      "status",
		Timestamp: ts,
	})

	e.emit(EventUserParted, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"channel": channel,
		"nick":    nick,
		"reason":  reason,
	})
}

// handleQuit removes the user from every channel we share with them
func handleQuit(e *Engine, msg ircmsg.Message, ts time.Time) {
	nick := msg.Nick()
	reason := ""
	if len(msg.Params) > 0 {
		reason = msg.Params[0]
	}

	e.ctx.Members.RemoveMemberAll(nick)

	text := nick + " quit"
	if reason != "" {
		text = fmt.Sprintf("%s quit (%s)", nick, reason)
	}
	e.ctx.Display.DisplayMessage(Message{
		Sender:    nick,
		Text:      text,
		Type:      "status",
		Timestamp: ts,
	})

	e.emit(EventUserQuit, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"nick":    nick,
		"reason":  reason,
	})
}

// handleKick removes the kicked user; being kicked ourselves clears the
// whole channel
func handleKick(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 2 {
		return
	}
	channel := msg.Params[0]
	kicked := msg.Params[1]
	by := msg.Nick()
	reason := ""
	if len(msg.Params) >= 3 {
		reason = msg.Params[2]
	}

	self := strings.EqualFold(kicked, e.CurrentNick())
	if self {
		e.ctx.Members.ClearMembers(channel)
	} else {
		e.ctx.Members.RemoveMember(channel, kicked)
	}

	text := fmt.Sprintf("%s was kicked by %s", kicked, by)
	if self {
		text = "You were kicked by " + by
	}
	if reason != "" {
		text += " (" + reason + ")"
	}
	e.ctx.Display.DisplayMessage(Message{
		Target:    channel,
		Sender:    by,
		Text:      text,
		Type:      "status",
		Timestamp: ts,
	})

	e.emit(EventUserParted, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"channel": channel,
		"nick":    kicked,
		"kicked":  true,
		"self":    self,
		"by":      by,
		"reason":  reason,
	})
}

// handleKill reports a server kill; a kill aimed at us means the
// connection is done
func handleKill(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 1 {
		return
	}
	killed := msg.Params[0]
	reason := ""
	if len(msg.Params) >= 2 {
		reason = msg.Params[1]
	}

	e.ctx.Members.RemoveMemberAll(killed)

	if strings.EqualFold(killed, e.CurrentNick()) {
		e.displayError("Killed by server: " + reason)
		e.emit(EventDisconnectRequested, map[string]interface{}{
			"network": e.ctx.Identity.NetworkName(),
			"reason":  "killed: " + reason,
		})
	}
}

// handleNickChange renames the user everywhere, tracking our own nick
func handleNickChange(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 1 {
		return
	}
	oldNick := msg.Nick()
	newNick := msg.Params[0]
	self := strings.EqualFold(oldNick, e.CurrentNick())

	e.ctx.Members.RenameMember(oldNick, newNick)

	if self {
		e.mu.Lock()
		e.currentNick = newNick
		e.mu.Unlock()
	}

	text := fmt.Sprintf("%s is now known as %s", oldNick, newNick)
	if self {
		text = "You are now known as " + newNick
	}
	e.ctx.Display.DisplayMessage(Message{
		Sender:    oldNick,
		Text:      text,
		Type:      "status",
		Timestamp: ts,
	})

	e.emit(EventUserNick, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"old":     oldNick,
		"new":     newNick,
		"self":    self,
	})
}

// handleTopicChange processes a live TOPIC change
func handleTopicChange(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 2 {
		return
	}
	channel := msg.Params[0]
	topic := msg.Params[1]
	by := msg.Nick()

	text := fmt.Sprintf("%s changed the topic to: %s", by, topic)
	if topic == "" {
		text = by + " cleared the topic"
	}
	e.ctx.Display.DisplayMessage(Message{
		Target:    channel,
		Sender:    by,
		Text:      text,
		Type:      "status",
		Timestamp: ts,
	})

	e.emit(EventChannelTopic, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"channel": channel,
		"topic":   topic,
		"by":      by,
	})
}

// handleMode displays mode changes and folds membership modes into the
// member table
func handleMode(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 2 {
		return
	}
	target := msg.Params[0]

	if !e.isupport.IsChannel(target) {
		e.displayStatus("User mode changed: " + strings.Join(msg.Params[1:], " "))
		return
	}

	e.applyChannelMode(target, msg.Nick(), msg.Params[1], msg.Params[2:], ts)
}

// applyChannelMode walks one channel mode change. Membership modes update
// privileges; other modes consume arguments per CHANMODES so the argument
// list stays aligned.
func (e *Engine) applyChannelMode(channel, by, modes string, args []string, ts time.Time) {
	adding := true
	argIdx := 0
	nextArg := func() (string, bool) {
		if argIdx >= len(args) {
			return "", false
		}
		arg := args[argIdx]
		argIdx++
		return arg, true
	}

	for _, mode := range modes {
		switch mode {
		case '+':
			adding = true
		case '-':
			adding = false
		default:
			if e.isupport.IsMembershipMode(mode) {
				nick, ok := nextArg()
				if !ok {
					logger.Log.Warn().
						Str("channel", channel).
						Str("modes", modes).
						Msg("Membership mode without an argument")
					continue
				}
				e.applyMembershipMode(channel, nick, byte(mode), adding)
				continue
			}
			switch e.isupport.ChanModeType(mode) {
			case 'A', 'B':
				nextArg()
			case 'C':
				if adding {
					nextArg()
				}
			}
		}
	}

	text := fmt.Sprintf("%s sets mode %s", by, strings.TrimSpace(modes+" "+strings.Join(args, " ")))
	e.ctx.Display.DisplayMessage(Message{
		Target:    channel,
		Sender:    by,
		Text:      text,
		Type:      "status",
		Timestamp: ts,
	})

	e.emit(EventChannelMode, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"channel": channel,
		"modes":   modes,
		"args":    args,
		"by":      by,
	})
}

// applyMembershipMode promotes or demotes one member. Promotion only moves
// upward; demotion only clears the level being removed, so taking voice
// from an op leaves the op alone. A NAMES refresh settles anything finer.
func (e *Engine) applyMembershipMode(channel, nick string, mode byte, adding bool) {
	priv := PrivilegeFromMode(mode)
	current, known := e.ctx.Members.MemberPrivilege(channel, nick)

	if adding {
		if !known || priv.AtLeast(current) {
			e.ctx.Members.SetPrivilege(channel, nick, priv)
		}
		return
	}
	if known && current == priv {
		e.ctx.Members.SetPrivilege(channel, nick, PrivNone)
	}
}

// handleInvite surfaces channel invitations, ours and (with invite-notify)
// everyone else's
func handleInvite(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 2 {
		return
	}
	invitee := msg.Params[0]
	channel := msg.Params[1]
	inviter := msg.Nick()

	if strings.EqualFold(invitee, e.CurrentNick()) {
		e.displayStatus(fmt.Sprintf("%s invited you to %s", inviter, channel))
	} else {
		e.displayStatus(fmt.Sprintf("%s invited %s to %s", inviter, invitee, channel))
	}

	e.emit(EventChannelInvite, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"channel": channel,
		"inviter": inviter,
		"invitee": invitee,
	})
}

// handleAwayNotify records away state changes pushed by away-notify
func handleAwayNotify(e *Engine, msg ircmsg.Message, ts time.Time) {
	nick := msg.Nick()
	away := len(msg.Params) > 0 && msg.Params[0] != ""
	reason := ""
	if away {
		reason = msg.Params[0]
	}

	e.emit(EventUserAway, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"nick":    nick,
		"away":    away,
		"reason":  reason,
	})
}

// handleAccountNotify records account login state pushed by account-notify
func handleAccountNotify(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 1 {
		return
	}
	account := msg.Params[0]
	loggedIn := account != "*"
	if !loggedIn {
		account = ""
	}

	e.emit(EventUserAccount, map[string]interface{}{
		"network":   e.ctx.Identity.NetworkName(),
		"nick":      msg.Nick(),
		"account":   account,
		"logged_in": loggedIn,
	})
}

// handleChghost records hostname cycling pushed by chghost
func handleChghost(e *Engine, msg ircmsg.Message, ts time.Time) {
	if len(msg.Params) < 2 {
		return
	}
	e.emit(EventUserHost, map[string]interface{}{
		"network": e.ctx.Identity.NetworkName(),
		"nick":    msg.Nick(),
		"user":    msg.Params[0],
		"host":    msg.Params[1],
	})
}
