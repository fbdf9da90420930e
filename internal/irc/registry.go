package irc

import (
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
)

// Handler processes one inbound message. ts is the message timestamp, taken
// from the server-time tag when the server supplied one.
type Handler func(e *Engine, msg ircmsg.Message, ts time.Time)

// Registry maps upper-cased command verbs to handlers. It is pure routing;
// all protocol side effects live in the handlers themselves.
type Registry struct {
	handlers map[string]Handler
}

// Register inserts a handler for a verb. Verbs are case-insensitive and the
// last registration for a verb wins.
func (r *Registry) Register(verb string, handler Handler) {
	r.handlers[strings.ToUpper(verb)] = handler
}

func (r *Registry) lookup(verb string) (Handler, bool) {
	handler, ok := r.handlers[strings.ToUpper(verb)]
	return handler, ok
}

// newRegistry builds the standard dispatch table. The table is constructed
// exactly once per engine; hosts extend it through Engine.Register.
func newRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}

	// protocol plumbing
	r.Register("PING", handlePing)
	r.Register("ERROR", handleServerError)
	r.Register("CAP", handleCap)
	r.Register("AUTHENTICATE", handleAuthenticate)
	r.Register("BATCH", handleBatchVerb)

	// messages
	r.Register("PRIVMSG", handlePrivmsg)
	r.Register("NOTICE", handleNotice)
	r.Register("TAGMSG", handleTagmsg)

	// membership and channel state
	r.Register("JOIN", handleJoin)
	r.Register("PART", handlePart)
	r.Register("QUIT", handleQuit)
	r.Register("KICK", handleKick)
	r.Register("KILL", handleKill)
	r.Register("NICK", handleNickChange)
	r.Register("TOPIC", handleTopicChange)
	r.Register("MODE", handleMode)
	r.Register("INVITE", handleInvite)
	r.Register("AWAY", handleAwayNotify)
	r.Register("ACCOUNT", handleAccountNotify)
	r.Register("CHGHOST", handleChghost)

	// registration and server information
	r.Register("001", handleWelcome)
	r.Register("005", handleISupportReply)
	r.Register("375", handleMOTDStart)
	r.Register("372", handleMOTDLine)
	r.Register("376", handleMOTDEnd)
	r.Register("422", handleNoMOTD)
	r.Register("433", handleNickInUse)
	for _, numeric := range []string{"251", "252", "253", "254", "255", "265", "266"} {
		r.Register(numeric, handleLusers)
	}

	// channel numerics
	r.Register("332", handleTopicReply)
	r.Register("333", handleTopicSetBy)
	r.Register("353", handleNamesReply)
	r.Register("366", handleNamesEnd)

	// permission errors
	r.Register("442", handleNotOnChannel)
	r.Register("481", handleNoPrivileges)
	r.Register("482", handleChanopNeeded)

	// WHOIS aggregation
	r.Register("311", handleWhoisUser)
	r.Register("312", handleWhoisServer)
	r.Register("313", handleWhoisOperator)
	r.Register("317", handleWhoisIdle)
	r.Register("318", handleWhoisEnd)
	r.Register("319", handleWhoisChannels)
	r.Register("330", handleWhoisAccount)

	// SASL result numerics
	r.Register("900", handleLoggedIn)
	r.Register("901", handleLoggedOut)
	r.Register("902", handleSASLNickLocked)
	r.Register("903", handleSASLSuccessReply)
	r.Register("904", handleSASLFailReply)
	r.Register("905", handleSASLTooLong)
	r.Register("906", handleSASLAbortedReply)
	r.Register("907", handleSASLAlreadyDone)
	r.Register("908", handleSASLMechanisms)

	return r
}
