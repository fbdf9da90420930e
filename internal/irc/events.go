package irc

// Event types emitted by the protocol engine
const (
	EventMessageReceived  = "message.received"
	EventMessageSent      = "message.sent"
	EventMessageHighlight = "message.highlight"

	EventUserJoined  = "user.joined"
	EventUserParted  = "user.parted"
	EventUserQuit    = "user.quit"
	EventUserNick    = "user.nick"
	EventUserAway    = "user.away"
	EventUserAccount = "user.account"
	EventUserHost    = "user.host"

	EventChannelTopic  = "channel.topic"
	EventChannelMode   = "channel.mode"
	EventChannelNames  = "channel.names"
	EventChannelInvite = "channel.invite"

	EventConnectionEstablished = "connection.established"
	EventConnectionLost        = "connection.lost"
	EventDisconnectRequested   = "connection.disconnect-requested"

	EventCapabilities = "cap.updated"
	EventSTSPolicy    = "cap.sts-policy"

	EventBatchEnd = "batch.end"

	EventNetworkName = "server.network"
	EventNickInUse   = "nick.in-use"

	EventWhoisReceived = "whois.received"

	EventError = "error"

	EventSASLStarted = "sasl.started"
	EventSASLSuccess = "sasl.success"
	EventSASLFailed  = "sasl.failed"
	EventSASLAborted = "sasl.aborted"
)
