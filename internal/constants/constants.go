package constants

import "time"

// Connection timing constants
const (
	// AutoConnectDelay is the initial delay before starting auto-connect process
	AutoConnectDelay = 1 * time.Second

	// ConnectionStaggerDelay is the delay between each network connection attempt
	ConnectionStaggerDelay = 500 * time.Millisecond

	// AutoJoinDelay is the delay after registration before auto-joining channels
	AutoJoinDelay = 2 * time.Second

	// ConnectionCleanupDelay is the delay to wait for connection cleanup
	ConnectionCleanupDelay = 500 * time.Millisecond
)

// Protocol engine constants
const (
	// LabelTimeout is how long a labeled command waits for its correlated
	// reply before the pending entry is expired with a timeout error
	LabelTimeout = 30 * time.Second

	// MultilineStale is the idle age after which a partially assembled
	// multiline buffer is discarded on the next assembler call
	MultilineStale = 5 * time.Second

	// SCRAMMinIterations is the minimum PBKDF2 iteration count accepted
	// from a server-first message; anything lower fails authentication
	SCRAMMinIterations = 4096

	// SCRAMNonceSize is the number of random bytes in a client nonce
	SCRAMNonceSize = 24

	// SASLMaxFailures is how many failed authentication attempts are
	// tolerated on one connection before disconnect is requested
	SASLMaxFailures = 3

	// MaxLineLength is the longest inbound line the transport will accept,
	// covering the 8191-byte tag budget plus the 512-byte message body
	MaxLineLength = 8191 + 512
)

// Storage constants
const (
	// WriteBufferSize is the capacity of the transcript write-behind buffer
	WriteBufferSize = 256

	// FlushInterval is how often the transcript write-behind buffer is flushed
	FlushInterval = 2 * time.Second
)
