package storage

import "time"

// Message is one transcript row: everything the engine hands to the display
// sink, channel traffic and status lines alike. Target is the channel name,
// the peer nick for queries, or empty for the status window.
type Message struct {
	ID        int64     `db:"id" json:"id"`
	Network   string    `db:"network" json:"network"`
	Target    string    `db:"target" json:"target"`
	Sender    string    `db:"sender" json:"sender"`
	Body      string    `db:"body" json:"body"`
	Kind      string    `db:"kind" json:"kind"` // 'privmsg', 'notice', 'action', 'status', ...
	Highlight bool      `db:"highlight" json:"highlight"`
	SentAt    time.Time `db:"sent_at" json:"sent_at"`
	RawLine   string    `db:"raw_line" json:"raw_line"`
}

// ChannelMember is one row of the live channel member table. Privilege is
// the engine's ordered level (0 none, 1 voice, 2 halfop, 3 op).
type ChannelMember struct {
	ID        int64     `db:"id" json:"id"`
	Network   string    `db:"network" json:"network"`
	Channel   string    `db:"channel" json:"channel"`
	Nick      string    `db:"nick" json:"nick"`
	Privilege int       `db:"privilege" json:"privilege"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
