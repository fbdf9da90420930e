package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

const createMessagesTable = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	network TEXT NOT NULL,
	target TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL,
	body TEXT NOT NULL,
	kind TEXT NOT NULL,
	highlight INTEGER NOT NULL DEFAULT 0,
	sent_at TIMESTAMP NOT NULL,
	raw_line TEXT NOT NULL DEFAULT ''
)`

const createChannelMembersTable = `
CREATE TABLE IF NOT EXISTS channel_members (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	network TEXT NOT NULL,
	channel TEXT NOT NULL COLLATE NOCASE,
	nick TEXT NOT NULL COLLATE NOCASE,
	privilege INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(network, channel, nick)
)`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_messages_network_target_time
	ON messages(network, target, sent_at);
CREATE INDEX IF NOT EXISTS idx_channel_members_network_nick
	ON channel_members(network, nick)`

// Migrate creates the schema. Every statement is idempotent, so running
// migrations against an existing database is safe.
func Migrate(db *sqlx.DB) error {
	migrations := []string{
		createMessagesTable,
		createChannelMembersTable,
		createIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
