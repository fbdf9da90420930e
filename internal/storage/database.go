package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/matt0x6f/cascade/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

const insertMessage = `INSERT INTO messages (network, target, sender, body, kind, highlight, sent_at, raw_line)
	VALUES (:network, :target, :sender, :body, :kind, :highlight, :sent_at, :raw_line)`

// Store persists transcripts and the live channel member table in SQLite.
// Transcript writes go through a write-behind buffer flushed in batches;
// member-table writes are synchronous because the engine reads privileges
// back on the protocol path.
type Store struct {
	db            *sqlx.DB
	writeBuffer   chan Message
	bufferSize    int
	flushInterval time.Duration

	flushMu sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup

	closedMu sync.RWMutex
	closed   bool
}

// Open opens (creating if necessary) the database at dbPath and starts the
// transcript flush loop. WAL mode keeps readers from blocking the writer.
func Open(dbPath string, bufferSize int, flushInterval time.Duration) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection in WAL mode
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	s := &Store{
		db:            db,
		writeBuffer:   make(chan Message, bufferSize),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.flushLoop()

	return s, nil
}

// Close flushes the remaining transcript buffer and closes the database
func (s *Store) Close() error {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return nil
	}
	s.closed = true
	s.closedMu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.flushBuffer()
	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	return s.closed
}

// flushLoop drains the write buffer on a fixed interval until Close
func (s *Store) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.flushBuffer()
		}
	}
}

// flushBuffer writes everything currently buffered in one batch insert
func (s *Store) flushBuffer() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	messages := make([]Message, 0, s.bufferSize)
	for {
		select {
		case msg := <-s.writeBuffer:
			messages = append(messages, msg)
		default:
			if len(messages) == 0 {
				return
			}
			if _, err := s.db.NamedExec(insertMessage, messages); err != nil {
				logger.Log.Error().Err(err).Int("count", len(messages)).Msg("Error flushing messages")
			}
			return
		}
	}
}

// WriteMessage queues a transcript row for batch insertion. A full buffer
// forces an immediate flush rather than dropping the row.
func (s *Store) WriteMessage(msg Message) error {
	if s.isClosed() {
		return fmt.Errorf("storage is closed")
	}

	select {
	case s.writeBuffer <- msg:
		return nil
	default:
		s.flushBuffer()
		select {
		case s.writeBuffer <- msg:
			return nil
		default:
			return fmt.Errorf("write buffer full and flush failed")
		}
	}
}

// Flush forces any buffered transcript rows to disk
func (s *Store) Flush() {
	s.flushBuffer()
}

// RecentMessages returns up to limit transcript rows for a target in
// chronological order. An empty target selects the status window.
func (s *Store) RecentMessages(network, target string, limit int) ([]Message, error) {
	var messages []Message
	err := s.db.Select(&messages,
		`SELECT * FROM messages
		 WHERE network = ? AND target = ?
		 ORDER BY sent_at DESC, id DESC
		 LIMIT ?`,
		network, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	// reverse into chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Conversations returns the distinct non-channel senders we have transcript
// rows from, most recent first, for query-window restoration.
func (s *Store) Conversations(network, selfNick string) ([]string, error) {
	var nicks []string
	err := s.db.Select(&nicks,
		`SELECT target FROM messages
		 WHERE network = ? AND target != '' AND target NOT LIKE '#%' AND target NOT LIKE '&%'
		   AND LOWER(target) != LOWER(?) AND kind IN ('privmsg', 'action')
		 GROUP BY LOWER(target)
		 ORDER BY MAX(sent_at) DESC`,
		network, selfNick)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}
	return nicks, nil
}

// UpsertMember records a nick in a channel at the given privilege level
func (s *Store) UpsertMember(network, channel, nick string, privilege int) error {
	_, err := s.db.Exec(
		`INSERT INTO channel_members (network, channel, nick, privilege, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(network, channel, nick) DO UPDATE SET privilege = excluded.privilege, updated_at = CURRENT_TIMESTAMP`,
		network, channel, nick, privilege)
	if err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}
	return nil
}

// RemoveMember deletes one nick from one channel
func (s *Store) RemoveMember(network, channel, nick string) error {
	_, err := s.db.Exec(
		"DELETE FROM channel_members WHERE network = ? AND channel = ? AND nick = ?",
		network, channel, nick)
	return err
}

// RemoveMemberEverywhere deletes a nick from every channel on the network,
// the QUIT and KILL sweep
func (s *Store) RemoveMemberEverywhere(network, nick string) error {
	_, err := s.db.Exec(
		"DELETE FROM channel_members WHERE network = ? AND nick = ?",
		network, nick)
	return err
}

// RenameMemberEverywhere renames a nick across every channel it appears in
func (s *Store) RenameMemberEverywhere(network, oldNick, newNick string) error {
	_, err := s.db.Exec(
		`UPDATE channel_members SET nick = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE network = ? AND nick = ?`,
		newNick, network, oldNick)
	return err
}

// ClearChannel empties a channel's member table
func (s *Store) ClearChannel(network, channel string) error {
	_, err := s.db.Exec(
		"DELETE FROM channel_members WHERE network = ? AND channel = ?",
		network, channel)
	return err
}

// ClearNetwork empties every member table for the network, used when the
// connection drops and the server state is no longer trustworthy
func (s *Store) ClearNetwork(network string) error {
	_, err := s.db.Exec("DELETE FROM channel_members WHERE network = ?", network)
	return err
}

// MemberPrivilege looks up one member's privilege level. ok is false when
// the nick is not in the channel.
func (s *Store) MemberPrivilege(network, channel, nick string) (int, bool) {
	var privilege int
	err := s.db.Get(&privilege,
		"SELECT privilege FROM channel_members WHERE network = ? AND channel = ? AND nick = ?",
		network, channel, nick)
	if err != nil {
		return 0, false
	}
	return privilege, true
}

// ChannelMembers lists a channel's members ordered by privilege then nick
func (s *Store) ChannelMembers(network, channel string) ([]ChannelMember, error) {
	var members []ChannelMember
	err := s.db.Select(&members,
		`SELECT * FROM channel_members
		 WHERE network = ? AND channel = ?
		 ORDER BY privilege DESC, nick`,
		network, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel members: %w", err)
	}
	return members, nil
}
