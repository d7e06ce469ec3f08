package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tramquy-network/arriety/internal/events"
)

// Journal is an append-only audit trail of session notifications. It is
// never read back to restore client state.
type Journal struct {
	db *Database
}

// JournalEntry is one recorded notification.
type JournalEntry struct {
	ID        int64     `json:"id"`
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Address   string    `json:"address,omitempty"`
	SessionID int32     `json:"session_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// NewJournal opens or creates the journal database at dbPath.
func NewJournal(dbPath string) (*Journal, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	j := &Journal{db: database}
	if err := j.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}
	return j, nil
}

var journalMigrations = []Migration{
	{Version: 1, SQL: `
		CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at DATETIME NOT NULL,
			type TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			session_id INTEGER NOT NULL DEFAULT 0,
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_session_events_time ON session_events(occurred_at);`},
	{Version: 2, SQL: `CREATE INDEX IF NOT EXISTS idx_session_events_type ON session_events(type);`},
}

func (j *Journal) migrate() error {
	_, err := j.db.Migrate(journalMigrations)
	return err
}

// Count returns the number of recorded entries.
func (j *Journal) Count() (int, error) {
	var n int
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM session_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count journal entries: %w", err)
	}
	return n, nil
}

// Record appends an event to the journal.
func (j *Journal) Record(e events.Event) error {
	entry := JournalEntry{
		Time:   e.Time,
		Type:   string(e.Type),
		Source: e.Source,
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}

	switch p := e.Payload.(type) {
	case events.SessionPayload:
		entry.Address = p.Address
		entry.SessionID = p.SessionID
		entry.Detail = p.State
	case events.LoginFailedPayload:
		entry.Address = p.Address
		entry.Detail = p.Reason
	case nil:
	default:
		if data, err := json.Marshal(p); err == nil {
			entry.Detail = string(data)
		}
	}

	_, err := j.db.Exec(
		`INSERT INTO session_events (occurred_at, type, source, address, session_id, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Time.UTC(), entry.Type, entry.Source, entry.Address, entry.SessionID, entry.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", e.Type, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.Query(
		`SELECT id, occurred_at, type, source, address, session_id, detail
		 FROM session_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.Time, &e.Type, &e.Source, &e.Address, &e.SessionID, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Subscribe records every session event published on bus.
func (j *Journal) Subscribe(bus *events.EventBus) {
	for _, t := range events.SessionEventTypes {
		bus.Subscribe(t, "journal", func(ctx context.Context, e events.Event) error {
			return j.Record(e)
		})
	}
	log.Info().Str("path", j.db.Path()).Msg("session journal attached")
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
