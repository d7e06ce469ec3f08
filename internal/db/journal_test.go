package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/tramquy-network/arriety/internal/events"
)

func TestJournalRecordsAndListsNewestFirst(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "nested", "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []events.Event{
		{Type: events.EventConnected, Source: "client", Time: at,
			Payload: events.SessionPayload{Address: "127.0.0.1:7777", State: "waiting_for_init"}},
		{Type: events.EventLoginFailed, Source: "client", Time: at.Add(time.Second),
			Payload: events.LoginFailedPayload{Address: "127.0.0.1:7777", Reason: "bad creds"}},
		{Type: events.EventStateChanged, Source: "client",
			Payload: events.StateChangedPayload{From: "authenticating", To: "login_failed"}},
	}
	for _, e := range records {
		if err := j.Record(e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	entries, err := j.Recent(2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Type != string(events.EventStateChanged) || entries[0].Detail == "" {
		t.Errorf("newest entry = %+v", entries[0])
	}
	if entries[1].Detail != "bad creds" || entries[1].Address != "127.0.0.1:7777" {
		t.Errorf("second entry = %+v", entries[1])
	}
	if !entries[1].Time.Equal(at.Add(time.Second)) {
		t.Errorf("time = %s, want %s", entries[1].Time, at.Add(time.Second))
	}
}

func TestJournalSubscribe(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	bus := events.NewEventBus()
	j.Subscribe(bus)

	err = bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventLoginSuccess,
		Source:  "client",
		Payload: events.SessionPayload{Address: "127.0.0.1:7777", SessionID: 42, State: "authenticated"},
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	bus.Stop()

	entries, err := j.Recent(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 || entries[0].SessionID != 42 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestJournalMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := NewJournal(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := j.Record(events.Event{Type: events.EventConnected, Source: "client"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if v, err := j.db.SchemaVersion(); err != nil || v != len(journalMigrations) {
		t.Fatalf("schema version = %d, %v; want %d", v, err, len(journalMigrations))
	}
	j.Close()

	j, err = NewJournal(path)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer j.Close()

	if n, err := j.Count(); err != nil || n != 1 {
		t.Fatalf("count after reopen = %d, %v; want 1", n, err)
	}
}

func TestMigrationFailureRollsBack(t *testing.T) {
	d, err := NewDatabase(filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	v, err := d.Migrate([]Migration{
		{Version: 1, SQL: `CREATE TABLE a (id INTEGER)`},
		{Version: 2, SQL: `CREATE TABLE b (id INTEGER); THIS IS NOT SQL`},
	})
	if err == nil {
		t.Fatal("expected the second migration to fail")
	}
	if v != 1 {
		t.Fatalf("version = %d, want 1", v)
	}
	if got, _ := d.SchemaVersion(); got != 1 {
		t.Fatalf("stored version = %d, want 1", got)
	}

	var name string
	err = d.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='b'`).Scan(&name)
	if err != sql.ErrNoRows {
		t.Fatalf("table b should have been rolled back, got %q, %v", name, err)
	}
}
