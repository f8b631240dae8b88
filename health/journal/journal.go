// Package journal is a sink that keeps collected records and an
// append-only event log in sqlite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"tangled.sh/tangled.sh/healthsync/health/models"
	"tangled.sh/tangled.sh/healthsync/health/platform"
)

const (
	EventUpsert = "upsert"
	EventDelete = "delete"
	EventResync = "resync"
)

type DB struct {
	*sql.DB
}

var _ platform.Sink = (*DB)(nil)

func Make(dbPath string) (*DB, error) {
	// https://github.com/mattn/go-sqlite3#connection-string
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_auto_vacuum=incremental",
	}

	db, err := sql.Open("sqlite3", dbPath+"?"+strings.Join(opts, "&"))
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		create table if not exists records (
			type text not null,
			id text not null,
			origin text not null default '',
			start integer, -- unix nanos, null when the record has none
			payload text not null, -- json
			received integer not null, -- unix nanos

			primary key (type, id)
		);

		create table if not exists events (
			id integer primary key autoincrement,
			type text not null,
			kind text not null,
			record_id text not null default '',
			created integer not null -- unix nanos
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

type Entry struct {
	Type     string          `json:"type"`
	ID       string          `json:"id"`
	Origin   string          `json:"origin,omitempty"`
	Start    *time.Time      `json:"start,omitempty"`
	Payload  json.RawMessage `json:"payload"`
	Received time.Time       `json:"received"`
}

type Event struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Kind     string `json:"kind"`
	RecordID string `json:"record_id,omitempty"`
	Created  int64  `json:"created"`
}

// HandleNewRecords upserts the batch and logs one event per record, in a
// single transaction.
func (d *DB) HandleNewRecords(ctx context.Context, records []models.Record, t models.RecordType) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode %s record: %w", t, err)
		}

		var start sql.NullInt64
		if s, ok := r.StartTime(); ok {
			start = sql.NullInt64{Int64: s.UnixNano(), Valid: true}
		}

		meta := r.Meta()
		_, err = tx.ExecContext(ctx, `
			insert into records (type, id, origin, start, payload, received)
			values (?, ?, ?, ?, ?, ?)
			on conflict (type, id) do update set
				origin = excluded.origin,
				start = excluded.start,
				payload = excluded.payload,
				received = excluded.received
		`, t.ID(), meta.ID, meta.DataOrigin, start, string(payload), now)
		if err != nil {
			return err
		}

		if err := insertEvent(ctx, tx, t, EventUpsert, meta.ID, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (d *DB) HandleDeletedRecords(ctx context.Context, ids []string, t models.RecordType) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `delete from records where type = ? and id = ?`, t.ID(), id); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, t, EventDelete, id, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// OnFullyResyncRequired only logs the event; stored records stay until
// the feed deletes them.
func (d *DB) OnFullyResyncRequired(ctx context.Context, t models.RecordType) error {
	return insertEvent(ctx, d, t, EventResync, "", time.Now().UnixNano())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, e execer, t models.RecordType, kind, recordID string, created int64) error {
	_, err := e.ExecContext(ctx,
		`insert into events (type, kind, record_id, created) values (?, ?, ?, ?)`,
		t.ID(), kind, recordID, created,
	)
	return err
}

// GetEntries returns the stored records of t ordered by start time, oldest
// first. limit <= 0 means no limit.
func (d *DB) GetEntries(ctx context.Context, t models.RecordType, limit int) ([]Entry, error) {
	query := `
		select type, id, origin, start, payload, received
		from records
		where type = ?
		order by start asc, id asc
	`
	args := []any{t.ID()}
	if limit > 0 {
		query += " limit ?"
		args = append(args, limit)
	}

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var start sql.NullInt64
		var payload string
		var received int64
		if err := rows.Scan(&e.Type, &e.ID, &e.Origin, &start, &payload, &received); err != nil {
			return nil, err
		}
		if start.Valid {
			s := time.Unix(0, start.Int64).UTC()
			e.Start = &s
		}
		e.Payload = json.RawMessage(payload)
		e.Received = time.Unix(0, received).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// GetEvents returns up to 100 events with an id above cursor.
func (d *DB) GetEvents(ctx context.Context, cursor int64) ([]Event, error) {
	rows, err := d.QueryContext(ctx, `
		select id, type, kind, record_id, created
		from events
		where id > ?
		order by id asc
		limit 100
	`, cursor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evts []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Kind, &ev.RecordID, &ev.Created); err != nil {
			return nil, err
		}
		evts = append(evts, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return evts, nil
}

// Counts returns the number of stored records per record type id.
func (d *DB) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := d.QueryContext(ctx, `select type, count(*) from records group by type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}
