package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"autopost/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps the JSON documents in a records table and the delivery
// log in its own append-only table.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

const (
	recordMessages     = "messages"
	recordDestinations = "destinations"
	recordScheduler    = "scheduler"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// loadRecord reads one JSON document into out. A missing row or corrupt
// body leaves out untouched so the caller-supplied default survives.
// Decoding runs against a scratch copy first: a type mismatch partway
// through a well-formed body must not leave out half populated.
func (s *sqliteStore) loadRecord(ctx context.Context, name string, out any) error {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM records WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	scratch := reflect.New(reflect.TypeOf(out).Elem())
	scratch.Elem().Set(reflect.ValueOf(out).Elem())
	if err := json.Unmarshal([]byte(body), scratch.Interface()); err != nil {
		s.log.Warn("corrupt record; using defaults", logx.String("record", name), logx.Err(err))
		return nil
	}
	reflect.ValueOf(out).Elem().Set(scratch.Elem())
	return nil
}

func (s *sqliteStore) saveRecord(ctx context.Context, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records(name, body, updated_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`,
		name, string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) LoadMessages(ctx context.Context) ([]Message, error) {
	var msgs []Message
	if err := s.loadRecord(ctx, recordMessages, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *sqliteStore) SaveMessages(ctx context.Context, msgs []Message) error {
	return s.saveRecord(ctx, recordMessages, msgs)
}

func (s *sqliteStore) LoadDestinations(ctx context.Context) ([]Destination, error) {
	var dests []Destination
	if err := s.loadRecord(ctx, recordDestinations, &dests); err != nil {
		return nil, err
	}
	return dests, nil
}

func (s *sqliteStore) SaveDestinations(ctx context.Context, dests []Destination) error {
	return s.saveRecord(ctx, recordDestinations, dests)
}

func (s *sqliteStore) LoadState(ctx context.Context) (SchedulerState, error) {
	st := DefaultState()
	if err := s.loadRecord(ctx, recordScheduler, &st); err != nil {
		return DefaultState(), err
	}
	return st, nil
}

func (s *sqliteStore) SaveState(ctx context.Context, st SchedulerState) error {
	return s.saveRecord(ctx, recordScheduler, st)
}

func (s *sqliteStore) AppendLog(ctx context.Context, e LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_log(at, destination, preview, status, err) VALUES(?,?,?,?,?)`,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.Destination, e.Preview, string(e.Status), nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) LoadLog(ctx context.Context, limit int) ([]LogEntry, error) {
	q := `SELECT at, destination, preview, status, err FROM delivery_log ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var at string
		var errStr sql.NullString
		if err := rows.Scan(&at, &e.Destination, &e.Preview, &e.Status, &errStr); err != nil {
			return entries, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			e.Timestamp = t
		}
		e.Error = errStr.String
		entries = append(entries, e)
	}
	// Oldest first, matching the file driver.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
