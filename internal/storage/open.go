package storage

import (
	"context"
	"errors"
	"strings"

	"autopost/pkg/logx"
)

var ErrClosed = errors.New("storage closed")

// Store is the persistence API used by the poster core and the admin API.
//
// Load methods degrade to the record's default on missing or corrupt data
// and return an error only for hard I/O failures; callers treat that error
// as "use the default and try persisting again next cycle".
type Store interface {
	LoadMessages(ctx context.Context) ([]Message, error)
	SaveMessages(ctx context.Context, msgs []Message) error

	LoadDestinations(ctx context.Context) ([]Destination, error)
	SaveDestinations(ctx context.Context, dests []Destination) error

	LoadState(ctx context.Context) (SchedulerState, error)
	SaveState(ctx context.Context, st SchedulerState) error

	AppendLog(ctx context.Context, e LogEntry) error
	LoadLog(ctx context.Context, limit int) ([]LogEntry, error)

	Close() error
}

// Open initializes the configured store. An empty driver defaults to "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
