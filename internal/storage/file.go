package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"autopost/pkg/logx"
)

// fileStore is the dependency-free persistence backend.
//
// Files under the configured directory:
//   - messages.json      (message pool)
//   - destinations.json  (destination list)
//   - scheduler.json     (scheduler state)
//   - delivery.jsonl     (append-only delivery log, JSON Lines)
//
// Documents are replaced atomically via temp file + rename so a crash
// mid-write never leaves a half-written record behind.
type fileStore struct {
	log logx.Logger

	mu  sync.Mutex
	dir string

	logFile *os.File
}

const (
	messagesFile     = "messages.json"
	destinationsFile = "destinations.json"
	schedulerFile    = "scheduler.json"
	deliveryLogFile  = "delivery.jsonl"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		dir = "./storage"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lf, err := os.OpenFile(filepath.Join(dir, deliveryLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir, logFile: lf}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile == nil {
		return nil
	}
	err := s.logFile.Close()
	s.logFile = nil
	return err
}

// loadDoc reads one JSON document into out. Missing or corrupt files leave
// out untouched so the caller-supplied default survives. Decoding runs
// against a scratch copy first: a type mismatch partway through a
// well-formed document must not leave out half populated.
func (s *fileStore) loadDoc(name string, out any) error {
	path := filepath.Join(s.dir, name)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	scratch := reflect.New(reflect.TypeOf(out).Elem())
	scratch.Elem().Set(reflect.ValueOf(out).Elem())
	if err := json.Unmarshal(b, scratch.Interface()); err != nil {
		s.log.Warn("corrupt record; using defaults", logx.String("file", name), logx.Err(err))
		return nil
	}
	reflect.ValueOf(out).Elem().Set(scratch.Elem())
	return nil
}

func (s *fileStore) saveDoc(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) LoadMessages(ctx context.Context) ([]Message, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []Message
	if err := s.loadDoc(messagesFile, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *fileStore) SaveMessages(ctx context.Context, msgs []Message) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveDoc(messagesFile, msgs)
}

func (s *fileStore) LoadDestinations(ctx context.Context) ([]Destination, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var dests []Destination
	if err := s.loadDoc(destinationsFile, &dests); err != nil {
		return nil, err
	}
	return dests, nil
}

func (s *fileStore) SaveDestinations(ctx context.Context, dests []Destination) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveDoc(destinationsFile, dests)
}

func (s *fileStore) LoadState(ctx context.Context) (SchedulerState, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	st := DefaultState()
	if err := s.loadDoc(schedulerFile, &st); err != nil {
		return DefaultState(), err
	}
	return st, nil
}

func (s *fileStore) SaveState(ctx context.Context, st SchedulerState) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveDoc(schedulerFile, st)
}

func (s *fileStore) AppendLog(ctx context.Context, e LogEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.logFile).Encode(e)
}

func (s *fileStore) LoadLog(ctx context.Context, limit int) ([]LogEntry, error) {
	_ = ctx
	s.mu.Lock()
	path := filepath.Join(s.dir, deliveryLogFile)
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []LogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// Skip torn or corrupt lines rather than losing the whole log.
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return entries, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
