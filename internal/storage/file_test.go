package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"autopost/pkg/logx"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestFileStoreStateRoundtrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, dir := openTestStore(t)

	st, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState on empty dir: %v", err)
	}
	if st.Active || st.Mode != ModeInterval || st.Interval.Value != 15 || st.Rotation != RotationSequential {
		t.Fatalf("empty dir did not yield defaults: %+v", st)
	}

	now := time.Now().Truncate(time.Second)
	st.Active = true
	st.IsResting = true
	st.RestStart = now
	st.CurrentMessageID = "msg-7"
	st.CurrentMessageIndex = 3
	st.FixedTimes = []string{"09:00", "18:30"}
	st.Mode = ModeFixedTimes
	next := now.Add(10 * time.Minute)
	st.NextFireTime = &next
	if err := s.SaveState(ctx, st); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	// A fresh store over the same directory sees the persisted state.
	s2, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState after reopen: %v", err)
	}
	if !got.Active || !got.IsResting || got.CurrentMessageID != "msg-7" || got.CurrentMessageIndex != 3 {
		t.Fatalf("state lost on reopen: %+v", got)
	}
	if !got.RestStart.Equal(now) {
		t.Fatalf("RestStart = %v, want %v", got.RestStart, now)
	}
	if got.NextFireTime == nil || !got.NextFireTime.Equal(next) {
		t.Fatalf("NextFireTime = %v, want %v", got.NextFireTime, next)
	}
	if len(got.FixedTimes) != 2 || got.FixedTimes[0] != "09:00" {
		t.Fatalf("FixedTimes = %v", got.FixedTimes)
	}
}

func TestFileStoreCorruptStateFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, dir := openTestStore(t)

	if err := os.WriteFile(filepath.Join(dir, "scheduler.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState on corrupt file: %v", err)
	}
	if st.Active || st.Interval.Value != 15 || st.ActivitySeconds != 3600 || st.RestSeconds != 600 {
		t.Fatalf("corrupt state did not fall back to defaults: %+v", st)
	}
}

func TestFileStoreTypeMismatchFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, dir := openTestStore(t)

	// Well-formed JSON with a wrong-typed field: no field may leak through.
	body := `{"active":true,"is_resting":true,"current_message_index":"x"}`
	if err := os.WriteFile(filepath.Join(dir, "scheduler.json"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Active || st.IsResting {
		t.Fatalf("mismatched record leaked fields: %+v", st)
	}
	if st.Interval.Value != 15 || st.ActivitySeconds != 3600 {
		t.Fatalf("defaults not restored: %+v", st)
	}
}

func TestFileStorePartialStateKeepsDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, dir := openTestStore(t)

	if err := os.WriteFile(filepath.Join(dir, "scheduler.json"), []byte(`{"active":true}`), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if !st.Active {
		t.Fatal("persisted field lost")
	}
	if st.Interval.Value != 15 || st.ActivitySeconds != 3600 || st.RestSeconds != 600 {
		t.Fatalf("omitted fields lost their defaults: %+v", st)
	}
}

func TestFileStoreMessagesAndDestinations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTestStore(t)

	msgs, err := s.LoadMessages(ctx)
	if err != nil || msgs != nil {
		t.Fatalf("empty pool: msgs=%v err=%v", msgs, err)
	}

	pool := []Message{
		{ID: "a", Text: "hello"},
		{ID: "b", MediaPaths: []string{"img.png"}, Caption: "pic"},
	}
	if err := s.SaveMessages(ctx, pool); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}
	got, err := s.LoadMessages(ctx)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(got) != 2 || got[1].Caption != "pic" || got[1].MediaPaths[0] != "img.png" {
		t.Fatalf("pool roundtrip: %+v", got)
	}

	sent := time.Now().Truncate(time.Second)
	dests := []Destination{
		{ID: -100123, Name: "announcements", Enabled: true, LastSent: &sent},
		{ID: 42, Name: "testing"},
	}
	if err := s.SaveDestinations(ctx, dests); err != nil {
		t.Fatalf("SaveDestinations: %v", err)
	}
	gotD, err := s.LoadDestinations(ctx)
	if err != nil {
		t.Fatalf("LoadDestinations: %v", err)
	}
	if len(gotD) != 2 || gotD[0].ID != -100123 || !gotD[0].Enabled || gotD[1].LastSent != nil {
		t.Fatalf("destination roundtrip: %+v", gotD)
	}
	if gotD[0].LastSent == nil || !gotD[0].LastSent.Equal(sent) {
		t.Fatalf("LastSent = %v, want %v", gotD[0].LastSent, sent)
	}
}

func TestFileStoreLogAppendAndTail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, dir := openTestStore(t)

	for i := 0; i < 5; i++ {
		e := LogEntry{
			Timestamp:   time.Now(),
			Destination: fmt.Sprintf("dest-%d", i),
			Preview:     "hello...",
			Status:      StatusSuccess,
		}
		if err := s.AppendLog(ctx, e); err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
	}

	all, err := s.LoadLog(ctx, 0)
	if err != nil {
		t.Fatalf("LoadLog: %v", err)
	}
	if len(all) != 5 || all[0].Destination != "dest-0" || all[4].Destination != "dest-4" {
		t.Fatalf("log order: %+v", all)
	}

	tail, err := s.LoadLog(ctx, 2)
	if err != nil {
		t.Fatalf("LoadLog(limit): %v", err)
	}
	if len(tail) != 2 || tail[0].Destination != "dest-3" || tail[1].Destination != "dest-4" {
		t.Fatalf("tail = %+v, want last two entries", tail)
	}

	// A torn line in the middle is skipped, not fatal.
	f, err := os.OpenFile(filepath.Join(dir, "delivery.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{torn\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if err := s.AppendLog(ctx, LogEntry{Destination: "after-torn", Status: StatusFailed}); err != nil {
		t.Fatalf("AppendLog after torn line: %v", err)
	}
	got, err := s.LoadLog(ctx, 0)
	if err != nil {
		t.Fatalf("LoadLog after torn line: %v", err)
	}
	if len(got) != 6 || got[5].Destination != "after-torn" {
		t.Fatalf("torn line handling: %d entries, last %+v", len(got), got[len(got)-1])
	}
}

func TestFileStoreAppendAfterClose(t *testing.T) {
	t.Parallel()
	s, _ := openTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.AppendLog(context.Background(), LogEntry{Destination: "x"}); err != ErrClosed {
		t.Fatalf("AppendLog after Close = %v, want ErrClosed", err)
	}
}

func TestIntervalDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   Interval
		want time.Duration
	}{
		{Interval{Value: 15, Unit: "minutes"}, 15 * time.Minute},
		{Interval{Value: 2, Unit: "hours"}, 2 * time.Hour},
		{Interval{}, 15 * time.Minute},
		{Interval{Value: -3, Unit: "minutes"}, 15 * time.Minute},
	}
	for _, tt := range tests {
		if got := tt.in.Duration(); got != tt.want {
			t.Errorf("Interval%+v.Duration() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "bolt"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
