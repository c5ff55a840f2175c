package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"autopost/internal/storage"
	"autopost/pkg/logx"
)

func TestDescribe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{
			name: "flood wait",
			err:  RateLimited(errors.New("too many requests"), 30*time.Second),
			want: "Flood wait: 30 seconds",
		},
		{
			name: "flood wait wrapped",
			err:  fmt.Errorf("send: %w", RateLimited(errors.New("slow down"), 5*time.Second)),
			want: "Flood wait: 5 seconds",
		},
		{
			name: "negative retry clamps to zero",
			err:  RateLimited(errors.New("x"), -time.Second),
			want: "Flood wait: 0 seconds",
		},
		{
			name: "permission denied",
			err:  ErrPermissionDenied,
			want: "No permission to post in group",
		},
		{
			name: "permission denied wrapped",
			err:  fmt.Errorf("send: %w", ErrPermissionDenied),
			want: "No permission to post in group",
		},
		{
			name: "other error verbatim",
			err:  errors.New("chat not found"),
			want: "chat not found",
		},
	}
	for _, tt := range tests {
		if got := Describe(tt.err); got != tt.want {
			t.Errorf("%s: Describe() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRateLimitedUnwrap(t *testing.T) {
	t.Parallel()
	base := errors.New("flood")
	err := RateLimited(base, time.Minute)
	if !errors.Is(err, base) {
		t.Fatal("RateLimited does not unwrap to the cause")
	}
	var rl *RateLimitedError
	if !errors.As(err, &rl) || rl.RetryAfter != time.Minute {
		t.Fatalf("errors.As failed or RetryAfter = %v", rl.RetryAfter)
	}
}

func destinations(n int) []storage.Destination {
	out := make([]storage.Destination, n)
	for i := range out {
		out[i] = storage.Destination{ID: int64(i + 1), Name: fmt.Sprintf("dest-%d", i+1), Enabled: true}
	}
	return out
}

func TestFanoutReportsEveryDestination(t *testing.T) {
	t.Parallel()
	failing := int64(3)
	f := NewFanout(Func(func(_ context.Context, d storage.Destination, _ storage.Message) error {
		if d.ID == failing {
			return errors.New("boom")
		}
		return nil
	}), Config{Workers: 4, RatePerSec: 1000}, logx.Nop())

	got := map[int64]error{}
	f.Send(context.Background(), destinations(7), storage.Message{ID: "m", Text: "hi"}, func(r Result) {
		if _, dup := got[r.Dest.ID]; dup {
			t.Errorf("destination %d reported twice", r.Dest.ID)
		}
		got[r.Dest.ID] = r.Err
	})

	if len(got) != 7 {
		t.Fatalf("%d results, want 7", len(got))
	}
	for id, err := range got {
		if id == failing {
			if err == nil {
				t.Errorf("destination %d: expected failure", id)
			}
		} else if err != nil {
			t.Errorf("destination %d: unexpected error %v", id, err)
		}
	}
}

func TestFanoutJoinsBeforeReturn(t *testing.T) {
	t.Parallel()
	var inFlight, max atomic.Int64
	f := NewFanout(Func(func(context.Context, storage.Destination, storage.Message) error {
		cur := inFlight.Add(1)
		for {
			m := max.Load()
			if cur <= m || max.CompareAndSwap(m, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}), Config{Workers: 2, RatePerSec: 1000}, logx.Nop())

	f.Send(context.Background(), destinations(6), storage.Message{ID: "m"}, nil)

	if n := inFlight.Load(); n != 0 {
		t.Fatalf("%d sends still in flight after Send returned", n)
	}
	if m := max.Load(); m > 2 {
		t.Fatalf("observed %d concurrent sends, worker bound is 2", m)
	}
}

func TestFanoutEmptyDestinations(t *testing.T) {
	t.Parallel()
	called := false
	f := NewFanout(Func(func(context.Context, storage.Destination, storage.Message) error {
		called = true
		return nil
	}), Config{}, logx.Nop())

	f.Send(context.Background(), nil, storage.Message{ID: "m"}, func(Result) {
		t.Error("callback invoked with no destinations")
	})
	if called {
		t.Fatal("client invoked with no destinations")
	}
}

func TestFanoutCancelledContext(t *testing.T) {
	t.Parallel()
	f := NewFanout(Func(func(context.Context, storage.Destination, storage.Message) error {
		t.Error("client invoked after cancellation")
		return nil
	}), Config{Workers: 1, RatePerSec: 1}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := 0
	f.Send(ctx, destinations(3), storage.Message{ID: "m"}, func(r Result) {
		results++
		if r.Err == nil {
			t.Errorf("destination %d: expected context error", r.Dest.ID)
		}
	})
	if results != 3 {
		t.Fatalf("%d results, want 3 (every destination reported)", results)
	}
}
