package poster

import (
	"context"
	"errors"
	"time"

	"autopost/internal/dispatch"
	"autopost/internal/metrics"
	"autopost/internal/storage"
	"autopost/pkg/logx"
)

// ErrNothingToPost is returned by TriggerTestCycle when the pool is empty
// or no destination is enabled. Regular cycles log the condition instead.
var ErrNothingToPost = errors.New("no messages or enabled groups")

const emptyCycleError = "No messages or enabled groups"

// RunCycle is one firing of the trigger engine. It never returns an error:
// every failure mode inside a cycle degrades to a logged outcome.
func (s *Service) RunCycle() {
	s.runCycle(context.Background())
}

func (s *Service) runCycle(ctx context.Context) {
	s.mu.Lock()

	st := s.loadState(ctx)
	if !st.Active || st.IsResting {
		// The Resting entry was logged at the transition; skipped ticks
		// stay silent.
		s.mu.Unlock()
		s.met.CycleSkipped()
		return
	}

	now := s.now()
	if now.Sub(st.LastActivityStart) > time.Duration(st.ActivitySeconds)*time.Second {
		s.enterRestLocked(ctx, st, now)
		s.mu.Unlock()
		s.met.CycleSkipped()
		return
	}

	pool, enabled, ok := s.loadTargetsLocked(ctx, now)
	if !ok {
		s.mu.Unlock()
		s.met.CycleSkipped()
		return
	}

	msg, advanced, err := selectMessage(pool, st, s.randIntN)
	if err != nil {
		// Unreachable after the pool check, but never let it advance state.
		s.mu.Unlock()
		s.met.CycleSkipped()
		return
	}
	advanced.NextFireTime = s.computeNextFire(advanced, now)

	// Persist the advanced state before dispatching so a crash mid-dispatch
	// does not replay the same selection.
	_ = s.saveState(ctx, advanced)
	s.mu.Unlock()

	s.met.CycleRan()
	sent := s.dispatchAll(ctx, enabled, msg)
	s.persistLastSent(ctx, sent)
}

// TriggerTestCycle posts the first pool message to every enabled
// destination immediately, without consuming rotation state or waiting for
// the trigger engine.
func (s *Service) TriggerTestCycle(ctx context.Context) error {
	s.mu.Lock()
	pool, enabled, ok := s.loadTargetsLocked(ctx, s.now())
	s.mu.Unlock()
	if !ok {
		return ErrNothingToPost
	}

	sent := s.dispatchAll(ctx, enabled, pool[0])
	s.persistLastSent(ctx, sent)
	return nil
}

// loadTargetsLocked loads the pool and the enabled destinations. When
// either is empty it appends the single cycle-wide Failed entry and
// reports false. Call with s.mu held.
func (s *Service) loadTargetsLocked(ctx context.Context, now time.Time) (pool []storage.Message, enabled []storage.Destination, ok bool) {
	pool, err := s.store.LoadMessages(ctx)
	if err != nil {
		s.log.Warn("message pool load failed", logx.Err(err))
	}
	dests, err := s.store.LoadDestinations(ctx)
	if err != nil {
		s.log.Warn("destination list load failed", logx.Err(err))
	}
	for _, d := range dests {
		if d.Enabled {
			enabled = append(enabled, d)
		}
	}
	if len(pool) == 0 || len(enabled) == 0 {
		s.appendLog(ctx, storage.LogEntry{
			Timestamp:   now,
			Destination: storage.AllDestinations,
			Preview:     "N/A",
			Status:      storage.StatusFailed,
			Error:       emptyCycleError,
		})
		return nil, nil, false
	}
	return pool, enabled, true
}

// dispatchAll fans msg out to the enabled destinations and appends one log
// entry per destination as outcomes arrive. Returns the send time per
// destination that succeeded.
func (s *Service) dispatchAll(ctx context.Context, enabled []storage.Destination, msg storage.Message) map[int64]time.Time {
	preview := Preview(msg)
	sent := make(map[int64]time.Time)

	s.fan.Send(ctx, enabled, msg, func(r dispatch.Result) {
		e := storage.LogEntry{
			Timestamp:   s.now(),
			Destination: r.Dest.Name,
			Preview:     preview,
			Status:      storage.StatusSuccess,
		}
		if r.Err != nil {
			e.Status = storage.StatusFailed
			e.Error = dispatch.Describe(r.Err)
			s.met.PostResult(classify(r.Err))
		} else {
			sent[r.Dest.ID] = e.Timestamp
			s.met.PostResult(metrics.ResultSuccess)
		}
		// Appended as each destination completes, so partial progress
		// survives a crash mid-loop.
		s.appendLog(ctx, e)
	})
	return sent
}

// persistLastSent reloads the destination list before stamping LastSent so
// a concurrent dashboard edit (enable/disable, rename) is not clobbered.
func (s *Service) persistLastSent(ctx context.Context, sent map[int64]time.Time) {
	if len(sent) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dests, err := s.store.LoadDestinations(ctx)
	if err != nil {
		s.log.Warn("destination list reload failed", logx.Err(err))
		return
	}
	for i := range dests {
		if at, ok := sent[dests[i].ID]; ok {
			t := at
			dests[i].LastSent = &t
		}
	}
	if err := s.store.SaveDestinations(ctx, dests); err != nil {
		s.log.Error("destination list persist failed", logx.Err(err))
	}
}

func classify(err error) string {
	var rl *dispatch.RateLimitedError
	switch {
	case errors.As(err, &rl):
		return metrics.ResultRateLimited
	case errors.Is(err, dispatch.ErrPermissionDenied):
		return metrics.ResultPermissionDenied
	default:
		return metrics.ResultError
	}
}
