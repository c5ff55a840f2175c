package poster

import (
	"context"
	"time"

	"autopost/internal/storage"
	"autopost/internal/trigger"
	"autopost/pkg/logx"
)

// Activity/rest cadence bounds, in minutes. Drawn uniformly (inclusive)
// at every resume to keep the posting rhythm irregular.
const (
	activityMinMinutes = 30
	activityMaxMinutes = 60
	restMinMinutes     = 10
	restMaxMinutes     = 15
)

// enterRestLocked transitions Active -> Resting: persists the paused
// state, suspends regular firing, schedules exactly one resume event and
// records the transition. No dispatch happens on this cycle.
// Call with s.mu held.
func (s *Service) enterRestLocked(ctx context.Context, st storage.SchedulerState, now time.Time) {
	st.IsResting = true
	st.RestStart = now
	resumeAt := now.Add(time.Duration(st.RestSeconds) * time.Second)
	st.NextFireTime = &resumeAt

	_ = s.saveState(ctx, st)
	s.engine.Suspend()
	s.engine.ScheduleResume(resumeAt, s.resumeFromRest)
	s.appendLog(ctx, storage.LogEntry{
		Timestamp:   now,
		Destination: storage.AllDestinations,
		Preview:     "N/A",
		Status:      storage.StatusResting,
	})
	s.met.RestTransition("resting")
	s.log.Info("entering rest", logx.Time("resume_at", resumeAt))
}

// resumeFromRest is the one-shot resume event: Resting -> Active with
// freshly drawn activity and rest windows.
func (s *Service) resumeFromRest() {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := s.loadState(ctx)
	st.IsResting = false
	st.LastActivityStart = now
	st.ActivitySeconds = s.drawMinutes(activityMinMinutes, activityMaxMinutes) * 60
	st.RestSeconds = s.drawMinutes(restMinMinutes, restMaxMinutes) * 60
	st.NextFireTime = s.computeNextFire(st, now)

	_ = s.saveState(ctx, st)
	s.engine.Resume()
	s.appendLog(ctx, storage.LogEntry{
		Timestamp:   now,
		Destination: storage.AllDestinations,
		Preview:     "N/A",
		Status:      storage.StatusResumed,
	})
	s.met.RestTransition("resumed")
	s.log.Info("resumed from rest",
		logx.Duration("activity", time.Duration(st.ActivitySeconds)*time.Second),
		logx.Duration("next_rest", time.Duration(st.RestSeconds)*time.Second))
}

// drawMinutes returns a uniform draw from [lo, hi] inclusive.
func (s *Service) drawMinutes(lo, hi int) int {
	return lo + s.randIntN(hi-lo+1)
}

// computeNextFire derives the display-facing next fire time. Interval mode
// projects from now; fixed-times mode shows today at the numerically
// smallest configured HH:MM (historical display rule).
func (s *Service) computeNextFire(st storage.SchedulerState, now time.Time) *time.Time {
	switch st.Mode {
	case storage.ModeFixedTimes:
		next := trigger.NextFixedTime(st.FixedTimes)
		if next == "" {
			return nil
		}
		h, m, err := trigger.ParseHHMM(next)
		if err != nil {
			return nil
		}
		t := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
		return &t
	default:
		t := now.Add(st.Interval.Duration())
		return &t
	}
}
