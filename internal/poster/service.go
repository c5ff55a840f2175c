package poster

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"autopost/internal/dispatch"
	"autopost/internal/metrics"
	"autopost/internal/storage"
	"autopost/internal/trigger"
	"autopost/pkg/logx"
)

// Service owns the scheduler: its persisted state handle, the trigger
// engine, the dispatch fan-out and the store. Exactly one instance exists
// per process; it is constructed at startup and torn down on shutdown.
type Service struct {
	log   logx.Logger
	store storage.Store
	fan   *dispatch.Fanout
	met   *metrics.Metrics

	engine *trigger.Engine

	// mu serializes every read-modify-write of the persisted records
	// between cycles and dashboard-driven calls (single-writer
	// discipline). Dispatch itself runs outside the lock.
	mu sync.Mutex

	// injectable for tests
	now      func() time.Time
	randIntN func(n int) int
}

// Settings is the dashboard-facing scheduling configuration.
type Settings struct {
	Mode       storage.Mode     `json:"mode"`
	Interval   storage.Interval `json:"interval"`
	FixedTimes []string         `json:"fixed_times,omitempty"`
	Rotation   storage.Rotation `json:"rotation"`
}

// Status is a read-only snapshot for the dashboard.
type Status struct {
	Active              bool             `json:"active"`
	Resting             bool             `json:"is_resting"`
	Mode                storage.Mode     `json:"mode"`
	Interval            storage.Interval `json:"interval"`
	FixedTimes          []string         `json:"fixed_times,omitempty"`
	Rotation            storage.Rotation `json:"rotation"`
	CurrentMessageIndex int              `json:"current_message_index"`
	NextFireTime        *time.Time       `json:"next_fire_time,omitempty"`
	NextFixedTime       string           `json:"next_fixed_time,omitempty"`
	Messages            int              `json:"messages"`
	Destinations        int              `json:"destinations"`
	EnabledDestinations int              `json:"enabled_destinations"`
}

func New(store storage.Store, fan *dispatch.Fanout, met *metrics.Metrics, log logx.Logger) *Service {
	s := &Service{
		log:      log,
		store:    store,
		fan:      fan,
		met:      met,
		now:      time.Now,
		randIntN: rand.IntN,
	}
	s.engine = trigger.New(s.RunCycle, log.With(logx.String("comp", "trigger")))
	return s
}

// Start restores scheduling from the persisted state: triggers are
// reinstalled when active, and a pending rest gets its resume event back
// (a restart mid-rest must not leave the scheduler paused forever).
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.loadState(ctx)
	if !st.Active {
		s.log.Info("scheduler inactive; waiting for activation")
		return nil
	}

	if err := s.installTriggersLocked(st); err != nil {
		return err
	}

	if st.IsResting {
		// Honor the persisted resume time; a past-due one fires
		// immediately rather than starting a fresh rest.
		resumeAt := s.restResumeAt(st)
		s.engine.Suspend()
		s.engine.ScheduleResume(resumeAt, s.resumeFromRest)
		s.log.Info("restored mid-rest; resume scheduled", logx.Time("at", resumeAt))
	}
	s.log.Info("scheduler started", logx.String("mode", string(st.Mode)))
	return nil
}

// Stop tears the trigger engine down. In-flight cycles finish on their own.
func (s *Service) Stop() {
	s.engine.Stop()
}

// Activate switches the scheduler on with the given settings.
func (s *Service) Activate(ctx context.Context, set Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.loadState(ctx)
	applySettings(&st, set)
	st.Active = true
	if st.LastActivityStart.IsZero() {
		st.LastActivityStart = s.now()
	}
	var resumeAt time.Time
	if st.IsResting {
		// Invariant: resting implies a scheduled resume. The pending rest
		// survives re-activation: NextFireTime stays the resume timestamp,
		// not the interval projection, and a past-due resume fires
		// immediately.
		resumeAt = s.restResumeAt(st)
		st.NextFireTime = &resumeAt
	} else {
		st.NextFireTime = s.computeNextFire(st, s.now())
	}

	if err := s.saveState(ctx, st); err != nil {
		return err
	}
	if err := s.installTriggersLocked(st); err != nil {
		return err
	}
	if st.IsResting {
		s.engine.Suspend()
		s.engine.ScheduleResume(resumeAt, s.resumeFromRest)
	}
	s.log.Info("scheduler activated",
		logx.String("mode", string(st.Mode)),
		logx.String("rotation", string(st.Rotation)))
	return nil
}

// Deactivate switches the scheduler off and cancels pending firings.
// An in-flight cycle is not interrupted.
func (s *Service) Deactivate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.loadState(ctx)
	st.Active = false
	st.NextFireTime = nil
	if err := s.saveState(ctx, st); err != nil {
		return err
	}
	s.engine.Clear()
	s.engine.CancelResume()
	s.log.Info("scheduler deactivated")
	return nil
}

// Reconfigure replaces the scheduling settings. When active, old triggers
// are atomically removed before the new ones are installed, so no firing
// from the previous configuration occurs afterwards.
func (s *Service) Reconfigure(ctx context.Context, set Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.loadState(ctx)
	applySettings(&st, set)
	st.NextFireTime = s.computeNextFire(st, s.now())
	if err := s.saveState(ctx, st); err != nil {
		return err
	}
	if st.Active {
		if err := s.installTriggersLocked(st); err != nil {
			return err
		}
	}
	s.log.Info("scheduler reconfigured", logx.String("mode", string(st.Mode)))
	return nil
}

// Status reports a snapshot for the dashboard collaborator.
func (s *Service) Status(ctx context.Context) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.loadState(ctx)
	msgs, _ := s.store.LoadMessages(ctx)
	dests, _ := s.store.LoadDestinations(ctx)

	enabled := 0
	for _, d := range dests {
		if d.Enabled {
			enabled++
		}
	}

	out := Status{
		Active:              st.Active,
		Resting:             st.IsResting,
		Mode:                st.Mode,
		Interval:            st.Interval,
		FixedTimes:          st.FixedTimes,
		Rotation:            st.Rotation,
		CurrentMessageIndex: st.CurrentMessageIndex,
		NextFireTime:        st.NextFireTime,
		Messages:            len(msgs),
		Destinations:        len(dests),
		EnabledDestinations: enabled,
	}
	if st.Mode == storage.ModeFixedTimes {
		out.NextFixedTime = trigger.NextFixedTime(st.FixedTimes)
	}
	return out
}

// UpdateDestinations applies one read-modify-write edit to the destination
// list under the service mutex, the same lock LastSent stamping runs under.
// Editing through any other path can silently lose one writer's update.
func (s *Service) UpdateDestinations(ctx context.Context, mutate func([]storage.Destination) ([]storage.Destination, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dests, err := s.store.LoadDestinations(ctx)
	if err != nil {
		return err
	}
	out, err := mutate(dests)
	if err != nil {
		return err
	}
	return s.store.SaveDestinations(ctx, out)
}

func applySettings(st *storage.SchedulerState, set Settings) {
	if set.Mode != "" {
		st.Mode = set.Mode
	}
	if set.Interval.Value > 0 {
		st.Interval = set.Interval
	}
	if set.FixedTimes != nil {
		st.FixedTimes = set.FixedTimes
	}
	if set.Rotation != "" {
		st.Rotation = set.Rotation
	}
}

func (s *Service) installTriggersLocked(st storage.SchedulerState) error {
	switch st.Mode {
	case storage.ModeFixedTimes:
		_, err := s.engine.ReconfigureFixedTimes(st.FixedTimes)
		return err
	default:
		return s.engine.ReconfigureInterval(st.Interval.Duration())
	}
}

// restResumeAt derives when a pending rest ends. The persisted resume
// time is authoritative; with it missing the end is reconstructed from
// the rest start, and only as a last resort projected from now.
func (s *Service) restResumeAt(st storage.SchedulerState) time.Time {
	if st.NextFireTime != nil {
		return *st.NextFireTime
	}
	if !st.RestStart.IsZero() {
		return st.RestStart.Add(time.Duration(st.RestSeconds) * time.Second)
	}
	return s.now().Add(time.Duration(st.RestSeconds) * time.Second)
}

// loadState falls back to defaults on any read failure; the scheduler loop
// must keep going.
func (s *Service) loadState(ctx context.Context) storage.SchedulerState {
	st, err := s.store.LoadState(ctx)
	if err != nil {
		s.log.Warn("state load failed; using defaults", logx.Err(err))
		return storage.DefaultState()
	}
	return st
}

// saveState reports write failures but never escalates them: the next
// cycle rewrites the record anyway.
func (s *Service) saveState(ctx context.Context, st storage.SchedulerState) error {
	if err := s.store.SaveState(ctx, st); err != nil {
		s.log.Error("state persist failed", logx.Err(err))
		return err
	}
	return nil
}

func (s *Service) appendLog(ctx context.Context, e storage.LogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	if err := s.store.AppendLog(ctx, e); err != nil {
		s.log.Error("delivery log append failed", logx.Err(err))
	}
}
