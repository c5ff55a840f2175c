package poster

import (
	"context"
	"testing"
	"time"

	"autopost/internal/dispatch"
	"autopost/internal/storage"
)

func TestActivateInstallsTriggersAndPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memStore{
		msgs:  makePool(2),
		dests: []storage.Destination{{ID: 1, Name: "a", Enabled: true}, {ID: 2, Name: "b"}},
	}
	s := newTestService(t, store, nil)

	err := s.Activate(ctx, Settings{
		Mode:     storage.ModeInterval,
		Interval: storage.Interval{Value: 30, Unit: "minutes"},
		Rotation: storage.RotationRandom,
	})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}

	st, _, _ := store.snapshot()
	if !st.Active || st.Rotation != storage.RotationRandom || st.Interval.Value != 30 {
		t.Fatalf("persisted state: %+v", st)
	}
	if st.LastActivityStart.IsZero() {
		t.Fatal("LastActivityStart not initialized on first activation")
	}
	if st.NextFireTime == nil {
		t.Fatal("NextFireTime not set on activation")
	}
	if n := s.engine.EntryCount(); n != 1 {
		t.Fatalf("%d trigger entries, want 1", n)
	}

	status := s.Status(ctx)
	if !status.Active || status.Messages != 2 || status.Destinations != 2 || status.EnabledDestinations != 1 {
		t.Fatalf("status: %+v", status)
	}
}

func TestDeactivateClearsTriggers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memStore{}
	s := newTestService(t, store, nil)

	if err := s.Activate(ctx, Settings{}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := s.Deactivate(ctx); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	st, _, _ := store.snapshot()
	if st.Active || st.NextFireTime != nil {
		t.Fatalf("state after deactivate: %+v", st)
	}
	if n := s.engine.EntryCount(); n != 0 {
		t.Fatalf("%d trigger entries after deactivate, want 0", n)
	}
}

func TestReconfigureSwitchesMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memStore{}
	s := newTestService(t, store, nil)

	if err := s.Activate(ctx, Settings{Mode: storage.ModeInterval}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	err := s.Reconfigure(ctx, Settings{
		Mode:       storage.ModeFixedTimes,
		FixedTimes: []string{"18:00", "09:30"},
	})
	if err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}

	st, _, _ := store.snapshot()
	if st.Mode != storage.ModeFixedTimes || len(st.FixedTimes) != 2 {
		t.Fatalf("state after reconfigure: %+v", st)
	}
	if n := s.engine.EntryCount(); n != 2 {
		t.Fatalf("%d trigger entries, want 2 (one per fixed time, interval entry gone)", n)
	}
	if got := s.Status(ctx).NextFixedTime; got != "09:30" {
		t.Fatalf("NextFixedTime = %q, want the smallest configured time", got)
	}
}

func TestReconfigureKeepsUnsetFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memStore{}
	st := storage.DefaultState()
	st.Rotation = storage.RotationRandom
	st.Interval = storage.Interval{Value: 45, Unit: "minutes"}
	store.setState(st)

	s := newTestService(t, store, nil)
	if err := s.Reconfigure(ctx, Settings{Mode: storage.ModeInterval}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	got, _, _ := store.snapshot()
	if got.Rotation != storage.RotationRandom || got.Interval.Value != 45 {
		t.Fatalf("unset settings were clobbered: %+v", got)
	}
}

func TestStartRestoresMidRest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memStore{}
	st := storage.DefaultState()
	st.Active = true
	st.IsResting = true
	st.RestStart = time.Now().Add(-time.Minute)
	resumeAt := time.Now().Add(time.Hour)
	st.NextFireTime = &resumeAt
	store.setState(st)

	s := newTestService(t, store, nil)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.engine.Suspended() {
		t.Fatal("regular firing not suspended after restoring mid-rest")
	}
	if n := s.engine.EntryCount(); n != 1 {
		t.Fatalf("%d trigger entries after restore, want 1", n)
	}
}

func TestStartPastDueRestResumesPromptly(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	st := storage.DefaultState()
	st.Active = true
	st.IsResting = true
	st.RestStart = time.Now().Add(-20 * time.Minute)
	pastDue := time.Now().Add(-10 * time.Minute)
	st.NextFireTime = &pastDue
	store.setState(st)

	s := newTestService(t, store, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The persisted resume time is already behind; the rest must end now,
	// not after another full rest window.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, logs, _ := store.snapshot()
		if !got.IsResting {
			if len(logs) == 0 || logs[len(logs)-1].Status != storage.StatusResumed {
				t.Fatalf("resume not logged: %+v", logs)
			}
			if got.ActivitySeconds < 1800 || got.ActivitySeconds > 3600 {
				t.Fatalf("ActivitySeconds = %d after resume", got.ActivitySeconds)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("past-due rest never resumed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestActivateMidRestKeepsResumeTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &memStore{}
	st := storage.DefaultState()
	st.IsResting = true
	st.RestStart = time.Now().Add(-time.Minute)
	resumeAt := time.Now().Add(time.Hour)
	st.NextFireTime = &resumeAt
	store.setState(st)

	s := newTestService(t, store, nil)
	if err := s.Activate(ctx, Settings{}); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	got, _, _ := store.snapshot()
	if !got.Active || !got.IsResting {
		t.Fatalf("state after activation: %+v", got)
	}
	if got.NextFireTime == nil || !got.NextFireTime.Equal(resumeAt) {
		t.Fatalf("NextFireTime = %v, want the pending resume time %v", got.NextFireTime, resumeAt)
	}
	if !s.engine.Suspended() {
		t.Fatal("regular firing not suspended while resting")
	}
}

func TestDestinationEditDuringDispatchSurvivesStamping(t *testing.T) {
	t.Parallel()
	base := time.Now()
	store := &memStore{
		msgs:  makePool(1),
		dests: []storage.Destination{{ID: 1, Name: "one", Enabled: true}},
	}
	store.setState(activeState(base))

	// The client renames the destination through the service while its own
	// send is in flight, the way an admin edit lands mid-cycle.
	var svc *Service
	client := dispatch.Func(func(ctx context.Context, d storage.Destination, _ storage.Message) error {
		return svc.UpdateDestinations(ctx, func(dests []storage.Destination) ([]storage.Destination, error) {
			for i := range dests {
				if dests[i].ID == d.ID {
					dests[i].Name = "renamed"
				}
			}
			return dests, nil
		})
	})
	svc = newTestService(t, store, client)
	svc.now = func() time.Time { return base }

	svc.RunCycle()

	_, _, dests := store.snapshot()
	if len(dests) != 1 {
		t.Fatalf("destinations = %+v", dests)
	}
	if dests[0].Name != "renamed" {
		t.Fatal("concurrent edit lost by LastSent stamping")
	}
	if dests[0].LastSent == nil {
		t.Fatal("LastSent stamp lost by concurrent edit")
	}
}

func TestStartInactiveInstallsNothing(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	s := newTestService(t, store, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := s.engine.EntryCount(); n != 0 {
		t.Fatalf("%d trigger entries for an inactive scheduler", n)
	}
}
