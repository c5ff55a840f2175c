package trigger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"autopost/pkg/logx"
)

// Engine decides when the next posting attempt fires. It owns exactly one
// logical job: either a single interval entry or one daily entry per fixed
// time. Reconfiguring atomically removes the previous entries before
// installing new ones, so no firing from an old configuration survives a
// reconfigure.
type Engine struct {
	mu        sync.Mutex
	log       logx.Logger
	job       func()
	c         *cron.Cron
	entries   []cron.EntryID
	suspended bool
	running   bool // overlap guard: one cycle at a time

	// one-shot resume timer; versioned so a stale callback from a
	// replaced timer is ignored.
	tmu         sync.Mutex
	resumeTimer *time.Timer
	resumeVer   uint64
}

// New creates a started engine. job is invoked once per firing; overlapping
// firings are skipped, not queued.
func New(job func(), log logx.Logger) *Engine {
	e := &Engine{log: log, job: job, c: cron.New()}
	e.c.Start()
	return e
}

func (e *Engine) fire() {
	e.mu.Lock()
	if e.suspended {
		e.mu.Unlock()
		e.log.Debug("trigger fired while suspended; skipping")
		return
	}
	if e.running {
		e.mu.Unlock()
		e.log.Debug("trigger fired while previous cycle still running; skipping")
		return
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()
	e.job()
}

// ReconfigureInterval replaces all entries with a single recurring entry.
func (e *Engine) ReconfigureInterval(every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("interval must be positive, got %s", every)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearLocked()
	id, err := e.c.AddFunc(fmt.Sprintf("@every %s", every), e.fire)
	if err != nil {
		return err
	}
	e.entries = append(e.entries, id)
	e.log.Info("interval trigger installed", logx.Duration("every", every))
	return nil
}

// ReconfigureFixedTimes replaces all entries with one daily entry per valid
// "HH:MM". Malformed entries are skipped with a warning, not fatal. The
// number of installed entries is returned.
func (e *Engine) ReconfigureFixedTimes(times []string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearLocked()
	installed := 0
	for _, t := range times {
		h, m, err := ParseHHMM(t)
		if err != nil {
			e.log.Warn("skipping malformed fixed time", logx.String("time", t), logx.Err(err))
			continue
		}
		id, err := e.c.AddFunc(fmt.Sprintf("%d %d * * *", m, h), e.fire)
		if err != nil {
			e.log.Warn("fixed time register failed", logx.String("time", t), logx.Err(err))
			continue
		}
		e.entries = append(e.entries, id)
		installed++
	}
	e.log.Info("fixed time triggers installed", logx.Int("count", installed))
	if installed == 0 && len(times) > 0 {
		return 0, fmt.Errorf("no valid fixed times in %v", times)
	}
	return installed, nil
}

// Clear removes all recurring entries (deactivation).
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearLocked()
}

func (e *Engine) clearLocked() {
	for _, id := range e.entries {
		e.c.Remove(id)
	}
	e.entries = nil
}

// Suspend gates regular firing without removing entries (rest period).
func (e *Engine) Suspend() {
	e.mu.Lock()
	e.suspended = true
	e.mu.Unlock()
}

// Resume lifts a Suspend.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.suspended = false
	e.mu.Unlock()
}

// Suspended reports whether regular firing is currently gated.
func (e *Engine) Suspended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suspended
}

// EntryCount reports how many recurring entries are installed.
func (e *Engine) EntryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Next returns the earliest upcoming fire time of the installed entries,
// or the zero time when nothing is scheduled.
func (e *Engine) Next() time.Time {
	e.mu.Lock()
	ids := append([]cron.EntryID(nil), e.entries...)
	c := e.c
	e.mu.Unlock()

	var next time.Time
	for _, id := range ids {
		en := c.Entry(id)
		if en.ID == 0 || en.Next.IsZero() {
			continue
		}
		if next.IsZero() || en.Next.Before(next) {
			next = en.Next
		}
	}
	return next
}

// ScheduleResume installs exactly one one-shot event at the given time,
// replacing any pending one. A timer that already fired but lost the race
// with a replacement is ignored via the version counter.
func (e *Engine) ScheduleResume(at time.Time, fn func()) {
	e.tmu.Lock()
	defer e.tmu.Unlock()
	if e.resumeTimer != nil {
		_ = e.resumeTimer.Stop()
		e.resumeTimer = nil
	}
	e.resumeVer++
	ver := e.resumeVer

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	e.resumeTimer = time.AfterFunc(delay, func() {
		e.tmu.Lock()
		stale := ver != e.resumeVer
		if !stale {
			e.resumeTimer = nil
		}
		e.tmu.Unlock()
		if stale {
			return
		}
		fn()
	})
	e.log.Info("resume scheduled", logx.Time("at", at))
}

// CancelResume drops a pending one-shot resume, if any.
func (e *Engine) CancelResume() {
	e.tmu.Lock()
	defer e.tmu.Unlock()
	if e.resumeTimer != nil {
		_ = e.resumeTimer.Stop()
		e.resumeTimer = nil
	}
	e.resumeVer++
}

// Stop halts the cron runner and any pending resume. In-flight jobs are
// not interrupted.
func (e *Engine) Stop() {
	e.CancelResume()
	e.mu.Lock()
	c := e.c
	e.mu.Unlock()
	<-c.Stop().Done()
}

// ParseHHMM validates a 24h "HH:MM" string.
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// NextFixedTime returns the numerically smallest "HH:MM" string from the
// set, the value shown as "next fire" in fixed-times mode. This matches
// the historical display behavior and can disagree with the true next
// occurrence relative to the current time of day.
func NextFixedTime(times []string) string {
	valid := make([]string, 0, len(times))
	for _, t := range times {
		if _, _, err := ParseHHMM(t); err == nil {
			valid = append(valid, strings.TrimSpace(t))
		}
	}
	if len(valid) == 0 {
		return ""
	}
	sort.Strings(valid)
	return valid[0]
}
