// Package poster is the posting scheduler core: it decides when to post,
// which message to post, tracks rotation progress across restarts, cycles
// between activity and rest periods, and records every delivery outcome.
//
// # One firing, one cycle
//
// The trigger engine fires, the cycle orchestrator consults the
// activity/rest state machine, selects a message from the pool, persists
// the advanced scheduler state, fans the message out to every enabled
// destination, and appends one delivery log entry per destination as
// results come in. Cycles never overlap; dashboard-driven state writes and
// cycle writes are serialized by the service mutex.
//
// # Activity and rest
//
// To mimic human posting cadence the scheduler alternates between activity
// windows and rest pauses. When an activity window is exhausted the cycle
// transitions to rest: regular triggering is suspended and a single
// one-shot resume event is scheduled. On resume the next window and pause
// are drawn uniformly from 30-60 and 10-15 minutes respectively.
//
// Nothing in this package is fatal to the process: empty pools, disabled
// destinations, rate-limited sends and persistence failures all degrade to
// a logged, visible outcome.
package poster
