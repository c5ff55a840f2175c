package dispatch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"autopost/internal/storage"
	"autopost/pkg/logx"
)

// Config controls fan-out of one message to many destinations.
type Config struct {
	Workers    int // bounded parallelism, default 4
	RatePerSec int // shared send rate, default 1
}

// Result is one destination's outcome.
type Result struct {
	Dest storage.Destination
	Err  error
}

// Fanout delivers one message to a set of destinations on a bounded worker
// pool. Outcomes are reported through a callback as they complete, so
// partial progress is recorded even if a later destination blocks; all
// workers are joined before Send returns.
type Fanout struct {
	mu sync.Mutex

	client  Client
	log     logx.Logger
	workers int
	limiter *rate.Limiter
}

func NewFanout(client Client, cfg Config, log logx.Logger) *Fanout {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Fanout{
		client:  client,
		log:     log,
		workers: workers,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Apply updates tuning at runtime (config hot reload).
func (f *Fanout) Apply(cfg Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg.Workers > 0 {
		f.workers = cfg.Workers
	}
	if cfg.RatePerSec > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
}

// Send fans msg out to dests. One destination's failure never blocks the
// rest; onResult is invoked exactly once per destination, serialized.
func (f *Fanout) Send(ctx context.Context, dests []storage.Destination, msg storage.Message, onResult func(Result)) {
	if len(dests) == 0 {
		return
	}

	f.mu.Lock()
	client := f.client
	workers := f.workers
	limiter := f.limiter
	f.mu.Unlock()

	if workers > len(dests) {
		workers = len(dests)
	}

	queue := make(chan storage.Destination)
	var cbMu sync.Mutex
	report := func(r Result) {
		if onResult == nil {
			return
		}
		cbMu.Lock()
		defer cbMu.Unlock()
		onResult(r)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for d := range queue {
				if err := limiter.Wait(ctx); err != nil {
					report(Result{Dest: d, Err: err})
					continue
				}
				err := client.Send(ctx, d, msg)
				if err != nil {
					f.log.Warn("dispatch failed",
						logx.Int64("dest_id", d.ID),
						logx.String("dest", d.Name),
						logx.Err(err))
				} else {
					f.log.Debug("dispatch ok",
						logx.Int64("dest_id", d.ID),
						logx.String("dest", d.Name))
				}
				report(Result{Dest: d, Err: err})
			}
		}()
	}

	for _, d := range dests {
		queue <- d
	}
	close(queue)
	wg.Wait()
}
