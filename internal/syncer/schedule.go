package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// RunScheduled runs a pass immediately and then on every interval tick
// until ctx is cancelled. A tick firing while a run is still in progress
// is skipped outright, never queued: at most one pass is active at any
// time.
func (o *Orchestrator) RunScheduled(ctx context.Context, interval time.Duration) error {
	var (
		running atomic.Bool
		wg      sync.WaitGroup
	)
	launch := func() {
		if !running.CompareAndSwap(false, true) {
			o.Logger.Warn("previous run still active, skipping this tick")
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer running.Store(false)
			if err := o.RunOnce(ctx); err != nil {
				o.Logger.Error("sync run failed", "err", err)
			}
		}()
	}

	launch()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			launch()
		}
	}
}
