package monitor

import (
	"context"
	"time"

	"github.com/rdpwake/rdpwake/internal/logger"
)

// DefaultObserveInterval is the cadence of periodic re-checks while a host
// is under observation.
const DefaultObserveInterval = 5 * time.Second

// Observation is one running periodic re-check loop. Stop it when the
// target is no longer of interest; results delivered after Stop are
// discarded by the loop, never by racing the callback.
type Observation struct {
	stop chan struct{}
	done chan struct{}
}

// Observe re-runs the full session check against host:port on a fixed
// interval and delivers each result to fn from a single goroutine.
//
// Checks are single-flight per observation: the loop runs them
// synchronously, so a check that overruns the interval simply absorbs the
// ticks that fired meanwhile - overlapping checks for the same target
// cannot happen. Checks for different hosts under separate observations
// run concurrently against the shared per-host caches, which are built for
// that.
//
// An immediate first check fires before the ticker starts so callers get a
// result right away.
func (m *Monitor) Observe(host string, port int, interval time.Duration, cached *OsClassification, fn func(*SessionCheckResult)) *Observation {
	if interval <= 0 {
		interval = DefaultObserveInterval
	}

	o := &Observation{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(o.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Only the first check seeds from long-term storage; later
		// rounds hit the in-memory OS cache.
		seed := cached
		for {
			result := m.CheckSessions(context.Background(), host, port, seed)
			seed = nil

			select {
			case <-o.stop:
				return
			default:
			}
			fn(result)

			select {
			case <-ticker.C:
			case <-o.stop:
				return
			}
		}
	}()

	logger.Debug("observation started", logger.KeyHost, host, "interval", interval)
	return o
}

// Stop ends the observation and waits for any in-flight check to finish,
// so the callback is never invoked after Stop returns.
func (o *Observation) Stop() {
	close(o.stop)
	<-o.done
}
