package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rdpwake/rdpwake/internal/logger"
	"github.com/rdpwake/rdpwake/pkg/metrics"
	"github.com/rdpwake/rdpwake/pkg/monitor/ts"
)

// enumerate queries the host's occupied sessions.
//
// The flow is adaptive: hosts confidently classified as single-session are
// skipped outright, hosts inside their negative-cache window are answered
// without touching the network, and the extended/legacy API choice is
// memoized per host after the first attempt. RPC-class failures feed the
// backoff schedule and force the pooled handle closed so the next attempt
// reconnects; they surface to callers as zero sessions, never as an error.
// Only faults outside the known taxonomy propagate, to be caught at the
// orchestrator boundary.
func (m *Monitor) enumerate(ctx context.Context, host string, cls OsClassification, flags *hostFlags) ([]SessionRecord, error) {
	// A confirmed workstation without multi-session, or a confirmed
	// single-session server, cannot host a hidden second user; skip the
	// network round-trip entirely.
	if cls.Confident() {
		metrics.ObserveEnumeration(m.mm, "skipped", "ok", 0)
		return nil, nil
	}

	if flags.suppressed(m.now()) {
		logger.Debug("enumeration suppressed by negative cache", logger.KeyHost, host)
		metrics.ObserveEnumeration(m.mm, "suppressed", "ok", 0)
		metrics.ObserveSuppression(m.mm)
		return nil, nil
	}

	handle, ok := m.handles.get(ctx, host, flags)
	if !ok {
		// Connection-open failure: already recorded in the host's
		// flags by the pool. Zero sessions, not an error.
		return nil, nil
	}

	known, supported := flags.extendedSupport()
	if !known || supported {
		records, err := m.enumerateExtended(handle)
		switch {
		case err == nil:
			flags.setExtendedSupport(true)
			flags.recordSuccess()
			metrics.ObserveEnumeration(m.mm, "extended", "ok", len(records))
			return records, nil
		case ts.IsTransient(err):
			metrics.ObserveEnumeration(m.mm, "extended", "error", 0)
			m.enumerationFailed(host, flags, err)
			return nil, nil
		case !known:
			// First attempt ever for this host: downgrade to the
			// legacy path for the rest of the process lifetime.
			logger.Debug("extended enumeration unsupported, using legacy path",
				logger.KeyHost, host, logger.KeyError, err)
			flags.setExtendedSupport(false)
		default:
			metrics.ObserveEnumeration(m.mm, "extended", "error", 0)
			return nil, fmt.Errorf("extended enumeration on %s: %w", host, err)
		}
	}

	records, err := m.enumerateLegacy(handle)
	switch {
	case err == nil:
		// Zero results is a valid outcome and counts as success.
		flags.recordSuccess()
		metrics.ObserveEnumeration(m.mm, "legacy", "ok", len(records))
		return records, nil
	case ts.IsTransient(err):
		metrics.ObserveEnumeration(m.mm, "legacy", "error", 0)
		m.enumerationFailed(host, flags, err)
		return nil, nil
	default:
		metrics.ObserveEnumeration(m.mm, "legacy", "error", 0)
		return nil, fmt.Errorf("legacy enumeration on %s: %w", host, err)
	}
}

// enumerationFailed applies the shared bookkeeping for RPC-class failures:
// bump the backoff counter and purge the handle so the next attempt opens
// a fresh connection.
func (m *Monitor) enumerationFailed(host string, flags *hostFlags, err error) {
	logger.Debug("session enumeration failed",
		logger.KeyHost, host, logger.KeyError, err)
	flags.recordFailure(m.now())
	m.handles.evict(host, "failure")
}

// enumerateExtended runs the bulk enumeration under the enumeration
// deadline and normalizes the records.
func (m *Monitor) enumerateExtended(handle ts.Handle) ([]SessionRecord, error) {
	raw, err := m.bounded(func() ([]ts.Session, error) {
		return m.client.EnumerateEx(handle)
	})
	if err != nil {
		return nil, err
	}
	return normalize(raw), nil
}

// enumerateLegacy runs the basic session list and fills user and domain
// with one query per session, all under the enumeration deadline.
func (m *Monitor) enumerateLegacy(handle ts.Handle) ([]SessionRecord, error) {
	raw, err := m.bounded(func() ([]ts.Session, error) {
		list, err := m.client.Enumerate(handle)
		if err != nil {
			return nil, err
		}
		for i := range list {
			user, err := m.client.QueryString(handle, list[i].ID, ts.FieldUserName)
			if err != nil {
				// A slot that cannot be queried is treated as
				// unoccupied; the filter below drops it.
				continue
			}
			list[i].User = user
			if domain, err := m.client.QueryString(handle, list[i].ID, ts.FieldDomainName); err == nil {
				list[i].Domain = domain
			}
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return normalize(raw), nil
}

// bounded runs fn with the enumeration deadline applied. The native API
// calls have no timeout parameter of their own, so an overrunning call is
// abandoned and reported as a transient failure.
func (m *Monitor) bounded(fn func() ([]ts.Session, error)) ([]ts.Session, error) {
	if m.opts.EnumTimeout <= 0 {
		return fn()
	}

	type outcome struct {
		sessions []ts.Session
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := fn()
		done <- outcome{sessions: s, err: err}
	}()

	timer := time.NewTimer(m.opts.EnumTimeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.sessions, out.err
	case <-timer.C:
		return nil, ts.Transient(fmt.Errorf("enumeration exceeded %s", m.opts.EnumTimeout))
	}
}

// normalize converts raw ts records into SessionRecords, dropping slots
// with no logged-on user (listeners, idle slots, services).
func normalize(raw []ts.Session) []SessionRecord {
	records := make([]SessionRecord, 0, len(raw))
	for _, s := range raw {
		if s.User == "" {
			continue
		}
		records = append(records, SessionRecord{
			ID:       s.ID,
			UserName: s.User,
			Domain:   s.Domain,
			Label:    s.Label,
			State:    s.State,
		})
	}
	return records
}
