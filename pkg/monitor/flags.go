package monitor

import (
	"sync"
	"time"
)

// Backoff schedule for consecutive failures against one host. The three
// steps are a deliberate, deterministic policy: 5s after the first
// failure, 10s after the second, 20s from the third on.
const (
	backoffFirst  = 5 * time.Second
	backoffSecond = 10 * time.Second
	backoffMax    = 20 * time.Second
)

// backoffDelay returns how long enumeration stays suppressed after the
// n-th consecutive failure.
func backoffDelay(n int) time.Duration {
	switch {
	case n <= 1:
		return backoffFirst
	case n == 2:
		return backoffSecond
	default:
		return backoffMax
	}
}

// hostFlags is the per-host adaptive control state. Entries are created
// lazily on first contact and live for the process's lifetime; there is no
// eviction (documented limitation, host cardinality is low in practice).
type hostFlags struct {
	mu sync.Mutex

	// supportsExtended is nil until the first extended-enumeration
	// attempt settles it. Once set it is never re-probed within the
	// process lifetime.
	supportsExtended *bool

	// negativeUntil suppresses enumeration attempts until this instant.
	negativeUntil time.Time

	// failures counts consecutive probe/enumeration failures. Reset to
	// zero the moment anything succeeds.
	failures int
}

// flagStore hands out per-host flags with atomic get-or-create semantics.
// A concurrent map keyed by host identifier keeps checks for different
// hosts from contending on a global lock.
type flagStore struct {
	flags sync.Map // host -> *hostFlags
}

// getOrCreate returns the flags for host, inserting a fresh entry on first
// contact.
func (s *flagStore) getOrCreate(host string) *hostFlags {
	if f, ok := s.flags.Load(host); ok {
		return f.(*hostFlags)
	}
	f, _ := s.flags.LoadOrStore(host, &hostFlags{})
	return f.(*hostFlags)
}

// suppressed reports whether the negative cache currently blocks
// enumeration for this host.
func (f *hostFlags) suppressed(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return now.Before(f.negativeUntil)
}

// recordFailure bumps the consecutive-failure counter and derives the new
// negative-cache deadline from it.
func (f *hostFlags) recordFailure(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
	f.negativeUntil = now.Add(backoffDelay(f.failures))
}

// recordSuccess clears the failure counter and the negative cache.
// Reachability alone counts as success: it proves liveness even if a later
// enumeration fails for an unrelated reason.
func (f *hostFlags) recordSuccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = 0
	f.negativeUntil = time.Time{}
}

// extendedSupport returns the memoized capability decision: (known, value).
func (f *hostFlags) extendedSupport() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.supportsExtended == nil {
		return false, false
	}
	return true, *f.supportsExtended
}

// setExtendedSupport memoizes the capability decision. The first settled
// value wins; later calls for the same host are ignored so a host
// downgraded to the legacy path stays there for the process lifetime.
func (f *hostFlags) setExtendedSupport(supported bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.supportsExtended != nil {
		return
	}
	v := supported
	f.supportsExtended = &v
}
