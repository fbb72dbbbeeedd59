package monitor

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rdpwake/rdpwake/internal/logger"
	"github.com/rdpwake/rdpwake/pkg/metrics"
	"github.com/rdpwake/rdpwake/pkg/monitor/ts"
)

// poolEntry is one cached session-service connection.
type poolEntry struct {
	handle   ts.Handle
	lastUsed time.Time
}

// fqdnEntry caches one host-name resolution.
type fqdnEntry struct {
	fqdn    string
	expires time.Time
}

// handlePool caches open per-host session-service connections, amortizing
// the cost of repeated enumerations. A background sweep closes remote
// handles idle longer than the configured threshold. Local-host lookups
// return the ts.LocalServer sentinel and are never pooled.
type handlePool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry
	fqdns   map[string]fqdnEntry

	client  ts.Client
	mm      metrics.MonitorMetrics
	now     func() time.Time
	resolve ResolveFunc

	openTimeout time.Duration
	idleAfter   time.Duration

	localNames map[string]struct{}
}

// ResolveFunc normalizes a host identifier to its fully-qualified name.
// Failures fall back to the original identifier.
type ResolveFunc func(ctx context.Context, host string) (string, error)

// defaultResolver resolves via the system resolver's CNAME chase.
func defaultResolver(ctx context.Context, host string) (string, error) {
	cname, err := net.DefaultResolver.LookupCNAME(ctx, host)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(cname, "."), nil
}

func newHandlePool(client ts.Client, mm metrics.MonitorMetrics, now func() time.Time, resolve ResolveFunc, openTimeout, idleAfter time.Duration) *handlePool {
	p := &handlePool{
		entries:     make(map[string]*poolEntry),
		fqdns:       make(map[string]fqdnEntry),
		client:      client,
		mm:          mm,
		now:         now,
		resolve:     resolve,
		openTimeout: openTimeout,
		idleAfter:   idleAfter,
		localNames:  localHostNames(),
	}
	return p
}

// localHostNames collects the identifiers that refer to this machine.
func localHostNames() map[string]struct{} {
	names := map[string]struct{}{
		"":          {},
		"localhost": {},
		"127.0.0.1": {},
		"::1":       {},
	}
	if hn, err := os.Hostname(); err == nil && hn != "" {
		names[strings.ToLower(hn)] = struct{}{}
	}
	return names
}

// isLocal reports whether host refers to the local machine.
func (p *handlePool) isLocal(host string) bool {
	_, ok := p.localNames[strings.ToLower(host)]
	return ok
}

// get returns an open handle for host, reusing a validated pooled one when
// possible. The second return is false when no connection could be
// established; callers must treat that as zero sessions found, not as an
// error (the failure has already been recorded in the host's flags by the
// caller).
func (p *handlePool) get(ctx context.Context, host string, flags *hostFlags) (ts.Handle, bool) {
	if p.isLocal(host) {
		return ts.LocalServer, true
	}

	p.mu.Lock()
	entry, cached := p.entries[host]
	p.mu.Unlock()

	if cached {
		// Validate with a trivial legacy enumeration; the returned
		// records are discarded immediately.
		if _, err := p.client.Enumerate(entry.handle); err == nil {
			p.mu.Lock()
			entry.lastUsed = p.now()
			p.mu.Unlock()
			metrics.ObserveHandleHit(p.mm)
			return entry.handle, true
		}
		logger.Debug("pooled handle failed validation, reopening", logger.KeyHost, host)
		p.evict(host, "invalid")
	}

	openCtx, cancel := context.WithTimeout(ctx, p.openTimeout)
	defer cancel()

	handle, err := p.client.Open(openCtx, p.qualify(openCtx, host))
	if err != nil {
		logger.Debug("session service connection failed",
			logger.KeyHost, host, logger.KeyError, err)
		flags.recordFailure(p.now())
		return ts.LocalServer, false
	}

	metrics.ObserveHandleMiss(p.mm)
	p.mu.Lock()
	p.entries[host] = &poolEntry{handle: handle, lastUsed: p.now()}
	p.mu.Unlock()
	return handle, true
}

// qualify returns the host's fully-qualified name, cached for an hour,
// falling back to the identifier itself when resolution fails.
func (p *handlePool) qualify(ctx context.Context, host string) string {
	now := p.now()

	p.mu.Lock()
	if e, ok := p.fqdns[host]; ok && now.Before(e.expires) {
		p.mu.Unlock()
		return e.fqdn
	}
	p.mu.Unlock()

	fqdn, err := p.resolve(ctx, host)
	if err != nil || fqdn == "" {
		fqdn = host
	}

	p.mu.Lock()
	p.fqdns[host] = fqdnEntry{fqdn: fqdn, expires: now.Add(fqdnCacheTTL)}
	p.mu.Unlock()
	return fqdn
}

// fqdnCacheTTL is how long a resolved name stays valid.
const fqdnCacheTTL = time.Hour

// evict closes and removes the handle for host, if any. Only the sweep,
// the validate-or-evict path in get, and the enumerator's
// connectivity-failure handling call this.
func (p *handlePool) evict(host, reason string) {
	p.mu.Lock()
	entry, ok := p.entries[host]
	delete(p.entries, host)
	p.mu.Unlock()

	if ok {
		p.client.Close(entry.handle)
		metrics.ObserveHandleEviction(p.mm, reason)
	}
}

// sweep closes every remote handle idle longer than the threshold.
// Called on a fixed cadence by the monitor's background loop.
func (p *handlePool) sweep() {
	cutoff := p.now().Add(-p.idleAfter)

	p.mu.Lock()
	var stale []string
	for host, entry := range p.entries {
		if entry.lastUsed.Before(cutoff) {
			stale = append(stale, host)
		}
	}
	p.mu.Unlock()

	for _, host := range stale {
		logger.Debug("closing idle session-service handle", logger.KeyHost, host)
		p.evict(host, "idle")
	}
}

// closeAll releases every pooled handle. Called on monitor shutdown.
func (p *handlePool) closeAll() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	for _, entry := range entries {
		p.client.Close(entry.handle)
	}
}
