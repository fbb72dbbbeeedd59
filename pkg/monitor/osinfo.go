package monitor

import (
	"sync"
	"time"
)

// osEntry is one in-memory classification cache record.
type osEntry struct {
	cls OsClassification
	at  time.Time
}

// osCache holds per-host OS classifications with a short TTL. The cache
// never classifies hosts itself - probing the OS over the wire proved too
// slow, so entries are either seeded from long-term storage by the caller
// or defaulted permissively.
type osCache struct {
	mu      sync.Mutex
	entries map[string]osEntry
	ttl     time.Duration
	now     func() time.Time
}

func newOsCache(ttl time.Duration, now func() time.Time) *osCache {
	return &osCache{
		entries: make(map[string]osEntry),
		ttl:     ttl,
		now:     now,
	}
}

// resolve returns the classification to use for host.
//
// Priority: a caller-supplied classification (already age-gated to <=30
// days by the history layer) wins and refreshes the in-memory entry; an
// unexpired in-memory entry comes second; otherwise the permissive Unknown
// default is returned so a never-seen host always gets enumerated.
func (c *osCache) resolve(host string, supplied *OsClassification) OsClassification {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if supplied != nil {
		c.entries[host] = osEntry{cls: *supplied, at: now}
		return *supplied
	}

	if e, ok := c.entries[host]; ok && now.Sub(e.at) < c.ttl {
		return e.cls
	}

	return defaultClassification()
}

// store refreshes the in-memory entry for host, typically after a check
// produced a classification worth keeping.
func (c *osCache) store(host string, cls OsClassification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[host] = osEntry{cls: cls, at: c.now()}
}
