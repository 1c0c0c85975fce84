package resolver

import "sync"

// NegativeCache memoizes references whose resolution failed permanently.
// Membership lasts for the process lifetime; there is no TTL. A marked
// reference is never retried until an operator explicitly resets the cache —
// the deliberate trade described in the service docs: occasionally writing
// off a reference that was only transiently broken, in exchange for never
// hammering a failing upstream with repeat work.
type NegativeCache struct {
	mu     sync.RWMutex
	failed map[string]struct{}
}

func NewNegativeCache() *NegativeCache {
	return &NegativeCache{failed: make(map[string]struct{})}
}

// MarkFailed records a permanently failed reference.
func (c *NegativeCache) MarkFailed(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[ref] = struct{}{}
}

// Failed reports whether ref is marked as permanently failed.
func (c *NegativeCache) Failed(ref string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.failed[ref]
	return ok
}

// Reset clears the cache and returns how many entries were dropped. Operator
// recovery action, surfaced on the admin endpoint.
func (c *NegativeCache) Reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.failed)
	c.failed = make(map[string]struct{})
	return n
}

// Len returns the number of marked references.
func (c *NegativeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.failed)
}
