package serving

import (
	"sync"
	"time"

	"github.com/dyluth/effectd/pkg/knowledge"
	"github.com/dyluth/effectd/pkg/model"
)

// HandleCache keeps the decoded handle of the most recently resolved record
// per key. A hit requires the resolved record to be the cached one, so a
// newer record is always decoded and then replaces the entry. Requests
// already holding the old handle keep using it.
type HandleCache struct {
	mu      sync.RWMutex
	handles map[knowledge.Key]cacheEntry
}

type cacheEntry struct {
	handle     *model.Handle
	resolvedAt time.Time
}

func NewHandleCache() *HandleCache {
	return &HandleCache{handles: make(map[knowledge.Key]cacheEntry)}
}

// Get returns the cached handle if it was decoded from rec.
func (c *HandleCache) Get(rec *knowledge.EffectRecord) (*model.Handle, bool) {
	c.mu.RLock()
	e, ok := c.handles[rec.Key()]
	c.mu.RUnlock()

	h := e.handle
	if !ok || h.RecordID() != rec.ID || !h.Timestamp().Equal(rec.Timestamp) {
		return nil, false
	}
	return h, true
}

// Put stores h, resolved at resolvedAt, as the current handle for its key.
// A handle for an older record does not replace one for a newer record
// unless it was resolved later, which happens when the newer record has
// aged out of the lookback window.
func (c *HandleCache) Put(h *model.Handle, resolvedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.handles[h.Key()]; ok &&
		h.Timestamp().Before(cur.handle.Timestamp()) &&
		!resolvedAt.After(cur.resolvedAt) {
		return
	}
	c.handles[h.Key()] = cacheEntry{handle: h, resolvedAt: resolvedAt}
}

// Forget drops the entry for key.
func (c *HandleCache) Forget(key knowledge.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, key)
}

// Len returns the number of cached handles.
func (c *HandleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}
