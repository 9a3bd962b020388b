package explorer

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// responseCache is the per-URL/params response cache for list endpoints.
// Detail lookups bypass it entirely. Bounded at roughly 100 entries by
// sweeping the oldest-inserted entry whenever that bound is exceeded,
// matching the reference engine's insertion-order LRU behavior; go-cache
// itself handles the TTL expiry. One mutex guards the insertion-order
// bookkeeping, per the engine's group-by-invariant locking discipline.
type responseCache struct {
	mu       sync.Mutex
	c        *gocache.Cache
	ttl      time.Duration
	order    []string
	maxItems int
}

func newResponseCache(ttl time.Duration) *responseCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &responseCache{
		c:        gocache.New(ttl, ttl*2),
		ttl:      ttl,
		maxItems: 100,
	}
}

func (rc *responseCache) get(key string) (map[string]any, bool) {
	v, ok := rc.c.Get(key)
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

func (rc *responseCache) set(key string, value map[string]any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if _, exists := rc.c.Get(key); !exists {
		rc.order = append(rc.order, key)
		if len(rc.order) > rc.maxItems {
			oldest := rc.order[0]
			rc.order = rc.order[1:]
			rc.c.Delete(oldest)
		}
	}
	rc.c.Set(key, value, rc.ttl)
}
