// Package identity resolves kill participants to names, tickers and standings.
package identity

import (
	"context"
	"sync"
	"time"

	"github.com/V4T54L/killwatch/internal/adapter/metrics"
	"github.com/V4T54L/killwatch/internal/domain"
)

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// ttlCache is a map guarded by an RWMutex whose entries expire after a fixed TTL.
type ttlCache[V any] struct {
	mu      sync.RWMutex
	entries map[int64]cacheEntry[V]
}

func newTTLCache[V any]() *ttlCache[V] {
	return &ttlCache[V]{entries: make(map[int64]cacheEntry[V])}
}

func (c *ttlCache[V]) get(id int64, now time.Time) (V, bool) {
	c.mu.RLock()
	entry, found := c.entries[id]
	c.mu.RUnlock()
	if found && now.Before(entry.expiresAt) {
		return entry.value, true
	}
	var zero V
	return zero, false
}

func (c *ttlCache[V]) put(id int64, value V, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have stored a fresher entry while we were fetching.
	if entry, found := c.entries[id]; found && entry.expiresAt.After(expiresAt) {
		return
	}
	c.entries[id] = cacheEntry[V]{value: value, expiresAt: expiresAt}
}

func (c *ttlCache[V]) purge(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// CachedResolver decorates an IdentityResolver with a per-kind TTL cache.
// Only successful lookups are cached; a failed lookup is retried on the next call.
type CachedResolver struct {
	next       domain.IdentityResolver
	ttl        time.Duration
	now        func() time.Time
	metrics    *metrics.PipelineMetrics
	characters *ttlCache[domain.CharacterIdentity]
	corps      *ttlCache[domain.EntityIdentity]
	alliances  *ttlCache[domain.EntityIdentity]
	ships      *ttlCache[string]
}

// NewCachedResolver wraps next. m may be nil.
func NewCachedResolver(next domain.IdentityResolver, ttl time.Duration, m *metrics.PipelineMetrics) *CachedResolver {
	return &CachedResolver{
		next:       next,
		ttl:        ttl,
		now:        time.Now,
		metrics:    m,
		characters: newTTLCache[domain.CharacterIdentity](),
		corps:      newTTLCache[domain.EntityIdentity](),
		alliances:  newTTLCache[domain.EntityIdentity](),
		ships:      newTTLCache[string](),
	}
}

func (r *CachedResolver) GetCharacterIdentity(ctx context.Context, characterID int64) (domain.CharacterIdentity, bool) {
	return cached(r, r.characters, characterID, func() (domain.CharacterIdentity, bool) {
		return r.next.GetCharacterIdentity(ctx, characterID)
	})
}

func (r *CachedResolver) GetCorporationIdentity(ctx context.Context, corporationID int64) (domain.EntityIdentity, bool) {
	return cached(r, r.corps, corporationID, func() (domain.EntityIdentity, bool) {
		return r.next.GetCorporationIdentity(ctx, corporationID)
	})
}

func (r *CachedResolver) GetAllianceIdentity(ctx context.Context, allianceID int64) (domain.EntityIdentity, bool) {
	return cached(r, r.alliances, allianceID, func() (domain.EntityIdentity, bool) {
		return r.next.GetAllianceIdentity(ctx, allianceID)
	})
}

func (r *CachedResolver) GetShipDisplayName(ctx context.Context, typeID int64) (string, bool) {
	return cached(r, r.ships, typeID, func() (string, bool) {
		return r.next.GetShipDisplayName(ctx, typeID)
	})
}

// GetStanding is not cached; standings are computed locally.
func (r *CachedResolver) GetStanding(ctx context.Context, allianceID, corporationID, characterID *int64) domain.Standing {
	return r.next.GetStanding(ctx, allianceID, corporationID, characterID)
}

// Purge drops expired entries and returns how many were removed.
func (r *CachedResolver) Purge() int {
	now := r.now()
	return r.characters.purge(now) + r.corps.purge(now) + r.alliances.purge(now) + r.ships.purge(now)
}

// StartJanitor purges expired entries every interval until ctx is cancelled.
func (r *CachedResolver) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Purge()
		}
	}
}

func cached[V any](r *CachedResolver, c *ttlCache[V], id int64, fetch func() (V, bool)) (V, bool) {
	if v, ok := c.get(id, r.now()); ok {
		if r.metrics != nil {
			r.metrics.IdentityCacheHits.Inc()
		}
		return v, true
	}
	if r.metrics != nil {
		r.metrics.IdentityCacheMisses.Inc()
	}

	v, ok := fetch()
	if !ok {
		return v, false
	}
	c.put(id, v, r.now().Add(r.ttl))
	return v, true
}
