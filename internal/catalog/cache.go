package catalog

import (
	"context"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedReader keeps recently resolved services in an LRU. Services are
// reference data, so a stale price is acceptable until eviction or Invalidate.
type CachedReader struct {
	next  Reader
	cache *lru.Cache[uuid.UUID, Service]
}

func NewCachedReader(next Reader, size int) (*CachedReader, error) {
	cache, err := lru.New[uuid.UUID, Service](size)
	if err != nil {
		return nil, err
	}
	return &CachedReader{next: next, cache: cache}, nil
}

func (c *CachedReader) GetServices(ctx context.Context, ids []uuid.UUID) ([]Service, error) {
	byID := make(map[uuid.UUID]Service, len(ids))
	var missing []uuid.UUID
	for _, id := range ids {
		if s, ok := c.cache.Get(id); ok {
			byID[id] = s
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		loaded, err := c.next.GetServices(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, s := range loaded {
			c.cache.Add(s.ID, s)
			byID[s.ID] = s
		}
	}

	return ordered(ids, byID)
}

// Invalidate drops one service, or everything when id is uuid.Nil.
func (c *CachedReader) Invalidate(id uuid.UUID) {
	if id == uuid.Nil {
		c.cache.Purge()
		return
	}
	c.cache.Remove(id)
}
