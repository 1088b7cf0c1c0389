package memory

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/scrypster/recall/pkg/types"
)

// searchCache memoizes search results for a short TTL so repeated identical
// queries (common when a UI re-renders) skip the embed plus vector search
// round trip. Entries are invalidated wholesale on any write.
type searchCache struct {
	lru *expirable.LRU[string, []types.SearchResult]
}

// newSearchCache returns a cache with the given TTL. A zero or negative TTL
// disables caching entirely; all methods are safe on a disabled cache.
func newSearchCache(ttl time.Duration) *searchCache {
	if ttl <= 0 {
		return &searchCache{}
	}
	return &searchCache{
		lru: expirable.NewLRU[string, []types.SearchResult](256, nil, ttl),
	}
}

// cacheKey builds a key covering every input that affects results.
func cacheKey(collection, userID, sessionID, query string, limit int) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", collection, userID, sessionID, query, limit)
}

func (c *searchCache) get(key string) ([]types.SearchResult, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

func (c *searchCache) put(key string, results []types.SearchResult) {
	if c.lru == nil {
		return
	}
	c.lru.Add(key, results)
}

// purge drops everything. Called on any write since a single new or changed
// record can alter arbitrary query results.
func (c *searchCache) purge() {
	if c.lru == nil {
		return
	}
	c.lru.Purge()
}
