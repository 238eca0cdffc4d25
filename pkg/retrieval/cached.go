package retrieval

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// CachedRetriever memoizes successful searches for a short TTL, keyed by
// query, source filter and result count. Errors are never cached.
type CachedRetriever struct {
	next  Retriever
	cache *ttlcache.Cache[string, []Chunk]
	ttl   time.Duration
}

var _ Retriever = (*CachedRetriever)(nil)

func NewCachedRetriever(next Retriever, ttl time.Duration, capacity uint64) *CachedRetriever {
	opts := []ttlcache.Option[string, []Chunk]{ttlcache.WithTTL[string, []Chunk](ttl)}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []Chunk](capacity))
	}
	return &CachedRetriever{
		next:  next,
		cache: ttlcache.New(opts...),
		ttl:   ttl,
	}
}

// Start runs the expiry loop until Stop is called
func (c *CachedRetriever) Start() {
	go c.cache.Start()
}

func (c *CachedRetriever) Stop() {
	c.cache.Stop()
}

func (c *CachedRetriever) MaxResults() int {
	return c.next.MaxResults()
}

func (c *CachedRetriever) Search(ctx context.Context, req Request) ([]Chunk, error) {
	key := cacheKey(req)
	if item := c.cache.Get(key); item != nil {
		return append([]Chunk(nil), item.Value()...), nil
	}

	chunks, err := c.next.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append([]Chunk(nil), chunks...), c.ttl)
	return chunks, nil
}

func cacheKey(req Request) string {
	sources := make([]string, len(req.Sources))
	for i, s := range req.Sources {
		sources[i] = strings.ToLower(strings.TrimSpace(s))
	}
	sort.Strings(sources)
	return strings.ToLower(strings.TrimSpace(req.Query)) + "\x00" +
		strings.Join(sources, ",") + "\x00" + strconv.Itoa(req.MaxResults)
}
