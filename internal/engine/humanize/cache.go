package humanize

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/harborwave/humanizer/internal/domain"
)

const defaultCacheCapacity = 100

// parseCache is TemplateProcessor's LRU of parsed templates, keyed by the
// verbatim raw string. It caches Template values only — never selections —
// and serializes concurrent parses of the same key through a singleflight
// group so a cache miss storm for one popular template only parses once.
type parseCache struct {
	lru    *lru.Cache[string, domain.Template]
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

func newParseCache(capacity int) *parseCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	c, err := lru.New[string, domain.Template](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		panic(err)
	}
	return &parseCache{lru: c}
}

// parse returns the cached Template for raw, parsing and storing it on a
// miss.
func (c *parseCache) parse(raw string) domain.Template {
	if tmpl, ok := c.lru.Get(raw); ok {
		c.hits.Add(1)
		return tmpl
	}

	v, _, _ := c.group.Do(raw, func() (any, error) {
		tmpl := Parse(raw)
		c.lru.Add(raw, tmpl)
		return tmpl, nil
	})
	c.misses.Add(1)
	return v.(domain.Template)
}

// Stats reports the cache's cumulative hit/miss counts.
func (c *parseCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
