package server

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"mcscout/internal/query"
	"mcscout/internal/shared"
)

// ListCache memoizes list query results keyed by resolved options. Any
// mutation of either table must call Flush. A nil *ListCache is a valid
// disabled cache.
//
// Every Flush starts a new generation. Get reports the generation it saw and
// Set drops results read under an older one, so a read that raced a write
// never refills the cache with pre-write rows.
type ListCache struct {
	c   *cache.Cache
	mu  sync.Mutex
	gen uint64
}

// NewListCache returns a cache whose entries expire after ttl. A ttl <= 0
// disables caching.
func NewListCache(ttl time.Duration) *ListCache {
	if ttl <= 0 {
		return nil
	}
	return &ListCache{c: cache.New(ttl, 2*ttl)}
}

// Get returns the cached views for opts and the current generation. Pass the
// generation to Set when filling a miss.
func (l *ListCache) Get(opts query.Options) ([]shared.ServerView, uint64, bool) {
	if l == nil {
		return nil, 0, false
	}
	l.mu.Lock()
	gen := l.gen
	l.mu.Unlock()

	v, ok := l.c.Get(opts.Key())
	if !ok {
		return nil, gen, false
	}
	views, ok := v.([]shared.ServerView)
	return views, gen, ok
}

// Set stores views read during generation gen. It is a no-op once a Flush
// has happened since.
func (l *ListCache) Set(gen uint64, opts query.Options, views []shared.ServerView) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return false
	}
	l.c.SetDefault(opts.Key(), views)
	return true
}

func (l *ListCache) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.gen++
	l.c.Flush()
	l.mu.Unlock()
}

func (l *ListCache) Len() int {
	if l == nil {
		return 0
	}
	return l.c.ItemCount()
}
