// Package cache is the two-tier result cache in front of the memory store.
//
// The expression tier maps (raw expression, identity) to its resolved
// string; the result tier maps (identity, key) to the display value. Every
// entry records the variable keys it was computed from so that a write to
// key K drops every entry that read K. Entries are advisory: losing one
// never changes an observable value.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/roach88/varkeep/internal/metrics"
)

// Tier names, used in stats and metric labels.
const (
	TierExpression = "expression"
	TierResult     = "result"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultSize = 10_000
	DefaultTTL  = 5 * time.Second
)

// Config sizes both tiers.
type Config struct {
	ExpressionSize int
	ExpressionTTL  time.Duration
	ResultSize     int
	ResultTTL      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ExpressionSize <= 0 {
		c.ExpressionSize = DefaultSize
	}
	if c.ExpressionTTL <= 0 {
		c.ExpressionTTL = DefaultTTL
	}
	if c.ResultSize <= 0 {
		c.ResultSize = DefaultSize
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = DefaultTTL
	}
	return c
}

type resultKey struct {
	identity string
	key      string
}

type exprKey struct {
	identity string
	raw      string
}

type item struct {
	value string
	deps  []string
}

// ref addresses one entry in either tier for the dependency index.
type ref struct {
	tier     uint8 // 0 expression, 1 result
	identity string
	name     string // raw expression or key
}

// evicted is an entry the LRU dropped on its own, awaiting removal from
// the dependency index.
type evicted struct {
	ref  ref
	deps []string
}

// Token captures the invalidation generation at the start of a
// computation. A Put carrying a stale token is dropped, so a value computed
// before a concurrent write never lands after that write's invalidation.
type Token uint64

// Cache is safe for concurrent use.
type Cache struct {
	exprs   *expirable.LRU[exprKey, item]
	results *expirable.LRU[resultKey, item]

	// mu guards index and serialises Put against Invalidate.
	mu    sync.Mutex
	index map[string]map[ref]struct{} // dep key → entries that read it
	gen   atomic.Uint64

	// Eviction callbacks run under the LRU's own lock, possibly while mu
	// is held, so they only append here. Lock order: mu, LRU, evictMu.
	evictMu sync.Mutex
	pending []evicted

	exprHits, exprMisses     atomic.Uint64
	resultHits, resultMisses atomic.Uint64

	metrics *metrics.Metrics
}

// New creates a cache. m may be nil.
func New(cfg Config, m *metrics.Metrics) *Cache {
	cfg = cfg.withDefaults()
	c := &Cache{
		index:   make(map[string]map[ref]struct{}),
		metrics: m,
	}
	c.exprs = expirable.NewLRU[exprKey, item](cfg.ExpressionSize, func(k exprKey, it item) {
		c.evicted(ref{tier: 0, identity: k.identity, name: k.raw}, it.deps)
	}, cfg.ExpressionTTL)
	c.results = expirable.NewLRU[resultKey, item](cfg.ResultSize, func(k resultKey, it item) {
		deps := append([]string{k.key}, it.deps...)
		c.evicted(ref{tier: 1, identity: k.identity, name: k.key}, deps)
	}, cfg.ResultTTL)
	return c
}

func (c *Cache) evicted(r ref, deps []string) {
	c.evictMu.Lock()
	c.pending = append(c.pending, evicted{ref: r, deps: deps})
	c.evictMu.Unlock()
}

// pruneLocked drops index entries for evicted refs. A ref that has since
// been re-added keeps its index entries.
func (c *Cache) pruneLocked() {
	c.evictMu.Lock()
	pending := c.pending
	c.pending = nil
	c.evictMu.Unlock()

	for _, ev := range pending {
		if c.containsLocked(ev.ref) {
			continue
		}
		c.unindexLocked(ev.ref, ev.deps)
	}
}

func (c *Cache) unindexLocked(r ref, deps []string) {
	for _, d := range deps {
		set, ok := c.index[d]
		if !ok {
			continue
		}
		delete(set, r)
		if len(set) == 0 {
			delete(c.index, d)
		}
	}
}

func (c *Cache) containsLocked(r ref) bool {
	if r.tier == 0 {
		return c.exprs.Contains(exprKey{r.identity, r.name})
	}
	return c.results.Contains(resultKey{r.identity, r.name})
}

// Begin returns the token to pass to a Put of a value computed from now on.
func (c *Cache) Begin() Token {
	return Token(c.gen.Load())
}

// GetResult returns the cached display value of (identity, key) and the
// keys it was computed from.
func (c *Cache) GetResult(identity, key string) (string, []string, bool) {
	it, ok := c.results.Get(resultKey{identity, key})
	if ok {
		c.resultHits.Add(1)
		c.metrics.CacheHit(TierResult)
		return it.value, it.deps, true
	}
	c.resultMisses.Add(1)
	c.metrics.CacheMiss(TierResult)
	return "", nil, false
}

// PutResult caches the display value of (identity, key). The entry is
// indexed under key itself and every key in deps.
func (c *Cache) PutResult(tok Token, identity, key, value string, deps []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.pruneLocked()
	if Token(c.gen.Load()) != tok {
		return
	}
	r := ref{tier: 1, identity: identity, name: key}
	if old, ok := c.results.Peek(resultKey{identity, key}); ok {
		c.unindexLocked(r, old.deps)
	}
	c.results.Add(resultKey{identity, key}, item{value: value, deps: deps})
	c.indexLocked(key, r)
	for _, d := range deps {
		c.indexLocked(d, r)
	}
}

// GetExpression returns the cached resolution of raw for identity.
func (c *Cache) GetExpression(identity, raw string) (string, []string, bool) {
	it, ok := c.exprs.Get(exprKey{identity, raw})
	if ok {
		c.exprHits.Add(1)
		c.metrics.CacheHit(TierExpression)
		return it.value, it.deps, true
	}
	c.exprMisses.Add(1)
	c.metrics.CacheMiss(TierExpression)
	return "", nil, false
}

// PutExpression caches the resolution of raw for identity.
func (c *Cache) PutExpression(tok Token, identity, raw, value string, deps []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.pruneLocked()
	if Token(c.gen.Load()) != tok {
		return
	}
	r := ref{tier: 0, identity: identity, name: raw}
	if old, ok := c.exprs.Peek(exprKey{identity, raw}); ok {
		c.unindexLocked(r, old.deps)
	}
	c.exprs.Add(exprKey{identity, raw}, item{value: value, deps: deps})
	for _, d := range deps {
		c.indexLocked(d, r)
	}
}

func (c *Cache) indexLocked(dep string, r ref) {
	set, ok := c.index[dep]
	if !ok {
		set = make(map[ref]struct{})
		c.index[dep] = set
	}
	set[r] = struct{}{}
}

// Invalidate drops the result entry of (identity, key) and every entry in
// either tier that read key. For a global key the drop spans every
// identity; otherwise only entries of identity are touched.
func (c *Cache) Invalidate(identity, key string, global bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.pruneLocked()
	c.gen.Add(1)

	c.results.Remove(resultKey{identity, key})

	set := c.index[key]
	for r := range set {
		if !global && r.identity != identity {
			continue
		}
		c.removeLocked(r)
		delete(set, r)
	}
	if len(set) == 0 {
		delete(c.index, key)
	}
}

func (c *Cache) removeLocked(r ref) {
	if r.tier == 0 {
		c.exprs.Remove(exprKey{r.identity, r.name})
		return
	}
	c.results.Remove(resultKey{r.identity, r.name})
}

// PurgeIdentity drops every entry computed for identity.
func (c *Cache) PurgeIdentity(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.pruneLocked()
	c.gen.Add(1)

	for dep, set := range c.index {
		for r := range set {
			if r.identity == identity {
				c.removeLocked(r)
				delete(set, r)
			}
		}
		if len(set) == 0 {
			delete(c.index, dep)
		}
	}
	for _, k := range c.results.Keys() {
		if k.identity == identity {
			c.results.Remove(k)
		}
	}
	for _, k := range c.exprs.Keys() {
		if k.identity == identity {
			c.exprs.Remove(k)
		}
	}
}

// Purge drops everything.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen.Add(1)
	c.exprs.Purge()
	c.results.Purge()
	c.index = make(map[string]map[ref]struct{})

	c.evictMu.Lock()
	c.pending = nil
	c.evictMu.Unlock()
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	ExpressionHits   uint64 `json:"expression_hits"`
	ExpressionMisses uint64 `json:"expression_misses"`
	ExpressionLen    int    `json:"expression_len"`
	ResultHits       uint64 `json:"result_hits"`
	ResultMisses     uint64 `json:"result_misses"`
	ResultLen        int    `json:"result_len"`
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		ExpressionHits:   c.exprHits.Load(),
		ExpressionMisses: c.exprMisses.Load(),
		ExpressionLen:    c.exprs.Len(),
		ResultHits:       c.resultHits.Load(),
		ResultMisses:     c.resultMisses.Load(),
		ResultLen:        c.results.Len(),
	}
}
