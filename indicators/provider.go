package indicators

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/rustyeddy/simex/market"
)

// Kind names a provider-computable indicator.
type Kind string

const (
	KindSMA Kind = "sma"
	KindEMA Kind = "ema"
	KindATR Kind = "atr"
)

// Provider memoizes indicator values by (kind, period, data-window hash) in a
// bounded LRU cache. It is owned by one engine instance and passed by
// reference; there is no ambient global cache.
type Provider struct {
	cache *lru
}

// NewProvider builds a provider with the given cache capacity; size <= 0
// means a default of 256 entries.
func NewProvider(size int) *Provider {
	if size <= 0 {
		size = 256
	}
	return &Provider{cache: newLRU(size)}
}

// Compute evaluates the indicator over the whole bar window and returns the
// final value. Identical windows hit the cache.
func (p *Provider) Compute(kind Kind, period int, bars []market.Bar) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("indicators: period must be positive, got %d", period)
	}

	key := cacheKey(kind, period, bars)
	if v, ok := p.cache.get(key); ok {
		return v, nil
	}

	ind, err := build(kind, period)
	if err != nil {
		return 0, err
	}
	if len(bars) < ind.Warmup() {
		return 0, fmt.Errorf("indicators: %s needs %d bars, have %d", ind.Name(), ind.Warmup(), len(bars))
	}
	for _, b := range bars {
		ind.Update(b)
	}

	v := ind.Value()
	p.cache.put(key, v)
	return v, nil
}

func build(kind Kind, period int) (Indicator, error) {
	switch kind {
	case KindSMA:
		return NewSMA(period), nil
	case KindEMA:
		return NewEMA(period), nil
	case KindATR:
		return NewATR(period), nil
	}
	return nil, fmt.Errorf("indicators: unknown kind %q", kind)
}

// cacheKey hashes the window's timestamps and closes; two windows with the
// same bars produce the same key.
func cacheKey(kind Kind, period int, bars []market.Bar) string {
	h := fnv.New64a()
	var buf [8]byte
	for _, b := range bars {
		binary.LittleEndian.PutUint64(buf[:], uint64(b.Time.UnixNano()))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(b.Close))
		h.Write(buf[:])
	}
	return fmt.Sprintf("%s:%d:%d:%x", kind, period, len(bars), h.Sum64())
}

// lru is a minimal least-recently-used cache.
type lru struct {
	cap   int
	ll    *list.List
	items map[string]*list.Element
}

type lruEntry struct {
	key string
	val float64
}

func newLRU(cap int) *lru {
	return &lru{cap: cap, ll: list.New(), items: make(map[string]*list.Element, cap)}
}

func (c *lru) get(key string) (float64, bool) {
	el, ok := c.items[key]
	if !ok {
		return 0, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).val, true
}

func (c *lru) put(key string, val float64) {
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).val = val
		c.ll.MoveToFront(el)
		return
	}
	c.items[key] = c.ll.PushFront(&lruEntry{key: key, val: val})
	if c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}
