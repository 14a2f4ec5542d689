package cache

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/therealutkarshpriyadarshi/lshapg/pkg/divgraph"
)

// Key identifies a query: the vector bytes plus k and ef
type Key uint64

// QueryKey hashes a query vector and its parameters
func QueryKey(query []float32, k, ef int) Key {
	d := xxhash.New()
	var buf [8]byte
	for _, v := range query {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
		d.Write(buf[:4])
	}
	binary.LittleEndian.PutUint32(buf[:4], uint32(k))
	binary.LittleEndian.PutUint32(buf[4:], uint32(ef))
	d.Write(buf[:])
	return Key(d.Sum64())
}

// Observer receives cache events. *observability.Metrics implements it.
type Observer interface {
	RecordCacheHit()
	RecordCacheMiss()
	UpdateCacheSize(size int)
}

type nopObserver struct{}

func (nopObserver) RecordCacheHit()     {}
func (nopObserver) RecordCacheMiss()    {}
func (nopObserver) UpdateCacheSize(int) {}

// Results caches search results between inserts. Every insert bumps the
// generation and clears the cache; a Put carrying an older generation is
// dropped so a search racing an insert never stores stale results.
type Results struct {
	lru *LRU[Key, []divgraph.Result]
	obs Observer

	mu  sync.Mutex // orders Put against Invalidate
	gen atomic.Uint64
}

// NewResults creates a result cache. obs may be nil.
func NewResults(capacity int, ttl time.Duration, obs Observer) *Results {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Results{lru: NewLRU[Key, []divgraph.Result](capacity, ttl), obs: obs}
}

// Generation returns the token to pass to Put for a search starting now
func (r *Results) Generation() uint64 {
	return r.gen.Load()
}

// Get returns a copy of the cached results for key
func (r *Results) Get(key Key) ([]divgraph.Result, bool) {
	res, ok := r.lru.Get(key)
	if !ok {
		r.obs.RecordCacheMiss()
		return nil, false
	}
	r.obs.RecordCacheHit()
	return append([]divgraph.Result(nil), res...), true
}

// Put stores results computed during generation gen
func (r *Results) Put(key Key, gen uint64, results []divgraph.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen.Load() {
		return
	}
	r.lru.Put(key, append([]divgraph.Result(nil), results...))
	r.obs.UpdateCacheSize(r.lru.Len())
}

// Invalidate drops every cached result
func (r *Results) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen.Add(1)
	r.lru.Clear()
	r.obs.UpdateCacheSize(0)
}

// Stats returns cache statistics
func (r *Results) Stats() Stats {
	return r.lru.Stats()
}
