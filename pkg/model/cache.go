// Package model caches shared model handles keyed by provider, model id,
// and credential fingerprint, so that agents sharing a provider/model/key
// triple reuse one underlying client instead of constructing a fresh one
// per task.
package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codeready-toolchain/swarmgate/pkg/orchestrate"
)

// Key identifies one cached model handle.
type Key struct {
	ProviderKind string
	ModelID      string
	Fingerprint  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ProviderKind, k.ModelID, k.Fingerprint)
}

// Fingerprint reduces an API key to a short, non-reversible identifier
// suitable for a cache key, so raw credentials never appear in cache keys,
// logs, or metrics labels.
func Fingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:16]
}

// Factory constructs a fresh model handle on a cache miss.
type Factory func(ctx context.Context) (orchestrate.Model, error)

// Config configures a Cache.
type Config struct {
	MaxCacheSize int
	IdleTTL      time.Duration // zero disables idle expiry
}

type entry struct {
	handle       orchestrate.Model
	lastAccessed time.Time
}

// Stats snapshots a Cache's counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// Cache is a bounded, least-recently-used store of shared model handles.
type Cache struct {
	mu      sync.Mutex
	store   *lru.Cache[Key, *entry]
	idleTTL time.Duration

	hits      int64
	misses    int64
	evictions int64
}

// New builds a Cache. max_cache_size must be positive.
func New(cfg Config) (*Cache, error) {
	if cfg.MaxCacheSize <= 0 {
		return nil, fmt.Errorf("model: max_cache_size must be positive, got %d", cfg.MaxCacheSize)
	}
	store, err := lru.New[Key, *entry](cfg.MaxCacheSize)
	if err != nil {
		return nil, fmt.Errorf("model: build lru: %w", err)
	}
	return &Cache{store: store, idleTTL: cfg.IdleTTL}, nil
}

// GetOrCreate returns the cached handle for key. On a hit it bumps the
// entry's last-accessed time and returns the shared handle. On a miss (or
// an idle-expired hit) it evicts the oldest entry if the cache is full,
// constructs a handle via factory, and inserts it.
func (c *Cache) GetOrCreate(ctx context.Context, key Key, factory Factory) (orchestrate.Model, error) {
	c.mu.Lock()
	if e, ok := c.store.Get(key); ok {
		if c.idleTTL <= 0 || time.Since(e.lastAccessed) <= c.idleTTL {
			e.lastAccessed = time.Now()
			c.hits++
			handle := e.handle
			c.mu.Unlock()
			return handle, nil
		}
		c.store.Remove(key)
	}
	c.misses++
	c.mu.Unlock()

	handle, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("model: construct handle for %s: %w", key, err)
	}

	c.mu.Lock()
	if evicted := c.store.Add(key, &entry{handle: handle, lastAccessed: time.Now()}); evicted {
		c.evictions++
	}
	c.mu.Unlock()
	return handle, nil
}

// Clear drops every cached handle and resets no counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Purge()
}

// Remove drops key's entry, if present.
func (c *Cache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Remove(key)
}

// Stats snapshots the cache's observable counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.store.Len(),
	}
}
