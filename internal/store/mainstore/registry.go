package mainstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
	"github.com/mohammed-shakir/imagery-composer/internal/store"
)

// Registry hands out the Store of each session. Evicted sessions are
// rebuilt from the sink on next use.
type Registry struct {
	deps *Deps
	cfg  *Settings

	mu     sync.Mutex
	stores *lru.Cache[string, *Store]
}

func NewRegistry(deps Deps, cfg Settings, size int) (*Registry, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, *Store](size)
	if err != nil {
		return nil, fmt.Errorf("store registry: %w", err)
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 512, 512
	}
	if cfg.DefaultDataSource == "" {
		cfg.DefaultDataSource = model.DataSourceSTAC
	}
	if cfg.DefaultMapSource == "" {
		cfg.DefaultMapSource = model.MapSourceOSM
	}
	if cfg.SRID == "" {
		cfg.SRID = model.SRID4326
	}
	return &Registry{deps: &deps, cfg: &cfg, stores: c}, nil
}

// Get returns the store of sessionID, creating it on first use.
func (r *Registry) Get(sessionID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores.Get(sessionID); ok {
		return s
	}
	s := newStore(sessionID, r.deps, r.cfg)
	r.stores.Add(sessionID, s)
	return s
}

func (r *Registry) For(sessionID string) store.Store { return r.Get(sessionID) }

func (r *Registry) Len() int { return r.stores.Len() }

// Reset drops every cached store; later commands re-hydrate from the sink.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores.Purge()
}

// MemoryCache is the in-process ResultCache used when Redis is not configured.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 256
	}
	return &MemoryCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := m.lru.Get(key)
	return b, ok, nil
}

// Set ignores per-entry ttl; entries share the cache ttl.
func (m *MemoryCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.lru.Add(key, append([]byte(nil), val...))
	return nil
}
