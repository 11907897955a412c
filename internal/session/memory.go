package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/imagery-composer/internal/cache/keys"
	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

// Memory keeps sessions in an expiring LRU. Values are stored encoded so
// callers never share state with the cache.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 1024
	}
	return &Memory{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *Memory) LoadState(_ context.Context, id string) (State, bool, error) {
	var st State
	ok, err := m.load(keys.Session(kindForm, id), &st)
	return st, ok, err
}

func (m *Memory) SaveState(_ context.Context, id string, st State) error {
	return m.save(keys.Session(kindForm, id), st)
}

func (m *Memory) LoadView(_ context.Context, id string) (model.ViewModel, bool, error) {
	var vm model.ViewModel
	ok, err := m.load(keys.Session(kindView, id), &vm)
	return vm, ok, err
}

func (m *Memory) SaveView(_ context.Context, id string, vm model.ViewModel) error {
	return m.save(keys.Session(kindView, id), vm)
}

func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}

func (m *Memory) Len() int { return m.lru.Len() }

func (m *Memory) load(key string, out any) (bool, error) {
	b, ok := m.lru.Get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("decode session %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) save(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", key, err)
	}
	m.lru.Add(key, b)
	return nil
}
