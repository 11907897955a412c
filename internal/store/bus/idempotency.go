package bus

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// idDedupe remembers recently applied command ids so redelivered messages
// are skipped.
type idDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, struct{}]
}

func newIDDedupe(size int) *idDedupe {
	if size <= 0 {
		size = 8192
	}
	c, _ := lru.New[string, struct{}](size)
	return &idDedupe{lru: c}
}

// firstSeen reports whether id has not been seen before and records it.
func (d *idDedupe) firstSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lru.Contains(id) {
		return false
	}
	d.lru.Add(id, struct{}{})
	return true
}

// forget drops id so a redelivery is applied again.
func (d *idDedupe) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lru.Remove(id)
}
