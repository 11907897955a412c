package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammed-shakir/imagery-composer/internal/cache/keys"
	"github.com/mohammed-shakir/imagery-composer/internal/cache/redisstore"
	"github.com/mohammed-shakir/imagery-composer/internal/core/model"
)

const (
	kindForm = "form"
	kindView = "vm"
)

type Redis struct {
	rc        *redisstore.Client
	ttl       time.Duration
	opTimeout time.Duration
}

func NewRedis(rc *redisstore.Client, ttl, opTimeout time.Duration) *Redis {
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &Redis{rc: rc, ttl: ttl, opTimeout: opTimeout}
}

func (s *Redis) LoadState(ctx context.Context, id string) (State, bool, error) {
	var st State
	ok, err := s.load(ctx, keys.Session(kindForm, id), &st)
	return st, ok, err
}

func (s *Redis) SaveState(ctx context.Context, id string, st State) error {
	return s.save(ctx, keys.Session(kindForm, id), st)
}

func (s *Redis) LoadView(ctx context.Context, id string) (model.ViewModel, bool, error) {
	var vm model.ViewModel
	ok, err := s.load(ctx, keys.Session(kindView, id), &vm)
	return vm, ok, err
}

func (s *Redis) SaveView(ctx context.Context, id string, vm model.ViewModel) error {
	return s.save(ctx, keys.Session(kindView, id), vm)
}

func (s *Redis) Close() error { return s.rc.Close() }

func (s *Redis) load(ctx context.Context, key string, out any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	b, ok, err := s.rc.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("decode session %s: %w", key, err)
	}
	// reads keep an active session alive
	if err := s.rc.Touch(ctx, key, s.ttl); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Redis) save(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.rc.Set(ctx, key, b, s.ttl)
}
