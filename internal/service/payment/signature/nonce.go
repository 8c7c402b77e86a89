package signature

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryNonceStore — in-memory реестр nonce для разработки и тестов.
type MemoryNonceStore struct {
	mu     sync.Mutex
	now    func() time.Time
	nonces map[string]time.Time
}

// NonceOption настраивает MemoryNonceStore.
type NonceOption func(*MemoryNonceStore)

// WithNonceClock подменяет часы; должны совпадать с часами проверяющего.
func WithNonceClock(now func() time.Time) NonceOption {
	return func(s *MemoryNonceStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryNonceStore создаёт реестр.
func NewMemoryNonceStore(opts ...NonceOption) *MemoryNonceStore {
	s := &MemoryNonceStore{now: time.Now, nonces: make(map[string]time.Time)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UseNonce запоминает nonce до expiry; повтор до этого момента возвращает false.
func (s *MemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("scope and nonce are required")
	}

	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.nonces {
		if !exp.After(now) {
			delete(s.nonces, k)
		}
	}

	if _, ok := s.nonces[key]; ok {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}
