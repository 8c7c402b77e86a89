// Package redisstore хранит одноразовые значения вебхуков в Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/orderpipe/internal/service/payment/signature"
)

const (
	defaultKeyPrefix = "orderpipe:nonce"
	minNonceTTL      = time.Second
)

// NonceStore реализует signature.NonceStore через SETNX с TTL.
type NonceStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option настраивает NonceStore.
type Option func(*NonceStore)

// WithKeyPrefix задаёт префикс ключей.
func WithKeyPrefix(prefix string) Option {
	return func(s *NonceStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(s *NonceStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewNonceStore создаёт реестр nonce поверх клиента Redis.
func NewNonceStore(client redis.UniversalClient, options ...Option) *NonceStore {
	s := &NonceStore{
		client: client,
		prefix: defaultKeyPrefix,
		now:    time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// UseNonce атомарно занимает nonce до expiry. false означает повтор.
func (s *NonceStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("scope and nonce are required")
	}

	ttl := expiry.Sub(s.now())
	if ttl < minNonceTTL {
		ttl = minNonceTTL
	}

	ok, err := s.client.SetNX(ctx, s.key(scope, nonce), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx nonce: %w", err)
	}
	return ok, nil
}

// Ping проверяет доступность Redis.
func (s *NonceStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *NonceStore) key(scope, nonce string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, scope, nonce)
}

var _ signature.NonceStore = (*NonceStore)(nil)
