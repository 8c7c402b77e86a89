package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// DefaultTTL — срок жизни ключа идемпотентности по умолчанию.
const DefaultTTL = 24 * time.Hour

// Reservation — результат CheckAndReserve.
// Fresh: ключ наш, запрос нужно выполнить. Duplicate: запрос уже выполнен, Outcome — его результат.
type Reservation struct {
	Duplicate bool
	Outcome   string
}

// Fresh сообщает, что ключ зарезервирован текущим вызовом.
func (r Reservation) Fresh() bool { return !r.Duplicate }

// Store резервирует ключи идемпотентности внутри транзакции вызывающего.
// Результат фиксируется в той же транзакции, что и эффекты запроса, поэтому
// откат транзакции снимает резерв и повтор запроса не блокируется.
type Store struct {
	ttl    time.Duration
	now    domain.Clock
	logger *log.Entry
}

// StoreOption настраивает Store.
type StoreOption func(*Store)

// WithTTL задаёт срок жизни ключей.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock подменяет часы (для тестов).
func WithClock(now domain.Clock) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStoreLogger задаёт logger.
func WithStoreLogger(logger *log.Entry) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore создаёт хранилище ключей идемпотентности.
func NewStore(options ...StoreOption) *Store {
	s := &Store{
		ttl:    DefaultTTL,
		now:    domain.SystemClock,
		logger: log.WithField("component", "idempotency-store"),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// CheckAndReserve резервирует (namespace, key) или возвращает ранее сохранённый результат.
func (s *Store) CheckAndReserve(ctx context.Context, tx domain.Tx, namespace, key, requestHash string) (Reservation, error) {
	namespace = strings.TrimSpace(namespace)
	key = strings.TrimSpace(key)
	switch {
	case namespace == "":
		return Reservation{}, domain.ErrIdempotencyNamespaceRequired
	case key == "":
		return Reservation{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return Reservation{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := s.now()
	record := domain.IdempotencyRecord{
		Namespace:   namespace,
		Key:         key,
		RequestHash: requestHash,
		TTLAt:       now.Add(s.ttl),
		CreatedAt:   now,
	}

	existing, created, err := tx.Idempotency().Reserve(ctx, record)
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if created {
		return Reservation{}, nil
	}

	if existing.Expired(now) {
		taken, err := tx.Idempotency().TakeOver(ctx, record, now)
		if err != nil {
			return Reservation{}, fmt.Errorf("take over idempotency key: %w", err)
		}
		if taken {
			s.logger.WithFields(log.Fields{
				"namespace": namespace,
				"key":       key,
				"status":    existing.Status,
			}).Info("expired idempotency key taken over")
			return Reservation{}, nil
		}
	}

	if existing.RequestHash != requestHash {
		return Reservation{}, domain.ErrIdempotencyHashMismatch
	}
	if existing.Status != domain.IdempotencyStatusDone {
		return Reservation{}, domain.ErrIdempotencyRequestInProgress
	}
	return Reservation{Duplicate: true, Outcome: existing.Outcome}, nil
}

// Complete записывает результат запроса. Вызывается в той же транзакции, что и CheckAndReserve.
func (s *Store) Complete(ctx context.Context, tx domain.Tx, namespace, key, outcome string) error {
	if err := tx.Idempotency().Complete(ctx, strings.TrimSpace(namespace), strings.TrimSpace(key), outcome, s.now()); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release снимает резерв; нужен вызывающим, которые не откатывают транзакцию целиком.
func (s *Store) Release(ctx context.Context, tx domain.Tx, namespace, key string) error {
	if err := tx.Idempotency().Delete(ctx, strings.TrimSpace(namespace), strings.TrimSpace(key)); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// HashRequest считает отпечаток запроса: sha256 от частей, разделённых ":".
func HashRequest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}
