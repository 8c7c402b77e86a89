package memory

import (
	"context"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

type idempotencyRepository struct {
	tx *memTx
}

func idempotencyKey(namespace, key string) string {
	return namespace + "\x00" + key
}

func (r idempotencyRepository) Reserve(_ context.Context, record domain.IdempotencyRecord) (domain.IdempotencyRecord, bool, error) {
	record.Namespace = strings.TrimSpace(record.Namespace)
	record.Key = strings.TrimSpace(record.Key)
	if record.Namespace == "" {
		return domain.IdempotencyRecord{}, false, domain.ErrIdempotencyNamespaceRequired
	}
	if record.Key == "" {
		return domain.IdempotencyRecord{}, false, domain.ErrIdempotencyKeyRequired
	}
	if record.RequestHash == "" {
		return domain.IdempotencyRecord{}, false, domain.ErrIdempotencyRequestHashRequired
	}

	defer r.tx.enter()()
	s := r.tx.store

	id := idempotencyKey(record.Namespace, record.Key)
	if existing, ok := s.idempotency[id]; ok {
		return existing, false, nil
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = record.CreatedAt
	record.Status = domain.IdempotencyStatusProcessing

	s.idempotency[id] = record
	r.tx.onRollback(func() { delete(s.idempotency, id) })
	return record, true, nil
}

func (r idempotencyRepository) TakeOver(_ context.Context, record domain.IdempotencyRecord, now time.Time) (bool, error) {
	defer r.tx.enter()()
	s := r.tx.store

	id := idempotencyKey(record.Namespace, record.Key)
	prev, ok := s.idempotency[id]
	if !ok || !prev.Expired(now) {
		return false, nil
	}

	next := prev
	next.RequestHash = record.RequestHash
	next.TTLAt = record.TTLAt
	next.Status = domain.IdempotencyStatusProcessing
	next.Outcome = ""
	next.CreatedAt = now
	next.UpdatedAt = now
	s.idempotency[id] = next
	r.tx.onRollback(func() { s.idempotency[id] = prev })
	return true, nil
}

func (r idempotencyRepository) Get(_ context.Context, namespace, key string) (domain.IdempotencyRecord, error) {
	defer r.tx.enter()()

	record, ok := r.tx.store.idempotency[idempotencyKey(namespace, key)]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return record, nil
}

func (r idempotencyRepository) Complete(_ context.Context, namespace, key, outcome string, now time.Time) error {
	if outcome == "" {
		return domain.ErrIdempotencyOutcomeRequired
	}

	defer r.tx.enter()()
	s := r.tx.store

	id := idempotencyKey(namespace, key)
	prev, ok := s.idempotency[id]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}

	next := prev
	next.Status = domain.IdempotencyStatusDone
	next.Outcome = outcome
	next.UpdatedAt = now
	s.idempotency[id] = next
	r.tx.onRollback(func() { s.idempotency[id] = prev })
	return nil
}

func (r idempotencyRepository) Delete(_ context.Context, namespace, key string) error {
	defer r.tx.enter()()
	s := r.tx.store

	id := idempotencyKey(namespace, key)
	prev, ok := s.idempotency[id]
	if !ok {
		return nil
	}
	delete(s.idempotency, id)
	r.tx.onRollback(func() { s.idempotency[id] = prev })
	return nil
}

func (r idempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	defer r.tx.enter()()
	s := r.tx.store

	removed := 0
	for id, record := range s.idempotency {
		id, record := id, record
		if record.TTLAt.After(before) {
			continue
		}

		delete(s.idempotency, id)
		r.tx.onRollback(func() { s.idempotency[id] = record })
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}

	return removed, nil
}

var _ domain.IdempotencyRepository = idempotencyRepository{}
