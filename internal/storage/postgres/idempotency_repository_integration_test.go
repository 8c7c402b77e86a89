package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

func TestIdempotencyRepository_PostgresReserveAndComplete(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := store.Idempotency()
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	record := domain.IdempotencyRecord{
		Namespace:   "order.create",
		Key:         "customer-1/key-1",
		RequestHash: "hash-1",
		CreatedAt:   now,
		TTLAt:       now.Add(time.Hour),
	}

	reserved, created, err := repo.Reserve(ctx, record)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, domain.IdempotencyStatusProcessing, reserved.Status)

	existing, created, err := repo.Reserve(ctx, record)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "hash-1", existing.RequestHash)

	require.NoError(t, repo.Complete(ctx, record.Namespace, record.Key, "order-42", now.Add(time.Second)))

	got, err := repo.Get(ctx, record.Namespace, record.Key)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, "order-42", got.Outcome)
	require.True(t, got.TTLAt.Equal(record.TTLAt), "ttl mismatch: expected %s, got %s", record.TTLAt, got.TTLAt)

	require.ErrorIs(t, repo.Complete(ctx, "order.create", "missing", "x", now), domain.ErrIdempotencyKeyNotFound)

	require.NoError(t, repo.Delete(ctx, record.Namespace, record.Key))
	_, err = repo.Get(ctx, record.Namespace, record.Key)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_PostgresTakeOver(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := store.Idempotency()
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	_, _, err := repo.Reserve(ctx, domain.IdempotencyRecord{
		Namespace: "payment.stripe", Key: "pi_1", RequestHash: "old", CreatedAt: now.Add(-2 * time.Hour), TTLAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)

	fresh := domain.IdempotencyRecord{Namespace: "payment.stripe", Key: "pi_1", RequestHash: "new", TTLAt: now.Add(time.Hour)}
	ok, err := repo.TakeOver(ctx, fresh, now)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.Get(ctx, "payment.stripe", "pi_1")
	require.NoError(t, err)
	require.Equal(t, "new", got.RequestHash)
	require.Equal(t, domain.IdempotencyStatusProcessing, got.Status)

	// запись ещё жива: перехват невозможен
	ok, err = repo.TakeOver(ctx, fresh, now)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := store.Idempotency()
	ctx := context.Background()

	now := time.Now().UTC()
	for i, ttl := range []time.Duration{-5 * time.Minute, -4 * time.Minute, -3 * time.Minute, time.Hour} {
		_, _, err := repo.Reserve(ctx, domain.IdempotencyRecord{
			Namespace:   "order.create",
			Key:         string(rune('a' + i)),
			RequestHash: "h",
			CreatedAt:   now.Add(-time.Hour),
			TTLAt:       now.Add(ttl),
		})
		require.NoError(t, err)
	}

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	removed, err = repo.DeleteExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "order.create", "d")
	require.NoError(t, err)
}
