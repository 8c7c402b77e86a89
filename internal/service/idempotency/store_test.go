package idempotency_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orderpipe/internal/storage/memory"
)

func reserve(t *testing.T, uow domain.UnitOfWork, store *idempotency.Store, key, hash, outcome string) (idempotency.Reservation, error) {
	t.Helper()
	var res idempotency.Reservation
	err := uow.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		res, err = store.CheckAndReserve(ctx, tx, domain.IdempotencyNamespaceOrderCreate, key, hash)
		if err != nil || res.Duplicate || outcome == "" {
			return err
		}
		return store.Complete(ctx, tx, domain.IdempotencyNamespaceOrderCreate, key, outcome)
	})
	return res, err
}

func TestStore_FreshThenDuplicate(t *testing.T) {
	uow := memory.NewStore()
	store := idempotency.NewStore()

	first, err := reserve(t, uow, store, "k-1", "hash", "order-1")
	require.NoError(t, err)
	require.True(t, first.Fresh())

	second, err := reserve(t, uow, store, "k-1", "hash", "order-2")
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, "order-1", second.Outcome)
}

func TestStore_HashMismatch(t *testing.T) {
	uow := memory.NewStore()
	store := idempotency.NewStore()

	_, err := reserve(t, uow, store, "k-1", "hash-a", "order-1")
	require.NoError(t, err)

	_, err = reserve(t, uow, store, "k-1", "hash-b", "order-2")
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestStore_RollbackReleasesKey(t *testing.T) {
	uow := memory.NewStore()
	store := idempotency.NewStore()
	boom := errors.New("boom")

	err := uow.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		res, err := store.CheckAndReserve(ctx, tx, domain.IdempotencyNamespaceOrderCreate, "k-1", "hash")
		require.NoError(t, err)
		require.True(t, res.Fresh())
		return boom
	})
	require.ErrorIs(t, err, boom)

	retry, err := reserve(t, uow, store, "k-1", "hash", "order-1")
	require.NoError(t, err)
	require.True(t, retry.Fresh())
}

func TestStore_ProcessingKeyIsInProgressUntilExpired(t *testing.T) {
	uow := memory.NewStore()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := idempotency.NewStore(idempotency.WithTTL(time.Minute), idempotency.WithClock(func() time.Time { return now }))

	// резерв без Complete фиксируется, например, при ручном вызове вне пайплайна
	_, err := reserve(t, uow, store, "k-1", "hash", "")
	require.NoError(t, err)

	_, err = reserve(t, uow, store, "k-1", "hash", "order-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestInProgress)

	now = now.Add(2 * time.Minute)
	res, err := reserve(t, uow, store, "k-1", "other-hash", "order-2")
	require.NoError(t, err)
	require.True(t, res.Fresh())

	dup, err := reserve(t, uow, store, "k-1", "other-hash", "")
	require.NoError(t, err)
	require.Equal(t, "order-2", dup.Outcome)
}

func TestStore_Release(t *testing.T) {
	uow := memory.NewStore()
	store := idempotency.NewStore()

	_, err := reserve(t, uow, store, "k-1", "hash", "order-1")
	require.NoError(t, err)

	require.NoError(t, uow.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return store.Release(ctx, tx, domain.IdempotencyNamespaceOrderCreate, "k-1")
	}))

	res, err := reserve(t, uow, store, "k-1", "different", "order-2")
	require.NoError(t, err)
	require.True(t, res.Fresh())
}

func TestStore_Validation(t *testing.T) {
	uow := memory.NewStore()
	store := idempotency.NewStore()

	err := uow.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := store.CheckAndReserve(ctx, tx, "", "k", "h")
		require.ErrorIs(t, err, domain.ErrIdempotencyNamespaceRequired)
		_, err = store.CheckAndReserve(ctx, tx, "ns", " ", "h")
		require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
		_, err = store.CheckAndReserve(ctx, tx, "ns", "k", "")
		require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
		return nil
	})
	require.NoError(t, err)
}

func TestHashRequest(t *testing.T) {
	require.Equal(t, idempotency.HashRequest("a", "b"), idempotency.HashRequest("a", "b"))
	require.NotEqual(t, idempotency.HashRequest("a", "b"), idempotency.HashRequest("a:b", ""))
	require.Len(t, idempotency.HashRequest("x"), 64)
}
