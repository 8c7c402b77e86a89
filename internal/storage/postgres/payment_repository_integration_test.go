package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

func TestPaymentRepository_PostgresCreateAndLookup(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Microsecond)

	payment := domain.Payment{
		ID:                   "pay-1",
		OrderID:              "order-1",
		Provider:             "stripe",
		GatewayTransactionID: "pi_1",
		Status:               domain.PaymentStatusSucceeded,
		AmountMinor:          300,
		FeeMinor:             9,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, store.Payments().Create(ctx, payment))

	got, err := store.Payments().Get(ctx, "pay-1")
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusSucceeded, got.Status)
	require.Equal(t, int64(9), got.FeeMinor)

	byTx, err := store.Payments().GetByGatewayTransaction(ctx, "stripe", "pi_1")
	require.NoError(t, err)
	require.Equal(t, "pay-1", byTx.ID)

	duplicate := payment
	duplicate.ID = "pay-2"
	require.ErrorIs(t, store.Payments().Create(ctx, duplicate), domain.ErrPaymentAlreadyExists)

	listed, err := store.Payments().ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, err = store.Payments().Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)
	_, err = store.Payments().GetByGatewayTransaction(ctx, "stripe", "pi_missing")
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)
}
