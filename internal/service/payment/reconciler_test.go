package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/payment"
	"github.com/vladislavdragonenkov/orderpipe/internal/storage/memory"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type eventCounter map[string]int

func (c eventCounter) RecordPaymentEvent(provider, outcome string) {
	c[provider+"/"+outcome]++
}

func newReconciler(t *testing.T, store *memory.Store, options ...payment.ReconcilerOption) *payment.Reconciler {
	t.Helper()
	clock := func() time.Time { return fixedNow }
	adapters := payment.NewAdapters(payment.NewGenericAdapter(payment.ProviderGeneric), payment.NewStripeAdapter())
	options = append([]payment.ReconcilerOption{payment.WithReconcilerClock(clock)}, options...)
	return payment.NewReconciler(store, idempotency.NewStore(idempotency.WithClock(clock)), adapters, options...)
}

func seedOrder(t *testing.T, store *memory.Store, id string, status domain.OrderStatus) {
	t.Helper()
	order := domain.Order{
		ID:         id,
		CustomerID: "customer-1",
		Status:     status,
		Currency:   "USD",
		Items: []domain.OrderItem{
			{ID: id + "-item", ProductID: 1, ProductName: "book", UnitPriceMinor: 1500, Qty: 1},
		},
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
	order.RecalculateTotals()
	require.NoError(t, store.Orders().Create(context.Background(), order))
}

func genericEvent(orderID, txID, status string) domain.NormalizedEvent {
	return domain.NormalizedEvent{
		Provider:             payment.ProviderGeneric,
		GatewayTransactionID: txID,
		OrderID:              orderID,
		AmountMinor:          1500,
		Status:               status,
	}
}

func TestReconciler_AppliesSucceededPayment(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "order-1", domain.OrderStatusNew)
	counter := eventCounter{}
	reconciler := newReconciler(t, store, payment.WithEventRecorder(counter))

	result, err := reconciler.Apply(ctx, genericEvent("order-1", "tx-1", "completed"))
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeApplied, result.Outcome)
	require.Equal(t, domain.PaymentStatusSucceeded, result.PaymentStatus)
	require.Equal(t, domain.OrderStatusPaymentReceived, result.OrderStatus)
	require.Equal(t, 1, counter["generic/applied"])

	order, err := store.Orders().Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaymentReceived, order.Status)

	payments, err := store.Payments().ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, result.PaymentID, payments[0].ID)

	record, err := store.Idempotency().Get(ctx, domain.PaymentNamespace(payment.ProviderGeneric), "tx-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, record.Status)
	require.Equal(t, result.PaymentID, record.Outcome)

	pending, err := store.Outbox().PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventPaymentApplied, pending[0].EventType)

	timeline, err := store.Timeline().List(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	require.Equal(t, domain.TimelinePaymentApplied, timeline[0].Type)
}

func TestReconciler_DuplicateReturnsFirstResolution(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "order-1", domain.OrderStatusNew)
	reconciler := newReconciler(t, store)

	first, err := reconciler.Apply(ctx, genericEvent("order-1", "tx-1", "completed"))
	require.NoError(t, err)

	for _, status := range []string{"completed", "declined"} {
		again, err := reconciler.Apply(ctx, genericEvent("order-1", "tx-1", status))
		require.NoError(t, err)
		require.Equal(t, payment.OutcomeDuplicate, again.Outcome)
		require.Equal(t, first.PaymentID, again.PaymentID)
		require.Equal(t, domain.PaymentStatusSucceeded, again.PaymentStatus)
		require.Equal(t, domain.OrderStatusPaymentReceived, again.OrderStatus)
	}

	payments, err := store.Payments().ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	pending, err := store.Outbox().PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestReconciler_UnknownStatusFailsClosed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "order-1", domain.OrderStatusNew)
	reconciler := newReconciler(t, store)

	result, err := reconciler.Apply(ctx, genericEvent("order-1", "tx-1", "weird_status"))
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusFailed, result.PaymentStatus)
	require.Equal(t, domain.OrderStatusPaymentFailed, result.OrderStatus)

	stored, err := store.Payments().Get(ctx, result.PaymentID)
	require.NoError(t, err)
	require.Contains(t, stored.FailureMessage, "weird_status")
}

func TestReconciler_OrderNotFound(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	reconciler := newReconciler(t, store)

	_, err := reconciler.Apply(ctx, genericEvent("missing", "tx-1", "completed"))
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = store.Idempotency().Get(ctx, domain.PaymentNamespace(payment.ProviderGeneric), "tx-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestReconciler_IllegalTransitionRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "order-1", domain.OrderStatusCancelled)
	counter := eventCounter{}
	reconciler := newReconciler(t, store, payment.WithEventRecorder(counter))

	_, err := reconciler.Apply(ctx, genericEvent("order-1", "tx-1", "completed"))
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
	var transitionErr *domain.TransitionError
	require.True(t, errors.As(err, &transitionErr))
	require.Equal(t, domain.OrderStatusCancelled, transitionErr.From)
	require.Equal(t, 1, counter["generic/"+domain.ReasonIllegalTransition])

	order, err := store.Orders().Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, order.Status)

	payments, err := store.Payments().ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Empty(t, payments)

	_, err = store.Idempotency().Get(ctx, domain.PaymentNamespace(payment.ProviderGeneric), "tx-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestReconciler_RepeatedSuccessOnPaidOrderIsNoop(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "order-1", domain.OrderStatusPaymentReceived)
	reconciler := newReconciler(t, store)

	result, err := reconciler.Apply(ctx, genericEvent("order-1", "tx-2", "paid"))
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeApplied, result.Outcome)
	require.Equal(t, domain.OrderStatusPaymentReceived, result.OrderStatus)

	order, err := store.Orders().Get(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), order.Version)
}

func TestReconciler_MalformedEvent(t *testing.T) {
	reconciler := newReconciler(t, memory.NewStore())

	_, err := reconciler.Apply(context.Background(), domain.NormalizedEvent{Provider: payment.ProviderGeneric})
	require.ErrorIs(t, err, domain.ErrMalformedEvent)
	require.ErrorIs(t, err, domain.ErrGatewayTransactionIDRequired)
}

func TestReconciler_PaymentSurvivingExpiredKeyIsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "order-1", domain.OrderStatusNew)
	reconciler := newReconciler(t, store)

	first, err := reconciler.Apply(ctx, genericEvent("order-1", "tx-1", "completed"))
	require.NoError(t, err)

	// запись идемпотентности удалена очисткой, платёж остался
	require.NoError(t, store.Idempotency().Delete(ctx, domain.PaymentNamespace(payment.ProviderGeneric), "tx-1"))

	again, err := reconciler.Apply(ctx, genericEvent("order-1", "tx-1", "declined"))
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeDuplicate, again.Outcome)
	require.Equal(t, first.PaymentID, again.PaymentID)

	record, err := store.Idempotency().Get(ctx, domain.PaymentNamespace(payment.ProviderGeneric), "tx-1")
	require.NoError(t, err)
	require.Equal(t, first.PaymentID, record.Outcome)
}

func TestReconciler_SuccessAfterFailedAttempt(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "order-1", domain.OrderStatusNew)
	reconciler := newReconciler(t, store)

	failed, err := reconciler.Apply(ctx, genericEvent("order-1", "tx-1", "declined"))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaymentFailed, failed.OrderStatus)

	paid, err := reconciler.Apply(ctx, genericEvent("order-1", "tx-2", "completed"))
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeApplied, paid.Outcome)
	require.Equal(t, domain.OrderStatusPaymentReceived, paid.OrderStatus)

	payments, err := store.Payments().ListByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	require.ElementsMatch(t,
		[]domain.PaymentStatus{domain.PaymentStatusFailed, domain.PaymentStatusSucceeded},
		[]domain.PaymentStatus{payments[0].Status, payments[1].Status})
}

func TestReconciler_StripeRetryOnSameIntent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedOrder(t, store, "order-1", domain.OrderStatusNew)
	reconciler := newReconciler(t, store)
	adapter := payment.NewStripeAdapter()

	declined, err := adapter.Parse([]byte(`{"id":"evt_1","type":"payment_intent.payment_failed","data":{"object":{
		"id":"pi_1","amount":1500,"latest_charge":"ch_1","metadata":{"order_id":"order-1"},
		"last_payment_error":{"charge":"ch_1","message":"card declined"}}}}`))
	require.NoError(t, err)
	succeeded, err := adapter.Parse([]byte(`{"id":"evt_2","type":"payment_intent.succeeded","data":{"object":{
		"id":"pi_1","amount":1500,"latest_charge":"ch_2","metadata":{"order_id":"order-1"}}}}`))
	require.NoError(t, err)

	first, err := reconciler.Apply(ctx, declined)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaymentFailed, first.OrderStatus)

	second, err := reconciler.Apply(ctx, succeeded)
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeApplied, second.Outcome)
	require.Equal(t, domain.PaymentStatusSucceeded, second.PaymentStatus)
	require.Equal(t, domain.OrderStatusPaymentReceived, second.OrderStatus)

	// повтор того же события Stripe остаётся дубликатом
	again, err := reconciler.Apply(ctx, succeeded)
	require.NoError(t, err)
	require.Equal(t, payment.OutcomeDuplicate, again.Outcome)
	require.Equal(t, second.PaymentID, again.PaymentID)
}
