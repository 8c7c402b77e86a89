package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/idempotency"
)

// Outcome — итог обработки платёжного события.
type Outcome string

const (
	// OutcomeApplied — событие применено впервые.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate — транзакция уже обработана, возвращён прежний результат.
	OutcomeDuplicate Outcome = "duplicate"
)

// Result описывает результат Reconciler.Apply.
type Result struct {
	Outcome       Outcome
	OrderID       string
	PaymentID     string
	PaymentStatus domain.PaymentStatus
	OrderStatus   domain.OrderStatus
}

// EventRecorder получает итог обработки каждого события (метрики).
type EventRecorder interface {
	RecordPaymentEvent(provider, outcome string)
}

// Reconciler применяет нормализованные события провайдеров к платежам и заказам.
type Reconciler struct {
	uow      domain.UnitOfWork
	idem     *idempotency.Store
	mappings map[string]domain.StatusMapping
	now      domain.Clock
	logger   *log.Entry
	recorder EventRecorder
}

// ReconcilerOption настраивает Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger задаёт logger.
func WithReconcilerLogger(logger *log.Entry) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReconcilerClock подменяет часы.
func WithReconcilerClock(now domain.Clock) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithEventRecorder подключает учёт событий.
func WithEventRecorder(recorder EventRecorder) ReconcilerOption {
	return func(r *Reconciler) {
		r.recorder = recorder
	}
}

// NewReconciler создаёт сверку платежей. Таблицы статусов берутся из адаптеров.
func NewReconciler(uow domain.UnitOfWork, idem *idempotency.Store, adapters Adapters, options ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		uow:      uow,
		idem:     idem,
		mappings: make(map[string]domain.StatusMapping, len(adapters)),
		now:      domain.SystemClock,
		logger:   log.WithField("component", "payment-reconciler"),
	}
	for provider, adapter := range adapters {
		r.mappings[provider] = adapter.StatusMapping()
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Apply обрабатывает событие в отдельной транзакции.
func (r *Reconciler) Apply(ctx context.Context, event domain.NormalizedEvent) (Result, error) {
	var result Result
	err := r.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		result, err = r.ApplyTx(ctx, tx, event)
		return err
	})
	if err != nil {
		r.record(event.Provider, domain.ReasonCode(err))
		return Result{}, err
	}
	r.record(event.Provider, string(result.Outcome))
	return result, nil
}

// ApplyTx обрабатывает событие внутри транзакции вызывающего.
// Любая ошибка должна приводить к откату всей транзакции.
func (r *Reconciler) ApplyTx(ctx context.Context, tx domain.Tx, event domain.NormalizedEvent) (Result, error) {
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	event.GatewayTransactionID = strings.TrimSpace(event.GatewayTransactionID)
	event.OrderID = strings.TrimSpace(event.OrderID)
	if errs := event.Validate(); len(errs) > 0 {
		return Result{}, fmt.Errorf("%w: %w", domain.ErrMalformedEvent, errors.Join(errs...))
	}

	logger := r.logger.WithFields(log.Fields{
		"provider":       event.Provider,
		"transaction_id": event.GatewayTransactionID,
		"order_id":       event.OrderID,
	})

	// ключ — сама транзакция шлюза: повтор с другим статусом тоже дубликат
	namespace := domain.PaymentNamespace(event.Provider)
	hash := idempotency.HashRequest(event.Provider, event.GatewayTransactionID)
	reservation, err := r.idem.CheckAndReserve(ctx, tx, namespace, event.GatewayTransactionID, hash)
	if err != nil {
		return Result{}, err
	}
	if reservation.Duplicate {
		logger.Debug("payment event already processed")
		return r.duplicate(ctx, tx, reservation.Outcome)
	}

	// платёж мог пережить запись идемпотентности (очистка по TTL)
	if existing, err := tx.Payments().GetByGatewayTransaction(ctx, event.Provider, event.GatewayTransactionID); err == nil {
		if err := r.idem.Complete(ctx, tx, namespace, event.GatewayTransactionID, existing.ID); err != nil {
			return Result{}, err
		}
		return r.duplicate(ctx, tx, existing.ID)
	} else if !errors.Is(err, domain.ErrPaymentNotFound) {
		return Result{}, fmt.Errorf("lookup payment: %w", err)
	}

	order, err := tx.Orders().GetForUpdate(ctx, event.OrderID)
	if err != nil {
		return Result{}, fmt.Errorf("load order %s: %w", event.OrderID, err)
	}

	status, known := r.mappings[event.Provider].Map(event.Status)
	if !known {
		logger.WithField("provider_status", event.Status).Warn("unknown provider status, treating payment as failed")
	}
	if status == domain.PaymentStatusSucceeded && event.AmountMinor != order.TotalMinor {
		logger.WithFields(log.Fields{
			"amount": domain.FormatAmount(event.AmountMinor, order.Currency),
			"total":  domain.FormatAmount(order.TotalMinor, order.Currency),
		}).Warn("payment amount differs from order total")
	}

	now := r.now()
	actor := domain.ActorFromContext(ctx)
	payment := domain.Payment{
		ID:                   uuid.NewString(),
		OrderID:              order.ID,
		Provider:             event.Provider,
		GatewayTransactionID: event.GatewayTransactionID,
		Status:               status,
		AmountMinor:          event.AmountMinor,
		FeeMinor:             event.FeeMinor,
		FailureMessage:       event.FailureMessage,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if status == domain.PaymentStatusFailed && payment.FailureMessage == "" && !known {
		payment.FailureMessage = "unrecognized provider status: " + event.Status
	}
	if err := tx.Payments().Create(ctx, payment); err != nil {
		return Result{}, fmt.Errorf("create payment: %w", err)
	}

	transition, err := order.Apply(status.OrderEvent(), actor, r.now)
	if err != nil {
		logger.WithError(err).Warn("payment event rejected by order state machine")
		return Result{}, err
	}
	if transition.Changed {
		if err := tx.Orders().Save(ctx, order); err != nil {
			return Result{}, fmt.Errorf("save order: %w", err)
		}
	}

	if err := r.idem.Complete(ctx, tx, namespace, event.GatewayTransactionID, payment.ID); err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(paymentAppliedPayload{
		OrderID:       order.ID,
		PaymentID:     payment.ID,
		Provider:      payment.Provider,
		TransactionID: payment.GatewayTransactionID,
		PaymentStatus: payment.Status,
		OrderStatus:   order.Status,
		AmountMinor:   payment.AmountMinor,
		Currency:      order.Currency,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal payment event: %w", err)
	}
	if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     domain.EventPaymentApplied,
		Payload:       payload,
		CreatedAt:     now,
	}); err != nil {
		return Result{}, fmt.Errorf("enqueue outbox: %w", err)
	}

	reason := fmt.Sprintf("%s payment %s via %s", payment.Status, payment.GatewayTransactionID, payment.Provider)
	if transition.Changed {
		reason += fmt.Sprintf(": %s -> %s", transition.From, transition.To)
	}
	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelinePaymentApplied,
		Reason:   reason,
		Actor:    actor,
		Occurred: now,
	}); err != nil {
		return Result{}, fmt.Errorf("append timeline: %w", err)
	}

	logger.WithFields(log.Fields{
		"payment_id":     payment.ID,
		"payment_status": payment.Status,
		"order_status":   order.Status,
	}).Info("payment event applied")

	return Result{
		Outcome:       OutcomeApplied,
		OrderID:       order.ID,
		PaymentID:     payment.ID,
		PaymentStatus: payment.Status,
		OrderStatus:   order.Status,
	}, nil
}

func (r *Reconciler) duplicate(ctx context.Context, tx domain.Tx, paymentID string) (Result, error) {
	payment, err := tx.Payments().Get(ctx, paymentID)
	if err != nil {
		return Result{}, fmt.Errorf("load processed payment %s: %w", paymentID, err)
	}
	order, err := tx.Orders().Get(ctx, payment.OrderID)
	if err != nil {
		return Result{}, fmt.Errorf("load order %s: %w", payment.OrderID, err)
	}
	return Result{
		Outcome:       OutcomeDuplicate,
		OrderID:       order.ID,
		PaymentID:     payment.ID,
		PaymentStatus: payment.Status,
		OrderStatus:   order.Status,
	}, nil
}

func (r *Reconciler) record(provider, outcome string) {
	if r.recorder == nil {
		return
	}
	r.recorder.RecordPaymentEvent(strings.ToLower(strings.TrimSpace(provider)), outcome)
}

type paymentAppliedPayload struct {
	OrderID       string               `json:"order_id"`
	PaymentID     string               `json:"payment_id"`
	Provider      string               `json:"provider"`
	TransactionID string               `json:"transaction_id"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	OrderStatus   domain.OrderStatus   `json:"order_status"`
	AmountMinor   int64                `json:"amount_minor"`
	Currency      string               `json:"currency"`
}
