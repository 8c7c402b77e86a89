// Package pipeline связывает оформление заказа из корзины и сверку платежей в транзакционные операции.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/checkout"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/inventory"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/payment"
)

// DefaultCurrency — валюта заказов по умолчанию.
const DefaultCurrency = "USD"

// Имена операций для метрик длительности.
const (
	OperationCreateOrder  = "create_order"
	OperationApplyPayment = "apply_payment_event"
	OperationAdvanceOrder = "advance_order"
)

// Результаты создания заказа для метрик.
const (
	CreateResultCreated   = "created"
	CreateResultDuplicate = "duplicate"
)

// Metrics принимает метрики конвейера.
type Metrics interface {
	RecordOrderCreated(result string)
	ObserveOperation(operation string, duration time.Duration)
}

// CreateOrderRequest — параметры оформления заказа. Покупатель берётся из контекста.
type CreateOrderRequest struct {
	PaymentMethod  string
	ShippingMethod string
	// IdempotencyKey необязателен; без него каждый вызов создаёт новый заказ.
	IdempotencyKey string
}

// CreateOrderResult — результат CreateOrder.
type CreateOrderResult struct {
	OrderID    string
	Status     domain.OrderStatus
	TotalMinor int64
	// Duplicate: ключ уже использован, возвращён ранее созданный заказ.
	Duplicate bool
}

// ApplyPaymentResult — результат применения платёжного события.
type ApplyPaymentResult struct {
	OrderID       string
	PaymentID     string
	PaymentStatus domain.PaymentStatus
	OrderStatus   domain.OrderStatus
	Duplicate     bool
}

// OrderDetails — заказ вместе с историей, платежами и дочерними заказами.
type OrderDetails struct {
	Order    domain.Order
	Timeline []domain.TimelineEvent
	Payments []domain.Payment
	Children []string
}

// Pipeline — точка входа всех операций над заказами.
type Pipeline struct {
	uow        domain.UnitOfWork
	assembler  *checkout.Assembler
	ledger     *inventory.Ledger
	idem       *idempotency.Store
	verifier   domain.SignatureVerifier
	adapters   payment.Adapters
	reconciler *payment.Reconciler
	currency   string
	now        domain.Clock
	logger     *log.Entry
	metrics    Metrics
}

// Option настраивает Pipeline.
type Option func(*Pipeline)

// WithAssembler подменяет сборщик черновиков (правила ценообразования).
func WithAssembler(a *checkout.Assembler) Option {
	return func(p *Pipeline) {
		if a != nil {
			p.assembler = a
		}
	}
}

// WithLedger подменяет складской учёт.
func WithLedger(l *inventory.Ledger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.ledger = l
		}
	}
}

// WithIdempotencyStore подменяет хранилище ключей идемпотентности.
func WithIdempotencyStore(s *idempotency.Store) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.idem = s
		}
	}
}

// WithVerifier задаёт проверку подписей вебхуков.
func WithVerifier(v domain.SignatureVerifier) Option {
	return func(p *Pipeline) {
		if v != nil {
			p.verifier = v
		}
	}
}

// WithAdapters задаёт адаптеры провайдеров.
func WithAdapters(a payment.Adapters) Option {
	return func(p *Pipeline) {
		if len(a) > 0 {
			p.adapters = a
		}
	}
}

// WithCurrency задаёт валюту заказов.
func WithCurrency(currency string) Option {
	return func(p *Pipeline) {
		if c := strings.ToUpper(strings.TrimSpace(currency)); c != "" {
			p.currency = c
		}
	}
}

// WithClock подменяет часы.
func WithClock(now domain.Clock) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New собирает конвейер. Без WithVerifier все вебхуки отклоняются.
func New(uow domain.UnitOfWork, options ...Option) *Pipeline {
	p := &Pipeline{
		uow:      uow,
		verifier: rejectAll{},
		adapters: payment.NewAdapters(payment.NewGenericAdapter(payment.ProviderGeneric), payment.NewStripeAdapter()),
		currency: DefaultCurrency,
		now:      domain.SystemClock,
		logger:   log.WithField("component", "order-pipeline"),
	}
	for _, option := range options {
		option(p)
	}

	if p.assembler == nil {
		p.assembler = checkout.NewAssembler(checkout.WithLogger(p.logger.WithField("component", "checkout-assembler")))
	}
	if p.ledger == nil {
		ledgerOptions := []inventory.Option{inventory.WithLogger(p.logger.WithField("component", "inventory-ledger"))}
		if recorder, ok := p.metrics.(inventory.ConflictRecorder); ok {
			ledgerOptions = append(ledgerOptions, inventory.WithConflictRecorder(recorder))
		}
		p.ledger = inventory.NewLedger(ledgerOptions...)
	}
	if p.idem == nil {
		p.idem = idempotency.NewStore(idempotency.WithClock(p.now))
	}

	reconcilerOptions := []payment.ReconcilerOption{
		payment.WithReconcilerClock(p.now),
		payment.WithReconcilerLogger(p.logger.WithField("component", "payment-reconciler")),
	}
	if recorder, ok := p.metrics.(payment.EventRecorder); ok {
		reconcilerOptions = append(reconcilerOptions, payment.WithEventRecorder(recorder))
	}
	p.reconciler = payment.NewReconciler(uow, p.idem, p.adapters, reconcilerOptions...)
	return p
}

// CreateOrder оформляет заказ из корзины покупателя в одной транзакции:
// черновик, списание остатков, сохранение заказа, очистка корзины и событие в outbox.
func (p *Pipeline) CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error) {
	defer p.observe(OperationCreateOrder, p.now())

	principal, err := domain.PrincipalFromContext(ctx)
	if err != nil {
		return CreateOrderResult{}, err
	}
	customerID := strings.TrimSpace(principal.CustomerID)
	key := strings.TrimSpace(req.IdempotencyKey)

	var result CreateOrderResult
	err = p.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var scopedKey string
		if key != "" {
			// ключи разных покупателей не пересекаются
			scopedKey = customerID + "/" + key
			hash := idempotency.HashRequest(customerID, req.PaymentMethod, req.ShippingMethod, p.currency)
			reservation, err := p.idem.CheckAndReserve(ctx, tx, domain.IdempotencyNamespaceOrderCreate, scopedKey, hash)
			if err != nil {
				return err
			}
			if reservation.Duplicate {
				order, err := tx.Orders().Get(ctx, reservation.Outcome)
				if err != nil {
					return fmt.Errorf("load order %s: %w", reservation.Outcome, err)
				}
				result = CreateOrderResult{OrderID: order.ID, Status: order.Status, TotalMinor: order.TotalMinor, Duplicate: true}
				return nil
			}
		}

		cart, err := tx.Carts().Items(ctx, customerID)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		draft, err := p.assembler.BuildDraft(ctx, tx, customerID, cart, checkout.PricingInput{
			Currency:       p.currency,
			PaymentMethod:  req.PaymentMethod,
			ShippingMethod: req.ShippingMethod,
		})
		if err != nil {
			return err
		}

		order := p.newOrder(principal, draft)
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return fmt.Errorf("order invariants: %w", errors.Join(errs...))
		}

		if err := p.ledger.Reserve(ctx, tx, draft.StockLines); err != nil {
			return err
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := tx.Carts().Clear(ctx, customerID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		if scopedKey != "" {
			if err := p.idem.Complete(ctx, tx, domain.IdempotencyNamespaceOrderCreate, scopedKey, order.ID); err != nil {
				return err
			}
		}
		if err := p.enqueue(ctx, tx, order, domain.EventOrderCreated, orderEventPayload{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Status:     order.Status,
			Currency:   order.Currency,
			TotalMinor: order.TotalMinor,
			Items:      len(order.Items),
		}); err != nil {
			return err
		}
		if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelineOrderCreated,
			Reason:   "created from cart",
			Actor:    customerID,
			Occurred: order.CreatedAt,
		}); err != nil {
			return fmt.Errorf("append timeline: %w", err)
		}

		result = CreateOrderResult{OrderID: order.ID, Status: order.Status, TotalMinor: order.TotalMinor}
		return nil
	})

	entry := p.logger.WithFields(log.Fields{
		"customer_id":     customerID,
		"idempotency_key": key,
	})
	if err != nil {
		p.recordCreated(domain.ReasonCode(err))
		entry.WithError(err).WithField("reason", domain.ReasonCode(err)).Info("order creation rejected")
		return CreateOrderResult{}, err
	}
	if result.Duplicate {
		p.recordCreated(CreateResultDuplicate)
		entry.WithField("order_id", result.OrderID).Debug("order creation replayed")
		return result, nil
	}
	p.recordCreated(CreateResultCreated)
	entry.WithFields(log.Fields{
		"order_id": result.OrderID,
		"total":    domain.FormatAmount(result.TotalMinor, p.currency),
	}).Info("order created")
	return result, nil
}

func (p *Pipeline) newOrder(principal domain.Principal, draft checkout.Draft) domain.Order {
	now := p.now()
	order := domain.Order{
		ID:              uuid.NewString(),
		CustomerID:      draft.CustomerID,
		CustomerName:    principal.DisplayName,
		Status:          domain.OrderStatusNew,
		Currency:        draft.Currency,
		DiscountMinor:   draft.DiscountMinor,
		TaxMinor:        draft.TaxMinor,
		ShippingMinor:   draft.ShippingMinor,
		PaymentFeeMinor: draft.PaymentFeeMinor,
		PaymentMethod:   draft.PaymentMethod,
		ShippingMethod:  draft.ShippingMethod,
		Items:           make([]domain.OrderItem, 0, len(draft.Items)),
		CreatedAt:       now,
		UpdatedAt:       now,
		CreatedBy:       principal.CustomerID,
		UpdatedBy:       principal.CustomerID,
	}
	for _, item := range draft.Items {
		item.ID = uuid.NewString()
		item.CreatedAt = now
		order.Items = append(order.Items, item)
	}
	order.RecalculateTotals()
	return order
}

// ApplyPaymentEvent проверяет подпись вебхука, разбирает тело адаптером провайдера и сверяет платёж.
// Дубликат не считается ошибкой: возвращается результат первой обработки.
func (p *Pipeline) ApplyPaymentEvent(ctx context.Context, provider string, rawBody []byte, headers http.Header) (ApplyPaymentResult, error) {
	defer p.observe(OperationApplyPayment, p.now())

	provider = strings.ToLower(strings.TrimSpace(provider))
	if err := p.verifier.Verify(ctx, provider, rawBody, headers); err != nil {
		p.logger.WithError(err).WithField("provider", provider).Warn("webhook signature rejected")
		return ApplyPaymentResult{}, err
	}

	adapter, err := p.adapters.Lookup(provider)
	if err != nil {
		return ApplyPaymentResult{}, err
	}
	event, err := adapter.Parse(rawBody)
	if err != nil {
		p.logger.WithError(err).WithField("provider", provider).Warn("webhook body rejected")
		return ApplyPaymentResult{}, err
	}

	return p.applyEvent(ctx, event)
}

// ApplyNormalizedEvent сверяет уже разобранное событие из доверенного источника (Kafka).
func (p *Pipeline) ApplyNormalizedEvent(ctx context.Context, event domain.NormalizedEvent) (ApplyPaymentResult, error) {
	defer p.observe(OperationApplyPayment, p.now())

	if _, err := p.adapters.Lookup(event.Provider); err != nil {
		return ApplyPaymentResult{}, err
	}
	return p.applyEvent(ctx, event)
}

func (p *Pipeline) applyEvent(ctx context.Context, event domain.NormalizedEvent) (ApplyPaymentResult, error) {
	res, err := p.reconciler.Apply(ctx, event)
	if err != nil {
		return ApplyPaymentResult{}, err
	}
	return ApplyPaymentResult{
		OrderID:       res.OrderID,
		PaymentID:     res.PaymentID,
		PaymentStatus: res.PaymentStatus,
		OrderStatus:   res.OrderStatus,
		Duplicate:     res.Outcome == payment.OutcomeDuplicate,
	}, nil
}

// AdvanceOrder меняет статус заказа административным событием (отгрузка, доставка, возврат, отмена).
func (p *Pipeline) AdvanceOrder(ctx context.Context, orderID string, event domain.OrderEvent, note string) (domain.Order, error) {
	defer p.observe(OperationAdvanceOrder, p.now())

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	actor := domain.ActorFromContext(ctx)

	var updated domain.Order
	err := p.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load order %s: %w", orderID, err)
		}
		transition, err := order.Apply(event, actor, p.now)
		if err != nil {
			return err
		}
		if !transition.Changed {
			updated = order
			return nil
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		order.Version++

		if err := p.enqueue(ctx, tx, order, domain.EventOrderStatusChanged, statusChangedPayload{
			OrderID: order.ID,
			From:    transition.From,
			To:      transition.To,
			Event:   event,
			Actor:   actor,
		}); err != nil {
			return err
		}

		reason := fmt.Sprintf("%s -> %s", transition.From, transition.To)
		if note = strings.TrimSpace(note); note != "" {
			reason += ": " + note
		}
		if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelineStatusChanged,
			Reason:   reason,
			Actor:    actor,
			Occurred: order.UpdatedAt,
		}); err != nil {
			return fmt.Errorf("append timeline: %w", err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	p.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"event":    event,
		"status":   updated.Status,
		"actor":    actor,
	}).Info("order status advanced")
	return updated, nil
}

// GetOrder возвращает заказ с таймлайном, платежами и дочерними заказами мастер-заказа.
func (p *Pipeline) GetOrder(ctx context.Context, orderID string) (OrderDetails, error) {
	var details OrderDetails
	err := p.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().Get(ctx, strings.TrimSpace(orderID))
		if err != nil {
			return err
		}
		timeline, err := tx.Timeline().List(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("load timeline: %w", err)
		}
		payments, err := tx.Payments().ListByOrder(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("load payments: %w", err)
		}
		var children []string
		if order.IsMasterOrder {
			if children, err = tx.Orders().ListChildren(ctx, order.ID); err != nil {
				return fmt.Errorf("load sub-orders: %w", err)
			}
		}
		details = OrderDetails{Order: order, Timeline: timeline, Payments: payments, Children: children}
		return nil
	})
	if err != nil {
		return OrderDetails{}, err
	}
	return details, nil
}

// ListOrders ищет заказы по фильтру, новые первыми.
func (p *Pipeline) ListOrders(ctx context.Context, filter domain.OrderFilter, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := p.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		orders, err = tx.Orders().List(ctx, filter, domain.NormalizeLimit(limit))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// ListPayments возвращает платежи заказа.
func (p *Pipeline) ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := p.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Orders().Get(ctx, strings.TrimSpace(orderID)); err != nil {
			return err
		}
		var err error
		payments, err = tx.Payments().ListByOrder(ctx, strings.TrimSpace(orderID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (p *Pipeline) enqueue(ctx context.Context, tx domain.Tx, order domain.Order, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       body,
		CreatedAt:     p.now(),
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

func (p *Pipeline) observe(operation string, started time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveOperation(operation, p.now().Sub(started))
	}
}

func (p *Pipeline) recordCreated(result string) {
	if p.metrics != nil {
		p.metrics.RecordOrderCreated(result)
	}
}

type orderEventPayload struct {
	OrderID    string             `json:"order_id"`
	CustomerID string             `json:"customer_id"`
	Status     domain.OrderStatus `json:"status"`
	Currency   string             `json:"currency"`
	TotalMinor int64              `json:"total_minor"`
	Items      int                `json:"items"`
}

type statusChangedPayload struct {
	OrderID string             `json:"order_id"`
	From    domain.OrderStatus `json:"from"`
	To      domain.OrderStatus `json:"to"`
	Event   domain.OrderEvent  `json:"event"`
	Actor   string             `json:"actor"`
}

// rejectAll отклоняет любые подписи, пока не настроена проверка.
type rejectAll struct{}

func (rejectAll) Verify(context.Context, string, []byte, http.Header) error {
	return domain.ErrInvalidSignature
}

// AddToCart кладёт товар в корзину текущего покупателя. Недоступный товар отклоняется сразу,
// окончательная проверка остатков всё равно выполняется при оформлении.
func (p *Pipeline) AddToCart(ctx context.Context, productID int64, qty int32) ([]domain.CartItem, error) {
	principal, err := domain.PrincipalFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, domain.ErrItemQtyInvalid
	}

	var items []domain.CartItem
	err = p.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		product, err := tx.Catalog().GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if reason := product.UnavailableReason(); reason != "" {
			return &domain.ProductUnavailableError{ProductID: productID, Reason: reason}
		}
		if err := tx.Carts().Add(ctx, domain.CartItem{
			CustomerID: principal.CustomerID,
			ProductID:  productID,
			Qty:        qty,
			UpdatedAt:  p.now(),
		}); err != nil {
			return fmt.Errorf("add cart item: %w", err)
		}
		items, err = tx.Carts().Items(ctx, principal.CustomerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Cart возвращает корзину текущего покупателя.
func (p *Pipeline) Cart(ctx context.Context) ([]domain.CartItem, error) {
	principal, err := domain.PrincipalFromContext(ctx)
	if err != nil {
		return nil, err
	}
	var items []domain.CartItem
	err = p.uow.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		items, err = tx.Carts().Items(ctx, principal.CustomerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return items, nil
}
