package payment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// Коды поддерживаемых провайдеров.
const (
	ProviderGeneric = "generic"
	ProviderStripe  = "stripe"
)

// GenericStatusMapping — статусы универсального JSON-шлюза.
var GenericStatusMapping = domain.StatusMapping{
	"completed": domain.PaymentStatusSucceeded,
	"paid":      domain.PaymentStatusSucceeded,
	"succeeded": domain.PaymentStatusSucceeded,
	"success":   domain.PaymentStatusSucceeded,
	"failed":    domain.PaymentStatusFailed,
	"declined":  domain.PaymentStatusFailed,
	"canceled":  domain.PaymentStatusFailed,
	"cancelled": domain.PaymentStatusFailed,
	"error":     domain.PaymentStatusFailed,
}

// Типы событий Stripe, которые понимает адаптер.
const (
	stripeEventIntentSucceeded = "payment_intent.succeeded"
	stripeEventIntentFailed    = "payment_intent.payment_failed"
)

// StripeStatusMapping — типы событий Stripe.
var StripeStatusMapping = domain.StatusMapping{
	stripeEventIntentSucceeded: domain.PaymentStatusSucceeded,
	stripeEventIntentFailed:    domain.PaymentStatusFailed,
}

// GenericAdapter разбирает тело вида
// {"transaction_id", "order_id", "amount_minor", "fee_minor", "status", "failure_message"}.
type GenericAdapter struct {
	provider string
}

// NewGenericAdapter создаёт адаптер для провайдера с универсальным форматом.
func NewGenericAdapter(provider string) *GenericAdapter {
	if strings.TrimSpace(provider) == "" {
		provider = ProviderGeneric
	}
	return &GenericAdapter{provider: strings.ToLower(strings.TrimSpace(provider))}
}

func (a *GenericAdapter) Provider() string                    { return a.provider }
func (a *GenericAdapter) StatusMapping() domain.StatusMapping { return GenericStatusMapping }

// Parse реализует domain.PaymentAdapter.
func (a *GenericAdapter) Parse(rawBody []byte) (domain.NormalizedEvent, error) {
	var body struct {
		TransactionID  string `json:"transaction_id"`
		OrderID        string `json:"order_id"`
		AmountMinor    int64  `json:"amount_minor"`
		FeeMinor       int64  `json:"fee_minor"`
		Status         string `json:"status"`
		FailureMessage string `json:"failure_message"`
	}
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	event := domain.NormalizedEvent{
		Provider:             a.provider,
		GatewayTransactionID: strings.TrimSpace(body.TransactionID),
		OrderID:              strings.TrimSpace(body.OrderID),
		AmountMinor:          body.AmountMinor,
		FeeMinor:             body.FeeMinor,
		Status:               body.Status,
		FailureMessage:       body.FailureMessage,
	}
	if errs := event.Validate(); len(errs) > 0 {
		return domain.NormalizedEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, errs[0])
	}
	return event, nil
}

// StripeAdapter разбирает события payment_intent.*; id заказа берётся из metadata.order_id,
// транзакция шлюза — попытка оплаты (charge), а не сам PaymentIntent.
type StripeAdapter struct{}

// NewStripeAdapter создаёт адаптер Stripe.
func NewStripeAdapter() *StripeAdapter { return &StripeAdapter{} }

func (a *StripeAdapter) Provider() string                    { return ProviderStripe }
func (a *StripeAdapter) StatusMapping() domain.StatusMapping { return StripeStatusMapping }

// Parse реализует domain.PaymentAdapter.
func (a *StripeAdapter) Parse(rawBody []byte) (domain.NormalizedEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return domain.NormalizedEvent{}, fmt.Errorf("%w: event %q has no data object", domain.ErrMalformedEvent, event.ID)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return domain.NormalizedEvent{}, fmt.Errorf("%w: payment intent: %v", domain.ErrMalformedEvent, err)
	}

	normalized := domain.NormalizedEvent{
		Provider:             ProviderStripe,
		GatewayTransactionID: stripeAttemptID(&event, &intent),
		OrderID:              strings.TrimSpace(intent.Metadata["order_id"]),
		AmountMinor:          intent.Amount,
		Status:               string(event.Type),
	}
	if intent.LastPaymentError != nil {
		normalized.FailureMessage = intent.LastPaymentError.Msg
	}
	if errs := normalized.Validate(); len(errs) > 0 {
		return domain.NormalizedEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, errs[0])
	}
	return normalized, nil
}

// stripeAttemptID возвращает id попытки оплаты: повторная попытка по тому же PaymentIntent
// создаёт новый charge и должна обрабатываться как новая транзакция.
// Порядок: latest_charge, charge из last_payment_error, id события.
func stripeAttemptID(event *stripe.Event, intent *stripe.PaymentIntent) string {
	if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
		return intent.LatestCharge.ID
	}
	if intent.LastPaymentError != nil && intent.LastPaymentError.ChargeID != "" {
		return intent.LastPaymentError.ChargeID
	}
	return event.ID
}

// Adapters — реестр адаптеров по коду провайдера.
type Adapters map[string]domain.PaymentAdapter

// NewAdapters собирает реестр из адаптеров.
func NewAdapters(adapters ...domain.PaymentAdapter) Adapters {
	registry := make(Adapters, len(adapters))
	for _, adapter := range adapters {
		registry[adapter.Provider()] = adapter
	}
	return registry
}

// Lookup возвращает адаптер или ErrUnknownProvider.
func (a Adapters) Lookup(provider string) (domain.PaymentAdapter, error) {
	adapter, ok := a[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", provider, domain.ErrUnknownProvider)
	}
	return adapter, nil
}

var (
	_ domain.PaymentAdapter = (*GenericAdapter)(nil)
	_ domain.PaymentAdapter = (*StripeAdapter)(nil)
)
