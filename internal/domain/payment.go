package domain

import (
	"strings"
	"time"
)

// PaymentStatus описывает состояние платежа в системе.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж инициирован, но не подтверждён.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSucceeded — провайдер подтвердил списание.
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	// PaymentStatusFailed — провайдер отклонил платёж или статус не распознан.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSucceeded, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// OrderEvent возвращает событие машины состояний, соответствующее каноническому статусу.
func (s PaymentStatus) OrderEvent() OrderEvent {
	if s == PaymentStatusSucceeded {
		return OrderEventPaymentSucceeded
	}
	return OrderEventPaymentFailed
}

// Payment описывает платёж, связанный с заказом.
type Payment struct {
	ID                   string
	OrderID              string
	Provider             string
	GatewayTransactionID string
	Status               PaymentStatus
	AmountMinor          int64
	FeeMinor             int64
	FailureMessage       string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.Provider == "" {
		errs = append(errs, ErrPaymentProviderRequired)
	}
	if p.GatewayTransactionID == "" {
		errs = append(errs, ErrGatewayTransactionIDRequired)
	}
	if p.AmountMinor < 0 || p.FeeMinor < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}

	return errs
}

// NormalizedEvent — событие платёжного провайдера после разбора адаптером.
// Status хранит исходное значение провайдера; каноническим его делает StatusMapping.
type NormalizedEvent struct {
	Provider             string `json:"provider"`
	GatewayTransactionID string `json:"transaction_id"`
	OrderID              string `json:"order_id"`
	AmountMinor          int64  `json:"amount_minor"`
	FeeMinor             int64  `json:"fee_minor"`
	Status               string `json:"status"`
	FailureMessage       string `json:"failure_message,omitempty"`
}

// Validate проверяет обязательные поля нормализованного события.
func (e NormalizedEvent) Validate() []error {
	var errs []error
	if strings.TrimSpace(e.Provider) == "" {
		errs = append(errs, ErrPaymentProviderRequired)
	}
	if strings.TrimSpace(e.GatewayTransactionID) == "" {
		errs = append(errs, ErrGatewayTransactionIDRequired)
	}
	if strings.TrimSpace(e.OrderID) == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if e.AmountMinor < 0 || e.FeeMinor < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}
	return errs
}

// StatusMapping — явная таблица "статус провайдера -> канонический статус".
// Нераспознанные значения всегда отображаются в PaymentStatusFailed.
type StatusMapping map[string]PaymentStatus

// Map возвращает канонический статус и признак того, что значение было в таблице.
func (m StatusMapping) Map(providerStatus string) (PaymentStatus, bool) {
	status, ok := m[strings.ToLower(strings.TrimSpace(providerStatus))]
	if !ok || status != PaymentStatusSucceeded {
		return PaymentStatusFailed, ok
	}
	return status, true
}
