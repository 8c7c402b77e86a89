package domain

import (
	"strings"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что ключ зарезервирован и запрос ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что запрос завершён и результат сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone:
		return true
	default:
		return false
	}
}

// Пространства имён ключей идемпотентности.
const (
	// IdempotencyNamespaceOrderCreate — ключи клиента при оформлении заказа.
	IdempotencyNamespaceOrderCreate = "order.create"
	// idempotencyNamespacePaymentPrefix — префикс ключей платёжных событий, ключом служит id транзакции шлюза.
	idempotencyNamespacePaymentPrefix = "payment."
)

// PaymentNamespace возвращает пространство имён ключей для платёжного провайдера.
func PaymentNamespace(provider string) string {
	return idempotencyNamespacePaymentPrefix + strings.ToLower(strings.TrimSpace(provider))
}

// IdempotencyRecord хранит состояние обработки запроса с ключом идемпотентности.
// Outcome записывается один раз: id заказа или id платежа.
type IdempotencyRecord struct {
	Namespace   string
	Key         string
	RequestHash string
	Status      IdempotencyStatus
	Outcome     string
	TTLAt       time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired сообщает, истёк ли срок жизни записи к моменту now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !now.Before(r.TTLAt)
}
