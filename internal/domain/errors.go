package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Мастер-заказ не должен содержать позиций.
	ErrMasterOrderHasItems = errors.New("master order must not contain items")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("order amounts must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Количество одного товара превышает MaxLineQty.
	ErrItemQtyTooLarge = errors.New("item qty exceeds per-line limit")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Один и тот же товар встречается в заказе дважды.
	ErrItemDuplicateProduct = errors.New("order contains duplicate product")
	// Ошибка несоответствия подытога и суммы позиций.
	ErrSubtotalMismatch = errors.New("order subtotal does not match items sum")
	// Ошибка несоответствия итоговой суммы формуле.
	ErrTotalMismatch = errors.New("order total does not match subtotal - discount + tax + shipping + payment fee")

	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего кода платёжного провайдера.
	ErrPaymentProviderRequired = errors.New("payment provider is required")
	// Ошибка отсутствующего идентификатора транзакции шлюза.
	ErrGatewayTransactionIDRequired = errors.New("gateway transaction id is required")
	// Ошибка отсутствующего идентификатора заказа в платежах.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrPaymentImmutable — успешный платёж нельзя изменять.
	ErrPaymentImmutable = errors.New("succeeded payment is immutable")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentAlreadyExists — платёж с такой транзакцией провайдера уже сохранён.
	ErrPaymentAlreadyExists = errors.New("payment with this gateway transaction already exists")
	// ErrProductNotFound — товар отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")

	// ErrEmptyCart — корзина покупателя пуста.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrProductUnavailable — товар удалён, снят с публикации или недоступен для заказа.
	ErrProductUnavailable = errors.New("product is not available for order")
	// ErrInsufficientStock — недостаточно остатков (в том числе проигранная гонка за последний товар).
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUnauthenticated — в контексте нет текущего покупателя.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrIllegalTransition — переход статуса заказа запрещён машиной состояний.
	ErrIllegalTransition = errors.New("illegal order status transition")
	// ErrUnknownOrderEvent — событие не входит в словарь машины состояний.
	ErrUnknownOrderEvent = errors.New("unknown order event")

	// ErrInvalidSignature — подпись вебхука не прошла проверку.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent — тело вебхука не удалось разобрать в нормализованное событие.
	ErrMalformedEvent = errors.New("malformed payment event")
	// ErrUnknownProvider — для провайдера не зарегистрирован адаптер.
	ErrUnknownProvider = errors.New("unknown payment provider")

	// Ошибки idempotency-хранилища.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyNamespaceRequired   = errors.New("idempotency namespace is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key is already used with different request payload")
	ErrIdempotencyRequestInProgress   = errors.New("request with the same idempotency key is already processing")
	ErrIdempotencyOutcomeRequired     = errors.New("idempotency outcome is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ProductUnavailableError указывает товар, из-за которого отклонён весь черновик заказа.
type ProductUnavailableError struct {
	ProductID int64
	Reason    string
}

func (e *ProductUnavailableError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("product %d is not available for order", e.ProductID)
	}
	return fmt.Sprintf("product %d is not available for order: %s", e.ProductID, e.Reason)
}

func (e *ProductUnavailableError) Unwrap() error { return ErrProductUnavailable }

// InsufficientStockError описывает позицию, для которой не хватило остатков.
type InsufficientStockError struct {
	ProductID int64
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// StockValidationError собирает все позиции корзины с нехваткой остатков,
// чтобы вызывающая сторона могла показать доступное количество по каждой.
type StockValidationError struct {
	Lines []InsufficientStockError
}

func (e *StockValidationError) Error() string {
	if len(e.Lines) == 1 {
		return e.Lines[0].Error()
	}
	return fmt.Sprintf("insufficient stock for %d products (first: %s)", len(e.Lines), e.Lines[0].Error())
}

// Unwrap отдаёт первую позицию, поэтому errors.As(err, **InsufficientStockError) работает напрямую.
func (e *StockValidationError) Unwrap() error {
	if len(e.Lines) == 0 {
		return ErrInsufficientStock
	}
	return &e.Lines[0]
}

// TransitionError описывает отклонённый переход машины состояний.
type TransitionError struct {
	From  OrderStatus
	Event OrderEvent
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot apply %q to order in status %q", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, связан ли отказ с повторным использованием ключа идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// Коды причин отказа, которые транспортный слой использует в логах и ответах.
const (
	ReasonEmptyCart          = "empty_cart"
	ReasonProductUnavailable = "product_unavailable"
	ReasonInsufficientStock  = "insufficient_stock"
	ReasonUnauthenticated    = "unauthenticated"
	ReasonOrderNotFound      = "order_not_found"
	ReasonInvalidSignature   = "invalid_signature"
	ReasonMalformedEvent     = "malformed_event"
	ReasonUnknownProvider    = "unknown_provider"
	ReasonIllegalTransition  = "illegal_transition"
	ReasonIdempotencyReuse   = "idempotency_key_reused"
	ReasonInProgress         = "request_in_progress"
	ReasonVersionConflict    = "version_conflict"
	ReasonInvalidRequest     = "invalid_request"
	ReasonInternal           = "internal"
)

// ReasonCode сопоставляет ошибку стабильному коду причины.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyCart):
		return ReasonEmptyCart
	case errors.Is(err, ErrProductUnavailable), errors.Is(err, ErrProductNotFound):
		return ReasonProductUnavailable
	case errors.Is(err, ErrInsufficientStock):
		return ReasonInsufficientStock
	case errors.Is(err, ErrUnauthenticated):
		return ReasonUnauthenticated
	case errors.Is(err, ErrOrderNotFound):
		return ReasonOrderNotFound
	case errors.Is(err, ErrInvalidSignature):
		return ReasonInvalidSignature
	case errors.Is(err, ErrMalformedEvent):
		return ReasonMalformedEvent
	case errors.Is(err, ErrUnknownProvider):
		return ReasonUnknownProvider
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrUnknownOrderEvent):
		return ReasonIllegalTransition
	case errors.Is(err, ErrIdempotencyHashMismatch):
		return ReasonIdempotencyReuse
	case errors.Is(err, ErrIdempotencyRequestInProgress):
		return ReasonInProgress
	case errors.Is(err, ErrOrderVersionConflict):
		return ReasonVersionConflict
	case errors.Is(err, ErrCustomerRequired), errors.Is(err, ErrOrderIDRequired),
		errors.Is(err, ErrIdempotencyKeyRequired), errors.Is(err, ErrGatewayTransactionIDRequired),
		errors.Is(err, ErrItemQtyInvalid), errors.Is(err, ErrItemQtyTooLarge):
		return ReasonInvalidRequest
	default:
		return ReasonInternal
	}
}
