package domain

import (
	"context"
	"net/http"
	"time"
)

// Clock возвращает текущее время; в тестах подменяется фиксированным.
type Clock func() time.Time

// SystemClock — часы по умолчанию (UTC).
func SystemClock() time.Time { return time.Now().UTC() }

// UnitOfWork открывает транзакцию хранилища на время вызова fn.
// Успешный возврат fn фиксирует изменения, любая ошибка или паника откатывает их.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx — набор репозиториев, работающих внутри одной транзакции.
type Tx interface {
	Orders() OrderRepository
	Payments() PaymentRepository
	Catalog() CatalogRepository
	Stock() StockRepository
	Carts() CartRepository
	Idempotency() IdempotencyRepository
	Outbox() OutboxRepository
	Timeline() TimelineRepository
}

// CatalogRepository — порт каталога товаров.
type CatalogRepository interface {
	// GetProduct возвращает товар или ErrProductNotFound.
	GetProduct(ctx context.Context, id int64) (Product, error)
	// SaveProduct создаёт или обновляет карточку товара.
	SaveProduct(ctx context.Context, p Product) error
}

// StockRepository работает с остатками товаров.
type StockRepository interface {
	// Available возвращает текущий остаток товара.
	Available(ctx context.Context, productID int64) (int32, error)
	// Decrement атомарно списывает qty, только если остатка хватает.
	// false без ошибки означает проигранную гонку.
	Decrement(ctx context.Context, productID int64, qty int32) (bool, error)
}

// CartRepository — порт корзины покупателя.
type CartRepository interface {
	Items(ctx context.Context, customerID string) ([]CartItem, error)
	// Add увеличивает количество товара в корзине или добавляет строку.
	Add(ctx context.Context, item CartItem) error
	Clear(ctx context.Context, customerID string) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// List возвращает заказы по фильтру, новые первыми.
	List(ctx context.Context, filter OrderFilter, limit int) ([]Order, error)
	// ListChildren возвращает id дочерних заказов мастер-заказа.
	ListChildren(ctx context.Context, parentID string) ([]string, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}

// PaymentRepository хранит платежи по заказам.
type PaymentRepository interface {
	// Create сохраняет платёж; повтор (provider, gateway transaction) даёт ErrPaymentAlreadyExists.
	Create(ctx context.Context, payment Payment) error
	Get(ctx context.Context, id string) (Payment, error)
	// GetByGatewayTransaction ищет платёж по (provider, gateway transaction) или возвращает ErrPaymentNotFound.
	GetByGatewayTransaction(ctx context.Context, provider, transactionID string) (Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
}

// IdempotencyRepository хранит состояние обработки запросов по ключу идемпотентности.
type IdempotencyRepository interface {
	// Reserve вставляет запись, если ключа ещё нет. Иначе возвращает существующую и created=false.
	Reserve(ctx context.Context, record IdempotencyRecord) (existing IdempotencyRecord, created bool, err error)
	// TakeOver перезаписывает просроченную запись новой резервацией; false, если запись ещё жива.
	TakeOver(ctx context.Context, record IdempotencyRecord, now time.Time) (bool, error)
	Get(ctx context.Context, namespace, key string) (IdempotencyRecord, error)
	// Complete записывает результат и переводит ключ в done.
	Complete(ctx context.Context, namespace, key, outcome string, now time.Time) error
	Delete(ctx context.Context, namespace, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, msg OutboxMessage) error
}

// SignatureVerifier проверяет подпись входящего вебхука платёжного провайдера.
type SignatureVerifier interface {
	Verify(ctx context.Context, provider string, rawBody []byte, headers http.Header) error
}

// PaymentAdapter разбирает тело вебхука конкретного провайдера в нормализованное событие.
type PaymentAdapter interface {
	Provider() string
	Parse(rawBody []byte) (NormalizedEvent, error)
	StatusMapping() StatusMapping
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Типы событий outbox.
const (
	AggregateOrder = "order"

	EventOrderCreated       = "order.created"
	EventPaymentApplied     = "payment.applied"
	EventOrderStatusChanged = "order.status_changed"
)
