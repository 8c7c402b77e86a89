package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// Store — in-memory хранилище для локальной разработки и тестов.
// Транзакции сериализуются одним мьютексом; изменения неудачной транзакции
// откатываются по журналу отмены. Вложенные WithinTx не поддерживаются.
type Store struct {
	mu sync.Mutex

	orders      map[string]domain.Order
	payments    map[string]domain.Payment
	paymentKeys map[string]string
	products    map[int64]domain.Product
	carts       map[string]map[int64]domain.CartItem
	idempotency map[string]domain.IdempotencyRecord
	outbox      map[string]*outboxRecord
	outboxSeq   int64
	timeline    map[string][]domain.TimelineEvent

	auto *memTx
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	s := &Store{
		orders:      make(map[string]domain.Order),
		payments:    make(map[string]domain.Payment),
		paymentKeys: make(map[string]string),
		products:    make(map[int64]domain.Product),
		carts:       make(map[string]map[int64]domain.CartItem),
		idempotency: make(map[string]domain.IdempotencyRecord),
		outbox:      make(map[string]*outboxRecord),
		timeline:    make(map[string][]domain.TimelineEvent),
	}
	s.auto = &memTx{store: s, autocommit: true}
	return s
}

// WithinTx выполняет fn под общим мьютексом хранилища.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Ping всегда успешен; нужен для health-чекеров.
func (s *Store) Ping(context.Context) error { return nil }

// Close ничего не делает, оставлен для единообразия с postgres.Store.
func (s *Store) Close() error { return nil }

// Методы ниже дают доступ к репозиториям вне транзакции: каждый вызов атомарен сам по себе.

func (s *Store) Orders() domain.OrderRepository            { return s.auto.Orders() }
func (s *Store) Payments() domain.PaymentRepository        { return s.auto.Payments() }
func (s *Store) Catalog() domain.CatalogRepository         { return s.auto.Catalog() }
func (s *Store) Stock() domain.StockRepository             { return s.auto.Stock() }
func (s *Store) Carts() domain.CartRepository              { return s.auto.Carts() }
func (s *Store) Idempotency() domain.IdempotencyRepository { return s.auto.Idempotency() }
func (s *Store) Outbox() domain.OutboxRepository           { return s.auto.Outbox() }
func (s *Store) Timeline() domain.TimelineRepository       { return s.auto.Timeline() }

// memTx — транзакция in-memory хранилища.
type memTx struct {
	store      *Store
	autocommit bool
	undo       []func()
}

// enter захватывает мьютекс для вызовов вне транзакции.
func (t *memTx) enter() func() {
	if t.autocommit {
		t.store.mu.Lock()
		return t.store.mu.Unlock
	}
	return func() {}
}

// onRollback регистрирует отмену изменения.
func (t *memTx) onRollback(fn func()) {
	if t.autocommit {
		return
	}
	t.undo = append(t.undo, fn)
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) Orders() domain.OrderRepository            { return orderRepository{tx: t} }
func (t *memTx) Payments() domain.PaymentRepository        { return paymentRepository{tx: t} }
func (t *memTx) Catalog() domain.CatalogRepository         { return catalogRepository{tx: t} }
func (t *memTx) Stock() domain.StockRepository             { return catalogRepository{tx: t} }
func (t *memTx) Carts() domain.CartRepository              { return cartRepository{tx: t} }
func (t *memTx) Idempotency() domain.IdempotencyRepository { return idempotencyRepository{tx: t} }
func (t *memTx) Outbox() domain.OutboxRepository           { return outboxRepository{tx: t} }
func (t *memTx) Timeline() domain.TimelineRepository       { return timelineRepository{tx: t} }

var (
	_ domain.UnitOfWork = (*Store)(nil)
	_ domain.Tx         = (*Store)(nil)
	_ domain.Tx         = (*memTx)(nil)
)
