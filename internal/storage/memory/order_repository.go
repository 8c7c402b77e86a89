package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// orderRepository — in-memory реализация OrderRepository поверх Store.
type orderRepository struct {
	tx *memTx
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r orderRepository) Create(_ context.Context, order domain.Order) error {
	defer r.tx.enter()()
	s := r.tx.store

	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	s.orders[order.ID] = order.Clone()
	r.tx.onRollback(func() { delete(s.orders, order.ID) })
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	defer r.tx.enter()()

	order, ok := r.tx.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// GetForUpdate совпадает с Get: транзакция и так держит общий мьютекс.
func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

// List возвращает заказы по фильтру, новые первыми.
func (r orderRepository) List(_ context.Context, filter domain.OrderFilter, limit int) ([]domain.Order, error) {
	defer r.tx.enter()()

	result := make([]domain.Order, 0)
	for _, order := range r.tx.store.orders {
		if !filter.Matches(order) {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	limit = domain.NormalizeLimit(limit)
	if len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// ListChildren возвращает id дочерних заказов в порядке создания.
func (r orderRepository) ListChildren(_ context.Context, parentID string) ([]string, error) {
	defer r.tx.enter()()

	children := make([]domain.Order, 0)
	for _, order := range r.tx.store.orders {
		if order.ParentID == parentID {
			children = append(children, order)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		if !children[i].CreatedAt.Equal(children[j].CreatedAt) {
			return children[i].CreatedAt.Before(children[j].CreatedAt)
		}
		return children[i].ID < children[j].ID
	})

	ids := make([]string, 0, len(children))
	for _, child := range children {
		ids = append(ids, child.ID)
	}
	return ids, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r orderRepository) Save(_ context.Context, order domain.Order) error {
	defer r.tx.enter()()
	s := r.tx.store

	current, ok := s.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	s.orders[order.ID] = order.Clone()
	r.tx.onRollback(func() { s.orders[current.ID] = current })
	return nil
}

var _ domain.OrderRepository = orderRepository{}
