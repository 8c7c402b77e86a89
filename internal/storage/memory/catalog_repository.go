package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// catalogRepository обслуживает и каталог, и остатки: в памяти это одна таблица товаров.
type catalogRepository struct {
	tx *memTx
}

func (r catalogRepository) GetProduct(_ context.Context, id int64) (domain.Product, error) {
	defer r.tx.enter()()

	product, ok := r.tx.store.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r catalogRepository) SaveProduct(_ context.Context, product domain.Product) error {
	defer r.tx.enter()()
	s := r.tx.store

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	prev, existed := s.products[product.ID]
	s.products[product.ID] = product
	r.tx.onRollback(func() {
		if existed {
			s.products[product.ID] = prev
			return
		}
		delete(s.products, product.ID)
	})
	return nil
}

func (r catalogRepository) Available(_ context.Context, productID int64) (int32, error) {
	defer r.tx.enter()()

	product, ok := r.tx.store.products[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return product.StockQuantity, nil
}

// Decrement списывает остаток, только если его хватает.
func (r catalogRepository) Decrement(_ context.Context, productID int64, qty int32) (bool, error) {
	defer r.tx.enter()()
	s := r.tx.store

	product, ok := s.products[productID]
	if !ok {
		return false, domain.ErrProductNotFound
	}
	if product.StockQuantity < qty {
		return false, nil
	}
	product.StockQuantity -= qty
	s.products[productID] = product
	r.tx.onRollback(func() {
		p := s.products[productID]
		p.StockQuantity += qty
		s.products[productID] = p
	})
	return true, nil
}

type cartRepository struct {
	tx *memTx
}

// Items возвращает строки корзины в порядке id товара.
func (r cartRepository) Items(_ context.Context, customerID string) ([]domain.CartItem, error) {
	defer r.tx.enter()()

	lines := r.tx.store.carts[customerID]
	result := make([]domain.CartItem, 0, len(lines))
	for _, item := range lines {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result, nil
}

func (r cartRepository) Add(_ context.Context, item domain.CartItem) error {
	if item.Qty <= 0 {
		return domain.ErrItemQtyInvalid
	}
	if item.Qty > domain.MaxLineQty {
		return domain.ErrItemQtyTooLarge
	}

	defer r.tx.enter()()
	s := r.tx.store

	lines, ok := s.carts[item.CustomerID]
	if !ok {
		lines = make(map[int64]domain.CartItem)
		s.carts[item.CustomerID] = lines
	}
	prev, existed := lines[item.ProductID]
	if existed {
		merged, err := domain.MergeLineQty(prev.Qty, item.Qty)
		if err != nil {
			return err
		}
		item.Qty = merged
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	lines[item.ProductID] = item
	r.tx.onRollback(func() {
		if existed {
			lines[item.ProductID] = prev
			return
		}
		delete(lines, item.ProductID)
	})
	return nil
}

func (r cartRepository) Clear(_ context.Context, customerID string) error {
	defer r.tx.enter()()
	s := r.tx.store

	prev, existed := s.carts[customerID]
	delete(s.carts, customerID)
	r.tx.onRollback(func() {
		if existed {
			s.carts[customerID] = prev
		}
	})
	return nil
}

var (
	_ domain.CatalogRepository = catalogRepository{}
	_ domain.StockRepository   = catalogRepository{}
	_ domain.CartRepository    = cartRepository{}
)
