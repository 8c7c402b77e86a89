package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

type catalogRepository struct {
	q querier
}

func (r catalogRepository) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, price_minor, stock_quantity, stock_tracked, orderable, published, deleted, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(
		&p.ID, &p.Name, &p.PriceMinor, &p.StockQuantity, &p.StockTracked,
		&p.Orderable, &p.Published, &p.Deleted, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r catalogRepository) SaveProduct(ctx context.Context, p domain.Product) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO products (id, name, price_minor, stock_quantity, stock_tracked, orderable, published, deleted, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price_minor = EXCLUDED.price_minor,
		    stock_quantity = EXCLUDED.stock_quantity,
		    stock_tracked = EXCLUDED.stock_tracked,
		    orderable = EXCLUDED.orderable,
		    published = EXCLUDED.published,
		    deleted = EXCLUDED.deleted,
		    updated_at = EXCLUDED.updated_at
	`,
		p.ID, p.Name, p.PriceMinor, p.StockQuantity, p.StockTracked, p.Orderable, p.Published, p.Deleted, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

type stockRepository struct {
	q querier
}

func (r stockRepository) Available(ctx context.Context, productID int64) (int32, error) {
	var available int32
	err := r.q.QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, fmt.Errorf("select stock: %w", err)
	}
	return available, nil
}

// Decrement — единственная точка конкуренции: условный UPDATE без предварительной блокировки.
func (r stockRepository) Decrement(ctx context.Context, productID int64, qty int32) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND stock_quantity >= $1
	`, qty, productID)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	// различаем проигранную гонку и отсутствующий товар
	if _, err := r.Available(ctx, productID); err != nil {
		return false, err
	}
	return false, nil
}

type cartRepository struct {
	q querier
}

func (r cartRepository) Items(ctx context.Context, customerID string) ([]domain.CartItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT customer_id, product_id, qty, updated_at
		FROM cart_items
		WHERE customer_id = $1
		ORDER BY updated_at ASC, product_id ASC
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CartItem, 0)
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.CustomerID, &item.ProductID, &item.Qty, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return items, nil
}

func (r cartRepository) Add(ctx context.Context, item domain.CartItem) error {
	if item.Qty <= 0 {
		return domain.ErrItemQtyInvalid
	}
	if item.Qty > domain.MaxLineQty {
		return domain.ErrItemQtyTooLarge
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	// строка не обновляется, если сумма превысит предел
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO cart_items (customer_id, product_id, qty, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (customer_id, product_id) DO UPDATE
		SET qty = cart_items.qty + EXCLUDED.qty,
		    updated_at = EXCLUDED.updated_at
		WHERE cart_items.qty + EXCLUDED.qty <= $5
	`, item.CustomerID, item.ProductID, item.Qty, item.UpdatedAt, domain.MaxLineQty)
	if err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add cart item rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("product %d: %w", item.ProductID, domain.ErrItemQtyTooLarge)
	}
	return nil
}

func (r cartRepository) Clear(ctx context.Context, customerID string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE customer_id = $1`, customerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

var (
	_ domain.CatalogRepository = catalogRepository{}
	_ domain.StockRepository   = stockRepository{}
	_ domain.CartRepository    = cartRepository{}
)
