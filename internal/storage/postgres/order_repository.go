package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

const orderColumns = `
	id, customer_id, customer_name, parent_id, is_master_order, status, currency,
	subtotal_minor, discount_minor, tax_minor, shipping_minor, payment_fee_minor, total_minor,
	payment_method, shipping_method, version, created_at, updated_at, created_by, updated_by`

type orderRepository struct {
	q querier
}

func (r orderRepository) Create(ctx context.Context, order domain.Order) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		order.ID, order.CustomerID, order.CustomerName, nullString(order.ParentID), order.IsMasterOrder,
		string(order.Status), order.Currency,
		order.SubtotalMinor, order.DiscountMinor, order.TaxMinor, order.ShippingMinor, order.PaymentFeeMinor, order.TotalMinor,
		order.PaymentMethod, order.ShippingMethod, order.Version, order.CreatedAt, order.UpdatedAt,
		order.CreatedBy, order.UpdatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, product_name, unit_price_minor, qty, discount_minor, tax_minor, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			item.ID, order.ID, item.ProductID, item.ProductName, item.UnitPriceMinor, item.Qty,
			item.DiscountMinor, item.TaxMinor, item.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrItemDuplicateProduct
			}
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

func (r orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate блокирует строку заказа до конца транзакции.
func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r orderRepository) get(ctx context.Context, id, lock string) (domain.Order, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`+lock, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

// List строит WHERE из заполненных полей фильтра.
func (r orderRepository) List(ctx context.Context, filter domain.OrderFilter, limit int) ([]domain.Order, error) {
	var (
		conditions []string
		args       []any
	)
	add := func(condition string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if filter.ID != "" {
		add("id = $%d", filter.ID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if needle := strings.TrimSpace(filter.CustomerNameContains); needle != "" {
		args = append(args, "%"+escapeLike(needle)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(customer_id ILIKE $%d OR customer_name ILIKE $%d)", n, n))
	}
	if !filter.CreatedAfter.IsZero() {
		add("created_at >= $%d", filter.CreatedAfter)
	}
	if !filter.CreatedBefore.IsZero() {
		add("created_at < $%d", filter.CreatedBefore)
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, domain.NormalizeLimit(limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	// позиции читаем после закрытия курсора: соединение транзакции занято, пока открыт rows
	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (r orderRepository) ListChildren(ctx context.Context, parentID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id FROM orders WHERE parent_id = $1 ORDER BY created_at ASC, id ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list sub-orders: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sub-order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sub-orders: %w", err)
	}
	return ids, nil
}

// Save обновляет заголовок заказа с проверкой версии. Позиции неизменяемы.
func (r orderRepository) Save(ctx context.Context, order domain.Order) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    discount_minor = $2,
		    tax_minor = $3,
		    shipping_minor = $4,
		    payment_fee_minor = $5,
		    total_minor = $6,
		    version = version + 1,
		    updated_at = $7,
		    updated_by = $8
		WHERE id = $9
		  AND version = $10
	`,
		string(order.Status),
		order.DiscountMinor,
		order.TaxMinor,
		order.ShippingMinor,
		order.PaymentFeeMinor,
		order.TotalMinor,
		order.UpdatedAt,
		order.UpdatedBy,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.exists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}
	return nil
}

func (r orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, product_id, product_name, unit_price_minor, qty, discount_minor, tax_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.ProductName, &item.UnitPriceMinor, &item.Qty,
			&item.DiscountMinor, &item.TaxMinor, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r orderRepository) exists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order    domain.Order
		parentID sql.NullString
		status   string
	)
	if err := row.Scan(
		&order.ID, &order.CustomerID, &order.CustomerName, &parentID, &order.IsMasterOrder, &status, &order.Currency,
		&order.SubtotalMinor, &order.DiscountMinor, &order.TaxMinor, &order.ShippingMinor, &order.PaymentFeeMinor, &order.TotalMinor,
		&order.PaymentMethod, &order.ShippingMethod, &order.Version, &order.CreatedAt, &order.UpdatedAt,
		&order.CreatedBy, &order.UpdatedBy,
	); err != nil {
		return domain.Order{}, err
	}
	order.ParentID = parentID.String
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ domain.OrderRepository = orderRepository{}
