package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

const paymentColumns = `
	id, order_id, provider, gateway_transaction_id, status, amount_minor, fee_minor,
	failure_message, created_at, updated_at`

type paymentRepository struct {
	q querier
}

// Create вставляет платёж. Повтор транзакции шлюза проверяется через
// ON CONFLICT, а не через ошибку уникальности: ошибка прервала бы всю транзакцию.
func (r paymentRepository) Create(ctx context.Context, payment domain.Payment) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (provider, gateway_transaction_id) DO NOTHING
	`,
		payment.ID, payment.OrderID, strings.ToLower(payment.Provider), payment.GatewayTransactionID,
		string(payment.Status), payment.AmountMinor, payment.FeeMinor, payment.FailureMessage,
		payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrPaymentAlreadyExists
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPaymentAlreadyExists
	}
	return nil
}

func (r paymentRepository) Get(ctx context.Context, id string) (domain.Payment, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPaymentRow(row)
}

func (r paymentRepository) GetByGatewayTransaction(ctx context.Context, provider, transactionID string) (domain.Payment, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE provider = $1 AND gateway_transaction_id = $2
	`, strings.ToLower(provider), transactionID)
	return scanPaymentRow(row)
}

func (r paymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}

func scanPaymentRow(row *sql.Row) (domain.Payment, error) {
	payment, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	return payment, nil
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		payment domain.Payment
		status  string
	)
	if err := row.Scan(
		&payment.ID, &payment.OrderID, &payment.Provider, &payment.GatewayTransactionID, &status,
		&payment.AmountMinor, &payment.FeeMinor, &payment.FailureMessage, &payment.CreatedAt, &payment.UpdatedAt,
	); err != nil {
		return domain.Payment{}, err
	}
	payment.Status = domain.PaymentStatus(status)
	return payment, nil
}

var _ domain.PaymentRepository = paymentRepository{}
