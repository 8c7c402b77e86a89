package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

type paymentRepository struct {
	tx *memTx
}

func gatewayKey(provider, transactionID string) string {
	return strings.ToLower(provider) + "|" + transactionID
}

func (r paymentRepository) Create(_ context.Context, payment domain.Payment) error {
	defer r.tx.enter()()
	s := r.tx.store

	key := gatewayKey(payment.Provider, payment.GatewayTransactionID)
	if _, exists := s.paymentKeys[key]; exists {
		return domain.ErrPaymentAlreadyExists
	}
	if _, exists := s.payments[payment.ID]; exists {
		return domain.ErrPaymentAlreadyExists
	}

	s.payments[payment.ID] = payment
	s.paymentKeys[key] = payment.ID
	r.tx.onRollback(func() {
		delete(s.payments, payment.ID)
		delete(s.paymentKeys, key)
	})
	return nil
}

func (r paymentRepository) Get(_ context.Context, id string) (domain.Payment, error) {
	defer r.tx.enter()()

	payment, ok := r.tx.store.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (r paymentRepository) GetByGatewayTransaction(_ context.Context, provider, transactionID string) (domain.Payment, error) {
	defer r.tx.enter()()
	s := r.tx.store

	id, ok := s.paymentKeys[gatewayKey(provider, transactionID)]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return s.payments[id], nil
}

// ListByOrder возвращает платежи заказа в порядке поступления.
func (r paymentRepository) ListByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	defer r.tx.enter()()

	result := make([]domain.Payment, 0)
	for _, payment := range r.tx.store.payments {
		if payment.OrderID == orderID {
			result = append(result, payment)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

var _ domain.PaymentRepository = paymentRepository{}
