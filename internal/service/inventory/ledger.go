package inventory

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// ConflictRecorder получает уведомления о проигранных гонках за остаток.
type ConflictRecorder interface {
	RecordStockConflict(productID int64)
}

// Ledger списывает остатки товаров внутри транзакции оформления заказа.
type Ledger struct {
	logger    *log.Entry
	conflicts ConflictRecorder
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithConflictRecorder подключает учёт конфликтов (метрики).
func WithConflictRecorder(recorder ConflictRecorder) Option {
	return func(l *Ledger) {
		l.conflicts = recorder
	}
}

// NewLedger создаёт складской учёт.
func NewLedger(options ...Option) *Ledger {
	l := &Ledger{logger: log.WithField("component", "inventory-ledger")}
	for _, option := range options {
		option(l)
	}
	return l
}

// Reserve списывает остатки по всем позициям или не списывает ничего.
// Сначала проверяются все отслеживаемые позиции, затем каждая списывается условным UPDATE.
// Если условие не выполнилось, гонка проиграна: возвращается *InsufficientStockError
// с перечитанным остатком, а уже сделанные списания откатит транзакция.
func (l *Ledger) Reserve(ctx context.Context, tx domain.Tx, lines []domain.StockLine) error {
	tracked := make([]domain.StockLine, 0, len(lines))
	for _, line := range lines {
		if line.Qty <= 0 {
			return fmt.Errorf("reserve product %d: %w", line.ProductID, domain.ErrItemQtyInvalid)
		}
		if line.Tracked {
			tracked = append(tracked, line)
		}
	}

	for _, line := range tracked {
		available, err := tx.Stock().Available(ctx, line.ProductID)
		if err != nil {
			return fmt.Errorf("read stock of product %d: %w", line.ProductID, err)
		}
		if available < line.Qty {
			return &domain.InsufficientStockError{ProductID: line.ProductID, Requested: line.Qty, Available: available}
		}
	}

	for _, line := range tracked {
		if err := l.decrement(ctx, tx, line); err != nil {
			return err
		}
	}

	return nil
}

// TryReserve списывает остаток одного товара.
func (l *Ledger) TryReserve(ctx context.Context, tx domain.Tx, productID int64, qty int32) error {
	return l.Reserve(ctx, tx, []domain.StockLine{{ProductID: productID, Qty: qty, Tracked: true}})
}

func (l *Ledger) decrement(ctx context.Context, tx domain.Tx, line domain.StockLine) error {
	ok, err := tx.Stock().Decrement(ctx, line.ProductID, line.Qty)
	if err != nil {
		return fmt.Errorf("decrement stock of product %d: %w", line.ProductID, err)
	}
	if ok {
		return nil
	}

	available, err := tx.Stock().Available(ctx, line.ProductID)
	if err != nil {
		return fmt.Errorf("re-read stock of product %d: %w", line.ProductID, err)
	}
	if l.conflicts != nil {
		l.conflicts.RecordStockConflict(line.ProductID)
	}
	l.logger.WithFields(log.Fields{
		"product_id": line.ProductID,
		"requested":  line.Qty,
		"available":  available,
	}).Info("stock decrement lost the race")

	return &domain.InsufficientStockError{ProductID: line.ProductID, Requested: line.Qty, Available: available}
}
