package domain

import (
	"fmt"
	"time"
)

// Product — карточка товара каталога вместе с остатком.
type Product struct {
	ID            int64
	Name          string
	PriceMinor    int64
	StockQuantity int32
	StockTracked  bool
	Orderable     bool
	Published     bool
	Deleted       bool
	UpdatedAt     time.Time
}

// UnavailableReason возвращает причину, по которой товар нельзя заказать, или пустую строку.
func (p Product) UnavailableReason() string {
	switch {
	case p.Deleted:
		return "deleted"
	case !p.Published:
		return "unpublished"
	case !p.Orderable:
		return "not orderable"
	default:
		return ""
	}
}

// CartItem — строка корзины покупателя.
type CartItem struct {
	CustomerID string
	ProductID  int64
	Qty        int32
	UpdatedAt  time.Time
}

// MaxLineQty — предел количества одного товара в корзине и заказе.
const MaxLineQty int32 = 10_000

// MergeLineQty складывает количества строк одного товара, не выходя за MaxLineQty.
func MergeLineQty(current, added int32) (int32, error) {
	if current <= 0 || added <= 0 {
		return 0, ErrItemQtyInvalid
	}
	sum := int64(current) + int64(added)
	if sum > int64(MaxLineQty) {
		return 0, fmt.Errorf("%d + %d: %w", current, added, ErrItemQtyTooLarge)
	}
	return int32(sum), nil
}

// StockLine — запрос на списание остатка по одному товару.
type StockLine struct {
	ProductID int64
	Qty       int32
	Tracked   bool
}
