package domain

import "time"

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// ProductID — идентификатор товара в каталоге.
	ProductID int64
	// ProductName — название товара на момент оформления.
	ProductName string
	// UnitPriceMinor — цена за единицу из каталога на момент сборки черновика.
	// После создания заказа не меняется, даже если каталог переоценил товар.
	UnitPriceMinor int64
	// Qty — количество единиц товара.
	Qty int32
	// DiscountMinor и TaxMinor — построчные скидка и налог.
	DiscountMinor int64
	TaxMinor      int64
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// LineTotalMinor возвращает стоимость позиции без скидок и налогов.
func (i OrderItem) LineTotalMinor() int64 {
	return int64(i.Qty) * i.UnitPriceMinor
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID         string
	CustomerID string
	// CustomerName — отображаемое имя покупателя на момент оформления.
	CustomerName string
	// ParentID заполнен у дочерних заказов; мастер-заказ сам позиций не несёт.
	ParentID      string
	IsMasterOrder bool
	Status        OrderStatus
	Currency      string

	SubtotalMinor   int64
	DiscountMinor   int64
	TaxMinor        int64
	ShippingMinor   int64
	PaymentFeeMinor int64
	TotalMinor      int64

	PaymentMethod  string
	ShippingMethod string

	Items     []OrderItem
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy string
	UpdatedBy string
}

// RecalculateTotals пересчитывает подытог и итог из позиций и денежных составляющих.
// Итог не принимается извне, он только вычисляется.
func (o *Order) RecalculateTotals() {
	var subtotal int64
	for _, item := range o.Items {
		subtotal += item.LineTotalMinor()
	}
	o.SubtotalMinor = subtotal
	o.TotalMinor = o.SubtotalMinor - o.DiscountMinor + o.TaxMinor + o.ShippingMinor + o.PaymentFeeMinor
}

// HasProduct сообщает, есть ли в заказе позиция с указанным товаром.
func (o *Order) HasProduct(productID int64) bool {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	switch {
	case o.IsMasterOrder && len(o.Items) > 0:
		errs = append(errs, ErrMasterOrderHasItems)
	case !o.IsMasterOrder && len(o.Items) == 0:
		errs = append(errs, ErrItemsRequired)
	}
	if o.SubtotalMinor < 0 || o.DiscountMinor < 0 || o.TaxMinor < 0 ||
		o.ShippingMinor < 0 || o.PaymentFeeMinor < 0 || o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем подытог с суммой позиций: qty * price.
	var calc int64
	seen := make(map[int64]struct{}, len(o.Items))
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if _, dup := seen[item.ProductID]; dup {
			errs = append(errs, ErrItemDuplicateProduct)
		}
		seen[item.ProductID] = struct{}{}
		calc += item.LineTotalMinor()
	}
	if calc != o.SubtotalMinor {
		errs = append(errs, ErrSubtotalMismatch)
	}
	if o.TotalMinor != o.SubtotalMinor-o.DiscountMinor+o.TaxMinor+o.ShippingMinor+o.PaymentFeeMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// Clone возвращает копию заказа, не разделяющую срез позиций с оригиналом.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	return dst
}
