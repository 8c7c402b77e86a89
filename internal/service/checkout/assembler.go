package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// PricingInput — параметры оформления, влияющие на цену.
type PricingInput struct {
	Currency       string
	PaymentMethod  string
	ShippingMethod string
}

// Draft — проверенный и оценённый черновик заказа, ещё не сохранённый.
type Draft struct {
	CustomerID     string
	Currency       string
	PaymentMethod  string
	ShippingMethod string
	Items          []domain.OrderItem
	StockLines     []domain.StockLine

	SubtotalMinor   int64
	DiscountMinor   int64
	TaxMinor        int64
	ShippingMinor   int64
	PaymentFeeMinor int64
	TotalMinor      int64
}

// Assembler превращает корзину в черновик заказа.
type Assembler struct {
	pricing Pricing
	logger  *log.Entry
}

// Option настраивает Assembler.
type Option func(*Assembler)

// WithPricing подключает правила ценообразования.
func WithPricing(p Pricing) Option {
	return func(a *Assembler) {
		defaults := DefaultPricing()
		if p.Discount == nil {
			p.Discount = defaults.Discount
		}
		if p.Tax == nil {
			p.Tax = defaults.Tax
		}
		if p.Shipping == nil {
			p.Shipping = defaults.Shipping
		}
		if p.PaymentFee == nil {
			p.PaymentFee = defaults.PaymentFee
		}
		a.pricing = p
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAssembler создаёт сборщик черновиков.
func NewAssembler(options ...Option) *Assembler {
	a := &Assembler{
		pricing: DefaultPricing(),
		logger:  log.WithField("component", "checkout-assembler"),
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// BuildDraft проверяет корзину по каталогу и считает суммы.
// Недоступный товар отклоняет весь черновик; нехватка остатков перечисляет все проблемные позиции.
func (a *Assembler) BuildDraft(ctx context.Context, tx domain.Tx, customerID string, cart []domain.CartItem, in PricingInput) (Draft, error) {
	if strings.TrimSpace(customerID) == "" {
		return Draft{}, domain.ErrCustomerRequired
	}
	if strings.TrimSpace(in.Currency) == "" {
		return Draft{}, domain.ErrCurrencyRequired
	}

	lines, err := mergeCart(cart)
	if err != nil {
		return Draft{}, err
	}

	draft := Draft{
		CustomerID:     customerID,
		Currency:       strings.ToUpper(strings.TrimSpace(in.Currency)),
		PaymentMethod:  in.PaymentMethod,
		ShippingMethod: in.ShippingMethod,
		Items:          make([]domain.OrderItem, 0, len(lines)),
		StockLines:     make([]domain.StockLine, 0, len(lines)),
	}

	var shortages []domain.InsufficientStockError
	for _, line := range lines {
		product, err := tx.Catalog().GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return Draft{}, &domain.ProductUnavailableError{ProductID: line.ProductID, Reason: "not found"}
			}
			return Draft{}, fmt.Errorf("load product %d: %w", line.ProductID, err)
		}
		if reason := product.UnavailableReason(); reason != "" {
			return Draft{}, &domain.ProductUnavailableError{ProductID: line.ProductID, Reason: reason}
		}
		if product.StockTracked && line.Qty > product.StockQuantity {
			shortages = append(shortages, domain.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Qty,
				Available: product.StockQuantity,
			})
		}

		draft.Items = append(draft.Items, domain.OrderItem{
			ProductID:      product.ID,
			ProductName:    product.Name,
			UnitPriceMinor: product.PriceMinor,
			Qty:            line.Qty,
		})
		draft.StockLines = append(draft.StockLines, domain.StockLine{
			ProductID: product.ID,
			Qty:       line.Qty,
			Tracked:   product.StockTracked,
		})
	}
	if len(shortages) > 0 {
		a.logger.WithFields(log.Fields{
			"customer_id": customerID,
			"lines":       len(shortages),
		}).Info("draft rejected: insufficient stock")
		return Draft{}, &domain.StockValidationError{Lines: shortages}
	}

	if err := a.price(&draft); err != nil {
		return Draft{}, err
	}
	return draft, nil
}

func (a *Assembler) price(d *Draft) error {
	var subtotal, tax int64
	for i := range d.Items {
		subtotal += d.Items[i].LineTotalMinor()
		d.Items[i].TaxMinor = a.pricing.Tax(d.Items[i])
		if d.Items[i].TaxMinor < 0 {
			return fmt.Errorf("tax of product %d: %w", d.Items[i].ProductID, domain.ErrAmountNegative)
		}
		tax += d.Items[i].TaxMinor
	}

	pc := PricingContext{
		Items:          d.Items,
		SubtotalMinor:  subtotal,
		Currency:       d.Currency,
		PaymentMethod:  d.PaymentMethod,
		ShippingMethod: d.ShippingMethod,
	}
	discount := a.pricing.Discount(pc)
	shipping := a.pricing.Shipping(pc)
	fee := a.pricing.PaymentFee(pc)
	if discount < 0 || shipping < 0 || fee < 0 {
		return domain.ErrAmountNegative
	}
	// скидка не может превышать подытог
	if discount > subtotal {
		discount = subtotal
	}

	d.SubtotalMinor = subtotal
	d.DiscountMinor = discount
	d.TaxMinor = tax
	d.ShippingMinor = shipping
	d.PaymentFeeMinor = fee
	d.TotalMinor = subtotal - discount + tax + shipping + fee
	return nil
}

// mergeCart объединяет строки одного товара, сохраняя порядок первого появления.
func mergeCart(cart []domain.CartItem) ([]domain.CartItem, error) {
	if len(cart) == 0 {
		return nil, domain.ErrEmptyCart
	}

	index := make(map[int64]int, len(cart))
	merged := make([]domain.CartItem, 0, len(cart))
	for _, item := range cart {
		if item.Qty <= 0 {
			return nil, fmt.Errorf("cart line for product %d: %w", item.ProductID, domain.ErrItemQtyInvalid)
		}
		if i, ok := index[item.ProductID]; ok {
			qty, err := domain.MergeLineQty(merged[i].Qty, item.Qty)
			if err != nil {
				return nil, fmt.Errorf("cart line for product %d: %w", item.ProductID, err)
			}
			merged[i].Qty = qty
			continue
		}
		if item.Qty > domain.MaxLineQty {
			return nil, fmt.Errorf("cart line for product %d: %w", item.ProductID, domain.ErrItemQtyTooLarge)
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}
