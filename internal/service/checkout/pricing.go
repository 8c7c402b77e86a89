package checkout

import (
	"strings"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// PricingContext — данные черновика, доступные функциям ценообразования.
type PricingContext struct {
	Items          []domain.OrderItem
	SubtotalMinor  int64
	Currency       string
	PaymentMethod  string
	ShippingMethod string
}

// PricingFunc возвращает сумму составляющей заказа в минорных единицах.
type PricingFunc func(PricingContext) int64

// LineTaxFunc возвращает налог одной позиции.
type LineTaxFunc func(item domain.OrderItem) int64

// Pricing собирает подключаемые правила скидок, налогов, доставки и комиссии.
type Pricing struct {
	Discount   PricingFunc
	Tax        LineTaxFunc
	Shipping   PricingFunc
	PaymentFee PricingFunc
}

// DefaultPricing — без скидок, налогов, доставки и комиссий.
func DefaultPricing() Pricing {
	return Pricing{
		Discount:   NoDiscount,
		Tax:        func(domain.OrderItem) int64 { return 0 },
		Shipping:   FlatShipping(nil),
		PaymentFee: FixedPaymentFee(nil),
	}
}

// NoDiscount не даёт скидки.
func NoDiscount(PricingContext) int64 { return 0 }

// FlatRateTax считает налог позиции по ставке в базисных пунктах (2000 = 20%),
// округляя половину вверх.
func FlatRateTax(rateBasisPoints int64) LineTaxFunc {
	return func(item domain.OrderItem) int64 {
		if rateBasisPoints <= 0 {
			return 0
		}
		return (item.LineTotalMinor()*rateBasisPoints + 5_000) / 10_000
	}
}

// FlatShipping возвращает фиксированную стоимость по способу доставки; неизвестный способ бесплатен.
func FlatShipping(rates map[string]int64) PricingFunc {
	normalized := normalizeRates(rates)
	return func(pc PricingContext) int64 {
		return normalized[strings.ToLower(strings.TrimSpace(pc.ShippingMethod))]
	}
}

// FixedPaymentFee возвращает комиссию по способу оплаты.
func FixedPaymentFee(fees map[string]int64) PricingFunc {
	normalized := normalizeRates(fees)
	return func(pc PricingContext) int64 {
		return normalized[strings.ToLower(strings.TrimSpace(pc.PaymentMethod))]
	}
}

func normalizeRates(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return dst
}
