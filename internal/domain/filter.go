package domain

import (
	"strings"
	"time"
)

// DefaultListLimit ограничивает выдачу, если лимит не задан.
const DefaultListLimit = 50

// MaxListLimit — верхняя граница лимита выдачи.
const MaxListLimit = 500

// OrderFilter — критерии поиска заказов в админке. Пустые поля не участвуют в фильтре.
type OrderFilter struct {
	ID                   string
	Status               OrderStatus
	CustomerNameContains string
	CreatedAfter         time.Time
	CreatedBefore        time.Time
}

// Matches проверяет заказ против фильтра.
func (f OrderFilter) Matches(o Order) bool {
	if f.ID != "" && o.ID != f.ID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if needle := strings.ToLower(strings.TrimSpace(f.CustomerNameContains)); needle != "" {
		if !strings.Contains(strings.ToLower(o.CustomerID), needle) &&
			!strings.Contains(strings.ToLower(o.CustomerName), needle) {
			return false
		}
	}
	if !f.CreatedAfter.IsZero() && o.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !o.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

// NormalizeLimit приводит лимит к допустимому диапазону.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
