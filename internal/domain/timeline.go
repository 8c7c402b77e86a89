package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated   = "order_created"
	TimelinePaymentApplied = "payment_applied"
	TimelineStatusChanged  = "status_changed"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Actor    string
	Occurred time.Time
}
