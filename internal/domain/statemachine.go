package domain

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusNew — заказ создан из корзины, оплаты ещё не было.
	OrderStatusNew OrderStatus = "new"
	// OrderStatusPaymentReceived — провайдер подтвердил платёж.
	OrderStatusPaymentReceived OrderStatus = "payment_received"
	// OrderStatusPaymentFailed — платёж отклонён; повторная оплата возможна.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	// OrderStatusPaid — деньги списаны в пользу магазина.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ вручён покупателю.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusRefunded — средства возвращены покупателю.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusCancelled — заказ отменён до оплаты.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusNew, OrderStatusPaymentReceived, OrderStatusPaymentFailed, OrderStatusPaid,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusRefunded, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса нет исходящих переходов.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// OrderEvent — входное событие машины состояний.
type OrderEvent string

const (
	OrderEventPaymentSucceeded OrderEvent = "payment_succeeded"
	OrderEventPaymentFailed    OrderEvent = "payment_failed"
	OrderEventPaymentCaptured  OrderEvent = "payment_captured"
	OrderEventShipped          OrderEvent = "shipped"
	OrderEventDelivered        OrderEvent = "delivered"
	OrderEventRefunded         OrderEvent = "refunded"
	OrderEventCancelled        OrderEvent = "cancelled"
)

// eventTargets — целевой статус каждого события.
var eventTargets = map[OrderEvent]OrderStatus{
	OrderEventPaymentSucceeded: OrderStatusPaymentReceived,
	OrderEventPaymentFailed:    OrderStatusPaymentFailed,
	OrderEventPaymentCaptured:  OrderStatusPaid,
	OrderEventShipped:          OrderStatusShipped,
	OrderEventDelivered:        OrderStatusDelivered,
	OrderEventRefunded:         OrderStatusRefunded,
	OrderEventCancelled:        OrderStatusCancelled,
}

// allowedTransitions — допустимые переходы from -> to.
// Delivered, Cancelled и Refunded терминальны и здесь не встречаются как источники.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusNew:             {OrderStatusPaymentReceived, OrderStatusPaymentFailed, OrderStatusCancelled},
	OrderStatusPaymentFailed:   {OrderStatusPaymentReceived, OrderStatusCancelled},
	OrderStatusPaymentReceived: {OrderStatusPaid},
	OrderStatusPaid:            {OrderStatusShipped, OrderStatusRefunded},
	OrderStatusShipped:         {OrderStatusDelivered, OrderStatusRefunded},
}

// Target возвращает статус, в который ведёт событие.
func (e OrderEvent) Target() (OrderStatus, bool) {
	status, ok := eventTargets[e]
	return status, ok
}

// Transition — результат применения события к заказу.
type Transition struct {
	From    OrderStatus
	To      OrderStatus
	Changed bool
}

// ApplyEvent применяет событие к текущему статусу.
// Повторное применение уже применённого события (статус совпадает с целевым) — успешный no-op.
// Запрещённые переходы возвращают *TransitionError; решение, фатально ли это, принимает вызывающий.
func ApplyEvent(current OrderStatus, event OrderEvent) (Transition, error) {
	target, ok := event.Target()
	if !ok {
		return Transition{From: current, To: current}, ErrUnknownOrderEvent
	}
	if current == target {
		return Transition{From: current, To: current}, nil
	}
	for _, next := range allowedTransitions[current] {
		if next == target {
			return Transition{From: current, To: target, Changed: true}, nil
		}
	}
	return Transition{From: current, To: current}, &TransitionError{From: current, Event: event}
}

// Apply применяет событие к заказу и обновляет служебные поля, если статус изменился.
func (o *Order) Apply(event OrderEvent, actor string, now Clock) (Transition, error) {
	transition, err := ApplyEvent(o.Status, event)
	if err != nil || !transition.Changed {
		return transition, err
	}
	o.Status = transition.To
	o.UpdatedAt = now()
	if actor != "" {
		o.UpdatedBy = actor
	}
	return transition, nil
}
