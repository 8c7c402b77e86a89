package grpcapi

import "time"

// CreateOrderRequest оформляет заказ из корзины покупателя (покупатель — из metadata).
type CreateOrderRequest struct {
	PaymentMethod  string `json:"payment_method"`
	ShippingMethod string `json:"shipping_method"`
}

// CreateOrderResponse — результат оформления.
type CreateOrderResponse struct {
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	TotalMinor int64  `json:"total_minor"`
	Duplicate  bool   `json:"duplicate"`
}

// AddToCartRequest добавляет товар в корзину.
type AddToCartRequest struct {
	ProductID int64 `json:"product_id"`
	Qty       int32 `json:"qty"`
}

// CartItem — строка корзины.
type CartItem struct {
	ProductID int64 `json:"product_id"`
	Qty       int32 `json:"qty"`
}

// CartResponse — содержимое корзины.
type CartResponse struct {
	Items []CartItem `json:"items"`
}

// GetOrderRequest запрашивает заказ по id.
type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

// ListOrdersRequest — фильтр поиска заказов.
type ListOrdersRequest struct {
	ID            string    `json:"id,omitempty"`
	Status        string    `json:"status,omitempty"`
	CustomerName  string    `json:"customer_name,omitempty"`
	CreatedAfter  time.Time `json:"created_after,omitempty"`
	CreatedBefore time.Time `json:"created_before,omitempty"`
	Limit         int       `json:"limit,omitempty"`
}

// ListOrdersResponse — найденные заказы.
type ListOrdersResponse struct {
	Orders []Order `json:"orders"`
}

// AdvanceOrderRequest применяет событие к заказу.
type AdvanceOrderRequest struct {
	OrderID string `json:"order_id"`
	Event   string `json:"event"`
	Note    string `json:"note,omitempty"`
}

// OrderResponse — один заказ.
type OrderResponse struct {
	Order    Order           `json:"order"`
	Timeline []TimelineEvent `json:"timeline,omitempty"`
}

// Order — представление заказа в API.
type Order struct {
	ID            string      `json:"id"`
	CustomerID    string      `json:"customer_id"`
	ParentID      string      `json:"parent_id,omitempty"`
	IsMasterOrder bool        `json:"is_master_order"`
	Status        string      `json:"status"`
	Currency      string      `json:"currency"`
	SubtotalMinor int64       `json:"subtotal_minor"`
	TotalMinor    int64       `json:"total_minor"`
	Items         []OrderItem `json:"items"`
	Version       int64       `json:"version"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// OrderItem — позиция заказа.
type OrderItem struct {
	ProductID      int64  `json:"product_id"`
	ProductName    string `json:"product_name"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Qty            int32  `json:"qty"`
}

// TimelineEvent — запись истории заказа.
type TimelineEvent struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason"`
	Actor    string    `json:"actor"`
	Occurred time.Time `json:"occurred"`
}
