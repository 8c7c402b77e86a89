// Package httpapi — REST-интерфейс конвейера заказов и приём вебхуков платёжных провайдеров.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/pipeline"
)

const maxWebhookBody = 1 << 20

// Service — операции конвейера, которые обслуживает HTTP-слой.
type Service interface {
	CreateOrder(ctx context.Context, req pipeline.CreateOrderRequest) (pipeline.CreateOrderResult, error)
	AddToCart(ctx context.Context, productID int64, qty int32) ([]domain.CartItem, error)
	Cart(ctx context.Context) ([]domain.CartItem, error)
	ApplyPaymentEvent(ctx context.Context, provider string, rawBody []byte, headers http.Header) (pipeline.ApplyPaymentResult, error)
	AdvanceOrder(ctx context.Context, orderID string, event domain.OrderEvent, note string) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (pipeline.OrderDetails, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter, limit int) ([]domain.Order, error)
	ListPayments(ctx context.Context, orderID string) ([]domain.Payment, error)
}

// Handler обслуживает REST API.
type Handler struct {
	service Service
	logger  *log.Entry
}

// NewHandler создаёт обработчики поверх service.
func NewHandler(service Service, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{service: service, logger: logger}
}

type createOrderRequest struct {
	PaymentMethod  string `json:"payment_method"`
	ShippingMethod string `json:"shipping_method"`
}

type createOrderResponse struct {
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	TotalMinor int64  `json:"total_minor"`
	Duplicate  bool   `json:"duplicate"`
}

type addCartItemRequest struct {
	ProductID int64 `json:"product_id"`
	Qty       int32 `json:"qty"`
}

type cartItemDTO struct {
	ProductID int64 `json:"product_id"`
	Qty       int32 `json:"qty"`
}

type advanceOrderRequest struct {
	Event string `json:"event"`
	Note  string `json:"note"`
}

type webhookResponse struct {
	OrderID       string `json:"order_id"`
	PaymentID     string `json:"payment_id"`
	PaymentStatus string `json:"payment_status"`
	OrderStatus   string `json:"order_status"`
	Duplicate     bool   `json:"duplicate"`
}

type orderItemDTO struct {
	ProductID      int64  `json:"product_id"`
	ProductName    string `json:"product_name"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Qty            int32  `json:"qty"`
	DiscountMinor  int64  `json:"discount_minor"`
	TaxMinor       int64  `json:"tax_minor"`
}

type orderDTO struct {
	ID              string         `json:"id"`
	CustomerID      string         `json:"customer_id"`
	CustomerName    string         `json:"customer_name,omitempty"`
	ParentID        string         `json:"parent_id,omitempty"`
	IsMasterOrder   bool           `json:"is_master_order"`
	Status          string         `json:"status"`
	Currency        string         `json:"currency"`
	SubtotalMinor   int64          `json:"subtotal_minor"`
	DiscountMinor   int64          `json:"discount_minor"`
	TaxMinor        int64          `json:"tax_minor"`
	ShippingMinor   int64          `json:"shipping_minor"`
	PaymentFeeMinor int64          `json:"payment_fee_minor"`
	TotalMinor      int64          `json:"total_minor"`
	TotalDisplay    string         `json:"total_display"`
	PaymentMethod   string         `json:"payment_method,omitempty"`
	ShippingMethod  string         `json:"shipping_method,omitempty"`
	Items           []orderItemDTO `json:"items"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type timelineDTO struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason"`
	Actor    string    `json:"actor"`
	Occurred time.Time `json:"occurred"`
}

type paymentDTO struct {
	ID                   string    `json:"id"`
	Provider             string    `json:"provider"`
	GatewayTransactionID string    `json:"gateway_transaction_id"`
	Status               string    `json:"status"`
	AmountMinor          int64     `json:"amount_minor"`
	FeeMinor             int64     `json:"fee_minor"`
	FailureMessage       string    `json:"failure_message,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

type orderDetailsDTO struct {
	Order    orderDTO      `json:"order"`
	Timeline []timelineDTO `json:"timeline"`
	Payments []paymentDTO  `json:"payments"`
	Children []string      `json:"children,omitempty"`
}

// CreateOrder — POST /api/v1/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, domain.ReasonInvalidRequest, "invalid JSON body")
			return
		}
	}

	result, err := h.service.CreateOrder(r.Context(), pipeline.CreateOrderRequest{
		PaymentMethod:  req.PaymentMethod,
		ShippingMethod: req.ShippingMethod,
		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
	})
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, createOrderResponse{
		OrderID:    result.OrderID,
		Status:     string(result.Status),
		TotalMinor: result.TotalMinor,
		Duplicate:  result.Duplicate,
	})
}

// GetCart — GET /api/v1/cart
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Cart(r.Context())
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(items))
}

// AddCartItem — POST /api/v1/cart/items
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ReasonInvalidRequest, "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, domain.ReasonInvalidRequest, "product_id is required")
		return
	}

	items, err := h.service.AddToCart(r.Context(), req.ProductID, req.Qty)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(items))
}

// GetOrder — GET /api/v1/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}

	dto := orderDetailsDTO{
		Order:    toOrderDTO(details.Order),
		Timeline: make([]timelineDTO, 0, len(details.Timeline)),
		Payments: toPaymentDTOs(details.Payments),
		Children: details.Children,
	}
	for _, event := range details.Timeline {
		dto.Timeline = append(dto.Timeline, timelineDTO{
			Type:     event.Type,
			Reason:   event.Reason,
			Actor:    event.Actor,
			Occurred: event.Occurred,
		})
	}
	respondJSON(w, http.StatusOK, dto)
}

// ListOrders — GET /api/v1/orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.OrderFilter{
		ID:                   strings.TrimSpace(query.Get("id")),
		Status:               domain.OrderStatus(strings.TrimSpace(query.Get("status"))),
		CustomerNameContains: query.Get("customer"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		respondError(w, http.StatusBadRequest, domain.ReasonInvalidRequest, "unknown status filter")
		return
	}

	var err error
	if filter.CreatedAfter, err = parseTimeParam(query.Get("created_after")); err != nil {
		respondError(w, http.StatusBadRequest, domain.ReasonInvalidRequest, "created_after must be RFC3339")
		return
	}
	if filter.CreatedBefore, err = parseTimeParam(query.Get("created_before")); err != nil {
		respondError(w, http.StatusBadRequest, domain.ReasonInvalidRequest, "created_before must be RFC3339")
		return
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, domain.ReasonInvalidRequest, "limit must be a non-negative integer")
			return
		}
	}

	orders, err := h.service.ListOrders(r.Context(), filter, limit)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	dtos := make([]orderDTO, 0, len(orders))
	for _, order := range orders {
		dtos = append(dtos, toOrderDTO(order))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// ListPayments — GET /api/v1/orders/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.service.ListPayments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// AdvanceOrder — POST /api/v1/orders/{id}/status
func (h *Handler) AdvanceOrder(w http.ResponseWriter, r *http.Request) {
	var req advanceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, domain.ReasonInvalidRequest, "invalid JSON body")
		return
	}
	event := domain.OrderEvent(strings.TrimSpace(req.Event))
	if _, ok := event.Target(); !ok {
		respondError(w, http.StatusBadRequest, domain.ReasonInvalidRequest, "unknown order event")
		return
	}

	order, err := h.service.AdvanceOrder(r.Context(), chi.URLParam(r, "id"), event, req.Note)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

// PaymentWebhook — POST /api/v1/payments/webhooks/{provider}
// Тело читается целиком: подпись считается по сырым байтам.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, domain.ReasonMalformedEvent, "webhook body is too large")
		return
	}

	result, err := h.service.ApplyPaymentEvent(r.Context(), chi.URLParam(r, "provider"), body, r.Header)
	if err != nil {
		respondDomainError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, webhookResponse{
		OrderID:       result.OrderID,
		PaymentID:     result.PaymentID,
		PaymentStatus: string(result.PaymentStatus),
		OrderStatus:   string(result.OrderStatus),
		Duplicate:     result.Duplicate,
	})
}

func parseTimeParam(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func toCartDTO(items []domain.CartItem) []cartItemDTO {
	dtos := make([]cartItemDTO, 0, len(items))
	for _, item := range items {
		dtos = append(dtos, cartItemDTO{ProductID: item.ProductID, Qty: item.Qty})
	}
	return dtos
}

func toOrderDTO(order domain.Order) orderDTO {
	items := make([]orderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDTO{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			UnitPriceMinor: item.UnitPriceMinor,
			Qty:            item.Qty,
			DiscountMinor:  item.DiscountMinor,
			TaxMinor:       item.TaxMinor,
		})
	}
	return orderDTO{
		ID:              order.ID,
		CustomerID:      order.CustomerID,
		CustomerName:    order.CustomerName,
		ParentID:        order.ParentID,
		IsMasterOrder:   order.IsMasterOrder,
		Status:          string(order.Status),
		Currency:        order.Currency,
		SubtotalMinor:   order.SubtotalMinor,
		DiscountMinor:   order.DiscountMinor,
		TaxMinor:        order.TaxMinor,
		ShippingMinor:   order.ShippingMinor,
		PaymentFeeMinor: order.PaymentFeeMinor,
		TotalMinor:      order.TotalMinor,
		TotalDisplay:    domain.FormatAmount(order.TotalMinor, order.Currency),
		PaymentMethod:   order.PaymentMethod,
		ShippingMethod:  order.ShippingMethod,
		Items:           items,
		Version:         order.Version,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func toPaymentDTOs(payments []domain.Payment) []paymentDTO {
	dtos := make([]paymentDTO, 0, len(payments))
	for _, p := range payments {
		dtos = append(dtos, paymentDTO{
			ID:                   p.ID,
			Provider:             p.Provider,
			GatewayTransactionID: p.GatewayTransactionID,
			Status:               string(p.Status),
			AmountMinor:          p.AmountMinor,
			FeeMinor:             p.FeeMinor,
			FailureMessage:       p.FailureMessage,
			CreatedAt:            p.CreatedAt,
		})
	}
	return dtos
}
