// Package grpcapi — gRPC-интерфейс конвейера заказов (orderpipe.v1.OrderPipeline).
package grpcapi

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/pipeline"
)

const (
	// MetadataCustomerID — id покупателя, от имени которого выполняется вызов.
	MetadataCustomerID = "x-customer-id"
	// MetadataCustomerName — отображаемое имя покупателя.
	MetadataCustomerName = "x-customer-name"
	// MetadataIdempotencyKey — ключ идемпотентности CreateOrder.
	MetadataIdempotencyKey = "idempotency-key"
)

// Service — операции конвейера, доступные по gRPC.
type Service interface {
	CreateOrder(ctx context.Context, req pipeline.CreateOrderRequest) (pipeline.CreateOrderResult, error)
	AddToCart(ctx context.Context, productID int64, qty int32) ([]domain.CartItem, error)
	AdvanceOrder(ctx context.Context, orderID string, event domain.OrderEvent, note string) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (pipeline.OrderDetails, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter, limit int) ([]domain.Order, error)
}

// Server реализует OrderPipelineServer поверх конвейера.
type Server struct {
	service Service
	logger  *log.Entry
}

// NewServer создаёт gRPC-сервис.
func NewServer(service Service, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "grpc-api")
	}
	return &Server{service: service, logger: logger}
}

// CreateOrder оформляет заказ. Ключ идемпотентности передаётся в metadata.
func (s *Server) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	result, err := s.service.CreateOrder(ctx, pipeline.CreateOrderRequest{
		PaymentMethod:  req.PaymentMethod,
		ShippingMethod: req.ShippingMethod,
		IdempotencyKey: readMetadata(ctx, MetadataIdempotencyKey),
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &CreateOrderResponse{
		OrderID:    result.OrderID,
		Status:     string(result.Status),
		TotalMinor: result.TotalMinor,
		Duplicate:  result.Duplicate,
	}, nil
}

// AddToCart кладёт товар в корзину вызывающего.
func (s *Server) AddToCart(ctx context.Context, req *AddToCartRequest) (*CartResponse, error) {
	if req == nil || req.ProductID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "product_id is required")
	}
	items, err := s.service.AddToCart(ctx, req.ProductID, req.Qty)
	if err != nil {
		return nil, s.toStatus(err)
	}
	resp := &CartResponse{Items: make([]CartItem, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, CartItem{ProductID: item.ProductID, Qty: item.Qty})
	}
	return resp, nil
}

// GetOrder возвращает заказ с историей.
func (s *Server) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderResponse, error) {
	if req == nil || strings.TrimSpace(req.OrderID) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	details, err := s.service.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	resp := &OrderResponse{Order: toOrder(details.Order)}
	for _, event := range details.Timeline {
		resp.Timeline = append(resp.Timeline, TimelineEvent{
			Type:     event.Type,
			Reason:   event.Reason,
			Actor:    event.Actor,
			Occurred: event.Occurred,
		})
	}
	return resp, nil
}

// ListOrders ищет заказы по фильтру.
func (s *Server) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	if req == nil {
		req = &ListOrdersRequest{}
	}
	filter := domain.OrderFilter{
		ID:                   strings.TrimSpace(req.ID),
		Status:               domain.OrderStatus(strings.TrimSpace(req.Status)),
		CustomerNameContains: req.CustomerName,
		CreatedAfter:         req.CreatedAfter,
		CreatedBefore:        req.CreatedBefore,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", req.Status)
	}
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be >= 0")
	}

	orders, err := s.service.ListOrders(ctx, filter, req.Limit)
	if err != nil {
		return nil, s.toStatus(err)
	}
	resp := &ListOrdersResponse{Orders: make([]Order, 0, len(orders))}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, toOrder(order))
	}
	return resp, nil
}

// AdvanceOrder применяет событие жизненного цикла к заказу.
func (s *Server) AdvanceOrder(ctx context.Context, req *AdvanceOrderRequest) (*OrderResponse, error) {
	if req == nil || strings.TrimSpace(req.OrderID) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	event := domain.OrderEvent(strings.TrimSpace(req.Event))
	if _, ok := event.Target(); !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown order event %q", req.Event)
	}
	order, err := s.service.AdvanceOrder(ctx, req.OrderID, event, req.Note)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return &OrderResponse{Order: toOrder(order)}, nil
}

// PrincipalInterceptor переносит покупателя из metadata в контекст.
func PrincipalInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if customerID := readMetadata(ctx, MetadataCustomerID); customerID != "" {
			ctx = domain.WithPrincipal(ctx, domain.Principal{
				CustomerID:  customerID,
				DisplayName: readMetadata(ctx, MetadataCustomerName),
			})
		}
		return handler(ctx, req)
	}
}

func (s *Server) toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	code := codeForReason(domain.ReasonCode(err))
	if code == codes.Internal {
		s.logger.WithError(err).Error("rpc failed")
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

func codeForReason(reason string) codes.Code {
	switch reason {
	case domain.ReasonUnauthenticated, domain.ReasonInvalidSignature:
		return codes.Unauthenticated
	case domain.ReasonOrderNotFound:
		return codes.NotFound
	case domain.ReasonInvalidRequest, domain.ReasonMalformedEvent, domain.ReasonUnknownProvider:
		return codes.InvalidArgument
	case domain.ReasonEmptyCart, domain.ReasonProductUnavailable, domain.ReasonInsufficientStock, domain.ReasonIllegalTransition:
		return codes.FailedPrecondition
	case domain.ReasonIdempotencyReuse:
		return codes.AlreadyExists
	case domain.ReasonInProgress, domain.ReasonVersionConflict:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

func readMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func toOrder(order domain.Order) Order {
	items := make([]OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItem{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			UnitPriceMinor: item.UnitPriceMinor,
			Qty:            item.Qty,
		})
	}
	return Order{
		ID:            order.ID,
		CustomerID:    order.CustomerID,
		ParentID:      order.ParentID,
		IsMasterOrder: order.IsMasterOrder,
		Status:        string(order.Status),
		Currency:      order.Currency,
		SubtotalMinor: order.SubtotalMinor,
		TotalMinor:    order.TotalMinor,
		Items:         items,
		Version:       order.Version,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}
