package grpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "orderpipe.v1.OrderPipeline"

// OrderPipelineServer — серверная сторона orderpipe.v1.OrderPipeline.
type OrderPipelineServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*CreateOrderResponse, error)
	AddToCart(context.Context, *AddToCartRequest) (*CartResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*OrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	AdvanceOrder(context.Context, *AdvanceOrderRequest) (*OrderResponse, error)
}

var _ OrderPipelineServer = (*Server)(nil)

// Register регистрирует реализацию на gRPC-сервере.
func Register(registrar grpc.ServiceRegistrar, srv OrderPipelineServer) {
	registrar.RegisterService(&serviceDesc, srv)
}

// unary строит обработчик метода: декодирует запрос и пропускает его через interceptor.
func unary[Req any, Resp any](method string, call func(OrderPipelineServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(OrderPipelineServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderPipelineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateOrder", OrderPipelineServer.CreateOrder),
		unary("AddToCart", OrderPipelineServer.AddToCart),
		unary("GetOrder", OrderPipelineServer.GetOrder),
		unary("ListOrders", OrderPipelineServer.ListOrders),
		unary("AdvanceOrder", OrderPipelineServer.AdvanceOrder),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orderpipe/v1/order_pipeline",
}

// Client — клиент orderpipe.v1.OrderPipeline с JSON-кодеком.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient оборачивает соединение.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrder вызывает OrderPipeline/CreateOrder.
func (c *Client) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*CreateOrderResponse, error) {
	return invoke[CreateOrderResponse](ctx, c, "CreateOrder", in, opts)
}

// AddToCart вызывает OrderPipeline/AddToCart.
func (c *Client) AddToCart(ctx context.Context, in *AddToCartRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return invoke[CartResponse](ctx, c, "AddToCart", in, opts)
}

// GetOrder вызывает OrderPipeline/GetOrder.
func (c *Client) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "GetOrder", in, opts)
}

// ListOrders вызывает OrderPipeline/ListOrders.
func (c *Client) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return invoke[ListOrdersResponse](ctx, c, "ListOrders", in, opts)
}

// AdvanceOrder вызывает OrderPipeline/AdvanceOrder.
func (c *Client) AdvanceOrder(ctx context.Context, in *AdvanceOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "AdvanceOrder", in, opts)
}
