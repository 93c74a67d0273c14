package handler

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
)

// Messages of storefront.v1.OrderService travel as JSON; see jsonCodec.

type OrderPairMessage struct {
	ItemID   string `json:"item_id"`
	Quantity int32  `json:"quantity"`
}

type BuildOrderRequest struct {
	RequestID string             `json:"request_id"`
	Pairs     []OrderPairMessage `json:"pairs"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type LineItemMessage struct {
	ItemID   string `json:"item_id"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	Quantity int32  `json:"quantity"`
}

type OrderReply struct {
	ID        string            `json:"id"`
	AccountID string            `json:"account_id"`
	Total     string            `json:"total"`
	LineItems []LineItemMessage `json:"line_items"`
	CreatedAt time.Time         `json:"created_at"`
}

type RegenerateTokenRequest struct {
	AccountID string `json:"account_id"`
}

type TokenReply struct {
	AuthToken string `json:"auth_token"`
}

const jsonCodecName = "json"

// jsonCodec satisfies grpc's encoding.Codec; both ends force it.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

const (
	orderServiceName          = "storefront.v1.OrderService"
	buildOrderFullMethod      = "/" + orderServiceName + "/BuildOrder"
	getOrderFullMethod        = "/" + orderServiceName + "/GetOrder"
	regenerateTokenFullMethod = "/" + orderServiceName + "/RegenerateToken"
)

type OrderServiceServer interface {
	BuildOrder(context.Context, *BuildOrderRequest) (*OrderReply, error)
	GetOrder(context.Context, *GetOrderRequest) (*OrderReply, error)
	RegenerateToken(context.Context, *RegenerateTokenRequest) (*TokenReply, error)
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: orderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "BuildOrder", Handler: buildOrderHandler},
		{MethodName: "GetOrder", Handler: getOrderHandler},
		{MethodName: "RegenerateToken", Handler: regenerateTokenHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/order_service",
}

func buildOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(BuildOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).BuildOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: buildOrderFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).BuildOrder(ctx, req.(*BuildOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getOrderFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).GetOrder(ctx, req.(*GetOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func regenerateTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegenerateTokenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).RegenerateToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: regenerateTokenFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).RegenerateToken(ctx, req.(*RegenerateTokenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// OrderServiceClient calls OrderService with the JSON codec forced.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.ForceCodec(jsonCodec{})}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *OrderServiceClient) BuildOrder(ctx context.Context, in *BuildOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	if err := c.invoke(ctx, buildOrderFullMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	if err := c.invoke(ctx, getOrderFullMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) RegenerateToken(ctx context.Context, in *RegenerateTokenRequest, opts ...grpc.CallOption) (*TokenReply, error) {
	out := new(TokenReply)
	if err := c.invoke(ctx, regenerateTokenFullMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
