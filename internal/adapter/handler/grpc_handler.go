package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const authorizationMetadataKey = "authorization"

type GRPCHandler struct {
	accounts *service.AccountService
	orders   *service.OrderService
	logger   *zap.Logger
}

func NewGRPCHandler(accounts *service.AccountService, orders *service.OrderService, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{accounts: accounts, orders: orders, logger: logger}
}

// NewGRPCServer returns a server with OrderService registered and the JSON
// codec forced.
func NewGRPCServer(h *GRPCHandler, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(UnaryLoggingInterceptor(h.logger)),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterOrderServiceServer(s, h)
	return s
}

func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}

func (h *GRPCHandler) actor(ctx context.Context) (*domain.Account, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var token string
	if values := md.Get(authorizationMetadataKey); len(values) > 0 {
		token = strings.TrimSpace(values[0])
	}

	acc, err := h.accounts.Authenticate(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, status.Error(codes.Unauthenticated, "not authenticated")
	}
	if err != nil {
		return nil, h.toStatus(err)
	}
	return acc, nil
}

func (h *GRPCHandler) BuildOrder(ctx context.Context, req *BuildOrderRequest) (*OrderReply, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}

	pairs := make([]domain.OrderPair, 0, len(req.Pairs))
	for _, p := range req.Pairs {
		pairs = append(pairs, domain.OrderPair{ItemID: p.ItemID, Quantity: int(p.Quantity)})
	}

	order, err := h.orders.PlaceOrder(ctx, req.RequestID, *actor, pairs)
	if err != nil {
		return nil, h.toStatus(err)
	}

	view, err := h.orders.View(ctx, *order)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toOrderReply(*view), nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderReply, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}

	view, err := h.orders.GetOrder(ctx, *actor, req.OrderID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toOrderReply(*view), nil
}

func (h *GRPCHandler) RegenerateToken(ctx context.Context, req *RegenerateTokenRequest) (*TokenReply, error) {
	actor, err := h.actor(ctx)
	if err != nil {
		return nil, err
	}

	token, err := h.accounts.RegenerateToken(ctx, *actor, req.AccountID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &TokenReply{AuthToken: token}, nil
}

func toOrderReply(view service.OrderView) *OrderReply {
	reply := &OrderReply{
		ID:        view.Order.ID,
		AccountID: view.Order.AccountID,
		Total:     view.Total.StringFixed(domain.PriceScale),
		LineItems: make([]LineItemMessage, 0, len(view.Order.LineItems)),
		CreatedAt: view.Order.CreatedAt,
	}
	for _, li := range view.Order.LineItems {
		msg := LineItemMessage{ItemID: li.ItemID, Quantity: int32(li.Quantity)} // bounded by domain.MaxQuantity
		if item, ok := view.Items[li.ItemID]; ok {
			msg.Title = item.Title
			msg.Price = item.Price.StringFixed(domain.PriceScale)
		}
		reply.LineItems = append(reply.LineItems, msg)
	}
	return reply
}

func (h *GRPCHandler) toStatus(err error) error {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, domain.ErrResourceExhausted):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, service.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, "duplicate request")
	default:
		h.logger.Error("grpc request failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}
