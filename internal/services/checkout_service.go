package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// ErrEmptyCart indicates checkout was requested from a cart without lines.
var ErrEmptyCart = errors.New("checkout: cart is empty")

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Carts  CartService
	Orders OrderService
	Tracer trace.Tracer
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts  CartService
	orders OrderService
	tracer trace.Tracer
	logger func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		carts:  deps.Carts,
		orders: deps.Orders,
		tracer: tracer,
		logger: logger,
	}, nil
}

// CreateOrder places an order from the explicit items, or from the user's cart when none are given.
// The ordered quantities leave the cart only after the order has been persisted.
func (s *checkoutService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (order Order, err error) {
	userID := strings.TrimSpace(cmd.UserID)
	ctx, span := s.tracer.Start(ctx, "checkout.CreateOrder", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("request.items", len(cmd.Items)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.no", order.OrderNo))
		}
		span.End()
	}()

	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	items := cmd.Items
	fromCart := len(items) == 0
	if fromCart {
		cart, err := s.carts.GetCart(ctx, userID)
		if err != nil {
			return Order{}, err
		}
		if len(cart.Items) == 0 {
			return Order{}, ErrEmptyCart
		}
		items = make([]OrderItemInput, 0, len(cart.Items))
		for _, item := range cart.Items {
			items = append(items, OrderItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
		}
	}
	span.SetAttributes(attribute.Bool("checkout.from_cart", fromCart))

	order, err = s.orders.Place(ctx, PlaceOrderCommand{
		UserID:          userID,
		Items:           items,
		ShippingAddress: cmd.ShippingAddress,
		Remark:          cmd.Remark,
	})
	if err != nil {
		return Order{}, err
	}

	if fromCart {
		if clearErr := s.carts.Deduct(ctx, userID, items); clearErr != nil {
			s.logger(ctx, "checkout.cart.clear.failed", map[string]any{
				"userId":  userID,
				"orderId": order.ID,
				"error":   clearErr.Error(),
			})
		}
	}
	return order, nil
}

func (s *checkoutService) GetByID(ctx context.Context, orderID string) (Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

func (s *checkoutService) GetByOrderNo(ctx context.Context, orderNo string) (Order, error) {
	return s.orders.GetByOrderNo(ctx, orderNo)
}

func (s *checkoutService) ListByUser(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	return s.orders.ListOrders(ctx, OrderListFilter{UserID: userID, Pagination: pager})
}

func (s *checkoutService) ListAll(ctx context.Context, status OrderStatus, pager Pagination) (domain.CursorPage[Order], error) {
	return s.orders.ListOrders(ctx, OrderListFilter{Status: status, Pagination: pager})
}
