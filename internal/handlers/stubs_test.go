package handlers

import (
	"context"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

type stubCatalogService struct {
	createFunc   func(ctx context.Context, cmd services.CreateProductCommand) (services.Product, error)
	updateFunc   func(ctx context.Context, cmd services.UpdateProductCommand) (services.Product, error)
	deleteFunc   func(ctx context.Context, productID string) error
	getFunc      func(ctx context.Context, productID string) (services.Product, error)
	listFunc     func(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error)
	lowStockFunc func(ctx context.Context, threshold int) ([]services.Product, error)
	statsFunc    func(ctx context.Context) ([]services.CategoryCount, error)
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.CreateProductCommand) (services.Product, error) {
	return s.createFunc(ctx, cmd)
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpdateProductCommand) (services.Product, error) {
	return s.updateFunc(ctx, cmd)
}

func (s *stubCatalogService) DeleteProduct(ctx context.Context, productID string) error {
	return s.deleteFunc(ctx, productID)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	return s.getFunc(ctx, productID)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error) {
	return s.listFunc(ctx, filter)
}

func (s *stubCatalogService) ListLowStock(ctx context.Context, threshold int) ([]services.Product, error) {
	return s.lowStockFunc(ctx, threshold)
}

func (s *stubCatalogService) CategoryStatistics(ctx context.Context) ([]services.CategoryCount, error) {
	return s.statsFunc(ctx)
}

type stubInventoryService struct {
	restockFunc func(ctx context.Context, cmd services.StockCommand) (services.StockLevel, error)
}

func (s *stubInventoryService) Reserve(context.Context, services.StockCommand) (services.StockLevel, error) {
	return services.StockLevel{}, nil
}

func (s *stubInventoryService) Release(context.Context, services.StockCommand) (services.StockLevel, error) {
	return services.StockLevel{}, nil
}

func (s *stubInventoryService) Restock(ctx context.Context, cmd services.StockCommand) (services.StockLevel, error) {
	return s.restockFunc(ctx, cmd)
}

type stubCartService struct {
	getFunc    func(ctx context.Context, userID string) (services.CartView, error)
	addFunc    func(ctx context.Context, cmd services.CartItemCommand) (services.CartLine, error)
	setFunc    func(ctx context.Context, cmd services.CartItemCommand) (services.CartLine, error)
	removeFunc func(ctx context.Context, userID, productID string) error
	clearFunc  func(ctx context.Context, userID string) error
	deductFunc func(ctx context.Context, userID string, items []services.OrderItemInput) error
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.CartView, error) {
	return s.getFunc(ctx, userID)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.CartItemCommand) (services.CartLine, error) {
	return s.addFunc(ctx, cmd)
}

func (s *stubCartService) SetQuantity(ctx context.Context, cmd services.CartItemCommand) (services.CartLine, error) {
	return s.setFunc(ctx, cmd)
}

func (s *stubCartService) RemoveItem(ctx context.Context, userID, productID string) error {
	return s.removeFunc(ctx, userID, productID)
}

func (s *stubCartService) Clear(ctx context.Context, userID string) error {
	return s.clearFunc(ctx, userID)
}

func (s *stubCartService) Deduct(ctx context.Context, userID string, items []services.OrderItemInput) error {
	return s.deductFunc(ctx, userID, items)
}

type stubCheckoutService struct {
	createFunc     func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	getFunc        func(ctx context.Context, orderID string) (services.Order, error)
	getByNoFunc    func(ctx context.Context, orderNo string) (services.Order, error)
	listByUserFunc func(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Order], error)
	listAllFunc    func(ctx context.Context, status services.OrderStatus, pager services.Pagination) (domain.CursorPage[services.Order], error)
}

func (s *stubCheckoutService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	return s.createFunc(ctx, cmd)
}

func (s *stubCheckoutService) GetByID(ctx context.Context, orderID string) (services.Order, error) {
	return s.getFunc(ctx, orderID)
}

func (s *stubCheckoutService) GetByOrderNo(ctx context.Context, orderNo string) (services.Order, error) {
	return s.getByNoFunc(ctx, orderNo)
}

func (s *stubCheckoutService) ListByUser(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	return s.listByUserFunc(ctx, userID, pager)
}

func (s *stubCheckoutService) ListAll(ctx context.Context, status services.OrderStatus, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	return s.listAllFunc(ctx, status, pager)
}

type stubOrderService struct {
	transitionFunc func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFunc     func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) Place(context.Context, services.PlaceOrderCommand) (services.Order, error) {
	return services.Order{}, nil
}

func (s *stubOrderService) GetOrder(context.Context, string) (services.Order, error) {
	return services.Order{}, nil
}

func (s *stubOrderService) GetByOrderNo(context.Context, string) (services.Order, error) {
	return services.Order{}, nil
}

func (s *stubOrderService) ListOrders(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	return s.transitionFunc(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	return s.cancelFunc(ctx, cmd)
}

var (
	_ services.SystemService    = (*stubSystemService)(nil)
	_ services.CatalogService   = (*stubCatalogService)(nil)
	_ services.InventoryService = (*stubInventoryService)(nil)
	_ services.CartService      = (*stubCartService)(nil)
	_ services.CheckoutService  = (*stubCheckoutService)(nil)
	_ services.OrderService     = (*stubOrderService)(nil)
)
