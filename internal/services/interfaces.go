package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	ProductStatus      = domain.ProductStatus
	StockLevel         = domain.StockLevel
	CategoryCount      = domain.CategoryCount
	CartLine           = domain.CartLine
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	OrderStatus        = domain.OrderStatus
	SystemHealthReport = domain.SystemHealthReport
)

// CatalogService manages product metadata. It never mutates stock after creation.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
	ListLowStock(ctx context.Context, threshold int) ([]Product, error)
	CategoryStatistics(ctx context.Context) ([]CategoryCount, error)
}

// InventoryService is the stock ledger. Reserve and Release are linearizable per product.
type InventoryService interface {
	Reserve(ctx context.Context, cmd StockCommand) (StockLevel, error)
	Release(ctx context.Context, cmd StockCommand) (StockLevel, error)
	Restock(ctx context.Context, cmd StockCommand) (StockLevel, error)
}

// CartService maintains per-user carts validated against live stock.
type CartService interface {
	GetCart(ctx context.Context, userID string) (CartView, error)
	AddItem(ctx context.Context, cmd CartItemCommand) (CartLine, error)
	SetQuantity(ctx context.Context, cmd CartItemCommand) (CartLine, error)
	RemoveItem(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
	// Deduct subtracts ordered quantities from the matching lines, removing lines that reach zero.
	// Quantities added after the order was built stay in the cart.
	Deduct(ctx context.Context, userID string, items []OrderItemInput) error
}

// OrderService owns order placement and the status state machine.
type OrderService interface {
	Place(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetByOrderNo(ctx context.Context, orderNo string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// CheckoutService turns carts or explicit item lists into orders and serves order reads.
type CheckoutService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetByID(ctx context.Context, orderID string) (Order, error)
	GetByOrderNo(ctx context.Context, orderNo string) (Order, error)
	ListByUser(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	ListAll(ctx context.Context, status OrderStatus, pager Pagination) (domain.CursorPage[Order], error)
}

// SystemService exposes runtime health and metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CreateProductCommand carries the fields of a new catalog entry.
type CreateProductCommand struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Category    string
	ImageURL    string
	Status      ProductStatus
}

// UpdateProductCommand applies a partial update; nil fields keep their stored value.
type UpdateProductCommand struct {
	ProductID   string
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Category    *string
	ImageURL    *string
	Status      *ProductStatus
}

// ProductListFilter narrows catalog listings.
type ProductListFilter struct {
	Category   string
	Status     ProductStatus
	Pagination Pagination
}

// StockCommand identifies a ledger mutation. OrderID and Reason only annotate emitted events.
type StockCommand struct {
	ProductID string
	Quantity  int
	OrderID   string
	Reason    string
}

// CartItemCommand addresses a single cart line.
type CartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// CartView is a read-only rendering of a cart decorated with live product data.
type CartView struct {
	UserID    string
	Items     []CartViewItem
	Total     decimal.Decimal
	ItemCount int
	UpdatedAt time.Time
}

// CartViewItem pairs a cart line with the current product name, price and stock. Missing is set
// when the product has been deleted since the line was added.
type CartViewItem struct {
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	Subtotal    decimal.Decimal
	Available   int
	Status      ProductStatus
	Missing     bool
	AddedAt     time.Time
}

// OrderItemInput requests a quantity of one product.
type OrderItemInput struct {
	ProductID string
	Quantity  int
}

// PlaceOrderCommand is the input of the reserve-snapshot-persist sequence.
type PlaceOrderCommand struct {
	UserID          string
	Items           []OrderItemInput
	ShippingAddress string
	Remark          string
}

// CreateOrderCommand is the checkout request. Empty Items means "use the cart".
type CreateOrderCommand struct {
	UserID          string
	Items           []OrderItemInput
	ShippingAddress string
	Remark          string
}

// OrderListFilter narrows order listings; results are newest first.
type OrderListFilter struct {
	UserID     string
	Status     OrderStatus
	Pagination Pagination
}

// OrderStatusTransitionCommand moves an order to TargetStatus.
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	Reason       string
}

// CancelOrderCommand cancels an order and restores its stock.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
}
