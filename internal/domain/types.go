package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ProductStatus marks whether a product is offered in the storefront.
type ProductStatus string

const (
	// ProductStatusActive marks a product that is listed for sale.
	ProductStatusActive ProductStatus = "active"
	// ProductStatusInactive marks a product hidden from the storefront.
	ProductStatusInactive ProductStatus = "inactive"
)

// Product is a catalog entry together with its single on-hand stock counter.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Category    string
	ImageURL    string
	Status      ProductStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CategoryCount aggregates the catalog entries filed under one category. Uncategorised products
// are counted under the empty category.
type CategoryCount struct {
	Category   string
	Products   int
	TotalStock int
}

// StockLevel reports the stock counter of a product after a ledger mutation.
type StockLevel struct {
	ProductID string
	Stock     int
	UpdatedAt time.Time
}

// CartLine is a single product quantity held in a user's cart.
type CartLine struct {
	UserID    string
	ProductID string
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Valid reports whether s is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Order is a placed order with immutable line snapshots.
type Order struct {
	ID              string
	OrderNo         string
	UserID          string
	Status          OrderStatus
	TotalAmount     decimal.Decimal
	ShippingAddress string
	Remark          string
	CancelReason    string
	Lines           []OrderLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
}

// OrderLine snapshots the product name and price at order time.
type OrderLine struct {
	ProductID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	Subtotal    decimal.Decimal
}

// LineTotal returns the unit price multiplied by quantity.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// SumLines returns the total of all line subtotals.
func SumLines(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Subtotal)
	}
	return total
}
