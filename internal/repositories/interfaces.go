package repositories

import (
	"context"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Stock() StockRepository
	Carts() CartRepository
	Orders() OrderRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AtomicUnitOfWork is implemented by units of work whose RunInTx rolls back every write made through
// the derived context when fn fails. Other backends apply each write as it happens and callers
// compensate themselves.
type AtomicUnitOfWork interface {
	UnitOfWork
	Atomic() bool
}

// IsAtomic reports whether unit rolls back on failure.
func IsAtomic(unit UnitOfWork) bool {
	atomic, ok := unit.(AtomicUnitOfWork)
	return ok && atomic.Atomic()
}

// ProductRepository persists catalog entries. Update never touches the stock counter; stock is
// owned by StockRepository.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	// ListLowStock returns products whose stock is strictly below threshold, lowest stock first.
	ListLowStock(ctx context.Context, threshold int, limit int) ([]domain.Product, error)
	// CountByCategory returns one entry per category, ordered by category name.
	CountByCategory(ctx context.Context) ([]domain.CategoryCount, error)
}

// StockRepository applies atomic, per-product stock mutations.
type StockRepository interface {
	// Decrement subtracts qty when enough stock is on hand. It returns an *InventoryError with
	// InventoryErrorInsufficientStock (carrying the available quantity) otherwise, leaving stock unchanged.
	Decrement(ctx context.Context, productID string, qty int) (domain.StockLevel, error)
	Increment(ctx context.Context, productID string, qty int) (domain.StockLevel, error)
}

// CartMutation receives the current line (Quantity zero when absent) and returns the quantity to
// persist. A result of zero or less removes the line.
type CartMutation func(current domain.CartLine, exists bool) (int, error)

// CartRepository stores cart lines keyed by user and product.
type CartRepository interface {
	List(ctx context.Context, userID string) ([]domain.CartLine, error)
	// Mutate serialises read-modify-write of a single line and returns the persisted line.
	Mutate(ctx context.Context, userID, productID string, fn CartMutation) (domain.CartLine, error)
	Delete(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}

// OrderRepository persists orders and their line snapshots.
type OrderRepository interface {
	// Insert returns a conflict error when the order ID or order number is already taken.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByOrderNo(ctx context.Context, orderNo string) (domain.Order, error)
	// List returns orders newest-created first.
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// UpdateStatus persists the order only if its stored status still equals expected, returning a
	// conflict error otherwise.
	UpdateStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// ProductListFilter narrows catalog listings.
type ProductListFilter struct {
	Category   string
	Status     domain.ProductStatus
	Pagination domain.Pagination
}

// OrderListFilter narrows order listings. Empty fields match everything.
type OrderListFilter struct {
	UserID     string
	Status     domain.OrderStatus
	Pagination domain.Pagination
}
