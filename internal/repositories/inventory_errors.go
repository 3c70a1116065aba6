package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for stock mutations.
type InventoryErrorCode string

const (
	// InventoryErrorInsufficientStock indicates the requested quantity exceeds the stock on hand.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorProductNotFound indicates the product row holding the counter is missing.
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
	// InventoryErrorInvalidQuantity indicates a non-positive quantity reached the backend.
	InventoryErrorInvalidQuantity InventoryErrorCode = "inventory_invalid_quantity"
)

// InventoryError wraps stock failures with machine readable codes.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	Requested int
	Available int
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Code)
	if e.Code == InventoryErrorInsufficientStock {
		msg = fmt.Sprintf("%s: product %s requested %d available %d", e.Code, e.ProductID, e.Requested, e.Available)
	} else if e.ProductID != "" {
		msg = fmt.Sprintf("%s: product %s", e.Code, e.ProductID)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound lets InventoryError satisfy RepositoryError for missing products.
func (e *InventoryError) IsNotFound() bool {
	return e != nil && e.Code == InventoryErrorProductNotFound
}

// IsConflict reports whether the mutation lost against the current stock.
func (e *InventoryError) IsConflict() bool {
	return e != nil && e.Code == InventoryErrorInsufficientStock
}

// IsUnavailable is always false; transport failures are reported through backend errors.
func (e *InventoryError) IsUnavailable() bool { return false }

// NewInsufficientStockError reports a rejected decrement.
func NewInsufficientStockError(op, productID string, requested, available int) *InventoryError {
	return &InventoryError{
		Op:        op,
		Code:      InventoryErrorInsufficientStock,
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

// NewInventoryError constructs a typed inventory error without quantity details.
func NewInventoryError(op string, code InventoryErrorCode, productID string, err error) *InventoryError {
	return &InventoryError{Op: op, Code: code, ProductID: productID, Err: err}
}
