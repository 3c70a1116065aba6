package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

var (
	// ErrCartInvalidInput signals invalid cart arguments.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartItemNotFound indicates the targeted cart line does not exist.
	ErrCartItemNotFound = errors.New("cart: item not found")
)

// CartServiceDeps bundles collaborators required to construct the cart service.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (CartView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CartView{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	lines, err := s.carts.List(ctx, userID)
	if err != nil {
		return CartView{}, mapCartError(err)
	}

	view := CartView{UserID: userID, Items: make([]CartViewItem, 0, len(lines)), Total: decimal.Zero}
	for _, line := range lines {
		item := CartViewItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Subtotal:  decimal.Zero,
			AddedAt:   line.CreatedAt,
		}
		product, err := s.products.FindByID(ctx, line.ProductID)
		switch {
		case err == nil:
			item.ProductName = product.Name
			item.UnitPrice = product.Price
			item.Available = product.Stock
			item.Status = product.Status
			item.Subtotal = domain.LineTotal(product.Price, line.Quantity)
			view.Total = view.Total.Add(item.Subtotal)
		case isRepoNotFound(err):
			item.Missing = true
		default:
			return CartView{}, mapCartError(err)
		}
		view.Items = append(view.Items, item)
		view.ItemCount += line.Quantity
		if line.UpdatedAt.After(view.UpdatedAt) {
			view.UpdatedAt = line.UpdatedAt
		}
	}
	return view, nil
}

// AddItem adds qty to the existing line quantity, creating the line when absent.
func (s *cartService) AddItem(ctx context.Context, cmd CartItemCommand) (CartLine, error) {
	userID, productID, err := validateCartKeys(cmd)
	if err != nil {
		return CartLine{}, err
	}
	if cmd.Quantity <= 0 {
		return CartLine{}, fmt.Errorf("%w: quantity must be greater than zero", ErrCartInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return CartLine{}, mapCartError(err)
	}

	line, err := s.carts.Mutate(ctx, userID, productID, func(current domain.CartLine, _ bool) (int, error) {
		next := current.Quantity + cmd.Quantity
		if next > product.Stock {
			return 0, &InsufficientStockError{ProductID: productID, Requested: next, Available: product.Stock}
		}
		return next, nil
	})
	if err != nil {
		return CartLine{}, mapCartError(err)
	}
	return line, nil
}

// SetQuantity replaces the line quantity. A quantity of zero or less removes the line.
func (s *cartService) SetQuantity(ctx context.Context, cmd CartItemCommand) (CartLine, error) {
	userID, productID, err := validateCartKeys(cmd)
	if err != nil {
		return CartLine{}, err
	}

	available := 0
	if cmd.Quantity > 0 {
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			return CartLine{}, mapCartError(err)
		}
		available = product.Stock
	}

	line, err := s.carts.Mutate(ctx, userID, productID, func(_ domain.CartLine, exists bool) (int, error) {
		if !exists {
			return 0, fmt.Errorf("%w: product %s", ErrCartItemNotFound, productID)
		}
		if cmd.Quantity > available {
			return 0, &InsufficientStockError{ProductID: productID, Requested: cmd.Quantity, Available: available}
		}
		return cmd.Quantity, nil
	})
	if err != nil {
		return CartLine{}, mapCartError(err)
	}
	return line, nil
}

// RemoveItem deletes a line; removing an absent line succeeds.
func (s *cartService) RemoveItem(ctx context.Context, userID, productID string) error {
	userID, productID, err := validateCartKeys(CartItemCommand{UserID: userID, ProductID: productID})
	if err != nil {
		return err
	}
	if err := s.carts.Delete(ctx, userID, productID); err != nil && !isRepoNotFound(err) {
		return mapCartError(err)
	}
	return nil
}

func (s *cartService) Clear(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if err := s.carts.Clear(ctx, userID); err != nil {
		return mapCartError(err)
	}
	return nil
}

func (s *cartService) Deduct(ctx context.Context, userID string, items []OrderItemInput) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	var errs []error
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" || item.Quantity <= 0 {
			continue
		}
		_, err := s.carts.Mutate(ctx, userID, productID, func(current domain.CartLine, _ bool) (int, error) {
			return current.Quantity - item.Quantity, nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("deduct %s: %w", productID, mapCartError(err)))
		}
	}
	return errors.Join(errs...)
}

func validateCartKeys(cmd CartItemCommand) (string, string, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" {
		return "", "", fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if productID == "" {
		return "", "", fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	return userID, productID, nil
}

func mapCartError(err error) error {
	if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrCartItemNotFound) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("cart: repository unavailable: %w", err)
		}
	}
	return err
}
