package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	eventInventoryReserved  = "inventory.reserved"
	eventInventoryReleased  = "inventory.released"
	eventInventoryRestocked = "inventory.restocked"

	instrumentationName = "github.com/hanko-field/commerce/internal/services"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInsufficientStock indicates the requested quantity exceeds the stock on hand.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)

// InsufficientStockError reports the quantities of a rejected reservation or cart update.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: product %s requested %d available %d", ErrInsufficientStock, e.ProductID, e.Requested, e.Available)
}

// Is lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InventoryEventPublisher publishes stock movement events.
type InventoryEventPublisher interface {
	PublishInventoryEvent(ctx context.Context, event InventoryEvent) error
}

// InventoryEvent describes one applied stock movement.
type InventoryEvent struct {
	Type       string
	ProductID  string
	OrderID    string
	Delta      int
	Stock      int
	Reason     string
	OccurredAt time.Time
}

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Stock  repositories.StockRepository
	Events InventoryEventPublisher
	Meter  metric.Meter
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	stock       repositories.StockRepository
	events      InventoryEventPublisher
	adjustments metric.Int64Counter
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Stock == nil {
		return nil, errors.New("inventory service: stock repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	adjustments, err := meter.Int64Counter(
		"inventory.stock.adjustments",
		metric.WithDescription("Stock ledger mutations by operation and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("inventory service: register metric: %w", err)
	}

	return &inventoryService{
		stock:       deps.Stock,
		events:      deps.Events,
		adjustments: adjustments,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *inventoryService) Reserve(ctx context.Context, cmd StockCommand) (StockLevel, error) {
	if err := validateStockCommand(cmd); err != nil {
		return StockLevel{}, err
	}
	level, err := s.stock.Decrement(ctx, strings.TrimSpace(cmd.ProductID), cmd.Quantity)
	s.record(ctx, "reserve", err)
	if err != nil {
		return StockLevel{}, s.mapRepositoryError(err)
	}
	s.publish(ctx, eventInventoryReserved, cmd, -cmd.Quantity, level)
	return level, nil
}

func (s *inventoryService) Release(ctx context.Context, cmd StockCommand) (StockLevel, error) {
	if err := validateStockCommand(cmd); err != nil {
		return StockLevel{}, err
	}
	level, err := s.stock.Increment(ctx, strings.TrimSpace(cmd.ProductID), cmd.Quantity)
	s.record(ctx, "release", err)
	if err != nil {
		return StockLevel{}, s.mapRepositoryError(err)
	}
	s.publish(ctx, eventInventoryReleased, cmd, cmd.Quantity, level)
	return level, nil
}

func (s *inventoryService) Restock(ctx context.Context, cmd StockCommand) (StockLevel, error) {
	if err := validateStockCommand(cmd); err != nil {
		return StockLevel{}, err
	}
	level, err := s.stock.Increment(ctx, strings.TrimSpace(cmd.ProductID), cmd.Quantity)
	s.record(ctx, "restock", err)
	if err != nil {
		return StockLevel{}, s.mapRepositoryError(err)
	}
	s.publish(ctx, eventInventoryRestocked, cmd, cmd.Quantity, level)
	return level, nil
}

func validateStockCommand(cmd StockCommand) error {
	if strings.TrimSpace(cmd.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be greater than zero", ErrInventoryInvalidInput)
	}
	return nil
}

func (s *inventoryService) mapRepositoryError(err error) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &InsufficientStockError{
				ProductID: invErr.ProductID,
				Requested: invErr.Requested,
				Available: invErr.Available,
			}
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrProductNotFound, invErr.ProductID)
		case repositories.InventoryErrorInvalidQuantity:
			return fmt.Errorf("%w: %v", ErrInventoryInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("inventory: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *inventoryService) record(ctx context.Context, op string, err error) {
	result := "ok"
	var invErr *repositories.InventoryError
	switch {
	case err == nil:
	case errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInsufficientStock:
		result = "insufficient"
	default:
		result = "error"
	}
	s.adjustments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", result),
	))
}

func (s *inventoryService) publish(ctx context.Context, eventType string, cmd StockCommand, delta int, level StockLevel) {
	if s.events == nil {
		return
	}
	event := InventoryEvent{
		Type:       eventType,
		ProductID:  level.ProductID,
		OrderID:    strings.TrimSpace(cmd.OrderID),
		Delta:      delta,
		Stock:      level.Stock,
		Reason:     strings.TrimSpace(cmd.Reason),
		OccurredAt: s.clock(),
	}
	if err := s.events.PublishInventoryEvent(ctx, event); err != nil {
		s.logger(ctx, "inventory.event.publish.failed", map[string]any{
			"type":    event.Type,
			"product": event.ProductID,
			"error":   err.Error(),
		})
	}
}
