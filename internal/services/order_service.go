package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix             = "ord_"
	defaultOrderNumberPrefix  = "ORD"
	orderNumberTimeLayout     = "20060102150405"
	orderNumberTokenLength    = 6
	maxOrderNumberAttempts    = 3
	maxTransitionCASAttempts  = 3
	releaseReasonRollback     = "order.rollback"
	releaseReasonCancellation = "order.cancelled"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrInvalidTransition indicates the requested status change is not allowed from the current status.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates duplicates that could not be resolved by regeneration.
	ErrOrderConflict = errors.New("order: conflict")
)

// InvalidTransitionError carries the rejected status pair.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:    {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped: {domain.OrderStatusDelivered},
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	TotalAmount    string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders            repositories.OrderRepository
	Products          repositories.ProductRepository
	Inventory         InventoryService
	UnitOfWork        repositories.UnitOfWork
	Clock             func() time.Time
	IDGenerator       func() string
	OrderNumberPrefix string
	// OrderNumbers overrides the generated order number; used by tests to force collisions.
	OrderNumbers      func(now time.Time) string
	Events            OrderEventPublisher
	// Releases receives stock releases that kept failing after bounded retries. When nil a private
	// queue is created that nothing replays.
	Releases          *ReleaseQueue
	// RetryBackoff is the base delay between in-request stock retries.
	RetryBackoff      time.Duration
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders       repositories.OrderRepository
	products     repositories.ProductRepository
	inventory    InventoryService
	unitOfWork   repositories.UnitOfWork
	clock        func() time.Time
	newID        func() string
	orderNumbers func(time.Time) string
	events       OrderEventPublisher
	releases     *ReleaseQueue
	backoff      time.Duration
	logger       func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	numbers := deps.OrderNumbers
	if numbers == nil {
		numbers = orderNumberGenerator(deps.OrderNumberPrefix)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	releases := deps.Releases
	if releases == nil {
		queue, err := NewReleaseQueue(deps.Inventory, logger)
		if err != nil {
			return nil, err
		}
		releases = queue
	}
	backoff := deps.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		inventory:  deps.Inventory,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:        idGen,
		orderNumbers: numbers,
		events:       deps.Events,
		releases:     releases,
		backoff:      backoff,
		logger:       logger,
	}, nil
}

// Place looks up every product, reserves stock line by line and persists a PENDING order with
// price snapshots. Any failure after a reservation releases everything reserved so far.
func (s *orderService) Place(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	items, err := mergeOrderItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	products := make([]Product, 0, len(items))
	for _, item := range items {
		product, err := s.products.FindByID(ctx, item.ProductID)
		if err != nil {
			if isRepoNotFound(err) {
				return Order{}, fmt.Errorf("%w: %s", ErrProductNotFound, item.ProductID)
			}
			return Order{}, s.mapRepositoryError(err)
		}
		products = append(products, product)
	}

	orderID := orderIDPrefix + s.newID()
	reserved := make([]OrderItemInput, 0, len(items))
	for _, item := range items {
		if _, err := s.inventory.Reserve(ctx, StockCommand{ProductID: item.ProductID, Quantity: item.Quantity, OrderID: orderID}); err != nil {
			s.releaseReserved(ctx, orderID, reserved)
			return Order{}, err
		}
		reserved = append(reserved, item)
	}

	now := s.clock()
	lines := make([]OrderLine, 0, len(items))
	for i, item := range items {
		lines = append(lines, OrderLine{
			ProductID:   item.ProductID,
			ProductName: products[i].Name,
			UnitPrice:   products[i].Price,
			Quantity:    item.Quantity,
			Subtotal:    domain.LineTotal(products[i].Price, item.Quantity),
		})
	}
	order := Order{
		ID:              orderID,
		UserID:          userID,
		Status:          domain.OrderStatusPending,
		TotalAmount:     domain.SumLines(lines),
		ShippingAddress: strings.TrimSpace(cmd.ShippingAddress),
		Remark:          strings.TrimSpace(cmd.Remark),
		Lines:           lines,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.insertWithUniqueNumber(ctx, &order); err != nil {
		s.releaseReserved(ctx, orderID, reserved)
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNo,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		TotalAmount:   order.TotalAmount.StringFixed(2),
		OccurredAt:    now,
		Metadata:      map[string]any{"lineCount": len(order.Lines)},
	})
	return order, nil
}

func (s *orderService) insertWithUniqueNumber(ctx context.Context, order *Order) error {
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		order.OrderNo = s.orderNumbers(order.CreatedAt)
		err := s.orders.Insert(ctx, *order)
		if err == nil {
			return nil
		}
		if !isRepoConflict(err) {
			return s.mapRepositoryError(err)
		}
		lastErr = err
		s.logger(ctx, "order.number.collision", map[string]any{
			"orderNo": order.OrderNo,
			"attempt": attempt + 1,
		})
	}
	return fmt.Errorf("%w: order number still taken after %d attempts: %v", ErrOrderConflict, maxOrderNumberAttempts, lastErr)
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetByOrderNo(ctx context.Context, orderNo string) (Order, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByOrderNo(ctx, orderNo)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, filter.Status)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     strings.TrimSpace(filter.UserID),
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.TargetStatus))))
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	var (
		outcome transitionOutcome
		err     error
	)
	for attempt := 0; attempt < maxTransitionCASAttempts; attempt++ {
		outcome, err = s.transitionOnce(ctx, orderID, target, strings.TrimSpace(cmd.Reason))
		if !errors.Is(err, errTransitionLostRace) {
			break
		}
	}
	if errors.Is(err, errTransitionLostRace) {
		return Order{}, fmt.Errorf("%w: order %s kept changing concurrently", ErrOrderConflict, orderID)
	}
	if err != nil {
		return Order{}, err
	}

	order := outcome.order
	metadata := map[string]any{}
	if order.CancelReason != "" && target == domain.OrderStatusCancelled {
		metadata["reason"] = order.CancelReason
	}
	if len(outcome.skipped) > 0 {
		metadata["releaseSkipped"] = outcome.skipped
	}
	if len(outcome.queued) > 0 {
		metadata["releaseQueued"] = outcome.queued
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNo,
		UserID:         order.UserID,
		PreviousStatus: string(outcome.previous),
		CurrentStatus:  string(order.Status),
		TotalAmount:    order.TotalAmount.StringFixed(2),
		OccurredAt:     order.UpdatedAt,
		Metadata:       metadata,
	})
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	return s.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      cmd.OrderID,
		TargetStatus: domain.OrderStatusCancelled,
		Reason:       cmd.Reason,
	})
}

var errTransitionLostRace = errors.New("order: status changed concurrently")

type transitionOutcome struct {
	order    Order
	previous OrderStatus
	skipped  []string
	queued   []string
}

// transitionOnce validates against the stored status and persists with a compare-and-set. Stock is
// released only after the compare-and-set succeeded. On an atomic unit of work a failed release
// rolls the whole transition back; otherwise the cancellation is compensated by hand.
func (s *orderService) transitionOnce(ctx context.Context, orderID string, target OrderStatus, reason string) (transitionOutcome, error) {
	atomic := repositories.IsAtomic(s.unitOfWork)
	var out transitionOutcome
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		out.previous = order.Status
		original := order

		if err := s.applyStatusTransition(&order, target, s.clock()); err != nil {
			return err
		}
		if target == domain.OrderStatusCancelled && reason != "" {
			order.CancelReason = reason
		}

		if err := s.orders.UpdateStatus(txCtx, order, out.previous); err != nil {
			if isRepoConflict(err) {
				return errTransitionLostRace
			}
			return s.mapRepositoryError(err)
		}

		if target == domain.OrderStatusCancelled {
			result, err := s.releaseOrderLines(txCtx, order, !atomic)
			out.skipped = result.skipped
			if err != nil {
				if atomic {
					return err
				}
				queued, reverted := s.undoCancellation(txCtx, original, order, result)
				if reverted {
					return err
				}
				out.queued = queued
			}
		}
		out.order = order
		return nil
	})
	return out, err
}

func (s *orderService) applyStatusTransition(order *Order, target OrderStatus, now time.Time) error {
	current := order.Status
	if !canTransition(current, target) {
		return &InvalidTransitionError{From: current, To: target}
	}
	order.Status = target
	order.UpdatedAt = now
	s.updateTimestamps(order, target, now)
	return nil
}

func (s *orderService) updateTimestamps(order *Order, status OrderStatus, now time.Time) {
	stamp := func(field **time.Time) {
		if *field == nil {
			t := now
			*field = &t
		}
	}
	switch status {
	case domain.OrderStatusPaid:
		stamp(&order.PaidAt)
	case domain.OrderStatusShipped:
		stamp(&order.ShippedAt)
	case domain.OrderStatusDelivered:
		stamp(&order.DeliveredAt)
	case domain.OrderStatusCancelled:
		stamp(&order.CancelledAt)
	}
}

type releaseResult struct {
	released []OrderLine
	skipped  []string
	// pending holds the failed line and every line after it.
	pending []OrderLine
}

// releaseOrderLines returns stock for every line exactly once. Lines whose product has been deleted
// are skipped and reported. With retry set, transient failures are retried before giving up.
func (s *orderService) releaseOrderLines(ctx context.Context, order Order, retry bool) (releaseResult, error) {
	var result releaseResult
	for i, line := range order.Lines {
		cmd := StockCommand{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			OrderID:   order.ID,
			Reason:    releaseReasonCancellation,
		}
		var err error
		if retry {
			_, err = retryStock(ctx, s.backoff, s.inventory.Release, cmd)
		} else {
			_, err = s.inventory.Release(ctx, cmd)
		}
		switch {
		case err == nil:
			result.released = append(result.released, line)
		case errors.Is(err, ErrProductNotFound):
			result.skipped = append(result.skipped, line.ProductID)
			s.logger(ctx, "inventory.release.skipped", map[string]any{
				"orderId":   order.ID,
				"productId": line.ProductID,
				"quantity":  line.Quantity,
			})
		default:
			s.logger(ctx, "order.cancel.release.failed", map[string]any{
				"orderId":   order.ID,
				"productId": line.ProductID,
				"error":     err.Error(),
			})
			result.pending = append(result.pending, order.Lines[i:]...)
			return result, fmt.Errorf("order: release stock for %s: %w", line.ProductID, err)
		}
	}
	return result, nil
}

// undoCancellation takes back the releases of a partially applied cancellation and restores the
// stored order. When a released line cannot be reserved again, or the order cannot be restored,
// the cancellation stands and the lines still holding stock are queued for release; the queued
// product IDs are returned with reverted false.
func (s *orderService) undoCancellation(ctx context.Context, original, cancelled Order, result releaseResult) ([]string, bool) {
	ctx = context.WithoutCancel(ctx)

	holding := slices.Clone(result.pending)
	for i := len(result.released) - 1; i >= 0; i-- {
		line := result.released[i]
		_, err := retryStock(ctx, s.backoff, s.inventory.Reserve, StockCommand{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			OrderID:   cancelled.ID,
			Reason:    releaseReasonRollback,
		})
		if err != nil {
			s.logger(ctx, "order.cancel.undo.failed", map[string]any{
				"orderId":   cancelled.ID,
				"productId": line.ProductID,
				"error":     err.Error(),
			})
			return s.queueReleases(ctx, cancelled.ID, holding), false
		}
		holding = append(holding, line)
	}

	if err := s.orders.UpdateStatus(ctx, original, cancelled.Status); err != nil {
		s.logger(ctx, "order.cancel.undo.failed", map[string]any{
			"orderId": cancelled.ID,
			"error":   err.Error(),
		})
		return s.queueReleases(ctx, cancelled.ID, holding), false
	}
	return nil, true
}

func (s *orderService) queueReleases(ctx context.Context, orderID string, lines []OrderLine) []string {
	ids := make([]string, 0, len(lines))
	cmds := make([]StockCommand, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
		cmds = append(cmds, StockCommand{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			OrderID:   orderID,
			Reason:    releaseReasonCancellation,
		})
	}
	s.releases.Enqueue(ctx, cmds...)
	return ids
}

// releaseReserved gives back the reservations of a failed placement. Releases that keep failing
// are queued rather than dropped.
func (s *orderService) releaseReserved(ctx context.Context, orderID string, reserved []OrderItemInput) {
	ctx = context.WithoutCancel(ctx)
	for _, item := range reserved {
		cmd := StockCommand{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			OrderID:   orderID,
			Reason:    releaseReasonRollback,
		}
		_, err := retryStock(ctx, s.backoff, s.inventory.Release, cmd)
		switch {
		case err == nil:
		case errors.Is(err, ErrProductNotFound):
			s.logger(ctx, "inventory.release.skipped", map[string]any{
				"orderId":   orderID,
				"productId": item.ProductID,
				"quantity":  item.Quantity,
			})
		default:
			s.logger(ctx, "order.rollback.release.failed", map[string]any{
				"orderId":   orderID,
				"productId": item.ProductID,
				"quantity":  item.Quantity,
				"error":     err.Error(),
			})
			s.releases.Enqueue(ctx, cmd)
		}
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// mergeOrderItems validates the requested lines and folds duplicate products into one line,
// keeping first-seen order.
func mergeOrderItems(items []OrderItemInput) ([]OrderItemInput, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	merged := make([]OrderItemInput, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be greater than zero", ErrOrderInvalidInput, productID)
		}
		if i, ok := index[productID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, OrderItemInput{ProductID: productID, Quantity: item.Quantity})
	}
	return merged, nil
}

// orderNumberGenerator yields PREFIX + yyyyMMddHHmmss + six random base32 characters.
func orderNumberGenerator(prefix string) func(time.Time) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	return func(now time.Time) string {
		id := ulid.Make().String()
		return prefix + now.UTC().Format(orderNumberTimeLayout) + id[len(id)-orderNumberTokenLength:]
	}
}

func canTransition(current, target OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
