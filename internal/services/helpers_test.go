package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/repositories/memory"
)

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureOrderEvents) ofType(eventType string) []OrderEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []OrderEvent
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type captureInventoryEvents struct {
	mu     sync.Mutex
	events []InventoryEvent
	err    error
}

func (c *captureInventoryEvents) PublishInventoryEvent(_ context.Context, event InventoryEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureInventoryEvents) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type captureLogs struct {
	mu     sync.Mutex
	events []string
}

func (c *captureLogs) log(_ context.Context, event string, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureLogs) has(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == event {
			return true
		}
	}
	return false
}

type testEnv struct {
	reg         *memory.Registry
	catalog     CatalogService
	inventory   InventoryService
	carts       CartService
	orders      OrderService
	checkout    CheckoutService
	releases    *ReleaseQueue
	orderEvents *captureOrderEvents
	stockEvents *captureInventoryEvents
	logs        *captureLogs
}

type envOption func(*OrderServiceDeps)

func withOrderNumbers(fn func(time.Time) string) envOption {
	return func(deps *OrderServiceDeps) { deps.OrderNumbers = fn }
}

// withInventory routes the order service's stock calls through wrap.
func withInventory(wrap func(InventoryService) InventoryService) envOption {
	return func(deps *OrderServiceDeps) { deps.Inventory = wrap(deps.Inventory) }
}

func withRetryBackoff(d time.Duration) envOption {
	return func(deps *OrderServiceDeps) { deps.RetryBackoff = d }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	env := &testEnv{
		reg:         memory.NewRegistry(),
		orderEvents: &captureOrderEvents{},
		stockEvents: &captureInventoryEvents{},
		logs:        &captureLogs{},
	}

	catalog, err := NewCatalogService(CatalogServiceDeps{Products: env.reg.Products(), Logger: env.logs.log})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	inventory, err := NewInventoryService(InventoryServiceDeps{Stock: env.reg.Stock(), Events: env.stockEvents, Logger: env.logs.log})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}
	carts, err := NewCartService(CartServiceDeps{Carts: env.reg.Carts(), Products: env.reg.Products(), Logger: env.logs.log})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	orderDeps := OrderServiceDeps{
		Orders:     env.reg.Orders(),
		Products:   env.reg.Products(),
		Inventory:  inventory,
		UnitOfWork: env.reg,
		Events:     env.orderEvents,
		Logger:     env.logs.log,
	}
	for _, opt := range opts {
		opt(&orderDeps)
	}
	if orderDeps.Releases == nil {
		queue, err := NewReleaseQueue(orderDeps.Inventory, env.logs.log)
		if err != nil {
			t.Fatalf("NewReleaseQueue: %v", err)
		}
		orderDeps.Releases = queue
	}
	env.releases = orderDeps.Releases
	orders, err := NewOrderService(orderDeps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	checkout, err := NewCheckoutService(CheckoutServiceDeps{Carts: carts, Orders: orders, Logger: env.logs.log})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	env.catalog = catalog
	env.inventory = inventory
	env.carts = carts
	env.orders = orders
	env.checkout = checkout
	return env
}

func (e *testEnv) seedProduct(t *testing.T, name, price string, stock int) Product {
	t.Helper()
	product, err := e.catalog.CreateProduct(context.Background(), CreateProductCommand{
		Name:  name,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("CreateProduct %s: %v", name, err)
	}
	return product
}

func (e *testEnv) stockOf(t *testing.T, productID string) int {
	t.Helper()
	product, err := e.reg.Products().FindByID(context.Background(), productID)
	if err != nil {
		t.Fatalf("FindByID %s: %v", productID, err)
	}
	return product.Stock
}

func (e *testEnv) placePending(t *testing.T, userID string, items ...OrderItemInput) Order {
	t.Helper()
	order, err := e.orders.Place(context.Background(), PlaceOrderCommand{UserID: userID, Items: items})
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	return order
}

// stubOrderRepo delegates to an inner repository unless a hook is set.
type stubOrderRepo struct {
	repositories.OrderRepository
	insertFn func(context.Context, domain.Order) error
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return s.OrderRepository.Insert(ctx, order)
}

type repoError struct {
	notFound, conflict, unavailable bool
}

func (e repoError) Error() string       { return "repository failure" }
func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return e.conflict }
func (e repoError) IsUnavailable() bool { return e.unavailable }

var errLedgerDown = fmt.Errorf("inventory: repository unavailable: %w", repoError{unavailable: true})

// faultyInventory fails Release or Reserve for selected products. A positive count fails that
// many calls; a negative count fails until cleared.
type faultyInventory struct {
	InventoryService

	mu            sync.Mutex
	releaseFaults map[string]int
	reserveFaults map[string]int
	releaseCalls  map[string]int
}

func newFaultyInventory(inner InventoryService) *faultyInventory {
	return &faultyInventory{
		InventoryService: inner,
		releaseFaults:    map[string]int{},
		reserveFaults:    map[string]int{},
		releaseCalls:     map[string]int{},
	}
}

func (f *faultyInventory) failRelease(productID string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseFaults[productID] = times
}

func (f *faultyInventory) failReserve(productID string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserveFaults[productID] = times
}

func (f *faultyInventory) releaseAttempts(productID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releaseCalls[productID]
}

func (f *faultyInventory) trip(faults map[string]int, productID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := faults[productID]
	switch {
	case n < 0:
		return true
	case n > 0:
		faults[productID] = n - 1
		return true
	}
	return false
}

func (f *faultyInventory) Release(ctx context.Context, cmd StockCommand) (StockLevel, error) {
	f.mu.Lock()
	f.releaseCalls[cmd.ProductID]++
	f.mu.Unlock()
	if f.trip(f.releaseFaults, cmd.ProductID) {
		return StockLevel{}, errLedgerDown
	}
	return f.InventoryService.Release(ctx, cmd)
}

func (f *faultyInventory) Reserve(ctx context.Context, cmd StockCommand) (StockLevel, error) {
	if f.trip(f.reserveFaults, cmd.ProductID) {
		return StockLevel{}, errLedgerDown
	}
	return f.InventoryService.Reserve(ctx, cmd)
}

// atomicUnit reports itself transactional so the order service leaves rollback to the unit.
type atomicUnit struct {
	repositories.UnitOfWork
}

func (atomicUnit) Atomic() bool { return true }
