//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/config"
	"github.com/hanko-field/commerce/internal/repositories"
	pgrepo "github.com/hanko-field/commerce/internal/repositories/postgres"
)

// API_TEST_POSTGRES_DSN must point at a disposable database; tables are truncated.
func newTestRegistry(t *testing.T) *pgrepo.Registry {
	t.Helper()
	dsn := os.Getenv("API_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("API_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := pgrepo.Open(ctx, config.PostgresConfig{DSN: dsn, MaxOpenConns: 10})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := pgrepo.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE order_lines, orders, cart_lines, products`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	registry, err := pgrepo.NewRegistry(db, time.Now)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close(ctx) })
	return registry
}

func seedProduct(t *testing.T, registry *pgrepo.Registry, id string, stock int) {
	t.Helper()
	now := time.Now().UTC()
	if err := registry.Products().Insert(context.Background(), domain.Product{
		ID: id, Name: "Item " + id, Price: decimal.RequireFromString("12.50"), Stock: stock,
		Status: domain.ProductStatusActive, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert product: %v", err)
	}
}

func TestConcurrentDecrementNeverOversells(t *testing.T) {
	registry := newTestRegistry(t)
	seedProduct(t, registry, "prd_hot", 3)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := registry.Stock().Decrement(ctx, "prd_hot", 1); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 3 {
		t.Fatalf("expected 3 successful decrements, got %d", successes)
	}
	_, err := registry.Stock().Decrement(ctx, "prd_hot", 1)
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock || invErr.Available != 0 {
		t.Fatalf("expected insufficient stock with 0 available, got %v", err)
	}
	_, err = registry.Stock().Decrement(ctx, "prd_absent", 1)
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorProductNotFound {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestRunInTxRollsBackStock(t *testing.T) {
	registry := newTestRegistry(t)
	seedProduct(t, registry, "prd_tx", 5)
	ctx := context.Background()

	boom := errors.New("boom")
	err := registry.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := registry.Stock().Decrement(ctx, "prd_tx", 2); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	p, err := registry.Products().FindByID(ctx, "prd_tx")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if p.Stock != 5 {
		t.Fatalf("expected stock restored to 5, got %d", p.Stock)
	}
}

func TestOrderInsertListAndStatusCAS(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i, no := range []string{"ORD1", "ORD2", "ORD3"} {
		order := domain.Order{
			ID: "ord_" + no, OrderNo: no, UserID: "user-1", Status: domain.OrderStatusPending,
			TotalAmount: decimal.RequireFromString("25.00"), ShippingAddress: "addr",
			Lines: []domain.OrderLine{{
				ProductID: "prd_1", ProductName: "Item", UnitPrice: decimal.RequireFromString("12.50"),
				Quantity: 2, Subtotal: decimal.RequireFromString("25.00"),
			}},
			CreatedAt: base.Add(time.Duration(i) * time.Second), UpdatedAt: base,
		}
		if err := registry.Orders().Insert(ctx, order); err != nil {
			t.Fatalf("insert %s: %v", no, err)
		}
	}

	err := registry.Orders().Insert(ctx, domain.Order{ID: "ord_dup", OrderNo: "ORD1", UserID: "user-2",
		Status: domain.OrderStatusPending, CreatedAt: base, UpdatedAt: base})
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate order number, got %v", err)
	}

	page, err := registry.Orders().List(ctx, repositories.OrderListFilter{UserID: "user-1", Pagination: domain.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].OrderNo != "ORD3" || page.NextPageToken == "" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if len(page.Items[0].Lines) != 1 || !page.Items[0].Lines[0].Subtotal.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("expected lines loaded, got %+v", page.Items[0].Lines)
	}
	next, err := registry.Orders().List(ctx, repositories.OrderListFilter{UserID: "user-1",
		Pagination: domain.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	if err != nil {
		t.Fatalf("list next: %v", err)
	}
	if len(next.Items) != 1 || next.Items[0].OrderNo != "ORD1" || next.NextPageToken != "" {
		t.Fatalf("unexpected second page: %+v", next)
	}

	order, err := registry.Orders().FindByOrderNo(ctx, "ORD1")
	if err != nil {
		t.Fatalf("find by no: %v", err)
	}
	order.Status = domain.OrderStatusCancelled
	order.CancelReason = "changed mind"
	cancelledAt := base.Add(time.Hour)
	order.CancelledAt = &cancelledAt
	if err := registry.Orders().UpdateStatus(ctx, order, domain.OrderStatusPending); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := registry.Orders().UpdateStatus(ctx, order, domain.OrderStatusPending); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}
	missing := order
	missing.ID = "ord_missing"
	if err := registry.Orders().UpdateStatus(ctx, missing, domain.OrderStatusPending); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCartMutateSerialises(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.Carts().Mutate(ctx, "user-1", "prd_1", func(current domain.CartLine, _ bool) (int, error) {
				return current.Quantity + 1, nil
			})
			if err != nil {
				t.Errorf("mutate: %v", err)
			}
		}()
	}
	wg.Wait()

	lines, err := registry.Carts().List(ctx, "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(lines) != 1 || lines[0].Quantity != 8 {
		t.Fatalf("expected quantity 8, got %+v", lines)
	}
	if err := registry.Carts().Delete(ctx, "user-1", "prd_other"); err == nil {
		t.Fatalf("expected not found on missing line")
	}
}
