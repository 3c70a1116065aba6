package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestInventoryReserveRejectsOverdrawWithoutMutation(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Mug", "8.50", 10)
	ctx := context.Background()

	level, err := env.inventory.Reserve(ctx, StockCommand{ProductID: product.ID, Quantity: 4})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if level.Stock != 6 {
		t.Fatalf("expected stock 6 got %d", level.Stock)
	}

	_, err = env.inventory.Reserve(ctx, StockCommand{ProductID: product.ID, Quantity: 7})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Requested != 7 || stockErr.Available != 6 {
		t.Fatalf("unexpected error detail %#v", err)
	}
	if got := env.stockOf(t, product.ID); got != 6 {
		t.Fatalf("expected stock to remain 6 got %d", got)
	}
}

func TestInventoryReleaseIncrements(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Mug", "8.50", 2)

	level, err := env.inventory.Release(context.Background(), StockCommand{ProductID: product.ID, Quantity: 3, OrderID: "ord_x"})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if level.Stock != 5 {
		t.Fatalf("expected stock 5 got %d", level.Stock)
	}
	if env.stockEvents.count() != 1 || env.stockEvents.events[0].Type != eventInventoryReleased || env.stockEvents.events[0].OrderID != "ord_x" {
		t.Fatalf("unexpected events %+v", env.stockEvents.events)
	}
}

func TestInventoryValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	cases := []StockCommand{
		{ProductID: "", Quantity: 1},
		{ProductID: "prd_1", Quantity: 0},
		{ProductID: "prd_1", Quantity: -2},
	}
	for _, cmd := range cases {
		if _, err := env.inventory.Reserve(context.Background(), cmd); !errors.Is(err, ErrInventoryInvalidInput) {
			t.Fatalf("cmd %+v: expected invalid input, got %v", cmd, err)
		}
	}
}

func TestInventoryUnknownProduct(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.inventory.Reserve(context.Background(), StockCommand{ProductID: "prd_missing", Quantity: 1})
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestInventoryPublishFailureIsLoggedNotReturned(t *testing.T) {
	env := newTestEnv(t)
	env.stockEvents.err = errors.New("broker down")
	product := env.seedProduct(t, "Mug", "8.50", 3)

	if _, err := env.inventory.Restock(context.Background(), StockCommand{ProductID: product.ID, Quantity: 2}); err != nil {
		t.Fatalf("Restock returned error: %v", err)
	}
	if !env.logs.has("inventory.event.publish.failed") {
		t.Fatal("expected publish failure to be logged")
	}
	if got := env.stockOf(t, product.ID); got != 5 {
		t.Fatalf("expected stock 5 got %d", got)
	}
}

func TestInventoryConcurrentReservationsNeverOversell(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Limited", "99.00", 7)

	var (
		wg      sync.WaitGroup
		success atomic.Int64
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.inventory.Reserve(context.Background(), StockCommand{ProductID: product.ID, Quantity: 1}); err == nil {
				success.Add(1)
			} else if !errors.Is(err, ErrInsufficientStock) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if success.Load() != 7 {
		t.Fatalf("expected 7 successful reservations got %d", success.Load())
	}
	if got := env.stockOf(t, product.ID); got != 0 {
		t.Fatalf("expected stock 0 got %d", got)
	}
}

func TestNewInventoryServiceRequiresStock(t *testing.T) {
	if _, err := NewInventoryService(InventoryServiceDeps{}); err == nil {
		t.Fatal("expected error without stock repository")
	}
}
