package di

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hanko-field/commerce/internal/platform/config"
	"github.com/hanko-field/commerce/internal/services"
)

type recordingPublisher struct {
	mu        sync.Mutex
	orders    []services.OrderEvent
	inventory []services.InventoryEvent
	closed    bool
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, event)
	return nil
}

func (p *recordingPublisher) PublishInventoryEvent(_ context.Context, event services.InventoryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inventory = append(p.inventory, event)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

type apiClient struct {
	t      *testing.T
	server *httptest.Server
}

func (c apiClient) do(method, path string, body any, headers map[string]string) (int, map[string]any) {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.server.Client().Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func newTestContainer(t *testing.T) (*Container, *recordingPublisher, apiClient) {
	t.Helper()
	pub := &recordingPublisher{}
	now := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}

	container, err := NewContainer(context.Background(), config.Config{
		Storage: config.StorageConfig{Backend: config.StorageBackendMemory},
		Orders:  config.OrdersConfig{NumberPrefix: "ORD", DefaultPageSize: 10, MaxPageSize: 50},
		Catalog: config.CatalogConfig{LowStockThreshold: 2},
	}, WithEventPublisher(pub), WithClock(clock))
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	server := httptest.NewServer(container.Router())
	t.Cleanup(func() {
		server.Close()
		_ = container.Close(context.Background())
	})
	return container, pub, apiClient{t: t, server: server}
}

func TestContainerCheckoutFlow(t *testing.T) {
	_, pub, api := newTestContainer(t)

	code, product := api.do(http.MethodPost, "/api/v1/products", map[string]any{
		"name": "Mug", "price": "12.50", "stock": 3,
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d (%v)", code, product)
	}
	productID, _ := product["id"].(string)
	if productID == "" {
		t.Fatalf("expected product id in %v", product)
	}

	code, body := api.do(http.MethodPost, "/api/v1/cart/u1", map[string]any{"product_id": productID, "quantity": 2}, nil)
	if code != http.StatusOK {
		t.Fatalf("add to cart: expected 200, got %d (%v)", code, body)
	}

	code, order := api.do(http.MethodPost, "/api/v1/orders", map[string]any{
		"user_id": "u1", "shipping_address": "1 Main St",
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (%v)", code, order)
	}
	if order["status"] != "PENDING" || order["total_amount"] != "25.00" {
		t.Fatalf("unexpected order: %v", order)
	}
	orderID, _ := order["id"].(string)

	_, cart := api.do(http.MethodGet, "/api/v1/cart/u1", nil, nil)
	if items, _ := cart["items"].([]any); len(items) != 0 {
		t.Fatalf("expected cart cleared after checkout, got %v", cart)
	}

	_, current := api.do(http.MethodGet, "/api/v1/products/"+productID, nil, nil)
	if current["stock"] != float64(1) {
		t.Fatalf("expected stock 1 after checkout, got %v", current["stock"])
	}

	code, body = api.do(http.MethodPost, "/api/v1/orders", map[string]any{
		"user_id": "u2", "shipping_address": "2 Side St",
		"items": []map[string]any{{"product_id": productID, "quantity": 5}},
	}, nil)
	if code != http.StatusConflict || body["error"] != "insufficient_stock" {
		t.Fatalf("expected insufficient stock, got %d (%v)", code, body)
	}

	code, body = api.do(http.MethodPost, "/api/v1/orders/"+orderID+"/pay", nil, nil)
	if code != http.StatusOK || body["status"] != "PAID" || body["paid_at"] == nil {
		t.Fatalf("pay: unexpected %d (%v)", code, body)
	}

	code, body = api.do(http.MethodPost, "/api/v1/orders/"+orderID+"/deliver", nil, nil)
	if code != http.StatusConflict || body["error"] != "invalid_transition" {
		t.Fatalf("deliver from PAID: expected invalid transition, got %d (%v)", code, body)
	}

	code, body = api.do(http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", map[string]any{"reason": "changed mind"}, nil)
	if code != http.StatusOK || body["status"] != "CANCELLED" {
		t.Fatalf("cancel: unexpected %d (%v)", code, body)
	}

	_, current = api.do(http.MethodGet, "/api/v1/products/"+productID, nil, nil)
	if current["stock"] != float64(3) {
		t.Fatalf("expected stock restored to 3, got %v", current["stock"])
	}

	code, _ = api.do(http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", nil, nil)
	if code != http.StatusConflict {
		t.Fatalf("second cancel: expected 409, got %d", code)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.orders) < 3 {
		t.Fatalf("expected order events for create, pay and cancel, got %d", len(pub.orders))
	}
	if len(pub.inventory) == 0 {
		t.Fatalf("expected inventory events")
	}
}

func TestContainerEmptyCartCheckout(t *testing.T) {
	_, _, api := newTestContainer(t)

	code, body := api.do(http.MethodPost, "/api/v1/orders", map[string]any{"user_id": "nobody", "shipping_address": "x"}, nil)
	if code != http.StatusBadRequest || body["error"] != "empty_cart" {
		t.Fatalf("expected empty_cart, got %d (%v)", code, body)
	}
}

func TestContainerIdempotentOrderCreation(t *testing.T) {
	_, _, api := newTestContainer(t)

	_, product := api.do(http.MethodPost, "/api/v1/products", map[string]any{"name": "Pen", "price": "1.00", "stock": 10}, nil)
	productID, _ := product["id"].(string)

	req := map[string]any{
		"user_id": "u1", "shipping_address": "1 Main St",
		"items": []map[string]any{{"product_id": productID, "quantity": 4}},
	}
	headers := map[string]string{"Idempotency-Key": "order-123"}

	code, first := api.do(http.MethodPost, "/api/v1/orders", req, headers)
	if code != http.StatusCreated {
		t.Fatalf("first create: expected 201, got %d (%v)", code, first)
	}
	code, second := api.do(http.MethodPost, "/api/v1/orders", req, headers)
	if code != http.StatusCreated {
		t.Fatalf("replay: expected 201, got %d (%v)", code, second)
	}
	if first["id"] != second["id"] {
		t.Fatalf("expected replayed order %v, got %v", first["id"], second["id"])
	}

	_, current := api.do(http.MethodGet, "/api/v1/products/"+productID, nil, nil)
	if current["stock"] != float64(6) {
		t.Fatalf("expected a single reservation, stock=%v", current["stock"])
	}
}

func TestContainerReadiness(t *testing.T) {
	_, _, api := newTestContainer(t)

	code, body := api.do(http.MethodGet, "/readyz", nil, nil)
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("expected ready, got %d (%v)", code, body)
	}
}

func TestContainerCloseClosesPublisher(t *testing.T) {
	pub := &recordingPublisher{}
	container, err := NewContainer(context.Background(), config.Config{}, WithEventPublisher(pub))
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !pub.closed {
		t.Fatalf("expected publisher to be closed")
	}
}

func TestContainerRejectsUnknownBackend(t *testing.T) {
	_, err := NewContainer(context.Background(), config.Config{Storage: config.StorageConfig{Backend: "cassandra"}})
	if err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
