package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/services"
)

func newCartRouter(carts services.CartService) chi.Router {
	router := chi.NewRouter()
	router.Route("/cart", NewCartHandlers(carts).Routes)
	return router
}

func TestCartHandlersGetCart(t *testing.T) {
	updated := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	carts := &stubCartService{
		getFunc: func(_ context.Context, userID string) (services.CartView, error) {
			if userID != "u1" {
				t.Fatalf("unexpected user %q", userID)
			}
			return services.CartView{
				UserID: "u1",
				Items: []services.CartViewItem{
					{ProductID: "p1", ProductName: "Mug", UnitPrice: decimal.RequireFromString("4.5"), Quantity: 2, Subtotal: decimal.NewFromInt(9), Available: 7, Status: domain.ProductStatusActive},
					{ProductID: "p2", Quantity: 1, Missing: true},
				},
				Total:     decimal.NewFromInt(9),
				ItemCount: 3,
				UpdatedAt: updated,
			}, nil
		},
	}

	rr := httptest.NewRecorder()
	newCartRouter(carts).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart/u1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("expected no-store cache header, got %q", cc)
	}
	var payload cartPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Total != "9.00" || payload.ItemCount != 3 || len(payload.Items) != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Items[0].UnitPrice != "4.50" || payload.Items[0].Available != 7 {
		t.Fatalf("unexpected first item: %+v", payload.Items[0])
	}
	if !payload.Items[1].Missing {
		t.Fatalf("expected second item to be flagged missing")
	}
}

func TestCartHandlersAddItemInsufficientStock(t *testing.T) {
	carts := &stubCartService{
		addFunc: func(_ context.Context, cmd services.CartItemCommand) (services.CartLine, error) {
			if cmd.UserID != "u1" || cmd.ProductID != "p1" || cmd.Quantity != 5 {
				t.Fatalf("unexpected command: %+v", cmd)
			}
			return services.CartLine{}, &services.InsufficientStockError{ProductID: "p1", Requested: 5, Available: 2}
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/cart/u1", strings.NewReader(`{"product_id":" p1 ","quantity":5}`))
	rr := httptest.NewRecorder()
	newCartRouter(carts).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "insufficient_stock" || body["status"] != float64(http.StatusConflict) {
		t.Fatalf("expected insufficient_stock envelope, got %v", body)
	}
	if body["requested"] != float64(5) || body["available"] != float64(2) || body["product_id"] != "p1" {
		t.Fatalf("expected stock fields at the top level, got %v", body)
	}
	if _, nested := body["details"]; nested {
		t.Fatalf("details must be flattened, got %v", body)
	}
}

func TestCartHandlersSetQuantity(t *testing.T) {
	var received []int
	carts := &stubCartService{
		setFunc: func(_ context.Context, cmd services.CartItemCommand) (services.CartLine, error) {
			received = append(received, cmd.Quantity)
			if cmd.Quantity <= 0 {
				return services.CartLine{UserID: cmd.UserID, ProductID: cmd.ProductID}, nil
			}
			return services.CartLine{UserID: cmd.UserID, ProductID: cmd.ProductID, Quantity: cmd.Quantity}, nil
		},
	}
	router := newCartRouter(carts)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/cart/u1/p1", strings.NewReader(`{"quantity":3}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var line cartLinePayload
	if err := json.Unmarshal(rr.Body.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line.Quantity != 3 || line.ProductID != "p1" {
		t.Fatalf("unexpected line: %+v", line)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/cart/u1/p1", strings.NewReader(`{"quantity":0}`)))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for zero quantity, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/cart/u1/p1", strings.NewReader(`{}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing quantity, got %d", rr.Code)
	}
	if len(received) != 2 {
		t.Fatalf("expected service to be called twice, got %v", received)
	}
}

func TestCartHandlersRemoveAndClear(t *testing.T) {
	carts := &stubCartService{
		removeFunc: func(_ context.Context, userID, productID string) error {
			if productID == "missing" {
				return services.ErrCartItemNotFound
			}
			return nil
		},
		clearFunc: func(context.Context, string) error { return nil },
	}
	router := newCartRouter(carts)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/cart/u1/p1", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/cart/u1/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/cart/u1", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on clear, got %d", rr.Code)
	}
}

func TestCartHandlersRejectsOversizedBody(t *testing.T) {
	carts := &stubCartService{
		addFunc: func(context.Context, services.CartItemCommand) (services.CartLine, error) {
			t.Fatalf("service must not be called")
			return services.CartLine{}, nil
		},
	}
	body := `{"product_id":"` + strings.Repeat("x", maxCartBodySize) + `","quantity":1}`
	rr := httptest.NewRecorder()
	newCartRouter(carts).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/cart/u1", strings.NewReader(body)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}
