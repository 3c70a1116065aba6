package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
	"github.com/hanko-field/commerce/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes per-user cart endpoints. The user is addressed by path because
// authentication is handled outside this service.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs handlers backed by the cart service.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{userID}", h.getCart)
	r.Post("/{userID}", h.addItem)
	r.Delete("/{userID}", h.clearCart)
	r.Put("/{userID}/{productID}", h.setQuantity)
	r.Delete("/{userID}/{productID}", h.removeItem)
}

type cartItemPayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	Subtotal    string `json:"subtotal"`
	Available   int    `json:"available"`
	Status      string `json:"status,omitempty"`
	Missing     bool   `json:"missing,omitempty"`
	AddedAt     string `json:"added_at,omitempty"`
}

type cartPayload struct {
	UserID    string            `json:"user_id"`
	Items     []cartItemPayload `json:"items"`
	ItemCount int               `json:"item_count"`
	Total     string            `json:"total"`
	UpdatedAt string            `json:"updated_at,omitempty"`
}

type cartLinePayload struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type setCartQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.GetCart(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if !decodeBody(w, r, maxCartBodySize, &req) {
		return
	}
	productID := strings.TrimSpace(req.ProductID)
	requestctx.Annotate(r.Context(), requestctx.KeyProductID, productID)
	line, err := h.carts.AddItem(r.Context(), services.CartItemCommand{
		UserID:    chi.URLParam(r, "userID"),
		ProductID: productID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartLinePayload(line))
}

// setQuantity replaces the line quantity; zero or less removes the line and answers 204.
func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	var req setCartQuantityRequest
	if !decodeBody(w, r, maxCartBodySize, &req) {
		return
	}
	if req.Quantity == nil {
		writeServiceError(r.Context(), w, services.ErrCartInvalidInput)
		return
	}
	line, err := h.carts.SetQuantity(r.Context(), services.CartItemCommand{
		UserID:    chi.URLParam(r, "userID"),
		ProductID: chi.URLParam(r, "productID"),
		Quantity:  *req.Quantity,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	if line.Quantity <= 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartLinePayload(line))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.RemoveItem(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "productID")); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildCartPayload(cart services.CartView) cartPayload {
	payload := cartPayload{
		UserID:    cart.UserID,
		Items:     make([]cartItemPayload, 0, len(cart.Items)),
		ItemCount: cart.ItemCount,
		Total:     formatMoney(cart.Total),
		UpdatedAt: formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   formatMoney(item.UnitPrice),
			Quantity:    item.Quantity,
			Subtotal:    formatMoney(item.Subtotal),
			Available:   item.Available,
			Status:      string(item.Status),
			Missing:     item.Missing,
			AddedAt:     formatTime(item.AddedAt),
		})
	}
	return payload
}

func buildCartLinePayload(line services.CartLine) cartLinePayload {
	return cartLinePayload{
		UserID:    line.UserID,
		ProductID: line.ProductID,
		Quantity:  line.Quantity,
		UpdatedAt: formatTime(line.UpdatedAt),
	}
}
