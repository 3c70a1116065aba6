package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/platform/requestctx"
	"github.com/hanko-field/commerce/internal/services"
)

const (
	maxOrderBodySize       = 64 * 1024
	maxOrderStatusBodySize = 4 * 1024
)

// OrderHandlers exposes checkout, order reads and lifecycle transitions.
type OrderHandlers struct {
	checkout services.CheckoutService
	orders   services.OrderService
	paging   pagination.Options
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(checkout services.CheckoutService, orders services.OrderService, paging pagination.Options) *OrderHandlers {
	return &OrderHandlers{checkout: checkout, orders: orders, paging: paging}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/no/{orderNo}", h.getByOrderNo)
	r.Get("/user/{userID}", h.listUserOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Put("/{orderID}/status", h.updateStatus)
	r.Post("/{orderID}/pay", h.transitionTo(domain.OrderStatusPaid))
	r.Post("/{orderID}/ship", h.transitionTo(domain.OrderStatusShipped))
	r.Post("/{orderID}/deliver", h.transitionTo(domain.OrderStatusDelivered))
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

type orderLinePayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	Subtotal    string `json:"subtotal"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNo         string             `json:"order_no"`
	UserID          string             `json:"user_id"`
	Status          string             `json:"status"`
	TotalAmount     string             `json:"total_amount"`
	ShippingAddress string             `json:"shipping_address"`
	Remark          string             `json:"remark,omitempty"`
	CancelReason    string             `json:"cancel_reason,omitempty"`
	Items           []orderLinePayload `json:"items"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at"`
	PaidAt          *string            `json:"paid_at,omitempty"`
	ShippedAt       *string            `json:"shipped_at,omitempty"`
	DeliveredAt     *string            `json:"delivered_at,omitempty"`
	CancelledAt     *string            `json:"cancelled_at,omitempty"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type createOrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	UserID          string                   `json:"user_id"`
	ShippingAddress string                   `json:"shipping_address"`
	Remark          string                   `json:"remark"`
	Items           []createOrderItemRequest `json:"items"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeBody(w, r, maxOrderBodySize, &req) {
		return
	}
	cmd := services.CreateOrderCommand{
		UserID:          strings.TrimSpace(req.UserID),
		ShippingAddress: req.ShippingAddress,
		Remark:          req.Remark,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderItemInput{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	requestctx.Annotate(r.Context(), requestctx.KeyUserID, cmd.UserID)
	order, err := h.checkout.CreateOrder(r.Context(), cmd)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeOrderResponse(w, r, http.StatusCreated, order)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	pager, ok := paginationParams(w, r, h.paging)
	if !ok {
		return
	}
	status, ok := parseStatusParam(w, r, trimParam(r, "status"), true)
	if !ok {
		return
	}
	page, err := h.checkout.ListAll(r.Context(), status, pager)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

func (h *OrderHandlers) listUserOrders(w http.ResponseWriter, r *http.Request) {
	pager, ok := paginationParams(w, r, h.paging)
	if !ok {
		return
	}
	page, err := h.checkout.ListByUser(r.Context(), chi.URLParam(r, "userID"), pager)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.GetByID(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeOrderResponse(w, r, http.StatusOK, order)
}

func (h *OrderHandlers) getByOrderNo(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.GetByOrderNo(r.Context(), chi.URLParam(r, "orderNo"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeOrderResponse(w, r, http.StatusOK, order)
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateOrderStatusRequest
	if !decodeBody(w, r, maxOrderStatusBodySize, &req) {
		return
	}
	status, ok := parseStatusParam(w, r, req.Status, false)
	if !ok {
		return
	}
	h.transition(w, r, status, strings.TrimSpace(req.Reason))
}

func (h *OrderHandlers) transitionTo(status domain.OrderStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.transition(w, r, status, "")
	}
}

// cancelOrder accepts an optional {reason} body.
func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, maxOrderStatusBodySize, &req) {
			return
		}
	}
	order, err := h.orders.Cancel(r.Context(), services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeOrderResponse(w, r, http.StatusOK, order)
}

func (h *OrderHandlers) transition(w http.ResponseWriter, r *http.Request, status domain.OrderStatus, reason string) {
	order, err := h.orders.TransitionStatus(r.Context(), services.OrderStatusTransitionCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		TargetStatus: status,
		Reason:       reason,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeOrderResponse(w, r, http.StatusOK, order)
}

func parseStatusParam(w http.ResponseWriter, r *http.Request, raw string, optional bool) (domain.OrderStatus, bool) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" && optional {
		return "", true
	}
	status := domain.OrderStatus(raw)
	if !status.Valid() {
		httpx.WriteError(r.Context(), w, httpx.BadRequest("unknown order status "+raw))
		return "", false
	}
	return status, true
}

func buildOrderList(page domain.CursorPage[services.Order]) orderListResponse {
	resp := orderListResponse{Items: make([]orderPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildOrderPayload(order))
	}
	return resp
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		OrderNo:         order.OrderNo,
		UserID:          order.UserID,
		Status:          string(order.Status),
		TotalAmount:     formatMoney(order.TotalAmount),
		ShippingAddress: order.ShippingAddress,
		Remark:          order.Remark,
		CancelReason:    order.CancelReason,
		Items:           make([]orderLinePayload, 0, len(order.Lines)),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		PaidAt:          formatTimePtr(order.PaidAt),
		ShippedAt:       formatTimePtr(order.ShippedAt),
		DeliveredAt:     formatTimePtr(order.DeliveredAt),
		CancelledAt:     formatTimePtr(order.CancelledAt),
	}
	for _, line := range order.Lines {
		payload.Items = append(payload.Items, orderLinePayload{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			UnitPrice:   formatMoney(line.UnitPrice),
			Quantity:    line.Quantity,
			Subtotal:    formatMoney(line.Subtotal),
		})
	}
	return payload
}

// writeOrderResponse records the order on the request annotations so the access log names it.
func writeOrderResponse(w http.ResponseWriter, r *http.Request, status int, order services.Order) {
	requestctx.AnnotateOrder(r.Context(), order.ID, order.OrderNo, string(order.Status))
	writeJSONResponse(w, status, buildOrderPayload(order))
}
