package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/services"
)

// ProductHandlers exposes catalog management and stock administration endpoints.
type ProductHandlers struct {
	catalog   services.CatalogService
	inventory services.InventoryService
	paging    pagination.Options
}

// NewProductHandlers constructs catalog handlers. inventory may be nil, disabling restock.
func NewProductHandlers(catalog services.CatalogService, inventory services.InventoryService, paging pagination.Options) *ProductHandlers {
	return &ProductHandlers{catalog: catalog, inventory: inventory, paging: paging}
}

// Routes wires the /products endpoints onto the provided router.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Post("/", h.createProduct)
	r.Get("/low-stock", h.listLowStock)
	r.Get("/statistics/category", h.categoryStatistics)
	r.Get("/{productID}", h.getProduct)
	r.Put("/{productID}", h.updateProduct)
	r.Delete("/{productID}", h.deleteProduct)
	r.Post("/{productID}/restock", h.restock)
}

type productPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Stock       int    `json:"stock"`
	Category    string `json:"category,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type createProductRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    string          `json:"category"`
	ImageURL    string          `json:"image_url"`
	Status      string          `json:"status"`
}

type updateProductRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Category    *string          `json:"category"`
	ImageURL    *string          `json:"image_url"`
	Status      *string          `json:"status"`
}

type restockRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

type categoryCountPayload struct {
	Category     string `json:"category"`
	ProductCount int    `json:"product_count"`
	TotalStock   int    `json:"total_stock"`
}

type categoryStatisticsResponse struct {
	Items []categoryCountPayload `json:"items"`
}

type stockLevelPayload struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	pager, ok := paginationParams(w, r, h.paging)
	if !ok {
		return
	}
	page, err := h.catalog.ListProducts(r.Context(), services.ProductListFilter{
		Category:   trimParam(r, "category"),
		Status:     domain.ProductStatus(strings.ToLower(trimParam(r, "status"))),
		Pagination: pager,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	resp := productListResponse{Items: make([]productPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, p := range page.Items {
		resp.Items = append(resp.Items, buildProductPayload(p))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *ProductHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	threshold := 0
	if raw := trimParam(r, "threshold"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			httpx.WriteError(r.Context(), w, httpx.BadRequest("threshold must be a non-negative integer"))
			return
		}
		threshold = value
	}
	items, err := h.catalog.ListLowStock(r.Context(), threshold)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	resp := productListResponse{Items: make([]productPayload, 0, len(items))}
	for _, p := range items {
		resp.Items = append(resp.Items, buildProductPayload(p))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *ProductHandlers) categoryStatistics(w http.ResponseWriter, r *http.Request) {
	counts, err := h.catalog.CategoryStatistics(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	resp := categoryStatisticsResponse{Items: make([]categoryCountPayload, 0, len(counts))}
	for _, c := range counts {
		resp.Items = append(resp.Items, categoryCountPayload{Category: c.Category, ProductCount: c.Products, TotalStock: c.TotalStock})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if !decodeBody(w, r, defaultMaxBodySize, &req) {
		return
	}
	product, err := h.catalog.CreateProduct(r.Context(), services.CreateProductCommand{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
		Status:      domain.ProductStatus(strings.ToLower(strings.TrimSpace(req.Status))),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/products/"+product.ID)
	writeJSONResponse(w, http.StatusCreated, buildProductPayload(product))
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req updateProductRequest
	if !decodeBody(w, r, defaultMaxBodySize, &req) {
		return
	}
	cmd := services.UpdateProductCommand{
		ProductID:   chi.URLParam(r, "productID"),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
	}
	if req.Status != nil {
		status := domain.ProductStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		cmd.Status = &status
	}
	product, err := h.catalog.UpdateProduct(r.Context(), cmd)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteProduct(r.Context(), chi.URLParam(r, "productID")); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandlers) restock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("inventory_service_unavailable", "inventory service is unavailable"))
		return
	}
	var req restockRequest
	if !decodeBody(w, r, defaultMaxBodySize, &req) {
		return
	}
	level, err := h.inventory.Restock(ctx, services.StockCommand{
		ProductID: chi.URLParam(r, "productID"),
		Quantity:  req.Quantity,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stockLevelPayload{
		ProductID: level.ProductID,
		Stock:     level.Stock,
		UpdatedAt: formatTime(level.UpdatedAt),
	})
}

func buildProductPayload(p services.Product) productPayload {
	return productPayload{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       formatMoney(p.Price),
		Stock:       p.Stock,
		Category:    p.Category,
		ImageURL:    p.ImageURL,
		Status:      string(p.Status),
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
	}
}
