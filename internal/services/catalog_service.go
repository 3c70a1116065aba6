package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	productIDPrefix = "prd_"

	maxProductNameLength        = 255
	maxProductDescriptionLength = 5000
	maxProductCategoryLength    = 100
	maxProductImageURLLength    = 500

	defaultLowStockThreshold = 10
	lowStockListLimit        = 100
)

var (
	// ErrCatalogInvalidInput signals invalid product attributes.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrCatalogConflict indicates a duplicate product identifier.
	ErrCatalogConflict = errors.New("catalog: conflict")

	// Upper bound for prices: eight integer digits.
	maxProductPrice = decimal.New(1, 8)
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products          repositories.ProductRepository
	LowStockThreshold int
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products  repositories.ProductRepository
	threshold int
	sanitizer *bluemonday.Policy
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	threshold := deps.LowStockThreshold
	if threshold <= 0 {
		threshold = defaultLowStockThreshold
	}

	return &catalogService{
		products:  deps.Products,
		threshold: threshold,
		sanitizer: bluemonday.UGCPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	now := s.clock()
	product := Product{
		ID:          productIDPrefix + s.newID(),
		Name:        cmd.Name,
		Description: cmd.Description,
		Price:       cmd.Price,
		Stock:       cmd.Stock,
		Category:    cmd.Category,
		ImageURL:    cmd.ImageURL,
		Status:      cmd.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if product.Status == "" {
		product.Status = domain.ProductStatusActive
	}
	if product.Stock < 0 {
		return Product{}, fmt.Errorf("%w: stock must not be negative", ErrCatalogInvalidInput)
	}
	if err := s.normalize(&product); err != nil {
		return Product{}, err
	}

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, mapCatalogError(err)
	}
	s.logger(ctx, "catalog.product.created", map[string]any{"productId": product.ID, "stock": product.Stock})
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapCatalogError(err)
	}

	if cmd.Name != nil {
		product.Name = *cmd.Name
	}
	if cmd.Description != nil {
		product.Description = *cmd.Description
	}
	if cmd.Price != nil {
		product.Price = *cmd.Price
	}
	if cmd.Category != nil {
		product.Category = *cmd.Category
	}
	if cmd.ImageURL != nil {
		product.ImageURL = *cmd.ImageURL
	}
	if cmd.Status != nil {
		product.Status = *cmd.Status
	}
	if err := s.normalize(&product); err != nil {
		return Product{}, err
	}
	product.UpdatedAt = s.clock()

	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, mapCatalogError(err)
	}

	// Stock is owned by the ledger; return the freshest counter rather than the value read above.
	updated, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapCatalogError(err)
	}
	return updated, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.products.Delete(ctx, productID); err != nil {
		return mapCatalogError(err)
	}
	s.logger(ctx, "catalog.product.deleted", map[string]any{"productId": productID})
	return nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapCatalogError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	if filter.Status != "" && !validProductStatus(filter.Status) {
		return domain.CursorPage[Product]{}, fmt.Errorf("%w: unknown status %q", ErrCatalogInvalidInput, filter.Status)
	}
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		Category:   normalizeText(filter.Category),
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, mapCatalogError(err)
	}
	return page, nil
}

func (s *catalogService) ListLowStock(ctx context.Context, threshold int) ([]Product, error) {
	if threshold <= 0 {
		threshold = s.threshold
	}
	items, err := s.products.ListLowStock(ctx, threshold, lowStockListLimit)
	if err != nil {
		return nil, mapCatalogError(err)
	}
	return items, nil
}

func (s *catalogService) CategoryStatistics(ctx context.Context) ([]CategoryCount, error) {
	counts, err := s.products.CountByCategory(ctx)
	if err != nil {
		return nil, mapCatalogError(err)
	}
	if counts == nil {
		counts = []CategoryCount{}
	}
	return counts, nil
}

func (s *catalogService) normalize(product *Product) error {
	product.Name = normalizeText(product.Name)
	product.Category = normalizeText(product.Category)
	product.ImageURL = strings.TrimSpace(product.ImageURL)
	product.Description = strings.TrimSpace(s.sanitizer.Sanitize(product.Description))

	switch {
	case product.Name == "":
		return fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	case utf8.RuneCountInString(product.Name) > maxProductNameLength:
		return fmt.Errorf("%w: name exceeds %d characters", ErrCatalogInvalidInput, maxProductNameLength)
	case utf8.RuneCountInString(product.Description) > maxProductDescriptionLength:
		return fmt.Errorf("%w: description exceeds %d characters", ErrCatalogInvalidInput, maxProductDescriptionLength)
	case utf8.RuneCountInString(product.Category) > maxProductCategoryLength:
		return fmt.Errorf("%w: category exceeds %d characters", ErrCatalogInvalidInput, maxProductCategoryLength)
	case len(product.ImageURL) > maxProductImageURLLength:
		return fmt.Errorf("%w: image url exceeds %d characters", ErrCatalogInvalidInput, maxProductImageURLLength)
	case !validProductStatus(product.Status):
		return fmt.Errorf("%w: unknown status %q", ErrCatalogInvalidInput, product.Status)
	}
	if err := validatePrice(product.Price); err != nil {
		return err
	}
	if product.ImageURL != "" {
		u, err := url.Parse(product.ImageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: image url must be an absolute http(s) url", ErrCatalogInvalidInput)
		}
	}
	return nil
}

func validatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
	}
	if !price.Equal(price.Truncate(2)) {
		return fmt.Errorf("%w: price supports at most two decimal places", ErrCatalogInvalidInput)
	}
	if price.GreaterThanOrEqual(maxProductPrice) {
		return fmt.Errorf("%w: price exceeds maximum", ErrCatalogInvalidInput)
	}
	return nil
}

func validProductStatus(status ProductStatus) bool {
	return status == domain.ProductStatusActive || status == domain.ProductStatusInactive
}

func normalizeText(value string) string {
	return strings.TrimSpace(norm.NFKC.String(value))
}

func mapCatalogError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}
	return err
}
