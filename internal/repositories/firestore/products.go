package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const productsCollection = "products"

// ProductRepository stores catalog entries and their stock counter in one document per product.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
	now      func() time.Time
}

var (
	_ repositories.ProductRepository = (*ProductRepository)(nil)
	_ repositories.StockRepository   = (*ProductRepository)(nil)
)

// NewProductRepository constructs a Firestore-backed product and stock repository.
func NewProductRepository(provider *pfirestore.Provider, now func() time.Time) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	if now == nil {
		now = time.Now
	}
	return &ProductRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		now:      func() time.Time { return now().UTC() },
	}, nil
}

type productDocument struct {
	Name        string    `firestore:"name"`
	Description string    `firestore:"description"`
	Price       string    `firestore:"price"`
	Stock       int       `firestore:"stock"`
	Category    string    `firestore:"category"`
	ImageURL    string    `firestore:"imageUrl"`
	Status      string    `firestore:"status"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.StringFixed(2),
		Stock:       p.Stock,
		Category:    p.Category,
		ImageURL:    p.ImageURL,
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) (domain.Product, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(d.Price))
	if err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s price: %w", id, err)
	}
	return domain.Product{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
		Price:       price,
		Stock:       d.Stock,
		Category:    d.Category,
		ImageURL:    d.ImageURL,
		Status:      domain.ProductStatus(d.Status),
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}, nil
}

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	return r.base.Create(ctx, product.ID, newProductDocument(product))
}

// Update rewrites catalog fields only; stock and createdAt keep their stored values.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	doc := newProductDocument(product)
	err := r.base.Update(ctx, product.ID, []firestore.Update{
		{Path: "name", Value: doc.Name},
		{Path: "description", Value: doc.Description},
		{Path: "price", Value: doc.Price},
		{Path: "category", Value: doc.Category},
		{Path: "imageUrl", Value: doc.ImageURL},
		{Path: "status", Value: doc.Status},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	})
	return err
}

func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	return r.base.Delete(ctx, productID)
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	size := pagination.NormalizePageSize(filter.Pagination.PageSize, 0, 0)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if category := strings.TrimSpace(filter.Category); category != "" {
			q = q.Where("category", "==", category)
		}
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		return newestFirst(q, cursor).Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	return buildPage(docs, size, func(doc pfirestore.Document[productDocument]) (domain.Product, error) {
		return doc.Data.toDomain(doc.ID)
	}, func(p domain.Product) (time.Time, string) { return p.CreatedAt, p.ID })
}

func (r *ProductRepository) ListLowStock(ctx context.Context, threshold int, limit int) ([]domain.Product, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("stock", "<", threshold).
			OrderBy("stock", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		product, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, product)
	}
	return out, nil
}

// CountByCategory reads only the category and stock fields and aggregates client side; Firestore
// has no grouped aggregation.
func (r *ProductRepository) CountByCategory(ctx context.Context) ([]domain.CategoryCount, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Select("category", "stock").OrderBy("category", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	var out []domain.CategoryCount
	for _, doc := range docs {
		if n := len(out); n == 0 || out[n-1].Category != doc.Data.Category {
			out = append(out, domain.CategoryCount{Category: doc.Data.Category})
		}
		last := &out[len(out)-1]
		last.Products++
		last.TotalStock += doc.Data.Stock
	}
	return out, nil
}

func (r *ProductRepository) Decrement(ctx context.Context, productID string, qty int) (domain.StockLevel, error) {
	return r.adjust(ctx, "stock.decrement", productID, -qty)
}

func (r *ProductRepository) Increment(ctx context.Context, productID string, qty int) (domain.StockLevel, error) {
	return r.adjust(ctx, "stock.increment", productID, qty)
}

// adjust performs the read-check-write of the stock counter in a transaction. Firestore retries
// the closure on contention, so the check always runs against the committed value.
func (r *ProductRepository) adjust(ctx context.Context, op, productID string, delta int) (domain.StockLevel, error) {
	if delta == 0 {
		return domain.StockLevel{}, repositories.NewInventoryError(op, repositories.InventoryErrorInvalidQuantity, productID, nil)
	}
	ref, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return domain.StockLevel{}, err
	}

	var level domain.StockLevel
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, exists, err := r.base.GetTx(ctx, tx, productID)
		if err != nil {
			return err
		}
		if !exists {
			return repositories.NewInventoryError(op, repositories.InventoryErrorProductNotFound, productID, nil)
		}
		stock := doc.Data.Stock
		if stock+delta < 0 {
			return repositories.NewInsufficientStockError(op, productID, -delta, stock)
		}
		now := r.now()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: stock + delta},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		level = domain.StockLevel{ProductID: productID, Stock: stock + delta, UpdatedAt: now}
		return nil
	})
	if err != nil {
		return domain.StockLevel{}, wrapInventoryError(op, err)
	}
	return level, nil
}

func wrapInventoryError(op string, err error) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
