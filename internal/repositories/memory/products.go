package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/repositories"
)

type productEntry struct {
	mu      sync.Mutex
	product domain.Product
	deleted bool
}

// productStore serves both ProductRepository and StockRepository. The map lock only guards
// membership; each product's fields are guarded by its own entry mutex.
type productStore struct {
	now   func() time.Time
	mu    sync.RWMutex
	items map[string]*productEntry
}

var (
	_ repositories.ProductRepository = (*productStore)(nil)
	_ repositories.StockRepository   = (*productStore)(nil)
)

func (s *productStore) entry(id string) (*productEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[id]
	return e, ok
}

func (s *productStore) Insert(_ context.Context, product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[product.ID]; ok {
		return conflict("products.insert", "product "+product.ID+" already exists")
	}
	s.items[product.ID] = &productEntry{product: product}
	return nil
}

func (s *productStore) Update(_ context.Context, product domain.Product) error {
	e, ok := s.entry(product.ID)
	if !ok {
		return notFound("products.update", "product "+product.ID+" not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return notFound("products.update", "product "+product.ID+" not found")
	}
	product.Stock = e.product.Stock
	product.CreatedAt = e.product.CreatedAt
	e.product = product
	return nil
}

func (s *productStore) Delete(_ context.Context, productID string) error {
	s.mu.Lock()
	e, ok := s.items[productID]
	if ok {
		delete(s.items, productID)
	}
	s.mu.Unlock()
	if !ok {
		return notFound("products.delete", "product "+productID+" not found")
	}
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	return nil
}

func (s *productStore) FindByID(_ context.Context, productID string) (domain.Product, error) {
	e, ok := s.entry(productID)
	if !ok {
		return domain.Product{}, notFound("products.get", "product "+productID+" not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.product, nil
}

func (s *productStore) snapshot() []domain.Product {
	s.mu.RLock()
	entries := make([]*productEntry, 0, len(s.items))
	for _, e := range s.items {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.Product, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.product)
		}
		e.mu.Unlock()
	}
	return out
}

func (s *productStore) List(_ context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	category := strings.TrimSpace(filter.Category)

	var matched []domain.Product
	for _, p := range s.snapshot() {
		if category != "" && p.Category != category {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		matched = append(matched, p)
	}
	return pageNewestFirst(matched, cursor, filter.Pagination.PageSize, func(p domain.Product) (time.Time, string) {
		return p.CreatedAt, p.ID
	}), nil
}

func (s *productStore) ListLowStock(_ context.Context, threshold int, limit int) ([]domain.Product, error) {
	var out []domain.Product
	for _, p := range s.snapshot() {
		if p.Stock < threshold {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stock == out[j].Stock {
			return out[i].ID < out[j].ID
		}
		return out[i].Stock < out[j].Stock
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *productStore) CountByCategory(context.Context) ([]domain.CategoryCount, error) {
	byCategory := make(map[string]*domain.CategoryCount)
	for _, p := range s.snapshot() {
		c, ok := byCategory[p.Category]
		if !ok {
			c = &domain.CategoryCount{Category: p.Category}
			byCategory[p.Category] = c
		}
		c.Products++
		c.TotalStock += p.Stock
	}
	out := make([]domain.CategoryCount, 0, len(byCategory))
	for _, c := range byCategory {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (s *productStore) Decrement(_ context.Context, productID string, qty int) (domain.StockLevel, error) {
	return s.adjust("stock.decrement", productID, -qty)
}

func (s *productStore) Increment(_ context.Context, productID string, qty int) (domain.StockLevel, error) {
	return s.adjust("stock.increment", productID, qty)
}

func (s *productStore) adjust(op, productID string, delta int) (domain.StockLevel, error) {
	if delta == 0 {
		return domain.StockLevel{}, repositories.NewInventoryError(op, repositories.InventoryErrorInvalidQuantity, productID, nil)
	}
	e, ok := s.entry(productID)
	if !ok {
		return domain.StockLevel{}, repositories.NewInventoryError(op, repositories.InventoryErrorProductNotFound, productID, nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return domain.StockLevel{}, repositories.NewInventoryError(op, repositories.InventoryErrorProductNotFound, productID, nil)
	}
	if e.product.Stock+delta < 0 {
		return domain.StockLevel{}, repositories.NewInsufficientStockError(op, productID, -delta, e.product.Stock)
	}
	e.product.Stock += delta
	e.product.UpdatedAt = s.now()
	return domain.StockLevel{ProductID: productID, Stock: e.product.Stock, UpdatedAt: e.product.UpdatedAt}, nil
}

// pageNewestFirst sorts items by (createdAt desc, id desc) and returns the page after cursor.
func pageNewestFirst[T any](items []T, cursor pagination.Cursor, size int, key func(T) (time.Time, string)) domain.CursorPage[T] {
	sort.Slice(items, func(i, j int) bool {
		ci, ii := key(items[i])
		cj, ij := key(items[j])
		if ci.Equal(cj) {
			return ii > ij
		}
		return ci.After(cj)
	})
	size = pagination.NormalizePageSize(size, 0, 0)

	page := domain.CursorPage[T]{Items: make([]T, 0, size)}
	for _, item := range items {
		created, id := key(item)
		if !cursor.Before(created, id) {
			continue
		}
		if len(page.Items) == size {
			last := page.Items[len(page.Items)-1]
			lc, lid := key(last)
			page.NextPageToken = pagination.NextToken(lc, lid)
			break
		}
		page.Items = append(page.Items, item)
	}
	return page
}
