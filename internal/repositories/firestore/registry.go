// Package firestore implements the repositories on Cloud Firestore. Stock counters and order
// status changes run in Firestore transactions; RunInTx does not span repositories because a
// Firestore transaction requires every read before the first write.
package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

// Registry wires the Firestore repositories around a shared provider.
type Registry struct {
	provider *pfirestore.Provider
	products *ProductRepository
	carts    *CartRepository
	orders   *OrderRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository. The registry owns the provider and closes it.
func NewRegistry(provider *pfirestore.Provider, now func() time.Time) (*Registry, error) {
	products, err := NewProductRepository(provider, now)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider, now)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "firestore", Check: provider.Ping},
	})
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, products: products, carts: carts, orders: orders, health: health}, nil
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Stock() repositories.StockRepository      { return r.products }
func (r *Registry) Carts() repositories.CartRepository       { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

// RunInTx runs fn directly. Each repository call is individually transactional.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore: transaction function is nil")
	}
	return fn(ctx)
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
