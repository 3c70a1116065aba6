package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hanko-field/commerce/internal/repositories"
)

// Registry wires the Postgres repositories around a shared pool.
type Registry struct {
	db       *sql.DB
	products *ProductRepository
	carts    *CartRepository
	orders   *OrderRepository
	health   repositories.HealthRepository
}

var (
	_ repositories.Registry         = (*Registry)(nil)
	_ repositories.AtomicUnitOfWork = (*Registry)(nil)
)

// NewRegistry constructs every repository on db. The registry owns db and closes it.
func NewRegistry(db *sql.DB, now func() time.Time) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres registry requires a database handle")
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "postgres", Check: db.PingContext},
	})
	if err != nil {
		return nil, err
	}
	return &Registry{
		db:       db,
		products: NewProductRepository(db, now),
		carts:    NewCartRepository(db, now),
		orders:   NewOrderRepository(db),
		health:   health,
	}, nil
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Stock() repositories.StockRepository      { return r.products }
func (r *Registry) Carts() repositories.CartRepository       { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

// RunInTx runs fn in one database transaction shared by every repository call that receives the
// derived context.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return runInTx(ctx, r.db, fn)
}

// Atomic reports that a failing RunInTx callback rolls back every write made through its context.
func (r *Registry) Atomic() bool { return true }

// Close closes the pool.
func (r *Registry) Close(context.Context) error {
	return r.db.Close()
}
