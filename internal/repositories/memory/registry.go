// Package memory provides process-local repositories. Stock counters use one mutex per product and
// order transitions use one mutex per order, so unrelated keys never contend.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/hanko-field/commerce/internal/repositories"
)

// Option customises the in-memory registry.
type Option func(*Registry)

// WithClock overrides the clock used for UpdatedAt stamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		if clock != nil {
			r.now = func() time.Time { return clock().UTC() }
		}
	}
}

// Registry implements repositories.Registry entirely in memory.
type Registry struct {
	now func() time.Time

	products *productStore
	carts    *cartStore
	orders   *orderStore
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs an empty in-memory registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.products = &productStore{now: r.now, items: make(map[string]*productEntry)}
	r.carts = &cartStore{now: r.now, users: make(map[string]*userCart)}
	r.orders = &orderStore{items: make(map[string]*orderEntry), byNo: make(map[string]string)}
	health, _ := repositories.NewDependencyHealthRepository(nil)
	r.health = health
	return r
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Stock() repositories.StockRepository      { return r.products }
func (r *Registry) Carts() repositories.CartRepository       { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

// RunInTx runs fn directly; callers rely on per-key atomic primitives instead of transactions.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	return fn(ctx)
}

// Close is a no-op.
func (r *Registry) Close(context.Context) error { return nil }

// Error implements repositories.RepositoryError.
type Error struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string       { return e.op + ": " + e.msg }
func (e *Error) IsNotFound() bool    { return e.notFound }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, msg string) error { return &Error{op: op, msg: msg, notFound: true} }
func conflict(op, msg string) error { return &Error{op: op, msg: msg, conflict: true} }
