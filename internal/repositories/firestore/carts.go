package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	cartsCollection     = "carts"
	cartLinesCollection = "lines"
)

// CartRepository stores cart lines under carts/{userId}/lines/{productId}.
type CartRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider, now func() time.Time) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	if now == nil {
		now = time.Now
	}
	return &CartRepository{provider: provider, now: func() time.Time { return now().UTC() }}, nil
}

type cartLineDocument struct {
	Quantity  int       `firestore:"quantity"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d cartLineDocument) toDomain(userID, productID string) domain.CartLine {
	return domain.CartLine{
		UserID:    userID,
		ProductID: productID,
		Quantity:  d.Quantity,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func (r *CartRepository) lines(ctx context.Context, userID string) (*pfirestore.BaseRepository[cartLineDocument], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("cart repository: user id is required")
	}
	return pfirestore.NewBaseRepository[cartLineDocument](r.provider, cartsCollection+"/"+userID+"/"+cartLinesCollection), nil
}

func (r *CartRepository) List(ctx context.Context, userID string) ([]domain.CartLine, error) {
	base, err := r.lines(ctx, userID)
	if err != nil {
		return nil, err
	}
	docs, err := base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.CartLine, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(userID, doc.ID))
	}
	return out, nil
}

// Mutate runs fn inside a transaction on the line document; fn may be invoked again on retry.
func (r *CartRepository) Mutate(ctx context.Context, userID, productID string, fn repositories.CartMutation) (domain.CartLine, error) {
	base, err := r.lines(ctx, userID)
	if err != nil {
		return domain.CartLine{}, err
	}
	ref, err := base.DocumentRef(ctx, productID)
	if err != nil {
		return domain.CartLine{}, err
	}

	var (
		saved domain.CartLine
		fnErr error
	)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, exists, err := base.GetTx(ctx, tx, productID)
		if err != nil {
			return err
		}
		current := domain.CartLine{UserID: userID, ProductID: productID}
		if exists {
			current = doc.Data.toDomain(userID, productID)
		}
		qty, err := fn(current, exists)
		if err != nil {
			fnErr = err
			return err
		}
		if qty <= 0 {
			current.Quantity = 0
			saved = current
			if !exists {
				return nil
			}
			return tx.Delete(ref)
		}

		now := r.now()
		if !exists {
			current.CreatedAt = now
		}
		current.Quantity = qty
		current.UpdatedAt = now
		saved = current
		return tx.Set(ref, cartLineDocument{Quantity: qty, CreatedAt: current.CreatedAt, UpdatedAt: now})
	})
	if fnErr != nil {
		return domain.CartLine{}, fnErr
	}
	if err != nil {
		return domain.CartLine{}, pfirestore.WrapError("carts.mutate", err)
	}
	return saved, nil
}

func (r *CartRepository) Delete(ctx context.Context, userID, productID string) error {
	base, err := r.lines(ctx, userID)
	if err != nil {
		return err
	}
	return base.Delete(ctx, productID)
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	base, err := r.lines(ctx, userID)
	if err != nil {
		return err
	}
	coll, err := base.CollectionRef(ctx)
	if err != nil {
		return err
	}
	refs, err := coll.DocumentRefs(ctx).GetAll()
	if err != nil {
		return pfirestore.WrapError("carts.clear", err)
	}
	if len(refs) == 0 {
		return nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	// one transaction so a concurrent checkout never observes a half-cleared cart
	return pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		return nil
	})
}
