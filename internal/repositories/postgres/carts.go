package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// CartRepository stores one row per user and product.
type CartRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a cart repository on db.
func NewCartRepository(db *sql.DB, now func() time.Time) *CartRepository {
	if now == nil {
		now = time.Now
	}
	return &CartRepository{db: db, now: func() time.Time { return now().UTC() }}
}

func (r *CartRepository) List(ctx context.Context, userID string) ([]domain.CartLine, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT product_id, quantity, created_at, updated_at FROM cart_lines
		 WHERE user_id = $1 AND quantity > 0 ORDER BY created_at ASC, product_id ASC`, userID)
	if err != nil {
		return nil, wrapError("carts.list", err)
	}
	defer rows.Close()

	var out []domain.CartLine
	for rows.Next() {
		line := domain.CartLine{UserID: userID}
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.CreatedAt, &line.UpdatedAt); err != nil {
			return nil, wrapError("carts.list", err)
		}
		line.CreatedAt = line.CreatedAt.UTC()
		line.UpdatedAt = line.UpdatedAt.UTC()
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("carts.list", err)
	}
	return out, nil
}

// Mutate claims the row with an empty placeholder insert and locks it, so concurrent writers to the
// same line queue behind one another. The placeholder never outlives the transaction.
func (r *CartRepository) Mutate(ctx context.Context, userID, productID string, fn repositories.CartMutation) (domain.CartLine, error) {
	var saved domain.CartLine
	err := runInTx(ctx, r.db, func(ctx context.Context) error {
		q := conn(ctx, r.db)
		now := r.now()

		if _, err := q.ExecContext(ctx,
			`INSERT INTO cart_lines (user_id, product_id, quantity, created_at, updated_at)
			 VALUES ($1, $2, 0, $3, $3) ON CONFLICT (user_id, product_id) DO NOTHING`,
			userID, productID, now,
		); err != nil {
			return wrapError("carts.mutate", err)
		}

		current := domain.CartLine{UserID: userID, ProductID: productID}
		if err := q.QueryRowContext(ctx,
			`SELECT quantity, created_at, updated_at FROM cart_lines WHERE user_id = $1 AND product_id = $2 FOR UPDATE`,
			userID, productID,
		).Scan(&current.Quantity, &current.CreatedAt, &current.UpdatedAt); err != nil {
			return wrapError("carts.mutate", err)
		}
		exists := current.Quantity > 0
		if !exists {
			current = domain.CartLine{UserID: userID, ProductID: productID}
		}

		qty, err := fn(current, exists)
		if err != nil {
			return err
		}
		if qty <= 0 {
			if _, err := q.ExecContext(ctx,
				`DELETE FROM cart_lines WHERE user_id = $1 AND product_id = $2`, userID, productID,
			); err != nil {
				return wrapError("carts.mutate", err)
			}
			current.Quantity = 0
			saved = current
			return nil
		}

		if !exists {
			current.CreatedAt = now
		}
		current.Quantity = qty
		current.UpdatedAt = now
		if _, err := q.ExecContext(ctx,
			`UPDATE cart_lines SET quantity = $3, created_at = $4, updated_at = $5 WHERE user_id = $1 AND product_id = $2`,
			userID, productID, qty, current.CreatedAt.UTC(), now,
		); err != nil {
			return wrapError("carts.mutate", err)
		}
		saved = current
		saved.CreatedAt = saved.CreatedAt.UTC()
		return nil
	})
	if err != nil {
		return domain.CartLine{}, err
	}
	return saved, nil
}

func (r *CartRepository) Delete(ctx context.Context, userID, productID string) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM cart_lines WHERE user_id = $1 AND product_id = $2 AND quantity > 0`, userID, productID)
	return affectedOrNotFound("carts.delete", "cart line "+productID+" not found", res, err)
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID)
	return wrapError("carts.clear", err)
}
