package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/repositories"
)

const productColumns = "id, name, description, price, stock, category, image_url, status, created_at, updated_at"

// ProductRepository stores catalog rows and applies conditional stock updates.
type ProductRepository struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ repositories.ProductRepository = (*ProductRepository)(nil)
	_ repositories.StockRepository   = (*ProductRepository)(nil)
)

// NewProductRepository constructs a product and stock repository on db.
func NewProductRepository(db *sql.DB, now func() time.Time) *ProductRepository {
	if now == nil {
		now = time.Now
	}
	return &ProductRepository{db: db, now: func() time.Time { return now().UTC() }}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p      domain.Product
		status string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Category, &p.ImageURL, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	p.Status = domain.ProductStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (r *ProductRepository) Insert(ctx context.Context, p domain.Product) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.Category, p.ImageURL, string(p.Status), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return wrapError("products.insert", err)
}

// Update rewrites the descriptive columns. stock and created_at are left untouched.
func (r *ProductRepository) Update(ctx context.Context, p domain.Product) error {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE products SET name = $2, description = $3, price = $4, category = $5, image_url = $6, status = $7, updated_at = $8
		 WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Price, p.Category, p.ImageURL, string(p.Status), p.UpdatedAt.UTC(),
	)
	return affectedOrNotFound("products.update", "product "+p.ID+" not found", res, err)
}

func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	return affectedOrNotFound("products.delete", "product "+productID+" not found", res, err)
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, notFound("products.get", "product "+productID+" not found")
	}
	if err != nil {
		return domain.Product{}, wrapError("products.get", err)
	}
	return p, nil
}

func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	size := pagination.NormalizePageSize(filter.Pagination.PageSize, 0, 0)

	var (
		args    queryArgs
		clauses []string
	)
	if category := strings.TrimSpace(filter.Category); category != "" {
		clauses = append(clauses, "category = "+args.add(category))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = "+args.add(string(filter.Status)))
	}
	clauses, tail := newestFirst(clauses, &args, cursor, size)

	items, err := r.query(ctx, "products.list", `SELECT `+productColumns+` FROM products`+where(clauses)+tail, args...)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	return buildPage(items, size, func(p domain.Product) (time.Time, string) { return p.CreatedAt, p.ID }), nil
}

func (r *ProductRepository) ListLowStock(ctx context.Context, threshold int, limit int) ([]domain.Product, error) {
	var args queryArgs
	stmt := `SELECT ` + productColumns + ` FROM products WHERE stock < ` + args.add(threshold) + ` ORDER BY stock ASC, id ASC`
	if limit > 0 {
		stmt += " LIMIT " + args.add(limit)
	}
	return r.query(ctx, "products.list_low_stock", stmt, args...)
}

func (r *ProductRepository) CountByCategory(ctx context.Context) ([]domain.CategoryCount, error) {
	const op = "products.count_by_category"
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT category, COUNT(*), COALESCE(SUM(stock), 0) FROM products GROUP BY category ORDER BY category ASC`)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var out []domain.CategoryCount
	for rows.Next() {
		var c domain.CategoryCount
		if err := rows.Scan(&c.Category, &c.Products, &c.TotalStock); err != nil {
			return nil, wrapError(op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return out, nil
}

func (r *ProductRepository) query(ctx context.Context, op, stmt string, args ...any) ([]domain.Product, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, wrapError(op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return out, nil
}

// Decrement subtracts qty only while stock covers it; the guard lives in the UPDATE so concurrent
// decrements can never drive the counter negative.
func (r *ProductRepository) Decrement(ctx context.Context, productID string, qty int) (domain.StockLevel, error) {
	const op = "stock.decrement"
	if qty <= 0 {
		return domain.StockLevel{}, repositories.NewInventoryError(op, repositories.InventoryErrorInvalidQuantity, productID, nil)
	}
	q := conn(ctx, r.db)
	level := domain.StockLevel{ProductID: productID, UpdatedAt: r.now()}
	err := q.QueryRowContext(ctx,
		`UPDATE products SET stock = stock - $1, updated_at = $3 WHERE id = $2 AND stock >= $1 RETURNING stock`,
		qty, productID, level.UpdatedAt,
	).Scan(&level.Stock)
	if err == nil {
		return level, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.StockLevel{}, wrapError(op, err)
	}

	var available int
	err = q.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&available)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.StockLevel{}, repositories.NewInventoryError(op, repositories.InventoryErrorProductNotFound, productID, nil)
	case err != nil:
		return domain.StockLevel{}, wrapError(op, err)
	}
	return domain.StockLevel{}, repositories.NewInsufficientStockError(op, productID, qty, available)
}

func (r *ProductRepository) Increment(ctx context.Context, productID string, qty int) (domain.StockLevel, error) {
	const op = "stock.increment"
	if qty <= 0 {
		return domain.StockLevel{}, repositories.NewInventoryError(op, repositories.InventoryErrorInvalidQuantity, productID, nil)
	}
	level := domain.StockLevel{ProductID: productID, UpdatedAt: r.now()}
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`UPDATE products SET stock = stock + $1, updated_at = $3 WHERE id = $2 RETURNING stock`,
		qty, productID, level.UpdatedAt,
	).Scan(&level.Stock)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.StockLevel{}, repositories.NewInventoryError(op, repositories.InventoryErrorProductNotFound, productID, nil)
	case err != nil:
		return domain.StockLevel{}, wrapError(op, err)
	}
	return level, nil
}

func affectedOrNotFound(op, msg string, res sql.Result, err error) error {
	if err != nil {
		return wrapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapError(op, err)
	}
	if n == 0 {
		return notFound(op, msg)
	}
	return nil
}
