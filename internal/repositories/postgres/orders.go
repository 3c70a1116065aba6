package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/repositories"
)

const orderColumns = `id, order_no, user_id, status, total_amount, shipping_address, remark, cancel_reason,
	created_at, updated_at, paid_at, shipped_at, delivered_at, cancelled_at`

// OrderRepository stores orders and their line snapshots in two tables.
type OrderRepository struct {
	db *sql.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an order repository on db.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert writes the order row and its lines in one transaction. Unique violations on id or
// order_no surface as conflicts.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return runInTx(ctx, r.db, func(ctx context.Context) error {
		q := conn(ctx, r.db)
		if _, err := q.ExecContext(ctx,
			`INSERT INTO orders (`+orderColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			order.ID, order.OrderNo, order.UserID, string(order.Status), order.TotalAmount,
			order.ShippingAddress, order.Remark, order.CancelReason,
			order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
			timeArg(order.PaidAt), timeArg(order.ShippedAt), timeArg(order.DeliveredAt), timeArg(order.CancelledAt),
		); err != nil {
			return wrapError("orders.insert", err)
		}
		for i, line := range order.Lines {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO order_lines (order_id, position, product_id, product_name, unit_price, quantity, subtotal)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				order.ID, i, line.ProductID, line.ProductName, line.UnitPrice, line.Quantity, line.Subtotal,
			); err != nil {
				return wrapError("orders.insert_line", err)
			}
		}
		return nil
	})
}

// FindByID locks the order row FOR UPDATE when called inside RunInTx, so a transition and its
// releases run against a stable status.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	clause := `id = $1`
	if inTx(ctx) {
		clause += ` FOR UPDATE`
	}
	return r.findOne(ctx, "orders.get", "order "+orderID+" not found", clause, orderID)
}

func (r *OrderRepository) FindByOrderNo(ctx context.Context, orderNo string) (domain.Order, error) {
	return r.findOne(ctx, "orders.get_by_no", "order number "+orderNo+" not found", `order_no = $1`, orderNo)
}

func (r *OrderRepository) findOne(ctx context.Context, op, missing, clause string, arg any) (domain.Order, error) {
	orders, err := r.query(ctx, op, `SELECT `+orderColumns+` FROM orders WHERE `+clause, arg)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, notFound(op, missing)
	}
	return orders[0], nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.NormalizePageSize(filter.Pagination.PageSize, 0, 0)

	var (
		args    queryArgs
		clauses []string
	)
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = "+args.add(filter.UserID))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = "+args.add(string(filter.Status)))
	}
	clauses, tail := newestFirst(clauses, &args, cursor, size)

	orders, err := r.query(ctx, "orders.list", `SELECT `+orderColumns+` FROM orders`+where(clauses)+tail, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return buildPage(orders, size, func(o domain.Order) (time.Time, string) { return o.CreatedAt, o.ID }), nil
}

// UpdateStatus is a compare-and-set on status. When no row matches, a follow-up read tells a
// missing order apart from a lost race.
func (r *OrderRepository) UpdateStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) error {
	const op = "orders.update_status"
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx,
		`UPDATE orders SET status = $3, cancel_reason = $4, updated_at = $5,
		   paid_at = $6, shipped_at = $7, delivered_at = $8, cancelled_at = $9
		 WHERE id = $1 AND status = $2`,
		order.ID, string(expected), string(order.Status), order.CancelReason, order.UpdatedAt.UTC(),
		timeArg(order.PaidAt), timeArg(order.ShippedAt), timeArg(order.DeliveredAt), timeArg(order.CancelledAt),
	)
	if err != nil {
		return wrapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapError(op, err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = q.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, order.ID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return notFound(op, "order "+order.ID+" not found")
	case err != nil:
		return wrapError(op, err)
	}
	return conflict(op, "order "+order.ID+" is "+current)
}

func (r *OrderRepository) query(ctx context.Context, op, stmt string, args ...any) ([]domain.Order, error) {
	q := conn(ctx, r.db)
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, wrapError(op, err)
	}
	var (
		orders []domain.Order
		ids    []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, wrapError(op, err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	if len(orders) == 0 {
		return nil, nil
	}

	lines, err := r.lines(ctx, q, ids)
	if err != nil {
		return nil, wrapError(op, err)
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

func (r *OrderRepository) lines(ctx context.Context, q querier, orderIDs []string) (map[string][]domain.OrderLine, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT order_id, product_id, product_name, unit_price, quantity, subtotal FROM order_lines
		 WHERE order_id = ANY($1) ORDER BY order_id, position`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			line    domain.OrderLine
		)
		if err := rows.Scan(&orderID, &line.ProductID, &line.ProductName, &line.UnitPrice, &line.Quantity, &line.Subtotal); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], line)
	}
	return out, rows.Err()
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                                           domain.Order
		status                                      string
		paidAt, shippedAt, deliveredAt, cancelledAt sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.OrderNo, &o.UserID, &status, &o.TotalAmount, &o.ShippingAddress, &o.Remark, &o.CancelReason,
		&o.CreatedAt, &o.UpdatedAt, &paidAt, &shippedAt, &deliveredAt, &cancelledAt); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	o.PaidAt = timePtr(paidAt)
	o.ShippedAt = timePtr(shippedAt)
	o.DeliveredAt = timePtr(deliveredAt)
	o.CancelledAt = timePtr(cancelledAt)
	return o, nil
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
