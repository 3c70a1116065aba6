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

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
)

// OrderRepository stores orders with embedded line snapshots. Order number uniqueness is
// enforced by an index document per number created in the same transaction as the order.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	numbers  *pfirestore.BaseRepository[orderNumberDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
		numbers:  pfirestore.NewBaseRepository[orderNumberDocument](provider, orderNumbersCollection),
	}, nil
}

type orderDocument struct {
	OrderNo         string              `firestore:"orderNo"`
	UserID          string              `firestore:"userId"`
	Status          string              `firestore:"status"`
	TotalAmount     string              `firestore:"totalAmount"`
	ShippingAddress string              `firestore:"shippingAddress"`
	Remark          string              `firestore:"remark,omitempty"`
	CancelReason    string              `firestore:"cancelReason,omitempty"`
	Lines           []orderLineDocument `firestore:"lines"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	PaidAt          *time.Time          `firestore:"paidAt,omitempty"`
	ShippedAt       *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time          `firestore:"cancelledAt,omitempty"`
}

type orderLineDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	UnitPrice   string `firestore:"unitPrice"`
	Quantity    int    `firestore:"quantity"`
	Subtotal    string `firestore:"subtotal"`
}

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newOrderDocument(o domain.Order) orderDocument {
	lines := make([]orderLineDocument, len(o.Lines))
	for i, line := range o.Lines {
		lines[i] = orderLineDocument{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			UnitPrice:   line.UnitPrice.StringFixed(2),
			Quantity:    line.Quantity,
			Subtotal:    line.Subtotal.StringFixed(2),
		}
	}
	return orderDocument{
		OrderNo:         o.OrderNo,
		UserID:          o.UserID,
		Status:          string(o.Status),
		TotalAmount:     o.TotalAmount.StringFixed(2),
		ShippingAddress: o.ShippingAddress,
		Remark:          o.Remark,
		CancelReason:    o.CancelReason,
		Lines:           lines,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
		PaidAt:          utcPtr(o.PaidAt),
		ShippedAt:       utcPtr(o.ShippedAt),
		DeliveredAt:     utcPtr(o.DeliveredAt),
		CancelledAt:     utcPtr(o.CancelledAt),
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	total, err := decimal.NewFromString(d.TotalAmount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s total: %w", id, err)
	}
	lines := make([]domain.OrderLine, len(d.Lines))
	for i, line := range d.Lines {
		unit, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s line %d price: %w", id, i, err)
		}
		subtotal, err := decimal.NewFromString(line.Subtotal)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s line %d subtotal: %w", id, i, err)
		}
		lines[i] = domain.OrderLine{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			UnitPrice:   unit,
			Quantity:    line.Quantity,
			Subtotal:    subtotal,
		}
	}
	return domain.Order{
		ID:              id,
		OrderNo:         d.OrderNo,
		UserID:          d.UserID,
		Status:          domain.OrderStatus(d.Status),
		TotalAmount:     total,
		ShippingAddress: d.ShippingAddress,
		Remark:          d.Remark,
		CancelReason:    d.CancelReason,
		Lines:           lines,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
		PaidAt:          utcPtr(d.PaidAt),
		ShippedAt:       utcPtr(d.ShippedAt),
		DeliveredAt:     utcPtr(d.DeliveredAt),
		CancelledAt:     utcPtr(d.CancelledAt),
	}, nil
}

// Insert creates the order and its number index atomically; either existing document yields a
// conflict error.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	orderRef, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	numberRef, err := r.numbers.DocumentRef(ctx, order.OrderNo)
	if err != nil {
		return err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(numberRef, orderNumberDocument{OrderID: order.ID, CreatedAt: order.CreatedAt.UTC()}); err != nil {
			return err
		}
		return tx.Create(orderRef, newOrderDocument(order))
	})
	return pfirestore.WrapError("orders.insert", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *OrderRepository) FindByOrderNo(ctx context.Context, orderNo string) (domain.Order, error) {
	index, err := r.numbers.Get(ctx, strings.TrimSpace(orderNo))
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, index.Data.OrderID)
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.NormalizePageSize(filter.Pagination.PageSize, 0, 0)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		return newestFirst(q, cursor).Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return buildPage(docs, size, func(doc pfirestore.Document[orderDocument]) (domain.Order, error) {
		return doc.Data.toDomain(doc.ID)
	}, func(o domain.Order) (time.Time, string) { return o.CreatedAt, o.ID })
}

// UpdateStatus writes the order inside a transaction after checking the stored status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) error {
	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, exists, err := r.orders.GetTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return pfirestore.NewNotFoundError("orders.update_status", "order "+order.ID+" not found")
		}
		if domain.OrderStatus(current.Data.Status) != expected {
			return pfirestore.NewConflictError("orders.update_status", "order "+order.ID+" is "+current.Data.Status)
		}
		return tx.Set(ref, newOrderDocument(order))
	})
	return pfirestore.WrapError("orders.update_status", err)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
