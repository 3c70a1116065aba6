package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/repositories"
)

type orderEntry struct {
	mu    sync.Mutex
	order domain.Order
}

type orderStore struct {
	mu    sync.RWMutex
	items map[string]*orderEntry
	byNo  map[string]string
}

var _ repositories.OrderRepository = (*orderStore)(nil)

func (s *orderStore) Insert(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[order.ID]; ok {
		return conflict("orders.insert", "order "+order.ID+" already exists")
	}
	if _, ok := s.byNo[order.OrderNo]; ok {
		return conflict("orders.insert", "order number "+order.OrderNo+" already exists")
	}
	s.items[order.ID] = &orderEntry{order: cloneOrder(order)}
	s.byNo[order.OrderNo] = order.ID
	return nil
}

func (s *orderStore) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.RLock()
	e, ok := s.items[orderID]
	s.mu.RUnlock()
	if !ok {
		return domain.Order{}, notFound("orders.get", "order "+orderID+" not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneOrder(e.order), nil
}

func (s *orderStore) FindByOrderNo(ctx context.Context, orderNo string) (domain.Order, error) {
	s.mu.RLock()
	id, ok := s.byNo[orderNo]
	s.mu.RUnlock()
	if !ok {
		return domain.Order{}, notFound("orders.get_by_no", "order number "+orderNo+" not found")
	}
	return s.FindByID(ctx, id)
}

func (s *orderStore) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	s.mu.RLock()
	entries := make([]*orderEntry, 0, len(s.items))
	for _, e := range s.items {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var matched []domain.Order
	for _, e := range entries {
		e.mu.Lock()
		order := e.order
		e.mu.Unlock()
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}
	return pageNewestFirst(matched, cursor, filter.Pagination.PageSize, func(o domain.Order) (time.Time, string) {
		return o.CreatedAt, o.ID
	}), nil
}

func (s *orderStore) UpdateStatus(_ context.Context, order domain.Order, expected domain.OrderStatus) error {
	s.mu.RLock()
	e, ok := s.items[order.ID]
	s.mu.RUnlock()
	if !ok {
		return notFound("orders.update_status", "order "+order.ID+" not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.order.Status != expected {
		return conflict("orders.update_status", "order "+order.ID+" is "+string(e.order.Status))
	}
	e.order = cloneOrder(order)
	return nil
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Lines = append([]domain.OrderLine(nil), order.Lines...)
	out.PaidAt = cloneTime(order.PaidAt)
	out.ShippedAt = cloneTime(order.ShippedAt)
	out.DeliveredAt = cloneTime(order.DeliveredAt)
	out.CancelledAt = cloneTime(order.CancelledAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
