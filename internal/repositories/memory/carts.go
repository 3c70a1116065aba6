package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

type userCart struct {
	mu    sync.Mutex
	lines map[string]domain.CartLine
}

type cartStore struct {
	now   func() time.Time
	mu    sync.Mutex
	users map[string]*userCart
}

var _ repositories.CartRepository = (*cartStore)(nil)

func (s *cartStore) cart(userID string) *userCart {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.users[userID]
	if !ok {
		c = &userCart{lines: make(map[string]domain.CartLine)}
		s.users[userID] = c
	}
	return c
}

func (s *cartStore) List(_ context.Context, userID string) ([]domain.CartLine, error) {
	c := s.cart(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := make([]domain.CartLine, 0, len(c.lines))
	for _, line := range c.lines {
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].ProductID < lines[j].ProductID
		}
		return lines[i].CreatedAt.Before(lines[j].CreatedAt)
	})
	return lines, nil
}

func (s *cartStore) Mutate(_ context.Context, userID, productID string, fn repositories.CartMutation) (domain.CartLine, error) {
	c := s.cart(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	current, exists := c.lines[productID]
	if !exists {
		current = domain.CartLine{UserID: userID, ProductID: productID}
	}
	qty, err := fn(current, exists)
	if err != nil {
		return domain.CartLine{}, err
	}
	if qty <= 0 {
		delete(c.lines, productID)
		current.Quantity = 0
		return current, nil
	}

	now := s.now()
	if !exists {
		current.CreatedAt = now
	}
	current.Quantity = qty
	current.UpdatedAt = now
	c.lines[productID] = current
	return current, nil
}

func (s *cartStore) Delete(_ context.Context, userID, productID string) error {
	c := s.cart(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lines[productID]; !ok {
		return notFound("carts.delete", "cart line "+productID+" not found")
	}
	delete(c.lines, productID)
	return nil
}

func (s *cartStore) Clear(_ context.Context, userID string) error {
	c := s.cart(userID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = make(map[string]domain.CartLine)
	return nil
}
