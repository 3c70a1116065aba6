package events

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/commerce/internal/services"
)

// PubSubPublisher publishes order and inventory events to Pub/Sub topics.
type PubSubPublisher struct {
	orders    *pubsub.Topic
	inventory *pubsub.Topic
}

var (
	_ services.OrderEventPublisher     = (*PubSubPublisher)(nil)
	_ services.InventoryEventPublisher = (*PubSubPublisher)(nil)
)

// NewPubSubPublisher constructs a Pub/Sub backed event publisher. Ordering keys are enabled so
// messages sharing an order or product keep their publish order.
func NewPubSubPublisher(orders, inventory *pubsub.Topic) (*PubSubPublisher, error) {
	if orders == nil || inventory == nil {
		return nil, errors.New("pubsub publisher: order and inventory topics are required")
	}
	orders.EnableMessageOrdering = true
	inventory.EnableMessageOrdering = true
	return &PubSubPublisher{orders: orders, inventory: inventory}, nil
}

// PublishOrderEvent publishes an order lifecycle event and waits for the server ack.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.orders == nil {
		return errors.New("pubsub publisher: not initialised")
	}
	env, err := encodeOrderEvent(event)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.orders, env)
}

// PublishInventoryEvent publishes a stock movement event and waits for the server ack.
func (p *PubSubPublisher) PublishInventoryEvent(ctx context.Context, event services.InventoryEvent) error {
	if p == nil || p.inventory == nil {
		return errors.New("pubsub publisher: not initialised")
	}
	env, err := encodeInventoryEvent(event)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.inventory, env)
}

func (p *PubSubPublisher) publish(ctx context.Context, topic *pubsub.Topic, env envelope) error {
	result := topic.Publish(ctx, &pubsub.Message{
		Data:        env.data,
		Attributes:  env.attrs,
		OrderingKey: env.key,
	})
	if _, err := result.Get(ctx); err != nil {
		// a failed publish pauses the ordering key until resumed
		topic.ResumePublish(env.key)
		return fmt.Errorf("publish %s: %w", topic.ID(), err)
	}
	return nil
}

// Close flushes pending messages and stops the topic publishers.
func (p *PubSubPublisher) Close() error {
	if p == nil {
		return nil
	}
	p.orders.Stop()
	p.inventory.Stop()
	return nil
}
