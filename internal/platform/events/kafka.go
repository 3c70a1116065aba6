package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/commerce/internal/services"
)

// Producer is the subset of the instrumented kafka writer the publisher needs.
type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// KafkaOptions configures the Kafka publisher.
type KafkaOptions struct {
	Brokers        []string
	OrderTopic     string
	InventoryTopic string
	ClientID       string
	TracerProvider trace.TracerProvider
}

// KafkaPublisher publishes events as JSON records with trace context propagated in record headers.
type KafkaPublisher struct {
	orders    Producer
	inventory Producer
}

var (
	_ services.OrderEventPublisher     = (*KafkaPublisher)(nil)
	_ services.InventoryEventPublisher = (*KafkaPublisher)(nil)
)

// NewKafkaPublisher builds one instrumented writer per topic.
func NewKafkaPublisher(opts KafkaOptions) (*KafkaPublisher, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka publisher: at least one broker is required")
	}
	if strings.TrimSpace(opts.OrderTopic) == "" || strings.TrimSpace(opts.InventoryTopic) == "" {
		return nil, errors.New("kafka publisher: order and inventory topics are required")
	}

	orders, err := newWriter(opts, opts.OrderTopic)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: order writer: %w", err)
	}
	inventory, err := newWriter(opts, opts.InventoryTopic)
	if err != nil {
		_ = orders.Close()
		return nil, fmt.Errorf("kafka publisher: inventory writer: %w", err)
	}
	return NewKafkaPublisherWithProducers(orders, inventory)
}

// NewKafkaPublisherWithProducers wires pre-built producers, mainly for tests.
func NewKafkaPublisherWithProducers(orders, inventory Producer) (*KafkaPublisher, error) {
	if orders == nil || inventory == nil {
		return nil, errors.New("kafka publisher: order and inventory producers are required")
	}
	return &KafkaPublisher{orders: orders, inventory: inventory}, nil
}

func newWriter(opts KafkaOptions, topic string) (*otelkafka.Writer, error) {
	base := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	writerOpts := []otelkafka.Option{
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes([]attribute.KeyValue{
			semconv.MessagingDestinationNameKey.String(topic),
			attribute.String("messaging.kafka.client_id", opts.ClientID),
		}),
	}
	if opts.TracerProvider != nil {
		writerOpts = append(writerOpts, otelkafka.WithTracerProvider(opts.TracerProvider))
	}
	return otelkafka.NewWriter(base, writerOpts...)
}

// PublishOrderEvent writes an order event keyed by order ID.
func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	env, err := encodeOrderEvent(event)
	if err != nil {
		return err
	}
	return p.write(ctx, p.orders, env)
}

// PublishInventoryEvent writes a stock movement keyed by product ID.
func (p *KafkaPublisher) PublishInventoryEvent(ctx context.Context, event services.InventoryEvent) error {
	env, err := encodeInventoryEvent(event)
	if err != nil {
		return err
	}
	return p.write(ctx, p.inventory, env)
}

func (p *KafkaPublisher) write(ctx context.Context, producer Producer, env envelope) error {
	if p == nil || producer == nil {
		return errors.New("kafka publisher: not initialised")
	}
	headers := make([]kafka.Header, 0, len(env.attrs))
	for key, value := range env.attrs {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	msg := kafka.Message{
		Key:     []byte(env.key),
		Value:   env.data,
		Headers: headers,
	}
	if err := producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close closes both writers.
func (p *KafkaPublisher) Close() error {
	if p == nil {
		return nil
	}
	return errors.Join(p.orders.Close(), p.inventory.Close())
}
