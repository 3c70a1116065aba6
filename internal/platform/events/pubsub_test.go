package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/commerce/internal/services"
)

func TestPubSubPublisherPublishesOrderAndInventoryEvents(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	orders, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic orders: %v", err)
	}
	inventory, err := client.CreateTopic(ctx, "inventory-events")
	if err != nil {
		t.Fatalf("CreateTopic inventory: %v", err)
	}

	publisher, err := NewPubSubPublisher(orders, inventory)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}
	defer publisher.Close()

	occurred := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	if err := publisher.PublishOrderEvent(ctx, services.OrderEvent{
		Type:          "order.created",
		OrderID:       "ord_1",
		OrderNumber:   "ORD20250506090000ABCDEF",
		UserID:        "user-1",
		CurrentStatus: "PENDING",
		TotalAmount:   "25.00",
		OccurredAt:    occurred,
	}); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}
	if err := publisher.PublishInventoryEvent(ctx, services.InventoryEvent{
		Type:       "inventory.reserved",
		ProductID:  "prd_1",
		OrderID:    "ord_1",
		Delta:      -2,
		Stock:      3,
		OccurredAt: occurred,
	}); err != nil {
		t.Fatalf("PublishInventoryEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}

	var orderMsg, stockMsg *pstest.Message
	for _, msg := range messages {
		switch msg.Attributes[attrEventType] {
		case "order.created":
			orderMsg = msg
		case "inventory.reserved":
			stockMsg = msg
		}
	}
	if orderMsg == nil || stockMsg == nil {
		t.Fatalf("expected one message per topic, got %#v", messages)
	}

	var orderPayload OrderEventPayload
	if err := json.Unmarshal(orderMsg.Data, &orderPayload); err != nil {
		t.Fatalf("unmarshal order payload: %v", err)
	}
	if orderPayload.OrderNumber != "ORD20250506090000ABCDEF" || orderPayload.TotalAmount != "25.00" {
		t.Fatalf("unexpected order payload %#v", orderPayload)
	}
	if orderPayload.OccurredAt != "2025-05-06T09:00:00Z" {
		t.Fatalf("expected RFC3339 timestamp, got %q", orderPayload.OccurredAt)
	}
	if orderMsg.OrderingKey != "ord_1" {
		t.Fatalf("expected ordering key ord_1, got %q", orderMsg.OrderingKey)
	}

	var stockPayload InventoryEventPayload
	if err := json.Unmarshal(stockMsg.Data, &stockPayload); err != nil {
		t.Fatalf("unmarshal inventory payload: %v", err)
	}
	if stockPayload.Delta != -2 || stockPayload.Stock != 3 {
		t.Fatalf("unexpected inventory payload %#v", stockPayload)
	}
	if stockMsg.Attributes[attrProductID] != "prd_1" || stockMsg.OrderingKey != "prd_1" {
		t.Fatalf("expected product keyed message, got %#v", stockMsg.Attributes)
	}
	if _, ok := stockMsg.Attributes[attrOrderNo]; ok {
		t.Fatalf("empty attributes should be omitted")
	}
}

func TestNewPubSubPublisherRequiresTopics(t *testing.T) {
	if _, err := NewPubSubPublisher(nil, nil); err == nil {
		t.Fatal("expected error without topics")
	}
}
