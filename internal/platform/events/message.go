package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/commerce/internal/services"
)

const (
	attrEventType  = "eventType"
	attrOrderID    = "orderId"
	attrOrderNo    = "orderNumber"
	attrProductID  = "productId"
	attrStatus     = "status"
	attrSchema     = "schemaVersion"
	schemaVersion  = "1"
	timestampField = time.RFC3339Nano
)

// OrderEventPayload is the JSON body published for order events.
type OrderEventPayload struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"order_id"`
	OrderNumber    string         `json:"order_no"`
	UserID         string         `json:"user_id,omitempty"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	CurrentStatus  string         `json:"current_status"`
	TotalAmount    string         `json:"total_amount,omitempty"`
	OccurredAt     string         `json:"occurred_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// InventoryEventPayload is the JSON body published for stock movements.
type InventoryEventPayload struct {
	Type       string `json:"type"`
	ProductID  string `json:"product_id"`
	OrderID    string `json:"order_id,omitempty"`
	Delta      int    `json:"delta"`
	Stock      int    `json:"stock"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

type envelope struct {
	key   string
	data  []byte
	attrs map[string]string
}

func encodeOrderEvent(event services.OrderEvent) (envelope, error) {
	payload := OrderEventPayload{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		UserID:         event.UserID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		TotalAmount:    event.TotalAmount,
		OccurredAt:     formatTime(event.OccurredAt),
		Metadata:       event.Metadata,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, fmt.Errorf("marshal order event: %w", err)
	}

	attrs := map[string]string{attrSchema: schemaVersion}
	setAttr(attrs, attrEventType, event.Type)
	setAttr(attrs, attrOrderID, event.OrderID)
	setAttr(attrs, attrOrderNo, event.OrderNumber)
	setAttr(attrs, attrStatus, event.CurrentStatus)
	return envelope{key: event.OrderID, data: data, attrs: attrs}, nil
}

func encodeInventoryEvent(event services.InventoryEvent) (envelope, error) {
	payload := InventoryEventPayload{
		Type:       event.Type,
		ProductID:  event.ProductID,
		OrderID:    event.OrderID,
		Delta:      event.Delta,
		Stock:      event.Stock,
		Reason:     event.Reason,
		OccurredAt: formatTime(event.OccurredAt),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, fmt.Errorf("marshal inventory event: %w", err)
	}

	attrs := map[string]string{attrSchema: schemaVersion}
	setAttr(attrs, attrEventType, event.Type)
	setAttr(attrs, attrProductID, event.ProductID)
	setAttr(attrs, attrOrderID, event.OrderID)
	// keyed by product so a consumer sees one product's movements in order
	return envelope{key: event.ProductID, data: data, attrs: attrs}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timestampField)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
