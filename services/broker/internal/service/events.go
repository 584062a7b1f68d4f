package service

import (
	"context"
	"strconv"
	"time"

	"github.com/AfshinJalili/brokerage/libs/kafka"
	"github.com/AfshinJalili/brokerage/services/broker/internal/storage"
)

const (
	EventOrderCreated   = "broker.order.created"
	EventOrderCancelled = "broker.order.cancelled"
	EventOrderMatched   = "broker.order.matched"
)

type Topics struct {
	OrderCreated   string
	OrderCancelled string
	OrderMatched   string
}

func DefaultTopics() Topics {
	return Topics{
		OrderCreated:   EventOrderCreated,
		OrderCancelled: EventOrderCancelled,
		OrderMatched:   EventOrderMatched,
	}
}

type OrderEvent struct {
	kafka.Envelope
	OrderID    int64  `json:"order_id"`
	CustomerID string `json:"customer_id"`
	AssetName  string `json:"asset_name"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	Price      string `json:"price"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func (s *OrderService) topicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return s.topics.OrderCreated
	case EventOrderCancelled:
		return s.topics.OrderCancelled
	case EventOrderMatched:
		return s.topics.OrderMatched
	}
	return ""
}

// publishOrderEvent runs after commit. A failed publish is logged and never
// undoes the committed state change.
func (s *OrderService) publishOrderEvent(ctx context.Context, eventType, correlationID string, order *storage.Order) {
	if s.producer == nil || order == nil {
		return
	}
	topic := s.topicFor(eventType)
	if topic == "" {
		return
	}
	eventID := kafka.DeterministicEventID(eventType, strconv.FormatInt(order.ID, 10))
	env, err := kafka.NewEnvelopeWithID(eventID, eventType, 1, correlationID)
	if err != nil {
		s.logger.Error("build order event envelope failed", "event_type", eventType, "error", err)
		return
	}

	payload := OrderEvent{
		Envelope:   env,
		OrderID:    order.ID,
		CustomerID: order.CustomerID.String(),
		AssetName:  order.AssetName,
		Side:       string(order.Side),
		Size:       order.Size.StringFixed(storage.Scale),
		Price:      order.Price.StringFixed(storage.Scale),
		Status:     string(order.Status),
		CreatedAt:  order.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  order.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	if _, _, err := s.producer.PublishJSON(ctx, topic, order.CustomerID.String(), payload); err != nil {
		s.logger.Error("publish order event failed", "event_type", eventType, "order_id", order.ID, "error", err)
	}
}
