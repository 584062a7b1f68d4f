package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

type publishCall struct {
	topic string
	key   string
	value any
}

func (s *stubPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, publishCall{topic: topic, key: key, value: value})
	s.mu.Unlock()
	if s.err != nil {
		return 0, 0, s.err
	}
	return 0, 0, nil
}

func (s *stubPublisher) Close() error { return nil }

func TestDLQPublisherPublishesOnError(t *testing.T) {
	primary := &stubPublisher{err: errors.New("publish failed")}
	dlq := &stubPublisher{}
	publisher := NewDLQPublisher(primary, dlq, "broker.dead_letter", slog.Default())

	_, _, err := publisher.PublishJSON(context.Background(), "broker.order.created", "cust-1", map[string]string{"id": "1"})
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if len(dlq.calls) != 1 {
		t.Fatalf("expected dlq publish, got %d", len(dlq.calls))
	}
	payload, ok := dlq.calls[0].value.(DLQPublishPayload)
	if !ok {
		t.Fatalf("expected DLQPublishPayload, got %T", dlq.calls[0].value)
	}
	if payload.OriginalTopic != "broker.order.created" {
		t.Fatalf("expected original topic to match, got %s", payload.OriginalTopic)
	}
	if payload.Error == "" || payload.Payload == "" {
		t.Fatalf("expected error and payload in dlq message: %+v", payload)
	}
}

func TestDLQPublisherSkipsOnSuccess(t *testing.T) {
	primary := &stubPublisher{}
	dlq := &stubPublisher{}
	publisher := NewDLQPublisher(primary, dlq, "broker.dead_letter", slog.Default())

	if _, _, err := publisher.PublishJSON(context.Background(), "broker.order.created", "cust-1", map[string]string{"id": "1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dlq.calls) != 0 {
		t.Fatalf("expected no dlq publish, got %d", len(dlq.calls))
	}
}

type testEvent struct {
	Envelope
	OrderID int64 `json:"order_id"`
}

func TestSyncProducerPublishesJSONWithHeaders(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	mock := mocks.NewSyncProducer(t, cfg)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if string(msg.Headers[0].Key) != "content-type" {
			return errors.New("missing content-type header")
		}
		if len(msg.Headers) != 2 || string(msg.Headers[1].Value) != "broker.order.created" {
			return errors.New("missing event-type header")
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var decoded testEvent
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return err
		}
		if decoded.OrderID != 42 {
			return errors.New("unexpected order id")
		}
		return nil
	})

	registry := prometheus.NewRegistry()
	metrics := NewProducerMetrics(registry)
	producer := newSyncProducer(mock, slog.Default(), metrics)

	env, err := NewEnvelope("broker.order.created", 1, "")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if _, _, err := producer.PublishJSON(context.Background(), "broker.order.created", "cust-1", testEvent{Envelope: env, OrderID: 42}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := testutil.ToFloat64(metrics.PublishTotal.WithLabelValues("broker.order.created", "success")); got != 1 {
		t.Fatalf("expected 1 successful publish, got %v", got)
	}
}

func TestSyncProducerHonorsCancelledContext(t *testing.T) {
	mock := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer := newSyncProducer(mock, slog.Default(), nil)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := producer.PublishJSON(ctx, "t", "k", "v"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
