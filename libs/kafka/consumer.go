package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type Consumer struct {
	group        sarama.ConsumerGroup
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	maxAttempts  int
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	return &Consumer{
		group:       group,
		logger:      logger,
		maxAttempts: 3,
	}, nil
}

// WithDLQ routes messages that fail permanently, or exhaust their retries, to topic.
func (c *Consumer) WithDLQ(publisher Publisher, topic string) *Consumer {
	c.dlqPublisher = publisher
	c.dlqTopic = topic
	return c
}

func (c *Consumer) WithMaxAttempts(n int) *Consumer {
	if n > 0 {
		c.maxAttempts = n
	}
	return c
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := &consumerGroupHandler{
		handler:      handler,
		logger:       c.logger,
		dlqPublisher: c.dlqPublisher,
		dlqTopic:     c.dlqTopic,
		retryTracker: newRetryTracker(c.maxAttempts, 10*time.Minute),
	}

	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("kafka consumer group error", "error", err)
		}
	}()

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler      MessageHandler
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryTracker *retryTracker
	backoff      time.Duration
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if !h.process(session, msg) {
			return nil
		}
	}
	return nil
}

// process returns false when the session ended before msg was resolved.
func (h *consumerGroupHandler) process(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) bool {
	ctx := session.Context()
	key := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)

	for {
		err := h.handler.HandleMessage(ctx, msg)
		if err == nil {
			h.retryTracker.clear(key)
			session.MarkMessage(msg, "")
			return true
		}

		attempts := h.retryTracker.inc(key)
		var dlqErr *DLQError
		permanent := errors.As(err, &dlqErr)
		h.logger.Error("kafka message handler error",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"attempt", attempts, "permanent", permanent, "error", err)

		if permanent || attempts >= h.retryTracker.maxAttempts {
			if dlqErr == nil {
				dlqErr = &DLQError{Err: err, Reason: "retries_exhausted"}
			}
			h.sendDLQ(ctx, msg, dlqErr, attempts)
			h.retryTracker.clear(key)
			session.MarkMessage(msg, "")
			return true
		}

		backoff := h.backoff
		if backoff <= 0 {
			backoff = 200 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff * time.Duration(attempts)):
		}
	}
}

func (h *consumerGroupHandler) sendDLQ(ctx context.Context, msg *sarama.ConsumerMessage, err *DLQError, attempts int) {
	if h.dlqPublisher == nil || h.dlqTopic == "" {
		h.logger.Error("dropping message without dlq", "topic", msg.Topic, "offset", msg.Offset)
		return
	}
	payload := BuildDLQPayload(msg, err, attempts)
	if _, _, pubErr := h.dlqPublisher.PublishJSON(ctx, h.dlqTopic, string(msg.Key), payload); pubErr != nil {
		h.logger.Error("publish dlq failed", "topic", h.dlqTopic, "error", pubErr)
	}
}

type retryTracker struct {
	mu          sync.Mutex
	maxAttempts int
	ttl         time.Duration
	entries     map[string]retryEntry
}

type retryEntry struct {
	attempts int
	seen     time.Time
}

func newRetryTracker(maxAttempts int, ttl time.Duration) *retryTracker {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &retryTracker{maxAttempts: maxAttempts, ttl: ttl, entries: make(map[string]retryEntry)}
}

func (r *retryTracker) inc(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for k, e := range r.entries {
		if now.Sub(e.seen) > r.ttl {
			delete(r.entries, k)
		}
	}
	e := r.entries[key]
	e.attempts++
	e.seen = now
	r.entries[key] = e
	return e.attempts
}

func (r *retryTracker) clear(key string) {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
}
