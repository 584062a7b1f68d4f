// Package consumer applies externally sourced balance changes from Kafka.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AfshinJalili/brokerage/libs/kafka"
	"github.com/AfshinJalili/brokerage/services/broker/internal/ledger"
	"github.com/AfshinJalili/brokerage/services/broker/internal/service"
	"github.com/AfshinJalili/brokerage/services/broker/internal/storage"
	"github.com/AfshinJalili/brokerage/services/broker/internal/validation"
	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DepositEventType = "broker.deposit"

// DepositEvent credits Amount of Asset to a customer, typically cash funding.
type DepositEvent struct {
	kafka.Envelope
	CustomerID string `json:"customer_id"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
}

type deposit struct {
	eventID    string
	customerID uuid.UUID
	asset      string
	amount     decimal.Decimal
}

type DepositConsumer struct {
	store   storage.TxRunner
	logger  *slog.Logger
	metrics *service.Metrics
}

func NewDepositConsumer(store storage.TxRunner, logger *slog.Logger, metrics *service.Metrics) *DepositConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DepositConsumer{store: store, logger: logger, metrics: metrics}
}

// HandleMessage returns kafka.DLQ for payloads that can never succeed, so
// the consumer parks them instead of retrying.
func (c *DepositConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		c.metrics.ObserveDeposit("invalid")
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "decode")
	}
	var event DepositEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.metrics.ObserveDeposit("invalid")
		return kafka.DLQ(fmt.Errorf("decode %s: %w", DepositEventType, err), "decode")
	}
	dep, err := event.parse()
	if err != nil {
		c.metrics.ObserveDeposit("invalid")
		return kafka.DLQ(err, "validation")
	}

	applied := false
	var balance storage.Asset
	err = c.store.WithTx(ctx, func(tx storage.Tx) error {
		first, err := tx.MarkEventProcessed(ctx, dep.eventID, DepositEventType)
		if err != nil {
			return err
		}
		if !first {
			applied = false
			return nil
		}
		balance, err = ledger.New(tx).Deposit(ctx, dep.customerID, dep.asset, dep.amount)
		applied = err == nil
		return err
	})
	if err != nil {
		c.metrics.ObserveDeposit("failed")
		return fmt.Errorf("apply deposit %s: %w", dep.eventID, err)
	}

	if !applied {
		c.metrics.ObserveDeposit("duplicate")
		c.logger.Info("deposit already processed", "event_id", dep.eventID)
		return nil
	}
	c.metrics.ObserveDeposit("applied")
	c.logger.Info("deposit applied",
		"event_id", dep.eventID,
		"customer_id", dep.customerID,
		"asset", dep.asset,
		"amount", dep.amount.String(),
		"size", balance.Size.String(),
		"usable", balance.Usable.String(),
	)
	return nil
}

func (e *DepositEvent) parse() (deposit, error) {
	if err := e.Envelope.Validate(); err != nil {
		return deposit{}, err
	}
	if e.EventType != DepositEventType {
		return deposit{}, fmt.Errorf("unexpected event_type: %s", e.EventType)
	}
	customerID, err := uuid.Parse(strings.TrimSpace(e.CustomerID))
	if err != nil {
		return deposit{}, fmt.Errorf("invalid customer_id")
	}
	asset := validation.NormalizeAsset(e.Asset)
	if asset == "" {
		return deposit{}, fmt.Errorf("asset is required")
	}
	amount, err := validation.ParseAmount("amount", e.Amount)
	if err != nil {
		return deposit{}, err
	}
	return deposit{eventID: e.EventID, customerID: customerID, asset: asset, amount: amount}, nil
}
