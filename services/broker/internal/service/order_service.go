package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AfshinJalili/brokerage/libs/auth"
	"github.com/AfshinJalili/brokerage/libs/kafka"
	"github.com/AfshinJalili/brokerage/libs/trace"
	"github.com/AfshinJalili/brokerage/services/broker/internal/ledger"
	"github.com/AfshinJalili/brokerage/services/broker/internal/reservation"
	"github.com/AfshinJalili/brokerage/services/broker/internal/storage"
	"github.com/AfshinJalili/brokerage/services/broker/internal/validation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	statusAccepted = "accepted"
	statusRejected = "rejected"
	statusFailed   = "failed"

	DefaultCashAsset      = "TRY"
	DefaultMatchBatchSize = 100
)

type OrderStore interface {
	storage.TxRunner
	GetOrder(ctx context.Context, id int64) (*storage.Order, error)
	ListOrders(ctx context.Context, filter storage.OrderFilter) ([]storage.Order, error)
	ListOrdersByStatus(ctx context.Context, status storage.OrderStatus, afterID int64, limit int) ([]storage.Order, error)
}

type Options struct {
	CashAsset      string
	MatchBatchSize int
	Topics         Topics
	Now            func() time.Time
}

type OrderService struct {
	store     OrderStore
	producer  kafka.Publisher
	logger    *slog.Logger
	metrics   *Metrics
	topics    Topics
	cash      string
	batchSize int
	now       func() time.Time
}

type CreateOrderInput struct {
	CustomerID    uuid.UUID
	AssetName     string
	Side          storage.OrderSide
	Size          decimal.Decimal
	Price         decimal.Decimal
	CorrelationID string
}

type CancelOrderInput struct {
	CustomerID    uuid.UUID
	OrderID       int64
	CorrelationID string
}

type ListOrdersInput struct {
	CustomerID uuid.UUID
	From       time.Time
	To         time.Time
	Status     storage.OrderStatus
}

type SkippedOrder struct {
	OrderID int64
	Reason  string
	Err     error
}

type MatchResult struct {
	Matched []storage.Order
	Skipped []SkippedOrder
}

func NewOrderService(store OrderStore, producer kafka.Publisher, logger *slog.Logger, metrics *Metrics, opts Options) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CashAsset == "" {
		opts.CashAsset = DefaultCashAsset
	}
	if opts.MatchBatchSize <= 0 {
		opts.MatchBatchSize = DefaultMatchBatchSize
	}
	if opts.Topics == (Topics{}) {
		opts.Topics = DefaultTopics()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &OrderService{
		store:     store,
		producer:  producer,
		logger:    logger,
		metrics:   metrics,
		topics:    opts.Topics,
		cash:      validation.NormalizeAsset(opts.CashAsset),
		batchSize: opts.MatchBatchSize,
		now:       opts.Now,
	}
}

func (s *OrderService) CashAsset() string {
	return s.cash
}

func (s *OrderService) CreateOrder(ctx context.Context, caller auth.Identity, input CreateOrderInput) (*storage.Order, error) {
	start := time.Now()
	order, err := s.createOrder(ctx, caller, input)
	s.metrics.ObserveCreate(string(input.Side), outcome(err), time.Since(start))
	if err != nil {
		s.noteInvariant(err, "create")
		return nil, err
	}

	s.logger.Info("order created",
		"order_id", order.ID,
		"customer_id", order.CustomerID,
		"asset", order.AssetName,
		"side", order.Side,
		"correlation_id", input.CorrelationID,
	)
	s.publishOrderEvent(ctx, EventOrderCreated, input.CorrelationID, order)
	return order, nil
}

func (s *OrderService) createOrder(ctx context.Context, caller auth.Identity, input CreateOrderInput) (*storage.Order, error) {
	if err := authorize(caller, input.CustomerID); err != nil {
		return nil, err
	}
	terms, err := s.termsFor(input)
	if err != nil {
		return nil, err
	}

	var created *storage.Order
	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		l := ledger.New(tx)
		names := []string{terms.Asset}
		if terms.Side == storage.SideBuy {
			names = append(names, s.cash)
		}
		locked, err := l.Lock(ctx, input.CustomerID, names...)
		if err != nil {
			return err
		}

		cash := locked[s.cash]
		if terms.Side == storage.SideBuy && cash == nil {
			return fmt.Errorf("%w: missing %s balance for BUY order", ErrInvalidOrder, s.cash)
		}
		plan, err := reservation.Reserve(terms, cash, locked[terms.Asset])
		if err != nil {
			return err
		}
		if err := applyPlan(ctx, l, input.CustomerID, plan); err != nil {
			return err
		}

		created, err = tx.InsertOrder(ctx, &storage.Order{
			CustomerID: input.CustomerID,
			AssetName:  terms.Asset,
			Side:       terms.Side,
			Size:       terms.Size,
			Price:      terms.Price,
			Status:     storage.StatusPending,
			CreatedAt:  s.now(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *OrderService) termsFor(input CreateOrderInput) (reservation.Terms, error) {
	side := storage.OrderSide(strings.ToUpper(string(input.Side)))
	if !side.Valid() {
		return reservation.Terms{}, fmt.Errorf("%w: side must be BUY or SELL", ErrInvalidOrder)
	}
	asset := validation.NormalizeAsset(input.AssetName)
	if asset == "" {
		return reservation.Terms{}, fmt.Errorf("%w: asset name is required", ErrInvalidOrder)
	}
	if asset == s.cash {
		return reservation.Terms{}, fmt.Errorf("%w: %s cannot be traded against itself", ErrInvalidOrder, s.cash)
	}
	if !input.Size.IsPositive() {
		return reservation.Terms{}, fmt.Errorf("%w: size must be greater than 0", ErrInvalidOrder)
	}
	if !input.Price.IsPositive() {
		return reservation.Terms{}, fmt.Errorf("%w: price must be greater than 0", ErrInvalidOrder)
	}
	if !validation.WithinScale(input.Size) || !validation.WithinScale(input.Price) {
		return reservation.Terms{}, fmt.Errorf("%w: amounts carry at most %d fractional digits", ErrInvalidOrder, storage.Scale)
	}
	terms := reservation.Terms{Side: side, Cash: s.cash, Asset: asset, Size: input.Size, Price: input.Price}
	if !terms.Value().IsPositive() {
		return reservation.Terms{}, fmt.Errorf("%w: order value rounds to zero", ErrInvalidOrder)
	}
	return terms, nil
}

func (s *OrderService) CancelOrder(ctx context.Context, caller auth.Identity, input CancelOrderInput) (*storage.Order, error) {
	order, err := s.cancelOrder(ctx, caller, input)
	s.metrics.ObserveCancel(outcome(err))
	if err != nil {
		s.noteInvariant(err, "cancel")
		return nil, err
	}

	s.logger.Info("order cancelled",
		"order_id", order.ID,
		"customer_id", order.CustomerID,
		"correlation_id", input.CorrelationID,
	)
	s.publishOrderEvent(ctx, EventOrderCancelled, input.CorrelationID, order)
	return order, nil
}

func (s *OrderService) cancelOrder(ctx context.Context, caller auth.Identity, input CancelOrderInput) (*storage.Order, error) {
	if err := authorize(caller, input.CustomerID); err != nil {
		return nil, err
	}

	var cancelled *storage.Order
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: order %d", storage.ErrNotFound, input.OrderID)
			}
			return err
		}
		if order.CustomerID != input.CustomerID {
			return fmt.Errorf("%w: order %d does not belong to customer %s", ErrForbidden, order.ID, input.CustomerID)
		}
		if order.Status != storage.StatusPending {
			return fmt.Errorf("%w: only PENDING orders can be canceled", ErrInvalidState)
		}

		plan, err := reservation.Release(reservation.TermsOf(*order, s.cash))
		if err != nil {
			return err
		}
		l := ledger.New(tx)
		if _, err := l.Lock(ctx, order.CustomerID, plan.Assets()...); err != nil {
			return err
		}
		if err := applyPlan(ctx, l, order.CustomerID, plan); err != nil {
			return err
		}

		cancelled, err = tx.TransitionOrder(ctx, order.ID, storage.StatusPending, storage.StatusCancelled)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (s *OrderService) ListOrders(ctx context.Context, caller auth.Identity, input ListOrdersInput) ([]storage.Order, error) {
	if err := authorize(caller, input.CustomerID); err != nil {
		return nil, err
	}
	if !input.From.IsZero() && !input.To.IsZero() && input.From.After(input.To) {
		return nil, fmt.Errorf("%w: start date cannot be after end date", ErrInvalidQuery)
	}
	if input.Status != "" && input.Status != storage.StatusPending &&
		input.Status != storage.StatusMatched && input.Status != storage.StatusCancelled {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidQuery, input.Status)
	}
	return s.store.ListOrders(ctx, storage.OrderFilter{
		CustomerID: input.CustomerID,
		From:       input.From,
		To:         input.To,
		Status:     input.Status,
	})
}

func (s *OrderService) GetOrder(ctx context.Context, caller auth.Identity, orderID int64) (*storage.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %d", storage.ErrNotFound, orderID)
		}
		return nil, err
	}
	if err := authorize(caller, order.CustomerID); err != nil {
		return nil, err
	}
	return order, nil
}

// MatchPendingOrders settles every PENDING order in ascending id order. Each
// order commits on its own; one that cannot settle is reported in Skipped and
// stays PENDING for the next sweep.
func (s *OrderService) MatchPendingOrders(ctx context.Context, caller auth.Identity) (*MatchResult, error) {
	if !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: matching requires the %s role", ErrForbidden, auth.RoleAdmin)
	}

	ctx, span := trace.Start(ctx, "broker.match_pending_orders")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start)) }()

	result := &MatchResult{}
	var afterID int64
	for {
		batch, err := s.store.ListOrdersByStatus(ctx, storage.StatusPending, afterID, s.batchSize)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list pending orders")
			return result, err
		}

		for _, pending := range batch {
			afterID = pending.ID
			if err := ctx.Err(); err != nil {
				return result, err
			}

			matched, err := s.settleOne(ctx, pending.ID)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				s.skip(result, pending, err)
			case matched == nil:
				s.metrics.ObserveSweepOrder("stale")
			default:
				s.metrics.ObserveSweepOrder("matched")
				result.Matched = append(result.Matched, *matched)
				s.publishOrderEvent(ctx, EventOrderMatched, "", matched)
			}
		}

		if len(batch) < s.batchSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("broker.orders.matched", len(result.Matched)),
		attribute.Int("broker.orders.skipped", len(result.Skipped)),
	)
	s.logger.Info("settlement sweep finished",
		"matched", len(result.Matched),
		"skipped", len(result.Skipped),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// settleOne returns nil without error when the order left PENDING after it
// was listed.
func (s *OrderService) settleOne(ctx context.Context, orderID int64) (*storage.Order, error) {
	var matched *storage.Order
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		matched = nil
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != storage.StatusPending {
			return nil
		}

		l := ledger.New(tx)
		locked, err := l.Lock(ctx, order.CustomerID, s.cash, order.AssetName)
		if err != nil {
			return err
		}
		for _, name := range []string{s.cash, order.AssetName} {
			if locked[name] == nil {
				return fmt.Errorf("%w: asset %s for customer %s", storage.ErrNotFound, name, order.CustomerID)
			}
		}

		plan, err := reservation.Settle(reservation.TermsOf(*order, s.cash))
		if err != nil {
			return err
		}
		if err := applyPlan(ctx, l, order.CustomerID, plan); err != nil {
			return err
		}

		matched, err = tx.TransitionOrder(ctx, order.ID, storage.StatusPending, storage.StatusMatched)
		return err
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

func (s *OrderService) skip(result *MatchResult, order storage.Order, err error) {
	reason := skipReason(err)
	result.Skipped = append(result.Skipped, SkippedOrder{OrderID: order.ID, Reason: reason, Err: err})
	s.metrics.ObserveSweepOrder("skipped_" + reason)
	s.noteInvariant(err, "settle")

	if reason == "not_found" {
		s.logger.Warn("order skipped during settlement", "order_id", order.ID, "reason", reason, "error", err)
		return
	}
	s.logger.Error("order skipped during settlement", "order_id", order.ID, "reason", reason, "error", err)
}

func (s *OrderService) noteInvariant(err error, op string) {
	if errors.Is(err, ledger.ErrInvariantViolation) {
		s.metrics.IncInvariantViolation()
		s.logger.Error("ledger invariant violation", "op", op, "error", err)
	}
}

func applyPlan(ctx context.Context, l *ledger.Ledger, customerID uuid.UUID, plan reservation.Plan) error {
	for _, d := range plan.Deltas {
		if _, err := l.Adjust(ctx, customerID, d.Asset, d.Size, d.Usable); err != nil {
			return err
		}
	}
	for _, name := range plan.Ensure {
		if _, err := l.EnsureExists(ctx, customerID, name); err != nil {
			return err
		}
	}
	return nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, storage.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return statusAccepted
	case errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, reservation.ErrInsufficientFunds),
		errors.Is(err, reservation.ErrInsufficientBalance):
		return statusRejected
	default:
		return statusFailed
	}
}
