package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

const defaultTxAttempts = 3

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresStore struct {
	pool        *pgxpool.Pool
	logger      *slog.Logger
	maxAttempts int
	onRetry     func(err error)
}

type PostgresOption func(*PostgresStore)

// WithTxAttempts bounds how many times a unit of work is replayed after
// serialization failures or deadlocks.
func WithTxAttempts(n int) PostgresOption {
	return func(s *PostgresStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryHook is called once per replayed unit of work.
func WithRetryHook(fn func(err error)) PostgresOption {
	return func(s *PostgresStore) { s.onRetry = fn }
}

func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger, opts ...PostgresOption) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PostgresStore{pool: pool, logger: logger, maxAttempts: defaultTxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the tables when they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	return retryTransient(ctx, s.maxAttempts, func(attempt int, err error) {
		s.logger.Warn("retrying transaction", "attempt", attempt, "error", err)
		if s.onRetry != nil {
			s.onRetry(err)
		}
	}, func() error {
		return s.runTx(ctx, fn)
	})
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// retryTransient replays fn while it fails with a transient SQLSTATE.
func retryTransient(ctx context.Context, maxAttempts int, onRetry func(int, error), fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDuration(attempt)):
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func backoffDuration(attempt int) time.Duration {
	base := 100 * time.Millisecond
	return time.Duration(attempt) * base
}

// IsTransient reports serialization failures, deadlocks and lock timeouts.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}

func (s *PostgresStore) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return getOrder(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	query := `
		SELECT id, customer_id, asset_name, side, size::text, price::text, status, created_at, updated_at
		FROM orders
		WHERE customer_id = $1`
	args := []any{filter.CustomerID}
	idx := 2

	if !filter.From.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, filter.From)
		idx++
	}
	if !filter.To.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, filter.To)
		idx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY id ASC"

	return queryOrders(ctx, s.pool, query, args...)
}

// ListOrdersByStatus pages through orders with id > afterID in ascending id order.
func (s *PostgresStore) ListOrdersByStatus(ctx context.Context, status OrderStatus, afterID int64, limit int) ([]Order, error) {
	return queryOrders(ctx, s.pool, `
		SELECT id, customer_id, asset_name, side, size::text, price::text, status, created_at, updated_at
		FROM orders
		WHERE status = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`, string(status), afterID, limit)
}

func (s *PostgresStore) GetAsset(ctx context.Context, customerID uuid.UUID, name string) (*Asset, error) {
	return getAsset(ctx, s.pool, customerID, name, false)
}

func (s *PostgresStore) ListAssets(ctx context.Context, customerID uuid.UUID) ([]Asset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT customer_id, asset_name, size::text, usable_size::text, updated_at
		FROM assets
		WHERE customer_id = $1
		ORDER BY asset_name ASC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	return assets, rows.Err()
}

func (s *PostgresStore) GetCustomerByUsername(ctx context.Context, username string) (*Customer, error) {
	var c Customer
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM customers
		WHERE username = $1
	`, strings.ToLower(username)).Scan(&c.ID, &c.Username, &c.PasswordHash, &c.Role, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpsertCustomer inserts or refreshes a customer keyed by username.
func (s *PostgresStore) UpsertCustomer(ctx context.Context, c Customer) (*Customer, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	var out Customer
	err := s.pool.QueryRow(ctx, `
		INSERT INTO customers (id, username, password_hash, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE
		SET password_hash = EXCLUDED.password_hash,
		    role = EXCLUDED.role
		RETURNING id, username, password_hash, role, created_at
	`, c.ID, strings.ToLower(c.Username), c.PasswordHash, c.Role).Scan(&out.ID, &out.Username, &out.PasswordHash, &out.Role, &out.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetAssetForUpdate(ctx context.Context, customerID uuid.UUID, name string) (*Asset, error) {
	return getAsset(ctx, t.tx, customerID, name, true)
}

func (t *pgTx) InsertAssetIfAbsent(ctx context.Context, customerID uuid.UUID, name string) (*Asset, bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO assets (customer_id, asset_name, size, usable_size)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (customer_id, asset_name) DO NOTHING
	`, customerID, name)
	if err != nil {
		return nil, false, err
	}
	asset, err := getAsset(ctx, t.tx, customerID, name, true)
	if err != nil {
		return nil, false, err
	}
	return asset, tag.RowsAffected() == 1, nil
}

func (t *pgTx) UpdateAsset(ctx context.Context, asset *Asset) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE assets
		SET size = $3::numeric, usable_size = $4::numeric, updated_at = now()
		WHERE customer_id = $1 AND asset_name = $2
	`, asset.CustomerID, asset.Name, asset.Size.String(), asset.Usable.String())
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: asset %s violates usable range", ErrConflict, asset.Name)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order *Order) (*Order, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO orders (customer_id, asset_name, side, size, price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $7)
		RETURNING id, customer_id, asset_name, side, size::text, price::text, status, created_at, updated_at
	`, order.CustomerID, order.AssetName, string(order.Side), order.Size.String(), order.Price.String(), string(order.Status), order.CreatedAt)
	return scanOrder(row)
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id int64) (*Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *pgTx) TransitionOrder(ctx context.Context, id int64, from, to OrderStatus) (*Order, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, from, to)
	}
	row := t.tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING id, customer_id, asset_name, side, size::text, price::text, status, created_at, updated_at
	`, id, string(from), string(to))
	order, err := scanOrder(row)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	current, err := getOrder(ctx, t.tx, id, false)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: order %d is %s", ErrInvalidStatus, id, current.Status)
}

func (t *pgTx) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func getAsset(ctx context.Context, q querier, customerID uuid.UUID, name string, forUpdate bool) (*Asset, error) {
	query := `
		SELECT customer_id, asset_name, size::text, usable_size::text, updated_at
		FROM assets
		WHERE customer_id = $1 AND asset_name = $2`
	if forUpdate {
		query += " FOR UPDATE"
	}
	return scanAsset(q.QueryRow(ctx, query, customerID, name))
}

func getOrder(ctx context.Context, q querier, id int64, forUpdate bool) (*Order, error) {
	query := `
		SELECT id, customer_id, asset_name, side, size::text, price::text, status, created_at, updated_at
		FROM orders
		WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	return scanOrder(q.QueryRow(ctx, query, id))
}

func queryOrders(ctx context.Context, q querier, query string, args ...any) ([]Order, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func scanAsset(row rowScanner) (*Asset, error) {
	var asset Asset
	var sizeStr, usableStr string
	if err := row.Scan(&asset.CustomerID, &asset.Name, &sizeStr, &usableStr, &asset.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var err error
	if asset.Size, err = decimal.NewFromString(sizeStr); err != nil {
		return nil, fmt.Errorf("parse size: %w", err)
	}
	if asset.Usable, err = decimal.NewFromString(usableStr); err != nil {
		return nil, fmt.Errorf("parse usable size: %w", err)
	}
	return &asset, nil
}

func scanOrder(row rowScanner) (*Order, error) {
	var order Order
	var side, status, sizeStr, priceStr string
	if err := row.Scan(&order.ID, &order.CustomerID, &order.AssetName, &side, &sizeStr, &priceStr, &status, &order.CreatedAt, &order.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	order.Side = OrderSide(side)
	order.Status = OrderStatus(status)
	var err error
	if order.Size, err = decimal.NewFromString(sizeStr); err != nil {
		return nil, fmt.Errorf("parse order size: %w", err)
	}
	if order.Price, err = decimal.NewFromString(priceStr); err != nil {
		return nil, fmt.Errorf("parse order price: %w", err)
	}
	return &order, nil
}
