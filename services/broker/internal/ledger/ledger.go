// Package ledger is the only writer of asset balances. Every method runs
// inside the caller's unit of work and is durable once that unit commits.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/AfshinJalili/brokerage/services/broker/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrInvariantViolation = errors.New("ledger invariant violation")

// Store is the subset of storage.Tx the ledger needs.
type Store interface {
	GetAssetForUpdate(ctx context.Context, customerID uuid.UUID, name string) (*storage.Asset, error)
	InsertAssetIfAbsent(ctx context.Context, customerID uuid.UUID, name string) (*storage.Asset, bool, error)
	UpdateAsset(ctx context.Context, asset *storage.Asset) error
}

type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Get returns the asset and locks it for the rest of the unit of work.
func (l *Ledger) Get(ctx context.Context, customerID uuid.UUID, name string) (storage.Asset, error) {
	asset, err := l.store.GetAssetForUpdate(ctx, customerID, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Asset{}, fmt.Errorf("%w: asset %s", storage.ErrNotFound, name)
		}
		return storage.Asset{}, err
	}
	return *asset, nil
}

// Lock fetches the named assets in ascending name order so that two units of
// work touching the same pair never wait on each other in opposite orders.
// Missing assets are absent from the result.
func (l *Ledger) Lock(ctx context.Context, customerID uuid.UUID, names ...string) (map[string]*storage.Asset, error) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	out := make(map[string]*storage.Asset, len(sorted))
	for _, name := range sorted {
		if _, seen := out[name]; seen {
			continue
		}
		asset, err := l.store.GetAssetForUpdate(ctx, customerID, name)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[name] = asset
	}
	return out, nil
}

// Adjust applies both deltas to one record. The record is left untouched
// when the result would break 0 <= usable <= size.
func (l *Ledger) Adjust(ctx context.Context, customerID uuid.UUID, name string, sizeDelta, usableDelta decimal.Decimal) (storage.Asset, error) {
	current, err := l.Get(ctx, customerID, name)
	if err != nil {
		return storage.Asset{}, err
	}

	next := current
	next.Size = storage.Round(current.Size.Add(sizeDelta))
	next.Usable = storage.Round(current.Usable.Add(usableDelta))
	if err := Check(next); err != nil {
		return storage.Asset{}, err
	}
	if err := l.store.UpdateAsset(ctx, &next); err != nil {
		return storage.Asset{}, err
	}
	return next, nil
}

// EnsureExists returns the record, creating an empty one on first use.
func (l *Ledger) EnsureExists(ctx context.Context, customerID uuid.UUID, name string) (storage.Asset, error) {
	asset, _, err := l.store.InsertAssetIfAbsent(ctx, customerID, name)
	if err != nil {
		return storage.Asset{}, err
	}
	return *asset, nil
}

// Deposit credits amount as owned and immediately usable.
func (l *Ledger) Deposit(ctx context.Context, customerID uuid.UUID, name string, amount decimal.Decimal) (storage.Asset, error) {
	if !amount.IsPositive() {
		return storage.Asset{}, fmt.Errorf("deposit amount must be positive: %s", amount)
	}
	if _, err := l.EnsureExists(ctx, customerID, name); err != nil {
		return storage.Asset{}, err
	}
	return l.Adjust(ctx, customerID, name, amount, amount)
}

// Check enforces 0 <= usable <= size.
func Check(asset storage.Asset) error {
	if asset.Usable.IsNegative() || asset.Usable.GreaterThan(asset.Size) {
		return fmt.Errorf("%w: %s/%s size=%s usable=%s",
			ErrInvariantViolation, asset.CustomerID, asset.Name, asset.Size, asset.Usable)
	}
	return nil
}
