// Package reservation holds the per-side balance policy. Functions here are
// pure: they read asset snapshots and return the deltas the ledger must
// apply, without touching storage.
package reservation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/AfshinJalili/brokerage/services/broker/internal/storage"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownSide         = errors.New("unknown order side")
)

// Terms are the immutable economics of an order.
type Terms struct {
	Side  storage.OrderSide
	Cash  string
	Asset string
	Size  decimal.Decimal
	Price decimal.Decimal
}

func TermsOf(order storage.Order, cash string) Terms {
	return Terms{
		Side:  order.Side,
		Cash:  cash,
		Asset: order.AssetName,
		Size:  order.Size,
		Price: order.Price,
	}
}

// Value is size*price at storage scale. Reserve, Release and Settle all use
// this same figure so a release is an exact inverse of its reservation.
func (t Terms) Value() decimal.Decimal {
	return storage.Round(t.Size.Mul(t.Price))
}

type Delta struct {
	Asset  string
	Size   decimal.Decimal
	Usable decimal.Decimal
}

// Plan lists the ledger work for one lifecycle step, in application order.
type Plan struct {
	Ensure []string
	Deltas []Delta
}

// Assets returns every asset name the plan touches, sorted.
func (p Plan) Assets() []string {
	seen := make(map[string]struct{})
	for _, name := range p.Ensure {
		seen[name] = struct{}{}
	}
	for _, d := range p.Deltas {
		seen[d.Asset] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Reserve decides what a new order claims. cash and traded are the current
// records, nil when absent.
func Reserve(t Terms, cash, traded *storage.Asset) (Plan, error) {
	switch t.Side {
	case storage.SideBuy:
		if cash == nil {
			return Plan{}, fmt.Errorf("%w: missing cash balance", storage.ErrNotFound)
		}
		cost := t.Value()
		if cash.Usable.LessThan(cost) {
			return Plan{}, fmt.Errorf("%w: need %s %s, usable %s", ErrInsufficientFunds, cost, t.Cash, cash.Usable)
		}
		return Plan{
			Deltas: []Delta{{Asset: t.Cash, Size: decimal.Zero, Usable: cost.Neg()}},
			Ensure: []string{t.Asset},
		}, nil
	case storage.SideSell:
		if traded == nil {
			return Plan{}, fmt.Errorf("%w: no %s held", ErrInsufficientBalance, t.Asset)
		}
		if traded.Usable.LessThan(t.Size) {
			return Plan{}, fmt.Errorf("%w: need %s %s, usable %s", ErrInsufficientBalance, t.Size, t.Asset, traded.Usable)
		}
		return Plan{
			Deltas: []Delta{{Asset: t.Asset, Size: decimal.Zero, Usable: t.Size.Neg()}},
		}, nil
	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownSide, t.Side)
	}
}

// Release undoes Reserve for a cancelled order.
func Release(t Terms) (Plan, error) {
	switch t.Side {
	case storage.SideBuy:
		return Plan{Deltas: []Delta{{Asset: t.Cash, Size: decimal.Zero, Usable: t.Value()}}}, nil
	case storage.SideSell:
		return Plan{Deltas: []Delta{{Asset: t.Asset, Size: decimal.Zero, Usable: t.Size}}}, nil
	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownSide, t.Side)
	}
}

// Settle transfers ownership for a matched order. The reserved usable
// portion was already removed by Reserve, so only size moves on the paying side.
func Settle(t Terms) (Plan, error) {
	value := t.Value()
	switch t.Side {
	case storage.SideBuy:
		return Plan{Deltas: []Delta{
			{Asset: t.Cash, Size: value.Neg(), Usable: decimal.Zero},
			{Asset: t.Asset, Size: t.Size, Usable: t.Size},
		}}, nil
	case storage.SideSell:
		return Plan{Deltas: []Delta{
			{Asset: t.Cash, Size: value, Usable: value},
			{Asset: t.Asset, Size: t.Size.Neg(), Usable: decimal.Zero},
		}}, nil
	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownSide, t.Side)
	}
}
