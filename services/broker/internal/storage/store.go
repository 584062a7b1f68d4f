package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidStatus = errors.New("invalid order status transition")
	ErrConflict      = errors.New("conflict")
	// ErrUnavailable is returned once transient contention outlasts the retry budget.
	ErrUnavailable = errors.New("storage unavailable")
)

// Tx is one unit of work. Asset and order reads through a Tx lock the row
// until the unit commits or rolls back.
type Tx interface {
	GetAssetForUpdate(ctx context.Context, customerID uuid.UUID, name string) (*Asset, error)
	// InsertAssetIfAbsent returns the locked row and whether this call created it.
	InsertAssetIfAbsent(ctx context.Context, customerID uuid.UUID, name string) (*Asset, bool, error)
	UpdateAsset(ctx context.Context, asset *Asset) error

	InsertOrder(ctx context.Context, order *Order) (*Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*Order, error)
	TransitionOrder(ctx context.Context, id int64, from, to OrderStatus) (*Order, error)

	// MarkEventProcessed returns false when eventID was already recorded.
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

// TxRunner runs fn in a unit of work, committing when fn returns nil.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}
