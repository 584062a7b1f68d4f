package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type assetKey struct {
	customerID uuid.UUID
	name       string
}

// MemoryStore keeps everything in process. Units of work are serialized
// by a single lock and staged until commit, so a failed unit leaves no trace.
// Used by tests and by the service when BROKER_DB_DRIVER=memory.
type MemoryStore struct {
	mu        sync.RWMutex
	assets    map[assetKey]Asset
	orders    map[int64]Order
	customers map[string]Customer
	events    map[string]string
	nextID    int64
	now       func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		assets:    make(map[assetKey]Asset),
		orders:    make(map[int64]Order),
		customers: make(map[string]Customer),
		events:    make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		store:  s,
		assets: make(map[assetKey]Asset),
		orders: make(map[int64]Order),
		events: make(map[string]string),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for k, v := range tx.assets {
		s.assets[k] = v
	}
	for k, v := range tx.orders {
		s.orders[k] = v
	}
	for k, v := range tx.events {
		s.events[k] = v
	}
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id int64) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &order, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, filter OrderFilter) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Order
	for _, order := range s.orders {
		if order.CustomerID != filter.CustomerID {
			continue
		}
		if !filter.From.IsZero() && order.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && order.CreatedAt.After(filter.To) {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		out = append(out, order)
	}
	sortOrders(out)
	return out, nil
}

func (s *MemoryStore) ListOrdersByStatus(_ context.Context, status OrderStatus, afterID int64, limit int) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Order
	for _, order := range s.orders {
		if order.Status == status && order.ID > afterID {
			out = append(out, order)
		}
	}
	sortOrders(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetAsset(_ context.Context, customerID uuid.UUID, name string) (*Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[assetKey{customerID, name}]
	if !ok {
		return nil, ErrNotFound
	}
	return &asset, nil
}

func (s *MemoryStore) ListAssets(_ context.Context, customerID uuid.UUID) ([]Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Asset
	for k, asset := range s.assets {
		if k.customerID == customerID {
			out = append(out, asset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) GetCustomerByUsername(_ context.Context, username string) (*Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) UpsertCustomer(_ context.Context, c Customer) (*Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Username = strings.ToLower(c.Username)
	if existing, ok := s.customers[c.Username]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.customers[c.Username] = c
	return &c, nil
}

// PutAsset overwrites an asset record outside of any unit of work. Test and
// dev bootstrap only; production balances move through the ledger.
func (s *MemoryStore) PutAsset(customerID uuid.UUID, name string, size, usable decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[assetKey{customerID, name}] = Asset{
		CustomerID: customerID,
		Name:       name,
		Size:       size,
		Usable:     usable,
		UpdatedAt:  s.now(),
	}
}

func sortOrders(orders []Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
}

type memTx struct {
	store  *MemoryStore
	assets map[assetKey]Asset
	orders map[int64]Order
	events map[string]string
}

func (t *memTx) lookupAsset(key assetKey) (Asset, bool) {
	if a, ok := t.assets[key]; ok {
		return a, true
	}
	a, ok := t.store.assets[key]
	return a, ok
}

func (t *memTx) lookupOrder(id int64) (Order, bool) {
	if o, ok := t.orders[id]; ok {
		return o, true
	}
	o, ok := t.store.orders[id]
	return o, ok
}

func (t *memTx) GetAssetForUpdate(_ context.Context, customerID uuid.UUID, name string) (*Asset, error) {
	asset, ok := t.lookupAsset(assetKey{customerID, name})
	if !ok {
		return nil, ErrNotFound
	}
	return &asset, nil
}

func (t *memTx) InsertAssetIfAbsent(_ context.Context, customerID uuid.UUID, name string) (*Asset, bool, error) {
	key := assetKey{customerID, name}
	if asset, ok := t.lookupAsset(key); ok {
		return &asset, false, nil
	}
	asset := Asset{
		CustomerID: customerID,
		Name:       name,
		Size:       decimal.Zero,
		Usable:     decimal.Zero,
		UpdatedAt:  t.store.now(),
	}
	t.assets[key] = asset
	return &asset, true, nil
}

func (t *memTx) UpdateAsset(_ context.Context, asset *Asset) error {
	key := assetKey{asset.CustomerID, asset.Name}
	if _, ok := t.lookupAsset(key); !ok {
		return ErrNotFound
	}
	if asset.Usable.IsNegative() || asset.Usable.GreaterThan(asset.Size) {
		return fmt.Errorf("%w: asset %s violates usable range", ErrConflict, asset.Name)
	}
	updated := *asset
	updated.UpdatedAt = t.store.now()
	t.assets[key] = updated
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, order *Order) (*Order, error) {
	t.store.nextID++
	stored := *order
	stored.ID = t.store.nextID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = t.store.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	t.orders[stored.ID] = stored
	return &stored, nil
}

func (t *memTx) GetOrderForUpdate(_ context.Context, id int64) (*Order, error) {
	order, ok := t.lookupOrder(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &order, nil
}

func (t *memTx) TransitionOrder(_ context.Context, id int64, from, to OrderStatus) (*Order, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, from, to)
	}
	order, ok := t.lookupOrder(id)
	if !ok {
		return nil, ErrNotFound
	}
	if order.Status != from {
		return nil, fmt.Errorf("%w: order %d is %s", ErrInvalidStatus, id, order.Status)
	}
	order.Status = to
	order.UpdatedAt = t.store.now()
	t.orders[id] = order
	return &order, nil
}

func (t *memTx) MarkEventProcessed(_ context.Context, eventID, eventType string) (bool, error) {
	if _, ok := t.events[eventID]; ok {
		return false, nil
	}
	if _, ok := t.store.events[eventID]; ok {
		return false, nil
	}
	t.events[eventID] = eventType
	return true, nil
}
