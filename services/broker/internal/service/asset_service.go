package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/AfshinJalili/brokerage/libs/auth"
	"github.com/AfshinJalili/brokerage/services/broker/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AssetStore interface {
	ListAssets(ctx context.Context, customerID uuid.UUID) ([]storage.Asset, error)
}

type AssetService struct {
	store  AssetStore
	logger *slog.Logger
}

// ListAssetsInput filters are optional. AssetName matches the whole name
// ignoring case; MinUsable keeps assets whose usable balance is at least it.
type ListAssetsInput struct {
	CustomerID uuid.UUID
	AssetName  string
	MinUsable  *decimal.Decimal
}

func NewAssetService(store AssetStore, logger *slog.Logger) *AssetService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetService{store: store, logger: logger}
}

func (s *AssetService) ListAssets(ctx context.Context, caller auth.Identity, input ListAssetsInput) ([]storage.Asset, error) {
	if err := authorize(caller, input.CustomerID); err != nil {
		return nil, err
	}
	assets, err := s.store.ListAssets(ctx, input.CustomerID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.AssetName)
	out := make([]storage.Asset, 0, len(assets))
	for _, asset := range assets {
		if name != "" && !strings.EqualFold(asset.Name, name) {
			continue
		}
		if input.MinUsable != nil && asset.Usable.LessThan(*input.MinUsable) {
			continue
		}
		out = append(out, asset)
	}
	return out, nil
}
