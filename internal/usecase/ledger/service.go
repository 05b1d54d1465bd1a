// Package ledger maintains the per-vault map of asset type to cached USD
// value and drives valuation refreshes through the position registry.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
	"github.com/vaultflow/vaultflow-backend/internal/pricing"
	"github.com/vaultflow/vaultflow-backend/internal/roles"
	"github.com/vaultflow/vaultflow-backend/internal/valuation"
)

// Service owns asset-type registration and the valuation refresh that feeds
// the ledger cache.
type Service struct {
	VaultRepo      domain.VaultRepository
	Registry       *valuation.Registry
	Prices         pricing.Source
	Roles          *roles.Registry
	PrincipalAsset string

	mu  *sync.Mutex
	now func() time.Time
}

// NewService creates a ledger service. The mutex is the vault's single
// logical actor, shared with every other mutating service.
func NewService(
	vaultRepo domain.VaultRepository,
	registry *valuation.Registry,
	prices pricing.Source,
	roleRegistry *roles.Registry,
	principalAsset string,
	mu *sync.Mutex,
) *Service {
	return &Service{
		VaultRepo:      vaultRepo,
		Registry:       registry,
		Prices:         prices,
		Roles:          roleRegistry,
		PrincipalAsset: principalAsset,
		mu:             mu,
		now:            time.Now,
	}
}

// RegisterAsset starts tracking an external position: the asset type is
// registered on the vault ledger (idempotent, zero-valued, never-updated)
// and bound to its protocol family's valuator in the registry.
// Administrative entry point.
func (s *Service) RegisterAsset(ctx context.Context, pos valuation.Position) error {
	if err := s.Roles.AssertNotFrozen(roles.RoleAdmin); err != nil {
		return err
	}
	if pos.AssetType == s.PrincipalAsset {
		return fmt.Errorf("asset type %q is reserved for the principal sleeve: %w", pos.AssetType, domain.ErrValidation)
	}
	valuator, err := valuation.ForProtocol(pos.Protocol)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return err
	}
	if err := s.Registry.RegisterAsset(pos, valuator); err != nil {
		return err
	}
	if err := vault.RegisterAssetType(pos.AssetType); err != nil {
		return err
	}
	return s.VaultRepo.Save(ctx, vault)
}

// SubmitMarketSnapshot records the latest market snapshot for a tracked
// position. Operator entry point: a freshly registered position has no
// snapshot and cannot be valued until its first one arrives here. During an
// operation the borrowed types are instead revalued through the operation
// service, which confirms them against the completion checklist.
func (s *Service) SubmitMarketSnapshot(assetType string, market valuation.Market) error {
	if err := s.Roles.AssertNotFrozen(roles.RoleOperator); err != nil {
		return err
	}
	return s.Registry.UpdateMarket(assetType, market)
}

// RefreshValuations re-values every tracked asset type at the given instant
// and records the results into the ledger cache. All-or-nothing: any
// failure aborts before the caller persists, so a partial valuation is
// never accepted as complete. Callers already hold the vault actor lock.
func (s *Service) RefreshValuations(vault *domain.Vault, now time.Time) error {
	return s.RevalueAssets(vault, vault.AssetTypes(), now)
}

// RevalueAssets re-values only the given asset types. Used by the emergency
// hook to replay the valuations of a stuck operation.
func (s *Service) RevalueAssets(vault *domain.Vault, assetTypes []string, now time.Time) error {
	for _, assetType := range assetTypes {
		var (
			value decimal.Decimal
			err   error
		)
		if assetType == s.PrincipalAsset {
			value, err = valuation.PrincipalValuator{Asset: s.PrincipalAsset}.Valuate(vault.FreePrincipal, s.Prices, now)
		} else {
			value, err = s.Registry.Value(assetType, s.Prices, now)
		}
		if err != nil {
			return fmt.Errorf("valuation of %q failed: %w", assetType, err)
		}
		if err := vault.RecordAssetValue(assetType, value, now); err != nil {
			return err
		}
	}
	return nil
}

// CheckedTotalValue returns the authoritative total subject to the
// freshness window. Never falls back to the unchecked cache.
func (s *Service) CheckedTotalValue(ctx context.Context, window time.Duration) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return vault.TotalValue(s.now(), window)
}

// TotalShares exposes the outstanding share supply to read-only consumers
// such as the reward module.
func (s *Service) TotalShares(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return vault.TotalShares, nil
}
