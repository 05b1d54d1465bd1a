// Package bootstrap seeds the vault aggregate on first start and rebuilds
// the in-process valuation registry from configured positions.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
	"github.com/vaultflow/vaultflow-backend/internal/valuation"
)

// VaultSeed holds the initial parameters for a fresh vault.
type VaultSeed struct {
	ID               uuid.UUID
	PrincipalAsset   string
	DepositFeeBps    int64
	WithdrawFeeBps   int64
	LossToleranceBps int64
	WithdrawLock     time.Duration
	CancelLock       time.Duration
	Positions        []valuation.Position
}

// Bootstrapper ensures the persisted vault exists and matches the binary's
// schema, and registers every configured position.
type Bootstrapper struct {
	VaultRepo domain.VaultRepository
	Registry  *valuation.Registry
}

// NewBootstrapper creates a bootstrapper.
func NewBootstrapper(vaultRepo domain.VaultRepository, registry *valuation.Registry) *Bootstrapper {
	return &Bootstrapper{VaultRepo: vaultRepo, Registry: registry}
}

// Ensure creates the vault if it does not exist yet, registers the
// principal sleeve and every configured position on the ledger, and binds
// the positions to their valuators. Idempotent across restarts.
func (b *Bootstrapper) Ensure(ctx context.Context, seed VaultSeed) error {
	if seed.PrincipalAsset == "" {
		return fmt.Errorf("principal asset cannot be empty: %w", domain.ErrValidation)
	}

	vault, err := b.VaultRepo.Get(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		vault = domain.NewVault(seed.ID, seed.DepositFeeBps, seed.WithdrawFeeBps, seed.LossToleranceBps, seed.WithdrawLock, seed.CancelLock)
	} else if err != nil {
		return err
	}

	if err := vault.RegisterAssetType(seed.PrincipalAsset); err != nil {
		return err
	}
	for _, pos := range seed.Positions {
		if pos.AssetType == seed.PrincipalAsset {
			return fmt.Errorf("position %q collides with the principal sleeve: %w", pos.AssetType, domain.ErrValidation)
		}
		valuator, err := valuation.ForProtocol(pos.Protocol)
		if err != nil {
			return err
		}
		if err := b.Registry.RegisterAsset(pos, valuator); err != nil {
			return err
		}
		if err := vault.RegisterAssetType(pos.AssetType); err != nil {
			return err
		}
	}
	return b.VaultRepo.Save(ctx, vault)
}
