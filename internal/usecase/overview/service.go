// Package overview serves non-authoritative display reads of the vault.
// Totals here come from the UNCHECKED cache and must never feed a share
// ratio, a loss baseline or a settlement computation.
package overview

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
)

// AssetOverview is one tracked asset's cached value and its age.
type AssetOverview struct {
	AssetType string
	Value     decimal.Decimal
	UpdatedAt time.Time
	Age       time.Duration
}

// VaultOverview is the display snapshot of the vault.
type VaultOverview struct {
	Status              domain.VaultStatus
	TotalShares         decimal.Decimal
	FreePrincipal       decimal.Decimal
	FeeCollected        decimal.Decimal
	UncheckedTotalValue decimal.Decimal
	Assets              []AssetOverview
	Epoch               uint64
	EpochLoss           decimal.Decimal
	EpochLossBase       decimal.Decimal
	LossToleranceBps    int64
	OperationBorrowed   []string
	OperationConfirmed  []string
}

// Service builds display snapshots and exposes the read-only share
// accessors consumed by the reward module.
type Service struct {
	VaultRepo   domain.VaultRepository
	ReceiptRepo domain.ReceiptRepository

	now func() time.Time
}

// NewService creates an overview service.
func NewService(vaultRepo domain.VaultRepository, receiptRepo domain.ReceiptRepository) *Service {
	return &Service{VaultRepo: vaultRepo, ReceiptRepo: receiptRepo, now: time.Now}
}

// Overview returns the display snapshot of the vault.
func (s *Service) Overview(ctx context.Context) (*VaultOverview, error) {
	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	assets := make([]AssetOverview, 0, len(vault.AssetValues))
	for _, assetType := range vault.AssetTypes() {
		av := vault.AssetValues[assetType]
		age := time.Duration(0)
		if !av.UpdatedAt.IsZero() {
			age = now.Sub(av.UpdatedAt)
		}
		assets = append(assets, AssetOverview{
			AssetType: assetType,
			Value:     av.Value,
			UpdatedAt: av.UpdatedAt,
			Age:       age,
		})
	}

	out := &VaultOverview{
		Status:              vault.Status,
		TotalShares:         vault.TotalShares,
		FreePrincipal:       vault.FreePrincipal,
		FeeCollected:        vault.FeeCollected,
		UncheckedTotalValue: vault.UncheckedTotalValue(),
		Assets:              assets,
		Epoch:               vault.Epoch,
		EpochLoss:           vault.EpochLoss,
		EpochLossBase:       vault.EpochLossBase,
		LossToleranceBps:    vault.LossToleranceBps,
	}
	if vault.Operation != nil {
		out.OperationBorrowed = vault.Operation.BorrowedTypes()
		for _, t := range out.OperationBorrowed {
			if vault.Operation.Confirmed[t] {
				out.OperationConfirmed = append(out.OperationConfirmed, t)
			}
		}
	}
	return out, nil
}

// ReceiptShareBalance exposes a receipt's active share balance to read-only
// consumers such as the reward module.
func (s *Service) ReceiptShareBalance(ctx context.Context, receiptID uuid.UUID) (decimal.Decimal, error) {
	receipt, err := s.ReceiptRepo.GetByID(ctx, receiptID)
	if err != nil {
		return decimal.Zero, err
	}
	return receipt.Shares, nil
}
