package overview

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
)

type fakeVaultRepo struct {
	vault *domain.Vault
}

func (r *fakeVaultRepo) Get(_ context.Context) (*domain.Vault, error) {
	if r.vault == nil {
		return nil, fmt.Errorf("vault is not bootstrapped: %w", domain.ErrNotFound)
	}
	return r.vault, nil
}

func (r *fakeVaultRepo) Save(_ context.Context, vault *domain.Vault) error {
	r.vault = vault
	return nil
}

type fakeReceiptRepo struct {
	receipts map[uuid.UUID]*domain.Receipt
}

func (r *fakeReceiptRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Receipt, error) {
	receipt, ok := r.receipts[id]
	if !ok {
		return nil, fmt.Errorf("receipt %s: %w", id, domain.ErrNotFound)
	}
	return receipt, nil
}

func (r *fakeReceiptRepo) GetByOwner(_ context.Context, owner string) (*domain.Receipt, error) {
	for _, receipt := range r.receipts {
		if receipt.Owner == owner {
			return receipt, nil
		}
	}
	return nil, fmt.Errorf("no receipt for owner %q: %w", owner, domain.ErrNotFound)
}

func (r *fakeReceiptRepo) Create(_ context.Context, receipt *domain.Receipt) error {
	r.receipts[receipt.ID] = receipt
	return nil
}

func (r *fakeReceiptRepo) Save(_ context.Context, receipt *domain.Receipt) error {
	r.receipts[receipt.ID] = receipt
	return nil
}

func TestOverview_ServesStaleCacheWithAges(t *testing.T) {
	now := time.Now()
	vault := domain.NewVault(uuid.New(), 10, 10, 100, 24*time.Hour, time.Hour)
	require.NoError(t, vault.RegisterAssetType("USDC"))
	require.NoError(t, vault.RegisterAssetType("aave-usdc"))
	require.NoError(t, vault.RecordAssetValue("USDC", decimal.NewFromInt(1000), now.Add(-3*time.Hour)))
	require.NoError(t, vault.RecordAssetValue("aave-usdc", decimal.NewFromInt(500), now.Add(-time.Hour)))
	vault.CreditPrincipal(decimal.NewFromInt(1000))
	require.NoError(t, vault.MintShares(decimal.NewFromInt(1500)))

	svc := NewService(&fakeVaultRepo{vault: vault}, &fakeReceiptRepo{})
	svc.now = func() time.Time { return now }

	out, err := svc.Overview(context.Background())
	require.NoError(t, err)

	// Display reads do not apply the freshness window; values three hours
	// old are still served, with their age attached.
	assert.Equal(t, domain.StatusNormal, out.Status)
	assert.True(t, out.UncheckedTotalValue.Equal(decimal.NewFromInt(1500)))
	assert.True(t, out.TotalShares.Equal(decimal.NewFromInt(1500)))

	require.Len(t, out.Assets, 2)
	byType := map[string]AssetOverview{}
	for _, a := range out.Assets {
		byType[a.AssetType] = a
	}
	assert.Equal(t, 3*time.Hour, byType["USDC"].Age)
	assert.Equal(t, time.Hour, byType["aave-usdc"].Age)
}

func TestOverview_NeverValuedAssetHasZeroAge(t *testing.T) {
	vault := domain.NewVault(uuid.New(), 10, 10, 100, 24*time.Hour, time.Hour)
	require.NoError(t, vault.RegisterAssetType("USDC"))

	svc := NewService(&fakeVaultRepo{vault: vault}, &fakeReceiptRepo{})

	out, err := svc.Overview(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Assets, 1)
	assert.Equal(t, time.Duration(0), out.Assets[0].Age)
}

func TestOverview_ReportsOperationProgress(t *testing.T) {
	now := time.Now()
	vault := domain.NewVault(uuid.New(), 10, 10, 100, 24*time.Hour, time.Hour)
	require.NoError(t, vault.RegisterAssetType("USDC"))
	require.NoError(t, vault.RegisterAssetType("aave-usdc"))
	require.NoError(t, vault.RecordAssetValue("USDC", decimal.NewFromInt(1000), now))
	require.NoError(t, vault.RecordAssetValue("aave-usdc", decimal.NewFromInt(500), now))
	require.NoError(t, vault.BeginOperation([]string{"USDC", "aave-usdc"}, now, 24*time.Hour))
	require.NoError(t, vault.ConfirmRevaluation("aave-usdc"))

	svc := NewService(&fakeVaultRepo{vault: vault}, &fakeReceiptRepo{})

	out, err := svc.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDuringOperation, out.Status)
	assert.Equal(t, []string{"USDC", "aave-usdc"}, out.OperationBorrowed)
	assert.Equal(t, []string{"aave-usdc"}, out.OperationConfirmed)
}

func TestReceiptShareBalance(t *testing.T) {
	receipt := domain.NewReceipt("alice")
	receipt.Shares = decimal.NewFromInt(1234)
	repo := &fakeReceiptRepo{receipts: map[uuid.UUID]*domain.Receipt{receipt.ID: receipt}}

	svc := NewService(&fakeVaultRepo{}, repo)

	shares, err := svc.ReceiptShareBalance(context.Background(), receipt.ID)
	require.NoError(t, err)
	assert.True(t, shares.Equal(decimal.NewFromInt(1234)))

	_, err = svc.ReceiptShareBalance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
