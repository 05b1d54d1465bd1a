package operation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
	"github.com/vaultflow/vaultflow-backend/internal/pricing"
	"github.com/vaultflow/vaultflow-backend/internal/roles"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/ledger"
	"github.com/vaultflow/vaultflow-backend/internal/valuation"
)

type fakeVaultRepo struct {
	vault *domain.Vault
}

func cloneVault(v *domain.Vault) *domain.Vault {
	clone := *v
	clone.AssetValues = make(map[string]domain.AssetValue, len(v.AssetValues))
	for k, av := range v.AssetValues {
		clone.AssetValues[k] = av
	}
	if v.Operation != nil {
		op := *v.Operation
		op.Borrowed = make(map[string]bool, len(v.Operation.Borrowed))
		for k, b := range v.Operation.Borrowed {
			op.Borrowed[k] = b
		}
		op.Confirmed = make(map[string]bool, len(v.Operation.Confirmed))
		for k, b := range v.Operation.Confirmed {
			op.Confirmed[k] = b
		}
		clone.Operation = &op
	}
	return &clone
}

func (r *fakeVaultRepo) Get(_ context.Context) (*domain.Vault, error) {
	if r.vault == nil {
		return nil, fmt.Errorf("vault is not bootstrapped: %w", domain.ErrNotFound)
	}
	return cloneVault(r.vault), nil
}

func (r *fakeVaultRepo) Save(_ context.Context, vault *domain.Vault) error {
	r.vault = cloneVault(vault)
	return nil
}

type fakeAuditRepo struct {
	events []domain.AuditEvent
}

func (r *fakeAuditRepo) Append(_ context.Context, event domain.AuditEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *fakeAuditRepo) List(_ context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit > len(r.events) {
		limit = len(r.events)
	}
	return r.events[:limit], nil
}

// fixture holds a vault with a 1000 principal sleeve and one lending
// position valued at 505 (supply 500 plus 5 accrued), a total of 1505. The
// 100 bps loss tolerance therefore admits 15.05 of loss per epoch.
type fixture struct {
	svc      *Service
	ledger   *ledger.Service
	vaults   *fakeVaultRepo
	audit    *fakeAuditRepo
	feed     *pricing.Feed
	registry *valuation.Registry
	roles    *roles.Registry
	at       time.Time
}

func lendingPosition() valuation.Position {
	return valuation.Position{
		AssetType:   "aave-usdc",
		Protocol:    valuation.ProtocolLending,
		MarketID:    "aave-v3-usdc",
		SupplyAsset: "USDC",
	}
}

func lendingMarket(supply int64) valuation.Market {
	return valuation.Market{
		Protocol:        valuation.ProtocolLending,
		ID:              "aave-v3-usdc",
		Supply:          decimal.NewFromInt(supply),
		AccruedInterest: decimal.NewFromInt(5),
	}
}

// newUnseededFixture registers the lending position but submits no market
// snapshot, the state of a vault right after bootstrap.
func newUnseededFixture(t *testing.T) *fixture {
	t.Helper()
	vault := domain.NewVault(uuid.New(), 10, 10, 100, 24*time.Hour, time.Hour)
	require.NoError(t, vault.RegisterAssetType("USDC"))
	vault.CreditPrincipal(decimal.NewFromInt(1000))

	f := &fixture{
		vaults:   &fakeVaultRepo{vault: vault},
		audit:    &fakeAuditRepo{},
		feed:     pricing.NewFeed(time.Minute),
		registry: valuation.NewRegistry(),
		roles:    roles.NewRegistry(),
		at:       time.Now(),
	}
	require.NoError(t, f.feed.SetQuote("USDC", decimal.NewFromInt(1), 0, f.at))

	var mu sync.Mutex
	f.ledger = ledger.NewService(f.vaults, f.registry, f.feed, f.roles, "USDC", &mu)
	require.NoError(t, f.ledger.RegisterAsset(context.Background(), lendingPosition()))

	f.svc = NewService(f.vaults, f.ledger, f.roles, f.audit, zap.NewNop(), nil,
		24*time.Hour, time.Hour, &mu)
	f.svc.now = func() time.Time { return f.at }
	return f
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := newUnseededFixture(t)
	require.NoError(t, f.ledger.SubmitMarketSnapshot("aave-usdc", lendingMarket(500)))
	return f
}

func TestLifecycle_CompletesWithGain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, []string{"aave-usdc"}))

	vault := f.vaults.vault
	assert.Equal(t, domain.StatusDuringOperation, vault.Status)
	require.NotNil(t, vault.Operation)
	assert.True(t, vault.Operation.TotalBefore.Equal(decimal.NewFromInt(1505)), "got %s", vault.Operation.TotalBefore)
	assert.True(t, vault.EpochLossBase.Equal(decimal.NewFromInt(1505)))

	require.NoError(t, f.svc.ReturnAssets(ctx))
	require.NoError(t, f.svc.RevalueAsset(ctx, "aave-usdc", lendingMarket(510)))
	require.NoError(t, f.svc.Complete(ctx))

	vault = f.vaults.vault
	assert.Equal(t, domain.StatusNormal, vault.Status)
	assert.Nil(t, vault.Operation)
	assert.True(t, vault.EpochLoss.IsZero())
	assert.True(t, vault.AssetValues["aave-usdc"].Value.Equal(decimal.NewFromInt(515)))
}

func TestComplete_ChargesLossWithinTolerance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, []string{"aave-usdc"}))
	require.NoError(t, f.svc.ReturnAssets(ctx))
	require.NoError(t, f.svc.RevalueAsset(ctx, "aave-usdc", lendingMarket(490)))
	require.NoError(t, f.svc.Complete(ctx))

	vault := f.vaults.vault
	assert.Equal(t, domain.StatusNormal, vault.Status)
	assert.True(t, vault.EpochLoss.Equal(decimal.NewFromInt(10)), "got %s", vault.EpochLoss)
}

func TestComplete_LossBeyondToleranceAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, []string{"aave-usdc"}))
	require.NoError(t, f.svc.ReturnAssets(ctx))
	require.NoError(t, f.svc.RevalueAsset(ctx, "aave-usdc", lendingMarket(400)))

	err := f.svc.Complete(ctx)
	assert.ErrorIs(t, err, domain.ErrPolicy)

	// The vault stays stuck for a retry or the emergency hook; the breach
	// charges nothing.
	vault := f.vaults.vault
	assert.Equal(t, domain.StatusDuringOperation, vault.Status)
	assert.True(t, vault.EpochLoss.IsZero())
}

func TestComplete_ChecklistGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, []string{"aave-usdc"}))

	// Neither returned nor confirmed.
	assert.ErrorIs(t, f.svc.Complete(ctx), domain.ErrState)

	// Returned but not confirmed.
	require.NoError(t, f.svc.ReturnAssets(ctx))
	assert.ErrorIs(t, f.svc.Complete(ctx), domain.ErrState)
}

func TestComplete_RevaluationOutsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, []string{"aave-usdc"}))
	require.NoError(t, f.svc.ReturnAssets(ctx))
	require.NoError(t, f.svc.RevalueAsset(ctx, "aave-usdc", lendingMarket(500)))

	// The confirmed values age past the one-hour completion window.
	f.at = f.at.Add(2 * time.Hour)

	assert.ErrorIs(t, f.svc.Complete(ctx), domain.ErrFreshness)
	assert.Equal(t, domain.StatusDuringOperation, f.vaults.vault.Status)
}

func TestStart_RejectsUnregisteredAssetType(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Start(context.Background(), []string{"compound-dai"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.StatusNormal, f.vaults.vault.Status)
}

func TestStart_FrozenOperator(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.roles.Freeze(roles.RoleOperator))
	assert.ErrorIs(t, f.svc.Start(context.Background(), []string{"aave-usdc"}), domain.ErrState)
}

func TestRevalueAsset_NotBorrowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.RevalueAsset(ctx, "aave-usdc", lendingMarket(500))
	assert.ErrorIs(t, err, domain.ErrState)

	require.NoError(t, f.svc.Start(ctx, []string{"aave-usdc"}))
	err = f.svc.RevalueAsset(ctx, "USDC", lendingMarket(500))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRevalueAsset_MismatchedSnapshotConfirmsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, []string{"aave-usdc"}))

	market := lendingMarket(500)
	market.ID = "aave-v3-dai"
	err := f.svc.RevalueAsset(ctx, "aave-usdc", market)
	assert.ErrorIs(t, err, domain.ErrInvariant)

	require.NotNil(t, f.vaults.vault.Operation)
	assert.False(t, f.vaults.vault.Operation.Confirmed["aave-usdc"])
}

func TestEmergencyReset_ReplaysAndCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, []string{"aave-usdc"}))

	// The operator froze mid-operation; the admin resolves without any
	// confirmed revaluation.
	require.NoError(t, f.roles.Freeze(roles.RoleOperator))

	status, err := f.svc.EmergencyReset(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNormal, status)

	vault := f.vaults.vault
	assert.Equal(t, domain.StatusNormal, vault.Status)
	assert.Nil(t, vault.Operation)

	require.Len(t, f.audit.events, 1)
	assert.Equal(t, "emergency_reset", f.audit.events[0].Action)
}

func TestEmergencyReset_ReplayFailureForcesDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Start(ctx, []string{"aave-usdc"}))

	// The oracle goes stale: the replay cannot produce fresh valuations.
	f.at = f.at.Add(2 * time.Minute)

	status, err := f.svc.EmergencyReset(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisabled, status)

	vault := f.vaults.vault
	assert.Equal(t, domain.StatusDisabled, vault.Status)
	assert.Nil(t, vault.Operation)

	require.Len(t, f.audit.events, 1)
	assert.Equal(t, "emergency_reset", f.audit.events[0].Action)
	assert.Contains(t, f.audit.events[0].Detail, "cause=")
}

func TestEmergencyReset_RequiresOperation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.EmergencyReset(context.Background())
	assert.ErrorIs(t, err, domain.ErrState)
}

func TestEmergencyReset_FrozenAdmin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.roles.Freeze(roles.RoleAdmin))
	_, err := f.svc.EmergencyReset(context.Background())
	assert.ErrorIs(t, err, domain.ErrState)
}

func TestStart_AfterFirstSnapshotSubmission(t *testing.T) {
	f := newUnseededFixture(t)
	ctx := context.Background()

	// Without a snapshot the position cannot be valued, so no operation
	// can start, nothing can be revalued, and the emergency hook has no
	// operation to reset.
	assert.ErrorIs(t, f.svc.Start(ctx, []string{"aave-usdc"}), domain.ErrFreshness)
	assert.ErrorIs(t, f.svc.RevalueAsset(ctx, "aave-usdc", lendingMarket(500)), domain.ErrState)
	_, err := f.svc.EmergencyReset(ctx)
	assert.ErrorIs(t, err, domain.ErrState)

	// The operator snapshot submission is the way out.
	require.NoError(t, f.ledger.SubmitMarketSnapshot("aave-usdc", lendingMarket(500)))
	require.NoError(t, f.svc.Start(ctx, []string{"aave-usdc"}))
	assert.Equal(t, domain.StatusDuringOperation, f.vaults.vault.Status)
}
