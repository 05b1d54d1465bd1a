package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault() *Vault {
	return NewVault(uuid.New(), 10, 10, 100, 24*time.Hour, time.Hour)
}

func TestRegisterAssetType_Idempotent(t *testing.T) {
	vault := newTestVault()
	now := time.Now()

	require.NoError(t, vault.RegisterAssetType("aave-usdc"))
	require.NoError(t, vault.RecordAssetValue("aave-usdc", decimal.NewFromInt(100), now))

	// Re-registering keeps the cached value and timestamp.
	require.NoError(t, vault.RegisterAssetType("aave-usdc"))
	assert.True(t, vault.AssetValues["aave-usdc"].Value.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, now, vault.AssetValues["aave-usdc"].UpdatedAt)
}

func TestRegisterAssetType_RejectsEmpty(t *testing.T) {
	vault := newTestVault()
	assert.ErrorIs(t, vault.RegisterAssetType(""), ErrValidation)
}

func TestRecordAssetValue_UnregisteredType(t *testing.T) {
	vault := newTestVault()
	err := vault.RecordAssetValue("unknown", decimal.NewFromInt(1), time.Now())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecordAssetValue_NegativeValue(t *testing.T) {
	vault := newTestVault()
	require.NoError(t, vault.RegisterAssetType("aave-usdc"))
	err := vault.RecordAssetValue("aave-usdc", decimal.NewFromInt(-1), time.Now())
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestTotalValue_FailsOnNeverValuedAsset(t *testing.T) {
	vault := newTestVault()
	require.NoError(t, vault.RegisterAssetType("aave-usdc"))

	_, err := vault.TotalValue(time.Now(), time.Minute)
	assert.ErrorIs(t, err, ErrFreshness)
}

func TestTotalValue_FailsOutsideWindow(t *testing.T) {
	vault := newTestVault()
	now := time.Now()
	require.NoError(t, vault.RegisterAssetType("aave-usdc"))
	require.NoError(t, vault.RecordAssetValue("aave-usdc", decimal.NewFromInt(100), now.Add(-2*time.Minute)))

	_, err := vault.TotalValue(now, time.Minute)
	assert.ErrorIs(t, err, ErrFreshness)
}

func TestTotalValue_ZeroWindowRequiresSameInstant(t *testing.T) {
	vault := newTestVault()
	now := time.Now()
	require.NoError(t, vault.RegisterAssetType("aave-usdc"))
	require.NoError(t, vault.RecordAssetValue("aave-usdc", decimal.NewFromInt(100), now))

	total, err := vault.TotalValue(now, 0)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(100)))

	// One nanosecond later the zero window no longer holds.
	_, err = vault.TotalValue(now.Add(time.Nanosecond), 0)
	assert.ErrorIs(t, err, ErrFreshness)
}

func TestTotalValue_SumsAllAssets(t *testing.T) {
	vault := newTestVault()
	now := time.Now()
	require.NoError(t, vault.RegisterAssetType("aave-usdc"))
	require.NoError(t, vault.RegisterAssetType("univ3-usdc-weth"))
	require.NoError(t, vault.RecordAssetValue("aave-usdc", decimal.NewFromInt(100), now))
	require.NoError(t, vault.RecordAssetValue("univ3-usdc-weth", decimal.NewFromInt(250), now))

	total, err := vault.TotalValue(now, time.Minute)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(350)))
}

func TestUncheckedTotalValue_IgnoresStaleness(t *testing.T) {
	vault := newTestVault()
	require.NoError(t, vault.RegisterAssetType("aave-usdc"))
	require.NoError(t, vault.RecordAssetValue("aave-usdc", decimal.NewFromInt(100), time.Now().Add(-time.Hour)))

	assert.True(t, vault.UncheckedTotalValue().Equal(decimal.NewFromInt(100)))
}

func TestShareRatio_BootstrapIsOne(t *testing.T) {
	vault := newTestVault()
	ratio, err := vault.ShareRatio(time.Now())
	require.NoError(t, err)
	assert.True(t, ratio.Equal(decimal.NewFromInt(1)))
}

func TestShareRatio_FloorsToLedgerPrecision(t *testing.T) {
	vault := newTestVault()
	now := time.Now()
	require.NoError(t, vault.RegisterAssetType("usdc"))
	require.NoError(t, vault.RecordAssetValue("usdc", decimal.NewFromInt(10), now))
	require.NoError(t, vault.MintShares(decimal.NewFromInt(3)))

	ratio, err := vault.ShareRatio(now)
	require.NoError(t, err)
	assert.True(t, ratio.Equal(decimal.RequireFromString("3.333333333")), "got %s", ratio)
}

func TestShareRatio_RequiresFreshTotal(t *testing.T) {
	vault := newTestVault()
	require.NoError(t, vault.RegisterAssetType("usdc"))
	require.NoError(t, vault.RecordAssetValue("usdc", decimal.NewFromInt(10), time.Now().Add(-time.Second)))
	require.NoError(t, vault.MintShares(decimal.NewFromInt(3)))

	_, err := vault.ShareRatio(time.Now())
	assert.ErrorIs(t, err, ErrFreshness)
}

func TestMintBurnShares(t *testing.T) {
	vault := newTestVault()

	require.NoError(t, vault.MintShares(decimal.NewFromInt(100)))
	assert.ErrorIs(t, vault.MintShares(decimal.Zero), ErrInvariant)

	assert.ErrorIs(t, vault.BurnShares(decimal.NewFromInt(101)), ErrInvariant)
	require.NoError(t, vault.BurnShares(decimal.NewFromInt(40)))
	assert.True(t, vault.TotalShares.Equal(decimal.NewFromInt(60)))
}

func TestDebitPrincipal_CannotOverdraw(t *testing.T) {
	vault := newTestVault()
	vault.CreditPrincipal(decimal.NewFromInt(100))

	assert.ErrorIs(t, vault.DebitPrincipal(decimal.NewFromInt(101)), ErrPolicy)
	require.NoError(t, vault.DebitPrincipal(decimal.NewFromInt(100)))
	assert.True(t, vault.FreePrincipal.IsZero())
}

func TestDrainFees_OnlyWhileNormal(t *testing.T) {
	vault := newTestVault()
	vault.AccrueFee(decimal.NewFromInt(17))

	require.NoError(t, vault.Disable())
	_, err := vault.DrainFees()
	assert.ErrorIs(t, err, ErrState)

	require.NoError(t, vault.Enable())
	fees, err := vault.DrainFees()
	require.NoError(t, err)
	assert.True(t, fees.Equal(decimal.NewFromInt(17)))
	assert.True(t, vault.FeeCollected.IsZero())
}

func TestDisableEnable_RejectedDuringOperation(t *testing.T) {
	vault := newTestVault()
	now := time.Now()
	require.NoError(t, vault.RegisterAssetType("usdc"))
	require.NoError(t, vault.RecordAssetValue("usdc", decimal.NewFromInt(100), now))
	require.NoError(t, vault.BeginOperation([]string{"usdc"}, now, 24*time.Hour))

	assert.ErrorIs(t, vault.Disable(), ErrState)
	assert.ErrorIs(t, vault.Enable(), ErrState)
}
