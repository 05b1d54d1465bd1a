package valuation

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
	"github.com/vaultflow/vaultflow-backend/internal/pricing"
)

// stubPrices is a pricing.Source with fixed normalized prices; assets not in
// the map behave like unavailable quotes.
type stubPrices map[string]decimal.Decimal

func (s stubPrices) Quote(assetType string) (pricing.Quote, error) {
	p, ok := s[assetType]
	if !ok {
		return pricing.Quote{}, fmt.Errorf("no price quoted for %q: %w", assetType, domain.ErrFreshness)
	}
	return pricing.Quote{Value: p, Decimals: 0, UpdatedAt: time.Now()}, nil
}

func (s stubPrices) NormalizedPrice(assetType string, _ time.Time) (decimal.Decimal, error) {
	p, ok := s[assetType]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price quoted for %q: %w", assetType, domain.ErrFreshness)
	}
	return p, nil
}

func lendingPosition() Position {
	return Position{
		AssetType:   "aave-usdc",
		Protocol:    ProtocolLending,
		MarketID:    "aave-v3-usdc",
		SupplyAsset: "USDC",
		BorrowAsset: "WETH",
	}
}

func lendingMarket() Market {
	return Market{
		Protocol:        ProtocolLending,
		ID:              "aave-v3-usdc",
		Supply:          decimal.NewFromInt(1000),
		Borrow:          decimal.NewFromInt(0),
		AccruedInterest: decimal.NewFromInt(25),
	}
}

func TestLendingValuator_IncludesAccruedInterest(t *testing.T) {
	prices := stubPrices{"USDC": decimal.NewFromInt(1), "WETH": decimal.NewFromInt(3500)}

	value, err := LendingValuator{}.Valuate(lendingPosition(), lendingMarket(), prices, time.Now())

	require.NoError(t, err)
	assert.True(t, value.Equal(decimal.NewFromInt(1025)), "got %s", value)
}

func TestLendingValuator_SubtractsBorrowLeg(t *testing.T) {
	prices := stubPrices{"USDC": decimal.NewFromInt(1), "WETH": decimal.NewFromInt(100)}
	market := lendingMarket()
	market.Borrow = decimal.NewFromInt(2)

	value, err := LendingValuator{}.Valuate(lendingPosition(), market, prices, time.Now())

	require.NoError(t, err)
	assert.True(t, value.Equal(decimal.NewFromInt(825)), "got %s", value)
}

func TestLendingValuator_FailsOnInsolvency(t *testing.T) {
	prices := stubPrices{"USDC": decimal.NewFromInt(1), "WETH": decimal.NewFromInt(3500)}
	market := lendingMarket()
	market.Borrow = decimal.NewFromInt(10)

	_, err := LendingValuator{}.Valuate(lendingPosition(), market, prices, time.Now())

	assert.ErrorIs(t, err, domain.ErrInvariant)
}

func TestLendingValuator_FailsOnIdentityMismatch(t *testing.T) {
	prices := stubPrices{"USDC": decimal.NewFromInt(1)}
	market := lendingMarket()
	market.ID = "some-other-market"

	_, err := LendingValuator{}.Valuate(lendingPosition(), market, prices, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvariant)

	market = lendingMarket()
	market.Protocol = ProtocolLiquidity
	_, err = LendingValuator{}.Valuate(lendingPosition(), market, prices, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvariant)
}

func TestLendingValuator_FailsOnMissingBorrowPrice(t *testing.T) {
	prices := stubPrices{"USDC": decimal.NewFromInt(1)} // no WETH price
	market := lendingMarket()
	market.Borrow = decimal.NewFromInt(1)

	_, err := LendingValuator{}.Valuate(lendingPosition(), market, prices, time.Now())
	assert.ErrorIs(t, err, domain.ErrFreshness)
}

func liquidityPosition() Position {
	return Position{
		AssetType: "univ3-usdc-weth",
		Protocol:  ProtocolLiquidity,
		MarketID:  "univ3-usdc-weth-005",
		AssetA:    "USDC",
		AssetB:    "WETH",
	}
}

func TestLiquidityValuator_IncludesFeesOwed(t *testing.T) {
	prices := stubPrices{"USDC": decimal.NewFromInt(1), "WETH": decimal.NewFromInt(2000)}
	market := Market{
		Protocol: ProtocolLiquidity,
		ID:       "univ3-usdc-weth-005",
		AmountA:  decimal.NewFromInt(5000),
		AmountB:  decimal.NewFromInt(2),
		FeeOwedA: decimal.NewFromInt(10),
		FeeOwedB: decimal.RequireFromString("0.005"),
	}

	value, err := LiquidityValuator{}.Valuate(liquidityPosition(), market, prices, time.Now())

	require.NoError(t, err)
	// (5000+10)*1 + (2+0.005)*2000 = 5010 + 4010
	assert.True(t, value.Equal(decimal.NewFromInt(9020)), "got %s", value)
}

func TestLiquidityValuator_FailsOnMissingLegPrice(t *testing.T) {
	prices := stubPrices{"USDC": decimal.NewFromInt(1)}
	market := Market{
		Protocol: ProtocolLiquidity,
		ID:       "univ3-usdc-weth-005",
		AmountA:  decimal.NewFromInt(5000),
		AmountB:  decimal.NewFromInt(2),
	}

	_, err := LiquidityValuator{}.Valuate(liquidityPosition(), market, prices, time.Now())
	assert.ErrorIs(t, err, domain.ErrFreshness)
}

func TestPrincipalValuator(t *testing.T) {
	prices := stubPrices{"USDC": decimal.NewFromInt(1)}

	value, err := PrincipalValuator{Asset: "USDC"}.Valuate(decimal.NewFromInt(10000), prices, time.Now())
	require.NoError(t, err)
	assert.True(t, value.Equal(decimal.NewFromInt(10000)))

	// Price availability is checked even for a zero balance.
	_, err = PrincipalValuator{Asset: "DAI"}.Valuate(decimal.Zero, prices, time.Now())
	assert.ErrorIs(t, err, domain.ErrFreshness)

	_, err = PrincipalValuator{Asset: "USDC"}.Valuate(decimal.NewFromInt(-1), prices, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvariant)
}

func TestForProtocol(t *testing.T) {
	v, err := ForProtocol(ProtocolLending)
	require.NoError(t, err)
	assert.IsType(t, LendingValuator{}, v)

	v, err = ForProtocol(ProtocolLiquidity)
	require.NoError(t, err)
	assert.IsType(t, LiquidityValuator{}, v)

	_, err = ForProtocol("staking")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	prices := stubPrices{"USDC": decimal.NewFromInt(1), "WETH": decimal.NewFromInt(3500)}
	now := time.Now()

	require.NoError(t, registry.RegisterAsset(lendingPosition(), LendingValuator{}))

	// Double registration is rejected.
	assert.ErrorIs(t, registry.RegisterAsset(lendingPosition(), LendingValuator{}), domain.ErrValidation)

	// No snapshot yet: the position cannot be valued.
	_, err := registry.Value("aave-usdc", prices, now)
	assert.ErrorIs(t, err, domain.ErrFreshness)

	// A snapshot for the wrong market is rejected at the door.
	bad := lendingMarket()
	bad.ID = "some-other-market"
	assert.ErrorIs(t, registry.UpdateMarket("aave-usdc", bad), domain.ErrInvariant)

	require.NoError(t, registry.UpdateMarket("aave-usdc", lendingMarket()))
	value, err := registry.Value("aave-usdc", prices, now)
	require.NoError(t, err)
	assert.True(t, value.Equal(decimal.NewFromInt(1025)))

	assert.ErrorIs(t, registry.UpdateMarket("unknown", lendingMarket()), domain.ErrValidation)
	_, err = registry.Value("unknown", prices, now)
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Equal(t, []string{"aave-usdc"}, registry.AssetTypes())
}
