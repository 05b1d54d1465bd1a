package valuation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
	"github.com/vaultflow/vaultflow-backend/internal/fixedpoint"
	"github.com/vaultflow/vaultflow-backend/internal/pricing"
)

// LiquidityValuator values a two-sided concentrated-liquidity position.
// Accrued-but-unclaimed swap fees are part of the position's value; omitting
// them systematically undervalues the vault and dilutes existing holders.
type LiquidityValuator struct{}

// Valuate implements Valuator.
func (LiquidityValuator) Valuate(pos Position, market Market, prices pricing.Source, now time.Time) (decimal.Decimal, error) {
	if err := checkIdentity(pos, market); err != nil {
		return decimal.Zero, err
	}
	if pos.AssetA == "" || pos.AssetB == "" {
		return decimal.Zero, fmt.Errorf("liquidity position %q is missing an instrument leg: %w", pos.AssetType, domain.ErrValidation)
	}
	if market.AmountA.Sign() < 0 || market.AmountB.Sign() < 0 || market.FeeOwedA.Sign() < 0 || market.FeeOwedB.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("liquidity snapshot for %q has negative legs: %w", pos.AssetType, domain.ErrValidation)
	}

	priceA, err := prices.NormalizedPrice(pos.AssetA, now)
	if err != nil {
		return decimal.Zero, err
	}
	priceB, err := prices.NormalizedPrice(pos.AssetB, now)
	if err != nil {
		return decimal.Zero, err
	}

	valueA, err := fixedpoint.MulPrice(market.AmountA.Add(market.FeeOwedA), priceA)
	if err != nil {
		return decimal.Zero, err
	}
	valueB, err := fixedpoint.MulPrice(market.AmountB.Add(market.FeeOwedB), priceB)
	if err != nil {
		return decimal.Zero, err
	}
	return valueA.Add(valueB), nil
}

// PrincipalValuator values the vault's undeployed principal sleeve: the free
// balance held by the vault priced at the principal instrument's normalized
// price. The balance is supplied by the ledger, not by a market snapshot.
type PrincipalValuator struct {
	Asset string
}

// Valuate prices a principal balance.
func (p PrincipalValuator) Valuate(balance decimal.Decimal, prices pricing.Source, now time.Time) (decimal.Decimal, error) {
	if balance.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("principal balance cannot be negative: %w", domain.ErrInvariant)
	}
	price, err := prices.NormalizedPrice(p.Asset, now)
	if err != nil {
		return decimal.Zero, err
	}
	return fixedpoint.MulPrice(balance, price)
}
