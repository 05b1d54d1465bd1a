package valuation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
	"github.com/vaultflow/vaultflow-backend/internal/fixedpoint"
	"github.com/vaultflow/vaultflow-backend/internal/pricing"
)

// LendingValuator values a leveraged lending-market position: supplied
// collateral plus accrued-but-unclaimed interest, minus borrowed liability.
// An insolvent position (liabilities exceeding assets) fails the valuation;
// returning zero would silently erase a real loss from the total and
// inflate the share ratio for everyone.
type LendingValuator struct{}

// Valuate implements Valuator.
func (LendingValuator) Valuate(pos Position, market Market, prices pricing.Source, now time.Time) (decimal.Decimal, error) {
	if err := checkIdentity(pos, market); err != nil {
		return decimal.Zero, err
	}
	if pos.SupplyAsset == "" {
		return decimal.Zero, fmt.Errorf("lending position %q has no supply asset: %w", pos.AssetType, domain.ErrValidation)
	}
	if market.Supply.Sign() < 0 || market.Borrow.Sign() < 0 || market.AccruedInterest.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("lending snapshot for %q has negative legs: %w", pos.AssetType, domain.ErrValidation)
	}

	supplyPrice, err := prices.NormalizedPrice(pos.SupplyAsset, now)
	if err != nil {
		return decimal.Zero, err
	}
	assets, err := fixedpoint.MulPrice(market.Supply.Add(market.AccruedInterest), supplyPrice)
	if err != nil {
		return decimal.Zero, err
	}

	liabilities := decimal.Zero
	if market.Borrow.Sign() > 0 {
		if pos.BorrowAsset == "" {
			return decimal.Zero, fmt.Errorf("lending position %q borrows without a borrow asset: %w", pos.AssetType, domain.ErrValidation)
		}
		borrowPrice, err := prices.NormalizedPrice(pos.BorrowAsset, now)
		if err != nil {
			return decimal.Zero, err
		}
		liabilities, err = fixedpoint.MulPrice(market.Borrow, borrowPrice)
		if err != nil {
			return decimal.Zero, err
		}
	}

	if liabilities.GreaterThan(assets) {
		return decimal.Zero, fmt.Errorf("position %q is insolvent: liabilities %s exceed assets %s: %w",
			pos.AssetType, liabilities, assets, domain.ErrInvariant)
	}
	return assets.Sub(liabilities), nil
}
