package fixedpoint

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
)

// Decimal scales used across the vault core.
//
// All stored USD values, share counts and ratios are kept at ledger
// precision. Raw oracle prices arrive at oracle precision and MUST be passed
// through NormalizePrice before they are combined with any ledger-precision
// amount - combining a raw price with a ledger amount mis-scales the result
// by up to 10^9.
const (
	LedgerDecimals int32 = 9
	OracleDecimals int32 = 18
)

var bpsDenominator = decimal.NewFromInt(10000)

// MulPrice multiplies an amount by a normalized price and floors the result
// to ledger precision. Flooring keeps rounding in the vault's favor.
// A zero or negative price is an invariant violation, not a fallback.
func MulPrice(amount, price decimal.Decimal) (decimal.Decimal, error) {
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("price must be positive, got %s: %w", price, domain.ErrInvariant)
	}
	return amount.Mul(price).RoundFloor(LedgerDecimals), nil
}

// DivPrice divides an amount by a normalized price (or a share ratio) and
// floors the result to ledger precision. The non-zero divisor check is a
// contract: callers must be prepared for the operation to fail and must
// never proceed on a default.
func DivPrice(amount, price decimal.Decimal) (decimal.Decimal, error) {
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("divisor must be positive, got %s: %w", price, domain.ErrInvariant)
	}
	return amount.Div(price).RoundFloor(LedgerDecimals), nil
}

// NormalizePrice rescales a raw fixed-point price quoted with fromDecimals
// fractional digits to ledger precision: multiplicative when fromDecimals is
// below the ledger scale, divisive when above. Any sub-ledger residue is
// floored away.
func NormalizePrice(raw decimal.Decimal, fromDecimals int32) decimal.Decimal {
	return raw.Shift(-fromDecimals).RoundFloor(LedgerDecimals)
}

// CeilFee computes the fee for an amount at a basis-point rate, rounded UP
// to a whole ledger unit. Flooring here would systematically under-collect
// by up to one unit per transaction.
func CeilFee(amount decimal.Decimal, rateBps int64) decimal.Decimal {
	if rateBps <= 0 {
		return decimal.Zero
	}
	return amount.Mul(decimal.NewFromInt(rateBps)).Div(bpsDenominator).RoundCeil(0)
}
