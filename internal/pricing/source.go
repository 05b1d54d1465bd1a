// Package pricing normalizes external price feeds of arbitrary decimal
// precision to the vault's ledger precision and enforces the freshness
// contract: a price older than the update interval is unavailable, never
// "the last good value".
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a raw price observation as delivered by the external feed:
// an integer-scaled value with its own decimal precision.
type Quote struct {
	Value     decimal.Decimal // raw fixed-point value, scaled by 10^Decimals
	Decimals  int32
	UpdatedAt time.Time
}

// Source is the price adapter contract the vault core consumes. The core
// never retries on its own; a stale or zero price is a hard failure that
// propagates to the caller of the valuation step in progress.
type Source interface {
	// Quote returns the raw observation for an asset.
	Quote(assetType string) (Quote, error)

	// NormalizedPrice returns the asset's price at ledger precision. It
	// fails with domain.ErrFreshness when no quote exists or the quote's
	// age has reached the feed's update interval at time now.
	NormalizedPrice(assetType string, now time.Time) (decimal.Decimal, error)
}
