package pricing

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
	"github.com/vaultflow/vaultflow-backend/internal/fixedpoint"
)

// Feed is an in-memory price source fed by the operator surface. The feed's
// own consensus/attestation is external; this side only validates shape and
// enforces the freshness window on reads.
type Feed struct {
	mu             sync.RWMutex
	updateInterval time.Duration
	quotes         map[string]Quote
}

// NewFeed creates a feed whose quotes go stale after updateInterval.
func NewFeed(updateInterval time.Duration) *Feed {
	return &Feed{
		updateInterval: updateInterval,
		quotes:         make(map[string]Quote),
	}
}

// SetQuote records a raw observation for an asset. Zero and negative prices
// are rejected outright so a malformed update can never become a divisor.
func (f *Feed) SetQuote(assetType string, value decimal.Decimal, decimals int32, updatedAt time.Time) error {
	if assetType == "" {
		return fmt.Errorf("asset type cannot be empty: %w", domain.ErrValidation)
	}
	if value.Sign() <= 0 {
		return fmt.Errorf("price for %q must be positive, got %s: %w", assetType, value, domain.ErrValidation)
	}
	if decimals < 0 || decimals > fixedpoint.OracleDecimals {
		return fmt.Errorf("price decimals must be between 0 and %d, got %d: %w", fixedpoint.OracleDecimals, decimals, domain.ErrValidation)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[assetType] = Quote{Value: value, Decimals: decimals, UpdatedAt: updatedAt}
	return nil
}

// Quote returns the raw observation for an asset.
func (f *Feed) Quote(assetType string) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[assetType]
	if !ok {
		return Quote{}, fmt.Errorf("no price quoted for %q: %w", assetType, domain.ErrFreshness)
	}
	return q, nil
}

// NormalizedPrice returns the asset's price at ledger precision, treating a
// quote at or past the update interval as unavailable.
func (f *Feed) NormalizedPrice(assetType string, now time.Time) (decimal.Decimal, error) {
	f.mu.RLock()
	q, ok := f.quotes[assetType]
	interval := f.updateInterval
	f.mu.RUnlock()

	if !ok {
		return decimal.Zero, fmt.Errorf("no price quoted for %q: %w", assetType, domain.ErrFreshness)
	}
	if now.Sub(q.UpdatedAt) >= interval {
		return decimal.Zero, fmt.Errorf("price for %q quoted at %s is stale at %s: %w",
			assetType, q.UpdatedAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), domain.ErrFreshness)
	}
	price := fixedpoint.NormalizePrice(q.Value, q.Decimals)
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("normalized price for %q is zero: %w", assetType, domain.ErrInvariant)
	}
	return price, nil
}

var _ Source = (*Feed)(nil)
