// Package valuation defines the pluggable contract each external-position
// family implements to report its USD value into the ledger. The core owns
// only the aggregation of these values; protocol-specific math stays behind
// the Valuator interface.
package valuation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
	"github.com/vaultflow/vaultflow-backend/internal/pricing"
)

// Position identifies an external position owned by the vault: the protocol
// family it lives in, the market it belongs to, and the instruments on each
// leg. The numeric state of the position arrives per-revaluation in a
// Market snapshot.
type Position struct {
	AssetType string
	Protocol  string
	MarketID  string

	// Lending legs.
	SupplyAsset string
	BorrowAsset string

	// Concentrated-liquidity legs.
	AssetA string
	AssetB string
}

// Market is an operator-supplied snapshot of the external market object
// backing a position. Its identity fields must match the position being
// valued; a valid market of some other type or id is not acceptable.
type Market struct {
	Protocol string
	ID       string

	// Lending snapshot.
	Supply          decimal.Decimal
	Borrow          decimal.Decimal
	AccruedInterest decimal.Decimal

	// Concentrated-liquidity snapshot.
	AmountA  decimal.Decimal
	AmountB  decimal.Decimal
	FeeOwedA decimal.Decimal
	FeeOwedB decimal.Decimal
}

// checkIdentity verifies that the supplied market object corresponds to the
// position being valued, matching both the protocol family and the market
// identifier.
func checkIdentity(pos Position, market Market) error {
	if market.Protocol != pos.Protocol || market.ID != pos.MarketID {
		return fmt.Errorf("market %s/%s does not match position %q market %s/%s: %w",
			market.Protocol, market.ID, pos.AssetType, pos.Protocol, pos.MarketID, domain.ErrInvariant)
	}
	return nil
}

// Valuator values one external-position family. Conforming implementations
// must include every component of value the position owns (principal and
// accrued-but-unclaimed yield), must fail on insolvency rather than clamp,
// and must fail if any sub-component price is unavailable.
type Valuator interface {
	Valuate(pos Position, market Market, prices pricing.Source, now time.Time) (decimal.Decimal, error)
}

type entry struct {
	position Position
	valuator Valuator
	market   *Market // latest operator-submitted snapshot, nil until first submission
}

// Registry aggregates the registered positions and their valuators; it is
// the single point the ledger reads external values through.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// RegisterAsset binds an asset type to its position and valuator.
func (r *Registry) RegisterAsset(pos Position, v Valuator) error {
	if pos.AssetType == "" {
		return fmt.Errorf("position asset type cannot be empty: %w", domain.ErrValidation)
	}
	if v == nil {
		return fmt.Errorf("valuator cannot be nil: %w", domain.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[pos.AssetType]; ok {
		return fmt.Errorf("asset type %q is already registered: %w", pos.AssetType, domain.ErrValidation)
	}
	r.entries[pos.AssetType] = &entry{position: pos, valuator: v}
	return nil
}

// UpdateMarket stores the latest market snapshot for an asset type. The
// identity check runs here as well as at valuation time so a mismatched
// snapshot is rejected at the door.
func (r *Registry) UpdateMarket(assetType string, market Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[assetType]
	if !ok {
		return fmt.Errorf("asset type %q is not registered: %w", assetType, domain.ErrValidation)
	}
	if err := checkIdentity(e.position, market); err != nil {
		return err
	}
	m := market
	e.market = &m
	return nil
}

// Value computes the current USD value of an asset type from its latest
// market snapshot and fresh prices. A position with no snapshot yet cannot
// be valued.
func (r *Registry) Value(assetType string, prices pricing.Source, now time.Time) (decimal.Decimal, error) {
	r.mu.RLock()
	e, ok := r.entries[assetType]
	r.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("asset type %q is not registered: %w", assetType, domain.ErrValidation)
	}

	r.mu.RLock()
	market := e.market
	r.mu.RUnlock()
	if market == nil {
		return decimal.Zero, fmt.Errorf("no market snapshot submitted for %q: %w", assetType, domain.ErrFreshness)
	}
	return e.valuator.Valuate(e.position, *market, prices, now)
}

// AssetTypes returns the registered asset types in stable order.
func (r *Registry) AssetTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
