package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SchemaVersion is the on-disk schema generation this binary understands.
// Repositories reject persisted state carrying a newer version so a stale
// binary can never execute against state it does not understand.
const SchemaVersion = 1

// VaultStatus governs which operations are permitted against the vault.
type VaultStatus string

const (
	// StatusNormal is the only status under which deposits, withdrawals and
	// fee retrieval may be requested or executed.
	StatusNormal VaultStatus = "NORMAL"
	// StatusDuringOperation excludes every user-facing path while an
	// operator holds custody of external positions.
	StatusDuringOperation VaultStatus = "DURING_OPERATION"
	// StatusDisabled is an administrative pause. Cancellations remain
	// permitted because they release escrowed funds rather than move them.
	StatusDisabled VaultStatus = "DISABLED"
)

// AssetValue is the cached USD valuation of one tracked asset type.
// A zero UpdatedAt means the asset has never been valued.
type AssetValue struct {
	Value     decimal.Decimal
	UpdatedAt time.Time
}

// Vault is the root aggregate: the per-vault ledger of tracked asset values,
// outstanding shares, fee accumulators and loss-governor state.
type Vault struct {
	ID            uuid.UUID
	SchemaVersion int
	Status        VaultStatus

	TotalShares   decimal.Decimal // ledger precision
	FreePrincipal decimal.Decimal // undeployed principal units held by the vault
	FeeCollected  decimal.Decimal // principal-denominated fees awaiting retrieval

	AssetValues map[string]AssetValue

	DepositFeeBps  int64
	WithdrawFeeBps int64

	WithdrawLock time.Duration // since a receipt's last deposit
	CancelLock   time.Duration // since a request's submission

	Epoch            uint64
	EpochLoss        decimal.Decimal
	EpochLossBase    decimal.Decimal
	LossToleranceBps int64

	// Operation is non-nil exactly while Status == StatusDuringOperation.
	Operation *OperationRecord
}

// NewVault creates a vault in Normal status with no tracked assets.
func NewVault(id uuid.UUID, depositFeeBps, withdrawFeeBps, lossToleranceBps int64, withdrawLock, cancelLock time.Duration) *Vault {
	return &Vault{
		ID:               id,
		SchemaVersion:    SchemaVersion,
		Status:           StatusNormal,
		TotalShares:      decimal.Zero,
		FreePrincipal:    decimal.Zero,
		FeeCollected:     decimal.Zero,
		AssetValues:      make(map[string]AssetValue),
		DepositFeeBps:    depositFeeBps,
		WithdrawFeeBps:   withdrawFeeBps,
		WithdrawLock:     withdrawLock,
		CancelLock:       cancelLock,
		EpochLoss:        decimal.Zero,
		EpochLossBase:    decimal.Zero,
		LossToleranceBps: lossToleranceBps,
	}
}

// RegisterAssetType starts tracking an asset type. Idempotent: registering a
// type that is already tracked keeps its cached value and timestamp.
func (v *Vault) RegisterAssetType(assetType string) error {
	if assetType == "" {
		return fmt.Errorf("asset type cannot be empty: %w", ErrValidation)
	}
	if _, ok := v.AssetValues[assetType]; ok {
		return nil
	}
	v.AssetValues[assetType] = AssetValue{Value: decimal.Zero}
	return nil
}

// RecordAssetValue overwrites the cached valuation of a tracked asset type.
// Only the valuation paths (operation revaluation and the settlement
// refresh) may call this.
func (v *Vault) RecordAssetValue(assetType string, value decimal.Decimal, now time.Time) error {
	if _, ok := v.AssetValues[assetType]; !ok {
		return fmt.Errorf("asset type %q is not registered: %w", assetType, ErrValidation)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("asset %q valued negative (%s): %w", assetType, value, ErrInvariant)
	}
	v.AssetValues[assetType] = AssetValue{Value: value, UpdatedAt: now}
	return nil
}

// AssetTypes returns the tracked asset types in stable order.
func (v *Vault) AssetTypes() []string {
	types := make([]string, 0, len(v.AssetValues))
	for t := range v.AssetValues {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// TotalValue sums the cached valuations of every tracked asset type. It
// fails if any entry is older than the freshness window relative to now; a
// window of zero requires every value to come from the current logical
// transaction. Stale data is never silently summed.
func (v *Vault) TotalValue(now time.Time, window time.Duration) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, assetType := range v.AssetTypes() {
		av := v.AssetValues[assetType]
		if av.UpdatedAt.IsZero() {
			return decimal.Zero, fmt.Errorf("asset %q has never been valued: %w", assetType, ErrFreshness)
		}
		if now.Sub(av.UpdatedAt) > window {
			return decimal.Zero, fmt.Errorf("asset %q valued at %s is outside the %s freshness window: %w",
				assetType, av.UpdatedAt.Format(time.RFC3339Nano), window, ErrFreshness)
		}
		total = total.Add(av.Value)
	}
	return total, nil
}

// UncheckedTotalValue sums the cached valuations without any freshness
// check. Display purposes only: it must never feed a share ratio, a loss
// baseline or a settlement computation.
func (v *Vault) UncheckedTotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, av := range v.AssetValues {
		total = total.Add(av.Value)
	}
	return total
}

// ShareRatio is the exchange rate between shares and USD value. With zero
// shares outstanding the ratio is defined as exactly 1.0 (bootstrap state).
// Otherwise it is the strictly-fresh total divided by total shares, floored
// at ledger precision.
func (v *Vault) ShareRatio(now time.Time) (decimal.Decimal, error) {
	if v.TotalShares.IsZero() {
		return decimal.NewFromInt(1), nil
	}
	total, err := v.TotalValue(now, 0)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Div(v.TotalShares).RoundFloor(9), nil
}

// MintShares adds newly issued shares to the outstanding supply.
func (v *Vault) MintShares(shares decimal.Decimal) error {
	if shares.Sign() <= 0 {
		return fmt.Errorf("minted shares must be positive: %w", ErrInvariant)
	}
	v.TotalShares = v.TotalShares.Add(shares)
	return nil
}

// BurnShares removes shares from the outstanding supply.
func (v *Vault) BurnShares(shares decimal.Decimal) error {
	if shares.Sign() <= 0 {
		return fmt.Errorf("burned shares must be positive: %w", ErrInvariant)
	}
	if shares.GreaterThan(v.TotalShares) {
		return fmt.Errorf("burn of %s exceeds %s outstanding shares: %w", shares, v.TotalShares, ErrInvariant)
	}
	v.TotalShares = v.TotalShares.Sub(shares)
	return nil
}

// CreditPrincipal adds undeployed principal to the vault.
func (v *Vault) CreditPrincipal(amount decimal.Decimal) {
	v.FreePrincipal = v.FreePrincipal.Add(amount)
}

// DebitPrincipal removes undeployed principal from the vault.
func (v *Vault) DebitPrincipal(amount decimal.Decimal) error {
	if amount.GreaterThan(v.FreePrincipal) {
		return fmt.Errorf("payout of %s exceeds %s free principal: %w", amount, v.FreePrincipal, ErrPolicy)
	}
	v.FreePrincipal = v.FreePrincipal.Sub(amount)
	return nil
}

// AccrueFee adds a collected fee to the fee pot.
func (v *Vault) AccrueFee(fee decimal.Decimal) {
	v.FeeCollected = v.FeeCollected.Add(fee)
}

// DrainFees empties the fee pot. Permitted only while the vault is Normal.
func (v *Vault) DrainFees() (decimal.Decimal, error) {
	if v.Status != StatusNormal {
		return decimal.Zero, fmt.Errorf("fees are retrievable only in %s status, vault is %s: %w", StatusNormal, v.Status, ErrState)
	}
	fees := v.FeeCollected
	v.FeeCollected = decimal.Zero
	return fees, nil
}

// Disable pauses the vault. Rejected mid-operation: the operation must be
// completed or emergency-reset first.
func (v *Vault) Disable() error {
	if v.Status == StatusDuringOperation {
		return fmt.Errorf("cannot disable the vault during an operation: %w", ErrState)
	}
	v.Status = StatusDisabled
	return nil
}

// Enable returns a disabled vault to Normal status.
func (v *Vault) Enable() error {
	if v.Status == StatusDuringOperation {
		return fmt.Errorf("cannot enable the vault during an operation: %w", ErrState)
	}
	v.Status = StatusNormal
	return nil
}
