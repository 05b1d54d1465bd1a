package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// OperationRecord is the transient checklist of one operator session. It is
// created when the vault enters DuringOperation and destroyed when the
// operation completes or is emergency-reset. The confirmed set is not a
// lock, only a completeness checklist: completion is unreachable until every
// borrowed asset type has a confirmed revaluation.
type OperationRecord struct {
	Borrowed       map[string]bool
	Confirmed      map[string]bool
	AssetsReturned bool
	StartedAt      time.Time
	// TotalBefore is the freshness-checked total captured when the
	// operation started; completion measures loss against it.
	TotalBefore decimal.Decimal
}

// BorrowedTypes returns the borrowed asset types in stable order.
func (r *OperationRecord) BorrowedTypes() []string {
	types := make([]string, 0, len(r.Borrowed))
	for t := range r.Borrowed {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// unconfirmed returns the borrowed types still lacking a confirmed
// revaluation, in stable order.
func (r *OperationRecord) unconfirmed() []string {
	var missing []string
	for _, t := range r.BorrowedTypes() {
		if !r.Confirmed[t] {
			missing = append(missing, t)
		}
	}
	return missing
}

// BeginOperation transitions the vault from Normal to DuringOperation,
// lending custody of the given asset types to the operator. The caller must
// have refreshed every valuation in the current logical transaction: the
// pre-operation total is captured with a zero freshness window and becomes
// the baseline completion is measured against. The loss epoch is rolled if
// the logical epoch has advanced.
func (v *Vault) BeginOperation(assetTypes []string, now time.Time, epochLength time.Duration) error {
	if v.Status != StatusNormal {
		return fmt.Errorf("operations start only from %s status, vault is %s: %w", StatusNormal, v.Status, ErrState)
	}
	if len(assetTypes) == 0 {
		return fmt.Errorf("an operation must borrow at least one asset type: %w", ErrValidation)
	}
	borrowed := make(map[string]bool, len(assetTypes))
	for _, t := range assetTypes {
		if _, ok := v.AssetValues[t]; !ok {
			return fmt.Errorf("cannot borrow unregistered asset type %q: %w", t, ErrValidation)
		}
		if borrowed[t] {
			return fmt.Errorf("asset type %q borrowed twice: %w", t, ErrValidation)
		}
		borrowed[t] = true
	}

	totalBefore, err := v.TotalValue(now, 0)
	if err != nil {
		return err
	}
	if err := v.RollLossEpoch(false, now, epochLength); err != nil {
		return err
	}

	v.Operation = &OperationRecord{
		Borrowed:    borrowed,
		Confirmed:   make(map[string]bool, len(borrowed)),
		StartedAt:   now,
		TotalBefore: totalBefore,
	}
	v.Status = StatusDuringOperation
	return nil
}

// MarkAssetsReturned records that the operator has returned custody of the
// borrowed positions. Status is unchanged; the vault stays DuringOperation
// until every revaluation is confirmed and the operation completes.
func (v *Vault) MarkAssetsReturned() error {
	if v.Operation == nil {
		return fmt.Errorf("no operation in progress: %w", ErrState)
	}
	v.Operation.AssetsReturned = true
	return nil
}

// ConfirmRevaluation marks one borrowed asset type as re-valued. The caller
// records the fresh value first; a skipped or failed valuation never
// produces a confirmation.
func (v *Vault) ConfirmRevaluation(assetType string) error {
	if v.Operation == nil {
		return fmt.Errorf("no operation in progress: %w", ErrState)
	}
	if !v.Operation.Borrowed[assetType] {
		return fmt.Errorf("asset type %q was not borrowed by this operation: %w", assetType, ErrValidation)
	}
	v.Operation.Confirmed[assetType] = true
	return nil
}

// CompleteOperation ends the operator session: every borrowed asset type
// must carry a confirmed revaluation and custody must have been returned.
// If the freshness-checked total dropped below the pre-operation baseline,
// the delta is charged against the loss tolerance; a breach aborts the whole
// completion and the vault stays DuringOperation.
func (v *Vault) CompleteOperation(now time.Time, window time.Duration) error {
	if v.Status != StatusDuringOperation || v.Operation == nil {
		return fmt.Errorf("no operation in progress: %w", ErrState)
	}
	if !v.Operation.AssetsReturned {
		return fmt.Errorf("borrowed assets have not been returned: %w", ErrState)
	}
	if missing := v.Operation.unconfirmed(); len(missing) > 0 {
		return fmt.Errorf("asset types %v lack a confirmed revaluation: %w", missing, ErrState)
	}

	totalAfter, err := v.TotalValue(now, window)
	if err != nil {
		return err
	}
	if totalAfter.LessThan(v.Operation.TotalBefore) {
		if err := v.chargeLoss(v.Operation.TotalBefore.Sub(totalAfter)); err != nil {
			return err
		}
	}

	v.Operation = nil
	v.Status = StatusNormal
	return nil
}

// ForceCompleteOperation is the administrative half of the emergency hook:
// it waives the confirmed-set checklist (the caller has just replayed every
// valuation itself) but still enforces freshness and the loss tolerance.
func (v *Vault) ForceCompleteOperation(now time.Time) error {
	if v.Status != StatusDuringOperation || v.Operation == nil {
		return fmt.Errorf("no operation in progress: %w", ErrState)
	}
	totalAfter, err := v.TotalValue(now, 0)
	if err != nil {
		return err
	}
	if totalAfter.LessThan(v.Operation.TotalBefore) {
		if err := v.chargeLoss(v.Operation.TotalBefore.Sub(totalAfter)); err != nil {
			return err
		}
	}
	v.Operation = nil
	v.Status = StatusNormal
	return nil
}

// ForceDisableOperation clears a stuck operation and freezes the vault in
// Disabled status pending manual reconciliation. Last-resort branch of the
// emergency hook, reachable only by the administrative role.
func (v *Vault) ForceDisableOperation() error {
	if v.Status != StatusDuringOperation || v.Operation == nil {
		return fmt.Errorf("no operation in progress: %w", ErrState)
	}
	v.Operation = nil
	v.Status = StatusDisabled
	return nil
}

// RollLossEpoch advances the loss-tolerance epoch. The epoch rolls when the
// logical epoch index for now has moved past the current epoch, or
// unconditionally when requested by the administrative role. The new loss
// baseline is always the freshness-checked total computed at call time -
// never a cached or unchecked value.
func (v *Vault) RollLossEpoch(byAdmin bool, now time.Time, epochLength time.Duration) error {
	if epochLength <= 0 {
		return fmt.Errorf("epoch length must be positive: %w", ErrValidation)
	}
	epoch := uint64(now.UnixMilli() / epochLength.Milliseconds())
	if !byAdmin && epoch <= v.Epoch {
		return nil
	}

	base, err := v.TotalValue(now, 0)
	if err != nil {
		return err
	}
	v.Epoch = epoch
	v.EpochLoss = decimal.Zero
	v.EpochLossBase = base
	return nil
}

// chargeLoss accumulates a realized loss against the current epoch and
// fails when the cumulative loss exceeds the tolerated fraction of the
// epoch baseline.
func (v *Vault) chargeLoss(delta decimal.Decimal) error {
	if delta.Sign() < 0 {
		return fmt.Errorf("loss delta cannot be negative: %w", ErrInvariant)
	}
	charged := v.EpochLoss.Add(delta)
	limit := v.EpochLossBase.Mul(decimal.NewFromInt(v.LossToleranceBps)).Div(decimal.NewFromInt(10000))
	if charged.GreaterThan(limit) {
		return fmt.Errorf("epoch loss %s exceeds tolerance %s (%d bps of %s): %w",
			charged, limit, v.LossToleranceBps, v.EpochLossBase, ErrPolicy)
	}
	v.EpochLoss = charged
	return nil
}
