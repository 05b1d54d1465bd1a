package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReceiptStatus tracks whether a receipt has an outstanding request.
type ReceiptStatus string

const (
	ReceiptStatusNormal          ReceiptStatus = "NORMAL"
	ReceiptStatusPendingDeposit  ReceiptStatus = "PENDING_DEPOSIT"
	ReceiptStatusPendingWithdraw ReceiptStatus = "PENDING_WITHDRAW"
)

// Receipt is a depositor's share-balance record. Receipts are owned by
// depositors and outlive individual requests; at most one deposit and one
// withdrawal may be pending against a receipt at a time so locked principal
// and shares are never double-counted.
type Receipt struct {
	ID            uuid.UUID
	Owner         string
	Shares        decimal.Decimal // active shares, ledger precision
	PendingShares decimal.Decimal // shares locked by a pending withdrawal
	LastDepositAt time.Time
	Status        ReceiptStatus

	PendingDepositID  *uuid.UUID
	PendingWithdrawID *uuid.UUID
}

// NewReceipt creates an empty receipt for an owner.
func NewReceipt(owner string) *Receipt {
	return &Receipt{
		ID:            uuid.New(),
		Owner:         owner,
		Shares:        decimal.Zero,
		PendingShares: decimal.Zero,
		Status:        ReceiptStatusNormal,
	}
}

// AttachDeposit links a pending deposit request to the receipt.
func (r *Receipt) AttachDeposit(requestID uuid.UUID) error {
	if r.Status != ReceiptStatusNormal {
		return fmt.Errorf("receipt %s already has a pending request (%s): %w", r.ID, r.Status, ErrState)
	}
	id := requestID
	r.PendingDepositID = &id
	r.Status = ReceiptStatusPendingDeposit
	return nil
}

// SettleDeposit mints executed shares into the receipt and clears the
// pending deposit linkage. The deposit timestamp restarts the withdraw lock.
func (r *Receipt) SettleDeposit(shares decimal.Decimal, now time.Time) error {
	if r.Status != ReceiptStatusPendingDeposit || r.PendingDepositID == nil {
		return fmt.Errorf("receipt %s has no pending deposit: %w", r.ID, ErrState)
	}
	if shares.Sign() <= 0 {
		return fmt.Errorf("settled shares must be positive: %w", ErrInvariant)
	}
	r.Shares = r.Shares.Add(shares)
	r.LastDepositAt = now
	r.PendingDepositID = nil
	r.Status = ReceiptStatusNormal
	return nil
}

// ReleaseDeposit clears the pending deposit linkage on cancellation.
func (r *Receipt) ReleaseDeposit() error {
	if r.Status != ReceiptStatusPendingDeposit || r.PendingDepositID == nil {
		return fmt.Errorf("receipt %s has no pending deposit: %w", r.ID, ErrState)
	}
	r.PendingDepositID = nil
	r.Status = ReceiptStatusNormal
	return nil
}

// LockShares moves shares from active to pending for a withdrawal request.
// The receipt's withdraw lock must have elapsed since the last deposit.
func (r *Receipt) LockShares(requestID uuid.UUID, shares decimal.Decimal, now time.Time, withdrawLock time.Duration) error {
	if r.Status != ReceiptStatusNormal {
		return fmt.Errorf("receipt %s already has a pending request (%s): %w", r.ID, r.Status, ErrState)
	}
	if shares.Sign() <= 0 {
		return fmt.Errorf("withdrawal shares must be positive: %w", ErrValidation)
	}
	if shares.GreaterThan(r.Shares) {
		return fmt.Errorf("withdrawal of %s exceeds %s active shares: %w", shares, r.Shares, ErrValidation)
	}
	if now.Sub(r.LastDepositAt) < withdrawLock {
		return fmt.Errorf("withdraw lock of %s since last deposit has not elapsed: %w", withdrawLock, ErrState)
	}
	id := requestID
	r.Shares = r.Shares.Sub(shares)
	r.PendingShares = r.PendingShares.Add(shares)
	r.PendingWithdrawID = &id
	r.Status = ReceiptStatusPendingWithdraw
	return nil
}

// BurnPendingShares destroys the locked shares once a withdrawal executes.
func (r *Receipt) BurnPendingShares(shares decimal.Decimal) error {
	if r.Status != ReceiptStatusPendingWithdraw || r.PendingWithdrawID == nil {
		return fmt.Errorf("receipt %s has no pending withdrawal: %w", r.ID, ErrState)
	}
	if !shares.Equal(r.PendingShares) {
		return fmt.Errorf("burn of %s does not match %s pending shares: %w", shares, r.PendingShares, ErrInvariant)
	}
	r.PendingShares = decimal.Zero
	r.PendingWithdrawID = nil
	r.Status = ReceiptStatusNormal
	return nil
}

// RestorePendingShares moves locked shares back to active on cancellation.
// A pure bookkeeping reversal: no value moves.
func (r *Receipt) RestorePendingShares() error {
	if r.Status != ReceiptStatusPendingWithdraw || r.PendingWithdrawID == nil {
		return fmt.Errorf("receipt %s has no pending withdrawal: %w", r.ID, ErrState)
	}
	r.Shares = r.Shares.Add(r.PendingShares)
	r.PendingShares = decimal.Zero
	r.PendingWithdrawID = nil
	r.Status = ReceiptStatusNormal
	return nil
}
