package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequestStatus is the lifecycle state of a queued intent.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusExecuted  RequestStatus = "EXECUTED"
	RequestStatusCancelled RequestStatus = "CANCELLED"
)

// DepositRequest is a queued intent to exchange escrowed principal for
// shares at the ratio in force when the operator executes it. MinSharesOut
// is the depositor's slippage bound.
type DepositRequest struct {
	ID           uuid.UUID
	ReceiptID    uuid.UUID
	Amount       decimal.Decimal // escrowed principal units
	MinSharesOut decimal.Decimal
	Recipient    string
	SubmittedAt  time.Time
	Status       RequestStatus
}

// WithdrawRequest is a queued intent to redeem locked shares for principal.
// MinAmountOut is the withdrawer's slippage bound.
type WithdrawRequest struct {
	ID           uuid.UUID
	ReceiptID    uuid.UUID
	Shares       decimal.Decimal
	MinAmountOut decimal.Decimal
	Recipient    string
	SubmittedAt  time.Time
	Status       RequestStatus
}

// cancellable reports whether a pending request may be cancelled: the vault
// must not be mid-operation (Normal and Disabled are both permitted, since
// cancellation releases funds rather than moving them) and the cancellation
// lock must have elapsed since submission.
func cancellable(status RequestStatus, submittedAt time.Time, vaultStatus VaultStatus, now time.Time, cancelLock time.Duration) error {
	if status != RequestStatusPending {
		return fmt.Errorf("request is %s, only pending requests can be cancelled: %w", status, ErrState)
	}
	if vaultStatus == StatusDuringOperation {
		return fmt.Errorf("requests cannot be cancelled during an operation: %w", ErrState)
	}
	if now.Sub(submittedAt) < cancelLock {
		return fmt.Errorf("cancellation lock of %s since submission has not elapsed: %w", cancelLock, ErrState)
	}
	return nil
}

// Cancellable reports whether the deposit request may be cancelled now.
func (r *DepositRequest) Cancellable(vaultStatus VaultStatus, now time.Time, cancelLock time.Duration) error {
	return cancellable(r.Status, r.SubmittedAt, vaultStatus, now, cancelLock)
}

// Cancellable reports whether the withdraw request may be cancelled now.
// Deliberately the same rule as deposits for symmetry.
func (r *WithdrawRequest) Cancellable(vaultStatus VaultStatus, now time.Time, cancelLock time.Duration) error {
	return cancellable(r.Status, r.SubmittedAt, vaultStatus, now, cancelLock)
}
