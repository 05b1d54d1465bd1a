package domain

import (
	"context"

	"github.com/google/uuid"
)

// VaultRepository persists the vault aggregate. Each service instance hosts
// exactly one vault, so lookups are unkeyed.
type VaultRepository interface {
	// Get retrieves the vault. Returns ErrNotFound before bootstrap.
	Get(ctx context.Context) (*Vault, error)

	// Save persists the whole aggregate (ledger entries and any operation
	// record included) atomically.
	Save(ctx context.Context, vault *Vault) error
}

// ReceiptRepository persists depositor receipts.
type ReceiptRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Receipt, error)

	// GetByOwner retrieves the receipt owned by an account.
	// Returns ErrNotFound if the account has never deposited.
	GetByOwner(ctx context.Context, owner string) (*Receipt, error)

	Create(ctx context.Context, receipt *Receipt) error
	Save(ctx context.Context, receipt *Receipt) error
}

// DepositRequestRepository persists queued deposit intents.
type DepositRequestRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*DepositRequest, error)
	Create(ctx context.Context, request *DepositRequest) error
	Save(ctx context.Context, request *DepositRequest) error
}

// WithdrawRequestRepository persists queued withdrawal intents.
type WithdrawRequestRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*WithdrawRequest, error)
	Create(ctx context.Context, request *WithdrawRequest) error
	Save(ctx context.Context, request *WithdrawRequest) error
}

// AuditRepository is an append-only log of privileged actions.
type AuditRepository interface {
	Append(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, limit int) ([]AuditEvent, error)
}
