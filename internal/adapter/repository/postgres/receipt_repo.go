package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
)

type receiptRepository struct {
	db *DB
}

// NewReceiptRepository creates a new receipt repository.
func NewReceiptRepository(db *DB) domain.ReceiptRepository {
	return &receiptRepository{db: db}
}

const receiptColumns = `id, owner, shares, pending_shares, last_deposit_at, status, pending_deposit_id, pending_withdraw_id`

func scanReceipt(row *sql.Row) (*domain.Receipt, error) {
	var (
		receipt           domain.Receipt
		lastDepositAt     sql.NullTime
		pendingDepositID  uuid.NullUUID
		pendingWithdrawID uuid.NullUUID
	)
	err := row.Scan(
		&receipt.ID, &receipt.Owner, &receipt.Shares, &receipt.PendingShares,
		&lastDepositAt, &receipt.Status, &pendingDepositID, &pendingWithdrawID,
	)
	if err != nil {
		return nil, err
	}
	if lastDepositAt.Valid {
		receipt.LastDepositAt = lastDepositAt.Time
	}
	if pendingDepositID.Valid {
		id := pendingDepositID.UUID
		receipt.PendingDepositID = &id
	}
	if pendingWithdrawID.Valid {
		id := pendingWithdrawID.UUID
		receipt.PendingWithdrawID = &id
	}
	return &receipt, nil
}

func (r *receiptRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE id = $1`
	receipt, err := scanReceipt(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt %s: %w", id, err)
	}
	return receipt, nil
}

func (r *receiptRepository) GetByOwner(ctx context.Context, owner string) (*domain.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE owner = $1`
	receipt, err := scanReceipt(r.db.QueryRowContext(ctx, query, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no receipt for owner %q: %w", owner, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt for owner %q: %w", owner, err)
	}
	return receipt, nil
}

func (r *receiptRepository) Create(ctx context.Context, receipt *domain.Receipt) error {
	query := `
		INSERT INTO receipts (id, owner, shares, pending_shares, last_deposit_at, status, pending_deposit_id, pending_withdraw_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query, receiptArgs(receipt)...)
	if err != nil {
		return fmt.Errorf("failed to create receipt %s: %w", receipt.ID, err)
	}
	return nil
}

func (r *receiptRepository) Save(ctx context.Context, receipt *domain.Receipt) error {
	query := `
		UPDATE receipts
		SET owner = $2, shares = $3, pending_shares = $4, last_deposit_at = $5,
		    status = $6, pending_deposit_id = $7, pending_withdraw_id = $8
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, receiptArgs(receipt)...)
	if err != nil {
		return fmt.Errorf("failed to save receipt %s: %w", receipt.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check receipt save: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("receipt %s: %w", receipt.ID, domain.ErrNotFound)
	}
	return nil
}

func receiptArgs(receipt *domain.Receipt) []any {
	var lastDepositAt sql.NullTime
	if !receipt.LastDepositAt.IsZero() {
		lastDepositAt = sql.NullTime{Time: receipt.LastDepositAt, Valid: true}
	}
	var pendingDepositID, pendingWithdrawID uuid.NullUUID
	if receipt.PendingDepositID != nil {
		pendingDepositID = uuid.NullUUID{UUID: *receipt.PendingDepositID, Valid: true}
	}
	if receipt.PendingWithdrawID != nil {
		pendingWithdrawID = uuid.NullUUID{UUID: *receipt.PendingWithdrawID, Valid: true}
	}
	return []any{
		receipt.ID, receipt.Owner, receipt.Shares, receipt.PendingShares,
		lastDepositAt, receipt.Status, pendingDepositID, pendingWithdrawID,
	}
}
