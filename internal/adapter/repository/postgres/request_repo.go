package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
)

type depositRequestRepository struct {
	db *DB
}

// NewDepositRequestRepository creates a new deposit request repository.
func NewDepositRequestRepository(db *DB) domain.DepositRequestRepository {
	return &depositRequestRepository{db: db}
}

func (r *depositRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DepositRequest, error) {
	query := `
		SELECT id, receipt_id, amount, min_shares_out, recipient, submitted_at, status
		FROM deposit_requests
		WHERE id = $1
	`
	var request domain.DepositRequest
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&request.ID, &request.ReceiptID, &request.Amount, &request.MinSharesOut,
		&request.Recipient, &request.SubmittedAt, &request.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deposit request %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load deposit request %s: %w", id, err)
	}
	return &request, nil
}

func (r *depositRequestRepository) Create(ctx context.Context, request *domain.DepositRequest) error {
	query := `
		INSERT INTO deposit_requests (id, receipt_id, amount, min_shares_out, recipient, submitted_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		request.ID, request.ReceiptID, request.Amount, request.MinSharesOut,
		request.Recipient, request.SubmittedAt, request.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create deposit request %s: %w", request.ID, err)
	}
	return nil
}

func (r *depositRequestRepository) Save(ctx context.Context, request *domain.DepositRequest) error {
	query := `UPDATE deposit_requests SET status = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, request.ID, request.Status)
	if err != nil {
		return fmt.Errorf("failed to save deposit request %s: %w", request.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deposit request save: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("deposit request %s: %w", request.ID, domain.ErrNotFound)
	}
	return nil
}

type withdrawRequestRepository struct {
	db *DB
}

// NewWithdrawRequestRepository creates a new withdraw request repository.
func NewWithdrawRequestRepository(db *DB) domain.WithdrawRequestRepository {
	return &withdrawRequestRepository{db: db}
}

func (r *withdrawRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawRequest, error) {
	query := `
		SELECT id, receipt_id, shares, min_amount_out, recipient, submitted_at, status
		FROM withdraw_requests
		WHERE id = $1
	`
	var request domain.WithdrawRequest
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&request.ID, &request.ReceiptID, &request.Shares, &request.MinAmountOut,
		&request.Recipient, &request.SubmittedAt, &request.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("withdraw request %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load withdraw request %s: %w", id, err)
	}
	return &request, nil
}

func (r *withdrawRequestRepository) Create(ctx context.Context, request *domain.WithdrawRequest) error {
	query := `
		INSERT INTO withdraw_requests (id, receipt_id, shares, min_amount_out, recipient, submitted_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		request.ID, request.ReceiptID, request.Shares, request.MinAmountOut,
		request.Recipient, request.SubmittedAt, request.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdraw request %s: %w", request.ID, err)
	}
	return nil
}

func (r *withdrawRequestRepository) Save(ctx context.Context, request *domain.WithdrawRequest) error {
	query := `UPDATE withdraw_requests SET status = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, request.ID, request.Status)
	if err != nil {
		return fmt.Errorf("failed to save withdraw request %s: %w", request.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check withdraw request save: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("withdraw request %s: %w", request.ID, domain.ErrNotFound)
	}
	return nil
}
