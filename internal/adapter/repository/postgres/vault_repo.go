package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
)

// vaultRepository implements domain.VaultRepository. Each deployment hosts
// exactly one vault row.
type vaultRepository struct {
	db *DB
}

// NewVaultRepository creates a new vault repository.
func NewVaultRepository(db *DB) domain.VaultRepository {
	return &vaultRepository{db: db}
}

// Get loads the vault aggregate: the vault row, its per-asset ledger
// entries, and the operation record if one is in progress. Rows written by
// a newer binary are rejected.
func (r *vaultRepository) Get(ctx context.Context) (*domain.Vault, error) {
	vault := &domain.Vault{AssetValues: make(map[string]domain.AssetValue)}

	query := `
		SELECT id, schema_version, status, total_shares, free_principal, fee_collected,
		       deposit_fee_bps, withdraw_fee_bps, withdraw_lock_ms, cancel_lock_ms,
		       epoch, epoch_loss, epoch_loss_base, loss_tolerance_bps
		FROM vaults
		LIMIT 1
	`
	var withdrawLockMs, cancelLockMs, epoch int64
	err := r.db.QueryRowContext(ctx, query).Scan(
		&vault.ID, &vault.SchemaVersion, &vault.Status, &vault.TotalShares,
		&vault.FreePrincipal, &vault.FeeCollected,
		&vault.DepositFeeBps, &vault.WithdrawFeeBps, &withdrawLockMs, &cancelLockMs,
		&epoch, &vault.EpochLoss, &vault.EpochLossBase, &vault.LossToleranceBps,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vault is not bootstrapped: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load vault: %w", err)
	}
	if vault.SchemaVersion > domain.SchemaVersion {
		return nil, fmt.Errorf("vault row has schema version %d, binary supports %d: %w",
			vault.SchemaVersion, domain.SchemaVersion, domain.ErrSchema)
	}
	vault.WithdrawLock = time.Duration(withdrawLockMs) * time.Millisecond
	vault.CancelLock = time.Duration(cancelLockMs) * time.Millisecond
	vault.Epoch = uint64(epoch)

	rows, err := r.db.QueryContext(ctx,
		`SELECT asset_type, value, updated_at FROM vault_asset_values WHERE vault_id = $1`, vault.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset values: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			assetType string
			av        domain.AssetValue
			updatedAt sql.NullTime
		)
		if err := rows.Scan(&assetType, &av.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset value: %w", err)
		}
		if updatedAt.Valid {
			av.UpdatedAt = updatedAt.Time
		}
		vault.AssetValues[assetType] = av
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate asset values: %w", err)
	}

	opQuery := `
		SELECT started_at, total_before, assets_returned, borrowed, confirmed
		FROM vault_operations
		WHERE vault_id = $1
	`
	var (
		record    domain.OperationRecord
		borrowed  pq.StringArray
		confirmed pq.StringArray
	)
	err = r.db.QueryRowContext(ctx, opQuery, vault.ID).Scan(
		&record.StartedAt, &record.TotalBefore, &record.AssetsReturned, &borrowed, &confirmed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load operation record: %w", err)
	}
	if err == nil {
		record.Borrowed = make(map[string]bool, len(borrowed))
		for _, t := range borrowed {
			record.Borrowed[t] = true
		}
		record.Confirmed = make(map[string]bool, len(confirmed))
		for _, t := range confirmed {
			record.Confirmed[t] = true
		}
		vault.Operation = &record
	}

	return vault, nil
}

// Save persists the whole aggregate atomically in one database
// transaction.
func (r *vaultRepository) Save(ctx context.Context, vault *domain.Vault) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsertVault := `
		INSERT INTO vaults (id, schema_version, status, total_shares, free_principal, fee_collected,
		                    deposit_fee_bps, withdraw_fee_bps, withdraw_lock_ms, cancel_lock_ms,
		                    epoch, epoch_loss, epoch_loss_base, loss_tolerance_bps)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			schema_version = EXCLUDED.schema_version,
			status = EXCLUDED.status,
			total_shares = EXCLUDED.total_shares,
			free_principal = EXCLUDED.free_principal,
			fee_collected = EXCLUDED.fee_collected,
			deposit_fee_bps = EXCLUDED.deposit_fee_bps,
			withdraw_fee_bps = EXCLUDED.withdraw_fee_bps,
			withdraw_lock_ms = EXCLUDED.withdraw_lock_ms,
			cancel_lock_ms = EXCLUDED.cancel_lock_ms,
			epoch = EXCLUDED.epoch,
			epoch_loss = EXCLUDED.epoch_loss,
			epoch_loss_base = EXCLUDED.epoch_loss_base,
			loss_tolerance_bps = EXCLUDED.loss_tolerance_bps
	`
	_, err = tx.ExecContext(ctx, upsertVault,
		vault.ID, vault.SchemaVersion, vault.Status, vault.TotalShares,
		vault.FreePrincipal, vault.FeeCollected,
		vault.DepositFeeBps, vault.WithdrawFeeBps,
		vault.WithdrawLock.Milliseconds(), vault.CancelLock.Milliseconds(),
		int64(vault.Epoch), vault.EpochLoss, vault.EpochLossBase, vault.LossToleranceBps,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vault: %w", err)
	}

	upsertAsset := `
		INSERT INTO vault_asset_values (vault_id, asset_type, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vault_id, asset_type) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`
	for assetType, av := range vault.AssetValues {
		var updatedAt sql.NullTime
		if !av.UpdatedAt.IsZero() {
			updatedAt = sql.NullTime{Time: av.UpdatedAt, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, upsertAsset, vault.ID, assetType, av.Value, updatedAt); err != nil {
			return fmt.Errorf("failed to upsert asset value %s: %w", assetType, err)
		}
	}

	if vault.Operation != nil {
		confirmed := make([]string, 0, len(vault.Operation.Confirmed))
		for t, ok := range vault.Operation.Confirmed {
			if ok {
				confirmed = append(confirmed, t)
			}
		}
		upsertOp := `
			INSERT INTO vault_operations (vault_id, started_at, total_before, assets_returned, borrowed, confirmed)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (vault_id) DO UPDATE SET
				started_at = EXCLUDED.started_at,
				total_before = EXCLUDED.total_before,
				assets_returned = EXCLUDED.assets_returned,
				borrowed = EXCLUDED.borrowed,
				confirmed = EXCLUDED.confirmed
		`
		_, err = tx.ExecContext(ctx, upsertOp,
			vault.ID, vault.Operation.StartedAt, vault.Operation.TotalBefore,
			vault.Operation.AssetsReturned,
			pq.Array(vault.Operation.BorrowedTypes()), pq.Array(confirmed))
		if err != nil {
			return fmt.Errorf("failed to upsert operation record: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vault_operations WHERE vault_id = $1`, vault.ID); err != nil {
			return fmt.Errorf("failed to clear operation record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit vault save: %w", err)
	}
	return nil
}
