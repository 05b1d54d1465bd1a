package postgres

import (
	"context"
	"fmt"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
)

type auditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit log repository.
func NewAuditRepository(db *DB) domain.AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, event domain.AuditEvent) error {
	query := `
		INSERT INTO audit_events (id, at, actor, action, detail)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, event.ID, event.At, event.Actor, event.Action, event.Detail)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	query := `
		SELECT id, at, actor, action, detail
		FROM audit_events
		ORDER BY at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var event domain.AuditEvent
		if err := rows.Scan(&event.ID, &event.At, &event.Actor, &event.Action, &event.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}
