package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent records a privileged action against the vault: parameter
// changes, role freezes, fee retrieval and emergency resets. The emergency
// hook in particular must leave an auditable trail.
type AuditEvent struct {
	ID     uuid.UUID
	At     time.Time
	Actor  string // role that performed the action
	Action string
	Detail string
}

// NewAuditEvent builds an audit event stamped with the given time.
func NewAuditEvent(at time.Time, actor, action, detail string) AuditEvent {
	return AuditEvent{
		ID:     uuid.New(),
		At:     at,
		Actor:  actor,
		Action: action,
		Detail: detail,
	}
}
