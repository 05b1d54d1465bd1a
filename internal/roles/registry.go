// Package roles holds the freeze flags for privileged roles. Every
// privileged entry point calls AssertNotFrozen through this one gate; the
// check is never re-implemented per call site.
package roles

import (
	"fmt"
	"sync"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
)

// Role names a privileged capability.
type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Registry tracks which roles are frozen.
type Registry struct {
	mu     sync.RWMutex
	frozen map[Role]bool
}

// NewRegistry creates a registry with all known roles unfrozen.
func NewRegistry() *Registry {
	return &Registry{frozen: map[Role]bool{
		RoleOperator: false,
		RoleAdmin:    false,
	}}
}

func (r *Registry) known(role Role) bool {
	_, ok := r.frozen[role]
	return ok
}

// AssertNotFrozen fails when the role is unknown or frozen. Called at the
// top of every operator- and admin-gated entry point, fee retrieval
// included.
func (r *Registry) AssertNotFrozen(role Role) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.known(role) {
		return fmt.Errorf("unknown role %q: %w", role, domain.ErrValidation)
	}
	if r.frozen[role] {
		return fmt.Errorf("role %q is frozen: %w", role, domain.ErrState)
	}
	return nil
}

// Freeze marks a role frozen.
func (r *Registry) Freeze(role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.known(role) {
		return fmt.Errorf("unknown role %q: %w", role, domain.ErrValidation)
	}
	r.frozen[role] = true
	return nil
}

// Unfreeze clears a role's frozen flag.
func (r *Registry) Unfreeze(role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.known(role) {
		return fmt.Errorf("unknown role %q: %w", role, domain.ErrValidation)
	}
	r.frozen[role] = false
	return nil
}

// Frozen reports a role's current flag.
func (r *Registry) Frozen(role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen[role]
}
