// Package admin is the administrative surface: parameter setters bounded by
// configured maxima, vault enable/disable, and role freezing. Every entry
// point is audited.
package admin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
	"github.com/vaultflow/vaultflow-backend/internal/roles"
)

// Bounds are the configured sanity limits for administrative parameters.
// Unbounded fee rates or lock durations can permanently lock or instantly
// unlock funds, so every setter validates against them.
type Bounds struct {
	MaxFeeBps           int64
	MaxLossToleranceBps int64
	MinLock             time.Duration
	MaxLock             time.Duration
}

// Service applies administrative changes to the vault.
type Service struct {
	VaultRepo domain.VaultRepository
	Roles     *roles.Registry
	Audit     domain.AuditRepository
	Log       *zap.Logger
	Bounds    Bounds

	mu  *sync.Mutex
	now func() time.Time
}

// NewService creates an admin service sharing the vault actor mutex.
func NewService(
	vaultRepo domain.VaultRepository,
	roleRegistry *roles.Registry,
	audit domain.AuditRepository,
	log *zap.Logger,
	bounds Bounds,
	mu *sync.Mutex,
) *Service {
	return &Service{
		VaultRepo: vaultRepo,
		Roles:     roleRegistry,
		Audit:     audit,
		Log:       log,
		Bounds:    bounds,
		mu:        mu,
		now:       time.Now,
	}
}

// mutate runs an audited administrative mutation of the vault aggregate.
func (s *Service) mutate(ctx context.Context, action, detail string, fn func(*domain.Vault) error) error {
	if err := s.Roles.AssertNotFrozen(roles.RoleAdmin); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return err
	}
	if err := fn(vault); err != nil {
		return err
	}
	if err := s.VaultRepo.Save(ctx, vault); err != nil {
		return err
	}
	return s.Audit.Append(ctx, domain.NewAuditEvent(s.now(), string(roles.RoleAdmin), action, detail))
}

// SetFeeRates updates the deposit and withdraw fee rates, bounded by the
// configured maximum.
func (s *Service) SetFeeRates(ctx context.Context, depositBps, withdrawBps int64) error {
	if depositBps < 0 || withdrawBps < 0 {
		return fmt.Errorf("fee rates cannot be negative: %w", domain.ErrValidation)
	}
	if depositBps > s.Bounds.MaxFeeBps || withdrawBps > s.Bounds.MaxFeeBps {
		return fmt.Errorf("fee rates above the %d bps maximum: %w", s.Bounds.MaxFeeBps, domain.ErrValidation)
	}
	detail := fmt.Sprintf("deposit_bps=%d withdraw_bps=%d", depositBps, withdrawBps)
	return s.mutate(ctx, "set_fee_rates", detail, func(v *domain.Vault) error {
		v.DepositFeeBps = depositBps
		v.WithdrawFeeBps = withdrawBps
		return nil
	})
}

// SetLockDurations updates the withdraw and cancellation locks, validated
// against the configured minimum and maximum.
func (s *Service) SetLockDurations(ctx context.Context, withdrawLock, cancelLock time.Duration) error {
	for _, d := range []time.Duration{withdrawLock, cancelLock} {
		if d < s.Bounds.MinLock || d > s.Bounds.MaxLock {
			return fmt.Errorf("lock duration %s outside [%s, %s]: %w", d, s.Bounds.MinLock, s.Bounds.MaxLock, domain.ErrValidation)
		}
	}
	detail := fmt.Sprintf("withdraw_lock=%s cancel_lock=%s", withdrawLock, cancelLock)
	return s.mutate(ctx, "set_lock_durations", detail, func(v *domain.Vault) error {
		v.WithdrawLock = withdrawLock
		v.CancelLock = cancelLock
		return nil
	})
}

// SetLossTolerance updates the per-epoch loss cap, bounded by the
// configured maximum.
func (s *Service) SetLossTolerance(ctx context.Context, toleranceBps int64) error {
	if toleranceBps < 0 || toleranceBps > s.Bounds.MaxLossToleranceBps {
		return fmt.Errorf("loss tolerance must be within [0, %d] bps: %w", s.Bounds.MaxLossToleranceBps, domain.ErrValidation)
	}
	return s.mutate(ctx, "set_loss_tolerance", fmt.Sprintf("tolerance_bps=%d", toleranceBps), func(v *domain.Vault) error {
		v.LossToleranceBps = toleranceBps
		return nil
	})
}

// Disable pauses the vault. Rejected while an operation is in progress.
func (s *Service) Disable(ctx context.Context) error {
	return s.mutate(ctx, "disable_vault", "", func(v *domain.Vault) error {
		return v.Disable()
	})
}

// Enable returns the vault to Normal status.
func (s *Service) Enable(ctx context.Context) error {
	return s.mutate(ctx, "enable_vault", "", func(v *domain.Vault) error {
		return v.Enable()
	})
}

// FreezeRole freezes a privileged role. Frozen roles fail every gated entry
// point, fee retrieval included.
func (s *Service) FreezeRole(ctx context.Context, role roles.Role) error {
	if err := s.Roles.AssertNotFrozen(roles.RoleAdmin); err != nil {
		return err
	}
	if role == roles.RoleAdmin {
		// Freezing the administrative role would leave no path to unfreeze
		// anything, including itself.
		return fmt.Errorf("the admin role cannot be frozen: %w", domain.ErrValidation)
	}
	if err := s.Roles.Freeze(role); err != nil {
		return err
	}
	s.Log.Warn("role frozen", zap.String("role", string(role)))
	return s.Audit.Append(ctx, domain.NewAuditEvent(s.now(), string(roles.RoleAdmin), "freeze_role", string(role)))
}

// UnfreezeRole clears a role's freeze flag.
func (s *Service) UnfreezeRole(ctx context.Context, role roles.Role) error {
	if err := s.Roles.AssertNotFrozen(roles.RoleAdmin); err != nil {
		return err
	}
	if err := s.Roles.Unfreeze(role); err != nil {
		return err
	}
	s.Log.Warn("role unfrozen", zap.String("role", string(role)))
	return s.Audit.Append(ctx, domain.NewAuditEvent(s.now(), string(roles.RoleAdmin), "unfreeze_role", string(role)))
}
