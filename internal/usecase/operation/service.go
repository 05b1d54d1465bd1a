// Package operation drives the borrow-act-return-revalue-complete protocol
// that temporarily removes the vault from normal service while external
// positions are adjusted.
package operation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
	"github.com/vaultflow/vaultflow-backend/internal/observability"
	"github.com/vaultflow/vaultflow-backend/internal/roles"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/ledger"
	"github.com/vaultflow/vaultflow-backend/internal/valuation"
)

// Service is the operation lifecycle state machine. Any failure inside a
// revaluation or the completion checks leaves the vault DuringOperation;
// the only recovery path from a stuck operation is the administrative
// emergency hook.
type Service struct {
	VaultRepo domain.VaultRepository
	Ledger    *ledger.Service
	Roles     *roles.Registry
	Audit     domain.AuditRepository
	Log       *zap.Logger
	Metrics   *observability.Metrics

	// EpochLength scopes the loss-tolerance epoch; FreshnessWindow bounds
	// the age of revaluations accepted at completion time.
	EpochLength     time.Duration
	FreshnessWindow time.Duration

	mu  *sync.Mutex
	now func() time.Time
}

// NewService creates an operation lifecycle service sharing the vault actor
// mutex.
func NewService(
	vaultRepo domain.VaultRepository,
	ledgerService *ledger.Service,
	roleRegistry *roles.Registry,
	audit domain.AuditRepository,
	log *zap.Logger,
	metrics *observability.Metrics,
	epochLength, freshnessWindow time.Duration,
	mu *sync.Mutex,
) *Service {
	return &Service{
		VaultRepo:       vaultRepo,
		Ledger:          ledgerService,
		Roles:           roleRegistry,
		Audit:           audit,
		Log:             log,
		Metrics:         metrics,
		EpochLength:     epochLength,
		FreshnessWindow: freshnessWindow,
		mu:              mu,
		now:             time.Now,
	}
}

// Start lends custody of the given asset types to the operator. Every
// valuation is refreshed in this same logical transaction so the
// pre-operation baseline and any epoch roll use strictly fresh values.
func (s *Service) Start(ctx context.Context, assetTypes []string) error {
	if err := s.Roles.AssertNotFrozen(roles.RoleOperator); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return err
	}
	now := s.now()
	if err := s.Ledger.RefreshValuations(vault, now); err != nil {
		return err
	}
	if err := vault.BeginOperation(assetTypes, now, s.EpochLength); err != nil {
		return err
	}
	if err := s.VaultRepo.Save(ctx, vault); err != nil {
		return err
	}
	s.Log.Info("operation started",
		zap.Strings("borrowed", vault.Operation.BorrowedTypes()),
		zap.String("total_before", vault.Operation.TotalBefore.String()))
	return nil
}

// ReturnAssets records that the operator has returned custody of the
// borrowed positions. Status stays DuringOperation.
func (s *Service) ReturnAssets(ctx context.Context) error {
	if err := s.Roles.AssertNotFrozen(roles.RoleOperator); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return err
	}
	if err := vault.MarkAssetsReturned(); err != nil {
		return err
	}
	return s.VaultRepo.Save(ctx, vault)
}

// RevalueAsset re-values one borrowed asset type from an operator-supplied
// market snapshot and marks it confirmed in the operation record. A failed
// valuation confirms nothing and the vault stays DuringOperation.
func (s *Service) RevalueAsset(ctx context.Context, assetType string, market valuation.Market) error {
	if err := s.Roles.AssertNotFrozen(roles.RoleOperator); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return err
	}
	if vault.Operation == nil {
		return fmt.Errorf("no operation in progress: %w", domain.ErrState)
	}
	if !vault.Operation.Borrowed[assetType] {
		return fmt.Errorf("asset type %q was not borrowed by this operation: %w", assetType, domain.ErrValidation)
	}

	if err := s.Ledger.Registry.UpdateMarket(assetType, market); err != nil {
		return err
	}
	now := s.now()
	if err := s.Ledger.RevalueAssets(vault, []string{assetType}, now); err != nil {
		return err
	}
	if err := vault.ConfirmRevaluation(assetType); err != nil {
		return err
	}
	return s.VaultRepo.Save(ctx, vault)
}

// Complete ends the operator session. Every borrowed asset type must carry
// a confirmed revaluation inside the freshness window; a value drop beyond
// the loss tolerance aborts the completion and the vault stays
// DuringOperation for the operator to retry or for the admin to resolve.
func (s *Service) Complete(ctx context.Context) error {
	if err := s.Roles.AssertNotFrozen(roles.RoleOperator); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return err
	}
	if err := vault.CompleteOperation(s.now(), s.FreshnessWindow); err != nil {
		return err
	}
	if err := s.VaultRepo.Save(ctx, vault); err != nil {
		return err
	}
	s.Log.Info("operation completed",
		zap.Uint64("epoch", vault.Epoch),
		zap.String("epoch_loss", vault.EpochLoss.String()))
	return nil
}

// EmergencyReset is the administrative escape hatch for a stuck operation:
// an oracle outage, a frozen operator mid-operation, or an unrecoverable
// valuation failure otherwise leave DuringOperation with no liveness
// guarantee. The hook replays every borrowed valuation at the current
// instant and re-runs the loss check; if that re-validation succeeds the
// operation completes to Normal, otherwise the record is cleared and the
// vault is forced to Disabled with funds frozen pending manual
// reconciliation. Both outcomes are audited.
func (s *Service) EmergencyReset(ctx context.Context) (domain.VaultStatus, error) {
	if err := s.Roles.AssertNotFrozen(roles.RoleAdmin); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return "", err
	}
	if vault.Status != domain.StatusDuringOperation || vault.Operation == nil {
		return "", fmt.Errorf("no operation in progress: %w", domain.ErrState)
	}
	borrowed := vault.Operation.BorrowedTypes()
	now := s.now()

	replayErr := s.Ledger.RefreshValuations(vault, now)
	if replayErr == nil {
		replayErr = vault.ForceCompleteOperation(now)
	}
	if replayErr != nil {
		// Discard any partially replayed valuations before forcing the
		// reset: a failed refresh must not persist partial effects.
		vault, err = s.VaultRepo.Get(ctx)
		if err != nil {
			return "", err
		}
		if err := vault.ForceDisableOperation(); err != nil {
			return "", err
		}
	}
	if err := s.VaultRepo.Save(ctx, vault); err != nil {
		return "", err
	}

	s.Metrics.ObserveEmergencyReset()
	detail := fmt.Sprintf("borrowed=%s outcome=%s", strings.Join(borrowed, ","), vault.Status)
	if replayErr != nil {
		detail = fmt.Sprintf("%s cause=%v", detail, replayErr)
		s.Log.Warn("emergency reset forced vault disabled",
			zap.Strings("borrowed", borrowed), zap.Error(replayErr))
	} else {
		s.Log.Warn("emergency reset completed stuck operation",
			zap.Strings("borrowed", borrowed))
	}
	if err := s.Audit.Append(ctx, domain.NewAuditEvent(now, string(roles.RoleAdmin), "emergency_reset", detail)); err != nil {
		return "", err
	}
	return vault.Status, nil
}
