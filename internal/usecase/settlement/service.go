// Package settlement owns the deposit/withdraw request lifecycle: submit,
// execute against the share ratio, and cancel under the time-lock rules.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
	"github.com/vaultflow/vaultflow-backend/internal/fixedpoint"
	"github.com/vaultflow/vaultflow-backend/internal/observability"
	"github.com/vaultflow/vaultflow-backend/internal/pricing"
	"github.com/vaultflow/vaultflow-backend/internal/roles"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/ledger"
)

// Service executes the request queue against the share ratio. Every
// execution refreshes all valuations first and prices shares off that
// strictly fresh total, captured before anything is mutated.
type Service struct {
	VaultRepo    domain.VaultRepository
	ReceiptRepo  domain.ReceiptRepository
	DepositRepo  domain.DepositRequestRepository
	WithdrawRepo domain.WithdrawRequestRepository
	Ledger       *ledger.Service
	Prices       pricing.Source
	Roles        *roles.Registry
	Audit        domain.AuditRepository
	Log          *zap.Logger
	Metrics      *observability.Metrics

	PrincipalAsset string

	mu  *sync.Mutex
	now func() time.Time
}

// NewService creates a settlement service sharing the vault actor mutex.
func NewService(
	vaultRepo domain.VaultRepository,
	receiptRepo domain.ReceiptRepository,
	depositRepo domain.DepositRequestRepository,
	withdrawRepo domain.WithdrawRequestRepository,
	ledgerService *ledger.Service,
	prices pricing.Source,
	roleRegistry *roles.Registry,
	audit domain.AuditRepository,
	log *zap.Logger,
	metrics *observability.Metrics,
	principalAsset string,
	mu *sync.Mutex,
) *Service {
	return &Service{
		VaultRepo:      vaultRepo,
		ReceiptRepo:    receiptRepo,
		DepositRepo:    depositRepo,
		WithdrawRepo:   withdrawRepo,
		Ledger:         ledgerService,
		Prices:         prices,
		Roles:          roleRegistry,
		Audit:          audit,
		Log:            log,
		Metrics:        metrics,
		PrincipalAsset: principalAsset,
		mu:             mu,
		now:            time.Now,
	}
}

// SubmitDeposit escrows principal and enqueues a deposit request. The vault
// must be Normal and the owner's receipt must not already have a pending
// deposit.
func (s *Service) SubmitDeposit(ctx context.Context, owner string, amount, minSharesOut decimal.Decimal, recipient string) (*domain.DepositRequest, error) {
	if owner == "" {
		return nil, fmt.Errorf("owner cannot be empty: %w", domain.ErrValidation)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive: %w", domain.ErrValidation)
	}
	if minSharesOut.Sign() < 0 {
		return nil, fmt.Errorf("minimum shares out cannot be negative: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if vault.Status != domain.StatusNormal {
		return nil, fmt.Errorf("deposits require %s status, vault is %s: %w", domain.StatusNormal, vault.Status, domain.ErrState)
	}

	receipt, err := s.ReceiptRepo.GetByOwner(ctx, owner)
	if errors.Is(err, domain.ErrNotFound) {
		receipt = domain.NewReceipt(owner)
		if err := s.ReceiptRepo.Create(ctx, receipt); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	request := &domain.DepositRequest{
		ID:           uuid.New(),
		ReceiptID:    receipt.ID,
		Amount:       amount,
		MinSharesOut: minSharesOut,
		Recipient:    recipient,
		SubmittedAt:  s.now(),
		Status:       domain.RequestStatusPending,
	}
	if err := receipt.AttachDeposit(request.ID); err != nil {
		return nil, err
	}
	if err := s.DepositRepo.Create(ctx, request); err != nil {
		return nil, err
	}
	if err := s.ReceiptRepo.Save(ctx, receipt); err != nil {
		return nil, err
	}
	s.Metrics.ObserveSettlement("deposit", "submitted")
	return request, nil
}

// ExecuteDeposit settles a pending deposit: all valuations are refreshed,
// the share ratio is captured before any mutation, the ceiling-rounded fee
// is deducted, and shares are minted at the captured ratio. Operator-only.
func (s *Service) ExecuteDeposit(ctx context.Context, requestID uuid.UUID) (decimal.Decimal, error) {
	if err := s.Roles.AssertNotFrozen(roles.RoleOperator); err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if vault.Status != domain.StatusNormal {
		return decimal.Zero, fmt.Errorf("deposit execution requires %s status, vault is %s: %w", domain.StatusNormal, vault.Status, domain.ErrState)
	}

	request, err := s.DepositRepo.GetByID(ctx, requestID)
	if err != nil {
		return decimal.Zero, err
	}
	if request.Status != domain.RequestStatusPending {
		return decimal.Zero, fmt.Errorf("deposit request %s is %s: %w", request.ID, request.Status, domain.ErrState)
	}
	receipt, err := s.ReceiptRepo.GetByID(ctx, request.ReceiptID)
	if err != nil {
		return decimal.Zero, err
	}

	now := s.now()
	if err := s.Ledger.RefreshValuations(vault, now); err != nil {
		s.Metrics.ObserveValuationError()
		return decimal.Zero, err
	}

	// Ratio before any mutation; strictly fresh by construction.
	ratio, err := vault.ShareRatio(now)
	if err != nil {
		return decimal.Zero, err
	}
	principalPrice, err := s.Prices.NormalizedPrice(s.PrincipalAsset, now)
	if err != nil {
		return decimal.Zero, err
	}

	fee := fixedpoint.CeilFee(request.Amount, vault.DepositFeeBps)
	net := request.Amount.Sub(fee)
	if net.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("deposit of %s is consumed entirely by the %s fee: %w", request.Amount, fee, domain.ErrValidation)
	}
	usdValue, err := fixedpoint.MulPrice(net, principalPrice)
	if err != nil {
		return decimal.Zero, err
	}
	shares, err := fixedpoint.DivPrice(usdValue, ratio)
	if err != nil {
		return decimal.Zero, err
	}
	if shares.LessThan(request.MinSharesOut) {
		return decimal.Zero, fmt.Errorf("minted shares %s below minimum %s: %w", shares, request.MinSharesOut, domain.ErrPolicy)
	}

	if err := receipt.SettleDeposit(shares, now); err != nil {
		return decimal.Zero, err
	}
	if err := vault.MintShares(shares); err != nil {
		return decimal.Zero, err
	}
	vault.CreditPrincipal(net)
	vault.AccrueFee(fee)
	request.Status = domain.RequestStatusExecuted

	if err := s.DepositRepo.Save(ctx, request); err != nil {
		return decimal.Zero, err
	}
	if err := s.ReceiptRepo.Save(ctx, receipt); err != nil {
		return decimal.Zero, err
	}
	if err := s.VaultRepo.Save(ctx, vault); err != nil {
		return decimal.Zero, err
	}

	s.Metrics.SetLedgerGauges(ratio, vault.UncheckedTotalValue(), vault.TotalShares, vault.EpochLoss)
	s.Metrics.ObserveSettlement("deposit", "executed")
	s.Log.Info("deposit executed",
		zap.String("request", request.ID.String()),
		zap.String("amount", request.Amount.String()),
		zap.String("fee", fee.String()),
		zap.String("shares", shares.String()),
		zap.String("ratio", ratio.String()))
	return shares, nil
}

// CancelDeposit returns the escrowed principal untouched. Permitted in
// Normal and Disabled status once the cancellation lock has elapsed; an
// administrative pause must not block the release of escrowed funds.
func (s *Service) CancelDeposit(ctx context.Context, requestID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return err
	}
	request, err := s.DepositRepo.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if err := request.Cancellable(vault.Status, s.now(), vault.CancelLock); err != nil {
		return err
	}
	receipt, err := s.ReceiptRepo.GetByID(ctx, request.ReceiptID)
	if err != nil {
		return err
	}
	if err := receipt.ReleaseDeposit(); err != nil {
		return err
	}
	request.Status = domain.RequestStatusCancelled

	if err := s.DepositRepo.Save(ctx, request); err != nil {
		return err
	}
	if err := s.ReceiptRepo.Save(ctx, receipt); err != nil {
		return err
	}
	s.Metrics.ObserveSettlement("deposit", "cancelled")
	return nil
}

// SubmitWithdraw locks shares for redemption. The vault must be Normal and
// the receipt's withdraw lock since its last deposit must have elapsed.
func (s *Service) SubmitWithdraw(ctx context.Context, owner string, shares, minAmountOut decimal.Decimal, recipient string) (*domain.WithdrawRequest, error) {
	if minAmountOut.Sign() < 0 {
		return nil, fmt.Errorf("minimum amount out cannot be negative: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if vault.Status != domain.StatusNormal {
		return nil, fmt.Errorf("withdrawals require %s status, vault is %s: %w", domain.StatusNormal, vault.Status, domain.ErrState)
	}
	receipt, err := s.ReceiptRepo.GetByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	request := &domain.WithdrawRequest{
		ID:           uuid.New(),
		ReceiptID:    receipt.ID,
		Shares:       shares,
		MinAmountOut: minAmountOut,
		Recipient:    recipient,
		SubmittedAt:  s.now(),
		Status:       domain.RequestStatusPending,
	}
	if err := receipt.LockShares(request.ID, shares, request.SubmittedAt, vault.WithdrawLock); err != nil {
		return nil, err
	}
	if err := s.WithdrawRepo.Create(ctx, request); err != nil {
		return nil, err
	}
	if err := s.ReceiptRepo.Save(ctx, receipt); err != nil {
		return nil, err
	}
	s.Metrics.ObserveSettlement("withdraw", "submitted")
	return request, nil
}

// ExecuteWithdraw settles a pending withdrawal: the locked shares are
// priced at the captured ratio, converted to principal at the fresh
// principal price, and paid out net of the ceiling-rounded fee.
// Operator-only.
func (s *Service) ExecuteWithdraw(ctx context.Context, requestID uuid.UUID) (decimal.Decimal, error) {
	if err := s.Roles.AssertNotFrozen(roles.RoleOperator); err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if vault.Status != domain.StatusNormal {
		return decimal.Zero, fmt.Errorf("withdrawal execution requires %s status, vault is %s: %w", domain.StatusNormal, vault.Status, domain.ErrState)
	}

	request, err := s.WithdrawRepo.GetByID(ctx, requestID)
	if err != nil {
		return decimal.Zero, err
	}
	if request.Status != domain.RequestStatusPending {
		return decimal.Zero, fmt.Errorf("withdraw request %s is %s: %w", request.ID, request.Status, domain.ErrState)
	}
	receipt, err := s.ReceiptRepo.GetByID(ctx, request.ReceiptID)
	if err != nil {
		return decimal.Zero, err
	}

	now := s.now()
	if err := s.Ledger.RefreshValuations(vault, now); err != nil {
		s.Metrics.ObserveValuationError()
		return decimal.Zero, err
	}

	ratio, err := vault.ShareRatio(now)
	if err != nil {
		return decimal.Zero, err
	}
	principalPrice, err := s.Prices.NormalizedPrice(s.PrincipalAsset, now)
	if err != nil {
		return decimal.Zero, err
	}

	usdValue, err := fixedpoint.MulPrice(request.Shares, ratio)
	if err != nil {
		return decimal.Zero, err
	}
	gross, err := fixedpoint.DivPrice(usdValue, principalPrice)
	if err != nil {
		return decimal.Zero, err
	}
	fee := fixedpoint.CeilFee(gross, vault.WithdrawFeeBps)
	payout := gross.Sub(fee)
	if payout.LessThan(request.MinAmountOut) {
		return decimal.Zero, fmt.Errorf("payout %s below minimum %s: %w", payout, request.MinAmountOut, domain.ErrPolicy)
	}

	if err := receipt.BurnPendingShares(request.Shares); err != nil {
		return decimal.Zero, err
	}
	if err := vault.BurnShares(request.Shares); err != nil {
		return decimal.Zero, err
	}
	if err := vault.DebitPrincipal(gross); err != nil {
		return decimal.Zero, err
	}
	vault.AccrueFee(fee)
	request.Status = domain.RequestStatusExecuted

	if err := s.WithdrawRepo.Save(ctx, request); err != nil {
		return decimal.Zero, err
	}
	if err := s.ReceiptRepo.Save(ctx, receipt); err != nil {
		return decimal.Zero, err
	}
	if err := s.VaultRepo.Save(ctx, vault); err != nil {
		return decimal.Zero, err
	}

	s.Metrics.SetLedgerGauges(ratio, vault.UncheckedTotalValue(), vault.TotalShares, vault.EpochLoss)
	s.Metrics.ObserveSettlement("withdraw", "executed")
	s.Log.Info("withdrawal executed",
		zap.String("request", request.ID.String()),
		zap.String("shares", request.Shares.String()),
		zap.String("fee", fee.String()),
		zap.String("payout", payout.String()),
		zap.String("ratio", ratio.String()))
	return payout, nil
}

// CancelWithdraw restores the locked shares to the receipt: a pure
// bookkeeping reversal, permitted under exactly the same
// not-during-operation rule as CancelDeposit.
func (s *Service) CancelWithdraw(ctx context.Context, requestID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return err
	}
	request, err := s.WithdrawRepo.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if err := request.Cancellable(vault.Status, s.now(), vault.CancelLock); err != nil {
		return err
	}
	receipt, err := s.ReceiptRepo.GetByID(ctx, request.ReceiptID)
	if err != nil {
		return err
	}
	if err := receipt.RestorePendingShares(); err != nil {
		return err
	}
	request.Status = domain.RequestStatusCancelled

	if err := s.WithdrawRepo.Save(ctx, request); err != nil {
		return err
	}
	if err := s.ReceiptRepo.Save(ctx, receipt); err != nil {
		return err
	}
	s.Metrics.ObserveSettlement("withdraw", "cancelled")
	return nil
}

// CollectFees drains the accumulated fee pot to the given recipient.
// Admin-only, Normal status only, audited.
func (s *Service) CollectFees(ctx context.Context, recipient string) (decimal.Decimal, error) {
	if err := s.Roles.AssertNotFrozen(roles.RoleAdmin); err != nil {
		return decimal.Zero, err
	}
	if recipient == "" {
		return decimal.Zero, fmt.Errorf("fee recipient cannot be empty: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.VaultRepo.Get(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	fees, err := vault.DrainFees()
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.VaultRepo.Save(ctx, vault); err != nil {
		return decimal.Zero, err
	}
	now := s.now()
	if err := s.Audit.Append(ctx, domain.NewAuditEvent(now, string(roles.RoleAdmin), "collect_fees",
		fmt.Sprintf("amount=%s recipient=%s", fees, recipient))); err != nil {
		return decimal.Zero, err
	}
	return fees, nil
}
