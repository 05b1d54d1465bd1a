package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vaultflow/vaultflow-backend/internal/domain"
	"github.com/vaultflow/vaultflow-backend/internal/observability"
	"github.com/vaultflow/vaultflow-backend/internal/pricing"
	"github.com/vaultflow/vaultflow-backend/internal/roles"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/admin"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/ledger"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/operation"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/overview"
	"github.com/vaultflow/vaultflow-backend/internal/usecase/settlement"
	"github.com/vaultflow/vaultflow-backend/internal/valuation"
)

// Server exposes the vault over a JSON API. Routes are grouped into three
// access levels guarded by bearer tokens: user (queue and cancel requests,
// read state), operator (settle requests, run operations, push prices) and
// admin (parameters, freezes, emergency paths).
type Server struct {
	Settlement *settlement.Service
	Operations *operation.Service
	Admin      *admin.Service
	Overview   *overview.Service
	Ledger     *ledger.Service
	Audit      domain.AuditRepository
	Feed       *pricing.Feed

	Tokens  Tokens
	Metrics *observability.Metrics
	Logger  *zap.Logger

	now func() time.Time
}

// NewServer creates an HTTP server over the given services.
func NewServer(
	settlementSvc *settlement.Service,
	operationSvc *operation.Service,
	adminSvc *admin.Service,
	overviewSvc *overview.Service,
	ledgerSvc *ledger.Service,
	audit domain.AuditRepository,
	feed *pricing.Feed,
	tokens Tokens,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Server {
	return &Server{
		Settlement: settlementSvc,
		Operations: operationSvc,
		Admin:      adminSvc,
		Overview:   overviewSvc,
		Ledger:     ledgerSvc,
		Audit:      audit,
		Feed:       feed,
		Tokens:     tokens,
		Metrics:    metrics,
		Logger:     logger,
		now:        time.Now,
	}
}

// Routes builds the chi router. metricsHandler serves the Prometheus
// exposition endpoint and is mounted unauthenticated, as is /healthz.
func (s *Server) Routes(metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RequireToken(s.Tokens, "user"))
			r.Get("/vault", s.handleOverview)
			r.Get("/receipts/{id}/shares", s.handleReceiptShares)
			r.Post("/deposits", s.handleSubmitDeposit)
			r.Post("/deposits/{id}/cancel", s.handleCancelDeposit)
			r.Post("/withdrawals", s.handleSubmitWithdraw)
			r.Post("/withdrawals/{id}/cancel", s.handleCancelWithdraw)
		})

		r.Route("/operator", func(r chi.Router) {
			r.Use(RequireToken(s.Tokens, "operator"))
			r.Post("/deposits/{id}/execute", s.handleExecuteDeposit)
			r.Post("/withdrawals/{id}/execute", s.handleExecuteWithdraw)
			r.Post("/operations/start", s.handleOperationStart)
			r.Post("/operations/return", s.handleOperationReturn)
			r.Post("/operations/revalue", s.handleOperationRevalue)
			r.Post("/operations/complete", s.handleOperationComplete)
			r.Post("/prices", s.handleSetPrice)
			r.Get("/prices/{asset}", s.handleQuote)
			r.Post("/markets", s.handleSubmitMarket)
			r.Get("/total-value", s.handleTotalValue)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireToken(s.Tokens, "admin"))
			r.Post("/fees", s.handleSetFees)
			r.Post("/locks", s.handleSetLocks)
			r.Post("/loss-tolerance", s.handleSetLossTolerance)
			r.Post("/disable", s.handleDisable)
			r.Post("/enable", s.handleEnable)
			r.Post("/emergency-reset", s.handleEmergencyReset)
			r.Post("/collect-fees", s.handleCollectFees)
			r.Post("/roles/freeze", s.handleFreezeRole)
			r.Post("/roles/unfreeze", s.handleUnfreezeRole)
			r.Get("/audit", s.handleAuditLog)
		})
	})

	return r
}

// observe records per-route request metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.Metrics.ObserveHTTP(route, strconv.Itoa(ww.Status()))
	})
}

func requestID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

type submitDepositRequest struct {
	Owner        string          `json:"owner"`
	Amount       decimal.Decimal `json:"amount"`
	MinSharesOut decimal.Decimal `json:"min_shares_out"`
	Recipient    string          `json:"recipient"`
}

func (s *Server) handleSubmitDeposit(w http.ResponseWriter, r *http.Request) {
	var req submitDepositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	request, err := s.Settlement.SubmitDeposit(r.Context(), req.Owner, req.Amount, req.MinSharesOut, req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"request_id":   request.ID.String(),
		"receipt_id":   request.ReceiptID.String(),
		"submitted_at": request.SubmittedAt,
	})
}

func (s *Server) handleCancelDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request id")
		return
	}
	if err := s.Settlement.CancelDeposit(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type submitWithdrawRequest struct {
	Owner        string          `json:"owner"`
	Shares       decimal.Decimal `json:"shares"`
	MinAmountOut decimal.Decimal `json:"min_amount_out"`
	Recipient    string          `json:"recipient"`
}

func (s *Server) handleSubmitWithdraw(w http.ResponseWriter, r *http.Request) {
	var req submitWithdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	request, err := s.Settlement.SubmitWithdraw(r.Context(), req.Owner, req.Shares, req.MinAmountOut, req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"request_id":   request.ID.String(),
		"receipt_id":   request.ReceiptID.String(),
		"submitted_at": request.SubmittedAt,
	})
}

func (s *Server) handleCancelWithdraw(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request id")
		return
	}
	if err := s.Settlement.CancelWithdraw(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleExecuteDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request id")
		return
	}
	shares, err := s.Settlement.ExecuteDeposit(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares_minted": shares.String()})
}

func (s *Server) handleExecuteWithdraw(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request id")
		return
	}
	payout, err := s.Settlement.ExecuteWithdraw(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payout": payout.String()})
}

type operationStartRequest struct {
	AssetTypes []string `json:"asset_types"`
}

func (s *Server) handleOperationStart(w http.ResponseWriter, r *http.Request) {
	var req operationStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Operations.Start(r.Context(), req.AssetTypes); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleOperationReturn(w http.ResponseWriter, r *http.Request) {
	if err := s.Operations.ReturnAssets(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "assets_returned"})
}

type marketPayload struct {
	Protocol        string          `json:"protocol"`
	ID              string          `json:"id"`
	Supply          decimal.Decimal `json:"supply"`
	Borrow          decimal.Decimal `json:"borrow"`
	AccruedInterest decimal.Decimal `json:"accrued_interest"`
	AmountA         decimal.Decimal `json:"amount_a"`
	AmountB         decimal.Decimal `json:"amount_b"`
	FeeOwedA        decimal.Decimal `json:"fee_owed_a"`
	FeeOwedB        decimal.Decimal `json:"fee_owed_b"`
}

func (m marketPayload) toMarket() valuation.Market {
	return valuation.Market{
		Protocol:        m.Protocol,
		ID:              m.ID,
		Supply:          m.Supply,
		Borrow:          m.Borrow,
		AccruedInterest: m.AccruedInterest,
		AmountA:         m.AmountA,
		AmountB:         m.AmountB,
		FeeOwedA:        m.FeeOwedA,
		FeeOwedB:        m.FeeOwedB,
	}
}

type revalueRequest struct {
	AssetType string        `json:"asset_type"`
	Market    marketPayload `json:"market"`
}

func (s *Server) handleOperationRevalue(w http.ResponseWriter, r *http.Request) {
	var req revalueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Operations.RevalueAsset(r.Context(), req.AssetType, req.Market.toMarket()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revalued"})
}

type submitMarketRequest struct {
	AssetType string        `json:"asset_type"`
	Market    marketPayload `json:"market"`
}

// handleSubmitMarket stores a market snapshot outside an operation. A
// freshly registered position is valued for the first time only after its
// snapshot arrives here.
func (s *Server) handleSubmitMarket(w http.ResponseWriter, r *http.Request) {
	var req submitMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Ledger.SubmitMarketSnapshot(req.AssetType, req.Market.toMarket()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleOperationComplete(w http.ResponseWriter, r *http.Request) {
	if err := s.Operations.Complete(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type setPriceRequest struct {
	AssetType string          `json:"asset_type"`
	Value     decimal.Decimal `json:"value"`
	Decimals  int32           `json:"decimals"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Feed.SetQuote(req.AssetType, req.Value, req.Decimals, s.now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleQuote returns the raw observation for an asset, age included, so
// the operator can inspect what the feed holds before settling against it.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	assetType := chi.URLParam(r, "asset")
	quote, err := s.Feed.Quote(assetType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_type": assetType,
		"value":      quote.Value.String(),
		"decimals":   quote.Decimals,
		"updated_at": quote.UpdatedAt,
		"age_ms":     s.now().Sub(quote.UpdatedAt).Milliseconds(),
	})
}

// handleTotalValue serves the freshness-checked total. Unlike the overview
// read it fails when any tracked value is older than the completion window.
func (s *Server) handleTotalValue(w http.ResponseWriter, r *http.Request) {
	total, err := s.Ledger.CheckedTotalValue(r.Context(), s.Operations.FreshnessWindow)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"total_value": total.String()})
}

type setFeesRequest struct {
	DepositFeeBps  int64 `json:"deposit_fee_bps"`
	WithdrawFeeBps int64 `json:"withdraw_fee_bps"`
}

func (s *Server) handleSetFees(w http.ResponseWriter, r *http.Request) {
	var req setFeesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Admin.SetFeeRates(r.Context(), req.DepositFeeBps, req.WithdrawFeeBps); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type setLocksRequest struct {
	WithdrawLock string `json:"withdraw_lock"`
	CancelLock   string `json:"cancel_lock"`
}

func (s *Server) handleSetLocks(w http.ResponseWriter, r *http.Request) {
	var req setLocksRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	withdrawLock, err := time.ParseDuration(req.WithdrawLock)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid withdraw_lock duration")
		return
	}
	cancelLock, err := time.ParseDuration(req.CancelLock)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid cancel_lock duration")
		return
	}
	if err := s.Admin.SetLockDurations(r.Context(), withdrawLock, cancelLock); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type setLossToleranceRequest struct {
	ToleranceBps int64 `json:"tolerance_bps"`
}

func (s *Server) handleSetLossTolerance(w http.ResponseWriter, r *http.Request) {
	var req setLossToleranceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Admin.SetLossTolerance(r.Context(), req.ToleranceBps); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	if err := s.Admin.Disable(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusDisabled)})
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	if err := s.Admin.Enable(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusNormal)})
}

func (s *Server) handleEmergencyReset(w http.ResponseWriter, r *http.Request) {
	status, err := s.Operations.EmergencyReset(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

type collectFeesRequest struct {
	Recipient string `json:"recipient"`
}

func (s *Server) handleCollectFees(w http.ResponseWriter, r *http.Request) {
	var req collectFeesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	fees, err := s.Settlement.CollectFees(r.Context(), req.Recipient)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"fees": fees.String()})
}

type roleRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleFreezeRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Admin.FreezeRole(r.Context(), roles.Role(req.Role)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "frozen"})
}

func (s *Server) handleUnfreezeRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Admin.UnfreezeRole(r.Context(), roles.Role(req.Role)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unfrozen"})
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeErrorMessage(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	events, err := s.Audit.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	type eventJSON struct {
		ID     string    `json:"id"`
		At     time.Time `json:"at"`
		Actor  string    `json:"actor"`
		Action string    `json:"action"`
		Detail string    `json:"detail"`
	}
	out := make([]eventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, eventJSON{ID: e.ID.String(), At: e.At, Actor: e.Actor, Action: e.Action, Detail: e.Detail})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.Overview.Overview(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	type assetJSON struct {
		AssetType string    `json:"asset_type"`
		Value     string    `json:"value"`
		UpdatedAt time.Time `json:"updated_at"`
		AgeMs     int64     `json:"age_ms"`
	}
	assets := make([]assetJSON, 0, len(snapshot.Assets))
	for _, a := range snapshot.Assets {
		assets = append(assets, assetJSON{
			AssetType: a.AssetType,
			Value:     a.Value.String(),
			UpdatedAt: a.UpdatedAt,
			AgeMs:     a.Age.Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              string(snapshot.Status),
		"total_shares":        snapshot.TotalShares.String(),
		"free_principal":      snapshot.FreePrincipal.String(),
		"fee_collected":       snapshot.FeeCollected.String(),
		"total_value":         snapshot.UncheckedTotalValue.String(),
		"assets":              assets,
		"epoch":               snapshot.Epoch,
		"epoch_loss":          snapshot.EpochLoss.String(),
		"epoch_loss_base":     snapshot.EpochLossBase.String(),
		"loss_tolerance_bps":  snapshot.LossToleranceBps,
		"operation_borrowed":  snapshot.OperationBorrowed,
		"operation_confirmed": snapshot.OperationConfirmed,
	})
}

func (s *Server) handleReceiptShares(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid receipt id")
		return
	}
	shares, err := s.Overview.ReceiptShareBalance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": shares.String()})
}
