package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/cliprally/backend/internal/commission"
	"github.com/cliprally/backend/internal/models"
	"github.com/cliprally/backend/internal/payee"
	"github.com/cliprally/backend/internal/payout"
	"github.com/cliprally/backend/internal/wallet"
)

// WalletService is the subset of the wallet service needed by the handlers.
type WalletService interface {
	RequestDeposit(ctx context.Context, creatorID uuid.UUID, requestedCents int64) (*models.DepositIntent, string, error)
	Balance(ctx context.Context, creatorID uuid.UUID) (*models.Wallet, error)
	GetDepositIntent(ctx context.Context, id uuid.UUID) (*models.DepositIntent, error)
}

// PayoutService is the subset of the payout orchestrator needed by the handlers.
type PayoutService interface {
	InitiatePayout(ctx context.Context, submissionID, clipperID, creatorID uuid.UUID, grossCents int64) (*models.Payout, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	RetryPending(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Payout, error)
}

// PayeeService is the subset of the payee directory needed by the handlers.
type PayeeService interface {
	Onboard(ctx context.Context, clipperID uuid.UUID, country string) (*models.PayeeAccount, string, error)
	Get(ctx context.Context, clipperID uuid.UUID) (*models.PayeeAccount, error)
	Refresh(ctx context.Context, clipperID uuid.UUID) (*models.PayeeAccount, error)
}

// SettlementHandler serves the /v1 settlement endpoints.
type SettlementHandler struct {
	Wallets WalletService
	Payouts PayoutService
	Payees  PayeeService
	Logger  *slog.Logger
}

// --- POST /v1/deposits ---

type createDepositRequest struct {
	CreatorID   string `json:"creator_id"`
	AmountCents int64  `json:"amount_cents"`
}

type createDepositResponse struct {
	DepositIntent *models.DepositIntent `json:"deposit_intent"`
	ClientToken   string                `json:"client_token"`
}

// CreateDeposit handles POST /v1/deposits. The wallet is credited only after
// the gateway confirms the charge via webhook; the response carries the
// client token for the gateway's payment form.
func (h *SettlementHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req createDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	creatorID, err := uuid.Parse(req.CreatorID)
	if err != nil {
		http.Error(w, `{"error":"invalid creator_id"}`, http.StatusBadRequest)
		return
	}

	intent, clientToken, err := h.Wallets.RequestDeposit(r.Context(), creatorID, req.AmountCents)
	if err != nil {
		if errors.Is(err, commission.ErrInvalidAmount) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("request deposit", "creator_id", creatorID, "error", err)
		http.Error(w, `{"error":"deposit request failed"}`, http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, createDepositResponse{DepositIntent: intent, ClientToken: clientToken})
}

// GetDeposit handles GET /v1/deposits/{id}.
func (h *SettlementHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, `{"error":"invalid deposit intent id"}`, http.StatusBadRequest)
		return
	}
	intent, err := h.Wallets.GetDepositIntent(r.Context(), id)
	if err != nil {
		if errors.Is(err, wallet.ErrUnknownIntent) {
			http.Error(w, `{"error":"deposit intent not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get deposit intent", "deposit_intent_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// --- GET /v1/wallets/{creatorID} ---

func (h *SettlementHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := pathUUID(r, "creatorID")
	if !ok {
		http.Error(w, `{"error":"invalid creator id"}`, http.StatusBadRequest)
		return
	}
	wal, err := h.Wallets.Balance(r.Context(), creatorID)
	if err != nil {
		h.Logger.Error("get wallet", "creator_id", creatorID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, wal)
}

// --- GET /v1/wallets/{creatorID}/payouts ---

func (h *SettlementHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := pathUUID(r, "creatorID")
	if !ok {
		http.Error(w, `{"error":"invalid creator id"}`, http.StatusBadRequest)
		return
	}
	payouts, err := h.Payouts.ListByCreator(r.Context(), creatorID)
	if err != nil {
		h.Logger.Error("list payouts", "creator_id", creatorID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if payouts == nil {
		payouts = []*models.Payout{}
	}
	writeJSON(w, http.StatusOK, payouts)
}

// --- POST /v1/payouts ---

type createPayoutRequest struct {
	SubmissionID string `json:"submission_id"`
	ClipperID    string `json:"clipper_id"`
	CreatorID    string `json:"creator_id"`
	GrossCents   int64  `json:"gross_cents"`
}

// CreatePayout handles POST /v1/payouts, the milestone trigger. The error
// taxonomy maps to distinct statuses so the caller can show the clipper or
// creator exactly what blocked the payout.
func (h *SettlementHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var req createPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	submissionID, err := uuid.Parse(req.SubmissionID)
	if err != nil {
		http.Error(w, `{"error":"invalid submission_id"}`, http.StatusBadRequest)
		return
	}
	clipperID, err := uuid.Parse(req.ClipperID)
	if err != nil {
		http.Error(w, `{"error":"invalid clipper_id"}`, http.StatusBadRequest)
		return
	}
	creatorID, err := uuid.Parse(req.CreatorID)
	if err != nil {
		http.Error(w, `{"error":"invalid creator_id"}`, http.StatusBadRequest)
		return
	}

	p, err := h.Payouts.InitiatePayout(r.Context(), submissionID, clipperID, creatorID, req.GrossCents)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, p)
	case errors.Is(err, payout.ErrBudgetExhausted):
		// The payout row persists pending; return it so the caller can
		// surface the unpayable milestone.
		writeJSON(w, http.StatusPaymentRequired, map[string]any{"error": "creator budget exhausted", "payout": p})
	case errors.Is(err, payout.ErrDuplicatePayout):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "payout already exists for submission"})
	case errors.Is(err, commission.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, payee.ErrNoPayeeAccount),
		errors.Is(err, payee.ErrOnboardingIncomplete),
		errors.Is(err, payee.ErrPayoutsDisabled):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		h.Logger.Error("initiate payout", "submission_id", submissionID, "error", err)
		http.Error(w, `{"error":"payout initiation failed"}`, http.StatusInternalServerError)
	}
}

// --- GET /v1/payouts/{id} ---

func (h *SettlementHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, `{"error":"invalid payout id"}`, http.StatusBadRequest)
		return
	}
	p, err := h.Payouts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, payout.ErrUnknownPayout) {
			http.Error(w, `{"error":"payout not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get payout", "payout_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- POST /v1/payouts/{id}/cancel ---

func (h *SettlementHandler) CancelPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, `{"error":"invalid payout id"}`, http.StatusBadRequest)
		return
	}
	err := h.Payouts.Cancel(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"payout_id": id.String(), "status": models.PayoutStatusReversed})
	case errors.Is(err, payout.ErrUnknownPayout):
		http.Error(w, `{"error":"payout not found"}`, http.StatusNotFound)
	case errors.Is(err, payout.ErrNotCancellable):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "payout is past the point of cancellation"})
	default:
		h.Logger.Error("cancel payout", "payout_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

// --- POST /v1/payouts/{id}/retry ---

func (h *SettlementHandler) RetryPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, `{"error":"invalid payout id"}`, http.StatusBadRequest)
		return
	}
	p, err := h.Payouts.RetryPending(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, p)
	case errors.Is(err, payout.ErrUnknownPayout):
		http.Error(w, `{"error":"payout not found"}`, http.StatusNotFound)
	case errors.Is(err, payout.ErrBudgetExhausted):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "creator budget still exhausted"})
	case errors.Is(err, payout.ErrNotRetryable):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "payout is not pending"})
	default:
		h.Logger.Error("retry payout", "payout_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

// --- POST /v1/payees ---

type createPayeeRequest struct {
	ClipperID string `json:"clipper_id"`
	Country   string `json:"country"`
}

type createPayeeResponse struct {
	PayeeAccount  *models.PayeeAccount `json:"payee_account"`
	OnboardingURL string               `json:"onboarding_url,omitempty"`
}

func (h *SettlementHandler) CreatePayee(w http.ResponseWriter, r *http.Request) {
	var req createPayeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	clipperID, err := uuid.Parse(req.ClipperID)
	if err != nil {
		http.Error(w, `{"error":"invalid clipper_id"}`, http.StatusBadRequest)
		return
	}
	if req.Country == "" {
		req.Country = "US"
	}

	account, onboardingURL, err := h.Payees.Onboard(r.Context(), clipperID, req.Country)
	if err != nil {
		h.Logger.Error("onboard payee", "clipper_id", clipperID, "error", err)
		http.Error(w, `{"error":"payee onboarding failed"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, createPayeeResponse{PayeeAccount: account, OnboardingURL: onboardingURL})
}

// --- GET /v1/payees/{clipperID} ---

func (h *SettlementHandler) GetPayee(w http.ResponseWriter, r *http.Request) {
	clipperID, ok := pathUUID(r, "clipperID")
	if !ok {
		http.Error(w, `{"error":"invalid clipper id"}`, http.StatusBadRequest)
		return
	}
	account, err := h.Payees.Get(r.Context(), clipperID)
	if err != nil {
		if errors.Is(err, payee.ErrNoPayeeAccount) {
			http.Error(w, `{"error":"payee account not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get payee", "clipper_id", clipperID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// --- POST /v1/payees/{clipperID}/refresh ---

// RefreshPayee pulls the live account status from the gateway, used by the
// onboarding-return flow instead of waiting for the webhook.
func (h *SettlementHandler) RefreshPayee(w http.ResponseWriter, r *http.Request) {
	clipperID, ok := pathUUID(r, "clipperID")
	if !ok {
		http.Error(w, `{"error":"invalid clipper id"}`, http.StatusBadRequest)
		return
	}
	account, err := h.Payees.Refresh(r.Context(), clipperID)
	if err != nil {
		if errors.Is(err, payee.ErrNoPayeeAccount) {
			http.Error(w, `{"error":"payee account not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("refresh payee", "clipper_id", clipperID, "error", err)
		http.Error(w, `{"error":"payee refresh failed"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// --- helpers ---

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
