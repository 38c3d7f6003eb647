/**
 * @description
 * HTTP handlers for the ledger-service. The /ledger/me routes act on the account of
 * the authenticated user; the /internal/ledger routes are called by the order and
 * auth services and by operators through ledgerctl.
 */
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/SanaullahForhad/sooqkabeer-production/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// LedgerService is the application surface the handlers need.
type LedgerService interface {
	RegisterAccount(ctx context.Context, accountID string, kind domain.AccountKind, referralCode string) (*domain.Account, error)
	RegisterReferral(ctx context.Context, newUserID, referralCodeUsed string) (*domain.ReferralResult, error)
	ProcessOrderCompletion(ctx context.Context, order domain.OrderCompletion) ([]domain.CommissionEntry, error)
	SettleCommission(ctx context.Context, entryID uuid.UUID, status domain.CommissionStatus, notes string) (*domain.CommissionEntry, error)

	RequestWithdrawal(ctx context.Context, accountID string, amount int64, payoutMethod, accountDetails string) (*domain.WithdrawalRequest, error)
	MarkWithdrawalProcessing(ctx context.Context, requestID uuid.UUID, notes string) (*domain.WithdrawalRequest, error)
	ApproveWithdrawal(ctx context.Context, requestID uuid.UUID, notes string) (*domain.WithdrawalRequest, error)
	RejectWithdrawal(ctx context.Context, requestID uuid.UUID, reason string) (*domain.WithdrawalRequest, error)
	GetWithdrawal(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, accountID string, limit int) ([]domain.WithdrawalRequest, error)

	GetBalance(ctx context.Context, accountID string) (*domain.Balance, error)
	GetCommissionHistory(ctx context.Context, accountID string, limit int) ([]domain.CommissionEntry, error)
	GetReferralStats(ctx context.Context, accountID string) (*domain.ReferralStats, error)
}

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service LedgerService
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service LedgerService) *Handler {
	return &Handler{service: service}
}

type registerAccountRequest struct {
	AccountID    string             `json:"account_id"`
	Kind         domain.AccountKind `json:"kind"`
	ReferralCode string             `json:"referral_code"`
}

type registerReferralRequest struct {
	NewUserID    string `json:"new_user_id"`
	ReferralCode string `json:"referral_code"`
}

type withdrawalRequestBody struct {
	Amount         int64  `json:"amount"` // in fils
	PayoutMethod   string `json:"payout_method"`
	AccountDetails string `json:"account_details"`
}

type settleCommissionRequest struct {
	Status domain.CommissionStatus `json:"status"`
	Notes  string                  `json:"notes"`
}

type withdrawalDecisionRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

type orderCompletionResponse struct {
	Entries []domain.CommissionEntry `json:"entries"`
	Error   string                   `json:"error,omitempty"`
}

// --- /ledger/me ---

func (h *Handler) handleGetMyBalance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.writeBalance(w, r, accountID)
}

func (h *Handler) handleGetMyCommissions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.writeCommissions(w, r, accountID)
}

func (h *Handler) handleGetMyReferralStats(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.writeReferralStats(w, r, accountID)
}

func (h *Handler) handleListMyWithdrawals(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	reqs, err := h.service.ListWithdrawals(r.Context(), accountID, queryLimit(r))
	if err != nil {
		respondWithError(w, "list withdrawals", err)
		return
	}
	respondWithJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var body withdrawalRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}
	req, err := h.service.RequestWithdrawal(r.Context(), accountID, body.Amount, body.PayoutMethod, body.AccountDetails)
	if err != nil {
		respondWithError(w, "request withdrawal", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, req)
}

// --- /internal/ledger ---

func (h *Handler) handleRegisterAccount(w http.ResponseWriter, r *http.Request) {
	var body registerAccountRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	acct, err := h.service.RegisterAccount(r.Context(), body.AccountID, body.Kind, body.ReferralCode)
	if err != nil {
		respondWithError(w, "register account", err)
		return
	}
	respondWithJSON(w, http.StatusOK, acct)
}

func (h *Handler) handleRegisterReferral(w http.ResponseWriter, r *http.Request) {
	var body registerReferralRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	result, err := h.service.RegisterReferral(r.Context(), body.NewUserID, body.ReferralCode)
	if err != nil {
		respondWithError(w, "register referral", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

// handleOrderCompleted returns the stored entries even when some failed, so the caller
// can see what is already committed before retrying.
func (h *Handler) handleOrderCompleted(w http.ResponseWriter, r *http.Request) {
	var body domain.OrderCompletedEvent
	if !decodeJSON(w, r, &body) {
		return
	}
	entries, err := h.service.ProcessOrderCompletion(r.Context(), domain.OrderCompletion{
		OrderID:          body.OrderID,
		BuyerID:          body.BuyerID,
		Total:            body.Total,
		VendorLineTotals: body.VendorLines,
	})
	if err != nil && len(entries) == 0 {
		respondWithError(w, "process order completion", err)
		return
	}
	if entries == nil {
		entries = []domain.CommissionEntry{}
	}
	if err != nil {
		status := statusForError(err)
		respondWithJSON(w, status, orderCompletionResponse{Entries: entries, Error: publicMessage("process order completion", status, err)})
		return
	}
	respondWithJSON(w, http.StatusOK, orderCompletionResponse{Entries: entries})
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	h.writeBalance(w, r, chi.URLParam(r, "accountID"))
}

func (h *Handler) handleGetCommissions(w http.ResponseWriter, r *http.Request) {
	h.writeCommissions(w, r, chi.URLParam(r, "accountID"))
}

func (h *Handler) handleGetReferralStats(w http.ResponseWriter, r *http.Request) {
	h.writeReferralStats(w, r, chi.URLParam(r, "accountID"))
}

func (h *Handler) handleSettleCommission(w http.ResponseWriter, r *http.Request) {
	entryID, ok := uuidParam(w, r, "entryID")
	if !ok {
		return
	}
	var body settleCommissionRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	entry, err := h.service.SettleCommission(r.Context(), entryID, body.Status, body.Notes)
	if err != nil {
		respondWithError(w, "settle commission", err)
		return
	}
	respondWithJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleGetWithdrawal(w http.ResponseWriter, r *http.Request) {
	requestID, ok := uuidParam(w, r, "requestID")
	if !ok {
		return
	}
	req, err := h.service.GetWithdrawal(r.Context(), requestID)
	if err != nil {
		respondWithError(w, "get withdrawal", err)
		return
	}
	respondWithJSON(w, http.StatusOK, req)
}

func (h *Handler) handleMarkWithdrawalProcessing(w http.ResponseWriter, r *http.Request) {
	h.decideWithdrawal(w, r, "mark withdrawal processing", func(ctx context.Context, id uuid.UUID, body withdrawalDecisionRequest) (*domain.WithdrawalRequest, error) {
		return h.service.MarkWithdrawalProcessing(ctx, id, body.Notes)
	})
}

func (h *Handler) handleApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.decideWithdrawal(w, r, "approve withdrawal", func(ctx context.Context, id uuid.UUID, body withdrawalDecisionRequest) (*domain.WithdrawalRequest, error) {
		return h.service.ApproveWithdrawal(ctx, id, body.Notes)
	})
}

func (h *Handler) handleRejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.decideWithdrawal(w, r, "reject withdrawal", func(ctx context.Context, id uuid.UUID, body withdrawalDecisionRequest) (*domain.WithdrawalRequest, error) {
		return h.service.RejectWithdrawal(ctx, id, body.Reason)
	})
}

// --- shared ---

func (h *Handler) decideWithdrawal(w http.ResponseWriter, r *http.Request, op string, decide func(context.Context, uuid.UUID, withdrawalDecisionRequest) (*domain.WithdrawalRequest, error)) {
	requestID, ok := uuidParam(w, r, "requestID")
	if !ok {
		return
	}
	var body withdrawalDecisionRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return
	}
	req, err := decide(r.Context(), requestID, body)
	if err != nil {
		respondWithError(w, op, err)
		return
	}
	respondWithJSON(w, http.StatusOK, req)
}

func (h *Handler) writeBalance(w http.ResponseWriter, r *http.Request, accountID string) {
	balance, err := h.service.GetBalance(r.Context(), accountID)
	if err != nil {
		respondWithError(w, "get balance", err)
		return
	}
	respondWithJSON(w, http.StatusOK, balance)
}

func (h *Handler) writeCommissions(w http.ResponseWriter, r *http.Request, accountID string) {
	entries, err := h.service.GetCommissionHistory(r.Context(), accountID, queryLimit(r))
	if err != nil {
		respondWithError(w, "get commission history", err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (h *Handler) writeReferralStats(w http.ResponseWriter, r *http.Request, accountID string) {
	stats, err := h.service.GetReferralStats(r.Context(), accountID)
	if err != nil {
		respondWithError(w, "get referral stats", err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// queryLimit reads ?limit=; zero lets the service pick its default.
func queryLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
