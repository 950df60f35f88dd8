/**
 * @description
 * This file contains the HTTP handlers for the points-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hasher/points-service/internal/app"
	"github.com/hasher/points-service/internal/domain"
	"github.com/hasher/points-service/internal/store"
)

// PointsHandlers holds the application service that handlers will use.
type PointsHandlers struct {
	service *app.Service
}

// NewPointsHandlers creates a new instance of PointsHandlers.
func NewPointsHandlers(service *app.Service) *PointsHandlers {
	return &PointsHandlers{service: service}
}

// loginResponse is sent back after a login has been recorded.
type loginResponse struct {
	AccountID         string                   `json:"account_id"`
	Balance           int64                    `json:"balance"`
	BonusGranted      bool                     `json:"bonus_granted"`
	RetryAfterSeconds int64                    `json:"retry_after_seconds,omitempty"`
	Transaction       *domain.PointTransaction `json:"transaction,omitempty"`
}

type balanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

type historyResponse struct {
	AccountID    string                    `json:"account_id"`
	Transactions []domain.PointTransaction `json:"transactions"`
}

type uploadResponse struct {
	Paper           *domain.Paper             `json:"paper"`
	Credited        []domain.PointTransaction `json:"credited"`
	SkippedAdmins   []uuid.UUID               `json:"skipped_admins,omitempty"`
	AmountPerAuthor int64                     `json:"amount_per_author"`
}

type feedbackResponse struct {
	Feedback      *domain.Feedback         `json:"feedback"`
	Reward        *domain.PointTransaction `json:"reward,omitempty"`
	RewardSkipped bool                     `json:"reward_skipped,omitempty"`
	RewardPending bool                     `json:"reward_pending,omitempty"`
}

type downloadAuthorizeResponse struct {
	GrantID     string                   `json:"grant_id"`
	PaperID     string                   `json:"paper_id"`
	Status      string                   `json:"status"`
	CostCharged int64                    `json:"cost_charged"`
	ExpiresAt   string                   `json:"expires_at"`
	Transaction *domain.PointTransaction `json:"transaction,omitempty"`
}

type downloadConsumeResponse struct {
	GrantID       string `json:"grant_id"`
	PaperID       string `json:"paper_id"`
	FileKey       string `json:"file_key"`
	FileURL       string `json:"file_url,omitempty"`
	DownloadCount int64  `json:"download_count"`
}

type adminCreditResponse struct {
	AccountID   string                   `json:"account_id"`
	Skipped     bool                     `json:"skipped"`
	Transaction *domain.PointTransaction `json:"transaction,omitempty"`
}

// callerAccountID extracts and parses the authenticated account id from the
// request context.
func (h *PointsHandlers) callerAccountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get account ID from context")
		return uuid.Nil, false
	}
	accountID, err := uuid.Parse(idStr)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_account_id account_id=%s", idStr)
		h.writeError(w, http.StatusBadRequest, "Invalid account ID format")
		return uuid.Nil, false
	}
	return accountID, true
}

func (h *PointsHandlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s format", param))
		return uuid.Nil, false
	}
	return id, true
}

// LoginHandler records a login for the authenticated account and applies the
// daily bonus when the rolling window allows it.
func (h *PointsHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.callerAccountID(w, r)
	if !ok {
		return
	}

	result, err := h.service.RecordLogin(r.Context(), accountID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=login outcome=failed account_id=%s err=%v", accountID, err)
		h.writeLedgerError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=login outcome=ok account_id=%s bonus_granted=%v balance=%d", accountID, result.BonusGranted, result.Balance)
	h.writeJSON(w, http.StatusOK, loginResponse{
		AccountID:         result.AccountID.String(),
		Balance:           result.Balance,
		BonusGranted:      result.BonusGranted,
		RetryAfterSeconds: result.RetryAfterSeconds,
		Transaction:       result.Transaction,
	})
}

// BalanceHandler returns the current points balance for an account. Callers
// may only read their own balance unless they hold the admin role.
func (h *PointsHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerAccountID(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathUUID(w, r, "accountID")
	if !ok {
		return
	}
	if !h.authorizeAccountAccess(w, r, callerID, accountID) {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), accountID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{AccountID: accountID.String(), Balance: balance})
}

// HistoryHandler returns the full ledger history for an account, oldest first.
func (h *PointsHandlers) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerAccountID(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathUUID(w, r, "accountID")
	if !ok {
		return
	}
	if !h.authorizeAccountAccess(w, r, callerID, accountID) {
		return
	}

	transactions, err := h.service.GetHistory(r.Context(), accountID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	if transactions == nil {
		transactions = []domain.PointTransaction{}
	}

	h.writeJSON(w, http.StatusOK, historyResponse{AccountID: accountID.String(), Transactions: transactions})
}

// CreateAccountHandler provisions a ledger account for a platform user. This
// is an internal endpoint called by the auth pipeline, guarded by the
// internal API key.
func (h *PointsHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.ProvisionAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		h.writeError(w, http.StatusBadRequest, "Username must not be empty")
		return
	}
	if !req.Role.IsValid() {
		h.writeError(w, http.StatusBadRequest, "Role must be one of member, researcher, admin")
		return
	}

	account, err := h.service.ProvisionAccount(r.Context(), req.Username, req.Role)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_account outcome=failed username=%s err=%v", req.Username, err)
		if errors.Is(err, app.ErrUsernameTaken) {
			h.writeError(w, http.StatusConflict, "Username already registered")
			return
		}
		h.writeLedgerError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=create_account outcome=ok account_id=%s role=%s", account.ID, account.Role)
	h.writeJSON(w, http.StatusCreated, account)
}

// RecordUploadHandler registers a paper and credits its co-authors. This is
// an internal endpoint called by the upload pipeline, guarded by the internal
// API key rather than a user JWT.
func (h *PointsHandlers) RecordUploadHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=record_upload outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	paper, distribution, err := h.service.RecordUpload(r.Context(), req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=record_upload outcome=failed paper_id=%s err=%v", req.PaperID, err)
		if errors.Is(err, store.ErrUnknownAuthor) {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if errors.Is(err, app.ErrNoAuthors) || errors.Is(err, app.ErrEmptyTitle) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeLedgerError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=record_upload outcome=ok paper_id=%s credited=%d skipped_admins=%d", paper.ID, len(distribution.Credited), len(distribution.SkippedAdmins))
	credited := distribution.Credited
	if credited == nil {
		credited = []domain.PointTransaction{}
	}
	h.writeJSON(w, http.StatusCreated, uploadResponse{
		Paper:           paper,
		Credited:        credited,
		SkippedAdmins:   distribution.SkippedAdmins,
		AmountPerAuthor: h.service.Policy().UploadReward,
	})
}

// SubmitFeedbackHandler records feedback on a paper and credits the reviewer.
func (h *PointsHandlers) SubmitFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := h.callerAccountID(w, r)
	if !ok {
		return
	}
	paperID, ok := h.pathUUID(w, r, "paperID")
	if !ok {
		return
	}

	var req domain.SubmitFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := h.service.SubmitFeedback(r.Context(), paperID, reviewerID, req)
	if err != nil {
		if errors.Is(err, app.ErrPartialRewardFailure) {
			// The claim stands even though the credit failed. 202 tells the
			// client the feedback was recorded but the reward is pending.
			log.Printf("level=error component=api endpoint=submit_feedback outcome=partial paper_id=%s reviewer_id=%s err=%v", paperID, reviewerID, err)
			h.writeJSON(w, http.StatusAccepted, feedbackResponse{Feedback: result.Feedback, RewardPending: true})
			return
		}
		log.Printf("level=warn component=api endpoint=submit_feedback outcome=failed paper_id=%s reviewer_id=%s err=%v", paperID, reviewerID, err)
		if errors.Is(err, store.ErrDuplicateFeedback) {
			h.writeError(w, http.StatusConflict, "Feedback already submitted for this paper")
			return
		}
		if errors.Is(err, app.ErrEmptyFeedback) || errors.Is(err, app.ErrInvalidRating) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeLedgerError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=submit_feedback outcome=ok paper_id=%s reviewer_id=%s reward_skipped=%v", paperID, reviewerID, result.RewardSkipped)
	h.writeJSON(w, http.StatusCreated, feedbackResponse{
		Feedback:      result.Feedback,
		Reward:        result.Reward,
		RewardSkipped: result.RewardSkipped,
	})
}

// ListFeedbackHandler returns all feedback for a paper.
func (h *PointsHandlers) ListFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	paperID, ok := h.pathUUID(w, r, "paperID")
	if !ok {
		return
	}

	entries, err := h.service.ListFeedback(r.Context(), paperID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.Feedback{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// AuthorizeDownloadHandler is phase one of the download spend. It debits the
// download cost and issues a time-boxed grant.
func (h *PointsHandlers) AuthorizeDownloadHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.callerAccountID(w, r)
	if !ok {
		return
	}
	paperID, ok := h.pathUUID(w, r, "paperID")
	if !ok {
		return
	}

	auth, err := h.service.AuthorizeDownload(r.Context(), paperID, accountID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=authorize_download outcome=failed paper_id=%s account_id=%s err=%v", paperID, accountID, err)
		if errors.Is(err, store.ErrGrantAlreadyActive) {
			h.writeError(w, http.StatusConflict, "An unconsumed download grant already exists for this paper")
			return
		}
		h.writeLedgerError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=authorize_download outcome=ok paper_id=%s account_id=%s cost=%d grant_id=%s", paperID, accountID, auth.Grant.CostCharged, auth.Grant.ID)
	h.writeJSON(w, http.StatusOK, downloadAuthorizeResponse{
		GrantID:     auth.Grant.ID.String(),
		PaperID:     paperID.String(),
		Status:      auth.Grant.Status,
		CostCharged: auth.Grant.CostCharged,
		ExpiresAt:   auth.Grant.ExpiresAt.Format(time.RFC3339),
		Transaction: auth.Transaction,
	})
}

// ConsumeDownloadHandler is phase two of the download spend. It redeems the
// grant and returns the file reference.
func (h *PointsHandlers) ConsumeDownloadHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.callerAccountID(w, r)
	if !ok {
		return
	}
	paperID, ok := h.pathUUID(w, r, "paperID")
	if !ok {
		return
	}

	delivery, err := h.service.ConsumeDownload(r.Context(), paperID, accountID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=consume_download outcome=failed paper_id=%s account_id=%s err=%v", paperID, accountID, err)
		switch {
		case errors.Is(err, store.ErrGrantExpired):
			h.writeError(w, http.StatusGone, "Download grant has expired")
		case errors.Is(err, store.ErrGrantAlreadyConsumed):
			h.writeError(w, http.StatusConflict, "Download grant already consumed")
		case errors.Is(err, store.ErrGrantNotFound):
			h.writeError(w, http.StatusNotFound, "No download grant found for this paper")
		default:
			h.writeLedgerError(w, err)
		}
		return
	}

	log.Printf("level=info component=api endpoint=consume_download outcome=ok paper_id=%s account_id=%s download_count=%d", paperID, accountID, delivery.DownloadCount)
	h.writeJSON(w, http.StatusOK, downloadConsumeResponse{
		GrantID:       delivery.Grant.ID.String(),
		PaperID:       paperID.String(),
		FileKey:       delivery.FileKey,
		FileURL:       delivery.FileURL,
		DownloadCount: delivery.DownloadCount,
	})
}

// AdminCreditHandler applies an operator-initiated credit to an account.
func (h *PointsHandlers) AdminCreditHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.pathUUID(w, r, "accountID")
	if !ok {
		return
	}

	var req domain.AdminCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.Points <= 0 {
		h.writeError(w, http.StatusBadRequest, "Points must be a positive integer")
		return
	}

	result, err := h.service.AdminCredit(r.Context(), accountID, req.Points)
	if err != nil {
		log.Printf("level=warn component=api endpoint=admin_credit outcome=failed account_id=%s err=%v", accountID, err)
		h.writeLedgerError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=admin_credit outcome=ok account_id=%s points=%d skipped=%v", accountID, req.Points, result.Skipped)
	h.writeJSON(w, http.StatusOK, adminCreditResponse{
		AccountID:   accountID.String(),
		Skipped:     result.Skipped,
		Transaction: result.Transaction,
	})
}

// authorizeAccountAccess ensures a caller only reads their own ledger unless
// they hold the admin role.
func (h *PointsHandlers) authorizeAccountAccess(w http.ResponseWriter, r *http.Request, callerID, accountID uuid.UUID) bool {
	if callerID == accountID {
		return true
	}
	if role, ok := GetAccountRole(r.Context()); ok && role == "admin" {
		return true
	}
	h.writeError(w, http.StatusForbidden, "Cannot access another account's ledger")
	return false
}

// writeLedgerError maps the shared error taxonomy to HTTP status codes.
func (h *PointsHandlers) writeLedgerError(w http.ResponseWriter, err error) {
	var rateErr *app.RateLimitedError
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, "Insufficient points")
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, store.ErrPaperNotFound):
		h.writeError(w, http.StatusNotFound, "Paper not found")
	case errors.Is(err, store.ErrStoreUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "Ledger store temporarily unavailable, retry later")
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *PointsHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PointsHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
