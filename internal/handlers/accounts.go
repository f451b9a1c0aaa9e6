// Package handlers exposes the node's HTTP surfaces: the public login
// and registration endpoints, the node-to-node account RPC, and the
// admin fleet directory.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gatewatch/gatewatch/internal/models"
	pkghttp "github.com/gatewatch/gatewatch/pkg/http"
	pkglogger "github.com/gatewatch/gatewatch/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// AccountService is the slice of account operations the RPC surface
// serves. Satisfied by the local accounts controller: a node answers
// RPC only for state it owns or caches, never by proxying onward.
type AccountService interface {
	Get(ctx context.Context, usernameOrAccountID string) (*models.Account, error)
	Put(ctx context.Context, account *models.Account, cacheOnly bool) error
	TryGetCredit(ctx context.Context, usernameOrAccountID string, amount float64) (bool, error)
	UpdateForNewLoginAttempt(ctx context.Context, attempt *models.LoginAttempt, cacheOnly bool) error
	CreateAccount(ctx context.Context, usernameOrAccountID, password string, iterations int) (*models.Account, error)
}

// TypoAnalyzer reclassifies past ledger entries for an account this
// node owns or caches.
type TypoAnalyzer interface {
	UpdateOutcomesUsingTypoAnalysis(ctx context.Context, usernameOrAccountID, correctPassword string, phase1HashOfCorrectPassword []byte, ipToExclude string) (int, error)
}

// AccountsHandler handles account RPC and registration requests
type AccountsHandler struct {
	service AccountService
	typos   TypoAnalyzer
	logger  *slog.Logger
}

// NewAccountsHandler creates a new AccountsHandler
func NewAccountsHandler(service AccountService, typos TypoAnalyzer, logger *slog.Logger) *AccountsHandler {
	return &AccountsHandler{service: service, typos: typos, logger: logger}
}

// RegisterAccountRequest represents the request body for creating an account
type RegisterAccountRequest struct {
	UsernameOrAccountID string `json:"username_or_account_id" validate:"required,min=1,max=256"`
	Password            string `json:"password" validate:"required,min=1"`
	Iterations          int    `json:"iterations" validate:"gte=0"`
}

// RegisterAccountResponse confirms a created account without exposing
// any credential material.
type RegisterAccountResponse struct {
	UsernameOrAccountID string `json:"username_or_account_id"`
	CreatedAt           string `json:"created_at"`
}

// TypoAnalysisRequest carries the credential material a peer learned
// from a successful login so this node can re-score its own ledger copy.
type TypoAnalysisRequest struct {
	CorrectPassword string `json:"correct_password" validate:"required"`
	Phase1Hash      []byte `json:"phase1_hash" validate:"required"`
	IPToExclude     string `json:"ip_to_exclude"`
}

// TypoAnalysisResponse reports how many ledger entries were reclassified
type TypoAnalysisResponse struct {
	Reclassified int `json:"reclassified"`
}

// CreditRequest represents a node-to-node credit debit
type CreditRequest struct {
	Amount float64 `json:"amount" validate:"gt=0"`
}

// CreditResponse reports whether the debit was granted
type CreditResponse struct {
	Granted bool `json:"granted"`
}

func cacheOnlyParam(r *http.Request) bool {
	return r.URL.Query().Get("cache_only") == "true"
}

// GetAccount serves the full account record to fleet peers.
// This surface must never be reachable from outside the deployment:
// the record carries the phase-2 hash and the sealed ledger.
func (h *AccountsHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		pkghttp.WriteBadRequest(w, "account id is required")
		return
	}

	account, err := h.service.Get(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "account not found")
			return
		}
		h.logger.Error("failed to load account",
			slog.String("account", pkglogger.SanitizedAccountID(accountID)),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to load account")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, account)
}

// PutAccount stores an account record sent by a fleet peer.
func (h *AccountsHandler) PutAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var account models.Account
	if err := json.NewDecoder(r.Body).Decode(&account); err != nil {
		pkghttp.WriteBadRequest(w, "invalid account body")
		return
	}
	if account.UsernameOrAccountID == "" || account.UsernameOrAccountID != accountID {
		pkghttp.WriteBadRequest(w, "account id in path and body must match")
		return
	}

	if err := h.service.Put(r.Context(), &account, cacheOnlyParam(r)); err != nil {
		h.logger.Error("failed to store account",
			slog.String("account", pkglogger.SanitizedAccountID(accountID)),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to store account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TryGetCredit debits the account's guess allowance on behalf of a peer.
func (h *AccountsHandler) TryGetCredit(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid credit request body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	granted, err := h.service.TryGetCredit(r.Context(), accountID, req.Amount)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "account not found")
			return
		}
		h.logger.Error("credit debit failed",
			slog.String("account", pkglogger.SanitizedAccountID(accountID)),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "credit debit failed")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, CreditResponse{Granted: granted})
}

// RecordLoginAttempt folds a decided attempt into the account record on
// behalf of a peer.
func (h *AccountsHandler) RecordLoginAttempt(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var attempt models.LoginAttempt
	if err := json.NewDecoder(r.Body).Decode(&attempt); err != nil {
		pkghttp.WriteBadRequest(w, "invalid attempt body")
		return
	}
	if attempt.UsernameOrAccountID != accountID {
		pkghttp.WriteBadRequest(w, "account id in path and body must match")
		return
	}

	if err := h.service.UpdateForNewLoginAttempt(r.Context(), &attempt, cacheOnlyParam(r)); err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "account not found")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, err.Error())
		default:
			h.logger.Error("failed to record login attempt",
				slog.String("account", pkglogger.SanitizedAccountID(accountID)),
				slog.Any("error", err))
			pkghttp.WriteInternalError(w, "failed to record login attempt")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TypoAnalysis re-scores the account's ledger on behalf of a peer that
// just observed the correct password. The rewrite runs under this
// node's per-account lock, so the peer's cached copy never races it.
func (h *AccountsHandler) TypoAnalysis(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var req TypoAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid typo analysis body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	reclassified, err := h.typos.UpdateOutcomesUsingTypoAnalysis(r.Context(), accountID, req.CorrectPassword, req.Phase1Hash, req.IPToExclude)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "account not found")
		case errors.Is(err, models.ErrLedgerKeyUnavailable):
			pkghttp.WriteBadRequest(w, "phase1 hash does not unlock the account's ledger key")
		default:
			h.logger.Error("typo analysis failed",
				slog.String("account", pkglogger.SanitizedAccountID(accountID)),
				slog.Any("error", err))
			pkghttp.WriteInternalError(w, "typo analysis failed")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TypoAnalysisResponse{Reclassified: reclassified})
}

// RegisterAccount creates a new protected account.
func (h *AccountsHandler) RegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid registration body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if _, err := h.service.Get(r.Context(), req.UsernameOrAccountID); err == nil {
		pkghttp.WriteConflict(w, "account already exists")
		return
	} else if !errors.Is(err, models.ErrNotFound) {
		pkghttp.WriteInternalError(w, "failed to check existing account")
		return
	}

	account, err := h.service.CreateAccount(r.Context(), req.UsernameOrAccountID, req.Password, req.Iterations)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		h.logger.Error("failed to create account",
			slog.String("account", pkglogger.SanitizedAccountID(req.UsernameOrAccountID)),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to create account")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, RegisterAccountResponse{
		UsernameOrAccountID: account.UsernameOrAccountID,
		CreatedAt:           account.CreatedAt.Format(time.RFC3339),
	})
}
