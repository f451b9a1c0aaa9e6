package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gatewatch/gatewatch/internal/blocking"
	"github.com/gatewatch/gatewatch/internal/models"
	pkghttp "github.com/gatewatch/gatewatch/pkg/http"
	pkglogger "github.com/gatewatch/gatewatch/pkg/logger"
)

// LoginEvaluator decides login attempts.
type LoginEvaluator interface {
	Evaluate(ctx context.Context, req blocking.Request) (*models.LoginAttempt, error)
}

// LoginHandler handles the public login evaluation endpoint
type LoginHandler struct {
	engine   LoginEvaluator
	ipConfig *pkghttp.IPConfig
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
}

// NewLoginHandler creates a new LoginHandler
func NewLoginHandler(engine LoginEvaluator, ipConfig *pkghttp.IPConfig, audit *pkglogger.AuditLogger, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{engine: engine, ipConfig: ipConfig, audit: audit, logger: logger}
}

// LoginRequest represents the request body for evaluating a login
type LoginRequest struct {
	UsernameOrAccountID string `json:"username_or_account_id" validate:"required,min=1,max=256"`
	Password            string `json:"password" validate:"required"`
	DeviceCookie        string `json:"device_cookie"`
	ClientClaimedTime   string `json:"client_claimed_time"`
}

// LoginResponse reports the decision for one attempt
type LoginResponse struct {
	AttemptID string `json:"attempt_id"`
	Outcome   string `json:"outcome"`
	Allowed   bool   `json:"allowed"`
}

// Login evaluates one login attempt. The caller is the protected
// application's frontend, which relays the end user's credentials; the
// outcome tells it whether to establish a session.
func (h *LoginHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid login body")
		return
	}
	if err := ValidateRequest(&req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var claimedTime time.Time
	if req.ClientClaimedTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.ClientClaimedTime)
		if err != nil {
			pkghttp.WriteBadRequest(w, "client_claimed_time must be RFC3339")
			return
		}
		claimedTime = parsed
	}

	attempt, err := h.engine.Evaluate(r.Context(), blocking.Request{
		UsernameOrAccountID: req.UsernameOrAccountID,
		Password:            req.Password,
		AddressOfClient:     pkghttp.ExtractClientIP(r, h.ipConfig),
		DeviceCookie:        req.DeviceCookie,
		ClientClaimedTime:   claimedTime,
	})
	if err != nil {
		if errors.Is(err, models.ErrNoHostAvailable) {
			pkghttp.WriteServiceUnavailable(w, "no responsible host reachable")
			return
		}
		h.logger.Error("login evaluation failed",
			slog.String("account", pkglogger.SanitizedAccountID(req.UsernameOrAccountID)),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "login evaluation failed")
		return
	}

	allowed := attempt.Outcome == models.OutcomeCredentialsValid
	h.audit.LogLoginDecision(pkglogger.DecisionEvent{
		AccountID:       attempt.UsernameOrAccountID,
		AddressOfClient: attempt.AddressOfClient,
		Outcome:         string(attempt.Outcome),
		AttemptID:       attempt.ID.String(),
	}, allowed)

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		AttemptID: attempt.ID.String(),
		Outcome:   string(attempt.Outcome),
		Allowed:   allowed,
	})
}
