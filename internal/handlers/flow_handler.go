package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okellodev/authgate/internal/auth"
	"github.com/okellodev/authgate/internal/flow"
	"github.com/okellodev/authgate/internal/models"
	pkghttp "github.com/okellodev/authgate/pkg/http"
)

// FlowHandler exposes the login flow over HTTP. One flow per working
// session; the flow ID returned on start correlates all later submissions.
type FlowHandler struct {
	registry  *flow.Registry
	newFlow   func() *flow.Flow
	cookieCfg auth.CookieConfig
	ipConfig  *pkghttp.IPConfig
	logger    *slog.Logger
}

// NewFlowHandler creates a new FlowHandler.
func NewFlowHandler(registry *flow.Registry, newFlow func() *flow.Flow, cookieCfg auth.CookieConfig, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *FlowHandler {
	return &FlowHandler{
		registry:  registry,
		newFlow:   newFlow,
		cookieCfg: cookieCfg,
		ipConfig:  ipConfig,
		logger:    logger,
	}
}

// Request DTOs

// EmailRequest represents the email phase submission
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// PasswordRequest represents the password phase submission
type PasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

// CodeRequest represents the second-factor phase submission
type CodeRequest struct {
	Code string `json:"code" validate:"required"`
}

// BackRequest selects which phase to return to
type BackRequest struct {
	To string `json:"to" validate:"required,oneof=email password"`
}

// CountdownResponse mirrors flow.CountdownState
type CountdownResponse struct {
	RemainingSeconds int    `json:"remaining_seconds"`
	Fired            bool   `json:"fired"`
	RecoveryPath     string `json:"recovery_path"`
}

// FlowResponse is the rendered flow state returned by every endpoint
type FlowResponse struct {
	FlowID            string             `json:"flow_id"`
	Phase             string             `json:"phase"`
	Identity          string             `json:"identity,omitempty"`
	Error             string             `json:"error,omitempty"`
	Info              string             `json:"info,omitempty"`
	Busy              bool               `json:"busy"`
	Resending         bool               `json:"resending"`
	Locked            bool               `json:"locked"`
	LockedUntil       *time.Time         `json:"locked_until,omitempty"`
	AttemptsRemaining int                `json:"attempts_remaining"`
	Countdown         *CountdownResponse `json:"countdown,omitempty"`
	Authenticated     bool               `json:"authenticated"`
	RedirectTo        string             `json:"redirect_to,omitempty"`
	CodeReset         bool               `json:"code_reset,omitempty"`
}

// Start creates a new flow
// @Router /auth/flow [post]
func (h *FlowHandler) Start(w http.ResponseWriter, r *http.Request) {
	f := h.newFlow()
	h.registry.Put(f)

	clientIP := pkghttp.ExtractClientIP(r, h.ipConfig)
	h.logger.Info("login flow started",
		slog.String("flow_id", f.ID()),
		slog.String("client_ip", clientIP))

	writeFlowState(w, http.StatusCreated, f.State(), false)
}

// Get returns the current flow state
// @Router /auth/flow/{flowID} [get]
func (h *FlowHandler) Get(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeFlowState(w, http.StatusOK, f.State(), false)
}

// SubmitEmail handles the email phase
// @Router /auth/flow/{flowID}/email [post]
func (h *FlowHandler) SubmitEmail(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	snap, err := f.SubmitEmail(req.Email)
	h.respond(w, snap, err, false)
}

// SubmitPassword handles the password phase
// @Router /auth/flow/{flowID}/password [post]
func (h *FlowHandler) SubmitPassword(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req PasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	snap, err := f.SubmitPassword(r.Context(), req.Password)
	h.finishAuth(w, snap, err)
}

// SubmitCode handles the second-factor phase
// @Router /auth/flow/{flowID}/code [post]
func (h *FlowHandler) SubmitCode(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req CodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	snap, err := f.SubmitCode(r.Context(), req.Code)
	h.finishAuth(w, snap, err)
}

// Resend asks for a fresh second-factor code
// @Router /auth/flow/{flowID}/resend [post]
func (h *FlowHandler) Resend(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}

	snap, sent, err := f.Resend(r.Context())
	if err != nil {
		h.respond(w, snap, err, false)
		return
	}
	writeFlowState(w, http.StatusOK, snap, sent)
}

// Back returns to a previous phase
// @Router /auth/flow/{flowID}/back [post]
func (h *FlowHandler) Back(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req BackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var snap flow.Snapshot
	var err error
	if req.To == "email" {
		snap, err = f.BackToEmail()
	} else {
		snap, err = f.BackToPassword()
	}
	h.respond(w, snap, err, false)
}

// SkipCountdown short-circuits the password-expired countdown
// @Router /auth/flow/{flowID}/skip [post]
func (h *FlowHandler) SkipCountdown(w http.ResponseWriter, r *http.Request) {
	f, ok := h.lookup(w, r)
	if !ok {
		return
	}

	snap, err := f.SkipCountdown()
	h.respond(w, snap, err, false)
}

func (h *FlowHandler) lookup(w http.ResponseWriter, r *http.Request) (*flow.Flow, bool) {
	id := chi.URLParam(r, "flowID")
	f, ok := h.registry.Get(id)
	if !ok {
		pkghttp.WriteNotFound(w, "Login flow not found or expired")
		return nil, false
	}
	return f, true
}

func (h *FlowHandler) respond(w http.ResponseWriter, snap flow.Snapshot, err error, codeReset bool) {
	if err != nil {
		if errors.Is(err, models.ErrWrongPhase) {
			pkghttp.WriteConflict(w, "Action not available in the current phase")
			return
		}
		h.logger.Error("flow action failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}
	writeFlowState(w, http.StatusOK, snap, codeReset)
}

// finishAuth writes the flow state and, when a session was just
// established, relays the upstream tokens as cookies and destroys the flow.
func (h *FlowHandler) finishAuth(w http.ResponseWriter, snap flow.Snapshot, err error) {
	if err != nil {
		h.respond(w, snap, err, false)
		return
	}

	if snap.Authenticated && snap.Session != nil {
		auth.SetSessionCookies(w, snap.Session.AccessToken, snap.Session.RefreshToken, h.cookieCfg)
		h.registry.Remove(snap.ID)
		h.logger.Info("login flow completed", slog.String("flow_id", snap.ID))
	}

	writeFlowState(w, http.StatusOK, snap, false)
}

func writeFlowState(w http.ResponseWriter, status int, snap flow.Snapshot, codeReset bool) {
	resp := FlowResponse{
		FlowID:            snap.ID,
		Phase:             string(snap.Phase),
		Identity:          snap.Identity,
		Error:             snap.ErrorMessage,
		Info:              snap.InfoMessage,
		Busy:              snap.Busy,
		Resending:         snap.Resending,
		Locked:            snap.Locked,
		LockedUntil:       snap.LockedUntil,
		AttemptsRemaining: snap.AttemptsRemaining,
		Authenticated:     snap.Authenticated,
		RedirectTo:        snap.RedirectTo,
		CodeReset:         codeReset,
	}
	if snap.Countdown != nil {
		resp.Countdown = &CountdownResponse{
			RemainingSeconds: snap.Countdown.RemainingSeconds,
			Fired:            snap.Countdown.Fired,
			RecoveryPath:     snap.Countdown.RecoveryPath,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
