package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tmcalister/rampart/internal/services"
	pkghttp "github.com/tmcalister/rampart/pkg/http"
)

// AttemptHandler exposes the login-flow operations to the fronting
// authentication service: precheck, outcome recording, and step-up
// verification. Caller identity on these routes is the identifier under
// evaluation, not an authenticated principal.
type AttemptHandler struct {
	throttle     *services.ThrottleService
	secondFactor *services.SecondFactorService
	emergency    *services.EmergencyService
}

// NewAttemptHandler creates a new AttemptHandler
func NewAttemptHandler(
	throttle *services.ThrottleService,
	secondFactor *services.SecondFactorService,
	emergency *services.EmergencyService,
) *AttemptHandler {
	return &AttemptHandler{
		throttle:     throttle,
		secondFactor: secondFactor,
		emergency:    emergency,
	}
}

type precheckRequest struct {
	Identifier string `json:"identifier"`
}

type precheckResponse struct {
	Allowed         bool       `json:"allowed"`
	FailedAttempts  int        `json:"failed_attempts"`
	RequiredDelayMs int64      `json:"required_delay_ms"`
	RequiresCaptcha bool       `json:"requires_captcha"`
	IsLocked        bool       `json:"is_locked"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
}

// Precheck handles POST /v1/attempts/precheck. The computed delay is
// also applied server side before responding, so callers that ignore
// required_delay_ms still pay it.
func (h *AttemptHandler) Precheck(w http.ResponseWriter, r *http.Request) {
	var req precheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" {
		pkghttp.WriteBadRequest(w, "identifier is required")
		return
	}

	result, err := h.throttle.PrecheckLogin(r.Context(), req.Identifier)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	h.throttle.ApplyDelay(r.Context(), result.RequiredDelay)

	pkghttp.WriteJSON(w, http.StatusOK, precheckResponse{
		Allowed:         result.Allowed,
		FailedAttempts:  result.FailedAttempts,
		RequiredDelayMs: result.RequiredDelay.Milliseconds(),
		RequiresCaptcha: result.RequiresCaptcha,
		IsLocked:        result.IsLocked,
		LockedUntil:     result.LockedUntil,
	})
}

type recordFailureRequest struct {
	Identifier      string `json:"identifier"`
	Reason          string `json:"reason"`
	CaptchaRequired bool   `json:"captcha_required"`
	CaptchaVerified *bool  `json:"captcha_verified,omitempty"`
}

type recordResponse struct {
	AttemptID      uuid.UUID `json:"attempt_id"`
	IsAnomalous    bool      `json:"is_anomalous"`
	AnomalyReasons []string  `json:"anomaly_reasons,omitempty"`
}

// RecordFailure handles POST /v1/attempts/failure
func (h *AttemptHandler) RecordFailure(w http.ResponseWriter, r *http.Request) {
	var req recordFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" || req.Reason == "" {
		pkghttp.WriteBadRequest(w, "identifier and reason are required")
		return
	}

	result, err := h.throttle.RecordFailure(r.Context(), req.Identifier, req.Reason,
		clientIP(r), r.UserAgent(), req.CaptchaRequired, req.CaptchaVerified)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, recordResponse{
		AttemptID:      result.AttemptID,
		IsAnomalous:    result.IsAnomalous,
		AnomalyReasons: result.AnomalyReasons,
	})
}

type recordSuccessRequest struct {
	AccountID uuid.UUID `json:"account_id"`
}

// RecordSuccess handles POST /v1/attempts/success
func (h *AttemptHandler) RecordSuccess(w http.ResponseWriter, r *http.Request) {
	var req recordSuccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == uuid.Nil {
		pkghttp.WriteBadRequest(w, "account_id is required")
		return
	}

	result, err := h.throttle.RecordSuccess(r.Context(), req.AccountID, clientIP(r), r.UserAgent())
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, recordResponse{
		AttemptID:      result.AttemptID,
		IsAnomalous:    result.IsAnomalous,
		AnomalyReasons: result.AnomalyReasons,
	})
}

type verifyCodeRequest struct {
	AccountID uuid.UUID `json:"account_id"`
	Code      string    `json:"code"`
}

type verifyCodeResponse struct {
	Valid bool `json:"valid"`
}

// VerifySecondFactor handles POST /v1/second-factor/verify
func (h *AttemptHandler) VerifySecondFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == uuid.Nil || req.Code == "" {
		pkghttp.WriteBadRequest(w, "account_id and code are required")
		return
	}

	valid, err := h.secondFactor.Verify(r.Context(), req.AccountID, req.Code, clientIP(r), r.UserAgent())
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, verifyCodeResponse{Valid: valid})
}

// VerifyEmergencyCode handles POST /v1/emergency/verify. Invalid,
// expired, and already-used codes all produce the same response body.
func (h *AttemptHandler) VerifyEmergencyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == uuid.Nil || req.Code == "" {
		pkghttp.WriteBadRequest(w, "account_id and code are required")
		return
	}

	valid, err := h.emergency.VerifyCode(r.Context(), req.AccountID, req.Code, clientIP(r))
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, verifyCodeResponse{Valid: valid})
}

// clientIP returns the request origin address. RealIP middleware has
// already folded X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
