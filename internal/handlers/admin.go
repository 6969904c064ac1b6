package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tmcalister/rampart/internal/services"
	pkghttp "github.com/tmcalister/rampart/pkg/http"
)

// actorHeader carries the authenticated administrator identity. The
// engine sits behind a gateway that authenticates operators and
// attests their id on this header.
const actorHeader = "X-Actor-ID"

// AdminHandler exposes the operator surface: lockout overrides, the
// alert lifecycle, emergency access, and audit trails.
type AdminHandler struct {
	throttle     *services.ThrottleService
	monitor      *services.MonitorService
	emergency    *services.EmergencyService
	secondFactor *services.SecondFactorService
	audit        *services.AuditService
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(
	throttle *services.ThrottleService,
	monitor *services.MonitorService,
	emergency *services.EmergencyService,
	secondFactor *services.SecondFactorService,
	audit *services.AuditService,
) *AdminHandler {
	return &AdminHandler{
		throttle:     throttle,
		monitor:      monitor,
		emergency:    emergency,
		secondFactor: secondFactor,
		audit:        audit,
	}
}

func actorID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(actorHeader))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func pathUUID(r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// UnlockAccount handles POST /v1/admin/accounts/{id}/unlock
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	admin, ok := actorID(r)
	if !ok {
		pkghttp.WriteForbidden(w, "Missing or invalid actor identity")
		return
	}
	accountID, ok := pathUUID(r, "id")
	if !ok {
		pkghttp.WriteBadRequest(w, "Invalid account id")
		return
	}

	if err := h.throttle.UnlockAccount(r.Context(), accountID, admin); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAlerts handles GET /v1/admin/alerts
// Accepts optional query param ?limit=N (1-100, default 50).
func (h *AdminHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	alerts, err := h.monitor.ListActiveAlerts(r.Context(), limit)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// GetAlert handles GET /v1/admin/alerts/{id}
func (h *AdminHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alertID, ok := pathUUID(r, "id")
	if !ok {
		pkghttp.WriteBadRequest(w, "Invalid alert id")
		return
	}

	alert, err := h.monitor.GetAlert(r.Context(), alertID)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, alert)
}

// AcknowledgeAlert handles POST /v1/admin/alerts/{id}/acknowledge
func (h *AdminHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	admin, ok := actorID(r)
	if !ok {
		pkghttp.WriteForbidden(w, "Missing or invalid actor identity")
		return
	}
	alertID, ok := pathUUID(r, "id")
	if !ok {
		pkghttp.WriteBadRequest(w, "Invalid alert id")
		return
	}

	if err := h.monitor.AcknowledgeAlert(r.Context(), alertID, admin); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resolveAlertRequest struct {
	Resolution string `json:"resolution"`
}

// ResolveAlert handles POST /v1/admin/alerts/{id}/resolve
func (h *AdminHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	admin, ok := actorID(r)
	if !ok {
		pkghttp.WriteForbidden(w, "Missing or invalid actor identity")
		return
	}
	alertID, ok := pathUUID(r, "id")
	if !ok {
		pkghttp.WriteBadRequest(w, "Invalid alert id")
		return
	}

	var req resolveAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Resolution == "" {
		pkghttp.WriteBadRequest(w, "resolution is required")
		return
	}

	if err := h.monitor.ResolveAlert(r.Context(), alertID, admin, req.Resolution); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAlertFalsePositive handles POST /v1/admin/alerts/{id}/false-positive
func (h *AdminHandler) MarkAlertFalsePositive(w http.ResponseWriter, r *http.Request) {
	admin, ok := actorID(r)
	if !ok {
		pkghttp.WriteForbidden(w, "Missing or invalid actor identity")
		return
	}
	alertID, ok := pathUUID(r, "id")
	if !ok {
		pkghttp.WriteBadRequest(w, "Invalid alert id")
		return
	}

	if err := h.monitor.MarkAlertFalsePositive(r.Context(), alertID, admin); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type generateCodesRequest struct {
	Reason string `json:"reason"`
}

type generateCodesResponse struct {
	Codes     []string  `json:"codes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GenerateEmergencyCodes handles POST /v1/admin/accounts/{id}/emergency-codes.
// The response is the only place the plaintext codes ever appear.
func (h *AdminHandler) GenerateEmergencyCodes(w http.ResponseWriter, r *http.Request) {
	admin, ok := actorID(r)
	if !ok {
		pkghttp.WriteForbidden(w, "Missing or invalid actor identity")
		return
	}
	accountID, ok := pathUUID(r, "id")
	if !ok {
		pkghttp.WriteBadRequest(w, "Invalid account id")
		return
	}

	var req generateCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		pkghttp.WriteBadRequest(w, "reason is required")
		return
	}

	issued, err := h.emergency.GenerateCodes(r.Context(), accountID, admin, req.Reason)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, generateCodesResponse{
		Codes:     issued.Codes,
		ExpiresAt: issued.ExpiresAt,
	})
}

// RevokeEmergencyCodes handles DELETE /v1/admin/accounts/{id}/emergency-codes
func (h *AdminHandler) RevokeEmergencyCodes(w http.ResponseWriter, r *http.Request) {
	admin, ok := actorID(r)
	if !ok {
		pkghttp.WriteForbidden(w, "Missing or invalid actor identity")
		return
	}
	accountID, ok := pathUUID(r, "id")
	if !ok {
		pkghttp.WriteBadRequest(w, "Invalid account id")
		return
	}

	revoked, err := h.emergency.RevokeCodes(r.Context(), accountID, admin)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]int64{"revoked": revoked})
}

type resetSecondFactorRequest struct {
	Reason string `json:"reason"`
}

// ResetSecondFactor handles POST /v1/admin/accounts/{id}/second-factor/reset
func (h *AdminHandler) ResetSecondFactor(w http.ResponseWriter, r *http.Request) {
	admin, ok := actorID(r)
	if !ok {
		pkghttp.WriteForbidden(w, "Missing or invalid actor identity")
		return
	}
	accountID, ok := pathUUID(r, "id")
	if !ok {
		pkghttp.WriteBadRequest(w, "Invalid account id")
		return
	}

	var req resetSecondFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		pkghttp.WriteBadRequest(w, "reason is required")
		return
	}

	if err := h.emergency.ResetSecondFactor(r.Context(), accountID, admin, req.Reason); err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnrollSecondFactor handles POST /v1/admin/accounts/{id}/second-factor/enroll
func (h *AdminHandler) EnrollSecondFactor(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathUUID(r, "id")
	if !ok {
		pkghttp.WriteBadRequest(w, "Invalid account id")
		return
	}

	enrollment, err := h.secondFactor.Enroll(r.Context(), accountID)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, map[string]string{
		"provisioning_url": enrollment.ProvisioningURL,
	})
}

// GetAuditTrail handles GET /v1/admin/accounts/{id}/audit-trail
// Accepts ?limit=N and ?offset=N query params.
func (h *AdminHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathUUID(r, "id")
	if !ok {
		pkghttp.WriteBadRequest(w, "Invalid account id")
		return
	}

	limit, offset := 50, 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, err := h.audit.GetAccountAuditTrail(r.Context(), accountID, limit, offset)
	if err != nil {
		pkghttp.WriteDomainError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// RunChecks handles POST /v1/admin/checks/run, the manual trigger for
// the aggregate detection sweep.
func (h *AdminHandler) RunChecks(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorID(r); !ok {
		pkghttp.WriteForbidden(w, "Missing or invalid actor identity")
		return
	}

	h.monitor.RunAggregateChecks(r.Context())
	w.WriteHeader(http.StatusAccepted)
}
