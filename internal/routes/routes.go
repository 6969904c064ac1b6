package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/tmcalister/rampart/internal/handlers"
	"github.com/tmcalister/rampart/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	attemptHandler *handlers.AttemptHandler,
	adminHandler *handlers.AdminHandler,
) {
	attemptLimit := middleware.RateLimitByIP(middleware.DefaultAttemptRateLimit())
	adminLimit := middleware.RateLimitByIP(middleware.DefaultAdminRateLimit())

	// Attempt-flow endpoints called by the fronting auth service
	router.Group(func(r chi.Router) {
		r.Use(attemptLimit)
		r.Post("/v1/attempts/precheck", attemptHandler.Precheck)
		r.Post("/v1/attempts/failure", attemptHandler.RecordFailure)
		r.Post("/v1/attempts/success", attemptHandler.RecordSuccess)
		r.Post("/v1/second-factor/verify", attemptHandler.VerifySecondFactor)
		r.Post("/v1/emergency/verify", attemptHandler.VerifyEmergencyCode)
	})

	// Operator endpoints, identity attested upstream
	router.Group(func(r chi.Router) {
		r.Use(adminLimit)

		r.Get("/v1/admin/alerts", adminHandler.ListAlerts)
		r.Get("/v1/admin/alerts/{id}", adminHandler.GetAlert)
		r.Post("/v1/admin/alerts/{id}/acknowledge", adminHandler.AcknowledgeAlert)
		r.Post("/v1/admin/alerts/{id}/resolve", adminHandler.ResolveAlert)
		r.Post("/v1/admin/alerts/{id}/false-positive", adminHandler.MarkAlertFalsePositive)

		r.Post("/v1/admin/accounts/{id}/unlock", adminHandler.UnlockAccount)
		r.Post("/v1/admin/accounts/{id}/emergency-codes", adminHandler.GenerateEmergencyCodes)
		r.Delete("/v1/admin/accounts/{id}/emergency-codes", adminHandler.RevokeEmergencyCodes)
		r.Post("/v1/admin/accounts/{id}/second-factor/reset", adminHandler.ResetSecondFactor)
		r.Post("/v1/admin/accounts/{id}/second-factor/enroll", adminHandler.EnrollSecondFactor)
		r.Get("/v1/admin/accounts/{id}/audit-trail", adminHandler.GetAuditTrail)

		r.Post("/v1/admin/checks/run", adminHandler.RunChecks)
	})
}
