/**
 * @description
 * This file sets up the HTTP router for the points-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PointsRoutes creates and returns a new router for the points service.
func PointsRoutes(h *PointsHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Internal endpoints called by the upload pipeline, guarded by the
	// shared API key rather than a user JWT.
	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))
		r.Post("/accounts", h.CreateAccountHandler)
		r.Post("/papers", h.RecordUploadHandler)
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Points ledger endpoints
		r.Post("/points/login", h.LoginHandler)
		r.Get("/points/{accountID}/balance", h.BalanceHandler)
		r.Get("/points/{accountID}/history", h.HistoryHandler)

		// Paper interaction endpoints
		r.Post("/papers/{paperID}/feedback", h.SubmitFeedbackHandler)
		r.Get("/papers/{paperID}/feedback", h.ListFeedbackHandler)
		r.Post("/papers/{paperID}/download", h.AuthorizeDownloadHandler)
		r.Post("/papers/{paperID}/download/consume", h.ConsumeDownloadHandler)

		// Operator endpoints
		r.Group(func(r chi.Router) {
			r.Use(RequireAdminRole)
			r.Put("/admin/accounts/{accountID}/points", h.AdminCreditHandler)
		})
	})

	return r
}
