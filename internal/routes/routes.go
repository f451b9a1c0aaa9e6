package routes

import (
	"github.com/gatewatch/gatewatch/internal/auth"
	"github.com/gatewatch/gatewatch/internal/handlers"
	"github.com/gatewatch/gatewatch/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	accountsHandler *handlers.AccountsHandler,
	loginHandler *handlers.LoginHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	publicRateLimit middleware.RateLimitConfig,
) {
	// Public surface - per-IP flood guard in front of the credit limiter
	router.With(middleware.RateLimitByIP(publicRateLimit)).Post("/api/login", loginHandler.Login)
	router.With(middleware.RateLimitByIP(publicRateLimit)).Post("/api/accounts", accountsHandler.RegisterAccount)

	// Node-to-node RPC - reachable only inside the deployment boundary
	router.Route("/api/accounts/{id}", func(r chi.Router) {
		r.Get("/", accountsHandler.GetAccount)
		r.Put("/", accountsHandler.PutAccount)
		r.Post("/credit", accountsHandler.TryGetCredit)
		r.Post("/attempts", accountsHandler.RecordLoginAttempt)
		r.Post("/typo-analysis", accountsHandler.TypoAnalysis)
	})

	// Admin surface - bearer token required
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin(tokenManager))
		r.Post("/admin/hosts", adminHandler.AddHost)
		r.Get("/admin/hosts", adminHandler.ListHosts)
	})
}
