package app

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/trailpass/platform/internal/auth"
	"github.com/trailpass/platform/internal/handler"
)

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Engine      *Engine
	JWTMgr      *auth.JWTManager
	Health      handler.HealthChecker
	Logger      *slog.Logger
	CORSOrigins string
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	jwtMgr := deps.JWTMgr
	logger := deps.Logger

	// Handlers
	progressionHandler := handler.NewProgressionHandler(deps.Engine.Progression, deps.Engine.SubmitLimiter)
	statsHandler := handler.NewStatsHandler(deps.Engine.Stats)

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORS(deps.CORSOrigins))
	r.Use(handler.JSONContentType)

	// Health (no auth)
	r.Get("/health", handler.HealthHandler(deps.Health))

	// Traveller-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.AuthenticateUser(jwtMgr))

		r.Post("/completions", progressionHandler.Submit)
		r.Post("/attractions/{id}/quality", progressionHandler.RecordQuality)

		r.Get("/stats", statsHandler.GetStats)
		r.Get("/category-progress", statsHandler.GetCategoryProgress)
		r.Get("/rewards/recent", statsHandler.GetRecentGrants)
		r.Get("/leaderboard", statsHandler.GetLeaderboard)
	})

	// Operator-authenticated routes
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.AuthenticateOperator(jwtMgr))
		r.Use(auth.RequireRole(auth.WriteRoles()...))

		r.Post("/completions/replay", progressionHandler.Replay)
	})

	return r
}
