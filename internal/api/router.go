package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wra13107/digital-memorial-landing/internal/api/handler"
	"github.com/wra13107/digital-memorial-landing/internal/api/middleware"
	"github.com/wra13107/digital-memorial-landing/internal/app/service"
	"github.com/wra13107/digital-memorial-landing/internal/common/security"
	"github.com/wra13107/digital-memorial-landing/internal/metrics"
)

// Dependencies are the services the router exposes.
type Dependencies struct {
	Auth    *service.AuthService
	Account *service.AccountService
	Admin   *service.AdminService
	Tokens  *security.TokenService

	// AuthLimiter throttles the credential endpoints; nil disables limiting.
	AuthLimiter *middleware.RateLimiter
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	// Content is mounted at /api/v1/content for signed-in users with a
	// verified email. Optional.
	Content http.Handler
}

func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Base Middlewares
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.PeerAddr)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Identify(deps.Tokens, deps.Auth, logger))
	r.Use(middleware.RequestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	var limit func(http.Handler) http.Handler
	if deps.AuthLimiter != nil {
		limit = deps.AuthLimiter.Middleware
	}

	r.Route("/api/v1", func(v1 chi.Router) {
		authHandler := handler.NewAuthHandler(deps.Auth, deps.Account, limit)
		v1.Route("/auth", authHandler.RegisterRoutes)

		if deps.Admin != nil {
			adminHandler := handler.NewAdminHandler(deps.Admin)
			v1.Route("/admin", adminHandler.RegisterRoutes)
		}

		if deps.Content != nil {
			v1.Route("/content", func(content chi.Router) {
				content.Use(middleware.RequireAuth)
				content.Use(middleware.RequireVerifiedEmail)
				content.Mount("/", deps.Content)
			})
		}
	})

	return r
}
