package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"admin-gate/internal/util"
)

// HealthChecker reports whether the backing services are reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type RouterOptions struct {
	RequireTLS bool

	// AllowedOrigins enables credentialed CORS for these origins.
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(auth *AuthHandler, admin *AdminHandler, health HealthChecker, opts RouterOptions, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if opts.RequireTLS {
		router.Use(requireHTTPS)
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(ClientContext)

	// Without configured origins only same-origin callers are served.
	if len(opts.AllowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Get("/health", healthHandler(health, logger))
		admin.RegisterRoutes(r)
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))
			auth.RegisterRoutes(r)
		})
		// Streams end when the client disconnects or the server shuts down.
		auth.RegisterStreamRoutes(r)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return router
}

func healthHandler(health HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"service": "admin-gate", "status": "healthy"}
		status := http.StatusOK

		if health != nil {
			if err := health.HealthCheck(r.Context()); err != nil {
				logger.Warn("Health check failed", util.ErrorField(err))
				body["status"] = "degraded"
				body["error"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		respondWithJSON(w, status, body, logger)
	}
}
