/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from configured origins

ROUTE GROUPS:
  /api/products, /api/deposits   Catalog
  /api/inventory/*               Movements (one engine call each)
  /api/positions, /api/entries   Reads
  /api/reserves                  Live reservations
  /api/admin/*                   Seeding, position audit
  /health                        Liveness
  /metrics                       Prometheus (when enabled)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	// AllowedOrigins for CORS. Defaults to the local dev origins.
	AllowedOrigins []string

	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler

	// Auditor is mounted at /api/admin/audit when non-nil.
	Auditor *PositionAuditor
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Catalog routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
		})
		r.Route("/deposits", func(r chi.Router) {
			r.Get("/", h.ListDeposits)
			r.Post("/", h.CreateDeposit)
		})

		// Movement routes
		r.Route("/inventory", func(r chi.Router) {
			r.Post("/add", h.AddEntry)
			r.Post("/remove", h.RemoveEntry)
			r.Post("/rebalance", h.Rebalance)
			r.Post("/transfer", h.Transfer)
			r.Post("/reserve", h.Reserve)
			r.Post("/release", h.Release)
		})

		// Read routes
		r.Route("/positions", func(r chi.Router) {
			r.Get("/", h.ListPositions)
			r.Get("/{sku}/{deposit}", h.GetPosition)
		})
		r.Get("/entries", h.ListEntries)
		r.Get("/reserves", h.ListReserves)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/init", h.InitDatabase)
			if opts.Auditor != nil {
				r.Method(http.MethodGet, "/audit", opts.Auditor)
				r.Method(http.MethodPost, "/audit", opts.Auditor)
			}
		})
	})

	return r
}
