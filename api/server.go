/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in access logs
  2. Logger:     zerolog logger in the request context, access log per request
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Latency histogram per route pattern
  5. CORS:       Cross-origin requests for a frontend

ROUTE GROUPS:
  /api/users/*       Users, credits, balance log, user shipments
  /api/shipments/*   Shipment details and products
  /api/products/*    Product updates and deletion
  /api/plans         Credit plan catalog
  /api/admin/*       Ledger audit
  /healthz           Liveness
  /metrics           Prometheus

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// RouterOptions configures the ambient middleware.
type RouterOptions struct {
	Logger      zerolog.Logger
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if h.Metrics == nil {
		h.Metrics = NewMetrics()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(requestIDField)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{userId}", h.GetUser)
			r.Get("/{userId}/credits", h.GetCredits)
			r.Post("/{userId}/credits", h.BuyCredits)
			r.Get("/{userId}/movements", h.ListMovements)
			r.Get("/{userId}/shipments", h.ListUserShipments)
			r.Post("/{userId}/shipments", h.CreateShipment)
		})

		// Shipment routes
		r.Route("/shipments", func(r chi.Router) {
			r.Get("/{shipmentId}", h.GetShipment)
			r.Delete("/{shipmentId}", h.DeleteShipment)
			r.Get("/{shipmentId}/products", h.ListShipmentProducts)
			r.Post("/{shipmentId}/products", h.AddProduct)
		})

		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Put("/{productId}", h.UpdateProduct)
			r.Delete("/{productId}", h.DeleteProduct)
		})

		r.Get("/plans", h.ListPlans)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/audit", h.RunAudit)
		})
	})

	return r
}

// requestIDField copies chi's request id into the request logger.
func requestIDField(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			log := zerolog.Ctx(r.Context())
			log.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}
