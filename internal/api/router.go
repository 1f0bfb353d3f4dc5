package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/carelink/internal/api/middleware"
	"github.com/eldtechnologies/carelink/internal/handlers"
	"github.com/eldtechnologies/carelink/internal/routing"
)

// Options configures the router.
type Options struct {
	Sessions    middleware.SessionReader
	Routes      *routing.Table
	CORSOrigins []string

	// TrustProxy takes the client address from forwarding headers. Only
	// set it when a proxy in front of the gateway overwrites them.
	TrustProxy bool
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	r.Use(middleware.NewRateLimiter(logger).Middleware)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Location", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	routes := opts.Routes
	if routes == nil {
		routes = routing.PortalRoutes()
	}
	guard := func(path string) func(http.Handler) http.Handler {
		route, ok := routes.Match(path)
		if !ok {
			// unregistered paths are protected, any role
			route = routing.Route{Path: path, RequireAuth: true}
		}
		return middleware.Guard(route, opts.Sessions)
	}

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/api/session", h.Session)
	r.Post("/logout", h.Logout)

	// Signed-out only
	r.With(guard(routing.SignInPath)).Get(routing.SignInPath, h.SignInView)
	r.With(guard(routing.SignInPath)).Post(routing.SignInPath, h.SignIn)
	r.With(guard(routing.SignUpPath)).Get(routing.SignUpPath, h.SignUpView)
	r.With(guard(routing.SignUpPath)).Post(routing.SignUpPath, h.SignUp)

	// Role dashboards
	for _, path := range []string{"/patient/dashboard", "/doctor/dashboard", "/pharmacy/dashboard", "/admin/dashboard"} {
		r.With(guard(path)).Get(path, h.Dashboard)
	}
	r.With(guard("/api/channel")).Get("/api/channel", h.Channel)

	// Notification surface
	r.Route("/api/notifications", func(r chi.Router) {
		r.Get("/", h.ListNotifications)
		r.Delete("/", h.ClearNotifications)
		r.Post("/read-all", h.MarkAllNotificationsRead)
		r.Post("/{id}/read", h.MarkNotificationRead)
		r.Delete("/{id}", h.RemoveNotification)
	})

	return r
}
