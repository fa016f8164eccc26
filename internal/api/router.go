// Package api exposes the exchange request REST surface, the realtime
// endpoint and the operational endpoints on a single chi router.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/btouchard/switchboard/internal/auth"
	"github.com/btouchard/switchboard/internal/ratelimit"
)

// Deps holds everything the router mounts.
type Deps struct {
	Store     Store
	Lifecycle Lifecycle
	Tokens    auth.Verifier
	Limiter   ratelimit.Limiter

	// ClientOrigin lists the browser origins allowed to call the API.
	ClientOrigin string

	// Optional endpoints.
	Gateway http.Handler // /ws, authenticated
	Metrics http.Handler // /metrics
	MCP     http.Handler // /mcp, admin only
}

// NewRouter builds the HTTP handler tree.
func NewRouter(d Deps) http.Handler {
	h := &handlers{store: d.Store, lifecycle: d.Lifecycle}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(CORS(d.ClientOrigin))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
	if d.Gateway != nil {
		// Long-lived; not rate limited.
		r.With(auth.BearerAuth(d.Tokens, d.Store)).Handle("/ws", d.Gateway)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.BearerAuth(d.Tokens, d.Store))
		if d.Limiter != nil {
			r.Use(ratelimit.Middleware(d.Limiter))
		}

		r.Route("/api", func(r chi.Router) {
			r.Get("/me", h.me)
			r.Get("/notifications", h.listNotifications)

			r.Route("/requests", func(r chi.Router) {
				r.Get("/", h.listRequests)
				r.Post("/", h.submitRequest)
				r.Get("/{id}", h.getRequest)
				r.With(auth.RequireAdmin).Post("/{id}/approve", h.approveRequest)
				r.With(auth.RequireAdmin).Post("/{id}/reject", h.rejectRequest)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Post("/find", h.findAdmin)
				r.Post("/add", h.addAdmin)
			})
		})

		if d.MCP != nil {
			r.With(auth.RequireAdmin).Handle("/mcp", d.MCP)
		}
	})

	return r
}
