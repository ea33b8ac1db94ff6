package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// requestTimeout bounds every non-streaming request. process-now runs whole
// decisions against the face service, so it is generous.
const requestTimeout = 5 * time.Minute

func (s *Server) setupRoutes() {
	statsHandler := handlers.NewStatsHandler(s.deps.Stats, s.deps.Ledger)
	processHandler := handlers.NewProcessHandler(s.deps.Drainer)
	settingsHandler := handlers.NewSettingsHandler(s.deps.Settings, s.deps.Emitter)
	ledgerHandler := handlers.NewLedgerHandler(s.deps.Ledger, s.deps.Settings)
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Gallery)
	uploadHandler := handlers.NewUploadHandler(s.deps.IntakeDir)
	eventsHandler := handlers.NewEventsHandler(s.deps.Events)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Event stream lives outside the request timeout.
		r.Get("/events", eventsHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			r.Get("/stats", statsHandler.Get)
			r.Get("/settings", settingsHandler.Get)
			r.Get("/ledger", ledgerHandler.List)
			r.Get("/ledger/export", ledgerHandler.Export)
			r.Get("/identities", identitiesHandler.List)

			// Mutating routes require a bearer token when a secret is configured.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireToken(s.config.JWTSecret))

				r.Post("/process-now", processHandler.ProcessNow)
				r.Put("/settings", settingsHandler.Update)
				r.Post("/upload", uploadHandler.Upload)
			})
		})
	})
}
