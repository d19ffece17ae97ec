package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"genwatch/internal/infra"
	"genwatch/internal/middleware"
)

// NewRouter builds the status API with the standard middleware chain.
func NewRouter(app *App, logger infra.Logger, allowedOrigins []string) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimiddleware.RealIP, chimiddleware.Recoverer, middleware.Logger(logger))
	if len(allowedOrigins) > 0 {
		r.Use(middleware.CORS(allowedOrigins))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", app.ListJobs)
		r.Get("/{id}", app.GetJob)
		r.Post("/{id}/watch", app.WatchJob)
		r.Post("/{id}/stop", app.StopJob)
		r.Delete("/{id}", app.ClearJob)
	})

	r.Get("/history", app.History)

	return r
}
