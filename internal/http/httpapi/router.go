package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"studio/internal/http/handlers"
	"studio/internal/infra"
	"studio/internal/middleware"
)

// NewRouter wires the HTTP surface. The event stream sits inside the same
// authenticated group as the task endpoints; ownership is enforced per task.
func NewRouter(app *handlers.App, cfg *infra.Config, log infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(log))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Principal)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/studio-genesis", app.CreateGenesis)
			r.Post("/aesthetic-mirror", app.CreateMirror)
			r.Post("/refinement", app.CreateRefinement)
			r.Get("/", app.ListTasks)
			r.Get("/{id}", app.GetTask)
			r.Get("/{id}/events", app.TaskEvents)
			r.Get("/{id}/download", app.DownloadTask)
		})

		r.Get("/credits", app.GetCredits)
	})

	return r
}
