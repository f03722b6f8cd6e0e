package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// Options carries the router knobs that differ per deployment.
type Options struct {
	AllowedOrigins []string
	DefaultLocale  string
	RateLimit      int
	RatePer        time.Duration
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	if opts.DefaultLocale == "" {
		opts.DefaultLocale = "en"
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 120
	}
	if opts.RatePer <= 0 {
		opts.RatePer = time.Minute
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N(opts.DefaultLocale),
	)

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Signed URLs carry their own auth; no rate limit so provider fetches
	// never bounce mid-generation.
	r.Get("/files/*", app.ServeFile)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimit, opts.RatePer))

		r.Post("/dispatch", app.Dispatch)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", app.CreateJob)
			r.Get("/{id}", app.GetJob)
		})

		r.Route("/prompts", func(r chi.Router) {
			r.Post("/generate", app.PromptGenerate)
			r.Post("/enhance", app.PromptEnhance)
			r.Get("/{id}", app.GetPrompt)
		})
	})

	return r
}
