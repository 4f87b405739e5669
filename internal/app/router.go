// Package app wires the HTTP router from config and handlers.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/pixtools/internal/adapter/httpserver"
	"github.com/fairyhunter13/pixtools/internal/adapter/observability"
	"github.com/fairyhunter13/pixtools/internal/adapter/queue/rabbitmq"
	"github.com/fairyhunter13/pixtools/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// broker may be nil in tests; it only feeds the queue gauges on scrapes.
func BuildRouter(cfg config.Config, srv *httpserver.Server, broker *rabbitmq.Client) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limit the mutating endpoint; the key guard applies when set.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Use(httpserver.APIKeyGuard(cfg.APIKey))
		wr.Post("/api/process", srv.ProcessHandler())
	})
	r.Get("/api/jobs/{id}", srv.JobHandler())

	r.Get("/api/livez", srv.LivezHandler())
	r.Get("/api/readyz", srv.ReadyzHandler())
	r.Get("/api/health", srv.HealthHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		// Queue gauges are sampled lazily on scrape, rate limited inside.
		if broker != nil {
			broker.RefreshQueueMetrics(false)
		}
		promhttp.Handler().ServeHTTP(w, r)
	})

	return httpserver.SecurityHeaders(r)
}
