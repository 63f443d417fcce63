// Package api serves the read-only admin HTTP surface of an lsmeta process.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TOMATOFGY/oceanbase/internal/lsservice"
)

// NewRouter returns the admin router.
//
// Routes:
//   - GET /health - liveness plus the number of live streams
//   - GET /metrics - Prometheus exposition, when gatherer is non-nil
//   - GET /ls - every live record
//   - GET /ls/{tenant}/{ls} - one record
//   - GET /ls/{tenant}/{ls}/history - durable log entries of one stream
//   - GET /ls/{tenant}/{ls}/backup - whether the replica can be backed up
func NewRouter(svc *lsservice.Service, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.health)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/ls", func(r chi.Router) {
		r.Get("/", h.list)
		r.Route("/{tenant}/{ls}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Get("/history", h.history)
			r.Get("/backup", h.backup)
		})
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("api request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String(),
			)
		})
	}
}
