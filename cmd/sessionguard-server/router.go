package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/storefront/sessionguard"
	"github.com/storefront/sessionguard/middleware"
)

type healthResponse struct {
	Status       string  `json:"status"`
	RedisLatency float64 `json:"redisLatencySeconds"`
}

func newRouter(engine *sessionguard.Engine, handlers *middleware.Handlers, metrics http.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", healthHandler(engine))
	r.Method(http.MethodGet, "/metrics", metrics)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/refresh", handlers.Refresh)
		r.Post("/logout", handlers.Logout)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(engine))
			r.Get("/sessions", handlers.Sessions)
			r.Post("/logout-all", handlers.LogoutAll)
		})
	})
	return r
}

func healthHandler(engine *sessionguard.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := engine.Health(r.Context())
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if !h.RedisAvailable {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}` + "\n"))
			return
		}
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", RedisLatency: h.RedisLatency.Seconds()})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.LogAttrs(r.Context(), slog.LevelDebug, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}
