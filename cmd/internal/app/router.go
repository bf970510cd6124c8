package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (a *App) router() http.Handler {
	r := chi.NewRouter()

	r.Use(WithSecurityHeaders)

	origins := a.cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{a.cfg.ClientURL}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if a.cfg.ReadinessRequireDB {
			if err := PingDB(req.Context(), a.pool, 2*time.Second); err != nil {
				a.log.Info("readyz.db.not_ready", "err", err)
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if a.cfg.AuthRateLimit > 0 {
			r.Use(httprate.LimitByIP(a.cfg.AuthRateLimit, time.Minute))
		}
		r.Mount("/auth", a.auth.Routes())
	})

	r.Mount("/admin", a.admin.Routes())

	return r
}
