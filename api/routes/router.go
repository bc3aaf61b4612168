package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/busline-backend/api/controllers"
	"github.com/angelmondragon/busline-backend/api/controllers/payments"
	"github.com/angelmondragon/busline-backend/api/middleware"
	"github.com/angelmondragon/busline-backend/pkg/config"
	"github.com/angelmondragon/busline-backend/pkg/enums"
	"github.com/angelmondragon/busline-backend/pkg/logger"
)

// redisStore covers the poll rate limiter and the retry idempotency cache.
type redisStore interface {
	middleware.IdempotencyCache
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	engine payments.Engine,
	deadLetters payments.DeadLetterLister,
	redisClient redisStore,
	gatherer prometheus.Gatherer,
	readiness ...controllers.ReadinessCheck,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness...))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	pollPolicy := middleware.NewRateLimitPolicy("poll", cfg.Reconcile.PollRateWindow, cfg.Reconcile.PollRateLimit)
	r.With(middleware.RateLimit(pollPolicy, redisClient, logg)).
		Get("/payments/poll/{reference}", payments.Poll(engine, logg))

	r.Route("/api/v1/agent", func(r chi.Router) {
		r.Use(middleware.AgentAuth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.AgentRoleAgent, enums.AgentRoleSupervisor))
		r.With(middleware.Idempotency(redisClient, logg)).
			Post("/payments/{reference}/retry", payments.Retry(engine, logg))
		r.Get("/payments/{reference}/dead-letters", payments.DeadLetters(deadLetters, logg))
	})

	return r
}
