// Package wiring assembles the reconcile engine and the outcome fan-out from
// bootstrapped clients. It is shared by the api, worker and cron binaries.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/busline-backend/internal/carts"
	"github.com/angelmondragon/busline-backend/internal/invoices"
	"github.com/angelmondragon/busline-backend/internal/notifications"
	"github.com/angelmondragon/busline-backend/internal/purchases"
	"github.com/angelmondragon/busline-backend/internal/reconcile"
	"github.com/angelmondragon/busline-backend/pkg/bigquery"
	"github.com/angelmondragon/busline-backend/pkg/config"
	"github.com/angelmondragon/busline-backend/pkg/db"
	"github.com/angelmondragon/busline-backend/pkg/firestore"
	"github.com/angelmondragon/busline-backend/pkg/logger"
	"github.com/angelmondragon/busline-backend/pkg/metrics"
	"github.com/angelmondragon/busline-backend/pkg/outbox"
	"github.com/angelmondragon/busline-backend/pkg/redis"
	"github.com/angelmondragon/busline-backend/pkg/square"
	"github.com/angelmondragon/busline-backend/pkg/stripe"
)

// Deps are the bootstrapped clients an engine needs.
type Deps struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Firestore  *firestore.Client
	Registerer prometheus.Registerer
	HTTPClient *http.Client
}

func (d Deps) validate() error {
	switch {
	case d.Config == nil:
		return errors.New("config is required")
	case d.Logger == nil:
		return errors.New("logger is required")
	case d.DB == nil:
		return errors.New("database client is required")
	case d.Redis == nil:
		return errors.New("redis client is required")
	case d.Firestore == nil:
		return errors.New("firestore client is required")
	}
	return nil
}

// Engine builds the reconcile engine together with the cart service it
// writes through, so callers can hand the same service to the sweep.
func Engine(ctx context.Context, d Deps) (*reconcile.Engine, carts.Service, error) {
	if err := d.validate(); err != nil {
		return nil, nil, err
	}
	cfg := d.Config

	source, err := InvoiceSource(ctx, cfg, d.HTTPClient, d.Logger)
	if err != nil {
		return nil, nil, err
	}

	provider, err := purchases.NewClient(cfg.Provider, d.HTTPClient, d.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("purchase provider: %w", err)
	}

	docs, err := carts.NewFirestoreDocumentStore(d.Firestore)
	if err != nil {
		return nil, nil, fmt.Errorf("cart documents: %w", err)
	}
	cartService, err := carts.NewService(carts.NewRepository(d.DB.DB()), d.DB, docs, d.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("cart service: %w", err)
	}

	store, err := IdempotencyStore(cfg.FeatureFlags, d.Redis, d.Logger)
	if err != nil {
		return nil, nil, err
	}

	notifier, err := notifications.NewEmitter(d.DB, outbox.NewService(outbox.NewRepository(d.DB.DB()), d.Logger), d.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("outcome emitter: %w", err)
	}

	var reconcileMetrics *metrics.ReconcileMetrics
	if d.Registerer != nil {
		reconcileMetrics = metrics.NewReconcileMetrics(d.Registerer)
	}

	engine, err := reconcile.NewEngine(reconcile.Params{
		Invoices:  source,
		Purchases: provider,
		Carts:     cartService,
		Store:     store,
		Notifier:  notifier,
		Limiter:   d.Redis,
		Metrics:   reconcileMetrics,
		Logger:    d.Logger,
		Settings:  cfg.Reconcile,
		CreateOptions: purchases.CreateOptions{
			ReturnURL: cfg.Provider.ReturnURL,
			Locale:    cfg.Provider.Locale,
			Currency:  cfg.Provider.Currency,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reconcile engine: %w", err)
	}
	return engine, cartService, nil
}

// InvoiceSource builds the reference router. The configured primary backend
// is mandatory; Stripe is added only when an API key is present.
func InvoiceSource(ctx context.Context, cfg *config.Config, httpClient *http.Client, logg *logger.Logger) (*invoices.Router, error) {
	var primary invoices.Source
	switch cfg.Invoices.PrimarySource() {
	case config.InvoiceSourceSquare:
		client, err := square.NewClient(ctx, cfg.Square, "", logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		src, err := invoices.NewSquareSource(client)
		if err != nil {
			return nil, err
		}
		primary = src
	default:
		src, err := invoices.NewAccountingSource(cfg.Accounting, httpClient, logg)
		if err != nil {
			return nil, fmt.Errorf("accounting source: %w", err)
		}
		primary = src
	}

	var online invoices.Source
	if cfg.Stripe.APIKey != "" {
		client, err := stripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, fmt.Errorf("stripe client: %w", err)
		}
		online = invoices.NewStripeSource(client)
	}
	return invoices.NewRouter(primary, online)
}

// IdempotencyStore returns the Redis-backed store with an in-process
// fallback, or the in-process store alone when the feature flag asks for it.
func IdempotencyStore(flags config.FeatureFlagsConfig, kv *redis.Client, logg *logger.Logger) (reconcile.IdempotencyStore, error) {
	memory := reconcile.NewMemoryStore()
	if flags.UseMemoryIdempotency {
		return memory, nil
	}
	if kv == nil {
		return nil, errors.New("redis client is required for idempotency")
	}
	primary, err := reconcile.NewRedisStore(kv)
	if err != nil {
		return nil, err
	}
	return reconcile.NewFallbackStore(primary, memory, logg)
}

// HandlerDeps are the clients the outcome handlers write to.
type HandlerDeps struct {
	Config     *config.Config
	Redis      *redis.Client
	Firestore  *firestore.Client
	BigQuery   *bigquery.Client
	HTTPClient *http.Client
}

// OutcomeHandlers returns the fan-out for confirmed, cancelled and failed
// outcomes. The webhook is optional and skipped when no URL is configured.
func OutcomeHandlers(d HandlerDeps) ([]notifications.Handler, error) {
	if d.Config == nil {
		return nil, errors.New("config is required")
	}
	if d.Redis == nil || d.Firestore == nil || d.BigQuery == nil {
		return nil, errors.New("redis, firestore and bigquery clients are required")
	}
	cfg := d.Config

	mail, err := notifications.NewFirestoreMailStore(d.Firestore)
	if err != nil {
		return nil, err
	}
	issuer, err := notifications.NewTicketIssuer(mail, cfg.Notifications.OpsEmail)
	if err != nil {
		return nil, err
	}
	counters, err := notifications.NewSalesCounters(d.Redis, cfg.Notifications)
	if err != nil {
		return nil, err
	}
	analytics, err := notifications.NewOutcomeAnalytics(d.BigQuery, cfg.BigQuery.ReconciliationTable)
	if err != nil {
		return nil, err
	}

	handlers := []notifications.Handler{issuer, counters, analytics}
	if cfg.Webhook.URL != "" {
		webhook, err := notifications.NewWebhookNotifier(cfg.Webhook, d.HTTPClient)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, webhook)
	}
	return handlers, nil
}
