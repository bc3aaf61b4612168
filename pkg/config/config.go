package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	BigQuery      BigQueryConfig
	Firestore     FirestoreConfig
	Outbox        OutboxConfig
	Invoices      InvoicesConfig
	Accounting    AccountingConfig
	Square        SquareConfig
	Stripe        StripeConfig
	Provider      ProviderConfig
	Reconcile     ReconcileConfig
	Sweep         SweepConfig
	Webhook       WebhookConfig
	Notifications NotificationsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Invoices.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BUSLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"BUSLINE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BUSLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BUSLINE_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"BUSLINE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BUSLINE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BUSLINE_DB_DSN"`
	Driver string `envconfig:"BUSLINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BUSLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"BUSLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BUSLINE_DB_USER"`
	LegacyPassword string `envconfig:"BUSLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"BUSLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"BUSLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BUSLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BUSLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BUSLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BUSLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BUSLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BUSLINE_REDIS_ADDR"`
	Password     string        `envconfig:"BUSLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"BUSLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BUSLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BUSLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BUSLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BUSLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BUSLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies agent tokens issued by the back-office identity service.
type JWTConfig struct {
	Secret            string `envconfig:"BUSLINE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BUSLINE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BUSLINE_JWT_EXPIRATION_MINUTES" default:"480"`
}

type FeatureFlagsConfig struct {
	UseSQLite            bool `envconfig:"BUSLINE_USE_SQLITE" default:"false"`
	AutoMigrate          bool `envconfig:"BUSLINE_AUTO_MIGRATE" default:"false"`
	UseMemoryIdempotency bool `envconfig:"BUSLINE_USE_MEMORY_IDEMPOTENCY" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"BUSLINE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BUSLINE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"BUSLINE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BUSLINE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic         string `envconfig:"BUSLINE_PUBSUB_NOTIFICATION_TOPIC" default:"bl-notification-events"`
	NotificationSubscription  string `envconfig:"BUSLINE_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	InvoiceEventsSubscription string `envconfig:"BUSLINE_PUBSUB_INVOICE_EVENTS_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset             string `envconfig:"BUSLINE_BIGQUERY_DATASET" default:"busline"`
	ReconciliationTable string `envconfig:"BUSLINE_BIGQUERY_RECONCILIATION_TABLE" default:"reconciliation_outcomes"`
}

type FirestoreConfig struct {
	DatabaseID      string `envconfig:"BUSLINE_FIRESTORE_DATABASE_ID" default:"(default)"`
	CartsCollection string `envconfig:"BUSLINE_FIRESTORE_CARTS_COLLECTION" default:"carts"`
	MailCollection  string `envconfig:"BUSLINE_FIRESTORE_MAIL_COLLECTION" default:"mail"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BUSLINE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BUSLINE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BUSLINE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"BUSLINE_OUTBOX_RETENTION_DAYS" default:"30"`
}

// InvoicesConfig selects the backend that answers references without a
// recognised prefix.
type InvoicesConfig struct {
	Primary string `envconfig:"BUSLINE_INVOICES_PRIMARY" default:"accounting"`
}

func (i InvoicesConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(i.Primary)) {
	case InvoiceSourceAccounting, InvoiceSourceSquare:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvInvoicesPrimary, InvoiceSourceAccounting, InvoiceSourceSquare)
	}
}

// PrimarySource returns the normalized primary backend name.
func (i InvoicesConfig) PrimarySource() string {
	return strings.ToLower(strings.TrimSpace(i.Primary))
}

type AccountingConfig struct {
	URL        string        `envconfig:"BUSLINE_ACCOUNTING_URL"`
	Database   string        `envconfig:"BUSLINE_ACCOUNTING_DB"`
	UserID     int           `envconfig:"BUSLINE_ACCOUNTING_UID" default:"2"`
	APIKey     string        `envconfig:"BUSLINE_ACCOUNTING_API_KEY"`
	Model      string        `envconfig:"BUSLINE_ACCOUNTING_MODEL" default:"account.move"`
	RefField   string        `envconfig:"BUSLINE_ACCOUNTING_REF_FIELD" default:"ref"`
	Timeout    time.Duration `envconfig:"BUSLINE_ACCOUNTING_TIMEOUT" default:"10s"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"BUSLINE_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"BUSLINE_SQUARE_ENV" default:"sandbox"`
}

type StripeConfig struct {
	APIKey string `envconfig:"BUSLINE_STRIPE_API_KEY"`
	Env    string `envconfig:"BUSLINE_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// ProviderConfig configures the booking provider that issues tickets.
type ProviderConfig struct {
	BaseURL          string        `envconfig:"BUSLINE_PROVIDER_BASE_URL" required:"true"`
	Token            string        `envconfig:"BUSLINE_PROVIDER_TOKEN" required:"true"`
	Locale           string        `envconfig:"BUSLINE_PROVIDER_LOCALE" default:"es-MX"`
	Currency         string        `envconfig:"BUSLINE_PROVIDER_CURRENCY" default:"MXN"`
	ReturnURL        string        `envconfig:"BUSLINE_PROVIDER_RETURN_URL"`
	RequestTimeout   time.Duration `envconfig:"BUSLINE_PROVIDER_REQUEST_TIMEOUT" default:"15s"`
	CompleteAttempts int           `envconfig:"BUSLINE_PROVIDER_COMPLETE_ATTEMPTS" default:"5"`
	CompleteInterval time.Duration `envconfig:"BUSLINE_PROVIDER_COMPLETE_INTERVAL" default:"2s"`
	CompleteBudget   time.Duration `envconfig:"BUSLINE_PROVIDER_COMPLETE_BUDGET" default:"30s"`
}

type ReconcileConfig struct {
	LockTTL           time.Duration `envconfig:"BUSLINE_RECONCILE_LOCK_TTL" default:"5m"`
	ProcessedTTL      time.Duration `envconfig:"BUSLINE_RECONCILE_PROCESSED_TTL" default:"720h"`
	ManualRetryLimit  int           `envconfig:"BUSLINE_RECONCILE_MANUAL_RETRY_LIMIT" default:"3"`
	ManualRetryWindow time.Duration `envconfig:"BUSLINE_RECONCILE_MANUAL_RETRY_WINDOW" default:"1h"`
	PollRateLimit     int           `envconfig:"BUSLINE_RECONCILE_POLL_RATE_LIMIT" default:"60"`
	PollRateWindow    time.Duration `envconfig:"BUSLINE_RECONCILE_POLL_RATE_WINDOW" default:"1m"`
}

type SweepConfig struct {
	Interval    time.Duration `envconfig:"BUSLINE_SWEEP_INTERVAL" default:"2m"`
	Lookback    time.Duration `envconfig:"BUSLINE_SWEEP_LOOKBACK" default:"72h"`
	BatchSize   int           `envconfig:"BUSLINE_SWEEP_BATCH_SIZE" default:"100"`
	Concurrency int           `envconfig:"BUSLINE_SWEEP_CONCURRENCY" default:"4"`
	LockTTL     time.Duration `envconfig:"BUSLINE_SWEEP_LOCK_TTL" default:"10m"`
}

type WebhookConfig struct {
	URL     string        `envconfig:"BUSLINE_WEBHOOK_URL"`
	Secret  string        `envconfig:"BUSLINE_WEBHOOK_SECRET"`
	Timeout time.Duration `envconfig:"BUSLINE_WEBHOOK_TIMEOUT" default:"10s"`
}

type NotificationsConfig struct {
	OpsEmail    string        `envconfig:"BUSLINE_NOTIFICATIONS_OPS_EMAIL"`
	CounterTTL  time.Duration `envconfig:"BUSLINE_NOTIFICATIONS_COUNTER_TTL" default:"2160h"`
	CounterZone string        `envconfig:"BUSLINE_NOTIFICATIONS_COUNTER_ZONE" default:"America/Mexico_City"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = "file:busline.db?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
