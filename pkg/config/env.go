package config

const (
	EnvPrefix = "BUSLINE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	InvoiceSourceAccounting = "accounting"
	InvoiceSourceSquare     = "square"

	EnvAppEnv               = "BUSLINE_APP_ENV"
	EnvPort                 = "BUSLINE_APP_PORT"
	EnvLogLevel             = "BUSLINE_LOG_LEVEL"
	EnvDBDSN                = "BUSLINE_DB_DSN"
	EnvDBHost               = "BUSLINE_DB_HOST"
	EnvDBUser               = "BUSLINE_DB_USER"
	EnvDBName               = "BUSLINE_DB_NAME"
	EnvRedisURL             = "BUSLINE_REDIS_URL"
	EnvJWTSecret            = "BUSLINE_JWT_SECRET"
	EnvJWTIssuer            = "BUSLINE_JWT_ISSUER"
	EnvUseSQLite            = "BUSLINE_USE_SQLITE"
	EnvGCPProjectID         = "BUSLINE_GCP_PROJECT_ID"
	EnvPubSubNotifySub      = "BUSLINE_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubInvoiceSub     = "BUSLINE_PUBSUB_INVOICE_EVENTS_SUBSCRIPTION"
	EnvInvoicesPrimary      = "BUSLINE_INVOICES_PRIMARY"
	EnvProviderBaseURL      = "BUSLINE_PROVIDER_BASE_URL"
	EnvProviderToken        = "BUSLINE_PROVIDER_TOKEN"
	EnvReconcileLockTTL     = "BUSLINE_RECONCILE_LOCK_TTL"
	EnvReconcileRetryLimit  = "BUSLINE_RECONCILE_MANUAL_RETRY_LIMIT"
	EnvWebhookURL           = "BUSLINE_WEBHOOK_URL"
	EnvWebhookSecret        = "BUSLINE_WEBHOOK_SECRET"
	EnvNotificationOpsEmail = "BUSLINE_NOTIFICATIONS_OPS_EMAIL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
