package config

const (
	EnvPrefix = "TRIPNEST"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv        = "TRIPNEST_APP_ENV"
	EnvPort          = "TRIPNEST_APP_PORT"
	EnvDBDSN         = "TRIPNEST_DB_DSN"
	EnvDBHost        = "TRIPNEST_DB_HOST"
	EnvDBUser        = "TRIPNEST_DB_USER"
	EnvDBName        = "TRIPNEST_DB_NAME"
	EnvDBPassword    = "TRIPNEST_DB_PASSWORD"
	EnvRedisURL      = "TRIPNEST_REDIS_URL"
	EnvGCPProjectID  = "TRIPNEST_GCP_PROJECT_ID"
	EnvStripeAPIKey  = "TRIPNEST_STRIPE_API_KEY"
	EnvStripeSecret  = "TRIPNEST_STRIPE_WEBHOOK_SECRET"
	EnvStripeTimeout = "TRIPNEST_STRIPE_TIMEOUT"

	EnvFeesPlatformPercent  = "TRIPNEST_FEES_PLATFORM_PERCENT"
	EnvFeesDefaultTax       = "TRIPNEST_FEES_DEFAULT_TAX_PERCENT"
	EnvFeesProcessorPercent = "TRIPNEST_FEES_PROCESSOR_RATE_PERCENT"
	EnvWebhookTolerance     = "TRIPNEST_WEBHOOK_TOLERANCE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
