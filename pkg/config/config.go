package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	FeatureFlags  FeatureFlagsConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Stripe        StripeConfig
	Fees          FeesConfig
	Checkout      CheckoutConfig
	Onboarding    OnboardingConfig
	Provisioning  ProvisioningConfig
	Webhooks      WebhooksConfig
	Notifications NotificationsConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Fees.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"TRIPNEST_APP_ENV" required:"true"`
	Port         string   `envconfig:"TRIPNEST_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"TRIPNEST_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"TRIPNEST_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"TRIPNEST_CORS_ORIGINS" default:"http://localhost:3000,https://tripnest.app"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TRIPNEST_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TRIPNEST_DB_DSN"`
	Driver string `envconfig:"TRIPNEST_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TRIPNEST_DB_HOST"`
	LegacyPort     int    `envconfig:"TRIPNEST_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TRIPNEST_DB_USER"`
	LegacyPassword string `envconfig:"TRIPNEST_DB_PASSWORD"`
	LegacyName     string `envconfig:"TRIPNEST_DB_NAME"`
	LegacySSLMode  string `envconfig:"TRIPNEST_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TRIPNEST_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TRIPNEST_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TRIPNEST_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TRIPNEST_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"TRIPNEST_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TRIPNEST_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TRIPNEST_REDIS_ADDR"`
	Password     string        `envconfig:"TRIPNEST_REDIS_PASSWORD"`
	DB           int           `envconfig:"TRIPNEST_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TRIPNEST_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TRIPNEST_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TRIPNEST_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TRIPNEST_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TRIPNEST_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TRIPNEST_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TRIPNEST_GCP_PROJECT_ID" required:"true"`
	ApplicationCredentials string `envconfig:"TRIPNEST_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"TRIPNEST_PUBSUB_NOTIFICATION_TOPIC" default:"tn-notification-events"`
	EscalationTopic   string `envconfig:"TRIPNEST_PUBSUB_ESCALATION_TOPIC" default:"tn-settlement-escalations"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"TRIPNEST_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"TRIPNEST_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"TRIPNEST_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey            string        `envconfig:"TRIPNEST_STRIPE_API_KEY"`
	WebhookSecret     string        `envconfig:"TRIPNEST_STRIPE_WEBHOOK_SECRET"`
	Env               string        `envconfig:"TRIPNEST_STRIPE_ENV" default:"test"`
	Timeout           time.Duration `envconfig:"TRIPNEST_STRIPE_TIMEOUT" default:"15s"`
	MaxNetworkRetries uint64        `envconfig:"TRIPNEST_STRIPE_MAX_NETWORK_RETRIES" default:"2"`
	RetryBaseDelay    time.Duration `envconfig:"TRIPNEST_STRIPE_RETRY_BASE_DELAY" default:"200ms"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// FeesConfig holds the platform-wide fee policy and the processor fee model.
// Percent values are expressed in percent units ("2.9" means 2.9%).
type FeesConfig struct {
	PlatformFeeKind       string `envconfig:"TRIPNEST_FEES_PLATFORM_KIND" default:"fixed"`
	PlatformFeeFixedCents int64  `envconfig:"TRIPNEST_FEES_PLATFORM_FIXED_CENTS" default:"500"`
	PlatformFeePercent    string `envconfig:"TRIPNEST_FEES_PLATFORM_PERCENT" default:"0"`
	DefaultTaxPercent     string `envconfig:"TRIPNEST_FEES_DEFAULT_TAX_PERCENT" default:"0"`
	ProcessorRatePercent  string `envconfig:"TRIPNEST_FEES_PROCESSOR_RATE_PERCENT" default:"2.9"`
	ProcessorFixedCents   int64  `envconfig:"TRIPNEST_FEES_PROCESSOR_FIXED_CENTS" default:"30"`
}

func (f FeesConfig) PlatformPercent() decimal.Decimal {
	return mustDecimal(f.PlatformFeePercent)
}

func (f FeesConfig) DefaultTax() decimal.Decimal {
	return mustDecimal(f.DefaultTaxPercent)
}

func (f FeesConfig) ProcessorRate() decimal.Decimal {
	return mustDecimal(f.ProcessorRatePercent)
}

func (f FeesConfig) validate() error {
	fields := map[string]string{
		EnvFeesPlatformPercent:  f.PlatformFeePercent,
		EnvFeesDefaultTax:       f.DefaultTaxPercent,
		EnvFeesProcessorPercent: f.ProcessorRatePercent,
	}
	for env, raw := range fields {
		value, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s must be a decimal: %w", env, err)
		}
		if value.IsNegative() {
			return fmt.Errorf("%s must not be negative", env)
		}
	}
	if f.PlatformFeeFixedCents < 0 || f.ProcessorFixedCents < 0 {
		return fmt.Errorf("fixed fee amounts must not be negative")
	}
	return nil
}

func mustDecimal(raw string) decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return value
}

type CheckoutConfig struct {
	UIMode     string `envconfig:"TRIPNEST_CHECKOUT_UI_MODE" default:"hosted"`
	SuccessURL string `envconfig:"TRIPNEST_CHECKOUT_SUCCESS_URL" default:"https://tripnest.app/bookings/{BOOKING_ID}/confirmed"`
	CancelURL  string `envconfig:"TRIPNEST_CHECKOUT_CANCEL_URL" default:"https://tripnest.app/bookings/{BOOKING_ID}"`
	ReturnURL  string `envconfig:"TRIPNEST_CHECKOUT_RETURN_URL" default:"https://tripnest.app/bookings/{BOOKING_ID}/return"`
}

type OnboardingConfig struct {
	RefreshURL string `envconfig:"TRIPNEST_ONBOARDING_REFRESH_URL" default:"https://tripnest.app/agency/settlement/refresh"`
	ReturnURL  string `envconfig:"TRIPNEST_ONBOARDING_RETURN_URL" default:"https://tripnest.app/agency/settlement"`
}

type ProvisioningConfig struct {
	LockTTL         time.Duration `envconfig:"TRIPNEST_PROVISIONING_LOCK_TTL" default:"30s"`
	WaitAttempts    int           `envconfig:"TRIPNEST_PROVISIONING_WAIT_ATTEMPTS" default:"10"`
	WaitInterval    time.Duration `envconfig:"TRIPNEST_PROVISIONING_WAIT_INTERVAL" default:"500ms"`
	SearchPageLimit int           `envconfig:"TRIPNEST_PROVISIONING_SEARCH_PAGE_LIMIT" default:"10"`
}

type WebhooksConfig struct {
	Tolerance      time.Duration `envconfig:"TRIPNEST_WEBHOOK_TOLERANCE" default:"300s"`
	IdempotencyTTL time.Duration `envconfig:"TRIPNEST_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type NotificationsConfig struct {
	SupportEmail string `envconfig:"TRIPNEST_NOTIFICATIONS_SUPPORT_EMAIL" default:"payments-support@tripnest.app"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"TRIPNEST_CRON_INTERVAL" default:"15m"`
	LockTTL        time.Duration `envconfig:"TRIPNEST_CRON_LOCK_TTL" default:"10m"`
	SyncStaleAfter time.Duration `envconfig:"TRIPNEST_CRON_SYNC_STALE_AFTER" default:"6h"`
	SyncBatchSize  int           `envconfig:"TRIPNEST_CRON_SYNC_BATCH_SIZE" default:"100"`
	JobTimeout     time.Duration `envconfig:"TRIPNEST_CRON_JOB_TIMEOUT" default:"5m"`
	Jobs           []string      `envconfig:"TRIPNEST_CRON_JOBS"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
