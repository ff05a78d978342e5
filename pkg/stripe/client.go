package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/tripnest/tripnest-backend/pkg/config"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	"github.com/tripnest/tripnest-backend/pkg/metrics"
)

const (
	testEnv = "test"
	liveEnv = "live"

	defaultTimeout   = 15 * time.Second
	defaultRetryBase = 200 * time.Millisecond
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errLoggerRequired   = errors.New("stripe logger is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client exposes the Connect primitives used by settlement with centralized
// logging, bounded retries, idempotency keys and error mapping.
type Client struct {
	api         *client.API
	environment string
	logger      *logger.Logger
	timeout     time.Duration
	maxRetries  uint64
	retryBase   time.Duration
	metrics     *metrics.SettlementMetrics
}

// NewClient validates the credentials and builds an isolated API client.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})

	c := newClient(client.New(apiKey, backends), env, logg, timeout, cfg.MaxNetworkRetries, cfg.RetryBaseDelay)
	logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client initialized")
	return c, nil
}

func newClient(api *client.API, env string, logg *logger.Logger, timeout time.Duration, maxRetries uint64, retryBase time.Duration) *Client {
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		api:         api,
		environment: env,
		logger:      logg,
		timeout:     timeout,
		maxRetries:  maxRetries,
		retryBase:   retryBase,
	}
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// WithMetrics records processor call latency on m.
func (c *Client) WithMetrics(m *metrics.SettlementMetrics) *Client {
	c.metrics = m
	return c
}

// NewIdempotencyKey returns a unique key for Stripe mutations.
func NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "tn"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// call runs fn with a per-attempt timeout. Only network-class failures are
// retried; every attempt reuses the params, and therefore the idempotency key.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	start := time.Now()
	backoff := retry.WithMaxRetries(c.maxRetries, retry.WithJitterPercent(20, retry.NewExponential(c.retryBase)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if isNetworkError(err) {
			c.log(ctx, "retry", op, map[string]any{"attempt": attempt, "error": err.Error()})
			return retry.RetryableError(err)
		}
		return err
	})
	c.metrics.ObserveProcessorCall(op, time.Since(start), err)
	if err != nil {
		c.log(ctx, "error", op, map[string]any{"attempts": attempt, "error": err.Error()})
		return mapStripeError(err, op)
	}
	return nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("stripe %s", op), errors.New(fmt.Sprint(fields["error"])))
	case "retry":
		c.logger.Warn(ctx, fmt.Sprintf("stripe %s retry", op))
	default:
		c.logger.Info(ctx, fmt.Sprintf("stripe %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"secret", "email", "phone", "dob", "tax_id", "token"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
