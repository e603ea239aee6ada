package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv    = "EQUIBOX_APP_ENV"
	EnvPort      = "EQUIBOX_APP_PORT"
	EnvDBDSN     = "EQUIBOX_DB_DSN"
	EnvDBHost    = "EQUIBOX_DB_HOST"
	EnvDBUser    = "EQUIBOX_DB_USER"
	EnvDBName    = "EQUIBOX_DB_NAME"
	EnvRedisURL  = "EQUIBOX_REDIS_URL"
	EnvJWTSecret = "EQUIBOX_JWT_SECRET"
	EnvJWTIssuer = "EQUIBOX_JWT_ISSUER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Checkout     CheckoutConfig
	AuthRate     AuthRateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"EQUIBOX_APP_ENV" required:"true"`
	Port         string `envconfig:"EQUIBOX_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"EQUIBOX_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"EQUIBOX_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"EQUIBOX_DB_DSN"`
	Driver string `envconfig:"EQUIBOX_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"EQUIBOX_DB_HOST"`
	LegacyPort     int    `envconfig:"EQUIBOX_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"EQUIBOX_DB_USER"`
	LegacyPassword string `envconfig:"EQUIBOX_DB_PASSWORD"`
	LegacyName     string `envconfig:"EQUIBOX_DB_NAME"`
	LegacySSLMode  string `envconfig:"EQUIBOX_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"EQUIBOX_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"EQUIBOX_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"EQUIBOX_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"EQUIBOX_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"EQUIBOX_REDIS_URL" required:"true"`
	Address      string        `envconfig:"EQUIBOX_REDIS_ADDR"`
	Password     string        `envconfig:"EQUIBOX_REDIS_PASSWORD"`
	DB           int           `envconfig:"EQUIBOX_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EQUIBOX_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"EQUIBOX_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"EQUIBOX_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EQUIBOX_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EQUIBOX_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"EQUIBOX_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"EQUIBOX_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"EQUIBOX_JWT_EXPIRATION_MINUTES" default:"60"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"EQUIBOX_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"EQUIBOX_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"EQUIBOX_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"EQUIBOX_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"EQUIBOX_ARGON_KEY_LEN" default:"32"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"EQUIBOX_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"EQUIBOX_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"EQUIBOX_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"EQUIBOX_STRIPE_ENV" default:"test"`
	Currency      string `envconfig:"EQUIBOX_STRIPE_CURRENCY" default:"sek"`
	InvoiceDueDays int   `envconfig:"EQUIBOX_STRIPE_INVOICE_DUE_DAYS" default:"14"`
}

type CheckoutConfig struct {
	SessionTTL      time.Duration `envconfig:"EQUIBOX_CHECKOUT_SESSION_TTL" default:"30m"`
	SubmitGuardTTL  time.Duration `envconfig:"EQUIBOX_CHECKOUT_SUBMIT_GUARD_TTL" default:"2m"`
	ClientSecretTTL time.Duration `envconfig:"EQUIBOX_CHECKOUT_CLIENT_SECRET_TTL" default:"15m"`
	WebhookEventTTL time.Duration `envconfig:"EQUIBOX_WEBHOOK_EVENT_TTL" default:"720h"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"EQUIBOX_AUTH_LOGIN_WINDOW" default:"5m"`
	LoginIPLimit       int           `envconfig:"EQUIBOX_AUTH_LOGIN_IP_LIMIT" default:"20"`
	LoginEmailLimit    int           `envconfig:"EQUIBOX_AUTH_LOGIN_EMAIL_LIMIT" default:"10"`
	RegisterWindow     time.Duration `envconfig:"EQUIBOX_AUTH_REGISTER_WINDOW" default:"15m"`
	RegisterIPLimit    int           `envconfig:"EQUIBOX_AUTH_REGISTER_IP_LIMIT" default:"10"`
	RegisterEmailLimit int           `envconfig:"EQUIBOX_AUTH_REGISTER_EMAIL_LIMIT" default:"5"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
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
