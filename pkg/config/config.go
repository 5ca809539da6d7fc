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

	EnvDBDSN  = "FLEETLY_DB_DSN"
	EnvDBHost = "FLEETLY_DB_HOST"
	EnvDBUser = "FLEETLY_DB_USER"
	EnvDBName = "FLEETLY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Wallet       WalletConfig
	Webhooks     WebhooksConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"FLEETLY_APP_ENV" required:"true"`
	Port         string `envconfig:"FLEETLY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FLEETLY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FLEETLY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"FLEETLY_DB_DSN"`
	Driver string `envconfig:"FLEETLY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FLEETLY_DB_HOST"`
	LegacyPort     int    `envconfig:"FLEETLY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FLEETLY_DB_USER"`
	LegacyPassword string `envconfig:"FLEETLY_DB_PASSWORD"`
	LegacyName     string `envconfig:"FLEETLY_DB_NAME"`
	LegacySSLMode  string `envconfig:"FLEETLY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FLEETLY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FLEETLY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FLEETLY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FLEETLY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FLEETLY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FLEETLY_REDIS_ADDR"`
	Password     string        `envconfig:"FLEETLY_REDIS_PASSWORD"`
	DB           int           `envconfig:"FLEETLY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FLEETLY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FLEETLY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FLEETLY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FLEETLY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FLEETLY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FLEETLY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FLEETLY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FLEETLY_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey string `envconfig:"FLEETLY_STRIPE_API_KEY"`
	Secret string `envconfig:"FLEETLY_STRIPE_SECRET"`
	Env    string `envconfig:"FLEETLY_STRIPE_ENV" default:"test"`
	// CallTimeout bounds every outbound gateway call.
	CallTimeout time.Duration `envconfig:"FLEETLY_STRIPE_CALL_TIMEOUT" default:"15s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type WalletConfig struct {
	// ExpressFeeCents is deducted from the disbursed amount of an express
	// withdrawal; the ledger debit stays the full requested amount.
	ExpressFeeCents  int64 `envconfig:"FLEETLY_WALLET_EXPRESS_FEE_CENTS" default:"199"`
	MinWithdrawCents int64 `envconfig:"FLEETLY_WALLET_MIN_WITHDRAW_CENTS" default:"100"`
}

type WebhooksConfig struct {
	// EventDedupTTL is how long a processed gateway event id is remembered.
	EventDedupTTL time.Duration `envconfig:"FLEETLY_WEBHOOK_EVENT_DEDUP_TTL" default:"720h"`
	// ReconcilePendingAfter is the age at which a pending payment is
	// re-queried against the gateway on startup.
	ReconcilePendingAfter time.Duration `envconfig:"FLEETLY_WEBHOOK_RECONCILE_PENDING_AFTER" default:"15m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FLEETLY_AUTO_MIGRATE" default:"false"`
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
