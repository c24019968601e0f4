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

	EnvDBDSN  = "APPEALPOST_DB_DSN"
	EnvDBHost = "APPEALPOST_DB_HOST"
	EnvDBUser = "APPEALPOST_DB_USER"
	EnvDBName = "APPEALPOST_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Stripe     StripeConfig
	Lob        LobConfig
	Sendgrid   SendgridConfig
	Mail       MailConfig
	Ledger     LedgerConfig
	Resilience ResilienceConfig
	Reclaimer  ReclaimerConfig
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
	Env          string `envconfig:"APPEALPOST_APP_ENV" required:"true"`
	Port         string `envconfig:"APPEALPOST_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"APPEALPOST_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"APPEALPOST_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"APPEALPOST_DB_DSN"`
	Driver string `envconfig:"APPEALPOST_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"APPEALPOST_DB_HOST"`
	LegacyPort     int    `envconfig:"APPEALPOST_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"APPEALPOST_DB_USER"`
	LegacyPassword string `envconfig:"APPEALPOST_DB_PASSWORD"`
	LegacyName     string `envconfig:"APPEALPOST_DB_NAME"`
	LegacySSLMode  string `envconfig:"APPEALPOST_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"APPEALPOST_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"APPEALPOST_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"APPEALPOST_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"APPEALPOST_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"APPEALPOST_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"APPEALPOST_REDIS_URL" required:"true"`
	Address      string        `envconfig:"APPEALPOST_REDIS_ADDR"`
	Password     string        `envconfig:"APPEALPOST_REDIS_PASSWORD"`
	DB           int           `envconfig:"APPEALPOST_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"APPEALPOST_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"APPEALPOST_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"APPEALPOST_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"APPEALPOST_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"APPEALPOST_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey string `envconfig:"APPEALPOST_STRIPE_API_KEY"`
	Secret string `envconfig:"APPEALPOST_STRIPE_SECRET"`
	Env    string `envconfig:"APPEALPOST_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type LobConfig struct {
	APIKey        string `envconfig:"APPEALPOST_LOB_API_KEY"`
	WebhookSecret string `envconfig:"APPEALPOST_LOB_WEBHOOK_SECRET"`
	BaseURL       string `envconfig:"APPEALPOST_LOB_BASE_URL"`
}

type SendgridConfig struct {
	APIKey               string `envconfig:"APPEALPOST_SENDGRID_API_KEY"`
	DefaultFrom          string `envconfig:"APPEALPOST_SENDGRID_FROM_EMAIL"`
	DispatchedTemplateID string `envconfig:"APPEALPOST_SENDGRID_DISPATCHED_TEMPLATE_ID"`
	BaseURL              string `envconfig:"APPEALPOST_SENDGRID_BASE_URL"`
}

// MailConfig is the physical return address printed on outbound letters.
type MailConfig struct {
	FromName  string `envconfig:"APPEALPOST_MAIL_FROM_NAME" default:"AppealPost"`
	FromLine1 string `envconfig:"APPEALPOST_MAIL_FROM_LINE1"`
	FromLine2 string `envconfig:"APPEALPOST_MAIL_FROM_LINE2"`
	FromCity  string `envconfig:"APPEALPOST_MAIL_FROM_CITY"`
	FromState string `envconfig:"APPEALPOST_MAIL_FROM_STATE"`
	FromZip   string `envconfig:"APPEALPOST_MAIL_FROM_ZIP"`
}

type LedgerConfig struct {
	ProcessingTTL time.Duration `envconfig:"APPEALPOST_LEDGER_PROCESSING_TTL" default:"10m"`
	ProcessedTTL  time.Duration `envconfig:"APPEALPOST_LEDGER_PROCESSED_CACHE_TTL" default:"720h"`
	MaxAttempts   int           `envconfig:"APPEALPOST_LEDGER_MAX_ATTEMPTS" default:"5"`
}

type ResilienceConfig struct {
	MaxAttempts      int           `envconfig:"APPEALPOST_RESILIENCE_MAX_ATTEMPTS" default:"3"`
	BaseDelay        time.Duration `envconfig:"APPEALPOST_RESILIENCE_BASE_DELAY" default:"100ms"`
	CallTimeout      time.Duration `envconfig:"APPEALPOST_RESILIENCE_CALL_TIMEOUT" default:"30s"`
	BreakerThreshold int           `envconfig:"APPEALPOST_RESILIENCE_BREAKER_THRESHOLD" default:"5"`
	BreakerCooldown  time.Duration `envconfig:"APPEALPOST_RESILIENCE_BREAKER_COOLDOWN" default:"5m"`
}

type ReclaimerConfig struct {
	PollInterval  time.Duration `envconfig:"APPEALPOST_RECLAIMER_POLL_INTERVAL" default:"1m"`
	BatchSize     int           `envconfig:"APPEALPOST_RECLAIMER_BATCH_SIZE" default:"20"`
	LeaseTTL      time.Duration `envconfig:"APPEALPOST_RECLAIMER_LEASE_TTL" default:"2m"`
	StuckOrderAge time.Duration `envconfig:"APPEALPOST_RECLAIMER_STUCK_ORDER_AGE" default:"15m"`
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
