package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	JWT            JWTConfig
	FeatureFlags   FeatureFlagsConfig
	GCP            GCPConfig
	GCS            GCSConfig
	PubSub         PubSubConfig
	Outbox         OutboxConfig
	Quotes         QuotesConfig
	ExternalQuotes ExternalQuotesConfig
	Profiles       ProfilesConfig
	Cron           CronConfig
	API            APIConfig
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
	Env          string `envconfig:"VISAMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"VISAMARKET_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"VISAMARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VISAMARKET_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"VISAMARKET_LOG_FORMAT" default:"json"`
}

// ConsoleLogs reports whether logs should be rendered for humans.
func (a AppConfig) ConsoleLogs() bool {
	return strings.EqualFold(a.LogFormat, "console")
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// APIConfig tunes the HTTP surface.
type APIConfig struct {
	CORSOrigins     []string      `envconfig:"VISAMARKET_API_CORS_ORIGINS" default:"http://localhost:3000"`
	SubmitRateLimit int           `envconfig:"VISAMARKET_API_SUBMIT_RATE_LIMIT" default:"20"`
	RateLimitWindow time.Duration `envconfig:"VISAMARKET_API_RATE_LIMIT_WINDOW" default:"1m"`
	ShutdownTimeout time.Duration `envconfig:"VISAMARKET_API_SHUTDOWN_TIMEOUT" default:"15s"`
}

type ServiceConfig struct {
	Kind string `envconfig:"VISAMARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"VISAMARKET_DB_DSN"`

	Host     string `envconfig:"VISAMARKET_DB_HOST"`
	Port     int    `envconfig:"VISAMARKET_DB_PORT" default:"5432"`
	User     string `envconfig:"VISAMARKET_DB_USER"`
	Password string `envconfig:"VISAMARKET_DB_PASSWORD"`
	Name     string `envconfig:"VISAMARKET_DB_NAME"`
	SSLMode  string `envconfig:"VISAMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VISAMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VISAMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VISAMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VISAMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"VISAMARKET_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VISAMARKET_REDIS_URL"`
	Address      string        `envconfig:"VISAMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"VISAMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"VISAMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VISAMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VISAMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VISAMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VISAMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VISAMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies the access tokens minted by the identity service.
type JWTConfig struct {
	Secret            string `envconfig:"VISAMARKET_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"VISAMARKET_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"VISAMARKET_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"VISAMARKET_AUTO_MIGRATE" default:"false"`
	// DocumentsEnabled toggles the GCS-backed document store for file fields.
	DocumentsEnabled bool `envconfig:"VISAMARKET_DOCUMENTS_ENABLED" default:"true"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"VISAMARKET_GCP_PROJECT_ID"`
	CredentialsFile string `envconfig:"VISAMARKET_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName        string        `envconfig:"VISAMARKET_GCS_BUCKET_NAME"`
	ObjectPrefix      string        `envconfig:"VISAMARKET_GCS_OBJECT_PREFIX" default:"application-documents"`
	MaxUploadMB       int           `envconfig:"VISAMARKET_GCS_MAX_UPLOAD_MB" default:"10"`
	DownloadURLExpiry time.Duration `envconfig:"VISAMARKET_GCS_DOWNLOAD_URL_EXPIRY" default:"15m"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"VISAMARKET_PUBSUB_NOTIFICATION_TOPIC" default:"vm-notification-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"VISAMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"VISAMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"VISAMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// QuotesConfig bounds the bidding rules that are not part of a service module.
type QuotesConfig struct {
	MaxWindowExtensionHours int `envconfig:"VISAMARKET_QUOTES_MAX_EXTENSION_HOURS" default:"168"`
	MaxProcessingDays       int `envconfig:"VISAMARKET_QUOTES_MAX_PROCESSING_DAYS" default:"365"`
}

type ExternalQuotesConfig struct {
	BaseURL  string        `envconfig:"VISAMARKET_EXTERNAL_QUOTES_BASE_URL"`
	APIKey   string        `envconfig:"VISAMARKET_EXTERNAL_QUOTES_API_KEY"`
	Timeout  time.Duration `envconfig:"VISAMARKET_EXTERNAL_QUOTES_TIMEOUT" default:"4s"`
	CacheTTL time.Duration `envconfig:"VISAMARKET_EXTERNAL_QUOTES_CACHE_TTL" default:"10m"`
}

// ProfilesConfig lists the profile tables form fields may map onto.
type ProfilesConfig struct {
	AllowedTables []string `envconfig:"VISAMARKET_PROFILE_TABLES" default:"users,user_profiles,user_passports,user_addresses"`
	UserIDColumn  string   `envconfig:"VISAMARKET_PROFILE_USER_ID_COLUMN" default:"user_id"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"VISAMARKET_CRON_INTERVAL" default:"15m"`
	LockTTL               time.Duration `envconfig:"VISAMARKET_CRON_LOCK_TTL" default:"14m"`
	PendingRetryBatchSize int           `envconfig:"VISAMARKET_CRON_PENDING_RETRY_BATCH" default:"100"`
	SweepBatchSize        int           `envconfig:"VISAMARKET_CRON_SWEEP_BATCH" default:"100"`
	OutboxRetention       time.Duration `envconfig:"VISAMARKET_CRON_OUTBOX_RETENTION" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range componentDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
