package config

// EnvPrefix is handed to envconfig; every tag carries the full variable name.
const EnvPrefix = "VISAMARKET"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv        = "VISAMARKET_APP_ENV"
	EnvPort          = "VISAMARKET_APP_PORT"
	EnvDBDSN         = "VISAMARKET_DB_DSN"
	EnvDBHost        = "VISAMARKET_DB_HOST"
	EnvDBUser        = "VISAMARKET_DB_USER"
	EnvDBName        = "VISAMARKET_DB_NAME"
	EnvDBPassword    = "VISAMARKET_DB_PASSWORD"
	EnvRedisURL      = "VISAMARKET_REDIS_URL"
	EnvJWTSecret     = "VISAMARKET_JWT_SECRET"
	EnvJWTIssuer     = "VISAMARKET_JWT_ISSUER"
	EnvProfileTables = "VISAMARKET_PROFILE_TABLES"
	EnvQuotesTimeout = "VISAMARKET_EXTERNAL_QUOTES_TIMEOUT"
)

var componentDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
