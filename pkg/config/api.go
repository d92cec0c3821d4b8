package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment          string
	Addr                 string
	PathPrefix           string
	LogLevel             string
	DatabaseURL          string
	MigrationsDir        string
	JWTSecret            string
	SessionTTL           time.Duration
	SessionCookieName    string
	SessionCookieSecure  bool
	DealerServiceURL     string
	SentimentServiceURL  string
	RemoteTimeout        time.Duration
	RemoteMaxRetries     int
	SentimentConcurrency int
	MediaURL             string
	MediaRoot            string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	StreamHeartbeat      time.Duration
	TrustedProxies       []string
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:          GetString("APP_ENV", "development"),
		Addr:                 GetString("API_ADDR", ":8000"),
		PathPrefix:           GetString("API_PATH_PREFIX", ""),
		LogLevel:             GetString("LOG_LEVEL", "info"),
		DatabaseURL:          GetString("DATABASE_URL", "postgres://dealer:dealer@db:5432/dealer?sslmode=disable"),
		MigrationsDir:        GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:            GetString("JWT_SECRET", "supersecuresecret"),
		SessionTTL:           GetDuration("SESSION_TTL_HOURS", 336, time.Hour),
		SessionCookieName:    GetString("SESSION_COOKIE_NAME", "sessionid"),
		SessionCookieSecure:  GetBool("SESSION_COOKIE_SECURE", false),
		DealerServiceURL:     GetString("DEALER_SERVICE_URL", "http://localhost:3030"),
		SentimentServiceURL:  GetString("SENTIMENT_SERVICE_URL", "http://localhost:5050"),
		RemoteTimeout:        GetDuration("REMOTE_TIMEOUT_SECONDS", 10, time.Second),
		RemoteMaxRetries:     GetInt("REMOTE_MAX_RETRIES", 1),
		SentimentConcurrency: GetInt("SENTIMENT_CONCURRENCY", 4),
		MediaURL:             GetString("MEDIA_URL", "/media/"),
		MediaRoot:            GetString("MEDIA_ROOT", ""),
		RedisAddr:            GetString("REDIS_ADDR", ""),
		RedisPassword:        GetString("REDIS_PASSWORD", ""),
		RedisDB:              GetInt("REDIS_DB", 0),
		StreamHeartbeat:      GetDuration("STREAM_HEARTBEAT_SECONDS", 25, time.Second),
		TrustedProxies:       GetList("TRUSTED_PROXIES"),
	}
}
