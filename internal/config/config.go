// Package config validates and exposes the environment-driven
// configuration for the control plane.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageDriver selects the persistence backend.
type StorageDriver string

const (
	StorageMongo StorageDriver = "mongo"
	StorageBlob  StorageDriver = "blob"
)

// Config holds validated environment configuration for the control plane.
type Config struct {
	// Required variables
	JWTSecret      string
	Port           string
	RedisAddr      string
	MediaServerURL string
	MediaAPIKey    string
	MediaAPISecret string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisPassword string

	StorageDriver StorageDriver
	MongoURI      string
	MongoDatabase string

	BlobEndpoint  string
	BlobBucket    string
	BlobAccessKey string
	BlobSecretKey string
	BlobUseSSL    bool

	WebhookSigningSecret string
	AllowedOrigins       string

	// Token lifetimes (configured via environment)
	AccessTokenExpiration      time.Duration
	RefreshTokenExpiration     time.Duration
	ParticipantTokenExpiration time.Duration

	// Scheduler / GC tunables (configured via environment)
	RoomGCInterval                   time.Duration
	RecordingLockTTL                 time.Duration
	RecordingStartedTimeout          time.Duration
	RecordingStaleAfter              time.Duration
	RecordingStaleCleanupInterval    time.Duration
	RecordingLockGCInterval          time.Duration
	RecordingOrphanedLockGracePeriod time.Duration

	// Name reservation tunables (configured via environment)
	ParticipantMaxConcurrentNameRequests int
	ParticipantNameReservationTTL        time.Duration

	// Meeting tunables (configured via environment)
	MeetingEmptyTimeout              time.Duration
	MeetingDepartureTimeout          time.Duration
	MinFutureTimeForRoomAutoDeletion time.Duration

	// Rate limits
	RateLimitAPIGlobal   string
	RateLimitAPIPublic   string
	RateLimitAPIRooms    string
	RateLimitAPIMessages string
}

// ValidateEnv validates all required environment variables and returns a
// Config object. Returns a single joined error if any required variable
// is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
		slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
	} else if !isValidHostPort(cfg.RedisAddr) {
		errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.MediaServerURL = os.Getenv("MEDIA_SERVER_URL")
	if cfg.MediaServerURL == "" {
		errs = append(errs, "MEDIA_SERVER_URL is required")
	}
	cfg.MediaAPIKey = os.Getenv("MEDIA_API_KEY")
	cfg.MediaAPISecret = os.Getenv("MEDIA_API_SECRET")
	if cfg.MediaAPIKey == "" || cfg.MediaAPISecret == "" {
		errs = append(errs, "MEDIA_API_KEY and MEDIA_API_SECRET are required")
	}

	cfg.StorageDriver = StorageDriver(getEnvOrDefault("STORAGE_DRIVER", string(StorageMongo)))
	switch cfg.StorageDriver {
	case StorageMongo:
		cfg.MongoURI = getEnvOrDefault("MONGO_URI", "mongodb://localhost:27017")
		cfg.MongoDatabase = getEnvOrDefault("MONGO_DATABASE", "ovmeet")
	case StorageBlob:
		cfg.BlobEndpoint = os.Getenv("BLOB_ENDPOINT")
		cfg.BlobBucket = getEnvOrDefault("BLOB_BUCKET", "ovmeet")
		cfg.BlobAccessKey = os.Getenv("BLOB_ACCESS_KEY")
		cfg.BlobSecretKey = os.Getenv("BLOB_SECRET_KEY")
		cfg.BlobUseSSL = os.Getenv("BLOB_USE_SSL") != "false"
		if cfg.BlobEndpoint == "" {
			errs = append(errs, "BLOB_ENDPOINT is required when STORAGE_DRIVER=blob")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_DRIVER must be 'mongo' or 'blob' (got '%s')", cfg.StorageDriver))
	}

	cfg.WebhookSigningSecret = os.Getenv("WEBHOOK_SIGNING_SECRET")
	if cfg.WebhookSigningSecret == "" {
		errs = append(errs, "WEBHOOK_SIGNING_SECRET is required")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.AccessTokenExpiration = getEnvDurationOrDefault("ACCESS_TOKEN_EXPIRATION", 2*time.Hour)
	cfg.RefreshTokenExpiration = getEnvDurationOrDefault("REFRESH_TOKEN_EXPIRATION", 24*time.Hour)
	cfg.ParticipantTokenExpiration = getEnvDurationOrDefault("PARTICIPANT_TOKEN_EXPIRATION", 2*time.Hour)

	cfg.RoomGCInterval = getEnvDurationOrDefault("ROOM_GC_INTERVAL", time.Hour)
	cfg.RecordingLockTTL = getEnvDurationOrDefault("RECORDING_LOCK_TTL", 6*time.Hour)
	cfg.RecordingStartedTimeout = getEnvDurationOrDefault("RECORDING_STARTED_TIMEOUT", 20*time.Second)
	cfg.RecordingStaleAfter = getEnvDurationOrDefault("RECORDING_STALE_AFTER", 5*time.Minute)
	cfg.RecordingStaleCleanupInterval = getEnvDurationOrDefault("RECORDING_STALE_CLEANUP_INTERVAL", 15*time.Minute)
	cfg.RecordingLockGCInterval = getEnvDurationOrDefault("RECORDING_LOCK_GC_INTERVAL", 30*time.Minute)
	cfg.RecordingOrphanedLockGracePeriod = getEnvDurationOrDefault("RECORDING_ORPHANED_LOCK_GRACE_PERIOD", time.Minute)

	cfg.ParticipantMaxConcurrentNameRequests = getEnvIntOrDefault("PARTICIPANT_MAX_CONCURRENT_NAME_REQUESTS", 20)
	cfg.ParticipantNameReservationTTL = getEnvDurationOrDefault("PARTICIPANT_NAME_RESERVATION_TTL", 12*time.Hour)

	cfg.MeetingEmptyTimeout = getEnvDurationOrDefault("MEETING_EMPTY_TIMEOUT", 20*time.Second)
	cfg.MeetingDepartureTimeout = getEnvDurationOrDefault("MEETING_DEPARTURE_TIMEOUT", 20*time.Second)
	cfg.MinFutureTimeForRoomAutoDeletion = getEnvDurationOrDefault("MIN_FUTURE_TIME_FOR_ROOM_AUTODELETION_DATE", time.Hour)

	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitAPIMessages = getEnvOrDefault("RATE_LIMIT_API_MESSAGES", "500-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"redis_addr", cfg.RedisAddr,
		"storage_driver", cfg.StorageDriver,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"room_gc_interval", cfg.RoomGCInterval,
		"recording_lock_ttl", cfg.RecordingLockTTL,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration env var, using default", "key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return d
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid int env var, using default", "key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return n
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
