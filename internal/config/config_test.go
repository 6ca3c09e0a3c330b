package config

import (
	"os"
	"strings"
	"testing"
)

var managedVars = []string{
	"JWT_SECRET", "PORT", "REDIS_ADDR", "REDIS_PASSWORD",
	"MEDIA_SERVER_URL", "MEDIA_API_KEY", "MEDIA_API_SECRET",
	"STORAGE_DRIVER", "MONGO_URI", "MONGO_DATABASE",
	"BLOB_ENDPOINT", "BLOB_BUCKET", "BLOB_ACCESS_KEY", "BLOB_SECRET_KEY", "BLOB_USE_SSL",
	"WEBHOOK_SIGNING_SECRET", "GO_ENV", "LOG_LEVEL", "ALLOWED_ORIGINS",
	"ROOM_GC_INTERVAL", "RECORDING_LOCK_TTL", "PARTICIPANT_NAME_RESERVATION_TTL",
}

// setupTestEnv clears every managed variable and returns a cleanup func that
// restores whatever was there before the test ran.
func setupTestEnv(t *testing.T) func() {
	orig := make(map[string]string, len(managedVars))
	for _, k := range managedVars {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for k, v := range orig {
			if v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func setValidRequired() {
	os.Setenv("JWT_SECRET", "this-is-a-very-long-secret-key-for-testing-purposes")
	os.Setenv("PORT", "8080")
	os.Setenv("MEDIA_SERVER_URL", "https://media.example.com")
	os.Setenv("MEDIA_API_KEY", "key123")
	os.Setenv("MEDIA_API_SECRET", "secret123")
	os.Setenv("WEBHOOK_SIGNING_SECRET", "whsec_abcdef")
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()
	setValidRequired()

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected PORT 8080, got %q", cfg.Port)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("expected GO_ENV to default to production, got %q", cfg.GoEnv)
	}
	if cfg.StorageDriver != StorageMongo {
		t.Errorf("expected STORAGE_DRIVER to default to mongo, got %q", cfg.StorageDriver)
	}
	if cfg.MongoURI != "mongodb://localhost:27017" {
		t.Errorf("expected default mongo URI, got %q", cfg.MongoURI)
	}
}

func TestValidateEnv_MissingJWTSecret(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()
	setValidRequired()
	os.Unsetenv("JWT_SECRET")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "JWT_SECRET is required") {
		t.Fatalf("expected JWT_SECRET error, got: %v", err)
	}
}

func TestValidateEnv_ShortJWTSecret(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()
	setValidRequired()
	os.Setenv("JWT_SECRET", "short")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "at least 32 characters") {
		t.Fatalf("expected JWT_SECRET length error, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()
	setValidRequired()
	os.Setenv("PORT", "99999")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Fatalf("expected PORT error, got: %v", err)
	}
}

func TestValidateEnv_MissingMediaServerCreds(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()
	setValidRequired()
	os.Unsetenv("MEDIA_API_KEY")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "MEDIA_API_KEY and MEDIA_API_SECRET are required") {
		t.Fatalf("expected media server credential error, got: %v", err)
	}
}

func TestValidateEnv_BlobDriverRequiresEndpoint(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()
	setValidRequired()
	os.Setenv("STORAGE_DRIVER", "blob")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "BLOB_ENDPOINT is required") {
		t.Fatalf("expected BLOB_ENDPOINT error, got: %v", err)
	}

	os.Setenv("BLOB_ENDPOINT", "minio.internal:9000")
	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error once BLOB_ENDPOINT set, got: %v", err)
	}
	if cfg.BlobBucket != "ovmeet" {
		t.Errorf("expected default blob bucket, got %q", cfg.BlobBucket)
	}
	if !cfg.BlobUseSSL {
		t.Errorf("expected BlobUseSSL to default true")
	}
}

func TestValidateEnv_InvalidStorageDriver(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()
	setValidRequired()
	os.Setenv("STORAGE_DRIVER", "filesystem")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "STORAGE_DRIVER must be") {
		t.Fatalf("expected STORAGE_DRIVER error, got: %v", err)
	}
}

func TestValidateEnv_MissingWebhookSecret(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()
	setValidRequired()
	os.Unsetenv("WEBHOOK_SIGNING_SECRET")

	_, err := ValidateEnv()
	if err == nil || !strings.Contains(err.Error(), "WEBHOOK_SIGNING_SECRET is required") {
		t.Fatalf("expected WEBHOOK_SIGNING_SECRET error, got: %v", err)
	}
}

func TestValidateEnv_DurationDefaultsAndOverrides(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()
	setValidRequired()

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RecordingLockTTL.Hours() != 6 {
		t.Errorf("expected default RECORDING_LOCK_TTL of 6h, got %v", cfg.RecordingLockTTL)
	}

	cleanup()
	cleanup = setupTestEnv(t)
	defer cleanup()
	setValidRequired()
	os.Setenv("RECORDING_LOCK_TTL", "30m")

	cfg, err = ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RecordingLockTTL.Minutes() != 30 {
		t.Errorf("expected overridden RECORDING_LOCK_TTL of 30m, got %v", cfg.RecordingLockTTL)
	}
}

func TestValidateEnv_InvalidDurationFallsBackToDefault(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()
	setValidRequired()
	os.Setenv("ROOM_GC_INTERVAL", "not-a-duration")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RoomGCInterval.Hours() != 1 {
		t.Errorf("expected RoomGCInterval to fall back to 1h, got %v", cfg.RoomGCInterval)
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"short secret", "short", "***"},
		{"exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactSecret(tt.secret); got != tt.expected {
				t.Errorf("redactSecret(%q) = %q, want %q", tt.secret, got, tt.expected)
			}
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"valid localhost", "localhost:8080", true},
		{"valid ip", "127.0.0.1:6379", true},
		{"missing port", "localhost", false},
		{"missing host", ":6379", false},
		{"invalid port", "localhost:99999", false},
		{"non-numeric port", "localhost:abc", false},
		{"empty string", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidHostPort(tt.addr); got != tt.expected {
				t.Errorf("isValidHostPort(%q) = %v, want %v", tt.addr, got, tt.expected)
			}
		})
	}
}
