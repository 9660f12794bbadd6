// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrSecretKeyMissing is returned when TOKENWARDEN_SECRET_KEY is not set.
// Credentials are always encrypted at rest, so there is no plaintext fallback.
var ErrSecretKeyMissing = errors.New("TOKENWARDEN_SECRET_KEY is required (64 hex characters)")

// OAuthClient is the registered client for one OAuth provider.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

// Configured reports whether a client ID was provided.
func (c OAuthClient) Configured() bool {
	return c.ClientID != ""
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	SecretKey  []byte

	RefreshThreshold time.Duration
	RetryBudget      int
	ProviderTimeout  time.Duration
	MonitorInterval  time.Duration

	Gmail         OAuthClient
	Outlook       OAuthClient
	OutlookTenant string

	SessionURL    string
	SessionAPIKey string

	APIKeyHeader string
}

// Load reads configuration from environment variables and returns a validated Config.
// TOKENWARDEN_SECRET_KEY is required. Optional variables with defaults:
// TOKENWARDEN_LISTEN_ADDR (127.0.0.1:8080), TOKENWARDEN_DB_PATH (tokenwarden.db),
// TOKENWARDEN_REFRESH_THRESHOLD (5m), TOKENWARDEN_RETRY_BUDGET (3),
// TOKENWARDEN_PROVIDER_TIMEOUT (10s), TOKENWARDEN_MONITOR_INTERVAL (1m),
// TOKENWARDEN_OUTLOOK_TENANT (common), TOKENWARDEN_API_KEY_HEADER (Authorization).
func Load() (*Config, error) {
	secretKey, err := loadSecretKey()
	if err != nil {
		return nil, err
	}

	refreshThreshold, err := durationEnv("TOKENWARDEN_REFRESH_THRESHOLD", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	providerTimeout, err := durationEnv("TOKENWARDEN_PROVIDER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	monitorInterval, err := durationEnv("TOKENWARDEN_MONITOR_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	retryBudget := 3
	if v, ok := os.LookupEnv("TOKENWARDEN_RETRY_BUDGET"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("TOKENWARDEN_RETRY_BUDGET must be a positive integer, got %q", v)
		}
		retryBudget = parsed
	}

	return &Config{
		ListenAddr:       stringEnv("TOKENWARDEN_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:           stringEnv("TOKENWARDEN_DB_PATH", "tokenwarden.db"),
		SecretKey:        secretKey,
		RefreshThreshold: refreshThreshold,
		RetryBudget:      retryBudget,
		ProviderTimeout:  providerTimeout,
		MonitorInterval:  monitorInterval,
		Gmail: OAuthClient{
			ClientID:     os.Getenv("TOKENWARDEN_GMAIL_CLIENT_ID"),
			ClientSecret: os.Getenv("TOKENWARDEN_GMAIL_CLIENT_SECRET"),
		},
		Outlook: OAuthClient{
			ClientID:     os.Getenv("TOKENWARDEN_OUTLOOK_CLIENT_ID"),
			ClientSecret: os.Getenv("TOKENWARDEN_OUTLOOK_CLIENT_SECRET"),
		},
		OutlookTenant: stringEnv("TOKENWARDEN_OUTLOOK_TENANT", "common"),
		SessionURL:    os.Getenv("TOKENWARDEN_SESSION_URL"),
		SessionAPIKey: os.Getenv("TOKENWARDEN_SESSION_API_KEY"),
		APIKeyHeader:  stringEnv("TOKENWARDEN_API_KEY_HEADER", "Authorization"),
	}, nil
}

func loadSecretKey() ([]byte, error) {
	v := os.Getenv("TOKENWARDEN_SECRET_KEY")
	if v == "" {
		return nil, ErrSecretKeyMissing
	}
	if len(v) != 64 {
		return nil, fmt.Errorf("TOKENWARDEN_SECRET_KEY must be 64 hex characters (32 bytes), got %d characters", len(v))
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("TOKENWARDEN_SECRET_KEY is not valid hex: %w", err)
	}
	return key, nil
}

func stringEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, parsed)
	}
	return parsed, nil
}
