package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// NATS configuration
	NATSURL string

	// Solana provider configuration
	SolanaRPCURL string
	SolanaWSURL  string

	// The account the server-side session monitors
	WatchAddress string

	// Streaming session configuration
	KeepaliveInterval    time.Duration
	HandshakeTimeout     time.Duration
	BackoffBaseDelay     time.Duration
	BackoffMaxDelay      time.Duration
	MaxReconnectAttempts int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana provider configuration
	// For Helius include the API key in the URL:
	//   https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
	//   wss://mainnet.helius-rpc.com/?api-key=YOUR-KEY
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.SolanaWSURL = os.Getenv("SOLANA_WS_URL")
	if cfg.SolanaWSURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_WS_URL is required"))
	}

	cfg.WatchAddress = os.Getenv("WATCH_ADDRESS")
	if cfg.WatchAddress == "" {
		errs = append(errs, fmt.Errorf("WATCH_ADDRESS is required"))
	}

	// Streaming session configuration
	keepalive, err := parseDuration("KEEPALIVE_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.KeepaliveInterval = keepalive
	}

	handshake, err := parseDuration("HANDSHAKE_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.HandshakeTimeout = handshake
	}

	base, err := parseDuration("BACKOFF_BASE_DELAY", "1s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BackoffBaseDelay = base
	}

	maxDelay, err := parseDuration("BACKOFF_MAX_DELAY", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BackoffMaxDelay = maxDelay
	}

	maxAttempts, err := parseInt("MAX_RECONNECT_ATTEMPTS", 0)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxReconnectAttempts = maxAttempts
	}

	if err := cfg.validateRelations(); err != nil {
		errs = append(errs, err)
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.SolanaWSURL == "" {
		errs = append(errs, fmt.Errorf("SolanaWSURL is required"))
	}

	if c.WatchAddress == "" {
		errs = append(errs, fmt.Errorf("WatchAddress is required"))
	}

	if c.KeepaliveInterval < time.Second {
		errs = append(errs, fmt.Errorf("KeepaliveInterval must be at least 1 second"))
	}

	if c.HandshakeTimeout < time.Second {
		errs = append(errs, fmt.Errorf("HandshakeTimeout must be at least 1 second"))
	}

	if c.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("MaxReconnectAttempts cannot be negative"))
	}

	if err := c.validateRelations(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// validateRelations checks cross-field constraints.
func (c *Config) validateRelations() error {
	var errs []string

	if c.BackoffMaxDelay > 0 && c.BackoffBaseDelay > c.BackoffMaxDelay {
		errs = append(errs, fmt.Sprintf("BACKOFF_BASE_DELAY (%v) cannot be greater than BACKOFF_MAX_DELAY (%v)",
			c.BackoffBaseDelay, c.BackoffMaxDelay))
	}

	if c.SolanaWSURL != "" && !strings.HasPrefix(c.SolanaWSURL, "ws://") && !strings.HasPrefix(c.SolanaWSURL, "wss://") {
		errs = append(errs, fmt.Sprintf("SOLANA_WS_URL must be a ws:// or wss:// URL, got %q", c.SolanaWSURL))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
