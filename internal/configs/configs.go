/*
Package configs is responsible for loading and parsing the client's configuration settings.

It configures the sync client by reading operating system environment variables,
including the backend endpoints, tenant identity, local state location,
and reconnection behavior.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig contains all configuration parameters required for the sync client to run.
// All configuration values are loaded from environment variables.
type AppConfig struct {
	// General Settings
	Environment string

	// Backend Endpoints
	APIBaseURL string
	SocketURL  string

	// TenantID identifies the storefront tenant presented in the chat handshake.
	TenantID string

	// Local State Settings
	StatePath string
	RedisAddr string

	// Reconnection Settings
	ReconnectAttempts uint64
	ReconnectDelay    time.Duration

	// OpsAddr is the listen address for the local /metrics and /healthz endpoints.
	// Empty disables the operational HTTP surface.
	OpsAddr string
}

// LoadConfig reads and parses the client configuration from environment variables.
// It provides default values for each configuration item and performs necessary type
// conversions and validation.
// It returns a pointer to the AppConfig struct and any error encountered.
func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}

	// --- General Settings ---
	cfg.Environment = os.Getenv("ENVIRONMENT")
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	// --- Backend Endpoints ---
	cfg.APIBaseURL = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if cfg.APIBaseURL == "" {
		if cfg.Environment == "development" {
			cfg.APIBaseURL = "http://localhost:3001"
		} else {
			return nil, fmt.Errorf("API_BASE_URL environment variable is required in %s environment", cfg.Environment)
		}
	}

	cfg.SocketURL = os.Getenv("SOCKET_URL")
	if cfg.SocketURL == "" {
		if cfg.Environment == "development" {
			cfg.SocketURL = "ws://localhost:3001/ws"
		} else {
			return nil, fmt.Errorf("SOCKET_URL environment variable is required in %s environment", cfg.Environment)
		}
	}

	if !strings.HasPrefix(cfg.SocketURL, "ws://") && !strings.HasPrefix(cfg.SocketURL, "wss://") {
		return nil, fmt.Errorf("SOCKET_URL must use the ws:// or wss:// scheme, got %q", cfg.SocketURL)
	}

	// --- Tenant Identity ---
	cfg.TenantID = os.Getenv("TENANT_ID")
	if cfg.TenantID == "" {
		if cfg.Environment == "development" {
			cfg.TenantID = "dev-tenant"
		} else {
			return nil, fmt.Errorf("TENANT_ID environment variable is required in %s environment", cfg.Environment)
		}
	}

	// --- Local State Settings ---
	cfg.StatePath = os.Getenv("STATE_PATH")
	if cfg.StatePath == "" {
		cfg.StatePath = "shopsync-state.json"
	}

	// RedisAddr is optional. When set, local state is kept in Redis instead of the state file.
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")

	// --- Reconnection Settings ---
	attemptsStr := os.Getenv("RECONNECT_ATTEMPTS")
	if attemptsStr == "" {
		attemptsStr = "5"
	}
	attempts, err := strconv.ParseUint(attemptsStr, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_ATTEMPTS environment variable: %w", err)
	}
	cfg.ReconnectAttempts = attempts

	delayStr := os.Getenv("RECONNECT_DELAY")
	if delayStr == "" {
		delayStr = "3s"
	}
	delay, err := time.ParseDuration(delayStr)
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_DELAY environment variable: %w", err)
	}
	if delay <= 0 {
		return nil, fmt.Errorf("RECONNECT_DELAY must be positive, got %s", delay)
	}
	cfg.ReconnectDelay = delay

	// --- Operational Endpoint ---
	cfg.OpsAddr = os.Getenv("OPS_ADDR")
	if cfg.OpsAddr == "" && cfg.Environment == "development" {
		cfg.OpsAddr = ":9091"
	}

	return cfg, nil
}
