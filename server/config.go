package server

import (
	"time"
)

// Config holds all configuration for the agentdeck HTTP server.
type Config struct {
	Host string
	Port int
	Mode string // "development" or "production"

	CORS          CORSConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Logging       LoggingConfig
	Observability ObservabilityConfig

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CORSConfig holds CORS configuration. The server fronts a browser IDE, so
// CORS is on by default in development.
type CORSConfig struct {
	Enabled          bool
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	APIKey APIKeyConfig
}

// APIKeyConfig holds API key authentication settings.
type APIKeyConfig struct {
	Enabled    bool
	HeaderName string
	Keys       []string
}

// RateLimitConfig holds per-IP rate limiting configuration.
type RateLimitConfig struct {
	Enabled       bool
	RequestsPerIP int
	WindowSize    time.Duration
}

// LoggingConfig holds request logging configuration.
type LoggingConfig struct {
	Structured bool
}

// ObservabilityConfig holds metrics and health check settings.
type ObservabilityConfig struct {
	Metrics     MetricsConfig
	HealthCheck HealthCheckConfig
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// HealthCheckConfig holds health check settings.
type HealthCheckConfig struct {
	Enabled  bool
	Endpoint string
}

// DefaultConfig returns a default configuration for development.
func DefaultConfig() *Config {
	return &Config{
		Host: "0.0.0.0",
		Port: 8080,
		Mode: "development",
		CORS: CORSConfig{
			Enabled:          true,
			AllowOrigins:     []string{"*"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
			AllowCredentials: true,
		},
		Auth: AuthConfig{
			APIKey: APIKeyConfig{
				Enabled:    false,
				HeaderName: "X-API-Key",
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:       false,
			RequestsPerIP: 300,
			WindowSize:    time.Minute,
		},
		Logging: LoggingConfig{Structured: true},
		Observability: ObservabilityConfig{
			Metrics:     MetricsConfig{Enabled: true, Endpoint: "/metrics"},
			HealthCheck: HealthCheckConfig{Enabled: true, Endpoint: "/health"},
		},
		// The turn endpoint streams for as long as a turn runs; its writes
		// must not be cut off by a blanket write timeout.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
}

// ProductionConfig returns a configuration suitable for production.
func ProductionConfig() *Config {
	config := DefaultConfig()
	config.Mode = "production"
	config.CORS.AllowOrigins = []string{}
	config.Auth.APIKey.Enabled = true
	config.RateLimit.Enabled = true
	return config
}
