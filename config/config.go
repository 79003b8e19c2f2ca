// Package config loads and validates application configuration from
// environment variables using the github.com/caarlos0/env library.
// See individual domain config files for the available variables:
//   - database.go: Postgres and Redis cache configuration
//   - http.go: HTTP server configuration
//   - mail.go: SMTP transport configuration
//   - weather.go: Weather provider configuration
//   - dispatch.go: Dispatch loop configuration
//   - services.go: Service mode configuration
package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
type AppConfig struct {
	// IsDev controls development mode behavior.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Cache    CacheConfig `envPrefix:"CACHE_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// SMTP transport configuration
	Mail MailConfig `envPrefix:"SMTP_"`

	// Weather provider configuration
	Weather WeatherConfig `envPrefix:"WEATHER_"`

	// Dispatch loop configuration
	Dispatch DispatchConfig `envPrefix:"DISPATCH_"`

	// Services is the comma-delimited list of service modes to run.
	Services string `env:"SERVICES" envDefault:"http,dispatcher"`
}

// Sanitize applies guardrails to configuration values loaded from env.
// Call after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Mail.Sanitize()
	c.Weather.Sanitize()
	c.Dispatch.Sanitize()
	c.detectDevMode()
}

// detectDevMode checks NODE_ENV as a fallback for the DEV flag.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP API service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsDispatcherEnabled returns true if the dispatch loop service is enabled.
func (c *AppConfig) IsDispatcherEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeDispatcher]
}
