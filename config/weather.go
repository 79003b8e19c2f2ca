package config

import (
	"strings"
	"time"
)

// WeatherConfig contains weather provider configuration.
type WeatherConfig struct {
	// BaseURL is the root of the Open-Meteo compatible provider.
	BaseURL string `env:"BASE_URL" envDefault:"https://api.open-meteo.com"`

	// Timeout bounds one provider request.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to weather provider configuration values.
func (w *WeatherConfig) Sanitize() {
	w.BaseURL = strings.TrimRight(strings.TrimSpace(w.BaseURL), "/")
	if w.Timeout <= 0 {
		w.Timeout = 10 * time.Second
	}
}
