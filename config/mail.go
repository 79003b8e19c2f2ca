package config

import "time"

// MailConfig contains SMTP transport configuration.
type MailConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT"     envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`

	// From is the sender address stamped on outgoing mail. Defaults to the
	// SMTP username when unset.
	From string `env:"FROM"`

	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to SMTP configuration values.
func (m *MailConfig) Sanitize() {
	if m.From == "" {
		m.From = m.Username
	}
	if m.Port <= 0 || m.Port > 65535 {
		m.Port = 587
	}
	if m.Timeout <= 0 {
		m.Timeout = 30 * time.Second
	}
}
