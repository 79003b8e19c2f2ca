package config

import "time"

// DispatchConfig contains dispatch loop configuration.
type DispatchConfig struct {
	// Interval is the cadence between dispatch cycles.
	Interval time.Duration `env:"INTERVAL" envDefault:"1m"`

	// BatchSize caps how many pending schedules one cycle loads.
	BatchSize int `env:"BATCH_SIZE" envDefault:"100"`

	// MaxDeliveryAttempts caps failed sends before a schedule turns failed.
	MaxDeliveryAttempts int `env:"MAX_DELIVERY_ATTEMPTS" envDefault:"5"`
}

// Sanitize applies guardrails to dispatch loop configuration values.
func (d *DispatchConfig) Sanitize() {
	if d.Interval <= 0 {
		d.Interval = time.Minute
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 100
	}
	if d.MaxDeliveryAttempts <= 0 {
		d.MaxDeliveryAttempts = 5
	}
}
