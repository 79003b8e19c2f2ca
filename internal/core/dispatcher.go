package core

// DispatcherConfig contains dispatch-loop tuning.
type DispatcherConfig struct {
	// BatchSize caps how many pending schedules one cycle loads.
	BatchSize int

	// MaxDeliveryAttempts is the number of failed sends after which a
	// schedule moves to the terminal failed status instead of retrying
	// forever.
	MaxDeliveryAttempts int
}

// DefaultDispatcherConfig returns the default dispatch-loop tuning.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:           100,
		MaxDeliveryAttempts: 5,
	}
}
