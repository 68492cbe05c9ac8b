package syncengine

import "time"

// Config controls the sync loop cadence.
type Config struct {
	// Interval is the periodic cycle timer.
	Interval time.Duration

	// Debounce suppresses connectivity-triggered cycles that arrive shortly
	// after the previous cycle finished.
	Debounce time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Debounce: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.Debounce <= 0 {
		c.Debounce = defaults.Debounce
	}
	return c
}
