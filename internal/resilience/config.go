package resilience

import "time"

// FromBreakerConfig converts config values to a BreakerConfig, keeping
// defaults for zero values.
func FromBreakerConfig(failureThreshold, resetTimeoutSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// FromBackoffConfig converts config values to a Backoff, keeping defaults for
// zero values.
func FromBackoffConfig(initialSecs, maxSecs int, multiplier, jitter float64) Backoff {
	b := DefaultBackoff()
	if initialSecs > 0 {
		b.Initial = time.Duration(initialSecs) * time.Second
	}
	if maxSecs > 0 {
		b.Max = time.Duration(maxSecs) * time.Second
	}
	if multiplier > 0 {
		b.Multiplier = multiplier
	}
	if jitter >= 0 {
		b.Jitter = jitter
	}
	return b
}
