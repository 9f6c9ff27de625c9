package workload

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds the configuration for exponential backoff.
type BackoffConfig struct {
	Initial    time.Duration // First delay
	Max        time.Duration // Delay cap
	Multiplier float64       // Growth per attempt
	JitterPct  float64       // Jitter as a fraction of the delay (0.4 = ±20%)
}

// RecoveryBackoff paces fork retries while reaped children finish their
// threads.
func RecoveryBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:    100 * time.Microsecond,
		Max:        10 * time.Millisecond,
		Multiplier: 2,
		JitterPct:  0.4,
	}
}

// Backoff calculates exponential backoff delays with jitter.
type Backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a backoff whose jitter is drawn from rng. A nil rng
// disables jitter.
func NewBackoff(cfg BackoffConfig, rng *rand.Rand) *Backoff {
	return &Backoff{config: cfg, rng: rng}
}

// Next returns the next delay and counts the attempt.
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the current delay without counting an attempt.
func (b *Backoff) Calculate() time.Duration {
	delay := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(b.attempts))
	if delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}

	if b.config.JitterPct > 0 && b.rng != nil {
		jitterRange := delay * b.config.JitterPct
		delay += jitterRange*b.rng.Float64() - jitterRange/2
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Attempts returns the number of delays handed out.
func (b *Backoff) Attempts() int {
	return b.attempts
}
