package backoff

import (
	"math"
	"math/rand"
	"time"

	"github.com/acme/sms-campaign-dispatch/internal/config"
)

// NextAttempt returns when the given attempt (1-based) should be retried,
// using exponential backoff capped at the configured maximum, with optional
// jitter spread around the computed delay.
func NextAttempt(cfg config.RetryConfig, attempt int, rng *rand.Rand) time.Time {
	base := cfg.BaseDelay
	if base <= 0 {
		base = 2 * time.Second
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}

	exponent := math.Pow(2, float64(attempt-1))
	delay := time.Duration(exponent) * base
	if delay > maxDelay {
		delay = maxDelay
	}

	if cfg.Jitter > 0 && rng != nil {
		jitterFraction := rng.Float64()*cfg.Jitter - (cfg.Jitter / 2)
		delay += time.Duration(float64(delay) * jitterFraction)
		if delay < base {
			delay = base
		}
	}

	return time.Now().UTC().Add(delay)
}
