package backoff

import (
	"math/rand"
	"testing"
	"time"

	"github.com/acme/sms-campaign-dispatch/internal/config"
)

func delayFor(cfg config.RetryConfig, attempt int, rng *rand.Rand) time.Duration {
	return time.Until(NextAttempt(cfg, attempt, rng))
}

func TestNextAttemptGrowsExponentially(t *testing.T) {
	cfg := config.RetryConfig{BaseDelay: time.Second, MaxDelay: time.Hour}

	previous := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		delay := delayFor(cfg, attempt, nil)
		if delay <= previous {
			t.Errorf("attempt %d: delay %v did not grow past %v", attempt, delay, previous)
		}
		previous = delay
	}

	// Attempt 4 with base 1s lands near 8s.
	delay := delayFor(cfg, 4, nil)
	if delay < 7*time.Second || delay > 9*time.Second {
		t.Errorf("attempt 4: expected ~8s, got %v", delay)
	}
}

func TestNextAttemptCapsAtMax(t *testing.T) {
	cfg := config.RetryConfig{BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	delay := delayFor(cfg, 20, nil)
	if delay > 11*time.Second {
		t.Errorf("expected delay capped near 10s, got %v", delay)
	}
}

func TestNextAttemptJitterFloorsAtBase(t *testing.T) {
	cfg := config.RetryConfig{BaseDelay: 2 * time.Second, MaxDelay: time.Minute, Jitter: 0.5}
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 100; i++ {
		delay := delayFor(cfg, 1, rng)
		if delay < cfg.BaseDelay-100*time.Millisecond {
			t.Fatalf("jittered delay %v fell below base %v", delay, cfg.BaseDelay)
		}
	}
}

func TestNextAttemptDefaults(t *testing.T) {
	delay := delayFor(config.RetryConfig{}, 0, nil)
	if delay < time.Second || delay > 3*time.Second {
		t.Errorf("expected default base near 2s for attempt 0, got %v", delay)
	}
}
