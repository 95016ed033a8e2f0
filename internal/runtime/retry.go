package runtime

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy re-enqueues a message whose handler failed, delayed by an
// exponential backoff on its retry count. The zero value never retries.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// RetryIf limits retries to matching errors. Nil retries every error.
	RetryIf func(error) bool
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 16 * time.Second
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = backoff.DefaultMultiplier
	}
	return p
}

// Enabled reports whether any retry can happen.
func (p RetryPolicy) Enabled() bool {
	return p.MaxRetries > 0
}

// ShouldRetry reports whether a message that already failed retries times
// gets another attempt after err.
func (p RetryPolicy) ShouldRetry(retries int, err error) bool {
	if err == nil || retries >= p.MaxRetries {
		return false
	}
	return p.RetryIf == nil || p.RetryIf(err)
}

// Delay is the wait before attempt retries+1.
func (p RetryPolicy) Delay(retries int) time.Duration {
	p = p.withDefaults()
	bo := &backoff.ExponentialBackOff{
		InitialInterval: p.InitialInterval,
		Multiplier:      p.Multiplier,
		MaxInterval:     p.MaxInterval,
	}
	bo.Reset()
	delay := bo.NextBackOff()
	for i := 0; i < retries && delay < p.MaxInterval; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}
