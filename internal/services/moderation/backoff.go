package moderation

import "time"

type BackoffConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay: 200 * time.Millisecond,
		MaxDelay:  2 * time.Second,
	}
}

// retryDelay is exponential backoff with full jitter. attempt is 1-based.
func retryDelay(attempt int, cfg BackoffConfig, jitter func(n int64) int64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBackoff().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultBackoff().MaxDelay
	}

	delay := cfg.BaseDelay
	for i := 1; i < attempt && delay < cfg.MaxDelay; i++ {
		delay *= 2
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return time.Duration(jitter(int64(delay) + 1))
}
