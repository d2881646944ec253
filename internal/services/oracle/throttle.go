package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

type Limiter interface {
	Allow(ctx context.Context, scope string) (time.Duration, bool, error)
}

// Throttled spends one call from a shared budget before every evaluation and
// waits out an exhausted window for as long as the caller's deadline allows.
type Throttled struct {
	inner   Oracle
	limiter Limiter
	scope   string
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewThrottled(inner Oracle, limiter Limiter, scope string) *Throttled {
	if scope == "" {
		scope = "oracle"
	}
	return &Throttled{inner: inner, limiter: limiter, scope: scope, sleep: sleepContext}
}

func (t *Throttled) Evaluate(ctx context.Context, text string, kind enums.ContentKind, ec model.EvaluationContext) (model.Verdict, error) {
	for {
		wait, allowed, err := t.limiter.Allow(ctx, t.scope)
		if err != nil {
			return model.Verdict{}, fmt.Errorf("%w: rate budget: %v", model.ErrOracleUnavailable, err)
		}
		if allowed {
			return t.inner.Evaluate(ctx, text, kind, ec)
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			return model.Verdict{}, fmt.Errorf("%w: rate budget exhausted for %s", model.ErrOracleTimeout, wait)
		}
		if err := t.sleep(ctx, wait); err != nil {
			return model.Verdict{}, model.ErrOracleTimeout
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
