package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/domain/model"
	"github.com/ivankudzin/modqueue/internal/services/moderation"
)

const defaultBatch = 200

type StaleLister interface {
	ListStale(ctx context.Context, assignedBefore time.Time, limit int) ([]model.QueueItem, error)
}

type FailureResolver interface {
	ResolveFailure(ctx context.Context, item model.QueueItem, cause error) (moderation.Outcome, error)
}

// Job reverts processing items whose worker stopped reporting. Each stale
// claim is resolved once: back to pending within the retry budget,
// otherwise through the queue's fallback.
type Job struct {
	items      StaleLister
	resolver   FailureResolver
	staleAfter time.Duration
	batch      int
	now        func() time.Time
	logger     *zap.Logger
}

func New(items StaleLister, resolver FailureResolver, staleAfter time.Duration, logger *zap.Logger) *Job {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		items:      items,
		resolver:   resolver,
		staleAfter: staleAfter,
		batch:      defaultBatch,
		now:        time.Now,
		logger:     logger,
	}
}

func (j *Job) Name() string { return "reconcile" }

func (j *Job) Run(ctx context.Context) error {
	if j.items == nil || j.resolver == nil {
		return nil
	}

	cutoff := j.now().UTC().Add(-j.staleAfter)
	stale, err := j.items.ListStale(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale queue items: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	outcomes := make(map[moderation.Outcome]int)
	for _, item := range stale {
		cause := fmt.Errorf("claim held since %s exceeded %s", item.WorkerAssignedAt.UTC().Format(time.RFC3339), j.staleAfter)
		outcome, err := j.resolver.ResolveFailure(ctx, item, cause)
		if err != nil {
			j.logger.Warn("failed to resolve stale queue item",
				zap.String("item_id", item.ID.String()),
				zap.String("queue_type", string(item.QueueType)),
				zap.Error(err),
			)
			continue
		}
		outcomes[outcome]++
	}

	j.logger.Info("stale claim sweep completed",
		zap.Int("stale", len(stale)),
		zap.Int("requeued", outcomes[moderation.OutcomeRequeued]),
		zap.Int("approved", outcomes[moderation.OutcomeApproved]),
		zap.Int("rejected", outcomes[moderation.OutcomeRejected]),
		zap.Int("held", outcomes[moderation.OutcomeHeld]),
		zap.Int("lost", outcomes[moderation.OutcomeLost]),
	)
	return nil
}
