package rerank

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
	"github.com/ivankudzin/modqueue/internal/domain/rules"
)

const defaultLimit = 5000

type Store interface {
	List(ctx context.Context, filter model.ListFilter) ([]model.QueueItem, error)
	UpdatePriority(ctx context.Context, id uuid.UUID, score int) (bool, error)
}

type IndexRebuilder interface {
	Rebuild(ctx context.Context, qt enums.QueueType, pending []model.QueueItem) error
	Reconcile(ctx context.Context, qt enums.QueueType, pending []model.QueueItem) (int, error)
}

// Job ages pending items so long waits climb the queue, then rebuilds the
// ordering index from the store. Overridden scores are left alone.
type Job struct {
	store   Store
	index   IndexRebuilder
	weights rules.PriorityWeights
	limit   int
	now     func() time.Time
	logger  *zap.Logger
}

func New(store Store, index IndexRebuilder, weights rules.PriorityWeights, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		store:   store,
		index:   index,
		weights: weights,
		limit:   defaultLimit,
		now:     time.Now,
		logger:  logger,
	}
}

func (j *Job) Name() string { return "rerank" }

func (j *Job) Run(ctx context.Context) error {
	if j.store == nil {
		return nil
	}
	for _, qt := range enums.AllQueueTypes {
		if err := j.rerankQueue(ctx, qt); err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) rerankQueue(ctx context.Context, qt enums.QueueType) error {
	pending := enums.ItemStatusPending
	filter := model.ListFilter{QueueType: qt, Status: &pending, Limit: j.limit}

	items, err := j.store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("list %s pending items: %w", qt, err)
	}

	now := j.now().UTC()
	changed := 0
	for _, item := range items {
		score := rules.AgedScore(item.BaseScore, item.PriorityOverride, now.Sub(item.EnteredQueueAt), j.weights)
		if score == item.PriorityScore {
			continue
		}
		updated, err := j.store.UpdatePriority(ctx, item.ID, score)
		if err != nil {
			return fmt.Errorf("update %s priority: %w", item.ID, err)
		}
		if updated {
			changed++
		}
	}

	if j.index != nil {
		if err := j.RepairIndex(ctx, qt); err != nil {
			j.logger.Warn("rebuild queue index failed", zap.String("queue_type", string(qt)), zap.Error(err))
		}
	}

	if changed > 0 {
		j.logger.Info("queue re-ranked",
			zap.String("queue_type", string(qt)),
			zap.Int("pending", len(items)),
			zap.Int("changed", changed),
		)
	}
	return nil
}

// RepairIndex rebuilds the ordering index for qt from the store. A second
// pass drops items claimed and re-adds items enqueued while the first
// snapshot was being written.
func (j *Job) RepairIndex(ctx context.Context, qt enums.QueueType) error {
	if j.index == nil {
		return nil
	}
	pending := enums.ItemStatusPending
	filter := model.ListFilter{QueueType: qt, Status: &pending, Limit: j.limit}

	items, err := j.store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("list %s pending items: %w", qt, err)
	}
	if err := j.index.Rebuild(ctx, qt, items); err != nil {
		return err
	}

	items, err = j.store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("reload %s pending items: %w", qt, err)
	}
	removed, err := j.index.Reconcile(ctx, qt, items)
	if err != nil {
		return err
	}
	if removed > 0 {
		j.logger.Debug("dropped items claimed during index rebuild",
			zap.String("queue_type", string(qt)),
			zap.Int("removed", removed),
		)
	}
	return nil
}
