package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

// DefaultCompletionDuration is used until a queue has completion history.
const DefaultCompletionDuration = 30 * time.Second

type RankStore interface {
	Rank(ctx context.Context, item model.QueueItem) (int, int, error)
	Counts(ctx context.Context, queueType enums.QueueType) (model.QueueCounts, error)
}

type RankIndex interface {
	Rank(ctx context.Context, item model.QueueItem) (int, int, bool, error)
}

// IndexRepairer rebuilds the ordering index for one queue type from the store.
type IndexRepairer interface {
	RepairIndex(ctx context.Context, qt enums.QueueType) error
}

type DurationStats interface {
	Record(ctx context.Context, queueType enums.QueueType, d time.Duration) error
	Average(ctx context.Context, queueType enums.QueueType) (time.Duration, bool, error)
}

// Estimator derives position and expected wait for queue items.
type Estimator struct {
	store     RankStore
	index     RankIndex
	durations DurationStats
	logger    *zap.Logger
	now       func() time.Time

	repairer  IndexRepairer
	repairMu  sync.Mutex
	repairing map[enums.QueueType]bool
	repairWG  sync.WaitGroup
}

func NewEstimator(store RankStore, index RankIndex, durations DurationStats, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		store:     store,
		index:     index,
		durations: durations,
		logger:    logger,
		now:       time.Now,
		repairing: make(map[enums.QueueType]bool),
	}
}

// SetIndexRepair registers what to run when the index disagrees with the store.
func (e *Estimator) SetIndexRepair(r IndexRepairer) {
	e.repairer = r
}

func (e *Estimator) Status(ctx context.Context, item model.QueueItem) (model.QueueStatus, error) {
	if e.store == nil {
		return model.QueueStatus{}, fmt.Errorf("status estimator store is not configured")
	}

	out := model.QueueStatus{
		ItemID:    item.ID,
		ContentID: item.ContentID,
		QueueType: item.QueueType,
		Status:    item.Status,
	}

	switch item.Status {
	case enums.ItemStatusPending:
		position, total, err := e.rank(ctx, item)
		if err != nil {
			return model.QueueStatus{}, err
		}
		out.Position = position
		out.TotalItems = total
		out.EstimatedWait = time.Duration(position) * e.AverageDuration(ctx, item.QueueType)
	default:
		counts, err := e.store.Counts(ctx, item.QueueType)
		if err != nil {
			return model.QueueStatus{}, err
		}
		out.TotalItems = counts.Pending
		if item.Status == enums.ItemStatusProcessing && item.EstimatedCompletionAt != nil {
			if left := item.EstimatedCompletionAt.Sub(e.now()); left > 0 {
				out.EstimatedWait = left
			}
		}
	}

	out.Commentary = Commentary(out.Status, out.Position)
	return out, nil
}

// AverageDuration never fails: a broken stats backend degrades to the default.
func (e *Estimator) AverageDuration(ctx context.Context, qt enums.QueueType) time.Duration {
	if e.durations == nil {
		return DefaultCompletionDuration
	}
	avg, ok, err := e.durations.Average(ctx, qt)
	if err != nil {
		e.logger.Warn("read completion durations failed", zap.String("queue_type", string(qt)), zap.Error(err))
		return DefaultCompletionDuration
	}
	if !ok || avg <= 0 {
		return DefaultCompletionDuration
	}
	return avg
}

func (e *Estimator) RecordCompletion(ctx context.Context, qt enums.QueueType, d time.Duration) {
	if e.durations == nil {
		return
	}
	if err := e.durations.Record(ctx, qt, d); err != nil {
		e.logger.Warn("record completion duration failed", zap.String("queue_type", string(qt)), zap.Error(err))
	}
}

// rank uses the index only while its size matches the store's pending
// count. A mismatch means a best-effort index write was lost, so the store
// answers and the index is rebuilt in the background.
func (e *Estimator) rank(ctx context.Context, item model.QueueItem) (int, int, error) {
	if e.index != nil {
		position, total, ok, err := e.index.Rank(ctx, item)
		switch {
		case err != nil:
			e.logger.Debug("queue index rank failed, falling back to store", zap.Error(err))
		case !ok:
			e.repairIndex(item.QueueType)
		default:
			counts, err := e.store.Counts(ctx, item.QueueType)
			if err != nil {
				return 0, 0, err
			}
			if counts.Pending == total {
				return position, total, nil
			}
			e.logger.Warn("queue index out of sync with store",
				zap.String("queue_type", string(item.QueueType)),
				zap.Int("index_total", total),
				zap.Int("store_pending", counts.Pending),
			)
			e.repairIndex(item.QueueType)
		}
	}
	return e.store.Rank(ctx, item)
}

func (e *Estimator) repairIndex(qt enums.QueueType) {
	if e.repairer == nil {
		return
	}
	e.repairMu.Lock()
	if e.repairing[qt] {
		e.repairMu.Unlock()
		return
	}
	e.repairing[qt] = true
	e.repairMu.Unlock()

	e.repairWG.Add(1)
	go func() {
		defer e.repairWG.Done()
		defer func() {
			e.repairMu.Lock()
			delete(e.repairing, qt)
			e.repairMu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.repairer.RepairIndex(ctx, qt); err != nil {
			e.logger.Warn("repair queue index failed", zap.String("queue_type", string(qt)), zap.Error(err))
		}
	}()
}
