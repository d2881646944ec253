package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
	"github.com/ivankudzin/modqueue/internal/domain/rules"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

var ErrInvalidQueueType = errors.New("unknown queue type")

type Store interface {
	Insert(ctx context.Context, in model.NewQueueItem) (model.QueueItem, error)
	Get(ctx context.Context, id uuid.UUID) (model.QueueItem, error)
	LatestByContent(ctx context.Context, contentID uuid.UUID) (model.QueueItem, error)
	PeekNext(ctx context.Context, queueType enums.QueueType) (model.QueueItem, bool, error)
	List(ctx context.Context, filter model.ListFilter) ([]model.QueueItem, error)
	Remove(ctx context.Context, id uuid.UUID) error
	Requeue(ctx context.Context, id uuid.UUID, at time.Time) (model.QueueItem, error)
	Counts(ctx context.Context, queueType enums.QueueType) (model.QueueCounts, error)
}

type ContentReader interface {
	Get(ctx context.Context, id uuid.UUID) (model.Content, error)
}

// Index is the optional fast-path ordering mirror.
type Index interface {
	Add(ctx context.Context, item model.QueueItem) error
	Remove(ctx context.Context, item model.QueueItem) error
}

type StatusEstimator interface {
	Status(ctx context.Context, item model.QueueItem) (model.QueueStatus, error)
	AverageDuration(ctx context.Context, qt enums.QueueType) time.Duration
}

type Notifier interface {
	Notify(kind enums.EventType, item model.QueueItem, feedback *string)
}

type Service struct {
	store     Store
	contents  ContentReader
	index     Index
	estimator StatusEstimator
	notifier  Notifier
	weights   rules.PriorityWeights
	logger    *zap.Logger
	now       func() time.Time
}

type Dependencies struct {
	Store     Store
	Contents  ContentReader
	Index     Index
	Estimator StatusEstimator
	Notifier  Notifier
	Weights   rules.PriorityWeights
	Logger    *zap.Logger
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     deps.Store,
		contents:  deps.Contents,
		index:     deps.Index,
		estimator: deps.Estimator,
		notifier:  deps.Notifier,
		weights:   deps.Weights,
		logger:    logger,
		now:       time.Now,
	}
}

// Enqueue scores the content and inserts a pending item. An override replaces
// the computed score.
func (s *Service) Enqueue(ctx context.Context, contentID uuid.UUID, queueType enums.QueueType, override *int) (model.QueueItem, error) {
	if s.store == nil || s.contents == nil {
		return model.QueueItem{}, fmt.Errorf("queue service dependencies are not configured")
	}
	if !queueType.Valid() {
		return model.QueueItem{}, ErrInvalidQueueType
	}
	if contentID == uuid.Nil {
		return model.QueueItem{}, fmt.Errorf("content id is required")
	}

	content, err := s.contents.Get(ctx, contentID)
	if err != nil {
		return model.QueueItem{}, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	score := rules.PriorityScore(rules.PriorityInput{
		ContentAge:     now.Sub(content.CreatedAt),
		AuthorStanding: content.AuthorStanding,
		Override:       override,
	}, s.weights)

	item, err := s.store.Insert(ctx, model.NewQueueItem{
		ContentID:        contentID,
		OwnerID:          content.OwnerID,
		QueueType:        queueType,
		PriorityScore:    score,
		PriorityOverride: override != nil,
		EnteredQueueAt:   now,
	})
	if err != nil {
		return model.QueueItem{}, err
	}

	if s.index != nil {
		if err := s.index.Add(ctx, item); err != nil {
			s.logger.Warn("queue index add failed", zap.String("item_id", item.ID.String()), zap.Error(err))
		}
	}
	s.logger.Info("queue item enqueued",
		zap.String("item_id", item.ID.String()),
		zap.String("content_id", contentID.String()),
		zap.String("queue_type", string(queueType)),
		zap.Int("priority_score", item.PriorityScore),
		zap.Int("position", item.PositionInQueue),
	)
	s.notify(enums.EventQueuePositionUpdate, item, nil)
	return item, nil
}

// PeekNext never claims; it exists for status estimation and dashboards.
func (s *Service) PeekNext(ctx context.Context, queueType enums.QueueType) (model.QueueItem, bool, error) {
	if s.store == nil {
		return model.QueueItem{}, false, fmt.Errorf("queue service dependencies are not configured")
	}
	if !queueType.Valid() {
		return model.QueueItem{}, false, ErrInvalidQueueType
	}
	return s.store.PeekNext(ctx, queueType)
}

func (s *Service) List(ctx context.Context, queueType enums.QueueType, status *enums.ItemStatus, limit, offset int) ([]model.QueueItem, error) {
	if s.store == nil {
		return nil, fmt.Errorf("queue service dependencies are not configured")
	}
	if !queueType.Valid() {
		return nil, ErrInvalidQueueType
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, model.ListFilter{
		QueueType: queueType,
		Status:    status,
		Limit:     limit,
		Offset:    offset,
	})
}

// Remove is idempotent: removing an unknown id succeeds.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	if s.store == nil {
		return fmt.Errorf("queue service dependencies are not configured")
	}

	item, err := s.store.Get(ctx, id)
	if errors.Is(err, model.ErrItemNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.store.Remove(ctx, id); err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.Remove(ctx, item); err != nil {
			s.logger.Warn("queue index remove failed", zap.String("item_id", id.String()), zap.Error(err))
		}
	}
	return nil
}

// Requeue puts a processing item back to pending with a fresh retry budget.
// Operators use it to release stuck items.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) (model.QueueItem, error) {
	if s.store == nil {
		return model.QueueItem{}, fmt.Errorf("queue service dependencies are not configured")
	}
	item, err := s.store.Requeue(ctx, id, s.now().UTC())
	if err != nil {
		return model.QueueItem{}, err
	}
	if s.index != nil {
		if err := s.index.Add(ctx, item); err != nil {
			s.logger.Warn("queue index add failed", zap.String("item_id", id.String()), zap.Error(err))
		}
	}
	s.logger.Info("queue item requeued by operator", zap.String("item_id", id.String()))
	s.notify(enums.EventQueueStatusChange, item, nil)
	return item, nil
}

func (s *Service) GetStatus(ctx context.Context, contentID uuid.UUID) (model.QueueStatus, error) {
	if s.store == nil || s.estimator == nil {
		return model.QueueStatus{}, fmt.Errorf("queue service dependencies are not configured")
	}

	item, err := s.store.LatestByContent(ctx, contentID)
	if err != nil {
		return model.QueueStatus{}, err
	}
	return s.estimator.Status(ctx, item)
}

func (s *Service) Overview(ctx context.Context) (model.QueueOverview, error) {
	if s.store == nil {
		return model.QueueOverview{}, fmt.Errorf("queue service dependencies are not configured")
	}

	out := model.QueueOverview{
		Queues:      make([]model.QueueLength, 0, len(enums.AllQueueTypes)),
		LastUpdated: s.now().UTC(),
	}
	var (
		totalAvg time.Duration
		samples  int
	)
	for _, qt := range enums.AllQueueTypes {
		counts, err := s.store.Counts(ctx, qt)
		if err != nil {
			return model.QueueOverview{}, err
		}
		out.Queues = append(out.Queues, model.QueueLength{
			QueueType:  qt,
			Pending:    counts.Pending,
			Processing: counts.Processing,
			Stuck:      counts.Stuck,
		})
		if s.estimator != nil {
			totalAvg += s.estimator.AverageDuration(ctx, qt)
			samples++
		}
	}
	if samples > 0 {
		out.AverageProcessingTime = totalAvg / time.Duration(samples)
	}
	return out, nil
}

func (s *Service) notify(kind enums.EventType, item model.QueueItem, feedback *string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(kind, item, feedback)
}
