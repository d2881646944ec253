package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/domain/model"
)

type Store interface {
	ListCompletedBefore(ctx context.Context, before time.Time, limit int) ([]model.QueueItem, error)
	Remove(ctx context.Context, id uuid.UUID) error
}

type ObjectWriter interface {
	PutJSON(ctx context.Context, key string, body []byte) error
}

type record struct {
	ID             uuid.UUID  `json:"id"`
	ContentID      uuid.UUID  `json:"content_id"`
	OwnerID        uuid.UUID  `json:"owner_id"`
	QueueType      string     `json:"queue_type"`
	PriorityScore  int        `json:"priority_score"`
	RetryCount     int        `json:"retry_count"`
	EnteredQueueAt time.Time  `json:"entered_queue_at"`
	AssignedAt     *time.Time `json:"worker_assigned_at,omitempty"`
	WorkerID       *string    `json:"worker_id,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// Job exports completed items past the retention window as one NDJSON
// object per batch and deletes them once the upload succeeded.
type Job struct {
	store     Store
	objects   ObjectWriter
	retention time.Duration
	batch     int
	now       func() time.Time
	logger    *zap.Logger
}

func New(store Store, objects ObjectWriter, retention time.Duration, batch int, logger *zap.Logger) *Job {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if batch <= 0 {
		batch = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		store:     store,
		objects:   objects,
		retention: retention,
		batch:     batch,
		now:       time.Now,
		logger:    logger,
	}
}

func (j *Job) Name() string { return "archive" }

func (j *Job) Run(ctx context.Context) error {
	if j.store == nil || j.objects == nil {
		return nil
	}

	now := j.now().UTC()
	cutoff := now.Add(-j.retention)
	archived := 0
	for part := 0; ; part++ {
		items, err := j.store.ListCompletedBefore(ctx, cutoff, j.batch)
		if err != nil {
			return fmt.Errorf("list completed queue items: %w", err)
		}
		if len(items) == 0 {
			break
		}

		body, err := encode(items)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("queue-archive/%s/%s-%03d.ndjson", now.Format("2006/01/02"), now.Format("150405"), part)
		if err := j.objects.PutJSON(ctx, key, body); err != nil {
			return fmt.Errorf("upload archive batch: %w", err)
		}

		for _, item := range items {
			if err := j.store.Remove(ctx, item.ID); err != nil {
				return fmt.Errorf("remove archived item %s: %w", item.ID, err)
			}
		}
		archived += len(items)

		if len(items) < j.batch {
			break
		}
	}

	if archived > 0 {
		j.logger.Info("completed queue items archived", zap.Int("archived", archived), zap.Time("cutoff", cutoff))
	}
	return nil
}

func encode(items []model.QueueItem) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(record{
			ID:             item.ID,
			ContentID:      item.ContentID,
			OwnerID:        item.OwnerID,
			QueueType:      string(item.QueueType),
			PriorityScore:  item.PriorityScore,
			RetryCount:     item.RetryCount,
			EnteredQueueAt: item.EnteredQueueAt,
			AssignedAt:     item.WorkerAssignedAt,
			WorkerID:       item.WorkerID,
			CompletedAt:    item.CompletedAt,
			LastError:      item.LastError,
		}); err != nil {
			return nil, fmt.Errorf("encode archive record: %w", err)
		}
	}
	return buf.Bytes(), nil
}
