package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

// QueueRepo is a single-process queue store. A mutex stands in for the row
// locks the postgres store relies on, so claims are atomic the same way.
type QueueRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]model.QueueItem
	now   func() time.Time
}

func NewQueueRepo() *QueueRepo {
	return &QueueRepo{
		items: make(map[uuid.UUID]model.QueueItem),
		now:   time.Now,
	}
}

func (r *QueueRepo) Insert(_ context.Context, in model.NewQueueItem) (model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.items {
		if existing.ContentID == in.ContentID && existing.QueueType == in.QueueType && existing.Status.Active() {
			return model.QueueItem{}, model.ErrDuplicateEnqueue
		}
	}

	score := in.PriorityScore
	if score < 0 {
		score = 0
	}
	item := model.QueueItem{
		ID:               uuid.New(),
		ContentID:        in.ContentID,
		OwnerID:          in.OwnerID,
		QueueType:        in.QueueType,
		PriorityScore:    score,
		BaseScore:        score,
		PriorityOverride: in.PriorityOverride,
		Status:           enums.ItemStatusPending,
		EnteredQueueAt:   in.EnteredQueueAt,
		UpdatedAt:        in.EnteredQueueAt,
	}
	item.PositionInQueue, _ = r.rankLocked(item)
	r.items[item.ID] = item
	return item, nil
}

func (r *QueueRepo) Get(_ context.Context, id uuid.UUID) (model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return model.QueueItem{}, model.ErrItemNotFound
	}
	return item, nil
}

func (r *QueueRepo) LatestByContent(_ context.Context, contentID uuid.UUID) (model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		best  model.QueueItem
		found bool
	)
	for _, item := range r.items {
		if item.ContentID != contentID {
			continue
		}
		if !found || laterOrMoreActive(item, best) {
			best = item
			found = true
		}
	}
	if !found {
		return model.QueueItem{}, model.ErrItemNotFound
	}
	return best, nil
}

func (r *QueueRepo) PeekNext(_ context.Context, queueType enums.QueueType) (model.QueueItem, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.sortedLocked(queueType, statusPtr(enums.ItemStatusPending))
	if len(pending) == 0 {
		return model.QueueItem{}, false, nil
	}
	return pending[0], true, nil
}

func (r *QueueRepo) List(_ context.Context, filter model.ListFilter) ([]model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := r.sortedLocked(filter.QueueType, filter.Status)
	if filter.Offset >= len(items) {
		return []model.QueueItem{}, nil
	}
	items = items[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(items) {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (r *QueueRepo) Remove(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, id)
	return nil
}

func (r *QueueRepo) Rank(_ context.Context, item model.QueueItem) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	position, total := r.rankLocked(item)
	return position, total, nil
}

func (r *QueueRepo) Counts(_ context.Context, queueType enums.QueueType) (model.QueueCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var counts model.QueueCounts
	for _, item := range r.items {
		if item.QueueType != queueType {
			continue
		}
		switch item.Status {
		case enums.ItemStatusPending:
			counts.Pending++
		case enums.ItemStatusProcessing:
			counts.Processing++
			if item.StuckAt != nil {
				counts.Stuck++
			}
		}
	}
	return counts, nil
}

func (r *QueueRepo) Claim(_ context.Context, req model.ClaimRequest) ([]model.QueueItem, error) {
	if req.Limit <= 0 {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	busy := make(map[uuid.UUID]bool)
	for _, item := range r.items {
		if item.Status == enums.ItemStatusProcessing {
			busy[item.ContentID] = true
		}
	}

	claimed := make([]model.QueueItem, 0, req.Limit)
	for _, item := range r.sortedLocked(req.QueueType, statusPtr(enums.ItemStatusPending)) {
		if len(claimed) == req.Limit {
			break
		}
		if busy[item.ContentID] {
			continue
		}

		assignedAt := req.ClaimedAt
		eta := assignedAt.Add(req.JobTimeout)
		workerID := req.WorkerID + ":" + uuid.NewString()
		item.Status = enums.ItemStatusProcessing
		item.WorkerID = &workerID
		item.WorkerAssignedAt = &assignedAt
		item.EstimatedCompletionAt = &eta
		item.UpdatedAt = assignedAt
		r.items[item.ID] = item
		busy[item.ContentID] = true
		claimed = append(claimed, item)
	}
	return claimed, nil
}

func (r *QueueRepo) Complete(_ context.Context, id uuid.UUID, workerID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.heldLocked(id, workerID)
	if !ok {
		return model.ErrClaimLost
	}
	item.Status = enums.ItemStatusCompleted
	item.CompletedAt = &at
	item.StuckAt = nil
	item.UpdatedAt = at
	r.items[id] = item
	return nil
}

func (r *QueueRepo) Release(_ context.Context, id uuid.UUID, workerID, reason string, at time.Time) (model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.heldLocked(id, workerID)
	if !ok {
		return model.QueueItem{}, model.ErrClaimLost
	}
	item.Status = enums.ItemStatusPending
	item.RetryCount++
	item.LastError = reason
	item.EstimatedCompletionAt = nil
	item.UpdatedAt = at
	r.items[id] = item
	return item, nil
}

func (r *QueueRepo) MarkStuck(_ context.Context, id uuid.UUID, workerID, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.heldLocked(id, workerID)
	if !ok {
		return model.ErrClaimLost
	}
	item.StuckAt = &at
	item.LastError = reason
	item.UpdatedAt = at
	r.items[id] = item
	return nil
}

func (r *QueueRepo) Requeue(_ context.Context, id uuid.UUID, at time.Time) (model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok || item.Status != enums.ItemStatusProcessing {
		return model.QueueItem{}, model.ErrItemNotFound
	}
	item.Status = enums.ItemStatusPending
	item.RetryCount = 0
	item.StuckAt = nil
	item.LastError = ""
	item.EstimatedCompletionAt = nil
	item.UpdatedAt = at
	r.items[id] = item
	return item, nil
}

func (r *QueueRepo) ListStale(_ context.Context, assignedBefore time.Time, limit int) ([]model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stale := make([]model.QueueItem, 0)
	for _, item := range r.items {
		if item.Status != enums.ItemStatusProcessing || item.StuckAt != nil || item.WorkerAssignedAt == nil {
			continue
		}
		if item.WorkerAssignedAt.Before(assignedBefore) {
			stale = append(stale, item)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].WorkerAssignedAt.Before(*stale[j].WorkerAssignedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (r *QueueRepo) ListCompletedBefore(_ context.Context, before time.Time, limit int) ([]model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	done := make([]model.QueueItem, 0)
	for _, item := range r.items {
		if item.Status == enums.ItemStatusCompleted && item.CompletedAt != nil && item.CompletedAt.Before(before) {
			done = append(done, item)
		}
	}
	sort.Slice(done, func(i, j int) bool {
		return done[i].CompletedAt.Before(*done[j].CompletedAt)
	})
	if limit > 0 && len(done) > limit {
		done = done[:limit]
	}
	return done, nil
}

func (r *QueueRepo) UpdatePriority(_ context.Context, id uuid.UUID, score int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok || item.Status != enums.ItemStatusPending || item.PriorityScore == score {
		return false, nil
	}
	item.PriorityScore = score
	item.UpdatedAt = r.now().UTC()
	r.items[id] = item
	return true, nil
}

func (r *QueueRepo) heldLocked(id uuid.UUID, workerID string) (model.QueueItem, bool) {
	item, ok := r.items[id]
	if !ok || item.Status != enums.ItemStatusProcessing || item.WorkerID == nil || *item.WorkerID != workerID {
		return model.QueueItem{}, false
	}
	return item, true
}

func (r *QueueRepo) rankLocked(target model.QueueItem) (int, int) {
	ahead, total := 0, 0
	for _, item := range r.items {
		if item.QueueType != target.QueueType || item.Status != enums.ItemStatusPending {
			continue
		}
		total++
		if item.ID != target.ID && item.Before(target) {
			ahead++
		}
	}
	return ahead + 1, total
}

func (r *QueueRepo) sortedLocked(queueType enums.QueueType, status *enums.ItemStatus) []model.QueueItem {
	out := make([]model.QueueItem, 0)
	for _, item := range r.items {
		if item.QueueType != queueType {
			continue
		}
		if status != nil && item.Status != *status {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Before(out[j])
	})
	return out
}

func laterOrMoreActive(a, b model.QueueItem) bool {
	if a.Status.Active() != b.Status.Active() {
		return a.Status.Active()
	}
	return a.EnteredQueueAt.After(b.EnteredQueueAt)
}

func statusPtr(s enums.ItemStatus) *enums.ItemStatus {
	return &s
}
