package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

type ContentRepo struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]model.Content
	now  func() time.Time
}

func NewContentRepo() *ContentRepo {
	return &ContentRepo{
		byID: make(map[uuid.UUID]model.Content),
		now:  time.Now,
	}
}

func (r *ContentRepo) Create(_ context.Context, c model.Content) (model.Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = enums.ContentStatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now().UTC()
	}
	r.byID[c.ID] = c
	return c, nil
}

func (r *ContentRepo) Get(_ context.Context, id uuid.UUID) (model.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byID[id]
	if !ok {
		return model.Content{}, model.ErrContentNotFound
	}
	return c, nil
}

func (r *ContentRepo) ApplyModerationOutcome(_ context.Context, id uuid.UUID, approved bool, feedback *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	c.Status = enums.ContentStatusRejected
	if approved {
		c.Status = enums.ContentStatusApproved
	}
	if feedback != nil {
		text := *feedback
		c.Feedback = &text
	} else {
		c.Feedback = nil
	}
	at := r.now().UTC()
	c.ModeratedAt = &at
	r.byID[id] = c
	return true, nil
}

// Delete simulates content vanishing underneath a queued item.
func (r *ContentRepo) Delete(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byID, id)
}
