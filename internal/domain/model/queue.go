package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
)

type QueueItem struct {
	ID                    uuid.UUID        `json:"id"`
	ContentID             uuid.UUID        `json:"content_id"`
	OwnerID               uuid.UUID        `json:"owner_id"`
	QueueType             enums.QueueType  `json:"queue_type"`
	PriorityScore         int              `json:"priority_score"`
	BaseScore             int              `json:"base_score"`
	PriorityOverride      bool             `json:"priority_override"`
	PositionInQueue       int              `json:"position_in_queue"`
	Status                enums.ItemStatus `json:"status"`
	RetryCount            int              `json:"retry_count"`
	EnteredQueueAt        time.Time        `json:"entered_queue_at"`
	WorkerAssignedAt      *time.Time       `json:"worker_assigned_at,omitempty"`
	WorkerID              *string          `json:"worker_id,omitempty"`
	EstimatedCompletionAt *time.Time       `json:"estimated_completion_at,omitempty"`
	CompletedAt           *time.Time       `json:"completed_at,omitempty"`
	StuckAt               *time.Time       `json:"stuck_at,omitempty"`
	LastError             string           `json:"last_error,omitempty"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// Before reports whether q is served ahead of other: higher score first,
// then earlier insertion, then id for a total order.
func (q QueueItem) Before(other QueueItem) bool {
	if q.PriorityScore != other.PriorityScore {
		return q.PriorityScore > other.PriorityScore
	}
	if !q.EnteredQueueAt.Equal(other.EnteredQueueAt) {
		return q.EnteredQueueAt.Before(other.EnteredQueueAt)
	}
	return q.ID.String() < other.ID.String()
}

type NewQueueItem struct {
	ContentID        uuid.UUID
	OwnerID          uuid.UUID
	QueueType        enums.QueueType
	PriorityScore    int
	PriorityOverride bool
	EnteredQueueAt   time.Time
}

type ListFilter struct {
	QueueType enums.QueueType
	Status    *enums.ItemStatus
	Limit     int
	Offset    int
}

type ClaimRequest struct {
	QueueType  enums.QueueType
	Limit      int
	WorkerID   string
	JobTimeout time.Duration
	ClaimedAt  time.Time
}

type QueueCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Stuck      int `json:"stuck"`
}
