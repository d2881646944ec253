package dto

import "time"

type EnqueueRequest struct {
	ContentID        string `json:"content_id"`
	PriorityOverride *int   `json:"priority_override,omitempty"`
}

type QueueItemResponse struct {
	ID                    string     `json:"id"`
	ContentID             string     `json:"content_id"`
	OwnerID               string     `json:"owner_id"`
	QueueType             string     `json:"queue_type"`
	PriorityScore         int        `json:"priority_score"`
	PriorityOverride      bool       `json:"priority_override"`
	PositionInQueue       int        `json:"position_in_queue"`
	Status                string     `json:"status"`
	RetryCount            int        `json:"retry_count"`
	EnteredQueueAt        time.Time  `json:"entered_queue_at"`
	WorkerAssignedAt      *time.Time `json:"worker_assigned_at"`
	WorkerID              *string    `json:"worker_id"`
	EstimatedCompletionAt *time.Time `json:"estimated_completion_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	StuckAt               *time.Time `json:"stuck_at,omitempty"`
	LastError             string     `json:"last_error,omitempty"`
}

type QueueItemsResponse struct {
	Items  []QueueItemResponse `json:"items"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

type PeekResponse struct {
	Item *QueueItemResponse `json:"item"`
}

type QueueStatusResponse struct {
	ItemID               string `json:"item_id"`
	ContentID            string `json:"content_id"`
	QueueType            string `json:"queue_type"`
	Position             int    `json:"position"`
	TotalItems           int    `json:"total_items"`
	EstimatedWaitSeconds int64  `json:"estimated_wait_seconds"`
	Status               string `json:"status"`
	Commentary           string `json:"commentary"`
}

type QueueLengthResponse struct {
	QueueType  string `json:"queue_type"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Stuck      int    `json:"stuck"`
}

type QueueOverviewResponse struct {
	Queues                   []QueueLengthResponse `json:"queues"`
	AverageProcessingSeconds float64               `json:"average_processing_seconds"`
	LastUpdated              time.Time             `json:"last_updated"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
