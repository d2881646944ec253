package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
)

type QueueEvent struct {
	Type                 enums.EventType  `json:"type"`
	QueueType            enums.QueueType  `json:"queue_type"`
	ItemID               uuid.UUID        `json:"item_id"`
	ContentID            uuid.UUID        `json:"content_id"`
	OwnerID              uuid.UUID        `json:"owner_id"`
	Status               enums.ItemStatus `json:"status"`
	Position             int              `json:"position"`
	TotalItems           int              `json:"total_items"`
	EstimatedWaitSeconds int64            `json:"estimated_wait_seconds"`
	Feedback             *string          `json:"feedback,omitempty"`
	Confidence           *float64         `json:"confidence,omitempty"`
	Fallback             bool             `json:"fallback,omitempty"`
	OccurredAt           time.Time        `json:"occurred_at"`
}

// Judgement travels with approval and rejection events. Fallback is set when
// the outcome came from the queue's fallback policy instead of a verdict.
type Judgement struct {
	Confidence float64
	Fallback   bool
}
