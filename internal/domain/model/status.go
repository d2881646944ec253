package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
)

type QueueStatus struct {
	ItemID        uuid.UUID        `json:"item_id"`
	ContentID     uuid.UUID        `json:"content_id"`
	QueueType     enums.QueueType  `json:"queue_type"`
	Position      int              `json:"position"`
	TotalItems    int              `json:"total_items"`
	EstimatedWait time.Duration    `json:"estimated_wait"`
	Status        enums.ItemStatus `json:"status"`
	Commentary    string           `json:"commentary"`
}

type QueueLength struct {
	QueueType  enums.QueueType `json:"queue_type"`
	Pending    int             `json:"pending"`
	Processing int             `json:"processing"`
	Stuck      int             `json:"stuck"`
}

type QueueOverview struct {
	Queues                []QueueLength `json:"queues"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	LastUpdated           time.Time     `json:"last_updated"`
}
