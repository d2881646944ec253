package enums

type EventType string

const (
	EventQueuePositionUpdate EventType = "queue_position_update"
	EventQueueStatusChange   EventType = "queue_status_change"
	EventContentApproved     EventType = "content_approved"
	EventContentRejected     EventType = "content_rejected"
	EventContentFlagged      EventType = "content_flagged"
)
