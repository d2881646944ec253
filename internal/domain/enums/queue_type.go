package enums

import "strings"

type QueueType string

const (
	QueueTypeTopicCreation    QueueType = "topic_creation"
	QueueTypePostTOSScreening QueueType = "post_tos_screening"
	QueueTypePostModeration   QueueType = "post_moderation"
	QueueTypePrivateMessage   QueueType = "private_message"
	QueueTypeAppealReview     QueueType = "appeal_review"
)

// AllQueueTypes is the fixed iteration order used by overviews and dispatch.
var AllQueueTypes = []QueueType{
	QueueTypeTopicCreation,
	QueueTypePostTOSScreening,
	QueueTypePostModeration,
	QueueTypePrivateMessage,
	QueueTypeAppealReview,
}

func ParseQueueType(raw string) (QueueType, bool) {
	candidate := QueueType(strings.ToLower(strings.TrimSpace(raw)))
	for _, qt := range AllQueueTypes {
		if qt == candidate {
			return qt, true
		}
	}
	return "", false
}

func (q QueueType) Valid() bool {
	_, ok := ParseQueueType(string(q))
	return ok
}

// ContentKind returns the kind of content items of this queue reference.
func (q QueueType) ContentKind() ContentKind {
	switch q {
	case QueueTypeTopicCreation:
		return ContentKindTopic
	case QueueTypePostTOSScreening, QueueTypePostModeration:
		return ContentKindPost
	case QueueTypePrivateMessage:
		return ContentKindPrivateMessage
	case QueueTypeAppealReview:
		return ContentKindAppeal
	default:
		return ""
	}
}
