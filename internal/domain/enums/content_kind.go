package enums

type ContentKind string

const (
	ContentKindTopic          ContentKind = "topic"
	ContentKindPost           ContentKind = "post"
	ContentKindPrivateMessage ContentKind = "private_message"
	ContentKindAppeal         ContentKind = "appeal"
)

func ParseContentKind(raw string) (ContentKind, bool) {
	kind := ContentKind(raw)
	switch kind {
	case ContentKindTopic, ContentKindPost, ContentKindPrivateMessage, ContentKindAppeal:
		return kind, true
	default:
		return "", false
	}
}
