package enums

type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
)

func (s ItemStatus) Active() bool {
	return s == ItemStatusPending || s == ItemStatusProcessing
}

func ParseItemStatus(raw string) (ItemStatus, bool) {
	status := ItemStatus(raw)
	switch status {
	case ItemStatusPending, ItemStatusProcessing, ItemStatusCompleted:
		return status, true
	default:
		return "", false
	}
}
