package enums

type ContentStatus string

const (
	ContentStatusPending  ContentStatus = "pending"
	ContentStatusApproved ContentStatus = "approved"
	ContentStatusRejected ContentStatus = "rejected"
)
