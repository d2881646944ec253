package enums

import "strings"

// FallbackPolicy decides how an item is finalized when the oracle cannot
// produce a verdict within the retry budget.
type FallbackPolicy string

const (
	FallbackApprove FallbackPolicy = "approve"
	FallbackReject  FallbackPolicy = "reject"
	FallbackHold    FallbackPolicy = "hold"
)

func ParseFallbackPolicy(raw string) (FallbackPolicy, bool) {
	switch FallbackPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case FallbackApprove:
		return FallbackApprove, true
	case FallbackReject:
		return FallbackReject, true
	case FallbackHold:
		return FallbackHold, true
	default:
		return "", false
	}
}
