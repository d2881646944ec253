package moderation

import (
	"hash/fnv"
	"strings"
)

const (
	FallbackApproveFeedback = "approved pending manual review"
	FallbackAppealFeedback  = "Appeal requires manual review due to system error"
	FallbackRejectFeedback  = "Content requires manual review due to system error"

	FallbackConfidence = 0.1
)

var approvalFeedback = []string{
	"Your contribution has been approved. The discourse continues.",
	"Approved. Your reasoning meets the standard.",
	"Accepted. Keep your arguments this clear.",
	"Approved. The record has been updated.",
	"Your submission passed evaluation.",
}

var rejectionFeedback = []string{
	"Rejected. Revise your submission and try again.",
	"Your submission does not meet the community standard.",
	"Rejected. Focus on the argument, not the person.",
	"Not approved. Add substance and resubmit.",
	"Rejected. Review the guidelines before resubmitting.",
}

// SelectFeedback picks a fixed message for the content. Identical text always
// yields the same message.
func SelectFeedback(approved bool, text string) string {
	set := rejectionFeedback
	if approved {
		set = approvalFeedback
	}
	return set[stableIndex(text, len(set))]
}

func stableIndex(text string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.TrimSpace(text)))
	return int(h.Sum32() % uint32(n))
}
