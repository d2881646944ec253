package status

import "github.com/ivankudzin/modqueue/internal/domain/enums"

// Commentary is the short status line shown next to a queue position.
func Commentary(status enums.ItemStatus, position int) string {
	switch status {
	case enums.ItemStatusProcessing:
		return "Your submission is under evaluation."
	case enums.ItemStatusCompleted:
		return "Evaluation complete. The verdict has been recorded."
	}

	switch {
	case position <= 1:
		return "You are next. Stand by for judgment."
	case position <= 10:
		return "Your submission will be reviewed shortly."
	case position <= 50:
		return "Your submission is in line. Patience is expected."
	default:
		return "The queue is long. Your submission has not been forgotten."
	}
}
