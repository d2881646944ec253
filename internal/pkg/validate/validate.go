package validate

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

func Required(value string) bool {
	return strings.TrimSpace(value) != ""
}

// UUID parses a non-nil uuid.
func UUID(value string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// IntOrDefault returns fallback for an empty value and false for a malformed one.
func IntOrDefault(value string, fallback int) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return n, true
}
