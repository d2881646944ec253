package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
)

type Content struct {
	ID                uuid.UUID           `json:"id"`
	Kind              enums.ContentKind   `json:"kind"`
	OwnerID           uuid.UUID           `json:"owner_id"`
	AuthorDisplayName string              `json:"author_display_name"`
	AuthorStanding    int                 `json:"author_standing"`
	Title             string              `json:"title,omitempty"`
	Body              string              `json:"body"`
	Language          string              `json:"language,omitempty"`
	Status            enums.ContentStatus `json:"status"`
	Feedback          *string             `json:"feedback,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	ModeratedAt       *time.Time          `json:"moderated_at,omitempty"`
}

// Text is what the oracle judges: title and body joined for topics.
func (c Content) Text() string {
	if c.Title == "" {
		return c.Body
	}
	if c.Body == "" {
		return c.Title
	}
	return c.Title + "\n\n" + c.Body
}
