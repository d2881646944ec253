package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

type ContentRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewContentRepo(pool *pgxpool.Pool) *ContentRepo {
	return &ContentRepo{pool: pool, now: time.Now}
}

func (r *ContentRepo) Get(ctx context.Context, id uuid.UUID) (model.Content, error) {
	if r.pool == nil {
		return model.Content{}, fmt.Errorf("postgres pool is nil")
	}

	var (
		c      model.Content
		kind   string
		status string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, kind, owner_id, author_display_name, author_standing, title, body,
			language, status, feedback, created_at, moderated_at
		FROM content_items
		WHERE id = $1
	`, id).Scan(
		&c.ID,
		&kind,
		&c.OwnerID,
		&c.AuthorDisplayName,
		&c.AuthorStanding,
		&c.Title,
		&c.Body,
		&c.Language,
		&status,
		&c.Feedback,
		&c.CreatedAt,
		&c.ModeratedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Content{}, model.ErrContentNotFound
		}
		return model.Content{}, fmt.Errorf("get content: %w", err)
	}
	c.Kind = enums.ContentKind(kind)
	c.Status = enums.ContentStatus(status)
	return c, nil
}

// ApplyModerationOutcome reports false when the content no longer exists.
func (r *ContentRepo) ApplyModerationOutcome(ctx context.Context, id uuid.UUID, approved bool, feedback *string) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}

	status := enums.ContentStatusRejected
	if approved {
		status = enums.ContentStatusApproved
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE content_items
		SET status = $2, feedback = $3, moderated_at = $4
		WHERE id = $1
	`, id, string(status), feedback, r.now().UTC())
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrRepositoryWrite, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Create is used by the operator CLI and integration tests to seed content.
func (r *ContentRepo) Create(ctx context.Context, c model.Content) (model.Content, error) {
	if r.pool == nil {
		return model.Content{}, fmt.Errorf("postgres pool is nil")
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = enums.ContentStatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now().UTC()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO content_items (
			id, kind, owner_id, author_display_name, author_standing, title, body, language, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, string(c.Kind), c.OwnerID, c.AuthorDisplayName, c.AuthorStanding, c.Title, c.Body, c.Language, string(c.Status), c.CreatedAt)
	if err != nil {
		return model.Content{}, fmt.Errorf("insert content: %w", err)
	}
	return c, nil
}
