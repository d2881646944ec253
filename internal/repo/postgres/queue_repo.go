package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

const queueItemColumns = `
	id, content_id, owner_id, queue_type, priority_score, base_score, priority_override,
	position_in_queue, status, retry_count, entered_queue_at, worker_assigned_at, worker_id,
	estimated_completion_at, completed_at, stuck_at, last_error, updated_at`

// QueueRepo is the durable queue store. Claim state lives only here.
type QueueRepo struct {
	pool *pgxpool.Pool
}

func NewQueueRepo(pool *pgxpool.Pool) *QueueRepo {
	return &QueueRepo{pool: pool}
}

func (r *QueueRepo) Insert(ctx context.Context, in model.NewQueueItem) (model.QueueItem, error) {
	if r.pool == nil {
		return model.QueueItem{}, fmt.Errorf("postgres pool is nil")
	}

	var item model.QueueItem
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO moderation_queue_items (
				id, content_id, owner_id, queue_type, priority_score, base_score,
				priority_override, status, entered_queue_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $5, $6, 'pending', $7, $7)
			RETURNING `+queueItemColumns,
			uuid.New(), in.ContentID, in.OwnerID, string(in.QueueType), in.PriorityScore,
			in.PriorityOverride, in.EnteredQueueAt,
		)
		inserted, err := scanQueueItem(row)
		if err != nil {
			return err
		}

		position, _, err := rankPending(ctx, tx, inserted)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE moderation_queue_items SET position_in_queue = $2 WHERE id = $1
		`, inserted.ID, position); err != nil {
			return fmt.Errorf("store queue position: %w", err)
		}
		inserted.PositionInQueue = position
		item = inserted
		return nil
	})
	if err != nil {
		if uniqueConstraint(err) != "" {
			return model.QueueItem{}, model.ErrDuplicateEnqueue
		}
		return model.QueueItem{}, fmt.Errorf("insert queue item: %w", err)
	}
	return item, nil
}

func (r *QueueRepo) Get(ctx context.Context, id uuid.UUID) (model.QueueItem, error) {
	if r.pool == nil {
		return model.QueueItem{}, fmt.Errorf("postgres pool is nil")
	}
	return r.queryOne(ctx, `SELECT `+queueItemColumns+` FROM moderation_queue_items WHERE id = $1`, id)
}

// LatestByContent prefers an active item; otherwise it returns the most
// recently entered one.
func (r *QueueRepo) LatestByContent(ctx context.Context, contentID uuid.UUID) (model.QueueItem, error) {
	if r.pool == nil {
		return model.QueueItem{}, fmt.Errorf("postgres pool is nil")
	}
	return r.queryOne(ctx, `
		SELECT `+queueItemColumns+`
		FROM moderation_queue_items
		WHERE content_id = $1
		ORDER BY (status <> 'completed') DESC, entered_queue_at DESC
		LIMIT 1
	`, contentID)
}

func (r *QueueRepo) PeekNext(ctx context.Context, queueType enums.QueueType) (model.QueueItem, bool, error) {
	if r.pool == nil {
		return model.QueueItem{}, false, fmt.Errorf("postgres pool is nil")
	}
	item, err := r.queryOne(ctx, `
		SELECT `+queueItemColumns+`
		FROM moderation_queue_items
		WHERE queue_type = $1 AND status = 'pending'
		ORDER BY priority_score DESC, entered_queue_at ASC, id ASC
		LIMIT 1
	`, string(queueType))
	if errors.Is(err, model.ErrItemNotFound) {
		return model.QueueItem{}, false, nil
	}
	if err != nil {
		return model.QueueItem{}, false, err
	}
	return item, true, nil
}

func (r *QueueRepo) List(ctx context.Context, filter model.ListFilter) ([]model.QueueItem, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	return r.queryMany(ctx, `
		SELECT `+queueItemColumns+`
		FROM moderation_queue_items
		WHERE queue_type = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY priority_score DESC, entered_queue_at ASC, id ASC
		LIMIT $3 OFFSET $4
	`, string(filter.QueueType), status, filter.Limit, filter.Offset)
}

func (r *QueueRepo) Remove(ctx context.Context, id uuid.UUID) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM moderation_queue_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	return nil
}

func (r *QueueRepo) Rank(ctx context.Context, item model.QueueItem) (int, int, error) {
	if r.pool == nil {
		return 0, 0, fmt.Errorf("postgres pool is nil")
	}
	return rankPending(ctx, r.pool, item)
}

func (r *QueueRepo) Counts(ctx context.Context, queueType enums.QueueType) (model.QueueCounts, error) {
	if r.pool == nil {
		return model.QueueCounts{}, fmt.Errorf("postgres pool is nil")
	}

	var counts model.QueueCounts
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'processing' AND stuck_at IS NOT NULL)
		FROM moderation_queue_items
		WHERE queue_type = $1 AND status <> 'completed'
	`, string(queueType)).Scan(&counts.Pending, &counts.Processing, &counts.Stuck)
	if err != nil {
		return model.QueueCounts{}, fmt.Errorf("count queue items: %w", err)
	}
	return counts, nil
}

// Claim moves up to req.Limit pending items to processing in one statement.
// Rows locked by a concurrent claimer are skipped, never waited on. A
// content that already has a processing item in another queue is passed over.
func (r *QueueRepo) Claim(ctx context.Context, req model.ClaimRequest) ([]model.QueueItem, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if req.Limit <= 0 {
		return nil, nil
	}

	var items []model.QueueItem
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			WITH candidate AS (
				SELECT q.id
				FROM moderation_queue_items q
				WHERE q.queue_type = $1
				  AND q.status = 'pending'
				  AND NOT EXISTS (
					SELECT 1 FROM moderation_queue_items p
					WHERE p.content_id = q.content_id AND p.status = 'processing'
				  )
				ORDER BY q.priority_score DESC, q.entered_queue_at ASC, q.id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			UPDATE moderation_queue_items mi
			SET status = 'processing',
				worker_id = $3::text || ':' || gen_random_uuid()::text,
				worker_assigned_at = $4::timestamptz,
				estimated_completion_at = $4::timestamptz + make_interval(secs => $5::double precision),
				updated_at = $4::timestamptz
			FROM candidate
			WHERE mi.id = candidate.id
			RETURNING `+prefixed("mi", queueItemColumns),
			string(req.QueueType), req.Limit, req.WorkerID, req.ClaimedAt, req.JobTimeout.Seconds(),
		)
		if err != nil {
			return err
		}
		items, err = collectQueueItems(rows)
		return err
	})
	if err != nil {
		if uniqueConstraint(err) != "" {
			return nil, model.ErrClaimConflict
		}
		return nil, fmt.Errorf("claim queue items: %w", err)
	}

	sortQueueItems(items)
	return items, nil
}

func (r *QueueRepo) Complete(ctx context.Context, id uuid.UUID, workerID string, at time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE moderation_queue_items
		SET status = 'completed', completed_at = $3, stuck_at = NULL, updated_at = $3
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
	`, id, workerID, at)
	if err != nil {
		return fmt.Errorf("complete queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrClaimLost
	}
	return nil
}

// Release returns a processing item to pending and counts the retry.
func (r *QueueRepo) Release(ctx context.Context, id uuid.UUID, workerID, reason string, at time.Time) (model.QueueItem, error) {
	if r.pool == nil {
		return model.QueueItem{}, fmt.Errorf("postgres pool is nil")
	}
	item, err := r.queryOne(ctx, `
		UPDATE moderation_queue_items
		SET status = 'pending', retry_count = retry_count + 1, last_error = $3,
			estimated_completion_at = NULL, updated_at = $4
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
		RETURNING `+queueItemColumns,
		id, workerID, reason, at,
	)
	if errors.Is(err, model.ErrItemNotFound) {
		return model.QueueItem{}, model.ErrClaimLost
	}
	return item, err
}

func (r *QueueRepo) MarkStuck(ctx context.Context, id uuid.UUID, workerID, reason string, at time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE moderation_queue_items
		SET stuck_at = $4, last_error = $3, updated_at = $4
		WHERE id = $1 AND worker_id = $2 AND status = 'processing'
	`, id, workerID, reason, at)
	if err != nil {
		return fmt.Errorf("mark queue item stuck: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrClaimLost
	}
	return nil
}

// Requeue is the operator escape hatch for stuck or stale items.
func (r *QueueRepo) Requeue(ctx context.Context, id uuid.UUID, at time.Time) (model.QueueItem, error) {
	if r.pool == nil {
		return model.QueueItem{}, fmt.Errorf("postgres pool is nil")
	}
	item, err := r.queryOne(ctx, `
		UPDATE moderation_queue_items
		SET status = 'pending', retry_count = 0, stuck_at = NULL, last_error = '',
			estimated_completion_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'processing'
		RETURNING `+queueItemColumns,
		id, at,
	)
	if err != nil {
		if uniqueConstraint(err) != "" {
			return model.QueueItem{}, model.ErrDuplicateEnqueue
		}
		return model.QueueItem{}, err
	}
	return item, nil
}

func (r *QueueRepo) ListStale(ctx context.Context, assignedBefore time.Time, limit int) ([]model.QueueItem, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	return r.queryMany(ctx, `
		SELECT `+queueItemColumns+`
		FROM moderation_queue_items
		WHERE status = 'processing' AND stuck_at IS NULL AND worker_assigned_at < $1
		ORDER BY worker_assigned_at ASC
		LIMIT $2
	`, assignedBefore, limit)
}

func (r *QueueRepo) ListCompletedBefore(ctx context.Context, before time.Time, limit int) ([]model.QueueItem, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	return r.queryMany(ctx, `
		SELECT `+queueItemColumns+`
		FROM moderation_queue_items
		WHERE status = 'completed' AND completed_at < $1
		ORDER BY completed_at ASC
		LIMIT $2
	`, before, limit)
}

// UpdatePriority changes the score of a still-pending item; a claimed item
// keeps the score it was claimed with.
func (r *QueueRepo) UpdatePriority(ctx context.Context, id uuid.UUID, score int) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE moderation_queue_items
		SET priority_score = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND priority_score <> $2
	`, id, score)
	if err != nil {
		return false, fmt.Errorf("update queue item priority: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func rankPending(ctx context.Context, q querier, item model.QueueItem) (int, int, error) {
	var ahead, total int
	err := q.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE priority_score > $2
				OR (priority_score = $2 AND entered_queue_at < $3)
				OR (priority_score = $2 AND entered_queue_at = $3 AND id < $4)),
			COUNT(*)
		FROM moderation_queue_items
		WHERE queue_type = $1 AND status = 'pending'
	`, string(item.QueueType), item.PriorityScore, item.EnteredQueueAt, item.ID).Scan(&ahead, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("rank queue item: %w", err)
	}
	return ahead + 1, total, nil
}

func (r *QueueRepo) queryOne(ctx context.Context, query string, args ...interface{}) (model.QueueItem, error) {
	item, err := scanQueueItem(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.QueueItem{}, model.ErrItemNotFound
		}
		return model.QueueItem{}, fmt.Errorf("query queue item: %w", err)
	}
	return item, nil
}

func (r *QueueRepo) queryMany(ctx context.Context, query string, args ...interface{}) ([]model.QueueItem, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue items: %w", err)
	}
	return collectQueueItems(rows)
}

func collectQueueItems(rows pgx.Rows) ([]model.QueueItem, error) {
	defer rows.Close()

	items := make([]model.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return items, nil
}

func scanQueueItem(row pgx.Row) (model.QueueItem, error) {
	var (
		item      model.QueueItem
		queueType string
		status    string
	)
	err := row.Scan(
		&item.ID,
		&item.ContentID,
		&item.OwnerID,
		&queueType,
		&item.PriorityScore,
		&item.BaseScore,
		&item.PriorityOverride,
		&item.PositionInQueue,
		&status,
		&item.RetryCount,
		&item.EnteredQueueAt,
		&item.WorkerAssignedAt,
		&item.WorkerID,
		&item.EstimatedCompletionAt,
		&item.CompletedAt,
		&item.StuckAt,
		&item.LastError,
		&item.UpdatedAt,
	)
	if err != nil {
		return model.QueueItem{}, err
	}
	item.QueueType = enums.QueueType(queueType)
	item.Status = enums.ItemStatus(status)
	return item, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func sortQueueItems(items []model.QueueItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Before(items[j])
	})
}
