package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

type HealthSnapshot struct {
	QueueType       enums.QueueType
	Counts          model.QueueCounts
	BacklogExceeded bool
	CheckedAt       time.Time
}

// HealthRepo stores the latest queue-health snapshot per queue type for
// external alerting and the overview endpoint.
type HealthRepo struct {
	client *goredis.Client
	keys   keyspace
}

func NewHealthRepo(client *goredis.Client, prefix string) *HealthRepo {
	return &HealthRepo{client: client, keys: newKeyspace(prefix)}
}

func (r *HealthRepo) Save(ctx context.Context, snap HealthSnapshot, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	key := r.keys.health(snap.QueueType)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"pending":          snap.Counts.Pending,
		"processing":       snap.Counts.Processing,
		"stuck":            snap.Counts.Stuck,
		"backlog_exceeded": strconv.FormatBool(snap.BacklogExceeded),
		"checked_at":       snap.CheckedAt.UTC().Unix(),
	})
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save queue health: %w", err)
	}
	return nil
}

func (r *HealthRepo) Load(ctx context.Context, qt enums.QueueType) (HealthSnapshot, bool, error) {
	if r.client == nil {
		return HealthSnapshot{}, false, fmt.Errorf("redis client is nil")
	}

	values, err := r.client.HGetAll(ctx, r.keys.health(qt)).Result()
	if err != nil {
		return HealthSnapshot{}, false, fmt.Errorf("load queue health: %w", err)
	}
	if len(values) == 0 {
		return HealthSnapshot{}, false, nil
	}

	snap := HealthSnapshot{QueueType: qt}
	snap.Counts.Pending, _ = strconv.Atoi(values["pending"])
	snap.Counts.Processing, _ = strconv.Atoi(values["processing"])
	snap.Counts.Stuck, _ = strconv.Atoi(values["stuck"])
	snap.BacklogExceeded, _ = strconv.ParseBool(values["backlog_exceeded"])
	if ts, err := strconv.ParseInt(values["checked_at"], 10, 64); err == nil {
		snap.CheckedAt = time.Unix(ts, 0).UTC()
	}
	return snap, true, nil
}

// AcquireAlert reports true at most once per ttl for the given alert name.
func (r *HealthRepo) AcquireAlert(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := r.client.SetNX(ctx, r.keys.alert(name), time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire alert slot: %w", err)
	}
	return ok, nil
}
