package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
)

const durationWindow = 50

// DurationRepo keeps the most recent completion durations per queue type.
type DurationRepo struct {
	client *goredis.Client
	keys   keyspace
}

func NewDurationRepo(client *goredis.Client, prefix string) *DurationRepo {
	return &DurationRepo{client: client, keys: newKeyspace(prefix)}
}

func (r *DurationRepo) Record(ctx context.Context, qt enums.QueueType, d time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if d < 0 {
		d = 0
	}

	key := r.keys.durations(qt)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, d.Milliseconds())
	pipe.LTrim(ctx, key, 0, durationWindow-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record completion duration: %w", err)
	}
	return nil
}

// Average returns the moving average; ok is false when nothing was recorded.
func (r *DurationRepo) Average(ctx context.Context, qt enums.QueueType) (time.Duration, bool, error) {
	if r.client == nil {
		return 0, false, fmt.Errorf("redis client is nil")
	}

	values, err := r.client.LRange(ctx, r.keys.durations(qt), 0, durationWindow-1).Result()
	if err != nil {
		return 0, false, fmt.Errorf("read completion durations: %w", err)
	}
	if len(values) == 0 {
		return 0, false, nil
	}

	var sum int64
	for _, v := range values {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("parse completion duration %q: %w", v, err)
		}
		sum += ms
	}
	return time.Duration(sum/int64(len(values))) * time.Millisecond, true, nil
}
