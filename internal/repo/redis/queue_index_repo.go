package redis

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

// QueueIndexRepo mirrors pending items into one sorted set per queue type so
// position and length lookups avoid the relational store. The queue store
// stays authoritative; a miss here means "ask the store".
//
// The set score is the priority. Members are built so that among equal
// scores the reverse lexicographic order ZREVRANK uses matches
// (entered_queue_at ASC, id ASC).
type QueueIndexRepo struct {
	client *goredis.Client
	keys   keyspace
}

func NewQueueIndexRepo(client *goredis.Client, prefix string) *QueueIndexRepo {
	return &QueueIndexRepo{client: client, keys: newKeyspace(prefix)}
}

func (r *QueueIndexRepo) Add(ctx context.Context, item model.QueueItem) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	err := r.client.ZAdd(ctx, r.keys.pending(item.QueueType), goredis.Z{
		Score:  float64(item.PriorityScore),
		Member: indexMember(item),
	}).Err()
	if err != nil {
		return fmt.Errorf("add queue index member: %w", err)
	}
	return nil
}

func (r *QueueIndexRepo) Remove(ctx context.Context, item model.QueueItem) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.ZRem(ctx, r.keys.pending(item.QueueType), indexMember(item)).Err(); err != nil {
		return fmt.Errorf("remove queue index member: %w", err)
	}
	return nil
}

// Rank returns the 1-based position and the set size. ok is false when the
// item is not indexed.
func (r *QueueIndexRepo) Rank(ctx context.Context, item model.QueueItem) (int, int, bool, error) {
	if r.client == nil {
		return 0, 0, false, fmt.Errorf("redis client is nil")
	}

	key := r.keys.pending(item.QueueType)
	pipe := r.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, key, indexMember(item))
	cardCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return 0, 0, false, fmt.Errorf("rank queue index member: %w", err)
	}

	rank, err := rankCmd.Result()
	if err == goredis.Nil {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("rank queue index member: %w", err)
	}
	return int(rank) + 1, int(cardCmd.Val()), true, nil
}

func (r *QueueIndexRepo) Len(ctx context.Context, qt enums.QueueType) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.ZCard(ctx, r.keys.pending(qt)).Result()
	if err != nil {
		return 0, fmt.Errorf("read queue index size: %w", err)
	}
	return int(n), nil
}

// Rebuild replaces the index for one queue type atomically.
func (r *QueueIndexRepo) Rebuild(ctx context.Context, qt enums.QueueType, pending []model.QueueItem) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	key := r.keys.pending(qt)
	tmp := key + ":rebuild"
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, tmp)
	members := make([]goredis.Z, 0, len(pending))
	for _, item := range pending {
		members = append(members, goredis.Z{Score: float64(item.PriorityScore), Member: indexMember(item)})
	}
	if len(members) > 0 {
		pipe.ZAdd(ctx, tmp, members...)
		pipe.Rename(ctx, tmp, key)
	} else {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuild queue index: %w", err)
	}
	return nil
}

// Reconcile makes the set match pending without dropping it first: members
// not in pending are removed and every pending item is (re)added with its
// current score. It returns how many stale members were removed.
func (r *QueueIndexRepo) Reconcile(ctx context.Context, qt enums.QueueType, pending []model.QueueItem) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	key := r.keys.pending(qt)
	current, err := r.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("read queue index members: %w", err)
	}

	keep := make(map[string]struct{}, len(pending))
	members := make([]goredis.Z, 0, len(pending))
	for _, item := range pending {
		member := indexMember(item)
		keep[member] = struct{}{}
		members = append(members, goredis.Z{Score: float64(item.PriorityScore), Member: member})
	}
	stale := make([]interface{}, 0)
	for _, member := range current {
		if _, ok := keep[member]; !ok {
			stale = append(stale, member)
		}
	}

	if len(stale) == 0 && len(members) == 0 {
		return 0, nil
	}
	pipe := r.client.TxPipeline()
	if len(stale) > 0 {
		pipe.ZRem(ctx, key, stale...)
	}
	if len(members) > 0 {
		pipe.ZAdd(ctx, key, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("reconcile queue index: %w", err)
	}
	return len(stale), nil
}

func indexMember(item model.QueueItem) string {
	entered := item.EnteredQueueAt.UnixMicro()
	return fmt.Sprintf("%019d:%s", math.MaxInt64-entered, invertHex(item.ID))
}

// invertHex maps each hex digit d to f-d so a larger member means a smaller id.
func invertHex(id uuid.UUID) string {
	const digits = "0123456789abcdef"
	raw := strings.ReplaceAll(id.String(), "-", "")
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i++ {
		out[i] = digits[15-strings.IndexByte(digits, raw[i])]
	}
	return string(out)
}
