package rerank

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
	"github.com/ivankudzin/modqueue/internal/domain/rules"
	"github.com/ivankudzin/modqueue/internal/repo/memory"
)

type captureIndex struct {
	rebuilt    map[enums.QueueType][]model.QueueItem
	reconciled map[enums.QueueType][]model.QueueItem
	onRebuild  func()
}

func (c *captureIndex) Rebuild(_ context.Context, qt enums.QueueType, pending []model.QueueItem) error {
	if c.rebuilt == nil {
		c.rebuilt = make(map[enums.QueueType][]model.QueueItem)
	}
	c.rebuilt[qt] = pending
	if c.onRebuild != nil {
		c.onRebuild()
	}
	return nil
}

func (c *captureIndex) Reconcile(_ context.Context, qt enums.QueueType, pending []model.QueueItem) (int, error) {
	if c.reconciled == nil {
		c.reconciled = make(map[enums.QueueType][]model.QueueItem)
	}
	removed := len(c.rebuilt[qt]) - len(pending)
	c.reconciled[qt] = pending
	if removed < 0 {
		removed = 0
	}
	return removed, nil
}

func TestRunAgesWaitingItemsButNotOverrides(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)
	store := memory.NewQueueRepo()

	old, err := store.Insert(ctx, model.NewQueueItem{
		ContentID:      uuid.New(),
		QueueType:      enums.QueueTypePostModeration,
		PriorityScore:  10,
		EnteredQueueAt: now.Add(-30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("insert old: %v", err)
	}
	newer, err := store.Insert(ctx, model.NewQueueItem{
		ContentID:      uuid.New(),
		QueueType:      enums.QueueTypePostModeration,
		PriorityScore:  12,
		EnteredQueueAt: now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("insert newer: %v", err)
	}
	pinned, err := store.Insert(ctx, model.NewQueueItem{
		ContentID:        uuid.New(),
		QueueType:        enums.QueueTypePostModeration,
		PriorityScore:    15,
		PriorityOverride: true,
		EnteredQueueAt:   now.Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("insert pinned: %v", err)
	}

	index := &captureIndex{}
	job := New(store, index, rules.DefaultPriorityWeights(), nil)
	job.now = func() time.Time { return now }
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := func(id uuid.UUID) model.QueueItem {
		item, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		return item
	}
	if score := got(old.ID).PriorityScore; score != 16 {
		t.Fatalf("30 minutes of waiting should add 6 points, got %d", score)
	}
	if score := got(newer.ID).PriorityScore; score != 12 {
		t.Fatalf("one minute of waiting should not change the score, got %d", score)
	}
	if score := got(pinned.ID).PriorityScore; score != 15 {
		t.Fatalf("override must never age, got %d", score)
	}

	rebuilt := index.rebuilt[enums.QueueTypePostModeration]
	if len(rebuilt) != 3 || rebuilt[0].ID != old.ID {
		t.Fatalf("index must be rebuilt with the aged order, got %d items", len(rebuilt))
	}
	if _, ok := index.rebuilt[enums.QueueTypeAppealReview]; !ok {
		t.Fatalf("every queue type must be rebuilt")
	}
}

func TestRunIsStableWhenRepeated(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)
	store := memory.NewQueueRepo()
	item, err := store.Insert(ctx, model.NewQueueItem{
		ContentID:      uuid.New(),
		QueueType:      enums.QueueTypeTopicCreation,
		PriorityScore:  10,
		EnteredQueueAt: now.Add(-20 * time.Minute),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	job := New(store, nil, rules.DefaultPriorityWeights(), nil)
	job.now = func() time.Time { return now }
	for i := 0; i < 3; i++ {
		if err := job.Run(ctx); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	got, err := store.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PriorityScore != 14 {
		t.Fatalf("aging must be computed from the base score, got %d", got.PriorityScore)
	}
}

func TestRepairIndexDropsItemsClaimedDuringRebuild(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)
	store := memory.NewQueueRepo()
	var ids []uuid.UUID
	for i := 0; i < 2; i++ {
		item, err := store.Insert(ctx, model.NewQueueItem{
			ContentID:      uuid.New(),
			QueueType:      enums.QueueTypePostModeration,
			PriorityScore:  10,
			EnteredQueueAt: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, item.ID)
	}

	index := &captureIndex{}
	index.onRebuild = func() {
		index.onRebuild = nil
		claimed, err := store.Claim(ctx, model.ClaimRequest{
			QueueType:  enums.QueueTypePostModeration,
			Limit:      1,
			WorkerID:   "w1",
			JobTimeout: time.Minute,
			ClaimedAt:  now,
		})
		if err != nil || len(claimed) != 1 {
			t.Fatalf("claim during rebuild: %v (%d items)", err, len(claimed))
		}
	}

	job := New(store, index, rules.DefaultPriorityWeights(), nil)
	if err := job.RepairIndex(ctx, enums.QueueTypePostModeration); err != nil {
		t.Fatalf("repair index: %v", err)
	}

	if got := len(index.rebuilt[enums.QueueTypePostModeration]); got != 2 {
		t.Fatalf("first pass should see both items, got %d", got)
	}
	final := index.reconciled[enums.QueueTypePostModeration]
	if len(final) != 1 || final[0].ID != ids[1] {
		t.Fatalf("claimed head must be dropped from the index, got %+v", final)
	}
}
