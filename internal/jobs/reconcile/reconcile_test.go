package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
	"github.com/ivankudzin/modqueue/internal/repo/memory"
	"github.com/ivankudzin/modqueue/internal/services/moderation"
)

type unusedOracle struct{}

func (unusedOracle) Evaluate(context.Context, string, enums.ContentKind, model.EvaluationContext) (model.Verdict, error) {
	return model.Verdict{}, model.ErrOracleUnavailable
}

func TestRunRevertsStaleClaimExactlyOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.July, 3, 12, 0, 0, 0, time.UTC)
	store := memory.NewQueueRepo()
	contents := memory.NewContentRepo()

	content, err := contents.Create(ctx, model.Content{Kind: enums.ContentKindPost, OwnerID: uuid.New(), Body: "a post that got stuck"})
	if err != nil {
		t.Fatalf("create content: %v", err)
	}
	item, err := store.Insert(ctx, model.NewQueueItem{
		ContentID:      content.ID,
		OwnerID:        content.OwnerID,
		QueueType:      enums.QueueTypePostModeration,
		PriorityScore:  10,
		EnteredQueueAt: now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.Claim(ctx, model.ClaimRequest{
		QueueType:  enums.QueueTypePostModeration,
		Limit:      1,
		WorkerID:   "crashed",
		JobTimeout: time.Minute,
		ClaimedAt:  now.Add(-10 * time.Minute),
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	worker := moderation.NewWorker(moderation.Dependencies{
		Oracle:   unusedOracle{},
		Contents: contents,
		Store:    store,
	}, moderation.Policy{MaxRetries: 1, WriteAttempts: 1})

	job := New(store, worker, 5*time.Minute, nil)
	job.now = func() time.Time { return now }

	if err := job.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	got, err := store.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != enums.ItemStatusPending || got.RetryCount != 1 {
		t.Fatalf("stale item must be reverted once: status=%s retries=%d", got.Status, got.RetryCount)
	}

	if err := job.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	got, err = store.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RetryCount != 1 {
		t.Fatalf("pending item must not be reverted again, retries=%d", got.RetryCount)
	}
}

func TestRunAppliesFallbackPastRetryBudget(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.July, 3, 12, 0, 0, 0, time.UTC)
	store := memory.NewQueueRepo()
	contents := memory.NewContentRepo()

	content, err := contents.Create(ctx, model.Content{Kind: enums.ContentKindAppeal, OwnerID: uuid.New(), Body: "please lift my suspension"})
	if err != nil {
		t.Fatalf("create content: %v", err)
	}
	if _, err := store.Insert(ctx, model.NewQueueItem{
		ContentID:      content.ID,
		OwnerID:        content.OwnerID,
		QueueType:      enums.QueueTypeAppealReview,
		EnteredQueueAt: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.Claim(ctx, model.ClaimRequest{
		QueueType:  enums.QueueTypeAppealReview,
		Limit:      1,
		WorkerID:   "crashed",
		JobTimeout: time.Minute,
		ClaimedAt:  now.Add(-10 * time.Minute),
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	worker := moderation.NewWorker(moderation.Dependencies{
		Oracle:   unusedOracle{},
		Contents: contents,
		Store:    store,
	}, moderation.Policy{MaxRetries: 0, WriteAttempts: 1})

	job := New(store, worker, 5*time.Minute, nil)
	job.now = func() time.Time { return now }
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, err := contents.Get(ctx, content.ID)
	if err != nil {
		t.Fatalf("get content: %v", err)
	}
	if got.Status != enums.ContentStatusRejected {
		t.Fatalf("appeal must fail closed, got %s", got.Status)
	}
}

func TestRunSkipsFreshAndStuckClaims(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.July, 3, 12, 0, 0, 0, time.UTC)
	store := memory.NewQueueRepo()

	for i := 0; i < 2; i++ {
		if _, err := store.Insert(ctx, model.NewQueueItem{
			ContentID:      uuid.New(),
			QueueType:      enums.QueueTypePrivateMessage,
			EnteredQueueAt: now.Add(-time.Hour),
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	fresh, err := store.Claim(ctx, model.ClaimRequest{QueueType: enums.QueueTypePrivateMessage, Limit: 1, WorkerID: "w", JobTimeout: time.Minute, ClaimedAt: now.Add(-time.Minute)})
	if err != nil || len(fresh) != 1 {
		t.Fatalf("claim fresh: %v", err)
	}
	old, err := store.Claim(ctx, model.ClaimRequest{QueueType: enums.QueueTypePrivateMessage, Limit: 1, WorkerID: "w", JobTimeout: time.Minute, ClaimedAt: now.Add(-time.Hour)})
	if err != nil || len(old) != 1 {
		t.Fatalf("claim old: %v", err)
	}
	if err := store.MarkStuck(ctx, old[0].ID, *old[0].WorkerID, "write failed", now); err != nil {
		t.Fatalf("mark stuck: %v", err)
	}

	resolver := &countingResolver{}
	job := New(store, resolver, 5*time.Minute, nil)
	job.now = func() time.Time { return now }
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if resolver.calls != 0 {
		t.Fatalf("fresh and stuck claims must be skipped, resolved %d", resolver.calls)
	}
}

type countingResolver struct{ calls int }

func (r *countingResolver) ResolveFailure(context.Context, model.QueueItem, error) (moderation.Outcome, error) {
	r.calls++
	return moderation.OutcomeRequeued, nil
}
