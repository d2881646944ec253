package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
	"github.com/ivankudzin/modqueue/internal/repo/memory"
)

type oracleFunc func(ctx context.Context, text string, kind enums.ContentKind, ec model.EvaluationContext) (model.Verdict, error)

func (f oracleFunc) Evaluate(ctx context.Context, text string, kind enums.ContentKind, ec model.EvaluationContext) (model.Verdict, error) {
	return f(ctx, text, kind, ec)
}

func failingOracle(err error) oracleFunc {
	return func(context.Context, string, enums.ContentKind, model.EvaluationContext) (model.Verdict, error) {
		return model.Verdict{}, err
	}
}

type recordedEvent struct {
	kind      enums.EventType
	item      model.QueueItem
	feedback  *string
	judgement *model.Judgement
}

type captureNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *captureNotifier) Notify(kind enums.EventType, item model.QueueItem, feedback *string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{kind: kind, item: item, feedback: feedback})
}

func (n *captureNotifier) NotifyVerdict(kind enums.EventType, item model.QueueItem, feedback *string, j model.Judgement) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{kind: kind, item: item, feedback: feedback, judgement: &j})
}

func (n *captureNotifier) last() recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return recordedEvent{}
	}
	return n.events[len(n.events)-1]
}

func (n *captureNotifier) kinds() []enums.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]enums.EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.kind)
	}
	return out
}

// flakyContents fails the first `failures` outcome writes.
type flakyContents struct {
	*memory.ContentRepo
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyContents) ApplyModerationOutcome(ctx context.Context, id uuid.UUID, approved bool, feedback *string) (bool, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return false, errors.New("connection reset by peer")
	}
	return f.ContentRepo.ApplyModerationOutcome(ctx, id, approved, feedback)
}

type fixture struct {
	queueType enums.QueueType
	queue     *memory.QueueRepo
	contents  *memory.ContentRepo
	notifier  *captureNotifier
	content   model.Content
	item      model.QueueItem
}

func newFixture(t *testing.T, qt enums.QueueType, body string) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		queueType: qt,
		queue:     memory.NewQueueRepo(),
		contents:  memory.NewContentRepo(),
		notifier:  &captureNotifier{},
	}
	content, err := f.contents.Create(ctx, model.Content{
		Kind:    qt.ContentKind(),
		OwnerID: uuid.New(),
		Body:    body,
	})
	if err != nil {
		t.Fatalf("create content: %v", err)
	}
	f.content = content
	if _, err := f.queue.Insert(ctx, model.NewQueueItem{
		ContentID:      content.ID,
		OwnerID:        content.OwnerID,
		QueueType:      qt,
		PriorityScore:  10,
		EnteredQueueAt: time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	f.claim(t)
	return f
}

func (f *fixture) claim(t *testing.T) {
	t.Helper()
	claimed, err := f.queue.Claim(context.Background(), model.ClaimRequest{
		QueueType:  f.queueType,
		Limit:      1,
		WorkerID:   "test-worker",
		JobTimeout: time.Minute,
		ClaimedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected one claimed item, got %d", len(claimed))
	}
	f.item = claimed[0]
}

func (f *fixture) worker(oracle Oracle, contents ContentRepository) *Worker {
	if contents == nil {
		contents = f.contents
	}
	w := NewWorker(Dependencies{
		Oracle:   oracle,
		Contents: contents,
		Store:    f.queue,
		Notifier: f.notifier,
	}, Policy{
		MaxRetries:    1,
		OracleTimeout: time.Second,
		WriteAttempts: 3,
		WriteBackoff:  BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Fallbacks: map[enums.QueueType]enums.FallbackPolicy{
			enums.QueueTypeAppealReview: enums.FallbackReject,
		},
	})
	w.jitter = func(n int64) int64 { return n }
	return w
}

func (f *fixture) reload(t *testing.T) (model.Content, model.QueueItem) {
	t.Helper()
	ctx := context.Background()
	content, err := f.contents.Get(ctx, f.content.ID)
	if err != nil {
		t.Fatalf("get content: %v", err)
	}
	item, err := f.queue.Get(ctx, f.item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	return content, item
}

func TestProcessRejectsShortContentWithDeterministicFeedback(t *testing.T) {
	f := newFixture(t, enums.QueueTypePostModeration, "hi")
	violation := "too_short"
	oracle := oracleFunc(func(_ context.Context, text string, _ enums.ContentKind, _ model.EvaluationContext) (model.Verdict, error) {
		return model.Verdict{Approved: false, Feedback: "Content must be at least 10 characters long.", Confidence: 1, ViolationType: &violation}, nil
	})

	outcome, err := f.worker(oracle, nil).Process(context.Background(), f.item)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeRejected {
		t.Fatalf("unexpected outcome: %s", outcome)
	}
	content, item := f.reload(t)
	if content.Status != enums.ContentStatusRejected {
		t.Fatalf("unexpected content status: %s", content.Status)
	}
	if content.Feedback == nil || *content.Feedback != "Content must be at least 10 characters long." {
		t.Fatalf("unexpected feedback: %v", content.Feedback)
	}
	if item.Status != enums.ItemStatusCompleted || item.CompletedAt == nil {
		t.Fatalf("item must be completed, got %s", item.Status)
	}
	kinds := f.notifier.kinds()
	if len(kinds) != 1 || kinds[0] != enums.EventContentRejected {
		t.Fatalf("unexpected events: %v", kinds)
	}
}

func TestProcessFillsMissingFeedbackFromStableSet(t *testing.T) {
	approve := oracleFunc(func(context.Context, string, enums.ContentKind, model.EvaluationContext) (model.Verdict, error) {
		return model.Verdict{Approved: true, Confidence: 0.9}, nil
	})
	body := "A perfectly reasonable post about gardening."

	first := newFixture(t, enums.QueueTypePostModeration, body)
	if _, err := first.worker(approve, nil).Process(context.Background(), first.item); err != nil {
		t.Fatalf("process: %v", err)
	}
	second := newFixture(t, enums.QueueTypePostModeration, body)
	if _, err := second.worker(approve, nil).Process(context.Background(), second.item); err != nil {
		t.Fatalf("process: %v", err)
	}

	a, _ := first.reload(t)
	b, _ := second.reload(t)
	if a.Feedback == nil || b.Feedback == nil {
		t.Fatalf("feedback must be set")
	}
	if *a.Feedback != *b.Feedback {
		t.Fatalf("same text must select same feedback: %q vs %q", *a.Feedback, *b.Feedback)
	}
	if *a.Feedback != SelectFeedback(true, body) {
		t.Fatalf("unexpected feedback: %q", *a.Feedback)
	}
}

func TestTOSScreeningFailsOpenAfterRetryBudget(t *testing.T) {
	f := newFixture(t, enums.QueueTypePostTOSScreening, "Totally fine post body here.")
	w := f.worker(failingOracle(model.ErrOracleTimeout), nil)

	outcome, err := w.Process(context.Background(), f.item)
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if outcome != OutcomeRequeued {
		t.Fatalf("first failure must requeue, got %s", outcome)
	}
	_, item := f.reload(t)
	if item.Status != enums.ItemStatusPending || item.RetryCount != 1 {
		t.Fatalf("unexpected item after requeue: status=%s retries=%d", item.Status, item.RetryCount)
	}

	f.claim(t)
	outcome, err = w.Process(context.Background(), f.item)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if outcome != OutcomeApproved {
		t.Fatalf("tos screening must fail open, got %s", outcome)
	}
	content, item := f.reload(t)
	if content.Status != enums.ContentStatusApproved {
		t.Fatalf("unexpected content status: %s", content.Status)
	}
	if content.Feedback == nil || *content.Feedback != FallbackApproveFeedback {
		t.Fatalf("unexpected fallback feedback: %v", content.Feedback)
	}
	if item.Status != enums.ItemStatusCompleted {
		t.Fatalf("item must be completed, got %s", item.Status)
	}
	ev := f.notifier.last()
	if ev.kind != enums.EventContentApproved || ev.judgement == nil {
		t.Fatalf("expected approval event with judgement, got %+v", ev)
	}
	if !ev.judgement.Fallback || ev.judgement.Confidence != FallbackConfidence {
		t.Fatalf("fallback approval must be marked: %+v", *ev.judgement)
	}
}

func TestVerdictApprovalCarriesOracleConfidence(t *testing.T) {
	f := newFixture(t, enums.QueueTypePostModeration, "A calm and reasonable post body.")
	w := f.worker(oracleFunc(func(context.Context, string, enums.ContentKind, model.EvaluationContext) (model.Verdict, error) {
		return model.Verdict{Approved: true, Feedback: "Approved.", Confidence: 0.9}, nil
	}), nil)

	if outcome, err := w.Process(context.Background(), f.item); err != nil || outcome != OutcomeApproved {
		t.Fatalf("process: outcome=%s err=%v", outcome, err)
	}
	ev := f.notifier.last()
	if ev.judgement == nil || ev.judgement.Fallback || ev.judgement.Confidence != 0.9 {
		t.Fatalf("verdict approval must carry oracle confidence: %+v", ev.judgement)
	}
}

func TestRejectedOracleRequestSkipsRetryBudget(t *testing.T) {
	f := newFixture(t, enums.QueueTypePostTOSScreening, "Totally fine post body here.")
	refused := fmt.Errorf("call oracle: status=401: %w", model.ErrOracleRejected)
	w := f.worker(failingOracle(refused), nil)

	outcome, err := w.Process(context.Background(), f.item)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeApproved {
		t.Fatalf("refused request must go straight to fallback, got %s", outcome)
	}
	content, item := f.reload(t)
	if item.RetryCount != 0 || item.Status != enums.ItemStatusCompleted {
		t.Fatalf("retry budget must not be spent: status=%s retries=%d", item.Status, item.RetryCount)
	}
	if content.Feedback == nil || *content.Feedback != FallbackApproveFeedback {
		t.Fatalf("unexpected fallback feedback: %v", content.Feedback)
	}
	if ev := f.notifier.last(); ev.judgement == nil || !ev.judgement.Fallback {
		t.Fatalf("fallback approval must be marked: %+v", ev)
	}
}

func TestAppealReviewFailsClosed(t *testing.T) {
	f := newFixture(t, enums.QueueTypeAppealReview, "Please reconsider my ban, it was a mistake.")
	w := f.worker(failingOracle(model.ErrOracleUnavailable), nil)

	if outcome, err := w.Process(context.Background(), f.item); err != nil || outcome != OutcomeRequeued {
		t.Fatalf("first attempt: outcome=%s err=%v", outcome, err)
	}
	f.claim(t)
	outcome, err := w.Process(context.Background(), f.item)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if outcome != OutcomeRejected {
		t.Fatalf("appeal must fail closed, got %s", outcome)
	}
	content, _ := f.reload(t)
	if content.Status != enums.ContentStatusRejected {
		t.Fatalf("unexpected content status: %s", content.Status)
	}
	if content.Feedback == nil || *content.Feedback != FallbackAppealFeedback {
		t.Fatalf("unexpected appeal feedback: %v", content.Feedback)
	}
}

func TestHoldPolicyCompletesWithoutTouchingContent(t *testing.T) {
	f := newFixture(t, enums.QueueTypePrivateMessage, "hello there, how are you doing")
	w := f.worker(failingOracle(model.ErrOracleUnavailable), nil)
	w.policy.MaxRetries = 0
	w.policy.Fallbacks[enums.QueueTypePrivateMessage] = enums.FallbackHold

	outcome, err := w.Process(context.Background(), f.item)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeHeld {
		t.Fatalf("unexpected outcome: %s", outcome)
	}
	content, item := f.reload(t)
	if content.Status != enums.ContentStatusPending {
		t.Fatalf("held content must stay pending, got %s", content.Status)
	}
	if item.Status != enums.ItemStatusCompleted {
		t.Fatalf("held item must be completed, got %s", item.Status)
	}
	kinds := f.notifier.kinds()
	if len(kinds) != 1 || kinds[0] != enums.EventContentFlagged {
		t.Fatalf("unexpected events: %v", kinds)
	}
}

func TestOracleDeadlineCountsAsTimeout(t *testing.T) {
	f := newFixture(t, enums.QueueTypeTopicCreation, "A topic about weekend hiking routes.")
	slow := oracleFunc(func(ctx context.Context, _ string, _ enums.ContentKind, _ model.EvaluationContext) (model.Verdict, error) {
		<-ctx.Done()
		return model.Verdict{}, ctx.Err()
	})
	w := f.worker(slow, nil)
	w.policy.OracleTimeout = 10 * time.Millisecond

	outcome, err := w.Process(context.Background(), f.item)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeRequeued {
		t.Fatalf("timeout must requeue, got %s", outcome)
	}
	_, item := f.reload(t)
	if item.LastError == "" || item.RetryCount != 1 {
		t.Fatalf("release must record the cause: last_error=%q retries=%d", item.LastError, item.RetryCount)
	}
}

func TestMissingContentCompletesOrphan(t *testing.T) {
	f := newFixture(t, enums.QueueTypePostModeration, "This post will be deleted by its author.")
	f.contents.Delete(f.content.ID)
	called := false
	oracle := oracleFunc(func(context.Context, string, enums.ContentKind, model.EvaluationContext) (model.Verdict, error) {
		called = true
		return model.Verdict{Approved: true}, nil
	})

	outcome, err := f.worker(oracle, nil).Process(context.Background(), f.item)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeOrphaned {
		t.Fatalf("unexpected outcome: %s", outcome)
	}
	if called {
		t.Fatalf("oracle must not run for missing content")
	}
	item, err := f.queue.Get(context.Background(), f.item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Status != enums.ItemStatusCompleted {
		t.Fatalf("orphan must be completed, got %s", item.Status)
	}
}

func TestTransientWriteFailureIsRetried(t *testing.T) {
	f := newFixture(t, enums.QueueTypePostModeration, "Selling my old bicycle, barely used.")
	flaky := &flakyContents{ContentRepo: f.contents, failures: 2}
	approve := oracleFunc(func(context.Context, string, enums.ContentKind, model.EvaluationContext) (model.Verdict, error) {
		return model.Verdict{Approved: true, Confidence: 0.9}, nil
	})

	outcome, err := f.worker(approve, flaky).Process(context.Background(), f.item)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeApproved {
		t.Fatalf("unexpected outcome: %s", outcome)
	}
	if flaky.calls != 3 {
		t.Fatalf("expected 3 write attempts, got %d", flaky.calls)
	}
}

func TestPersistentWriteFailureMarksItemStuck(t *testing.T) {
	f := newFixture(t, enums.QueueTypePostModeration, "Selling my old bicycle, barely used.")
	flaky := &flakyContents{ContentRepo: f.contents, failures: 10}
	approve := oracleFunc(func(context.Context, string, enums.ContentKind, model.EvaluationContext) (model.Verdict, error) {
		return model.Verdict{Approved: true, Confidence: 0.9}, nil
	})

	outcome, err := f.worker(approve, flaky).Process(context.Background(), f.item)
	if !errors.Is(err, model.ErrRepositoryWrite) {
		t.Fatalf("expected repository write error, got %v", err)
	}
	if outcome != OutcomeStuck {
		t.Fatalf("unexpected outcome: %s", outcome)
	}
	content, item := f.reload(t)
	if content.Status != enums.ContentStatusPending {
		t.Fatalf("content must be untouched, got %s", content.Status)
	}
	if item.Status != enums.ItemStatusProcessing || item.StuckAt == nil {
		t.Fatalf("item must stay processing and flagged stuck: status=%s stuck=%v", item.Status, item.StuckAt)
	}
	if len(f.notifier.kinds()) != 0 {
		t.Fatalf("stuck items must not emit verdict events")
	}
}

func TestLostClaimDoesNotNotify(t *testing.T) {
	f := newFixture(t, enums.QueueTypePostModeration, "Weekly meetup thread for local runners.")
	approve := oracleFunc(func(context.Context, string, enums.ContentKind, model.EvaluationContext) (model.Verdict, error) {
		return model.Verdict{Approved: true, Confidence: 0.9}, nil
	})
	other := "someone-else"
	stolen := f.item
	stolen.WorkerID = &other

	outcome, err := f.worker(approve, nil).Process(context.Background(), stolen)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeLost {
		t.Fatalf("unexpected outcome: %s", outcome)
	}
	if len(f.notifier.kinds()) != 0 {
		t.Fatalf("lost claims must not emit events")
	}
}
