package moderation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

// Oracle judges one piece of content. Transient failures are reported as
// model.ErrOracleTimeout or model.ErrOracleUnavailable; a rejection is a
// verdict, not an error.
type Oracle interface {
	Evaluate(ctx context.Context, text string, kind enums.ContentKind, ec model.EvaluationContext) (model.Verdict, error)
}

type ContentRepository interface {
	Get(ctx context.Context, id uuid.UUID) (model.Content, error)
	ApplyModerationOutcome(ctx context.Context, id uuid.UUID, approved bool, feedback *string) (bool, error)
}

type ItemStore interface {
	Complete(ctx context.Context, id uuid.UUID, workerID string, at time.Time) error
	Release(ctx context.Context, id uuid.UUID, workerID, reason string, at time.Time) (model.QueueItem, error)
	MarkStuck(ctx context.Context, id uuid.UUID, workerID, reason string, at time.Time) error
}

type Index interface {
	Add(ctx context.Context, item model.QueueItem) error
}

type Notifier interface {
	Notify(kind enums.EventType, item model.QueueItem, feedback *string)
	NotifyVerdict(kind enums.EventType, item model.QueueItem, feedback *string, j model.Judgement)
}

type CompletionRecorder interface {
	RecordCompletion(ctx context.Context, qt enums.QueueType, d time.Duration)
}

type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeHeld     Outcome = "held"
	OutcomeOrphaned Outcome = "orphaned"
	OutcomeRequeued Outcome = "requeued"
	OutcomeStuck    Outcome = "stuck"
	OutcomeLost     Outcome = "lost"
)

type State string

const (
	StateClaimed    State = "claimed"
	StateEvaluating State = "evaluating"
	StateApproved   State = "approved"
	StateRejected   State = "rejected"
	StateFinalized  State = "finalized"
)

type Policy struct {
	MaxRetries    int
	OracleTimeout time.Duration
	WriteAttempts int
	WriteBackoff  BackoffConfig
	Fallbacks     map[enums.QueueType]enums.FallbackPolicy
}

func (p Policy) fallback(qt enums.QueueType) enums.FallbackPolicy {
	if fp, ok := p.Fallbacks[qt]; ok {
		return fp
	}
	if qt == enums.QueueTypeAppealReview {
		return enums.FallbackReject
	}
	return enums.FallbackApprove
}

type Dependencies struct {
	Oracle    Oracle
	Contents  ContentRepository
	Store     ItemStore
	Index     Index
	Notifier  Notifier
	Durations CompletionRecorder
	Logger    *zap.Logger
}

type Worker struct {
	oracle    Oracle
	contents  ContentRepository
	store     ItemStore
	index     Index
	notifier  Notifier
	durations CompletionRecorder
	policy    Policy
	logger    *zap.Logger
	now       func() time.Time
	jitter    func(n int64) int64
}

func NewWorker(deps Dependencies, policy Policy) *Worker {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.WriteAttempts <= 0 {
		policy.WriteAttempts = 1
	}
	if policy.OracleTimeout <= 0 {
		policy.OracleTimeout = 20 * time.Second
	}
	return &Worker{
		oracle:    deps.Oracle,
		contents:  deps.Contents,
		store:     deps.Store,
		index:     deps.Index,
		notifier:  deps.Notifier,
		durations: deps.Durations,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
		jitter:    rand.Int63n,
	}
}

// Process drives one claimed item to a terminal outcome or back to pending.
func (w *Worker) Process(ctx context.Context, item model.QueueItem) (Outcome, error) {
	if w.oracle == nil || w.contents == nil || w.store == nil {
		return "", fmt.Errorf("moderation worker dependencies are not configured")
	}
	if item.WorkerID == nil {
		return "", fmt.Errorf("queue item %s is not claimed", item.ID)
	}

	log := w.logger.With(
		zap.String("item_id", item.ID.String()),
		zap.String("content_id", item.ContentID.String()),
		zap.String("queue_type", string(item.QueueType)),
		zap.String("worker_id", *item.WorkerID),
	)
	log.Debug("moderation state", zap.String("state", string(StateClaimed)))

	content, err := w.contents.Get(ctx, item.ContentID)
	if errors.Is(err, model.ErrContentNotFound) {
		return w.completeOrphan(ctx, item, log)
	}
	if err != nil {
		log.Warn("load content failed", zap.Error(err))
		return w.retryOrStick(ctx, item, err, log)
	}

	log.Debug("moderation state", zap.String("state", string(StateEvaluating)))
	verdict, err := w.evaluate(ctx, content)
	if err != nil {
		log.Warn("oracle evaluation failed", zap.Int("retry_count", item.RetryCount), zap.Error(err))
		return w.ResolveFailure(ctx, item, err)
	}

	feedback := verdict.Feedback
	if feedback == "" {
		feedback = SelectFeedback(verdict.Approved, content.Text())
	}
	state := StateRejected
	if verdict.Approved {
		state = StateApproved
	}
	fields := []zap.Field{zap.String("state", string(state)), zap.Float64("confidence", verdict.Confidence)}
	if verdict.ViolationType != nil {
		fields = append(fields, zap.String("violation_type", *verdict.ViolationType))
	}
	log.Debug("moderation state", fields...)

	return w.finalize(ctx, item, verdict.Approved, feedback, model.Judgement{Confidence: verdict.Confidence}, log)
}

// ResolveFailure handles an attempt that produced no verdict. Within the
// retry budget the item goes back to pending; past it, or when the oracle
// refused the request outright, the queue's fallback policy decides. The
// stale sweep uses this for abandoned claims too.
func (w *Worker) ResolveFailure(ctx context.Context, item model.QueueItem, cause error) (Outcome, error) {
	if item.WorkerID == nil {
		return "", fmt.Errorf("queue item %s is not claimed", item.ID)
	}
	log := w.logger.With(
		zap.String("item_id", item.ID.String()),
		zap.String("queue_type", string(item.QueueType)),
		zap.String("worker_id", *item.WorkerID),
	)

	rejected := errors.Is(cause, model.ErrOracleRejected)
	if !rejected && item.RetryCount < w.policy.MaxRetries {
		return w.requeue(ctx, item, cause, log)
	}
	if rejected {
		log.Warn("oracle rejected the request, skipping retries", zap.Int("retry_count", item.RetryCount))
	}

	fallback := model.Judgement{Confidence: FallbackConfidence, Fallback: true}
	switch w.policy.fallback(item.QueueType) {
	case enums.FallbackReject:
		feedback := FallbackRejectFeedback
		if item.QueueType == enums.QueueTypeAppealReview {
			feedback = FallbackAppealFeedback
		}
		log.Warn("retry budget exhausted, failing closed", zap.Error(cause))
		return w.finalize(ctx, item, false, feedback, fallback, log)
	case enums.FallbackHold:
		log.Warn("retry budget exhausted, holding for manual review", zap.Error(cause))
		return w.hold(ctx, item, log)
	default:
		log.Warn("retry budget exhausted, failing open",
			zap.Float64("confidence", FallbackConfidence),
			zap.Error(cause),
		)
		return w.finalize(ctx, item, true, FallbackApproveFeedback, fallback, log)
	}
}

func (w *Worker) evaluate(ctx context.Context, content model.Content) (model.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, w.policy.OracleTimeout)
	defer cancel()

	verdict, err := w.oracle.Evaluate(ctx, content.Text(), content.Kind, model.EvaluationContext{
		AuthorDisplayName: content.AuthorDisplayName,
		Language:          content.Language,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, model.ErrOracleTimeout) {
			return model.Verdict{}, fmt.Errorf("%w: %v", model.ErrOracleTimeout, err)
		}
		return model.Verdict{}, err
	}
	return verdict, nil
}

func (w *Worker) finalize(ctx context.Context, item model.QueueItem, approved bool, feedback string, j model.Judgement, log *zap.Logger) (Outcome, error) {
	text := feedback
	applied, err := w.applyOutcome(ctx, item, approved, &text, log)
	if err != nil {
		return w.stick(ctx, item, err, log)
	}
	if !applied {
		return w.completeOrphan(ctx, item, log)
	}

	outcome, err := w.complete(ctx, item, log)
	if err != nil || outcome == OutcomeLost {
		return outcome, err
	}

	kind := enums.EventContentRejected
	outcome = OutcomeRejected
	if approved {
		kind = enums.EventContentApproved
		outcome = OutcomeApproved
	}
	log.Info("moderation finalized",
		zap.String("state", string(StateFinalized)),
		zap.String("outcome", string(outcome)),
		zap.Bool("fallback", j.Fallback),
	)
	if w.notifier != nil {
		w.notifier.NotifyVerdict(kind, completed(item), &text, j)
	}
	return outcome, nil
}

func (w *Worker) applyOutcome(ctx context.Context, item model.QueueItem, approved bool, feedback *string, log *zap.Logger) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= w.policy.WriteAttempts; attempt++ {
		applied, err := w.contents.ApplyModerationOutcome(ctx, item.ContentID, approved, feedback)
		if err == nil {
			return applied, nil
		}
		lastErr = err
		log.Warn("apply moderation outcome failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == w.policy.WriteAttempts {
			break
		}

		timer := time.NewTimer(retryDelay(attempt, w.policy.WriteBackoff, w.jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, fmt.Errorf("%w: %v", model.ErrRepositoryWrite, ctx.Err())
		case <-timer.C:
		}
	}
	if errors.Is(lastErr, model.ErrRepositoryWrite) {
		return false, lastErr
	}
	return false, fmt.Errorf("%w: %v", model.ErrRepositoryWrite, lastErr)
}

func (w *Worker) complete(ctx context.Context, item model.QueueItem, log *zap.Logger) (Outcome, error) {
	at := w.now().UTC()
	if err := w.store.Complete(ctx, item.ID, *item.WorkerID, at); err != nil {
		if errors.Is(err, model.ErrClaimLost) {
			log.Warn("claim lost before completion")
			return OutcomeLost, nil
		}
		return "", fmt.Errorf("complete queue item: %w", err)
	}
	if w.durations != nil && item.WorkerAssignedAt != nil {
		w.durations.RecordCompletion(ctx, item.QueueType, at.Sub(*item.WorkerAssignedAt))
	}
	return "", nil
}

func (w *Worker) completeOrphan(ctx context.Context, item model.QueueItem, log *zap.Logger) (Outcome, error) {
	outcome, err := w.complete(ctx, item, log)
	if err != nil || outcome == OutcomeLost {
		return outcome, err
	}
	log.Warn("content vanished, orphan item completed")
	w.notify(enums.EventQueueStatusChange, completed(item), nil)
	return OutcomeOrphaned, nil
}

func (w *Worker) hold(ctx context.Context, item model.QueueItem, log *zap.Logger) (Outcome, error) {
	outcome, err := w.complete(ctx, item, log)
	if err != nil || outcome == OutcomeLost {
		return outcome, err
	}
	w.notify(enums.EventContentFlagged, completed(item), nil)
	return OutcomeHeld, nil
}

func (w *Worker) requeue(ctx context.Context, item model.QueueItem, cause error, log *zap.Logger) (Outcome, error) {
	released, err := w.store.Release(ctx, item.ID, *item.WorkerID, errorText(cause), w.now().UTC())
	if err != nil {
		if errors.Is(err, model.ErrClaimLost) {
			log.Warn("claim lost before requeue")
			return OutcomeLost, nil
		}
		return "", fmt.Errorf("release queue item: %w", err)
	}
	if w.index != nil {
		if err := w.index.Add(ctx, released); err != nil {
			log.Warn("queue index add failed", zap.Error(err))
		}
	}
	log.Info("queue item requeued", zap.Int("retry_count", released.RetryCount))
	w.notify(enums.EventQueueStatusChange, released, nil)
	return OutcomeRequeued, nil
}

func (w *Worker) retryOrStick(ctx context.Context, item model.QueueItem, cause error, log *zap.Logger) (Outcome, error) {
	if item.RetryCount < w.policy.MaxRetries {
		return w.requeue(ctx, item, cause, log)
	}
	return w.stick(ctx, item, cause, log)
}

// stick leaves the item processing but flagged, so the stale sweep skips it
// and health metrics report it until an operator requeues it.
func (w *Worker) stick(ctx context.Context, item model.QueueItem, cause error, log *zap.Logger) (Outcome, error) {
	log.Error("queue item stuck", zap.Error(cause))
	if err := w.store.MarkStuck(ctx, item.ID, *item.WorkerID, errorText(cause), w.now().UTC()); err != nil && !errors.Is(err, model.ErrClaimLost) {
		return OutcomeStuck, fmt.Errorf("mark queue item stuck: %w", err)
	}
	return OutcomeStuck, cause
}

func (w *Worker) notify(kind enums.EventType, item model.QueueItem, feedback *string) {
	if w.notifier == nil {
		return
	}
	w.notifier.Notify(kind, item, feedback)
}

func completed(item model.QueueItem) model.QueueItem {
	item.Status = enums.ItemStatusCompleted
	return item
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
