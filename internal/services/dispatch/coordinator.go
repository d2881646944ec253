package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
	"github.com/ivankudzin/modqueue/internal/services/moderation"
)

const (
	defaultPollInterval  = time.Second
	defaultClaimAttempts = 3
	claimRetryDelay      = 50 * time.Millisecond
	backlogCheckEvery    = time.Minute
	resolveTimeout       = 10 * time.Second
)

var ErrJobTimeout = errors.New("moderation job exceeded its deadline")

type Store interface {
	Claim(ctx context.Context, req model.ClaimRequest) ([]model.QueueItem, error)
	Counts(ctx context.Context, queueType enums.QueueType) (model.QueueCounts, error)
}

type Processor interface {
	Process(ctx context.Context, item model.QueueItem) (moderation.Outcome, error)
	ResolveFailure(ctx context.Context, item model.QueueItem, cause error) (moderation.Outcome, error)
}

type Index interface {
	Remove(ctx context.Context, item model.QueueItem) error
}

type Notifier interface {
	Notify(kind enums.EventType, item model.QueueItem, feedback *string)
}

type Config struct {
	QueueType        enums.QueueType
	MaxJobs          int
	JobTimeout       time.Duration
	PollInterval     time.Duration
	ClaimAttempts    int
	WorkerID         string
	BacklogThreshold int
}

type Dependencies struct {
	Store     Store
	Processor Processor
	Index     Index
	Notifier  Notifier
	Logger    *zap.Logger
}

// Coordinator keeps up to MaxJobs items of one queue type in flight.
// Tick is only called from a single goroutine, so the free slot count it
// reads can only grow while it claims.
type Coordinator struct {
	cfg       Config
	store     Store
	processor Processor
	index     Index
	notifier  Notifier
	logger    *zap.Logger
	now       func() time.Time

	inFlight      atomic.Int64
	wg            sync.WaitGroup
	lastBacklogAt time.Time
}

func NewCoordinator(deps Dependencies, cfg Config) (*Coordinator, error) {
	if deps.Store == nil || deps.Processor == nil {
		return nil, fmt.Errorf("dispatch coordinator dependencies are not configured")
	}
	if !cfg.QueueType.Valid() {
		return nil, fmt.Errorf("unknown queue type %q", cfg.QueueType)
	}
	if cfg.MaxJobs <= 0 {
		return nil, fmt.Errorf("queue %s: max_jobs must be positive", cfg.QueueType)
	}
	if cfg.JobTimeout <= 0 {
		return nil, fmt.Errorf("queue %s: job_timeout must be positive", cfg.QueueType)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ClaimAttempts <= 0 {
		cfg.ClaimAttempts = defaultClaimAttempts
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker"
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		cfg:       cfg,
		store:     deps.Store,
		processor: deps.Processor,
		index:     deps.Index,
		notifier:  deps.Notifier,
		logger:    logger.With(zap.String("queue_type", string(cfg.QueueType))),
		now:       time.Now,
	}, nil
}

func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("dispatch coordinator started",
		zap.Int("max_jobs", c.cfg.MaxJobs),
		zap.Duration("job_timeout", c.cfg.JobTimeout),
	)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := c.Tick(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("dispatch tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			c.wg.Wait()
			c.logger.Info("dispatch coordinator stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick claims as many items as there are free slots and starts them.
func (c *Coordinator) Tick(ctx context.Context) (int, error) {
	free := c.cfg.MaxJobs - int(c.inFlight.Load())
	if free <= 0 {
		return 0, nil
	}

	items, err := c.claim(ctx, free)
	if err != nil {
		return 0, err
	}

	for _, item := range items {
		if c.index != nil {
			if err := c.index.Remove(ctx, item); err != nil {
				c.logger.Warn("queue index remove failed", zap.String("item_id", item.ID.String()), zap.Error(err))
			}
		}
		if c.notifier != nil {
			c.notifier.Notify(enums.EventQueueStatusChange, item, nil)
		}

		c.inFlight.Add(1)
		c.wg.Add(1)
		go c.runJob(ctx, item)
	}

	if len(items) == free {
		c.checkBacklog(ctx)
	}
	return len(items), nil
}

func (c *Coordinator) InFlight() int {
	return int(c.inFlight.Load())
}

// Wait blocks until every started job has returned or been abandoned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) claim(ctx context.Context, limit int) ([]model.QueueItem, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ClaimAttempts; attempt++ {
		items, err := c.store.Claim(ctx, model.ClaimRequest{
			QueueType:  c.cfg.QueueType,
			Limit:      limit,
			WorkerID:   c.cfg.WorkerID,
			JobTimeout: c.cfg.JobTimeout,
			ClaimedAt:  c.now().UTC(),
		})
		if err == nil {
			return items, nil
		}
		if !errors.Is(err, model.ErrClaimConflict) {
			return nil, fmt.Errorf("claim %s items: %w", c.cfg.QueueType, err)
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(claimRetryDelay):
		}
	}
	c.logger.Debug("claim conflict persisted, retrying next tick", zap.Error(lastErr))
	return nil, nil
}

type jobResult struct {
	outcome moderation.Outcome
	err     error
}

func (c *Coordinator) runJob(ctx context.Context, item model.QueueItem) {
	defer c.wg.Done()
	defer c.inFlight.Add(-1)

	log := c.logger.With(zap.String("item_id", item.ID.String()), zap.String("content_id", item.ContentID.String()))

	jobCtx, cancel := context.WithTimeout(ctx, c.cfg.JobTimeout)
	defer cancel()

	done := make(chan jobResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- jobResult{err: fmt.Errorf("moderation job panicked: %v", r)}
			}
		}()
		outcome, err := c.processor.Process(jobCtx, item)
		done <- jobResult{outcome: outcome, err: err}
	}()

	select {
	case res := <-done:
		c.finish(ctx, item, res, log)
	case <-jobCtx.Done():
		select {
		case res := <-done:
			c.finish(ctx, item, res, log)
			return
		default:
		}
		if ctx.Err() != nil {
			log.Info("moderation job interrupted by shutdown")
			return
		}
		// The claim stays processing; the stale sweep reverts it.
		log.Warn("moderation job timed out", zap.Error(ErrJobTimeout))
	}
}

func (c *Coordinator) finish(ctx context.Context, item model.QueueItem, res jobResult, log *zap.Logger) {
	switch {
	case res.outcome == "" && res.err != nil:
		log.Error("moderation job failed", zap.Error(res.err))
		c.resolve(ctx, item, res.err, log)
	case res.err != nil:
		log.Error("moderation job ended with error", zap.String("outcome", string(res.outcome)), zap.Error(res.err))
	default:
		log.Debug("moderation job finished", zap.String("outcome", string(res.outcome)))
	}
}

func (c *Coordinator) resolve(ctx context.Context, item model.QueueItem, cause error, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	resolveCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	outcome, err := c.processor.ResolveFailure(resolveCtx, item, cause)
	if err != nil {
		log.Error("resolve failed moderation job", zap.Error(err))
		return
	}
	log.Info("failed moderation job resolved", zap.String("outcome", string(outcome)))
}

func (c *Coordinator) checkBacklog(ctx context.Context) {
	if c.cfg.BacklogThreshold <= 0 {
		return
	}
	now := c.now()
	if !c.lastBacklogAt.IsZero() && now.Sub(c.lastBacklogAt) < backlogCheckEvery {
		return
	}
	c.lastBacklogAt = now

	counts, err := c.store.Counts(ctx, c.cfg.QueueType)
	if err != nil {
		c.logger.Warn("backlog check failed", zap.Error(err))
		return
	}
	if counts.Pending > c.cfg.BacklogThreshold {
		c.logger.Warn("queue backlog above threshold",
			zap.Int("pending", counts.Pending),
			zap.Int("threshold", c.cfg.BacklogThreshold),
			zap.Int("in_flight", c.InFlight()),
		)
	}
}
