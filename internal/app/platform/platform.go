package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/config"
	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
	"github.com/ivankudzin/modqueue/internal/domain/rules"
	"github.com/ivankudzin/modqueue/internal/jobs/rerank"
	"github.com/ivankudzin/modqueue/internal/repo/memory"
	pgrepo "github.com/ivankudzin/modqueue/internal/repo/postgres"
	redrepo "github.com/ivankudzin/modqueue/internal/repo/redis"
	queuesvc "github.com/ivankudzin/modqueue/internal/services/queue"
	"github.com/ivankudzin/modqueue/internal/services/status"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	eventBuffer = 1024
)

// QueueStore is the full queue item store, implemented by the postgres and
// in-memory repositories.
type QueueStore interface {
	Insert(ctx context.Context, in model.NewQueueItem) (model.QueueItem, error)
	Get(ctx context.Context, id uuid.UUID) (model.QueueItem, error)
	LatestByContent(ctx context.Context, contentID uuid.UUID) (model.QueueItem, error)
	PeekNext(ctx context.Context, queueType enums.QueueType) (model.QueueItem, bool, error)
	List(ctx context.Context, filter model.ListFilter) ([]model.QueueItem, error)
	Remove(ctx context.Context, id uuid.UUID) error
	Rank(ctx context.Context, item model.QueueItem) (int, int, error)
	Counts(ctx context.Context, queueType enums.QueueType) (model.QueueCounts, error)
	Claim(ctx context.Context, req model.ClaimRequest) ([]model.QueueItem, error)
	Complete(ctx context.Context, id uuid.UUID, workerID string, at time.Time) error
	Release(ctx context.Context, id uuid.UUID, workerID, reason string, at time.Time) (model.QueueItem, error)
	MarkStuck(ctx context.Context, id uuid.UUID, workerID, reason string, at time.Time) error
	Requeue(ctx context.Context, id uuid.UUID, at time.Time) (model.QueueItem, error)
	ListStale(ctx context.Context, assignedBefore time.Time, limit int) ([]model.QueueItem, error)
	ListCompletedBefore(ctx context.Context, before time.Time, limit int) ([]model.QueueItem, error)
	UpdatePriority(ctx context.Context, id uuid.UUID, score int) (bool, error)
}

type ContentStore interface {
	Create(ctx context.Context, c model.Content) (model.Content, error)
	Get(ctx context.Context, id uuid.UUID) (model.Content, error)
	ApplyModerationOutcome(ctx context.Context, id uuid.UUID, approved bool, feedback *string) (bool, error)
}

type QueueIndex interface {
	Add(ctx context.Context, item model.QueueItem) error
	Remove(ctx context.Context, item model.QueueItem) error
	Rank(ctx context.Context, item model.QueueItem) (int, int, bool, error)
	Rebuild(ctx context.Context, qt enums.QueueType, pending []model.QueueItem) error
	Reconcile(ctx context.Context, qt enums.QueueType, pending []model.QueueItem) (int, error)
}

// Platform holds the stores and event plumbing shared by the api and worker
// processes. With the memory driver nothing leaves the process: there is no
// index, durations stay in memory and events go straight to the hub.
type Platform struct {
	Config config.Config
	Logger *zap.Logger

	Postgres *pgxpool.Pool
	Redis    *goredis.Client

	Queue     QueueStore
	Contents  ContentStore
	Index     QueueIndex
	Durations status.DurationStats
	Health    *redrepo.HealthRepo
	Events    *redrepo.EventChannel

	Hub          *status.Hub
	Estimator    *status.Estimator
	Publisher    *status.Publisher
	QueueService *queuesvc.Service
	Weights      rules.PriorityWeights
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Platform, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	p := &Platform{
		Config:  cfg,
		Logger:  log,
		Hub:     status.NewHub(64),
		Weights: weightsFromConfig(cfg.Priority),
	}

	var channel status.Channel
	switch cfg.Store.Driver {
	case DriverMemory:
		p.Queue = memory.NewQueueRepo()
		p.Contents = memory.NewContentRepo()
		p.Durations = memory.NewDurationRepo()
		channel = p.Hub
		log.Info("using in-memory store, state is lost on exit")
	case DriverPostgres:
		pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		p.Postgres = pool
		p.Queue = pgrepo.NewQueueRepo(pool)
		p.Contents = pgrepo.NewContentRepo(pool)

		p.Redis = redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		p.Index = redrepo.NewQueueIndexRepo(p.Redis, cfg.Redis.KeyPrefix)
		p.Durations = redrepo.NewDurationRepo(p.Redis, cfg.Redis.KeyPrefix)
		p.Health = redrepo.NewHealthRepo(p.Redis, cfg.Redis.KeyPrefix)
		p.Events = redrepo.NewEventChannel(p.Redis, cfg.Redis.KeyPrefix)
		channel = p.Events
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	var rankIndex status.RankIndex
	var serviceIndex queuesvc.Index
	if p.Index != nil {
		rankIndex = p.Index
		serviceIndex = p.Index
	}

	p.Estimator = status.NewEstimator(p.Queue, rankIndex, p.Durations, log.Named("estimator"))
	if p.Index != nil {
		p.Estimator.SetIndexRepair(rerank.New(p.Queue, p.Index, p.Weights, log.Named("index-repair")))
	}
	p.Publisher = status.NewPublisher(channel, p.Estimator, eventBuffer, log.Named("publisher"))
	p.QueueService = queuesvc.NewService(queuesvc.Dependencies{
		Store:     p.Queue,
		Contents:  p.Contents,
		Index:     serviceIndex,
		Estimator: p.Estimator,
		Notifier:  p.Publisher,
		Weights:   p.Weights,
		Logger:    log.Named("queue"),
	})

	return p, nil
}

// RunPublisher drains queued notifications into the event channel.
func (p *Platform) RunPublisher(ctx context.Context) error {
	return p.Publisher.Run(ctx)
}

// RunRelay feeds the local hub from the shared event channel so streaming
// clients see events published by worker processes. It reconnects until ctx
// ends. In memory mode the hub is already the channel.
func (p *Platform) RunRelay(ctx context.Context) error {
	if p.Events == nil {
		<-ctx.Done()
		return nil
	}
	for {
		err := p.Events.Subscribe(ctx, nil, p.Hub.Deliver)
		if ctx.Err() != nil {
			return nil
		}
		p.Logger.Warn("event relay dropped, reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func (p *Platform) Close() error {
	if p.Postgres != nil {
		p.Postgres.Close()
	}
	if p.Redis != nil {
		return p.Redis.Close()
	}
	return nil
}

func weightsFromConfig(cfg config.PriorityConfig) rules.PriorityWeights {
	w := rules.DefaultPriorityWeights()
	if cfg.DefaultScore > 0 {
		w.DefaultScore = cfg.DefaultScore
	}
	if cfg.StandingDivisor > 0 {
		w.StandingDivisor = cfg.StandingDivisor
	}
	if cfg.MaxStandingBoost > 0 {
		w.MaxStandingBoost = cfg.MaxStandingBoost
	}
	if cfg.AgingStep > 0 {
		w.AgingStep = cfg.AgingStep
	}
	if cfg.MaxAgeBoost > 0 {
		w.MaxAgeBoost = cfg.MaxAgeBoost
	}
	return w
}
