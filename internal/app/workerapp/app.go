package workerapp

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/app/platform"
	"github.com/ivankudzin/modqueue/internal/config"
	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/infra/httpclient"
	s3infra "github.com/ivankudzin/modqueue/internal/infra/s3"
	tginfra "github.com/ivankudzin/modqueue/internal/infra/telegram"
	"github.com/ivankudzin/modqueue/internal/jobs/archive"
	"github.com/ivankudzin/modqueue/internal/jobs/health"
	"github.com/ivankudzin/modqueue/internal/jobs/reconcile"
	"github.com/ivankudzin/modqueue/internal/jobs/rerank"
	"github.com/ivankudzin/modqueue/internal/jobs/scheduler"
	redrepo "github.com/ivankudzin/modqueue/internal/repo/redis"
	"github.com/ivankudzin/modqueue/internal/services/dispatch"
	"github.com/ivankudzin/modqueue/internal/services/moderation"
	"github.com/ivankudzin/modqueue/internal/services/oracle"
	"github.com/ivankudzin/modqueue/internal/services/rate"
)

// App runs one dispatch coordinator per queue type plus the maintenance
// scheduler.
type App struct {
	platform     *platform.Platform
	logger       *zap.Logger
	worker       *moderation.Worker
	coordinators []*dispatch.Coordinator
	scheduler    *scheduler.Scheduler
}

func New(p *platform.Platform) (*App, error) {
	if p == nil || p.Logger == nil {
		return nil, fmt.Errorf("platform is not configured")
	}
	cfg := p.Config
	log := p.Logger.Named("worker")

	evaluator, err := oracle.New(cfg.Oracle, httpclient.New(cfg.Oracle.Timeout+config.RepoMargin))
	if err != nil {
		return nil, fmt.Errorf("init oracle: %w", err)
	}
	if llm := cfg.Oracle.LLM; cfg.Oracle.Provider == "llm" && p.Redis != nil && (llm.RequestsPerMinute > 0 || llm.RequestsPerSecond > 0) {
		limiter := rate.NewLimiter(redrepo.NewRateRepo(p.Redis, cfg.Redis.KeyPrefix), llm.RequestsPerMinute, llm.RequestsPerSecond)
		evaluator = oracle.NewThrottled(evaluator, limiter, "llm")
	}

	var index moderation.Index
	var dispatchIndex dispatch.Index
	if p.Index != nil {
		index = p.Index
		dispatchIndex = p.Index
	}

	worker := moderation.NewWorker(moderation.Dependencies{
		Oracle:    evaluator,
		Contents:  p.Contents,
		Store:     p.Queue,
		Index:     index,
		Notifier:  p.Publisher,
		Durations: p.Estimator,
		Logger:    log.Named("moderation"),
	}, policyFromConfig(cfg))

	workerID := workerPrefix()
	coordinators := make([]*dispatch.Coordinator, 0, len(enums.AllQueueTypes))
	for _, qt := range enums.AllQueueTypes {
		qw := cfg.QueueWorker(qt)
		c, err := dispatch.NewCoordinator(dispatch.Dependencies{
			Store:     p.Queue,
			Processor: worker,
			Index:     dispatchIndex,
			Notifier:  p.Publisher,
			Logger:    log.Named("dispatch"),
		}, dispatch.Config{
			QueueType:        qt,
			MaxJobs:          qw.MaxJobs,
			JobTimeout:       qw.JobTimeout,
			PollInterval:     cfg.Worker.PollInterval,
			WorkerID:         workerID,
			BacklogThreshold: cfg.Worker.BacklogThreshold,
		})
		if err != nil {
			return nil, err
		}
		coordinators = append(coordinators, c)
	}

	sched := scheduler.New(log.Named("scheduler"))
	sched.Add(reconcile.New(p.Queue, worker, cfg.Scheduler.StaleAfter, log.Named("reconcile")), cfg.Scheduler.ReconcileInterval)

	var rebuilder rerank.IndexRebuilder
	if p.Index != nil {
		rebuilder = p.Index
	}
	sched.Add(rerank.New(p.Queue, rebuilder, p.Weights, log.Named("rerank")), cfg.Scheduler.RerankInterval)

	var snapshots health.SnapshotStore
	if p.Health != nil {
		snapshots = p.Health
	}
	var alerter health.Alerter
	if cfg.Alert.BotToken != "" {
		a, err := tginfra.NewAlerter(cfg.Alert.BotToken, cfg.Alert.ChatID)
		if err != nil {
			log.Warn("telegram alerter init failed, alerts are log-only", zap.Error(err))
		} else {
			alerter = a
		}
	}
	sched.Add(health.New(p.Queue, snapshots, alerter, cfg.Worker.BacklogThreshold, cfg.Scheduler.HealthInterval, log.Named("health")), cfg.Scheduler.HealthInterval)

	if cfg.Store.Driver == platform.DriverPostgres && cfg.S3.Endpoint != "" {
		client, err := s3infra.NewClient(s3infra.Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			log.Warn("s3 init failed, archive job disabled", zap.Error(err))
		} else {
			bucket := s3infra.NewBucket(client, cfg.S3.Bucket)
			sched.Add(archive.New(p.Queue, bucket, cfg.Scheduler.ArchiveRetention, cfg.Scheduler.ArchiveBatch, log.Named("archive")), cfg.Scheduler.ArchiveInterval)
		}
	}

	return &App{
		platform:     p,
		logger:       log,
		worker:       worker,
		coordinators: coordinators,
		scheduler:    sched,
	}, nil
}

// Run blocks until ctx ends and every in-flight job has finished.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("moderation workers started", zap.Int("queues", len(a.coordinators)))

	var wg sync.WaitGroup
	for _, c := range a.coordinators {
		wg.Add(1)
		go func(c *dispatch.Coordinator) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				a.logger.Error("dispatch coordinator stopped", zap.Error(err))
			}
		}(c)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.scheduler.Run(ctx)
	}()

	wg.Wait()
	a.logger.Info("moderation workers stopped")
	return nil
}

func (a *App) Worker() *moderation.Worker {
	return a.worker
}

func policyFromConfig(cfg config.Config) moderation.Policy {
	fallbacks := make(map[enums.QueueType]enums.FallbackPolicy, len(enums.AllQueueTypes))
	for _, qt := range enums.AllQueueTypes {
		fallbacks[qt] = cfg.QueueWorker(qt).Fallback
	}
	return moderation.Policy{
		MaxRetries:    cfg.Worker.MaxRetries,
		OracleTimeout: cfg.Oracle.Timeout,
		WriteAttempts: cfg.Worker.WriteAttempts,
		WriteBackoff: moderation.BackoffConfig{
			BaseDelay: cfg.Worker.WriteBackoffBase,
			MaxDelay:  cfg.Worker.WriteBackoffMax,
		},
		Fallbacks: fallbacks,
	}
}

func workerPrefix() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
