package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	job      Job
	interval time.Duration
}

// Scheduler runs each registered job once at start and then on its own
// ticker. Job errors are logged; the loop keeps going.
type Scheduler struct {
	entries []entry
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

func (s *Scheduler) Add(job Job, interval time.Duration) {
	if job == nil || interval <= 0 {
		return
	}
	s.entries = append(s.entries, entry{job: job, interval: interval})
}

func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, e := range s.entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	log := s.logger.With(zap.String("job", e.job.Name()))
	log.Info("scheduled job started", zap.Duration("interval", e.interval))

	s.runOnce(ctx, e.job, log)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, e.job, log)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job, log *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("scheduled job panicked", zap.Any("panic", r))
		}
	}()

	started := time.Now()
	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("scheduled job failed", zap.Error(err), zap.Duration("took", time.Since(started)))
		return
	}
	log.Debug("scheduled job finished", zap.Duration("took", time.Since(started)))
}
