package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
	redrepo "github.com/ivankudzin/modqueue/internal/repo/redis"
)

const (
	alertName         = "queue_backlog"
	snapshotTTLFactor = 3
	minAlertEvery     = 30 * time.Minute
)

type Counter interface {
	Counts(ctx context.Context, queueType enums.QueueType) (model.QueueCounts, error)
}

type SnapshotStore interface {
	Save(ctx context.Context, snap redrepo.HealthSnapshot, ttl time.Duration) error
	AcquireAlert(ctx context.Context, name string, ttl time.Duration) (bool, error)
}

type Alerter interface {
	SendText(ctx context.Context, text string) error
}

// Job records per-queue counts and raises one alert per window when any
// backlog crosses the threshold or items are stuck.
type Job struct {
	counts    Counter
	snapshots SnapshotStore
	alerter   Alerter
	threshold int
	interval  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func New(counts Counter, snapshots SnapshotStore, alerter Alerter, threshold int, interval time.Duration, logger *zap.Logger) *Job {
	if threshold <= 0 {
		threshold = 1000
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		counts:    counts,
		snapshots: snapshots,
		alerter:   alerter,
		threshold: threshold,
		interval:  interval,
		now:       time.Now,
		logger:    logger,
	}
}

func (j *Job) Name() string { return "health" }

func (j *Job) Run(ctx context.Context) error {
	if j.counts == nil {
		return nil
	}

	checkedAt := j.now().UTC()
	var problems []string
	for _, qt := range enums.AllQueueTypes {
		counts, err := j.counts.Counts(ctx, qt)
		if err != nil {
			return fmt.Errorf("count %s items: %w", qt, err)
		}

		exceeded := counts.Pending > j.threshold
		if exceeded {
			problems = append(problems, fmt.Sprintf("%s: %d pending (threshold %d)", qt, counts.Pending, j.threshold))
		}
		if counts.Stuck > 0 {
			problems = append(problems, fmt.Sprintf("%s: %d stuck", qt, counts.Stuck))
		}

		j.logger.Info("queue health",
			zap.String("queue_type", string(qt)),
			zap.Int("pending", counts.Pending),
			zap.Int("processing", counts.Processing),
			zap.Int("stuck", counts.Stuck),
			zap.Bool("backlog_exceeded", exceeded),
		)

		if j.snapshots != nil {
			snap := redrepo.HealthSnapshot{QueueType: qt, Counts: counts, BacklogExceeded: exceeded, CheckedAt: checkedAt}
			if err := j.snapshots.Save(ctx, snap, snapshotTTLFactor*j.interval); err != nil {
				j.logger.Warn("save health snapshot failed", zap.String("queue_type", string(qt)), zap.Error(err))
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	j.logger.Warn("queue health degraded", zap.Strings("problems", problems))
	return j.alert(ctx, problems)
}

func (j *Job) alert(ctx context.Context, problems []string) error {
	if j.alerter == nil {
		return nil
	}
	if j.snapshots != nil {
		window := j.interval
		if window < minAlertEvery {
			window = minAlertEvery
		}
		acquired, err := j.snapshots.AcquireAlert(ctx, alertName, window)
		if err != nil {
			return fmt.Errorf("acquire alert slot: %w", err)
		}
		if !acquired {
			return nil
		}
	}

	text := "Moderation queue health degraded:\n" + strings.Join(problems, "\n")
	if err := j.alerter.SendText(ctx, text); err != nil {
		return fmt.Errorf("send health alert: %w", err)
	}
	return nil
}
