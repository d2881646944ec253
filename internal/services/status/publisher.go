package status

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

const publishTimeout = 2 * time.Second

type Channel interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

func OwnerTopic(owner string) string {
	return "user:" + owner
}

func QueueTopic(qt enums.QueueType) string {
	return "queue:" + string(qt)
}

type notification struct {
	kind      enums.EventType
	item      model.QueueItem
	feedback  *string
	judgement *model.Judgement
}

// Publisher emits queue events without blocking callers. Notify only
// enqueues; Run computes positions and writes to the channel. When the
// buffer is full the event is dropped and clients recover by polling.
type Publisher struct {
	channel   Channel
	estimator *Estimator
	logger    *zap.Logger
	now       func() time.Time
	pending   chan notification
}

func NewPublisher(channel Channel, estimator *Estimator, buffer int, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		channel:   channel,
		estimator: estimator,
		logger:    logger,
		now:       time.Now,
		pending:   make(chan notification, buffer),
	}
}

func (p *Publisher) Notify(kind enums.EventType, item model.QueueItem, feedback *string) {
	p.enqueue(notification{kind: kind, item: item, feedback: feedback})
}

// NotifyVerdict is Notify for approval and rejection events.
func (p *Publisher) NotifyVerdict(kind enums.EventType, item model.QueueItem, feedback *string, j model.Judgement) {
	p.enqueue(notification{kind: kind, item: item, feedback: feedback, judgement: &j})
}

func (p *Publisher) enqueue(n notification) {
	if p == nil || p.channel == nil {
		return
	}
	select {
	case p.pending <- n:
	default:
		p.logger.Warn("notification dropped, publisher buffer full",
			zap.String("event", string(n.kind)),
			zap.String("item_id", n.item.ID.String()),
		)
	}
}

func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-p.pending:
			p.publish(ctx, n)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, n notification) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ev := model.QueueEvent{
		Type:       n.kind,
		QueueType:  n.item.QueueType,
		ItemID:     n.item.ID,
		ContentID:  n.item.ContentID,
		OwnerID:    n.item.OwnerID,
		Status:     n.item.Status,
		Feedback:   n.feedback,
		OccurredAt: p.now().UTC(),
	}
	if n.judgement != nil {
		confidence := n.judgement.Confidence
		ev.Confidence = &confidence
		ev.Fallback = n.judgement.Fallback
	}
	if p.estimator != nil {
		st, err := p.estimator.Status(ctx, n.item)
		if err != nil {
			p.logger.Debug("estimate status for event failed", zap.Error(err))
		} else {
			ev.Position = st.Position
			ev.TotalItems = st.TotalItems
			ev.EstimatedWaitSeconds = int64(st.EstimatedWait / time.Second)
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshal queue event failed", zap.Error(err))
		return
	}

	for _, topic := range []string{OwnerTopic(n.item.OwnerID.String()), QueueTopic(n.item.QueueType)} {
		if err := p.channel.Publish(ctx, topic, payload); err != nil {
			p.logger.Warn("publish queue event failed",
				zap.String("topic", topic),
				zap.String("event", string(n.kind)),
				zap.Error(err),
			)
		}
	}
}
