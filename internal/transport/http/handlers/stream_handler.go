package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	authsvc "github.com/ivankudzin/modqueue/internal/services/auth"
	"github.com/ivankudzin/modqueue/internal/services/status"
)

const defaultKeepAlive = 25 * time.Second

type Subscriber interface {
	Subscribe(topic string) (<-chan status.Message, func())
}

// StreamHandler pushes queue events to clients as server-sent events.
type StreamHandler struct {
	hub       Subscriber
	keepAlive time.Duration
	logger    *zap.Logger
}

func NewStreamHandler(hub Subscriber, keepAlive time.Duration, logger *zap.Logger) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{hub: hub, keepAlive: keepAlive, logger: logger}
}

func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeInternal(w, "STREAM_UNAVAILABLE", "event stream is unavailable")
		return
	}
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "missing identity")
		return
	}

	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		topic = status.OwnerTopic(identity.Subject)
	}
	if err := authorizeTopic(identity, topic); err != nil {
		writeForbidden(w, "FORBIDDEN", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeInternal(w, "STREAM_UNSUPPORTED", "streaming is not supported")
		return
	}

	events, unsubscribe := h.hub.Subscribe(topic)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": subscribed %s\n\n", topic)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg.Payload); err != nil {
				h.logger.Debug("event stream write failed", zap.String("topic", topic), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// authorizeTopic lets an identity follow its own user topic. Queue topics and
// other users' topics are for staff roles only.
func authorizeTopic(identity authsvc.Identity, topic string) error {
	staff := identity.Role == authsvc.RoleAdmin || identity.Role == authsvc.RoleModerator || identity.Role == authsvc.RoleService

	switch {
	case strings.HasPrefix(topic, "user:"):
		if strings.TrimPrefix(topic, "user:") == identity.Subject || staff {
			return nil
		}
		return fmt.Errorf("topic belongs to another user")
	case strings.HasPrefix(topic, "queue:"):
		if _, ok := enums.ParseQueueType(strings.TrimPrefix(topic, "queue:")); !ok {
			return fmt.Errorf("unknown queue topic")
		}
		if staff {
			return nil
		}
		return fmt.Errorf("queue topics require a staff role")
	default:
		return fmt.Errorf("unknown topic")
	}
}
