package status

import (
	"context"
	"sync"
)

type Message struct {
	Topic   string
	Payload []byte
}

// Hub fans messages out to in-process subscribers by topic. A slow
// subscriber loses messages instead of blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[chan Message]struct{}
	bufSize int
}

func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Hub{
		subs:    make(map[string]map[chan Message]struct{}),
		bufSize: bufSize,
	}
}

func (h *Hub) Subscribe(topic string) (<-chan Message, func()) {
	ch := make(chan Message, h.bufSize)

	h.mu.Lock()
	set := h.subs[topic]
	if set == nil {
		set = make(map[chan Message]struct{})
		h.subs[topic] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[topic]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, topic)
				}
			}
			close(ch)
		})
	}
}

// Deliver sends under the read lock so an unsubscribe cannot close a channel
// mid-send; sends never block.
func (h *Hub) Deliver(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for ch := range h.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Publish lets the hub act as the notification channel when api and workers
// share one process.
func (h *Hub) Publish(_ context.Context, topic string, payload []byte) error {
	h.Deliver(topic, payload)
	return nil
}
