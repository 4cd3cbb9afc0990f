// Package events carries the one cross-component signal the intake service
// emits: a broadcast when a follow-up entry is saved, so open follow-up list
// views can refresh. Subscribers attach over WebSocket.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TopicFollowUpUpdated is published after every successful follow-up save.
const TopicFollowUpUpdated = "followup.updated"

// Event is one broadcast message.
type Event struct {
	Topic     string    `json:"topic"`
	ClientID  int64     `json:"client_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the producer-side interface the session controller uses.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// subscriber is one attached connection's outbound queue.
type subscriber struct {
	topics map[string]struct{}
	send   chan []byte
}

// Hub fans events out to subscribers by topic. Safe for concurrent use.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
	log  zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[*subscriber]struct{}),
		log:  log,
	}
}

// Publish broadcasts the event to every subscriber of its topic. A
// subscriber whose buffer is full is skipped rather than blocked on.
func (h *Hub) Publish(_ context.Context, evt Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if _, ok := sub.topics[evt.Topic]; !ok {
			continue
		}
		select {
		case sub.send <- data:
		default:
			h.log.Warn().Str("topic", evt.Topic).Msg("dropping event for slow subscriber")
		}
	}
	return nil
}

// attach registers a subscriber for the given topics and returns it.
func (h *Hub) attach(topics []string) *subscriber {
	sub := &subscriber{
		topics: make(map[string]struct{}, len(topics)),
		send:   make(chan []byte, 64),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// detach removes a subscriber and closes its queue.
func (h *Hub) detach(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.send)
}

// SubscriberCount reports how many connections are attached.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
