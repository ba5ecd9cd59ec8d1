// Package streamhub provides the per-reply fan-out channel between the
// agent callback handlers and any number of stream consumers.
package streamhub

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/chat/events"
	"github.com/agentstudio/studio/internal/common/logger"
)

// subscriberBuffer bounds each subscription. A consumer that falls this
// far behind is dropped rather than blocking the producer.
const subscriberBuffer = 256

// CloseReason classifies the terminal event a hub emits when closed.
type CloseReason string

const (
	ReasonDone      CloseReason = "done"
	ReasonCancelled CloseReason = "cancelled"
	ReasonFailed    CloseReason = "failed"
)

// Subscription is one consumer's handle on a reply's event stream. The
// channel is closed on terminal event, on backpressure drop, or when
// the consumer calls Close.
type Subscription struct {
	id      int
	hub     *Hub
	ch      chan events.Event
	dropped bool
}

// Events yields the subscribed stream in publish order.
func (s *Subscription) Events() <-chan events.Event {
	return s.ch
}

// Dropped reports whether the hub detached this subscription because
// its buffer overflowed.
func (s *Subscription) Dropped() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
}

// Hub fans events for one reply out to all active subscriptions.
// Publish never blocks on a slow consumer.
type Hub struct {
	replyID        string
	conversationID string
	log            *logger.Logger

	mu       sync.Mutex
	subs     map[int]*Subscription
	nextID   int
	closed   bool
	terminal *events.Event
}

func New(replyID, conversationID string, log *logger.Logger) *Hub {
	return &Hub{
		replyID:        replyID,
		conversationID: conversationID,
		log:            log.WithReplyID(replyID),
		subs:           make(map[int]*Subscription),
	}
}

// ConversationID returns the conversation this hub's reply belongs to.
func (h *Hub) ConversationID() string {
	return h.conversationID
}

// Subscribe registers a new consumer. Subscribing to a closed hub
// returns a subscription that yields the terminal event, if any, and
// then end-of-stream.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{
		id:  h.nextID,
		hub: h,
		ch:  make(chan events.Event, subscriberBuffer),
	}
	h.nextID++

	if h.closed {
		if h.terminal != nil {
			sub.ch <- *h.terminal
		}
		close(sub.ch)
		return sub
	}

	h.subs[sub.id] = sub
	return sub
}

// Publish delivers ev to every subscription. Slow subscriptions are
// detached. Publishing after Close is a no-op.
func (h *Hub) Publish(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.deliver(ev)
}

// Close publishes the terminal done event for reason and detaches all
// subscriptions. Idempotent.
func (h *Hub) Close(reason CloseReason) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true

	done := events.Event{
		Type:    events.TypeDone,
		Content: string(reason),
	}
	h.terminal = &done
	h.deliver(done)

	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
	h.log.Debug("Hub closed", zap.String("reason", string(reason)))
}

// Closed reports whether the terminal event has been published.
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// deliver enqueues ev on every subscription, dropping any whose buffer
// is full. Caller holds h.mu.
func (h *Hub) deliver(ev events.Event) {
	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped = true
			close(sub.ch)
			delete(h.subs, id)
			h.log.Warn("Dropping slow stream subscriber", zap.Int("subscriber", id))
		}
	}
}

func (h *Hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		close(sub.ch)
		delete(h.subs, id)
	}
}

// Registry tracks the live hub for each reply.
type Registry struct {
	mu   sync.RWMutex
	hubs map[string]*Hub
	log  *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		hubs: make(map[string]*Hub),
		log:  log,
	}
}

// Create registers a hub for replyID, replacing any previous entry.
func (r *Registry) Create(replyID, conversationID string) *Hub {
	hub := New(replyID, conversationID, r.log)
	r.mu.Lock()
	r.hubs[replyID] = hub
	r.mu.Unlock()
	return hub
}

// Get returns the hub for replyID, or nil.
func (r *Registry) Get(replyID string) *Hub {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hubs[replyID]
}

// Remove forgets the hub for replyID. The hub itself is closed by the
// caller before removal.
func (r *Registry) Remove(replyID string) {
	r.mu.Lock()
	delete(r.hubs, replyID)
	r.mu.Unlock()
}

// CloseAll closes every live hub with the given reason. Used during
// shutdown.
func (r *Registry) CloseAll(reason CloseReason) {
	r.mu.Lock()
	hubs := make([]*Hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		hubs = append(hubs, h)
	}
	r.mu.Unlock()

	for _, h := range hubs {
		h.Close(reason)
	}
}

// DonePayload is the JSON body of the terminal done frame.
type DonePayload struct {
	ConversationID string `json:"conversation_id"`
	Timestamp      string `json:"timestamp"`
}

// NewDonePayload stamps a done payload for a conversation.
func NewDonePayload(conversationID string) DonePayload {
	return DonePayload{
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
}
