package pubsub

import (
	"context"
	"log/slog"
	"sync"
)

// queueSize bounds the backlog of one subscription before messages drop
const queueSize = 256

type delivery struct {
	ctx context.Context
	msg *Message
}

// memorySubscription is a subscription to a topic. A dedicated goroutine
// drains its queue so the handler sees messages in publish order.
type memorySubscription struct {
	ps      *MemoryPubSub
	topic   string
	handler Handler
	id      uint64
	queue   chan delivery
}

func (s *memorySubscription) Unsubscribe() error {
	s.ps.unsubscribe(s.topic, s.id)
	return nil
}

func (s *memorySubscription) run() {
	for d := range s.queue {
		s.handler(d.ctx, d.msg)
	}
}

// MemoryPubSub implements PubSub using an in-memory map.
// Suitable for single-instance deployments.
type MemoryPubSub struct {
	mu          sync.RWMutex
	subscribers map[string]map[uint64]*memorySubscription
	nextID      uint64
	closed      bool
	logger      *slog.Logger
}

// NewMemoryPubSub creates a new in-memory pub/sub instance
func NewMemoryPubSub(logger *slog.Logger) *MemoryPubSub {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryPubSub{
		subscribers: make(map[string]map[uint64]*memorySubscription),
		logger:      logger.With("component", "pubsub", "backend", "memory"),
	}
}

// Publish queues a message for every subscriber of the topic. A subscriber
// whose queue is full misses the message.
func (ps *MemoryPubSub) Publish(ctx context.Context, topic string, msg *Message) error {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if ps.closed {
		return ErrClosed
	}

	subs := ps.subscribers[topic]
	if len(subs) == 0 {
		ps.logger.Debug("no subscribers for topic", "topic", topic, "msg_type", msg.Type)
		return nil
	}

	// Handlers outlive the publishing request
	d := delivery{ctx: context.WithoutCancel(ctx), msg: msg}

	// Queues are only closed under the write lock, so sending here is safe
	for _, sub := range subs {
		select {
		case sub.queue <- d:
		default:
			ps.logger.Warn("subscriber queue full, dropping message",
				"topic", topic, "msg_type", msg.Type, "sub_id", sub.id)
		}
	}

	return nil
}

// Subscribe registers a handler for the given topic
func (ps *MemoryPubSub) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return nil, ErrClosed
	}

	ps.nextID++
	sub := &memorySubscription{
		ps:      ps,
		topic:   topic,
		handler: handler,
		id:      ps.nextID,
		queue:   make(chan delivery, queueSize),
	}

	if ps.subscribers[topic] == nil {
		ps.subscribers[topic] = make(map[uint64]*memorySubscription)
	}
	ps.subscribers[topic][sub.id] = sub

	go sub.run()

	return sub, nil
}

func (ps *MemoryPubSub) unsubscribe(topic string, id uint64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	subs, ok := ps.subscribers[topic]
	if !ok {
		return
	}
	if sub, ok := subs[id]; ok {
		close(sub.queue)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(ps.subscribers, topic)
	}
}

// Close shuts down the pub/sub and prevents new operations
func (ps *MemoryPubSub) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return nil
	}
	ps.closed = true

	for _, subs := range ps.subscribers {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	ps.subscribers = make(map[string]map[uint64]*memorySubscription)
	return nil
}

// SubscriberCount returns the number of subscribers for a topic (useful for testing)
func (ps *MemoryPubSub) SubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}

// TopicCount returns the number of active topics (useful for testing)
func (ps *MemoryPubSub) TopicCount() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers)
}
