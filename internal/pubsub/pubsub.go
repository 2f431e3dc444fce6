// Package pubsub carries realtime events between the REST handlers and the
// websocket hubs of every running instance. The in-memory backend serves a
// single process; the Redis backend spans instances.
package pubsub

import (
	"context"
	"encoding/json"
)

// Message is one event travelling over a topic
type Message struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`

	// Origin identifies the publishing hub instance. A hub skips messages it
	// published itself since it already delivered them locally.
	Origin string `json:"origin,omitempty"`

	// Exclude is a socket id that must not receive the event (the sender)
	Exclude string `json:"exclude,omitempty"`
}

// Handler is a callback for processing messages
type Handler func(ctx context.Context, msg *Message)

// Subscription represents an active subscription that can be closed
type Subscription interface {
	// Unsubscribe removes the subscription
	Unsubscribe() error
}

// PubSub defines the interface for publish/subscribe operations.
// All implementations must be safe for concurrent use, and deliver the
// messages of one topic to one subscription in publish order.
type PubSub interface {
	// Publish sends a message to all subscribers of the given topic.
	// Returns error if the message could not be published.
	Publish(ctx context.Context, topic string, msg *Message) error

	// Subscribe registers a handler for messages on the given topic.
	// Returns a Subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	// Close shuts down the pub/sub system and releases resources.
	Close() error
}

// TopicBuilder helps construct consistent topic names
type TopicBuilder struct{}

// Room returns the topic for a chat room
func (t TopicBuilder) Room(chatID string) string {
	return "room:" + chatID
}

// User returns the topic for events aimed at every socket of one user
func (t TopicBuilder) User(userID string) string {
	return "user:" + userID
}

// Topics is a helper for building topic names
var Topics = TopicBuilder{}
