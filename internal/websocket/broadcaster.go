package websocket

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/observer/parley/internal/domain"
	"github.com/observer/parley/internal/pubsub"
)

// RoomBroadcaster lets REST handlers push realtime events after a write.
// exclude is the caller's own socket id, or empty.
type RoomBroadcaster interface {
	// BroadcastMessage sends a message_* event to the message's chat room
	BroadcastMessage(ctx context.Context, event Event, msg *domain.Message, exclude string) error

	// BroadcastChatUpdateToUser sends chat_last_message_update to one user's
	// sockets. Previews differ per viewer, so there is no room-wide variant.
	BroadcastChatUpdateToUser(ctx context.Context, userID uuid.UUID, chat *domain.Chat, exclude string) error

	// BroadcastReadOne sends mark_one_message_as_read to the chat room
	BroadcastReadOne(ctx context.Context, chatID, messageID uuid.UUID, exclude string) error

	// BroadcastReadAll sends mark_all_messages_as_read to the chat room
	BroadcastReadAll(ctx context.Context, chatID, readerID uuid.UUID, exclude string) error
}

// ReadAllPayload is the body of a REST originated mark_all_messages_as_read.
// It carries the chat field like a message so clients route it the same way.
type ReadAllPayload struct {
	ChatID   uuid.UUID `json:"chat"`
	ReaderID uuid.UUID `json:"readerId"`
}

// PubSubBroadcaster implements RoomBroadcaster using the PubSub system
type PubSubBroadcaster struct {
	ps pubsub.PubSub
}

// NewPubSubBroadcaster creates a new broadcaster that uses the PubSub system
func NewPubSubBroadcaster(ps pubsub.PubSub) *PubSubBroadcaster {
	return &PubSubBroadcaster{ps: ps}
}

func (b *PubSubBroadcaster) BroadcastMessage(ctx context.Context, event Event, msg *domain.Message, exclude string) error {
	return b.publish(ctx, pubsub.Topics.Room(msg.ChatID.String()), event, msg, exclude)
}

func (b *PubSubBroadcaster) BroadcastChatUpdateToUser(ctx context.Context, userID uuid.UUID, chat *domain.Chat, exclude string) error {
	return b.publish(ctx, pubsub.Topics.User(userID.String()), EventChatLastMessageUpdate, chat, exclude)
}

func (b *PubSubBroadcaster) BroadcastReadOne(ctx context.Context, chatID, messageID uuid.UUID, exclude string) error {
	payload := MessageReadPayload{MessageID: messageID.String()}
	return b.publish(ctx, pubsub.Topics.Room(chatID.String()), EventMarkOneRead, payload, exclude)
}

func (b *PubSubBroadcaster) BroadcastReadAll(ctx context.Context, chatID, readerID uuid.UUID, exclude string) error {
	payload := ReadAllPayload{ChatID: chatID, ReaderID: readerID}
	return b.publish(ctx, pubsub.Topics.Room(chatID.String()), EventMarkAllRead, payload, exclude)
}

func (b *PubSubBroadcaster) publish(ctx context.Context, topic string, event Event, payload any, exclude string) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := &pubsub.Message{
		Topic:   topic,
		Type:    string(event),
		Payload: payloadBytes,
		Exclude: exclude,
	}

	return b.ps.Publish(ctx, msg.Topic, msg)
}
