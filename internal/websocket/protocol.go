package websocket

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Event names a realtime event. The names are the wire contract with the
// web client and must not change.
type Event string

// Client -> server events
const (
	EventUserAdd       Event = "user_add"
	EventRoomJoin      Event = "room_join"
	EventRoomLeave     Event = "room_leave"
	EventMessageSend   Event = "message_send"
	EventMessageEdit   Event = "message_edit"
	EventMessageHide   Event = "message_hide"
	EventMessageUnhide Event = "message_unhide"
	EventMessageDelete Event = "message_delete"
)

// Server -> client events
const (
	EventConnected             Event = "connected"
	EventUsersOnline           Event = "users_online"
	EventMessageReceived       Event = "message_received"
	EventMessageEdited         Event = "message_edited"
	EventMessageHidden         Event = "message_hidden"
	EventMessageUnhidden       Event = "message_unhidden"
	EventMessageDeleted        Event = "message_deleted"
	EventLastOnlineUpdate      Event = "last_online_update"
	EventChatLastMessageUpdate Event = "chat_last_message_update"
	EventError                 Event = "error"
)

// Events relayed under the same name in both directions
const (
	EventTyping      Event = "typing"
	EventMarkOneRead Event = "mark_one_message_as_read"
	EventMarkAllRead Event = "mark_all_messages_as_read"
)

// relayed maps a client message event to the event its room peers receive
var relayed = map[Event]Event{
	EventMessageSend:   EventMessageReceived,
	EventMessageEdit:   EventMessageEdited,
	EventMessageHide:   EventMessageHidden,
	EventMessageUnhide: EventMessageUnhidden,
	EventMessageDelete: EventMessageDeleted,
	EventMarkAllRead:   EventMarkAllRead,
}

// Message is the base WebSocket message envelope
type Message struct {
	Type      Event           `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// NewMessage creates a message with the current timestamp
func NewMessage(event Event, payload any) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      event,
		Payload:   payloadBytes,
		Timestamp: time.Now(),
	}, nil
}

// ============================================================================
// Client -> Server Payloads
// ============================================================================

// UserRef is the user object sent with user_add. Only the id matters here,
// the rest of the object is ignored.
type UserRef struct {
	ID       string `json:"_id"`
	AltID    string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
}

// Key returns the user id, accepting either id spelling
func (u UserRef) Key() string {
	if u.ID != "" {
		return u.ID
	}
	return u.AltID
}

// RoomLeavePayload for leaving a chat room
type RoomLeavePayload struct {
	ChatID   string `json:"chatId"`
	Username string `json:"username,omitempty"`
	UserID   string `json:"userId,omitempty"`
}

// TypingPayload announces that username types in chatId
type TypingPayload struct {
	ChatID   string `json:"chatId"`
	Username string `json:"username"`
}

// MessageSendPayload carries a message already persisted over REST. The
// message is forwarded untouched.
type MessageSendPayload struct {
	ChatID  string          `json:"chatId"`
	Message json.RawMessage `json:"message"`
}

// MarkOneReadPayload marks a single message as read
type MarkOneReadPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// ============================================================================
// Server -> Client Payloads
// ============================================================================

// ErrorPayload for error responses
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectedPayload announces a freshly registered user
type ConnectedPayload struct {
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
	Username string `json:"username,omitempty"`
}

// LastOnlinePayload tells room peers when a user went offline
type LastOnlinePayload struct {
	UserID     string    `json:"userId"`
	LastOnline time.Time `json:"lastOnline"`
}

// MessageReadPayload is what peers receive for mark_one_message_as_read
type MessageReadPayload struct {
	MessageID string `json:"messageId"`
}

// ============================================================================
// Room id extraction
// ============================================================================

var errNoChatID = errors.New("missing chat id")

// parseChatID reads a chat id sent either as a bare JSON string or as an
// object carrying chatId, _id or id.
func parseChatID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return nonEmpty(s)
	}

	var obj struct {
		ChatID string `json:"chatId"`
		ID     string `json:"_id"`
		AltID  string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", err
	}
	return nonEmpty(firstOf(obj.ChatID, obj.ID, obj.AltID))
}

// chatOfMessage returns the room of a message object. The chat field is
// either the chat id or a populated chat object.
func chatOfMessage(raw json.RawMessage) (string, error) {
	var m struct {
		Chat json.RawMessage `json:"chat"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	if len(m.Chat) == 0 || string(m.Chat) == "null" {
		return "", errNoChatID
	}
	return parseChatID(m.Chat)
}

// messageIDOf reads the _id of a message payload, or "" when it has none
func messageIDOf(raw json.RawMessage) string {
	var m struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	return m.ID
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errNoChatID
	}
	return s, nil
}
