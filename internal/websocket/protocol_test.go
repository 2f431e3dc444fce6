package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// NewMessage Tests
// =============================================================================

func TestNewMessage_CreatesCorrectEnvelope(t *testing.T) {
	before := time.Now()
	msg, err := NewMessage(EventTyping, "alice")
	after := time.Now()

	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, EventTyping, msg.Type)
	assert.JSONEq(t, `"alice"`, string(msg.Payload))
	assert.True(t, !msg.Timestamp.Before(before) && !msg.Timestamp.After(after))
}

func TestNewMessage_NilPayload(t *testing.T) {
	msg, err := NewMessage(EventConnected, nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), msg.Payload)
}

func TestNewMessage_InvalidPayload(t *testing.T) {
	// Channels cannot be marshalled to JSON
	msg, err := NewMessage(EventTyping, make(chan int))
	assert.Error(t, err)
	assert.Nil(t, msg)
}

func TestNewMessage_RawPayloadForwardedUntouched(t *testing.T) {
	raw := json.RawMessage(`{"_id":"m1","chat":"c1","content":"hi","extra":{"nested":[1,2]}}`)
	msg, err := NewMessage(EventMessageReceived, raw)
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, EventMessageReceived, decoded.Type)
	assert.JSONEq(t, string(raw), string(decoded.Payload))
}

// =============================================================================
// Wire Names
// =============================================================================

func TestEventNames(t *testing.T) {
	names := map[Event]string{
		EventUserAdd:               "user_add",
		EventRoomJoin:              "room_join",
		EventRoomLeave:             "room_leave",
		EventTyping:                "typing",
		EventMessageSend:           "message_send",
		EventMessageEdit:           "message_edit",
		EventMessageHide:           "message_hide",
		EventMessageUnhide:         "message_unhide",
		EventMessageDelete:         "message_delete",
		EventConnected:             "connected",
		EventUsersOnline:           "users_online",
		EventMessageReceived:       "message_received",
		EventMessageEdited:         "message_edited",
		EventMessageHidden:         "message_hidden",
		EventMessageUnhidden:       "message_unhidden",
		EventMessageDeleted:        "message_deleted",
		EventLastOnlineUpdate:      "last_online_update",
		EventMarkOneRead:           "mark_one_message_as_read",
		EventMarkAllRead:           "mark_all_messages_as_read",
		EventChatLastMessageUpdate: "chat_last_message_update",
	}
	for event, want := range names {
		assert.Equal(t, want, string(event))
	}
}

// =============================================================================
// Chat Id Extraction
// =============================================================================

func TestParseChatID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"bare string", `"chat42"`, "chat42", false},
		{"trims", `" chat42 "`, "chat42", false},
		{"chatId object", `{"chatId":"chat42"}`, "chat42", false},
		{"_id object", `{"_id":"chat42","name":"group"}`, "chat42", false},
		{"id object", `{"id":"chat42"}`, "chat42", false},
		{"empty string", `""`, "", true},
		{"empty object", `{}`, "", true},
		{"number", `42`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseChatID(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChatOfMessage(t *testing.T) {
	got, err := chatOfMessage(json.RawMessage(`{"_id":"m1","chat":"c1"}`))
	require.NoError(t, err)
	assert.Equal(t, "c1", got)

	got, err = chatOfMessage(json.RawMessage(`{"_id":"m1","chat":{"_id":"c2","isGroup":true}}`))
	require.NoError(t, err)
	assert.Equal(t, "c2", got)

	_, err = chatOfMessage(json.RawMessage(`{"_id":"m1","chat":null}`))
	assert.Error(t, err)

	_, err = chatOfMessage(json.RawMessage(`"not an object"`))
	assert.Error(t, err)
}

func TestUserRef_Key(t *testing.T) {
	assert.Equal(t, "a", UserRef{ID: "a", AltID: "b"}.Key())
	assert.Equal(t, "b", UserRef{AltID: "b"}.Key())
	assert.Empty(t, UserRef{}.Key())
}
