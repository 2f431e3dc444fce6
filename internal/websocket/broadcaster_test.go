package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/observer/parley/internal/domain"
	"github.com/observer/parley/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBroadcastFixture(t *testing.T) (*Hub, *PubSubBroadcaster) {
	t.Helper()
	ps := pubsub.NewMemoryPubSub(testLogger())
	t.Cleanup(func() { ps.Close() })
	return newTestHub(HubConfig{PubSub: ps, InstanceID: "api-test"}), NewPubSubBroadcaster(ps)
}

func TestBroadcaster_MessageReachesRoomExceptCaller(t *testing.T) {
	h, b := newBroadcastFixture(t)
	chatID := uuid.New()

	caller := connect(t, h)
	peer := connect(t, h)
	outsider := connect(t, h)
	h.Join(caller, chatID.String())
	h.Join(peer, chatID.String())

	msg := &domain.Message{ID: uuid.New(), ChatID: chatID, SenderID: uuid.New(), Content: "hi"}
	require.NoError(t, b.BroadcastMessage(context.Background(), EventMessageReceived, msg, caller.ID()))

	m := recv(t, peer)
	assert.Equal(t, EventMessageReceived, m.Type)

	var got domain.Message
	require.NoError(t, json.Unmarshal(m.Payload, &got))
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, chatID, got.ChatID)

	assertSilent(t, caller, 50*time.Millisecond)
	assertSilent(t, outsider, 50*time.Millisecond)
}

func TestBroadcaster_ChatUpdateToUserSockets(t *testing.T) {
	h, b := newBroadcastFixture(t)
	viewer := uuid.New()

	tab1 := connect(t, h)
	tab2 := connect(t, h)
	other := connect(t, h)
	userAdd(t, h, tab1, viewer.String())
	userAdd(t, h, tab2, viewer.String())
	userAdd(t, h, other, uuid.NewString())
	for _, c := range []*Client{tab1, tab2, other} {
		drain(c)
	}

	chat := &domain.Chat{ID: uuid.New()}
	require.NoError(t, b.BroadcastChatUpdateToUser(context.Background(), viewer, chat, tab1.ID()))

	assert.Equal(t, EventChatLastMessageUpdate, recv(t, tab2).Type)
	assertSilent(t, tab1, 50*time.Millisecond)
	assertSilent(t, other, 50*time.Millisecond)
}

func TestBroadcaster_ReadEvents(t *testing.T) {
	h, b := newBroadcastFixture(t)
	chatID, messageID, reader := uuid.New(), uuid.New(), uuid.New()

	member := connect(t, h)
	h.Join(member, chatID.String())

	require.NoError(t, b.BroadcastReadOne(context.Background(), chatID, messageID, ""))
	m := recv(t, member)
	assert.Equal(t, EventMarkOneRead, m.Type)
	assert.JSONEq(t, `{"messageId":"`+messageID.String()+`"}`, string(m.Payload))

	require.NoError(t, b.BroadcastReadAll(context.Background(), chatID, reader, ""))
	m = recv(t, member)
	assert.Equal(t, EventMarkAllRead, m.Type)

	var p ReadAllPayload
	require.NoError(t, json.Unmarshal(m.Payload, &p))
	assert.Equal(t, chatID, p.ChatID)
	assert.Equal(t, reader, p.ReaderID)
}

func TestBroadcaster_RestSendThenSocketRelayDeliversOnce(t *testing.T) {
	h, b := newBroadcastFixture(t)
	chatID := uuid.New()

	caller := connect(t, h)
	peer := connect(t, h)
	h.Join(caller, chatID.String())
	h.Join(peer, chatID.String())

	msg := &domain.Message{ID: uuid.New(), ChatID: chatID, SenderID: uuid.New(), Content: "hi"}
	require.NoError(t, b.BroadcastMessage(context.Background(), EventMessageReceived, msg, caller.ID()))
	assert.Equal(t, EventMessageReceived, recv(t, peer).Type)

	// An older client follows the REST call with message_send
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	emit(t, h, caller, EventMessageSend, MessageSendPayload{ChatID: chatID.String(), Message: raw})

	assertSilent(t, peer, 100*time.Millisecond)
}

func TestBroadcaster_SocketRelayThenRestSendDeliversOnce(t *testing.T) {
	h, b := newBroadcastFixture(t)
	chatID := uuid.New()

	caller := connect(t, h)
	peer := connect(t, h)
	h.Join(caller, chatID.String())
	h.Join(peer, chatID.String())

	msg := &domain.Message{ID: uuid.New(), ChatID: chatID, SenderID: uuid.New(), Content: "hi"}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	emit(t, h, caller, EventMessageSend, MessageSendPayload{ChatID: chatID.String(), Message: raw})
	assert.Equal(t, EventMessageReceived, recv(t, peer).Type)

	require.NoError(t, b.BroadcastMessage(context.Background(), EventMessageReceived, msg, caller.ID()))
	assertSilent(t, peer, 100*time.Millisecond)
}
