package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/observer/parley/internal/auth"
	"github.com/observer/parley/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenAuth struct {
	tokens map[string]uuid.UUID
}

func (f fakeTokenAuth) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "db-down" {
		return nil, errors.New("connection refused")
	}
	id, ok := f.tokens[token]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return &domain.User{ID: id}, nil
}

func startServer(t *testing.T, auth TokenAuthenticator) (*Hub, string) {
	t.Helper()
	hub := newTestHub(HubConfig{})
	srv := httptest.NewServer(NewHandler(hub, auth, time.Second, []string{"*"}, testLogger()))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEvent(t *testing.T, conn *websocket.Conn, event Event, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Type: event, Payload: raw}))
}

func readEvent(t *testing.T, conn *websocket.Conn, event Event) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var m Message
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == event {
			return m
		}
	}
}

func TestHandler_RoundTrip(t *testing.T) {
	hub, url := startServer(t, nil)

	alice := dial(t, url)
	bob := dial(t, url)

	writeEvent(t, alice, EventUserAdd, map[string]string{"_id": "alice"})
	readEvent(t, alice, EventUsersOnline)

	writeEvent(t, alice, EventRoomJoin, "chat42")
	writeEvent(t, bob, EventRoomJoin, "chat42")
	require.Eventually(t, func() bool { return hub.RoomSize("chat42") == 2 }, time.Second, 10*time.Millisecond)

	writeEvent(t, alice, EventMessageSend, map[string]any{
		"chatId":  "chat42",
		"message": map[string]string{"_id": "m1", "chat": "chat42", "content": "hi"},
	})

	m := readEvent(t, bob, EventMessageReceived)
	assert.JSONEq(t, `{"_id":"m1","chat":"chat42","content":"hi"}`, string(m.Payload))
}

func TestHandler_CloseRunsDisconnectPath(t *testing.T) {
	hub, url := startServer(t, nil)

	conn := dial(t, url)
	writeEvent(t, conn, EventUserAdd, map[string]string{"_id": "u1"})
	require.Eventually(t, func() bool { return len(hub.Online()) == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool { return len(hub.Online()) == 0 && hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_MalformedFrame(t *testing.T) {
	_, url := startServer(t, nil)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	m := readEvent(t, conn, EventError)
	assert.Contains(t, string(m.Payload), "invalid_message")
}

func TestHandler_TokenAuth(t *testing.T) {
	owner := uuid.New()
	_, url := startServer(t, fakeTokenAuth{tokens: map[string]uuid.UUID{"good": owner}})

	t.Run("invalid token rejected", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(url+"?token=bad", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("lookup failure is a server error", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(url+"?token=db-down", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	t.Run("valid token pins user", func(t *testing.T) {
		conn := dial(t, url+"?token=good")
		writeEvent(t, conn, EventUserAdd, map[string]string{"_id": uuid.NewString()})

		m := readEvent(t, conn, EventError)
		assert.Contains(t, string(m.Payload), "forbidden")
	})

	t.Run("bearer header accepted", func(t *testing.T) {
		header := http.Header{"Authorization": []string{"Bearer good"}}
		conn, _, err := websocket.DefaultDialer.Dial(url, header)
		require.NoError(t, err)
		defer conn.Close()

		writeEvent(t, conn, EventUserAdd, map[string]string{"_id": owner.String()})
		readEvent(t, conn, EventUsersOnline)
	})
}

func TestSocketToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "q", socketToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", socketToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Empty(t, socketToken(r))
}
