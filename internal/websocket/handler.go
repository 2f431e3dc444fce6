package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/observer/parley/internal/auth"
	"github.com/observer/parley/internal/domain"
)

// TokenAuthenticator resolves a bearer token to its user
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// Handler handles WebSocket upgrade requests.
//
// A token is optional. Without one the socket is anonymous and may register
// any user through user_add. With one the socket is pinned to that user.
type Handler struct {
	hub      *Hub
	auth     TokenAuthenticator
	pongWait time.Duration
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a WebSocket handler. auth may be nil.
func NewHandler(hub *Hub, auth TokenAuthenticator, pongWait time.Duration, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		auth:     auth,
		pongWait: pongWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		logger: logger.With("component", "ws"),
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// ServeHTTP upgrades HTTP to WebSocket and handles the connection
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var authUserID string
	if token := socketToken(r); token != "" && h.auth != nil {
		user, err := h.auth.Authenticate(r.Context(), token)
		if errors.Is(err, auth.ErrUnauthorized) {
			writeHandshakeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if err != nil {
			h.logger.Error("socket authentication failed", "error", err)
			writeHandshakeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		authUserID = user.ID.String()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client, err := NewClient(h.hub, conn, h.pongWait, h.logger)
	if err != nil {
		h.logger.Error("failed to create client", "error", err)
		_ = conn.Close()
		return
	}
	if authUserID != "" {
		client.SetAuthUser(authUserID)
	}
	h.hub.Register(client)

	// The request context ends when ServeHTTP returns, so the socket gets its own
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.WritePump(ctx)
	client.ReadPump(ctx) // Block here until client disconnects
}

func writeHandshakeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}

// socketToken reads the token from the query string or the Authorization
// header. Browsers cannot set headers on a WebSocket handshake.
func socketToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
