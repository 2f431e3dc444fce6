package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/observer/parley/internal/domain"
	"github.com/observer/parley/internal/websocket"
)

const maxGroupName = 100

// ChatHandler handles chat endpoints
type ChatHandler struct {
	chats       ChatStore
	users       UserStore
	broadcaster websocket.RoomBroadcaster
	logger      *slog.Logger
	now         func() time.Time
}

func NewChatHandler(chats ChatStore, users UserStore, broadcaster websocket.RoomBroadcaster, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		chats:       chats,
		users:       users,
		broadcaster: broadcaster,
		logger:      logger.With("component", "chat-handler"),
		now:         time.Now,
	}
}

// AccessChatRequest opens a private chat
type AccessChatRequest struct {
	UserID string `json:"userId"`
}

// CreateGroupRequest creates a group chat. Users lists the other members.
type CreateGroupRequest struct {
	Name  string   `json:"name"`
	Users []string `json:"users"`
}

// ChatRef names a chat in hide and delete requests and replies
type ChatRef struct {
	ChatID string `json:"chatId"`
}

// List godoc
//
//	@Summary		List chats
//	@Description	Chats of the caller that are not hidden or deleted for them, most recent first
//	@Tags			chat
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{array}		domain.Chat
//	@Failure		401	{object}	ErrorResponse
//	@Router			/api/chat [get]
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	chats, err := h.chats.ListForUser(r.Context(), userID)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, chats)
}

// Get godoc
//
//	@Summary	Get a chat
//	@Tags		chat
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id	path		string	true	"Chat ID"
//	@Success	200	{object}	domain.Chat
//	@Failure	403	{object}	ErrorResponse	"Not a participant"
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/chat/{id} [get]
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	chatID, err := parseID(r.PathValue("id"), "chat id")
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	chat, err := h.chats.GetByID(r.Context(), chatID, userID)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}
	if !chat.HasParticipant(userID) {
		handleError(h.logger, w, domain.ErrNotParticipant)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

// Access godoc
//
//	@Summary		Open a private chat
//	@Description	Returns the private chat with userId, creating it when missing
//	@Tags			chat
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		AccessChatRequest	true	"Other user"
//	@Success		200		{object}	domain.Chat			"Existing chat"
//	@Success		201		{object}	domain.Chat			"New chat"
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse	"Unknown user"
//	@Router			/api/chat [post]
func (h *ChatHandler) Access(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req AccessChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(h.logger, w, err)
		return
	}
	otherID, err := parseID(req.UserID, "userId")
	if err != nil {
		handleError(h.logger, w, err)
		return
	}
	if otherID == userID {
		handleError(h.logger, w, domain.ErrSelfChat)
		return
	}

	ctx := r.Context()
	if _, err := h.users.GetByID(ctx, otherID); err != nil {
		handleError(h.logger, w, err)
		return
	}

	existing, err := h.chats.FindPrivate(ctx, userID, otherID)
	if err == nil {
		if err := h.chats.Show(ctx, existing.ID, userID); err != nil {
			handleError(h.logger, w, err)
			return
		}
		writeJSON(w, http.StatusOK, existing)
		return
	}
	if !errors.Is(err, domain.ErrChatNotFound) {
		handleError(h.logger, w, err)
		return
	}

	now := h.now()
	chat := &domain.Chat{
		ID:        uuid.New(),
		IsGroup:   false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	chat, err = h.create(ctx, chat, []uuid.UUID{userID, otherID}, userID, socketID(r))
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, chat)
}

// CreateGroup godoc
//
//	@Summary		Create a group chat
//	@Description	The caller becomes admin; at least two other users are required
//	@Tags			chat
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		CreateGroupRequest	true	"Group name and members"
//	@Success		201		{object}	domain.Chat
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse	"Unknown user"
//	@Router			/api/chat/group [post]
func (h *ChatHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req CreateGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(h.logger, w, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		handleError(h.logger, w, domain.ErrGroupNameNeeded)
		return
	}
	if len(name) > maxGroupName {
		handleError(h.logger, w, fmt.Errorf("%w: group name too long (max %d)", domain.ErrValidation, maxGroupName))
		return
	}

	members := []uuid.UUID{userID}
	for _, raw := range req.Users {
		id, err := parseID(raw, "user id")
		if err != nil {
			handleError(h.logger, w, err)
			return
		}
		if !slices.Contains(members, id) {
			members = append(members, id)
		}
	}
	if len(members) < 3 {
		handleError(h.logger, w, domain.ErrGroupTooSmall)
		return
	}

	ctx := r.Context()
	for _, id := range members[1:] {
		if _, err := h.users.GetByID(ctx, id); err != nil {
			handleError(h.logger, w, err)
			return
		}
	}

	now := h.now()
	chat := &domain.Chat{
		ID:        uuid.New(),
		Name:      name,
		IsGroup:   true,
		AdminID:   &userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	chat, err := h.create(ctx, chat, members, userID, socketID(r))
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, chat)
}

// create stores the chat, reloads it for the creator and announces it to
// every other member.
func (h *ChatHandler) create(ctx context.Context, chat *domain.Chat, members []uuid.UUID, creator uuid.UUID, exclude string) (*domain.Chat, error) {
	if err := h.chats.Create(ctx, chat, members); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}

	created, err := h.chats.GetByID(ctx, chat.ID, creator)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}

	for _, id := range members {
		if id == creator {
			continue
		}
		err := h.broadcaster.BroadcastChatUpdateToUser(ctx, id, created, exclude)
		logBroadcast(h.logger, "chat created", err)
	}

	h.logger.Info("chat created", "chat_id", created.ID, "group", created.IsGroup, "members", len(members))
	return created, nil
}

// Hide godoc
//
//	@Summary		Hide a chat
//	@Description	Removes the chat from the caller's list until a new message arrives
//	@Tags			chat
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		ChatRef	true	"Chat"
//	@Success		200		{object}	ChatRef
//	@Failure		403		{object}	ErrorResponse	"Not a participant"
//	@Router			/api/chat/hide [put]
func (h *ChatHandler) Hide(w http.ResponseWriter, r *http.Request) {
	h.updateMembership(w, r, func(ctx context.Context, chatID, userID uuid.UUID) error {
		return h.chats.Hide(ctx, chatID, userID)
	})
}

// Delete godoc
//
//	@Summary		Delete a chat for the caller
//	@Description	Hides the chat and drops its history up to now for the caller only
//	@Tags			chat
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		ChatRef	true	"Chat"
//	@Success		200		{object}	ChatRef
//	@Failure		403		{object}	ErrorResponse	"Not a participant"
//	@Router			/api/chat/delete [put]
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.updateMembership(w, r, func(ctx context.Context, chatID, userID uuid.UUID) error {
		return h.chats.Delete(ctx, chatID, userID, h.now())
	})
}

func (h *ChatHandler) updateMembership(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, chatID, userID uuid.UUID) error) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req ChatRef
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(h.logger, w, err)
		return
	}
	chatID, err := parseID(req.ChatID, "chatId")
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	if err := apply(r.Context(), chatID, userID); err != nil {
		handleError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, ChatRef{ChatID: chatID.String()})
}

// logBroadcast records a failed realtime push. The write it follows has
// already succeeded, so the request still does.
func logBroadcast(logger *slog.Logger, what string, err error) {
	if err != nil {
		logger.Warn("realtime broadcast failed", "event", what, "error", err)
	}
}
