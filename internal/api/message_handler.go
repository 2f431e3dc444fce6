package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/observer/parley/internal/domain"
	"github.com/observer/parley/internal/websocket"
)

// MessageHandler handles message endpoints
type MessageHandler struct {
	chats       ChatStore
	messages    MessageStore
	broadcaster websocket.RoomBroadcaster
	logger      *slog.Logger
	now         func() time.Time
}

func NewMessageHandler(chats ChatStore, messages MessageStore, broadcaster websocket.RoomBroadcaster, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		chats:       chats,
		messages:    messages,
		broadcaster: broadcaster,
		logger:      logger.With("component", "message-handler"),
		now:         time.Now,
	}
}

// SendMessageRequest posts a message to a chat
type SendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// EditMessageRequest replaces a message's content
type EditMessageRequest struct {
	Content string `json:"content"`
}

// ReadAllResponse reports a mark-all-as-read
type ReadAllResponse struct {
	ChatID  uuid.UUID `json:"chatId"`
	Updated int64     `json:"updated"`
}

// List godoc
//
//	@Summary		List messages
//	@Description	Chat history visible to the caller, oldest first. Hidden messages carry the caller in hiddenBy.
//	@Tags			message
//	@Produce		json
//	@Security		BearerAuth
//	@Param			chatId	path		string	true	"Chat ID"
//	@Success		200		{array}		domain.Message
//	@Failure		403		{object}	ErrorResponse	"Not a participant"
//	@Router			/api/chat/messages/{chatId} [get]
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	chatID, err := parseID(r.PathValue("chatId"), "chat id")
	if err != nil {
		handleError(h.logger, w, err)
		return
	}
	if err := h.requireParticipant(r.Context(), chatID, userID); err != nil {
		handleError(h.logger, w, err)
		return
	}

	messages, err := h.messages.ListForViewer(r.Context(), chatID, userID)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

// Send godoc
//
//	@Summary		Send a message
//	@Description	Stores the message and relays message_received to the chat room. One message per second per user.
//	@Description	A client that also emits message_send for the stored message is not relayed twice; the hub drops the second copy.
//	@Tags			message
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request		body		SendMessageRequest	true	"Message"
//	@Param			X-Socket-ID	header		string				false	"Caller's socket, skipped by the relay"
//	@Success		201			{object}	domain.Message
//	@Failure		400			{object}	ErrorResponse
//	@Failure		403			{object}	ErrorResponse	"Not a participant"
//	@Failure		429			{object}	ErrorResponse	"Sending too fast"
//	@Router			/api/chat/message [post]
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(h.logger, w, err)
		return
	}
	chatID, err := parseID(req.ChatID, "chatId")
	if err != nil {
		handleError(h.logger, w, err)
		return
	}
	content, err := domain.ValidateContent(req.Content)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	ctx := r.Context()
	if err := h.requireParticipant(ctx, chatID, userID); err != nil {
		handleError(h.logger, w, err)
		return
	}

	now := h.now()
	msg := &domain.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  userID,
		Content:   content,
		HiddenBy:  []uuid.UUID{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.messages.Create(ctx, msg); err != nil {
		handleError(h.logger, w, err)
		return
	}
	if err := h.chats.SetLastMessage(ctx, chatID, msg.ID); err != nil {
		handleError(h.logger, w, err)
		return
	}
	if err := h.chats.Reveal(ctx, chatID); err != nil {
		handleError(h.logger, w, err)
		return
	}

	stored, err := h.messages.GetByID(ctx, msg.ID)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	exclude := socketID(r)
	logBroadcast(h.logger, string(websocket.EventMessageReceived),
		h.broadcaster.BroadcastMessage(ctx, websocket.EventMessageReceived, stored, exclude))
	h.pushPreviews(ctx, chatID, exclude)

	writeJSON(w, http.StatusCreated, stored)
}

// Edit godoc
//
//	@Summary	Edit a message
//	@Tags		message
//	@Accept		json
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id		path		string				true	"Message ID"
//	@Param		request	body		EditMessageRequest	true	"New content"
//	@Success	200		{object}	domain.Message
//	@Failure	403		{object}	ErrorResponse	"Not the sender"
//	@Failure	409		{object}	ErrorResponse	"Message deleted"
//	@Router		/api/chat/message/edit/{id} [put]
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req EditMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(h.logger, w, err)
		return
	}

	ctx := r.Context()
	msg, err := h.loadMessage(ctx, r)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}
	if err := msg.Edit(userID, req.Content, h.now()); err != nil {
		handleError(h.logger, w, err)
		return
	}
	if err := h.messages.UpdateContent(ctx, msg); err != nil {
		handleError(h.logger, w, err)
		return
	}

	exclude := socketID(r)
	logBroadcast(h.logger, string(websocket.EventMessageEdited),
		h.broadcaster.BroadcastMessage(ctx, websocket.EventMessageEdited, msg, exclude))
	h.pushPreviews(ctx, msg.ChatID, exclude)

	writeJSON(w, http.StatusOK, msg)
}

// Hide godoc
//
//	@Summary		Hide a message for the caller
//	@Description	Idempotent; hiding twice leaves hiddenBy unchanged
//	@Tags			message
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Message ID"
//	@Success		200	{object}	domain.Message
//	@Failure		403	{object}	ErrorResponse	"Not a participant"
//	@Router			/api/chat/message/hide/{id} [put]
func (h *MessageHandler) Hide(w http.ResponseWriter, r *http.Request) {
	h.toggleHidden(w, r, true)
}

// Unhide godoc
//
//	@Summary		Unhide a message for the caller
//	@Description	No-op when the caller had not hidden it
//	@Tags			message
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Message ID"
//	@Success		200	{object}	domain.Message
//	@Failure		403	{object}	ErrorResponse	"Not a participant"
//	@Router			/api/chat/message/unhide/{id} [put]
func (h *MessageHandler) Unhide(w http.ResponseWriter, r *http.Request) {
	h.toggleHidden(w, r, false)
}

func (h *MessageHandler) toggleHidden(w http.ResponseWriter, r *http.Request, hide bool) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	msg, err := h.loadMessage(ctx, r)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}
	if err := h.requireParticipant(ctx, msg.ChatID, userID); err != nil {
		handleError(h.logger, w, err)
		return
	}

	event := websocket.EventMessageHidden
	var changed bool
	if hide {
		changed, err = h.messages.Hide(ctx, msg.ID, userID)
		msg.Hide(userID)
	} else {
		event = websocket.EventMessageUnhidden
		changed, err = h.messages.Unhide(ctx, msg.ID, userID)
		msg.Unhide(userID)
	}
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	if changed {
		exclude := socketID(r)
		logBroadcast(h.logger, string(event), h.broadcaster.BroadcastMessage(ctx, event, msg, exclude))
		h.pushPreviewToUser(ctx, msg.ChatID, userID, exclude)
	}

	writeJSON(w, http.StatusOK, msg)
}

// Delete godoc
//
//	@Summary		Delete a message
//	@Description	Sender only. The chat preview moves to the newest remaining message.
//	@Tags			message
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Message ID"
//	@Success		200	{object}	domain.Message
//	@Failure		403	{object}	ErrorResponse	"Not the sender"
//	@Failure		409	{object}	ErrorResponse	"Already deleted"
//	@Router			/api/chat/message/delete/{id} [put]
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	msg, err := h.loadMessage(ctx, r)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}
	if err := msg.Delete(userID, h.now()); err != nil {
		handleError(h.logger, w, err)
		return
	}
	if err := h.messages.MarkDeleted(ctx, msg); err != nil {
		handleError(h.logger, w, err)
		return
	}
	if err := h.chats.RecomputeLastMessage(ctx, msg.ChatID); err != nil {
		handleError(h.logger, w, err)
		return
	}

	exclude := socketID(r)
	logBroadcast(h.logger, string(websocket.EventMessageDeleted),
		h.broadcaster.BroadcastMessage(ctx, websocket.EventMessageDeleted, msg, exclude))
	h.pushPreviews(ctx, msg.ChatID, exclude)

	writeJSON(w, http.StatusOK, msg)
}

// ReadOne godoc
//
//	@Summary	Mark one message as read
//	@Tags		message
//	@Produce	json
//	@Security	BearerAuth
//	@Param		id	path		string	true	"Message ID"
//	@Success	200	{object}	domain.Message
//	@Failure	403	{object}	ErrorResponse	"Not a participant"
//	@Router		/api/chat/message/read/{id} [put]
func (h *MessageHandler) ReadOne(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	msg, err := h.loadMessage(ctx, r)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}
	if err := h.requireParticipant(ctx, msg.ChatID, userID); err != nil {
		handleError(h.logger, w, err)
		return
	}
	if err := h.messages.MarkRead(ctx, msg.ID); err != nil {
		handleError(h.logger, w, err)
		return
	}
	msg.IsRead = true

	logBroadcast(h.logger, string(websocket.EventMarkOneRead),
		h.broadcaster.BroadcastReadOne(ctx, msg.ChatID, msg.ID, socketID(r)))

	writeJSON(w, http.StatusOK, msg)
}

// ReadAll godoc
//
//	@Summary		Mark all messages as read
//	@Description	Marks every message in the chat not sent by the caller
//	@Tags			message
//	@Produce		json
//	@Security		BearerAuth
//	@Param			chatId	path		string	true	"Chat ID"
//	@Success		200		{object}	ReadAllResponse
//	@Failure		403		{object}	ErrorResponse	"Not a participant"
//	@Router			/api/chat/messages/read/{chatId} [put]
func (h *MessageHandler) ReadAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	chatID, err := parseID(r.PathValue("chatId"), "chat id")
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	ctx := r.Context()
	if err := h.requireParticipant(ctx, chatID, userID); err != nil {
		handleError(h.logger, w, err)
		return
	}

	updated, err := h.messages.MarkAllRead(ctx, chatID, userID)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	if updated > 0 {
		logBroadcast(h.logger, string(websocket.EventMarkAllRead),
			h.broadcaster.BroadcastReadAll(ctx, chatID, userID, socketID(r)))
	}

	writeJSON(w, http.StatusOK, ReadAllResponse{ChatID: chatID, Updated: updated})
}

func (h *MessageHandler) loadMessage(ctx context.Context, r *http.Request) (*domain.Message, error) {
	id, err := parseID(r.PathValue("id"), "message id")
	if err != nil {
		return nil, err
	}
	return h.messages.GetByID(ctx, id)
}

func (h *MessageHandler) requireParticipant(ctx context.Context, chatID, userID uuid.UUID) error {
	ok, err := h.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotParticipant
	}
	return nil
}

// pushPreviews sends every participant their own view of the chat; the
// preview depends on the viewer's hidden messages and delete watermark.
func (h *MessageHandler) pushPreviews(ctx context.Context, chatID uuid.UUID, exclude string) {
	participants, err := h.chats.Participants(ctx, chatID)
	if err != nil {
		logBroadcast(h.logger, string(websocket.EventChatLastMessageUpdate), err)
		return
	}
	for _, userID := range participants {
		h.pushPreviewToUser(ctx, chatID, userID, exclude)
	}
}

// pushPreviewToUser sends viewer's own preview to viewer's sockets only
func (h *MessageHandler) pushPreviewToUser(ctx context.Context, chatID, viewer uuid.UUID, exclude string) {
	chat, err := h.chats.GetByID(ctx, chatID, viewer)
	if err != nil {
		logBroadcast(h.logger, string(websocket.EventChatLastMessageUpdate), err)
		return
	}
	logBroadcast(h.logger, string(websocket.EventChatLastMessageUpdate),
		h.broadcaster.BroadcastChatUpdateToUser(ctx, viewer, chat, exclude))
}
