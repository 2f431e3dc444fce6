package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

// UserHandler handles user-related endpoints
type UserHandler struct {
	users   UserStore
	avatars AvatarStorage
	logger  *slog.Logger
}

// NewUserHandler creates the handler. avatars may be nil when no bucket is
// configured; avatar uploads then answer 503.
func NewUserHandler(users UserStore, avatars AvatarStorage, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:   users,
		avatars: avatars,
		logger:  logger.With("component", "user-handler"),
	}
}

// Search godoc
//
//	@Summary		Search users
//	@Description	Find users by username or email, excluding the caller
//	@Tags			user
//	@Produce		json
//	@Security		BearerAuth
//	@Param			search	query		string	false	"Search text"
//	@Param			limit	query		int		false	"Max results (1-50)"
//	@Success		200		{array}		domain.PublicUser
//	@Failure		401		{object}	ErrorResponse
//	@Router			/api/user [get]
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit := defaultSearchLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxSearchLimit {
		limit = l
	}

	query := strings.TrimSpace(r.URL.Query().Get("search"))
	users, err := h.users.Search(r.Context(), query, userID, limit)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, users)
}

// AvatarRequest asks for an avatar upload slot
type AvatarRequest struct {
	ContentType string `json:"contentType"`
}

// Avatar godoc
//
//	@Summary		Upload a new avatar
//	@Description	Returns a presigned PUT url and points the caller's avatar at the new object
//	@Tags			user
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		AvatarRequest	true	"Image content type"
//	@Success		200		{object}	storage.AvatarUpload
//	@Failure		400		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse	"Storage not configured"
//	@Router			/api/user/avatar [put]
func (h *UserHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.avatars == nil {
		writeError(w, http.StatusServiceUnavailable, "avatar storage is not configured")
		return
	}

	var req AvatarRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(h.logger, w, err)
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	upload, err := h.avatars.PresignAvatarUpload(r.Context(), userID, req.ContentType)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	if err := h.users.UpdateAvatar(r.Context(), userID, upload.AvatarURL); err != nil {
		handleError(h.logger, w, err)
		return
	}

	if key, ok := h.avatars.KeyFromURL(user.AvatarURL); ok {
		h.removeObject(r.Context(), key)
	}

	writeJSON(w, http.StatusOK, upload)
}

// removeObject drops a replaced avatar. Failures only leave an orphan.
func (h *UserHandler) removeObject(ctx context.Context, key string) {
	if err := h.avatars.DeleteObject(ctx, key); err != nil {
		h.logger.Warn("failed to delete old avatar", "key", key, "error", err)
	}
}
