package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/observer/parley/internal/auth"
	"github.com/observer/parley/internal/domain"
	"github.com/observer/parley/internal/linkpreview"
	"github.com/observer/parley/internal/storage"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

// SocketIDHeader names the caller's websocket so realtime echoes skip it
const SocketIDHeader = "X-Socket-ID"

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// handleError maps domain errors to HTTP status codes. Unknown errors are
// logged and reported as 500 without detail.
func handleError(logger *slog.Logger, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrMessageTooLong),
		errors.Is(err, domain.ErrGroupTooSmall),
		errors.Is(err, domain.ErrGroupNameNeeded),
		errors.Is(err, domain.ErrSelfChat),
		errors.Is(err, storage.ErrUnsupportedType),
		errors.Is(err, linkpreview.ErrInvalidURL),
		errors.Is(err, linkpreview.ErrNotHTML),
		errors.Is(err, linkpreview.ErrForbidden):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, domain.ErrTokenInvalid),
		errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrNotParticipant),
		errors.Is(err, domain.ErrNotSender):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrChatNotFound),
		errors.Is(err, domain.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrEmailTaken),
		errors.Is(err, domain.ErrUsernameTaken),
		errors.Is(err, domain.ErrMessageDeleted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON reads a size-capped JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}
	return nil
}

// parseID parses a path or body id
func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", domain.ErrValidation, what)
	}
	return id, nil
}

// socketID returns the caller's own socket id, if sent
func socketID(r *http.Request) string {
	return r.Header.Get(SocketIDHeader)
}

// currentUser reads the authenticated user id. Routes using it sit behind
// auth.Middleware, so a miss is a wiring error reported as 401.
func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
	return userID, ok
}
