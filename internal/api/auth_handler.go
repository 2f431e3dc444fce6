package api

import (
	"log/slog"
	"net/http"

	"github.com/observer/parley/internal/auth"
)

// AuthHandler handles signup and signin
type AuthHandler struct {
	auth   AccountService
	logger *slog.Logger
}

func NewAuthHandler(accounts AccountService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   accounts,
		logger: logger.With("component", "auth-handler"),
	}
}

// Signup godoc
//
//	@Summary		Register a new user
//	@Description	Create an account with username, email and password and return a session token
//	@Tags			user
//	@Accept			json
//	@Produce		json
//	@Param			request	body		auth.SignupInput	true	"Registration details"
//	@Success		201		{object}	auth.Session
//	@Failure		400		{object}	ErrorResponse	"Invalid input"
//	@Failure		409		{object}	ErrorResponse	"Username or email already exists"
//	@Router			/api/user/signup [post]
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var input auth.SignupInput
	if err := decodeJSON(w, r, &input); err != nil {
		handleError(h.logger, w, err)
		return
	}

	session, err := h.auth.Signup(r.Context(), input)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	h.logger.Info("user signed up", "user_id", session.User.ID)
	writeJSON(w, http.StatusCreated, session)
}

// Signin godoc
//
//	@Summary		Sign in
//	@Description	Authenticate with email and password
//	@Tags			user
//	@Accept			json
//	@Produce		json
//	@Param			request	body		auth.SigninInput	true	"Credentials"
//	@Success		200		{object}	auth.Session
//	@Failure		400		{object}	ErrorResponse	"Invalid input"
//	@Failure		401		{object}	ErrorResponse	"Invalid credentials"
//	@Router			/api/user/signin [post]
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var input auth.SigninInput
	if err := decodeJSON(w, r, &input); err != nil {
		handleError(h.logger, w, err)
		return
	}

	session, err := h.auth.Signin(r.Context(), input)
	if err != nil {
		handleError(h.logger, w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}
