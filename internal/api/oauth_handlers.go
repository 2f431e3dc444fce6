package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/observer/parley/internal/auth"
)

// GoogleFlow runs the OAuth2 code exchange
type GoogleFlow interface {
	AuthURL() (string, string, error)
	ValidateState(state string) bool
	ExchangeCode(ctx context.Context, code string) (*auth.GoogleUser, error)
}

// GoogleAccounts turns a Google identity into a session
type GoogleAccounts interface {
	SigninWithGoogle(ctx context.Context, g *auth.GoogleUser) (*auth.Session, error)
}

// OAuthHandlers handles the Google sign-in endpoints
type OAuthHandlers struct {
	flow       GoogleFlow
	accounts   GoogleAccounts
	appBaseURL string
	logger     *slog.Logger
}

// NewOAuthHandlers creates a new OAuth handlers instance
func NewOAuthHandlers(flow GoogleFlow, accounts GoogleAccounts, appBaseURL string, logger *slog.Logger) *OAuthHandlers {
	return &OAuthHandlers{
		flow:       flow,
		accounts:   accounts,
		appBaseURL: appBaseURL,
		logger:     logger.With("component", "oauth-handlers"),
	}
}

// GoogleLogin godoc
//
//	@Summary	Start Google sign-in
//	@Tags		user
//	@Success	307
//	@Router		/api/user/google/login [get]
func (h *OAuthHandlers) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, _, err := h.flow.AuthURL()
	if err != nil {
		h.logger.Error("failed to generate auth URL", "error", err)
		h.redirectWithError(w, r, "Failed to initiate login")
		return
	}

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// GoogleCallback godoc
//
//	@Summary		Finish Google sign-in
//	@Description	Redirects to the app with the session token in the url fragment
//	@Tags			user
//	@Param			state	query	string	true	"OAuth state"
//	@Param			code	query	string	true	"Authorization code"
//	@Success		307
//	@Router			/api/user/google/callback [get]
func (h *OAuthHandlers) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Warn("OAuth error from Google", "error", errParam)
		h.redirectWithError(w, r, "Authentication cancelled")
		return
	}

	if !h.flow.ValidateState(query.Get("state")) {
		h.logger.Warn("invalid OAuth state")
		h.redirectWithError(w, r, "Invalid authentication state")
		return
	}

	code := query.Get("code")
	if code == "" {
		h.redirectWithError(w, r, "Missing authorization code")
		return
	}

	googleUser, err := h.flow.ExchangeCode(r.Context(), code)
	if err != nil {
		h.logger.Error("failed to exchange code", "error", err)
		h.redirectWithError(w, r, "Failed to authenticate with Google")
		return
	}

	session, err := h.accounts.SigninWithGoogle(r.Context(), googleUser)
	if err != nil {
		h.logger.Error("google sign-in failed", "error", err)
		h.redirectWithError(w, r, "Failed to sign in with Google")
		return
	}

	h.logger.Info("OAuth login successful", "user_id", session.User.ID)

	fragment := url.Values{
		"token":     {session.Token},
		"expiresAt": {strconv.FormatInt(session.ExpiresAt.Unix(), 10)},
	}
	http.Redirect(w, r, h.appBaseURL+"/#"+fragment.Encode(), http.StatusTemporaryRedirect)
}

// redirectWithError redirects to the frontend with an error message
func (h *OAuthHandlers) redirectWithError(w http.ResponseWriter, r *http.Request, message string) {
	fragment := url.Values{"oauth_error": {message}}
	http.Redirect(w, r, h.appBaseURL+"/#"+fragment.Encode(), http.StatusTemporaryRedirect)
}
