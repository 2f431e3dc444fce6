package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/observer/parley/internal/domain"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	stateTTL          = 10 * time.Minute
)

// GoogleUser represents user info returned from Google OAuth
type GoogleUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// OAuthService handles the Google sign-in flow
type OAuthService struct {
	config *oauth2.Config
	logger *slog.Logger

	// One-time state tokens with their expiry
	states   map[string]time.Time
	statesMu sync.Mutex
	now      func() time.Time
}

// NewOAuthService creates a new OAuth service
func NewOAuthService(clientID, clientSecret, redirectURL string, logger *slog.Logger) *OAuthService {
	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}

	return &OAuthService{
		config: config,
		logger: logger.With("component", "oauth"),
		states: make(map[string]time.Time),
		now:    time.Now,
	}
}

// AuthURL generates the Google authorization URL and its state
func (s *OAuthService) AuthURL() (string, string, error) {
	state, err := s.generateState()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	return s.config.AuthCodeURL(state), state, nil
}

// ValidateState consumes a state token. Each state is valid once.
func (s *OAuthService) ValidateState(state string) bool {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	expiresAt, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)

	return s.now().Before(expiresAt)
}

// ExchangeCode exchanges the authorization code for Google user info
func (s *OAuthService) ExchangeCode(ctx context.Context, code string) (*GoogleUser, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	client := s.config.Client(ctx, token)
	resp, err := client.Get(googleUserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		s.logger.Error("user info request failed", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("user info request failed: %s", resp.Status)
	}

	var user GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	s.logger.Info("fetched Google user info", "google_id", user.ID, "email", user.Email)
	return &user, nil
}

func (s *OAuthService) generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.URLEncoding.EncodeToString(b)

	s.statesMu.Lock()
	s.states[state] = s.now().Add(stateTTL)
	s.statesMu.Unlock()

	return state, nil
}

// Run drops expired states until ctx is cancelled
func (s *OAuthService) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepStates()
		}
	}
}

func (s *OAuthService) sweepStates() {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	now := s.now()
	for state, expiresAt := range s.states {
		if now.After(expiresAt) {
			delete(s.states, state)
		}
	}
}

// ============================================================================
// Google accounts
// ============================================================================

// SigninWithGoogle finds the user owning the verified Google email or
// creates a password-less account for it, then issues a session.
func (s *Service) SigninWithGoogle(ctx context.Context, g *GoogleUser) (*Session, error) {
	if !g.VerifiedEmail {
		return nil, fmt.Errorf("%w: google email is not verified", domain.ErrValidation)
	}
	email := strings.ToLower(g.Email)

	user, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return s.Issue(user)
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("find user: %w", err)
	}

	now := time.Now()
	user = &domain.User{
		ID:        uuid.New(),
		Username:  tempUsername(g.Name),
		Email:     email,
		AvatarURL: g.Picture,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user, ""); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.Issue(user)
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// tempUsername derives a unique-enough username from a display name
func tempUsername(name string) string {
	base := nonAlnum.ReplaceAllString(strings.ToLower(name), "")
	if len(base) > 20 {
		base = base[:20]
	}
	if len(base) < 3 || base[0] < 'a' {
		base = "user" + base
	}

	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return base + "_" + hex.EncodeToString(suffix)
}
