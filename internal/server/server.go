package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/observer/parley/docs" // registers the OpenAPI spec with swag
	"github.com/observer/parley/internal/api"
	"github.com/observer/parley/internal/auth"
	"github.com/observer/parley/internal/config"
	"github.com/observer/parley/internal/middleware"
	"github.com/observer/parley/internal/throttle"
)

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies holds all service dependencies for the server
type Dependencies struct {
	DB            HealthChecker
	Authenticator auth.Authenticator
	Guard         *throttle.Guard

	AuthHandler        *api.AuthHandler
	OAuthHandlers      *api.OAuthHandlers // nil when Google sign-in is off
	UserHandler        *api.UserHandler
	ChatHandler        *api.ChatHandler
	MessageHandler     *api.MessageHandler
	LinkPreviewHandler *api.LinkPreviewHandler
	WSHandler          http.Handler

	Logger *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	return &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     NewHandler(cfg, deps),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays unset: it would cut hijacked websocket connections
		IdleTimeout: 60 * time.Second,
	}
}

// NewHandler builds the routed and wrapped handler
func NewHandler(cfg *config.Config, deps *Dependencies) http.Handler {
	mux := http.NewServeMux()
	registerRoutes(mux, deps)

	return chainMiddleware(mux,
		requestIDMiddleware,
		corsMiddleware(cfg),
		loggingMiddleware(deps.Logger),
		recoverMiddleware(deps.Logger),
	)
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Health check - essential for docker, k8s, load balancers
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, `{"status":"ok"}`)
	})

	// Ready check - verifies DB connectivity
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.DB.Health(r.Context()); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, `{"status":"not ready","error":"database unavailable"}`)
			return
		}
		writeStatus(w, http.StatusOK, `{"status":"ready"}`)
	})

	mux.Handle("GET /swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// =========================================================================
	// User routes
	// =========================================================================
	mux.HandleFunc("POST /api/user/signup", deps.AuthHandler.Signup)
	mux.HandleFunc("POST /api/user/signin", deps.AuthHandler.Signin)
	if deps.OAuthHandlers != nil {
		mux.HandleFunc("GET /api/user/google/login", deps.OAuthHandlers.GoogleLogin)
		mux.HandleFunc("GET /api/user/google/callback", deps.OAuthHandlers.GoogleCallback)
	}

	protected := auth.Middleware(deps.Authenticator)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, protected(h))
	}

	handle("GET /api/user", deps.UserHandler.Search)
	handle("PUT /api/user/avatar", deps.UserHandler.Avatar)

	// =========================================================================
	// Chat routes
	// =========================================================================
	handle("GET /api/chat", deps.ChatHandler.List)
	handle("POST /api/chat", deps.ChatHandler.Access)
	handle("GET /api/chat/{id}", deps.ChatHandler.Get)
	handle("POST /api/chat/group", deps.ChatHandler.CreateGroup)
	handle("PUT /api/chat/hide", deps.ChatHandler.Hide)
	handle("PUT /api/chat/delete", deps.ChatHandler.Delete)

	// =========================================================================
	// Message routes
	// =========================================================================
	send := middleware.Throttle(deps.Guard)(http.HandlerFunc(deps.MessageHandler.Send))
	mux.Handle("POST /api/chat/message", protected(send))

	handle("GET /api/chat/messages/{chatId}", deps.MessageHandler.List)
	handle("PUT /api/chat/message/edit/{id}", deps.MessageHandler.Edit)
	handle("PUT /api/chat/message/hide/{id}", deps.MessageHandler.Hide)
	handle("PUT /api/chat/message/unhide/{id}", deps.MessageHandler.Unhide)
	handle("PUT /api/chat/message/delete/{id}", deps.MessageHandler.Delete)
	handle("PUT /api/chat/message/read/{id}", deps.MessageHandler.ReadOne)
	handle("PUT /api/chat/messages/read/{chatId}", deps.MessageHandler.ReadAll)

	handle("GET /api/link-preview", deps.LinkPreviewHandler.Preview)

	// =========================================================================
	// WebSocket route
	// =========================================================================
	mux.Handle("GET /ws", deps.WSHandler)
}

func writeStatus(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
