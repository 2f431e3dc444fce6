package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/observer/parley/internal/auth"
	"github.com/observer/parley/internal/domain"
	"github.com/observer/parley/internal/linkpreview"
	"github.com/observer/parley/internal/storage"
)

// AccountService signs users up and in
type AccountService interface {
	Signup(ctx context.Context, input auth.SignupInput) (*auth.Session, error)
	Signin(ctx context.Context, input auth.SigninInput) (*auth.Session, error)
}

// UserStore is the user persistence the handlers need
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	Search(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]domain.PublicUser, error)
	UpdateAvatar(ctx context.Context, userID uuid.UUID, avatarURL string) error
}

// ChatStore is the chat persistence the handlers need
type ChatStore interface {
	Create(ctx context.Context, chat *domain.Chat, memberIDs []uuid.UUID) error
	GetByID(ctx context.Context, id, viewer uuid.UUID) (*domain.Chat, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Chat, error)
	FindPrivate(ctx context.Context, a, b uuid.UUID) (*domain.Chat, error)
	IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
	Participants(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error)
	Hide(ctx context.Context, chatID, userID uuid.UUID) error
	Delete(ctx context.Context, chatID, userID uuid.UUID, at time.Time) error
	Show(ctx context.Context, chatID, userID uuid.UUID) error
	Reveal(ctx context.Context, chatID uuid.UUID) error
	SetLastMessage(ctx context.Context, chatID, messageID uuid.UUID) error
	RecomputeLastMessage(ctx context.Context, chatID uuid.UUID) error
}

// MessageStore is the message persistence the handlers need
type MessageStore interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	ListForViewer(ctx context.Context, chatID, viewer uuid.UUID) ([]domain.Message, error)
	UpdateContent(ctx context.Context, msg *domain.Message) error
	MarkDeleted(ctx context.Context, msg *domain.Message) error
	Hide(ctx context.Context, messageID, userID uuid.UUID) (bool, error)
	Unhide(ctx context.Context, messageID, userID uuid.UUID) (bool, error)
	MarkRead(ctx context.Context, messageID uuid.UUID) error
	MarkAllRead(ctx context.Context, chatID, readerID uuid.UUID) (int64, error)
}

// AvatarStorage presigns avatar uploads
type AvatarStorage interface {
	PresignAvatarUpload(ctx context.Context, userID uuid.UUID, contentType string) (*storage.AvatarUpload, error)
	KeyFromURL(url string) (string, bool)
	DeleteObject(ctx context.Context, objectKey string) error
}

// PreviewFetcher builds link previews
type PreviewFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*linkpreview.Preview, error)
}
