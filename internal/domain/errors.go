package domain

import "errors"

// Domain errors - use these for consistent error handling
var (
	// ErrValidation wraps every malformed-input error
	ErrValidation = errors.New("validation failed")

	// Auth errors
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrTokenInvalid       = errors.New("invalid token")

	// Chat errors
	ErrChatNotFound    = errors.New("chat not found")
	ErrNotParticipant  = errors.New("user is not a participant of this chat")
	ErrGroupTooSmall   = errors.New("a group chat needs at least 2 other users")
	ErrSelfChat        = errors.New("cannot open a private chat with yourself")
	ErrGroupNameNeeded = errors.New("group name is required")

	// Message errors
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyMessage    = errors.New("message cannot be empty")
	ErrMessageTooLong  = errors.New("message exceeds 10000 characters")
	ErrNotSender       = errors.New("only the sender can change this message")
	ErrMessageDeleted  = errors.New("message has been deleted")

	// Throttle errors
	ErrRateLimited = errors.New("sending messages too fast")
)
