package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered user
type User struct {
	ID         uuid.UUID  `json:"_id"`
	Username   string     `json:"username"`
	Email      string     `json:"email,omitempty"` // omit in public responses
	AvatarURL  string     `json:"avatar,omitempty"`
	LastOnline *time.Time `json:"lastOnline,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// PublicUser is the safe-to-expose version of User
type PublicUser struct {
	ID         uuid.UUID  `json:"_id"`
	Username   string     `json:"username"`
	AvatarURL  string     `json:"avatar,omitempty"`
	LastOnline *time.Time `json:"lastOnline,omitempty"`
}

func (u *User) ToPublic() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Username:   u.Username,
		AvatarURL:  u.AvatarURL,
		LastOnline: u.LastOnline,
	}
}
