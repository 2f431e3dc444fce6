package domain

import (
	"time"

	"github.com/google/uuid"
)

// Chat is either a private (one-to-one) chat or a named group chat
type Chat struct {
	ID           uuid.UUID    `json:"_id"`
	Name         string       `json:"name,omitempty"` // only for groups
	IsGroup      bool         `json:"isGroup"`
	AdminID      *uuid.UUID   `json:"admin,omitempty"`
	Participants []PublicUser `json:"participants"`
	LastMessage  *Message     `json:"lastMessage"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// HasParticipant reports whether userID takes part in the chat
func (c *Chat) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the ids of all participants
func (c *Chat) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// Collocutor returns the other participant of a private chat, or nil for
// groups and chats the viewer is not part of.
func (c *Chat) Collocutor(viewer uuid.UUID) *PublicUser {
	if c.IsGroup || !c.HasParticipant(viewer) {
		return nil
	}
	for i := range c.Participants {
		if c.Participants[i].ID != viewer {
			return &c.Participants[i]
		}
	}
	return nil
}
