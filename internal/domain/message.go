package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeletedPlaceholder replaces the content of a deleted message
const DeletedPlaceholder = "This message was deleted"

// MaxContentLength bounds the size of a message body
const MaxContentLength = 10000

// Message represents a chat message.
//
// Lifecycle: active -> edited* -> hidden-for-viewer* -> deleted. Edit and
// Delete belong to the sender; hiding is per viewer and reversible; deletion
// is terminal.
type Message struct {
	ID        uuid.UUID   `json:"_id"`
	ChatID    uuid.UUID   `json:"chat"`
	SenderID  uuid.UUID   `json:"senderId"`
	Content   string      `json:"content"`
	IsRead    bool        `json:"isRead"`
	IsEdited  bool        `json:"isEdited"`
	IsDeleted bool        `json:"isDeleted"`
	HiddenBy  []uuid.UUID `json:"hiddenBy"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`

	// Populated on fetch
	Sender *PublicUser `json:"sender,omitempty"`
}

// ValidateContent trims and checks a message body
func ValidateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyMessage
	}
	if len(content) > MaxContentLength {
		return "", ErrMessageTooLong
	}
	return content, nil
}

// Edit replaces the content. Only the sender may edit, and never after deletion.
func (m *Message) Edit(actor uuid.UUID, content string, now time.Time) error {
	if m.IsDeleted {
		return ErrMessageDeleted
	}
	if m.SenderID != actor {
		return ErrNotSender
	}
	content, err := ValidateContent(content)
	if err != nil {
		return err
	}
	m.Content = content
	m.IsEdited = true
	m.UpdatedAt = now
	return nil
}

// HiddenFor reports whether viewer has hidden the message
func (m *Message) HiddenFor(viewer uuid.UUID) bool {
	return slices.Contains(m.HiddenBy, viewer)
}

// VisibleTo reports whether the message shows up in viewer's history.
// Deleted messages stay visible as a placeholder.
func (m *Message) VisibleTo(viewer uuid.UUID) bool {
	return !m.HiddenFor(viewer)
}

// Hide adds viewer to HiddenBy. It returns false when already hidden.
func (m *Message) Hide(viewer uuid.UUID) bool {
	if m.HiddenFor(viewer) {
		return false
	}
	m.HiddenBy = append(m.HiddenBy, viewer)
	return true
}

// Unhide removes viewer from HiddenBy. It returns false when it was not hidden.
func (m *Message) Unhide(viewer uuid.UUID) bool {
	i := slices.Index(m.HiddenBy, viewer)
	if i < 0 {
		return false
	}
	m.HiddenBy = slices.Delete(m.HiddenBy, i, i+1)
	return true
}

// Delete marks the message deleted and drops its content
func (m *Message) Delete(actor uuid.UUID, now time.Time) error {
	if m.SenderID != actor {
		return ErrNotSender
	}
	if m.IsDeleted {
		return ErrMessageDeleted
	}
	m.IsDeleted = true
	m.Content = DeletedPlaceholder
	m.UpdatedAt = now
	return nil
}

// LatestVisible picks the chat preview: the newest message that is not
// deleted and, when viewer is non-nil, not hidden by that viewer.
func LatestVisible(messages []Message, viewer *uuid.UUID) *Message {
	var latest *Message
	for i := range messages {
		m := &messages[i]
		if m.IsDeleted {
			continue
		}
		if viewer != nil && m.HiddenFor(*viewer) {
			continue
		}
		if latest == nil || m.CreatedAt.After(latest.CreatedAt) {
			latest = m
		}
	}
	return latest
}

// ChatPreview picks viewer's preview for a chat.
//
// last is the chat's last message pointer: the newest non-deleted message,
// nil when there is none. When viewer can see it, it is the answer. Otherwise
// the preview falls back to LatestVisible over history, which must return
// viewer's messages newer than their watermark and is only called then.
func ChatPreview(last *Message, viewer uuid.UUID, watermark *time.Time, history func() ([]Message, error)) (*Message, error) {
	if last == nil {
		return nil, nil
	}
	if !last.IsDeleted && !last.HiddenFor(viewer) && (watermark == nil || last.CreatedAt.After(*watermark)) {
		return last, nil
	}

	messages, err := history()
	if err != nil {
		return nil, err
	}
	return LatestVisible(messages, &viewer), nil
}
