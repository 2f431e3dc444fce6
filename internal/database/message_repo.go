package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/observer/parley/internal/domain"
)

// messageSelect loads a message with its sender and the set of users that
// hid it. Callers append the WHERE clause.
const messageSelect = `
	SELECT m.id, m.chat_id, m.sender_id, m.content,
	       m.is_read, m.is_edited, m.is_deleted, m.created_at, m.updated_at,
	       u.username, u.avatar_url, u.last_online,
	       COALESCE((
	           SELECT array_agg(h.user_id::text ORDER BY h.hidden_at)
	           FROM message_hidden h WHERE h.message_id = m.id
	       ), '{}')
	FROM messages m
	JOIN users u ON u.id = m.sender_id
`

// watermarkClause keeps messages newer than the viewer's chat-delete
// watermark. $1 is the chat id and $2 the viewer.
const watermarkClause = `
	m.created_at > COALESCE(
	    (SELECT cm.deleted_at FROM chat_members cm WHERE cm.chat_id = $1 AND cm.user_id = $2),
	    '-infinity'::timestamptz)
`

// MessageRepository handles message data access
type MessageRepository struct {
	db *DB
}

func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	msg := &domain.Message{}
	sender := &domain.PublicUser{}
	var hiddenBy []string
	err := row.Scan(
		&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content,
		&msg.IsRead, &msg.IsEdited, &msg.IsDeleted, &msg.CreatedAt, &msg.UpdatedAt,
		&sender.Username, &sender.AvatarURL, &sender.LastOnline,
		&hiddenBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	sender.ID = msg.SenderID
	msg.Sender = sender
	msg.HiddenBy = make([]uuid.UUID, 0, len(hiddenBy))
	for _, s := range hiddenBy {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse hidden_by %q: %w", s, err)
		}
		msg.HiddenBy = append(msg.HiddenBy, id)
	}
	return msg, nil
}

// Create stores a new message
func (r *MessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.CreatedAt, msg.UpdatedAt)
	return err
}

// GetByID loads one message
func (r *MessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return scanMessage(r.db.Pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, id))
}

// ListForViewer returns the chat history as seen by viewer, oldest first.
// Messages at or before the viewer's chat-delete watermark are left out;
// hidden ones are kept and carry hiddenBy so the client can filter.
func (r *MessageRepository) ListForViewer(ctx context.Context, chatID, viewer uuid.UUID) ([]domain.Message, error) {
	return listForViewer(ctx, r.db, chatID, viewer)
}

func listForViewer(ctx context.Context, db *DB, chatID, viewer uuid.UUID) ([]domain.Message, error) {
	rows, err := db.Pool.Query(ctx,
		messageSelect+` WHERE m.chat_id = $1 AND `+watermarkClause+` ORDER BY m.created_at ASC, m.id ASC`,
		chatID, viewer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// UpdateContent persists an edit
func (r *MessageRepository) UpdateContent(ctx context.Context, msg *domain.Message) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE messages SET content = $2, is_edited = $3, updated_at = $4
		WHERE id = $1 AND NOT is_deleted
	`, msg.ID, msg.Content, msg.IsEdited, msg.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageDeleted
	}
	return nil
}

// MarkDeleted persists a deletion. Deleting twice reports ErrMessageDeleted.
func (r *MessageRepository) MarkDeleted(ctx context.Context, msg *domain.Message) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE messages SET is_deleted = TRUE, content = $2, updated_at = $3
		WHERE id = $1 AND NOT is_deleted
	`, msg.ID, domain.DeletedPlaceholder, msg.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageDeleted
	}
	return nil
}

// Hide adds userID to the message's hidden set. It reports false when the
// user had already hidden it.
func (r *MessageRepository) Hide(ctx context.Context, messageID, userID uuid.UUID) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		INSERT INTO message_hidden (message_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, messageID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Unhide removes userID from the hidden set. It reports false when the
// message was not hidden by that user.
func (r *MessageRepository) Unhide(ctx context.Context, messageID, userID uuid.UUID) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM message_hidden WHERE message_id = $1 AND user_id = $2
	`, messageID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRead flags one message as read
func (r *MessageRepository) MarkRead(ctx context.Context, messageID uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE WHERE id = $1
	`, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// MarkAllRead flags every message in the chat that reader did not send.
// It returns how many messages changed.
func (r *MessageRepository) MarkAllRead(ctx context.Context, chatID, readerID uuid.UUID) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE chat_id = $1 AND sender_id <> $2 AND NOT is_read
	`, chatID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
