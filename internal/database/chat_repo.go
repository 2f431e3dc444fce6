package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/observer/parley/internal/domain"
)

// ChatRepository handles chats and their membership
type ChatRepository struct {
	db *DB
}

func NewChatRepository(db *DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// Create inserts a chat with its members
func (r *ChatRepository) Create(ctx context.Context, chat *domain.Chat, memberIDs []uuid.UUID) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO chats (id, name, is_group, admin_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, chat.ID, chat.Name, chat.IsGroup, chat.AdminID, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return err
	}

	for _, memberID := range memberIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO chat_members (chat_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, chat.ID, memberID)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetByID loads a chat with its participants and the preview message as
// seen by viewer.
func (r *ChatRepository) GetByID(ctx context.Context, id, viewer uuid.UUID) (*domain.Chat, error) {
	chat := &domain.Chat{}
	var lastID *uuid.UUID
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, name, is_group, admin_id, last_message_id, created_at, updated_at
		FROM chats WHERE id = $1
	`, id).Scan(&chat.ID, &chat.Name, &chat.IsGroup, &chat.AdminID, &lastID, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := r.fill(ctx, chat, lastID, viewer); err != nil {
		return nil, err
	}
	return chat, nil
}

// ListForUser returns the chats userID belongs to and has not hidden or
// deleted, most recently active first.
func (r *ChatRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Chat, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT c.id, c.name, c.is_group, c.admin_id, c.last_message_id, c.created_at, c.updated_at
		FROM chats c
		JOIN chat_members cm ON cm.chat_id = c.id
		WHERE cm.user_id = $1 AND NOT cm.hidden
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}

	chats := []domain.Chat{}
	lastIDs := []*uuid.UUID{}
	for rows.Next() {
		var c domain.Chat
		var lastID *uuid.UUID
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.AdminID, &lastID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		chats = append(chats, c)
		lastIDs = append(lastIDs, lastID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range chats {
		if err := r.fill(ctx, &chats[i], lastIDs[i], userID); err != nil {
			return nil, err
		}
	}
	return chats, nil
}

// fill loads participants and the viewer's preview message. lastID is the
// chat's last_message_id.
func (r *ChatRepository) fill(ctx context.Context, chat *domain.Chat, lastID *uuid.UUID, viewer uuid.UUID) error {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT u.id, u.username, u.avatar_url, u.last_online
		FROM chat_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.chat_id = $1
		ORDER BY cm.joined_at, u.username
	`, chat.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	chat.Participants = []domain.PublicUser{}
	for rows.Next() {
		var p domain.PublicUser
		if err := rows.Scan(&p.ID, &p.Username, &p.AvatarURL, &p.LastOnline); err != nil {
			return err
		}
		chat.Participants = append(chat.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var last *domain.Message
	if lastID != nil {
		last, err = scanMessage(r.db.Pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, *lastID))
		if err != nil && !errors.Is(err, domain.ErrMessageNotFound) {
			return err
		}
	}

	var watermark *time.Time
	err = r.db.Pool.QueryRow(ctx, `
		SELECT deleted_at FROM chat_members WHERE chat_id = $1 AND user_id = $2
	`, chat.ID, viewer).Scan(&watermark)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	chat.LastMessage, err = domain.ChatPreview(last, viewer, watermark, func() ([]domain.Message, error) {
		return listForViewer(ctx, r.db, chat.ID, viewer)
	})
	return err
}

// FindPrivate returns the one-to-one chat between a and b, as seen by a
func (r *ChatRepository) FindPrivate(ctx context.Context, a, b uuid.UUID) (*domain.Chat, error) {
	var id uuid.UUID
	err := r.db.Pool.QueryRow(ctx, `
		SELECT c.id FROM chats c
		JOIN chat_members m1 ON m1.chat_id = c.id AND m1.user_id = $1
		JOIN chat_members m2 ON m2.chat_id = c.id AND m2.user_id = $2
		WHERE NOT c.is_group
		ORDER BY c.created_at
		LIMIT 1
	`, a, b).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id, a)
}

// IsParticipant checks chat membership
func (r *ChatRepository) IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)
	`, chatID, userID).Scan(&exists)
	return exists, err
}

// Participants returns the member ids of a chat in join order
func (r *ChatRepository) Participants(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT user_id FROM chat_members WHERE chat_id = $1 ORDER BY joined_at, user_id
	`, chatID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, domain.ErrChatNotFound
	}
	return ids, nil
}

// Hide removes the chat from userID's list until a new message arrives
func (r *ChatRepository) Hide(ctx context.Context, chatID, userID uuid.UUID) error {
	return r.updateMember(ctx, `
		UPDATE chat_members SET hidden = TRUE WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID)
}

// Delete hides the chat for userID and moves their watermark to at, so the
// history up to that point is gone for them.
func (r *ChatRepository) Delete(ctx context.Context, chatID, userID uuid.UUID, at time.Time) error {
	return r.updateMember(ctx, `
		UPDATE chat_members SET hidden = TRUE, deleted_at = $3 WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID, at)
}

// Show puts the chat back into userID's list
func (r *ChatRepository) Show(ctx context.Context, chatID, userID uuid.UUID) error {
	return r.updateMember(ctx, `
		UPDATE chat_members SET hidden = FALSE WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID)
}

func (r *ChatRepository) updateMember(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotParticipant
	}
	return nil
}

// Reveal puts the chat back into every member's list
func (r *ChatRepository) Reveal(ctx context.Context, chatID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE chat_members SET hidden = FALSE WHERE chat_id = $1 AND hidden
	`, chatID)
	return err
}

// SetLastMessage points the chat at its newest message and bumps activity
func (r *ChatRepository) SetLastMessage(ctx context.Context, chatID, messageID uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE chats SET last_message_id = $2, updated_at = NOW() WHERE id = $1
	`, chatID, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChatNotFound
	}
	return nil
}

// RecomputeLastMessage repoints the chat at its newest non-deleted message,
// or at nothing when none is left.
func (r *ChatRepository) RecomputeLastMessage(ctx context.Context, chatID uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE chats SET last_message_id = (
			SELECT id FROM messages
			WHERE chat_id = $1 AND NOT is_deleted
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
		WHERE id = $1
	`, chatID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChatNotFound
	}
	return nil
}
