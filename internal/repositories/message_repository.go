package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"voxa-chat/internal/models"
	"voxa-chat/internal/realtime"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrMuted           = errors.New("user is muted")
	ErrNotMember       = errors.New("user is not a member of the room")
)

// MessageRepository defines persistence for room messages.
type MessageRepository interface {
	realtime.MessageStore
	ListRecentWithRooms(ctx context.Context, limit int) ([]models.AdminMessage, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, room_id, user_id, content, image_url, created_at`

// Append stores a message. The insert only happens when the author is not
// muted and, for private rooms, is a member.
func (r *MessageRepo) Append(ctx context.Context, key realtime.RoomKey, authorID uuid.UUID, body string, imageURL *string) (models.Message, error) {
	query := `INSERT INTO messages (room_id, user_id, content, image_url)
        SELECT $1::uuid, $2::uuid, $3::text, $4::text
        WHERE NOT EXISTS (SELECT 1 FROM muted_users WHERE user_id = $2::uuid)
        AND ($5::boolean OR EXISTS (SELECT 1 FROM room_members WHERE room_id = $1::uuid AND user_id = $2::uuid))
        RETURNING ` + messageColumns

	var msg models.Message
	err := r.db.QueryRowxContext(ctx, query, key.RoomID(), authorID, body, imageURL, key.IsGlobal()).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, r.rejection(ctx, authorID)
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (r *MessageRepo) rejection(ctx context.Context, authorID uuid.UUID) error {
	var muted bool
	if err := r.db.GetContext(ctx, &muted, `SELECT EXISTS(SELECT 1 FROM muted_users WHERE user_id = $1)`, authorID); err != nil {
		return fmt.Errorf("check mute: %w", err)
	}
	if muted {
		return ErrMuted
	}
	return ErrNotMember
}

// FetchRecent returns the latest limit messages of a room in ascending order.
func (r *MessageRepo) FetchRecent(ctx context.Context, key realtime.RoomKey, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM (
            SELECT ` + messageColumns + ` FROM messages
            WHERE room_id = $1
            ORDER BY created_at DESC, id DESC
            LIMIT $2
        ) recent
        ORDER BY created_at ASC, id ASC`
	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, query, key.RoomID(), limit); err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	return msgs, nil
}

// Delete removes a message for everyone.
func (r *MessageRepo) Delete(ctx context.Context, messageID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListRecentWithRooms returns the newest messages across rooms for moderation.
func (r *MessageRepo) ListRecentWithRooms(ctx context.Context, limit int) ([]models.AdminMessage, error) {
	query := `SELECT m.id, m.room_id, m.user_id, m.content, m.image_url, m.created_at,
            COALESCE(p.username, '') AS username, r.name AS room_name
        FROM messages m
        JOIN rooms r ON r.id = m.room_id
        LEFT JOIN profiles p ON p.id = m.user_id
        ORDER BY m.created_at DESC
        LIMIT $1`
	msgs := []models.AdminMessage{}
	if err := r.db.SelectContext(ctx, &msgs, query, limit); err != nil {
		return nil, fmt.Errorf("select admin messages: %w", err)
	}
	for i := range msgs {
		msgs[i].AuthorName = msgs[i].Username
	}
	return msgs, nil
}
