package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"voxa-chat/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

const (
	uniqueViolation   = "23505"
	joinCodeAttempts  = 5
	roomColumns       = `id, name, is_private, code, created_by, created_at`
	defaultRoomPrefix = "Room "
)

// RoomRepository abstracts room and membership persistence.
type RoomRepository interface {
	CreatePrivateRoom(ctx context.Context, name string, creatorID uuid.UUID) (models.Room, error)
	GetByJoinCode(ctx context.Context, code string) (models.Room, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error)
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	EnsureMember(ctx context.Context, roomID, userID uuid.UUID) error
	ListMembers(ctx context.Context, roomID uuid.UUID) ([]models.Membership, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// CreatePrivateRoom creates a room with a fresh join code and makes the
// creator its first member.
func (r *RoomRepo) CreatePrivateRoom(ctx context.Context, name string, creatorID uuid.UUID) (models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultRoomPrefix + creatorID.String()[:8]
	}

	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		code, err := NewJoinCode()
		if err != nil {
			return models.Room{}, fmt.Errorf("generate join code: %w", err)
		}
		room, err := r.createWithCode(ctx, name, code, creatorID)
		if isUniqueViolation(err) {
			continue
		}
		return room, err
	}
	return models.Room{}, fmt.Errorf("create room: no free join code after %d attempts", joinCodeAttempts)
}

func (r *RoomRepo) createWithCode(ctx context.Context, name, code string, creatorID uuid.UUID) (models.Room, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var room models.Room
	if err := tx.QueryRowxContext(ctx, `INSERT INTO rooms (name, is_private, code, created_by) VALUES ($1, TRUE, $2, $3) RETURNING `+roomColumns,
		name, code, creatorID).StructScan(&room); err != nil {
		return models.Room{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, room.ID, creatorID); err != nil {
		return models.Room{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// GetByJoinCode finds a private room by its normalized code.
func (r *RoomRepo) GetByJoinCode(ctx context.Context, code string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE code = $1 AND is_private`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// ListForUser returns the global room followed by the user's private rooms.
func (r *RoomRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	query := `SELECT r.id, r.name, r.is_private, r.code, r.created_by, r.created_at
        FROM rooms r
        WHERE NOT r.is_private
        OR EXISTS (SELECT 1 FROM room_members rm WHERE rm.room_id = r.id AND rm.user_id = $1)
        ORDER BY r.is_private, r.created_at`
	rooms := []models.Room{}
	err := r.db.SelectContext(ctx, &rooms, query, userID)
	return rooms, err
}

// IsMember checks whether a user belongs to the room.
func (r *RoomRepo) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`, roomID, userID)
	return exists, err
}

// EnsureMember adds the membership if it is missing. A concurrent insert of
// the same membership counts as success.
func (r *RoomRepo) EnsureMember(ctx context.Context, roomID, userID uuid.UUID) error {
	member, err := r.IsMember(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if member {
		return nil
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, roomID, userID)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// ListMembers returns a room's memberships, earliest join first.
func (r *RoomRepo) ListMembers(ctx context.Context, roomID uuid.UUID) ([]models.Membership, error) {
	var members []models.Membership
	err := r.db.SelectContext(ctx, &members, `SELECT room_id, user_id, joined_at FROM room_members
        WHERE room_id = $1 ORDER BY joined_at, user_id`, roomID)
	return members, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
