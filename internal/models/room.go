package models

import (
	"time"

	"github.com/google/uuid"
)

// Room is either the global room or a private, code-gated room.
type Room struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	IsPrivate bool       `db:"is_private" json:"is_private"`
	JoinCode  *string    `db:"code" json:"code,omitempty"`
	CreatedBy *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Membership links a user to a room.
type Membership struct {
	RoomID   uuid.UUID `db:"room_id" json:"room_id"`
	UserID   uuid.UUID `db:"user_id" json:"user_id"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}
