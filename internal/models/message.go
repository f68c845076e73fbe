package models

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Message is a persisted chat message in a room.
type Message struct {
	ID         uuid.UUID `db:"id" json:"id"`
	RoomID     uuid.UUID `db:"room_id" json:"room_id"`
	AuthorID   uuid.UUID `db:"user_id" json:"user_id"`
	AuthorName string    `db:"-" json:"author_name,omitempty"`
	Body       string    `db:"content" json:"content"`
	ImageURL   *string   `db:"image_url" json:"image_url,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Before reports whether m sorts before other by (CreatedAt, ID).
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return bytes.Compare(m.ID[:], other.ID[:]) < 0
}

// AdminMessage is a message enriched for the moderation listing.
type AdminMessage struct {
	Message
	Username string `db:"username" json:"username"`
	RoomName string `db:"room_name" json:"room_name"`
}

const (
	MessageEventInsert = "INSERT"
	MessageEventDelete = "DELETE"
)

// MessageEvent is a row change notification for the messages table.
type MessageEvent struct {
	Op      string  `json:"op"`
	Message Message `json:"row"`
}
