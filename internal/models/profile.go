package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the public account record of a user.
type Profile struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Bio       *string   `db:"bio" json:"bio,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AdminProfile adds moderation state to a profile.
type AdminProfile struct {
	Profile
	Muted bool `db:"muted" json:"muted"`
}

// Mute marks a user as unable to post.
type Mute struct {
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	MutedBy   *uuid.UUID `db:"muted_by" json:"muted_by"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
