package realtime

import (
	"context"

	"github.com/google/uuid"

	"voxa-chat/internal/models"
)

// Identity is the authenticated user a session acts for.
type Identity struct {
	UserID      uuid.UUID
	DisplayName string
}

// MessageStore persists messages. Implementations enforce mute and membership rules.
type MessageStore interface {
	Append(ctx context.Context, key RoomKey, authorID uuid.UUID, body string, imageURL *string) (models.Message, error)
	FetchRecent(ctx context.Context, key RoomKey, limit int) ([]models.Message, error)
	Delete(ctx context.Context, messageID uuid.UUID) error
}

// Enroller makes a user a member of a room. Repeated calls succeed.
type Enroller interface {
	EnsureMember(ctx context.Context, roomID, userID uuid.UUID) error
}

// AuthorDirectory resolves display names for message authors.
type AuthorDirectory interface {
	DisplayNames(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]string, error)
}

// Subscription is a live registration on a channel.
type Subscription interface {
	Unsubscribe() error
}

// FeedHandler receives row changes for a message channel.
type FeedHandler struct {
	OnInsert func(models.Message)
	OnDelete func(roomID, messageID uuid.UUID)
}

// MessageFeed delivers message inserts and deletions per channel.
type MessageFeed interface {
	SubscribeMessages(ctx context.Context, channel string, handler FeedHandler) (Subscription, error)
}

// PresenceState is the ephemeral state one participant publishes.
type PresenceState struct {
	DisplayName string `json:"username"`
	Typing      bool   `json:"typing"`
}

// PresenceSnapshot is the full presence state of a channel keyed by participant.
type PresenceSnapshot map[string]PresenceState

// PresenceTransport carries presence state. Every change is announced to all
// subscribers of the channel as a full snapshot.
type PresenceTransport interface {
	SubscribePresence(ctx context.Context, channel, participant string, onSync func(PresenceSnapshot)) (Subscription, error)
	PublishPresence(ctx context.Context, channel, participant string, state PresenceState) error
}
