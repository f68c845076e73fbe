package realtime

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"voxa-chat/internal/models"
	"voxa-chat/internal/observability"
)

// ChannelHandlers receive events for the open room. They are invoked on
// transport goroutines.
type ChannelHandlers struct {
	OnMessage  func(models.Message)
	OnDelete   func(messageID uuid.UUID)
	OnPresence func(PresenceSnapshot)
}

// RoomChannel binds one message subscription and one presence subscription
// to a single room. Open, Close and Track must be called from one goroutine.
type RoomChannel struct {
	feed        MessageFeed
	presence    PresenceTransport
	participant string
	displayName string

	key      RoomKey
	open     bool
	messages Subscription
	typing   Subscription

	// generation invalidates handlers of a closed subscription pair.
	generation atomic.Uint64
}

// NewRoomChannel builds a closed channel.
func NewRoomChannel(feed MessageFeed, presence PresenceTransport, participant, displayName string) *RoomChannel {
	return &RoomChannel{
		feed:        feed,
		presence:    presence,
		participant: participant,
		displayName: displayName,
	}
}

// Open subscribes to the room's message and typing channels.
func (c *RoomChannel) Open(ctx context.Context, key RoomKey, handlers ChannelHandlers) error {
	if c.open {
		if c.key == key {
			return nil
		}
		return &AlreadyOpenError{Open: c.key, Requested: key}
	}

	gen := c.generation.Add(1)
	live := func() bool { return c.generation.Load() == gen }

	messagesChannel := key.ChannelName(ChannelMessages)
	messages, err := c.feed.SubscribeMessages(ctx, messagesChannel, FeedHandler{
		OnInsert: func(m models.Message) {
			if !live() {
				observability.IncRealtimeDropped("closed")
				return
			}
			if Private(m.RoomID) != key {
				observability.IncRealtimeDropped("foreign_room")
				return
			}
			if handlers.OnMessage != nil {
				handlers.OnMessage(m)
			}
		},
		OnDelete: func(roomID, messageID uuid.UUID) {
			if !live() {
				observability.IncRealtimeDropped("closed")
				return
			}
			if Private(roomID) != key {
				observability.IncRealtimeDropped("foreign_room")
				return
			}
			if handlers.OnDelete != nil {
				handlers.OnDelete(messageID)
			}
		},
	})
	if err != nil {
		c.generation.Add(1)
		observability.IncSubscriptionError(string(ChannelMessages))
		return &SubscriptionError{Channel: messagesChannel, Err: err}
	}

	typingChannel := key.ChannelName(ChannelTyping)
	typing, err := c.presence.SubscribePresence(ctx, typingChannel, c.participant, func(snapshot PresenceSnapshot) {
		if !live() {
			observability.IncRealtimeDropped("closed")
			return
		}
		if handlers.OnPresence != nil {
			handlers.OnPresence(snapshot)
		}
	})
	if err != nil {
		c.generation.Add(1)
		_ = messages.Unsubscribe()
		observability.IncSubscriptionError(string(ChannelTyping))
		return &SubscriptionError{Channel: typingChannel, Err: err}
	}

	c.key = key
	c.open = true
	c.messages = messages
	c.typing = typing
	return nil
}

// Close releases both subscriptions. Closing a closed channel is a no-op.
func (c *RoomChannel) Close() error {
	if !c.open {
		return nil
	}
	c.generation.Add(1)
	err := errors.Join(c.messages.Unsubscribe(), c.typing.Unsubscribe())
	c.open = false
	c.messages = nil
	c.typing = nil
	return err
}

// Track publishes the local participant's typing flag on the typing channel.
func (c *RoomChannel) Track(ctx context.Context, typing bool) error {
	if !c.open {
		return ErrChannelNotOpen
	}
	return c.presence.PublishPresence(ctx, c.key.ChannelName(ChannelTyping), c.participant, PresenceState{
		DisplayName: c.displayName,
		Typing:      typing,
	})
}

// SetDisplayName changes the name sent with later presence updates.
func (c *RoomChannel) SetDisplayName(name string) {
	c.displayName = name
}

// Key returns the open room and whether the channel is open.
func (c *RoomChannel) Key() (RoomKey, bool) {
	return c.key, c.open
}
