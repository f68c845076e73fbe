package realtime

import (
	"strings"

	"github.com/google/uuid"
)

// GlobalRoomID is the well-known id of the room every user is enrolled in.
var GlobalRoomID = uuid.Nil

// ChannelKind selects one of the two realtime channels a room owns.
type ChannelKind string

const (
	ChannelMessages ChannelKind = "messages"
	ChannelTyping   ChannelKind = "typing"
)

// RoomKey identifies a room for routing. The zero value is the global room.
type RoomKey struct {
	id uuid.UUID
}

// Global returns the key of the global room.
func Global() RoomKey {
	return RoomKey{}
}

// Private returns the key of a private room. The global room id yields Global.
func Private(id uuid.UUID) RoomKey {
	return RoomKey{id: id}
}

// ParseRoomKey accepts "global", an empty string or a room uuid.
func ParseRoomKey(raw string) (RoomKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "global") {
		return Global(), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return RoomKey{}, &ValidationError{Reason: "invalid room id"}
	}
	return Private(id), nil
}

// IsGlobal reports whether k is the global room.
func (k RoomKey) IsGlobal() bool {
	return k.id == GlobalRoomID
}

// RoomID is the stored id of the room, GlobalRoomID for the global room.
func (k RoomKey) RoomID() uuid.UUID {
	return k.id
}

// ChannelName derives the realtime channel name for kind.
func (k RoomKey) ChannelName(kind ChannelKind) string {
	if k.IsGlobal() {
		return string(kind) + "-global"
	}
	return string(kind) + "-private-" + k.id.String()
}

func (k RoomKey) String() string {
	if k.IsGlobal() {
		return "global"
	}
	return k.id.String()
}

func (k RoomKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *RoomKey) UnmarshalText(text []byte) error {
	parsed, err := ParseRoomKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
