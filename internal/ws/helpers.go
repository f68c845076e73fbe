package ws

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"voxa-chat/internal/realtime"
	"voxa-chat/internal/repositories"
)

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

const (
	frameView  = "view"
	frameError = "error"

	frameSwitchRoom = "switch_room"
	frameSend       = "send"
	frameTyping     = "typing"
)

type clientFrame struct {
	Type     string  `json:"type"`
	RoomID   string  `json:"room_id,omitempty"`
	Body     string  `json:"body,omitempty"`
	ImageURL *string `json:"image_url,omitempty"`
}

type serverFrame struct {
	Type  string         `json:"type"`
	View  *realtime.View `json:"view,omitempty"`
	Error string         `json:"error,omitempty"`
	Kind  string         `json:"kind,omitempty"`
}

func viewFrame(v realtime.View) serverFrame {
	return serverFrame{Type: frameView, View: &v}
}

func errorFrame(kind string, err error) serverFrame {
	return serverFrame{Type: frameError, Kind: kind, Error: err.Error()}
}

// errorKind classifies an error for clients and metrics.
func errorKind(err error) string {
	var (
		validation *realtime.ValidationError
		sub        *realtime.SubscriptionError
		store      *realtime.StoreError
	)
	switch {
	case errors.As(err, &validation):
		return "validation"
	case errors.Is(err, repositories.ErrMuted):
		return "muted"
	case errors.Is(err, repositories.ErrNotMember):
		return "not_member"
	case errors.As(err, &store):
		return "store"
	case errors.As(err, &sub):
		return "subscription"
	case errors.Is(err, realtime.ErrNoRoom):
		return "no_room"
	case errors.Is(err, realtime.ErrNoIdentity):
		return "no_identity"
	default:
		return "internal"
	}
}
