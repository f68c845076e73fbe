package ws

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxa-chat/internal/auth"
	"voxa-chat/internal/models"
	"voxa-chat/internal/realtime"
	"voxa-chat/internal/repositories"
)

type memoryStore struct {
	mu       sync.Mutex
	hub      *Hub
	messages []models.Message
	muted    map[uuid.UUID]bool
}

func (s *memoryStore) Append(_ context.Context, key realtime.RoomKey, authorID uuid.UUID, body string, imageURL *string) (models.Message, error) {
	s.mu.Lock()
	if s.muted[authorID] {
		s.mu.Unlock()
		return models.Message{}, repositories.ErrMuted
	}
	m := models.Message{ID: uuid.New(), RoomID: key.RoomID(), AuthorID: authorID, Body: body, ImageURL: imageURL, CreatedAt: time.Now()}
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	s.hub.Dispatch(models.MessageEvent{Op: models.MessageEventInsert, Message: m})
	return m, nil
}

func (s *memoryStore) FetchRecent(_ context.Context, key realtime.RoomKey, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.RoomID == key.RoomID() {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return nil
		}
	}
	return repositories.ErrMessageNotFound
}

type memoryProfiles struct {
	mu    sync.Mutex
	names map[uuid.UUID]string
}

func (p *memoryProfiles) GetProfile(_ context.Context, id uuid.UUID) (models.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.names[id]
	if !ok {
		return models.Profile{}, repositories.ErrProfileNotFound
	}
	return models.Profile{ID: id, Username: name}, nil
}

func (p *memoryProfiles) DisplayNames(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uuid.UUID]string)
	for _, id := range ids {
		if name, ok := p.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (p *memoryProfiles) rename(id uuid.UUID, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names[id] = name
}

type memoryRooms struct {
	mu      sync.Mutex
	members map[uuid.UUID]map[uuid.UUID]bool
}

func (r *memoryRooms) IsMember(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[roomID][userID], nil
}

func (r *memoryRooms) EnsureMember(_ context.Context, roomID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[roomID] == nil {
		r.members[roomID] = make(map[uuid.UUID]bool)
	}
	r.members[roomID][userID] = true
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }
func (denyLimiter) Close() error                                  { return nil }

type wsFixture struct {
	server    *httptest.Server
	validator *auth.TokenValidator
	store     *memoryStore
	rooms     *memoryRooms
	profiles  *memoryProfiles
	alice     uuid.UUID
	bob       uuid.UUID
}

func newWSFixture(t *testing.T, limiterDenies bool) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	f := &wsFixture{
		validator: auth.NewTokenValidator("secret", ""),
		store:     &memoryStore{hub: hub, muted: map[uuid.UUID]bool{}},
		rooms:     &memoryRooms{members: map[uuid.UUID]map[uuid.UUID]bool{}},
		alice:     uuid.New(),
		bob:       uuid.New(),
	}
	f.profiles = &memoryProfiles{names: map[uuid.UUID]string{f.alice: "alice", f.bob: "bob"}}
	profiles := f.profiles

	opts := HandlerOptions{HistoryLimit: 50, TypingExpiry: time.Minute, WriteBuffer: 16}
	handler := NewSessionHandler(hub, f.validator, profiles, f.rooms, f.store, nil, opts)
	if limiterDenies {
		handler = NewSessionHandler(hub, f.validator, profiles, f.rooms, f.store, denyLimiter{}, opts)
	}

	r := gin.New()
	r.GET("/ws", handler.Handle)
	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *wsFixture) dial(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	token, err := f.validator.Issue(userID, time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(serverFrame) bool) serverFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var frame serverFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if match(frame) {
			return frame
		}
	}
}

func inGlobal(f serverFrame) bool {
	return f.Type == frameView && f.View.Room.IsGlobal() && !f.View.Degraded
}

func hasMessage(body string) func(serverFrame) bool {
	return func(f serverFrame) bool {
		if f.Type != frameView {
			return false
		}
		for _, m := range f.View.Messages {
			if m.Body == body {
				return true
			}
		}
		return false
	}
}

func errorOf(kind string) func(serverFrame) bool {
	return func(f serverFrame) bool { return f.Type == frameError && f.Kind == kind }
}

func TestSessionsExchangeMessages(t *testing.T) {
	f := newWSFixture(t, false)
	alice := f.dial(t, f.alice)
	bob := f.dial(t, f.bob)
	readUntil(t, alice, inGlobal)
	readUntil(t, bob, inGlobal)

	require.NoError(t, alice.WriteJSON(clientFrame{Type: frameSend, Body: "  hello  "}))

	frame := readUntil(t, bob, hasMessage("hello"))
	require.Len(t, frame.View.Messages, 1)
	assert.Equal(t, "alice", frame.View.Messages[0].AuthorName)
	assert.Equal(t, f.alice, frame.View.Messages[0].AuthorID)
	readUntil(t, alice, hasMessage("hello"))
}

func TestSessionSeesRemoteTyping(t *testing.T) {
	f := newWSFixture(t, false)
	alice := f.dial(t, f.alice)
	bob := f.dial(t, f.bob)
	readUntil(t, alice, inGlobal)
	readUntil(t, bob, inGlobal)

	require.NoError(t, bob.WriteJSON(clientFrame{Type: frameTyping}))

	frame := readUntil(t, alice, func(f serverFrame) bool {
		return f.Type == frameView && len(f.View.Typing) == 1
	})
	assert.Equal(t, []string{"bob"}, frame.View.Typing)
	assert.Equal(t, "bob is typing...", frame.View.TypingText)
}

func TestRemoteSendAppendsOnceAndClearsTyping(t *testing.T) {
	f := newWSFixture(t, false)
	alice := f.dial(t, f.alice)
	bob := f.dial(t, f.bob)
	readUntil(t, alice, inGlobal)
	readUntil(t, bob, inGlobal)

	require.NoError(t, bob.WriteJSON(clientFrame{Type: frameTyping}))
	before := readUntil(t, alice, func(f serverFrame) bool {
		return f.Type == frameView && f.View.TypingText == "bob is typing..."
	})
	require.Empty(t, before.View.Messages)

	require.NoError(t, bob.WriteJSON(clientFrame{Type: frameSend, Body: "hello"}))
	after := readUntil(t, alice, func(f serverFrame) bool {
		return f.Type == frameView && len(f.View.Messages) > 0 && len(f.View.Typing) == 0
	})

	require.Len(t, after.View.Messages, 1)
	assert.Equal(t, "hello", after.View.Messages[0].Body)
	assert.Equal(t, f.bob, after.View.Messages[0].AuthorID)
	assert.Equal(t, "bob", after.View.Messages[0].AuthorName)
	assert.Empty(t, after.View.TypingText)
}

func TestSwitchRoomPicksUpRenamedProfile(t *testing.T) {
	f := newWSFixture(t, false)
	alice := f.dial(t, f.alice)
	bob := f.dial(t, f.bob)
	readUntil(t, alice, inGlobal)
	readUntil(t, bob, inGlobal)

	f.profiles.rename(f.bob, "bobby")
	require.NoError(t, bob.WriteJSON(clientFrame{Type: frameSwitchRoom, RoomID: realtime.Global().String()}))
	readUntil(t, bob, inGlobal)
	require.NoError(t, bob.WriteJSON(clientFrame{Type: frameTyping}))

	frame := readUntil(t, alice, func(f serverFrame) bool {
		return f.Type == frameView && len(f.View.Typing) == 1
	})
	assert.Equal(t, "bobby is typing...", frame.View.TypingText)

	require.NoError(t, bob.WriteJSON(clientFrame{Type: frameSend, Body: "new name"}))
	sent := readUntil(t, bob, hasMessage("new name"))
	assert.Equal(t, "bobby", sent.View.Messages[len(sent.View.Messages)-1].AuthorName)
}

func TestSwitchRoomKeepsRoomWhenSessionRefuses(t *testing.T) {
	hub := NewHub()
	rooms := &memoryRooms{members: map[uuid.UUID]map[uuid.UUID]bool{}}
	profiles := &memoryProfiles{names: map[uuid.UUID]string{}}
	userID := uuid.New()
	profiles.names[userID] = "alice"
	store := &memoryStore{hub: hub, muted: map[uuid.UUID]bool{}}
	handler := NewSessionHandler(hub, nil, profiles, rooms, store, nil, HandlerOptions{})

	logger := log.New(io.Discard, "", 0)
	cs := &connSession{
		handler: handler,
		info:    ConnInfo{ConnID: "c1", UserID: userID},
		client:  newClient(nil, logger, 8),
		logger:  logger,
		room:    realtime.Global(),
	}
	cs.session = realtime.NewSession(realtime.SessionConfig{
		Identity:      realtime.Identity{UserID: userID, DisplayName: "alice"},
		ParticipantID: "c1",
		Store:         store,
		Feed:          hub,
		Presence:      hub,
		Enroller:      rooms,
		Authors:       profiles,
		Logger:        logger,
	})
	t.Cleanup(cs.session.Close)
	require.NoError(t, cs.session.Start(context.Background()))

	first, second := uuid.New(), uuid.New()
	require.NoError(t, rooms.EnsureMember(context.Background(), first, userID))
	require.NoError(t, rooms.EnsureMember(context.Background(), second, userID))

	cs.switchRoom(realtime.Private(first))
	assert.Equal(t, realtime.Private(first), cs.room)

	require.NoError(t, cs.session.IdentityLost())
	cs.switchRoom(realtime.Private(second))
	assert.Equal(t, realtime.Private(first), cs.room)

	frame := <-cs.client.frames
	assert.Equal(t, frameError, frame.Type)
	assert.Equal(t, "no_identity", frame.Kind)
}

func TestSessionRejectsInvalidSends(t *testing.T) {
	f := newWSFixture(t, false)
	alice := f.dial(t, f.alice)
	readUntil(t, alice, inGlobal)

	require.NoError(t, alice.WriteJSON(clientFrame{Type: frameSend, Body: "   "}))
	readUntil(t, alice, errorOf("validation"))

	f.store.mu.Lock()
	f.store.muted[f.alice] = true
	f.store.mu.Unlock()
	require.NoError(t, alice.WriteJSON(clientFrame{Type: frameSend, Body: "hi"}))
	readUntil(t, alice, errorOf("muted"))

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{")))
	readUntil(t, alice, errorOf("bad_request"))
}

func TestSessionRequiresMembershipForPrivateRooms(t *testing.T) {
	f := newWSFixture(t, false)
	alice := f.dial(t, f.alice)
	readUntil(t, alice, inGlobal)

	roomID := uuid.New()
	require.NoError(t, alice.WriteJSON(clientFrame{Type: frameSwitchRoom, RoomID: roomID.String()}))
	readUntil(t, alice, errorOf("forbidden"))

	require.NoError(t, f.rooms.EnsureMember(context.Background(), roomID, f.alice))
	require.NoError(t, alice.WriteJSON(clientFrame{Type: frameSwitchRoom, RoomID: roomID.String()}))
	frame := readUntil(t, alice, func(f serverFrame) bool {
		return f.Type == frameView && f.View.Room == realtime.Private(roomID)
	})
	assert.Empty(t, frame.View.Messages)

	require.NoError(t, alice.WriteJSON(clientFrame{Type: frameSwitchRoom, RoomID: "not-a-room"}))
	readUntil(t, alice, errorOf("validation"))
}

func TestSessionRateLimitedSend(t *testing.T) {
	f := newWSFixture(t, true)
	alice := f.dial(t, f.alice)
	readUntil(t, alice, inGlobal)

	require.NoError(t, alice.WriteJSON(clientFrame{Type: frameSend, Body: "hi"}))
	readUntil(t, alice, errorOf("rate_limited"))

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Empty(t, f.store.messages)
}

func TestHandshakeRequiresValidToken(t *testing.T) {
	f := newWSFixture(t, false)
	base := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	stranger, err := f.validator.Issue(uuid.New(), time.Hour)
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(base+"?token="+stranger, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "muted", errorKind(&realtime.StoreError{Op: "append", Err: repositories.ErrMuted}))
	assert.Equal(t, "not_member", errorKind(&realtime.StoreError{Op: "append", Err: repositories.ErrNotMember}))
	assert.Equal(t, "store", errorKind(&realtime.StoreError{Op: "append", Err: errors.New("boom")}))
	assert.Equal(t, "subscription", errorKind(&realtime.SubscriptionError{Channel: "messages-global", Err: errors.New("boom")}))
	assert.Equal(t, "validation", errorKind(&realtime.ValidationError{Reason: "empty"}))
	assert.Equal(t, "no_room", errorKind(realtime.ErrNoRoom))
	assert.Equal(t, "internal", errorKind(errors.New("other")))
}
