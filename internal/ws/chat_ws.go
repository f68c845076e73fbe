package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxa-chat/internal/auth"
	"voxa-chat/internal/models"
	"voxa-chat/internal/observability"
	"voxa-chat/internal/ratelimit"
	"voxa-chat/internal/realtime"
)

const requestTimeout = 10 * time.Second

// TokenValidator verifies the bearer token presented at handshake.
type TokenValidator interface {
	Validate(token string) (auth.Identity, error)
}

// Profiles resolves the connecting user and message authors.
type Profiles interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (models.Profile, error)
	realtime.AuthorDirectory
}

// Rooms answers membership questions for room switches.
type Rooms interface {
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	realtime.Enroller
}

type HandlerOptions struct {
	HistoryLimit int
	TypingExpiry time.Duration
	WriteBuffer  int
}

// SessionHandler serves one chat session per websocket connection.
type SessionHandler struct {
	hub       *Hub
	validator TokenValidator
	profiles  Profiles
	rooms     Rooms
	store     realtime.MessageStore
	limiter   ratelimit.Limiter
	opts      HandlerOptions
}

func NewSessionHandler(hub *Hub, validator TokenValidator, profiles Profiles, rooms Rooms, store realtime.MessageStore, limiter ratelimit.Limiter, opts HandlerOptions) *SessionHandler {
	if limiter == nil {
		limiter = ratelimit.NoopLimiter()
	}
	return &SessionHandler{
		hub:       hub,
		validator: validator,
		profiles:  profiles,
		rooms:     rooms,
		store:     store,
		limiter:   limiter,
		opts:      opts,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades and runs the session until the socket closes.
func (h *SessionHandler) Handle(c *gin.Context) {
	ctx, span := observability.Tracer("voxa-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := observability.BearerToken(c.Request)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	identity, err := h.validator.Validate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	profile, err := h.profiles.GetProfile(ctx, identity.UserID)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "profile not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      identity.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.serve(conn, info, profile, identity.ExpiresAt)
}

type connSession struct {
	handler *SessionHandler
	info    ConnInfo
	session *realtime.Session
	client  *client
	logger  *log.Logger
	room    realtime.RoomKey
}

func (h *SessionHandler) serve(conn *websocket.Conn, info ConnInfo, profile models.Profile, expiresAt time.Time) {
	logger := log.New(log.Writer(), fmt.Sprintf("ws conn=%s user=%s ", info.ConnID, info.UserID), log.LstdFlags)
	cl := newClient(conn, logger, h.opts.WriteBuffer)
	cs := &connSession{handler: h, info: info, client: cl, logger: logger}

	cs.session = realtime.NewSession(realtime.SessionConfig{
		Identity:      realtime.Identity{UserID: info.UserID, DisplayName: profile.Username},
		ParticipantID: info.ConnID,
		Store:         h.store,
		Feed:          h.hub,
		Presence:      h.hub,
		Enroller:      h.rooms,
		Authors:       h.profiles,
		Logger:        logger,
		HistoryLimit:  h.opts.HistoryLimit,
		TypingExpiry:  h.opts.TypingExpiry,
		OnChange:      cl.pushView,
		OnError: func(err error) {
			cl.pushFrame(errorFrame(errorKind(err), err))
		},
	})

	go cl.writePump()

	observability.IncWSActive()
	h.publishWSEvent(info, "ws_connect", "")

	reason := cs.run(expiresAt)

	cs.session.Close()
	cl.close()
	<-cl.done
	observability.DecWSActive()
	h.publishWSEvent(info, "ws_disconnect", reason)
}

func (cs *connSession) run(expiresAt time.Time) string {
	startCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	err := cs.session.Start(startCtx)
	cancel()
	if err != nil {
		cs.logger.Printf("session start failed err=%v", err)
		cs.client.pushFrame(errorFrame(errorKind(err), err))
		return "start_failed"
	}
	cs.switchRoom(realtime.Global())

	if !expiresAt.IsZero() {
		timer := time.AfterFunc(time.Until(expiresAt), func() {
			cs.logger.Printf("identity expired")
			_ = cs.session.IdentityLost()
			cs.client.pushFrame(errorFrame("identity_expired", realtime.ErrNoIdentity))
			cs.client.close()
		})
		defer timer.Stop()
	}

	conn := cs.client.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cs.handler.publishWSEvent(cs.info, "ws_error", err.Error())
			}
			return err.Error()
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			cs.client.pushFrame(errorFrame("bad_request", errors.New("invalid frame")))
			continue
		}
		cs.dispatch(frame)
	}
}

func (cs *connSession) dispatch(frame clientFrame) {
	switch frame.Type {
	case frameSwitchRoom:
		key, err := realtime.ParseRoomKey(frame.RoomID)
		if err != nil {
			cs.client.pushFrame(errorFrame("validation", err))
			return
		}
		cs.switchRoom(key)
	case frameSend:
		cs.send(frame.Body, frame.ImageURL)
	case frameTyping:
		if err := cs.session.OnTypingKeystroke(); err != nil {
			cs.client.pushFrame(errorFrame(errorKind(err), err))
		}
	default:
		cs.client.pushFrame(errorFrame("bad_request", fmt.Errorf("unknown frame type %q", frame.Type)))
	}
}

func (cs *connSession) switchRoom(key realtime.RoomKey) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if !key.IsGlobal() {
		member, err := cs.handler.rooms.IsMember(ctx, key.RoomID(), cs.info.UserID)
		if err != nil {
			cs.logger.Printf("membership check failed room=%s err=%v", key, err)
			cs.client.pushFrame(errorFrame("internal", errors.New("membership check failed")))
			return
		}
		if !member {
			cs.client.pushFrame(errorFrame("forbidden", errors.New("not a member of this room")))
			return
		}
	}

	cs.refreshName(ctx)

	// A failed open leaves the session degraded and retrying on key; the view carries that.
	err := cs.session.SwitchRoom(ctx, key)
	var subErr *realtime.SubscriptionError
	if err == nil || errors.As(err, &subErr) {
		cs.room = key
	}
	if err != nil {
		cs.client.pushFrame(errorFrame(errorKind(err), err))
	}
}

// refreshName picks up a username changed since the handshake.
func (cs *connSession) refreshName(ctx context.Context) {
	profile, err := cs.handler.profiles.GetProfile(ctx, cs.info.UserID)
	if err != nil {
		cs.logger.Printf("profile refresh failed err=%v", err)
		return
	}
	if err := cs.session.Rename(profile.Username); err != nil && !errors.Is(err, realtime.ErrNoIdentity) {
		cs.logger.Printf("rename failed err=%v", err)
	}
}

func (cs *connSession) send(body string, imageURL *string) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	allowed, err := cs.handler.limiter.Allow(ctx, cs.info.UserID.String())
	if err != nil {
		cs.logger.Printf("rate limit check failed err=%v", err)
		allowed = true
	}
	if !allowed {
		observability.IncSendRejected("rate_limited")
		cs.client.pushFrame(errorFrame("rate_limited", errors.New("sending too fast")))
		return
	}

	if err := cs.session.Send(ctx, body, imageURL); err != nil {
		kind := errorKind(err)
		observability.IncSendRejected(kind)
		cs.client.pushFrame(errorFrame(kind, err))
		return
	}

	roomKind := "private"
	if cs.room.IsGlobal() {
		roomKind = "global"
	}
	observability.IncMessageSent(roomKind)
	_ = observability.PublishEvent(ctx, observability.RoutingKeyMessageEvents,
		observability.NewEvent("message_events", "message_sent", map[string]interface{}{
			"room":      cs.room.String(),
			"room_kind": roomKind,
			"user_id":   cs.info.UserID.String(),
			"has_image": imageURL != nil && *imageURL != "",
		}),
		observability.BuildHeaders(cs.info.RequestID, cs.info.TraceID))
}

func (h *SessionHandler) publishWSEvent(info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	_ = observability.PublishEvent(context.Background(), observability.RoutingKeyWSEvents,
		observability.NewEvent("ws_events", event, info.payload(event, reason)),
		observability.BuildHeaders(info.RequestID, info.TraceID))
}
