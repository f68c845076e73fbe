package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voxa-chat/internal/models"
	"voxa-chat/internal/realtime"
	"voxa-chat/internal/repositories"
)

// RoomHandler serves the room directory and message history.
type RoomHandler struct {
	rooms        repositories.RoomRepository
	messages     repositories.MessageRepository
	profiles     repositories.ProfileRepository
	historyLimit int
}

func NewRoomHandler(rooms repositories.RoomRepository, messages repositories.MessageRepository, profiles repositories.ProfileRepository, historyLimit int) *RoomHandler {
	if historyLimit <= 0 {
		historyLimit = realtime.DefaultHistoryLimit
	}
	return &RoomHandler{rooms: rooms, messages: messages, profiles: profiles, historyLimit: historyLimit}
}

// ListRooms returns the global room and the caller's private rooms.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	rooms, err := h.rooms.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// CreateRoom creates a private room owned by the caller.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.CreatePrivateRoom(c.Request.Context(), req.Name, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}

	var code string
	if room.JoinCode != nil {
		code = *room.JoinCode
	}
	c.JSON(http.StatusCreated, gin.H{"room": room, "join_code": code})
}

// JoinRoom adds the caller to the private room behind a join code.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	code, err := repositories.NormalizeJoinCode(req.Code)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid join code"})
		return
	}

	room, err := h.rooms.GetByJoinCode(c.Request.Context(), code)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up room"})
		return
	}

	if err := h.rooms.EnsureMember(c.Request.Context(), room.ID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// GetRoomMessages returns the most recent messages of a room, oldest first.
func (h *RoomHandler) GetRoomMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	key, err := realtime.ParseRoomKey(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	if !key.IsGlobal() {
		member, err := h.rooms.IsMember(c.Request.Context(), key.RoomID(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check membership"})
			return
		}
		if !member {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this room"})
			return
		}
	}

	messages, err := h.messages.FetchRecent(c.Request.Context(), key, h.historyLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if err := h.attachAuthors(c.Request.Context(), messages); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load authors"})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"room": key, "messages": messages})
}

// ListMembers returns who belongs to a private room. Only members may ask.
func (h *RoomHandler) ListMembers(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	key, err := realtime.ParseRoomKey(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	if key.IsGlobal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "the global room has no member list"})
		return
	}

	ctx := c.Request.Context()
	member, err := h.rooms.IsMember(ctx, key.RoomID(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this room"})
		return
	}

	members, err := h.rooms.ListMembers(ctx, key.RoomID())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load members"})
		return
	}
	if members == nil {
		members = []models.Membership{}
	}
	c.JSON(http.StatusOK, gin.H{"room": key, "members": members})
}

func (h *RoomHandler) attachAuthors(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	seen := make(map[uuid.UUID]struct{}, len(messages))
	ids := make([]uuid.UUID, 0, len(messages))
	for _, m := range messages {
		if _, ok := seen[m.AuthorID]; ok {
			continue
		}
		seen[m.AuthorID] = struct{}{}
		ids = append(ids, m.AuthorID)
	}
	names, err := h.profiles.DisplayNames(ctx, ids)
	if err != nil {
		return err
	}
	for i := range messages {
		if name, ok := names[messages[i].AuthorID]; ok {
			messages[i].AuthorName = name
		} else {
			messages[i].AuthorName = realtime.UnknownAuthor
		}
	}
	return nil
}
