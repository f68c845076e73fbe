package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"voxa-chat/internal/models"
	"voxa-chat/internal/repositories"
	"voxa-chat/internal/telemetry"
)

const adminMessageLimit = 100

// AdminHandler serves moderation endpoints. Every mutation is audited.
type AdminHandler struct {
	profiles repositories.ProfileRepository
	messages repositories.MessageRepository
	mutes    repositories.MuteRepository
	audit    *telemetry.AuditEmitter
}

func NewAdminHandler(profiles repositories.ProfileRepository, messages repositories.MessageRepository, mutes repositories.MuteRepository, audit *telemetry.AuditEmitter) *AdminHandler {
	return &AdminHandler{profiles: profiles, messages: messages, mutes: mutes, audit: audit}
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.profiles.ListProfiles(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *AdminHandler) ListMessages(c *gin.Context) {
	messages, err := h.messages.ListRecentWithRooms(c.Request.Context(), adminMessageLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// DeleteMessage removes a message for everyone. Connected sessions learn of
// it through the row deletion event.
func (h *AdminHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := parseUUIDParam(c, "message_id")
	if !ok {
		return
	}

	err := h.messages.Delete(c.Request.Context(), messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete message"})
		return
	}

	h.emit(c, "message.delete", messageID.String(), "message deleted by admin")
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) MuteUser(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	userID, ok := parseUUIDParam(c, "user_id")
	if !ok {
		return
	}
	if userID == adminID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot mute yourself"})
		return
	}

	if err := h.mutes.Mute(c.Request.Context(), userID, adminID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mute user"})
		return
	}

	h.emit(c, "user.mute", userID.String(), "user muted")
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) ListMutes(c *gin.Context) {
	mutes, err := h.mutes.ListMutes(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load mutes"})
		return
	}
	if mutes == nil {
		mutes = []models.Mute{}
	}
	c.JSON(http.StatusOK, gin.H{"mutes": mutes})
}

func (h *AdminHandler) UnmuteUser(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "user_id")
	if !ok {
		return
	}

	if err := h.mutes.Unmute(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unmute user"})
		return
	}

	h.emit(c, "user.unmute", userID.String(), "user unmuted")
	c.Status(http.StatusNoContent)
}

// RenameUser overrides a username, keeping the existing bio.
func (h *AdminHandler) RenameUser(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "user_id")
	if !ok {
		return
	}
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	username, err := validateUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, err := h.profiles.UpdateProfile(c.Request.Context(), userID, username, nil)
	if err == nil {
		h.emit(c, "user.rename", userID.String(), "username changed to "+username)
	}
	writeProfileResult(c, profile, err)
}

func (h *AdminHandler) DeleteUser(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	userID, ok := parseUUIDParam(c, "user_id")
	if !ok {
		return
	}
	if userID == adminID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete yourself"})
		return
	}

	err := h.profiles.DeleteUser(c.Request.Context(), userID)
	if errors.Is(err, repositories.ErrProfileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user"})
		return
	}

	h.emit(c, "user.delete", userID.String(), "user deleted")
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) emit(c *gin.Context, action, targetID, text string) {
	h.audit.Emit(c.Request.Context(), requestIDFromContext(c), actorIDFromContext(c), telemetry.AuditPayload{
		Level:    telemetry.LevelWarn,
		Action:   action,
		TargetID: targetID,
		Text:     text,
	})
}
