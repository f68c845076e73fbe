package handlers

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"voxa-chat/internal/repositories"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	maxBioLen      = 280
)

// ProfileHandler serves user profiles.
type ProfileHandler struct {
	profiles repositories.ProfileRepository
}

func NewProfileHandler(profiles repositories.ProfileRepository) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// GetProfile returns a user's public profile.
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "user_id")
	if !ok {
		return
	}

	profile, err := h.profiles.GetProfile(c.Request.Context(), userID)
	if errors.Is(err, repositories.ErrProfileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// UpdateProfile changes the caller's username and optionally bio.
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		Username string  `json:"username" binding:"required"`
		Bio      *string `json:"bio"`
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
	if req.Bio != nil && utf8.RuneCountInString(*req.Bio) > maxBioLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bio too long"})
		return
	}

	profile, err := h.profiles.UpdateProfile(c.Request.Context(), userID, username, req.Bio)
	writeProfileResult(c, profile, err)
}

func writeProfileResult(c *gin.Context, profile any, err error) {
	switch {
	case errors.Is(err, repositories.ErrProfileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
	case errors.Is(err, repositories.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
	default:
		c.JSON(http.StatusOK, profile)
	}
}

func validateUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(username)
	if n < minUsernameLen || n > maxUsernameLen {
		return "", errors.New("username must be between 3 and 32 characters")
	}
	return username, nil
}
