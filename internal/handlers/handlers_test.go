package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voxa-chat/internal/middleware"
)

var testUserID = uuid.MustParse("6a2f4c1e-8b3d-4e5f-9a7b-1c2d3e4f5a6b")

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		middleware.SetUserID(c, testUserID)
		c.Next()
	})
	return r
}
