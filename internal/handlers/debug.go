package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"voxa-chat/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), requestIDFromContext(c), actorIDFromContext(c), telemetry.AuditPayload{
			Action: "debug.audit_test",
			Text:   "audit test",
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
