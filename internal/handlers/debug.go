package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-coordinator/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, queries QueryService, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), c.Query("conn_id"), usernameFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/state", func(c *gin.Context) {
		ctx := c.Request.Context()
		users, err := queries.Roster(ctx)
		if err != nil {
			respondUnavailable(c, err, "failed to load users")
			return
		}
		rooms, err := queries.Rooms(ctx)
		if err != nil {
			respondUnavailable(c, err, "failed to load rooms")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"request_id": requestIDFromContext(c),
			"users":      users,
			"rooms":      rooms,
		})
	})
}
