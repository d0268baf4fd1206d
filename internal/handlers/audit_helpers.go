package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-coordinator/internal/middleware"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(middleware.RequestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDContextKey, requestID)
	return requestID
}

// usernameFromContext reads the display name a caller claims. Nothing
// authenticates it.
func usernameFromContext(c *gin.Context) *string {
	name := strings.TrimSpace(c.GetHeader("X-Username"))
	if name == "" {
		name = strings.TrimSpace(c.Query("username"))
	}
	if name == "" {
		return nil
	}
	return &name
}
