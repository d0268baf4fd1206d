package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-coordinator/internal/observability"
)

const RequestIDContextKey = "request_id"

// RequestID tags each request with the caller's X-Request-Id or a fresh uuid
// and echoes it back on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDContextKey, id)
		c.Request = observability.WithRequestID(c.Request, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}
