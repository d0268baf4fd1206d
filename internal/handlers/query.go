package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chat-coordinator/internal/coordinator"
	"chat-coordinator/internal/models"
	"chat-coordinator/internal/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// QueryService is the read side of the coordinator.
type QueryService interface {
	RecentMessages(ctx context.Context, filter repositories.MessageFilter) ([]models.Message, error)
	SearchMessages(ctx context.Context, query, room string) ([]models.Message, error)
	UnreadCounts(ctx context.Context, connID string) (map[string]int, error)
	Roster(ctx context.Context) ([]models.User, error)
	Rooms(ctx context.Context) (map[string]int, error)
}

// QueryHandler serves read-only HTTP views over the coordinator state.
type QueryHandler struct {
	queries QueryService
}

// NewQueryHandler builds a QueryHandler.
func NewQueryHandler(queries QueryService) *QueryHandler {
	return &QueryHandler{queries: queries}
}

// Register mounts the query routes under /api.
func (h *QueryHandler) Register(router gin.IRouter) {
	api := router.Group("/api")
	api.GET("/messages", h.ListMessages)
	api.GET("/search", h.Search)
	api.GET("/unread/:conn_id", h.Unread)
	api.GET("/users", h.Users)
	api.GET("/rooms", h.Rooms)
}

type listMessagesQuery struct {
	Room   string    `form:"room"`
	Before time.Time `form:"before" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit  int       `form:"limit" binding:"omitempty,min=1"`
}

// ListMessages returns recent public messages, oldest first.
func (h *QueryHandler) ListMessages(c *gin.Context) {
	var q listMessagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}

	msgs, err := h.queries.RecentMessages(c.Request.Context(), repositories.MessageFilter{
		Room:   strings.TrimSpace(q.Room),
		Before: q.Before,
		Limit:  q.Limit,
	})
	if err != nil {
		respondUnavailable(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Search runs a case-insensitive substring search over public messages.
func (h *QueryHandler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusOK, gin.H{"messages": []models.Message{}})
		return
	}

	msgs, err := h.queries.SearchMessages(c.Request.Context(), query, strings.TrimSpace(c.Query("room")))
	if err != nil {
		respondUnavailable(c, err, "search failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Unread returns the unread counters of one connection.
func (h *QueryHandler) Unread(c *gin.Context) {
	counts, err := h.queries.UnreadCounts(c.Request.Context(), c.Param("conn_id"))
	if err != nil {
		respondUnavailable(c, err, "failed to load unread counters")
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

// Users returns the connected roster.
func (h *QueryHandler) Users(c *gin.Context) {
	users, err := h.queries.Roster(c.Request.Context())
	if err != nil {
		respondUnavailable(c, err, "failed to load users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// Rooms returns every known room with its member count.
func (h *QueryHandler) Rooms(c *gin.Context) {
	rooms, err := h.queries.Rooms(c.Request.Context())
	if err != nil {
		respondUnavailable(c, err, "failed to load rooms")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func respondUnavailable(c *gin.Context, err error, msg string) {
	if errors.Is(err, coordinator.ErrStopped) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "coordinator stopped"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
