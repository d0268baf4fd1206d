package coordinator

import (
	"context"

	"chat-coordinator/internal/models"
	"chat-coordinator/internal/repositories"
)

// Read-only queries. They run on the coordinator goroutine like every other
// operation and return copies.

func (c *Coordinator) RecentMessages(ctx context.Context, filter repositories.MessageFilter) ([]models.Message, error) {
	var out []models.Message
	err := c.do(ctx, func() {
		out = c.messages.Recent(filter)
	})
	return out, err
}

func (c *Coordinator) SearchMessages(ctx context.Context, query, room string) ([]models.Message, error) {
	var out []models.Message
	err := c.do(ctx, func() {
		out = c.messages.Search(query, room)
	})
	return out, err
}

func (c *Coordinator) UnreadCounts(ctx context.Context, connID string) (map[string]int, error) {
	var out map[string]int
	err := c.do(ctx, func() {
		out = c.unread.snapshot(connID)
	})
	return out, err
}

func (c *Coordinator) Roster(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := c.do(ctx, func() {
		out = c.registry.roster()
	})
	return out, err
}

// Rooms returns every room ever joined with its member count.
func (c *Coordinator) Rooms(ctx context.Context) (map[string]int, error) {
	out := map[string]int{}
	err := c.do(ctx, func() {
		for _, room := range c.rooms.roomNames() {
			out[room] = len(c.rooms.rooms[room])
		}
	})
	return out, err
}
