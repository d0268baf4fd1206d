package coordinator

import (
	"context"
	"log"

	"chat-coordinator/internal/models"
	"chat-coordinator/internal/observability"
)

// React adds the connection's username under emoji on the message. Unknown
// ids are ignored: the message may have been evicted.
func (c *Coordinator) React(ctx context.Context, connID string, messageID int64, emoji string) error {
	return c.do(ctx, func() {
		if emoji == "" {
			return
		}
		msg, err := c.messages.Find(messageID)
		if err != nil {
			log.Printf("react ignored: message_id=%d conn_id=%s err=%v", messageID, connID, err)
			return
		}
		if msg.AddReaction(emoji, c.registry.name(connID)) {
			c.annotated(*msg)
		}
		c.announceAnnotation(*msg, models.EventReactionUpdated, models.ReactionUpdated{
			MessageID: msg.ID,
			Reactions: msg.Reactions.Clone(),
		})
	})
}

// MarkRead records the connection's username as a reader of the message and
// clears the connection's unread counter for the whole room.
func (c *Coordinator) MarkRead(ctx context.Context, connID string, messageID int64) error {
	return c.do(ctx, func() {
		msg, err := c.messages.Find(messageID)
		if err != nil {
			log.Printf("mark-read ignored: message_id=%d conn_id=%s err=%v", messageID, connID, err)
			return
		}
		if msg.MarkReadBy(c.registry.name(connID)) {
			c.annotated(*msg)
		}
		c.announceAnnotation(*msg, models.EventReadUpdated, models.ReadUpdated{
			MessageID: msg.ID,
			ReadBy:    append([]string{}, msg.ReadBy...),
		})

		if msg.Room != "" {
			c.unread.reset(connID, msg.Room)
			c.pushUnread(connID)
		}
	})
}

func (c *Coordinator) annotated(msg models.Message) {
	observability.IncCoordinatorEvent("annotate")
	if c.observer != nil {
		c.observer.MessageAnnotated(msg.Clone())
	}
}

// announceAnnotation sends to the message's room, or to both parties of a
// private message.
func (c *Coordinator) announceAnnotation(msg models.Message, eventType string, payload any) {
	if msg.IsPrivate {
		c.dispatch.SendToMany(privateParties(msg), eventType, payload)
		return
	}
	c.dispatch.SendToMany(c.rooms.members(msg.Room), eventType, payload)
}
