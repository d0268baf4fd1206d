package repositories

import (
	"errors"
	"slices"
	"strings"
	"time"

	"chat-coordinator/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const (
	// DefaultHistoryCap bounds the whole log, across all rooms.
	DefaultHistoryCap = 5000
	// SearchResultCap bounds the number of search hits returned.
	SearchResultCap = 200
)

// MessageFilter selects messages for the read-only query surface.
type MessageFilter struct {
	Room   string
	Before time.Time
	Limit  int
}

// MessageRepository is the append-only message log. Implementations are not
// safe for concurrent use; the coordinator owns the only reference.
type MessageRepository interface {
	Append(msg models.Message) *models.Message
	Find(id int64) (*models.Message, error)
	RoomHistory(room string, limit int) []models.Message
	Recent(filter MessageFilter) []models.Message
	Search(query, room string) []models.Message
	Len() int
}

// MessageLog keeps messages in memory in append order and evicts the oldest
// records once the cap is exceeded.
type MessageLog struct {
	records []*models.Message
	byID    map[int64]*models.Message
	nextID  int64
	cap     int
	now     func() time.Time
	evicted func(n int)
}

// NewMessageLog constructs a MessageLog. A non-positive cap selects
// DefaultHistoryCap and a nil clock selects time.Now.
func NewMessageLog(capacity int, now func() time.Time) *MessageLog {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	if now == nil {
		now = time.Now
	}
	return &MessageLog{
		byID:   make(map[int64]*models.Message),
		nextID: 1,
		cap:    capacity,
		now:    now,
	}
}

// OnEvict registers a callback invoked with the number of evicted records.
func (l *MessageLog) OnEvict(fn func(n int)) {
	l.evicted = fn
}

// Append assigns the next id and timestamp, stores the record and returns it.
func (l *MessageLog) Append(msg models.Message) *models.Message {
	stored := msg.Clone()
	stored.ID = l.nextID
	stored.Timestamp = l.now().UTC()
	if stored.Reactions == nil {
		stored.Reactions = models.Reactions{}
	}
	l.nextID++

	l.records = append(l.records, &stored)
	l.byID[stored.ID] = &stored

	if over := len(l.records) - l.cap; over > 0 {
		for _, old := range l.records[:over] {
			delete(l.byID, old.ID)
		}
		// copy down so the backing array does not grow without bound
		n := copy(l.records, l.records[over:])
		clear(l.records[n:])
		l.records = l.records[:n]
		if l.evicted != nil {
			l.evicted(over)
		}
	}
	return &stored
}

// Find returns the live record so annotators can mutate it in place.
func (l *MessageLog) Find(id int64) (*models.Message, error) {
	msg, ok := l.byID[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

// RoomHistory returns up to limit of the newest room messages, oldest first.
func (l *MessageLog) RoomHistory(room string, limit int) []models.Message {
	out := []models.Message{}
	for i := len(l.records) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m := l.records[i]; !m.IsPrivate && m.Room == room {
			out = append(out, m.Clone())
		}
	}
	slices.Reverse(out)
	return out
}

// Recent returns the newest public messages matching filter, oldest first.
func (l *MessageLog) Recent(filter MessageFilter) []models.Message {
	out := []models.Message{}
	for i := len(l.records) - 1; i >= 0 && (filter.Limit <= 0 || len(out) < filter.Limit); i-- {
		m := l.records[i]
		if m.IsPrivate {
			continue
		}
		if filter.Room != "" && m.Room != filter.Room {
			continue
		}
		if !filter.Before.IsZero() && !m.Timestamp.Before(filter.Before) {
			continue
		}
		out = append(out, m.Clone())
	}
	slices.Reverse(out)
	return out
}

// Search matches query case-insensitively against text content and file
// names of public messages, returning at most SearchResultCap newest hits.
func (l *MessageLog) Search(query, room string) []models.Message {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []models.Message{}
	}
	out := []models.Message{}
	for i := len(l.records) - 1; i >= 0 && len(out) < SearchResultCap; i-- {
		m := l.records[i]
		if m.IsPrivate || (room != "" && m.Room != room) {
			continue
		}
		if strings.Contains(strings.ToLower(m.Content), q) ||
			(m.File != nil && strings.Contains(strings.ToLower(m.File.Name), q)) {
			out = append(out, m.Clone())
		}
	}
	slices.Reverse(out)
	return out
}

// Len reports how many records are currently retained.
func (l *MessageLog) Len() int {
	return len(l.records)
}
