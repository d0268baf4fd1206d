package models

import (
	"slices"
	"time"
)

// DefaultRoom is used whenever a room name is missing or malformed.
const DefaultRoom = "general"

// FileRef describes an attached file. Payload is an opaque handle that the
// coordinator never decodes.
type FileRef struct {
	Name    string `json:"fileName"`
	Type    string `json:"fileType"`
	Payload string `json:"fileData"`
}

// Reactions maps an emoji to the usernames that reacted with it, in the order
// they reacted.
type Reactions map[string][]string

// Message is a single record of the message log.
type Message struct {
	ID          int64     `json:"id"`
	Room        string    `json:"room,omitempty"`
	Sender      string    `json:"sender"`
	SenderID    string    `json:"senderId"`
	Timestamp   time.Time `json:"timestamp"`
	Content     string    `json:"message,omitempty"`
	File        *FileRef  `json:"file,omitempty"`
	IsPrivate   bool      `json:"isPrivate"`
	RecipientID string    `json:"recipientId,omitempty"`
	Recipient   string    `json:"recipient,omitempty"`
	Reactions   Reactions `json:"reactions"`
	ReadBy      []string  `json:"readBy"`
	ClientRef   string    `json:"clientRef,omitempty"`
}

// IsFile reports whether the message carries a file instead of text.
func (m *Message) IsFile() bool {
	return m.File != nil
}

// AddReaction records username under emoji. It returns false when the
// username already reacted with that emoji.
func (m *Message) AddReaction(emoji, username string) bool {
	if m.Reactions == nil {
		m.Reactions = Reactions{}
	}
	if slices.Contains(m.Reactions[emoji], username) {
		return false
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], username)
	return true
}

// MarkReadBy records username as a reader. It returns false when the
// username was already recorded.
func (m *Message) MarkReadBy(username string) bool {
	if slices.Contains(m.ReadBy, username) {
		return false
	}
	m.ReadBy = append(m.ReadBy, username)
	return true
}

// Clone returns a deep copy that shares no mutable state with m.
func (m Message) Clone() Message {
	out := m
	if m.File != nil {
		file := *m.File
		out.File = &file
	}
	out.Reactions = m.Reactions.Clone()
	out.ReadBy = append([]string{}, m.ReadBy...)
	return out
}

// Clone returns a deep copy of the reaction map.
func (r Reactions) Clone() Reactions {
	out := make(Reactions, len(r))
	for emoji, users := range r {
		out[emoji] = append([]string(nil), users...)
	}
	return out
}
