package models

import (
	"encoding/json"
	"fmt"
)

// Event names exchanged over the websocket.
const (
	EventIdentify        = "identify"
	EventJoinRoom        = "join-room"
	EventLeaveRoom       = "leave-room"
	EventJoinConfirmed   = "join-confirmed"
	EventSendMessage     = "send-message"
	EventSendFile        = "send-file"
	EventReceiveMessage  = "receive-message"
	EventPrivateMessage  = "private-message"
	EventTyping          = "typing"
	EventTypingUsers     = "typing-users"
	EventReact           = "react-to-message"
	EventReactionUpdated = "reaction-updated"
	EventMarkRead        = "mark-read"
	EventReadUpdated     = "read-updated"
	EventRosterUpdated   = "roster-updated"
	EventRoomUsers       = "room-users"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventUnreadCounters  = "unread-counters"
	EventError           = "error"
)

// Envelope is the frame carried by every websocket message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps payload under the given event type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	env := Envelope{Type: eventType}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Client to server payloads.

type IdentifyPayload struct {
	Username string `json:"username" validate:"required,max=64"`
}

type RoomPayload struct {
	Room string `json:"room"`
}

type SendMessagePayload struct {
	Room      string `json:"room"`
	Text      string `json:"text" validate:"required,max=4096"`
	ClientRef string `json:"clientRef,omitempty" validate:"omitempty,max=64"`
}

type SendFilePayload struct {
	Room      string `json:"room"`
	FileName  string `json:"fileName" validate:"required,max=255"`
	FileType  string `json:"fileType" validate:"max=255"`
	Payload   string `json:"fileData" validate:"required"`
	ClientRef string `json:"clientRef,omitempty" validate:"omitempty,max=64"`
}

type PrivateMessagePayload struct {
	To        string `json:"to" validate:"required"`
	Text      string `json:"text" validate:"required,max=4096"`
	ClientRef string `json:"clientRef,omitempty" validate:"omitempty,max=64"`
}

type TypingPayload struct {
	Room     string `json:"room"`
	IsTyping bool   `json:"isTyping"`
}

type ReactPayload struct {
	MessageID int64  `json:"messageId" validate:"required"`
	Emoji     string `json:"emoji" validate:"max=32"`
}

type MarkReadPayload struct {
	MessageID int64 `json:"messageId" validate:"required"`
}

// Server to client payloads.

// JoinConfirmed carries the room actually joined. Requested echoes the name
// the client asked for, which differs when the server substituted its default.
type JoinConfirmed struct {
	Room      string    `json:"room"`
	Requested string    `json:"requested"`
	Messages  []Message `json:"messages"`
}

type TypingUsers struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

type ReactionUpdated struct {
	MessageID int64     `json:"messageId"`
	Reactions Reactions `json:"reactions"`
}

type ReadUpdated struct {
	MessageID int64    `json:"messageId"`
	ReadBy    []string `json:"readBy"`
}

type RosterUpdated struct {
	Users []User `json:"users"`
}

type RoomUsers struct {
	Room  string `json:"room"`
	Users []User `json:"users"`
}

type UnreadCounters struct {
	Counts map[string]int `json:"counts"`
}

type ErrorEvent struct {
	Reason string `json:"reason"`
}
