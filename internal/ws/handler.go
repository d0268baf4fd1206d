package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"chat-coordinator/internal/coordinator"
	"chat-coordinator/internal/models"
	"chat-coordinator/internal/observability"
	"chat-coordinator/internal/telemetry"
)

// Coordinator is the part of the chat coordinator the websocket layer drives.
type Coordinator interface {
	Connect(ctx context.Context, connID string) error
	Identify(ctx context.Context, connID, username string) error
	JoinRoom(ctx context.Context, connID, room string) ([]models.Message, error)
	LeaveRoom(ctx context.Context, connID, room string) error
	Disconnect(ctx context.Context, connID string) error
	SendMessage(ctx context.Context, connID string, in models.SendMessagePayload) (models.Message, error)
	SendFile(ctx context.Context, connID string, in models.SendFilePayload) (models.Message, error)
	SendPrivate(ctx context.Context, connID string, in models.PrivateMessagePayload) (models.Message, error)
	SetTyping(ctx context.Context, connID, room string, typing bool) error
	React(ctx context.Context, connID string, messageID int64, emoji string) error
	MarkRead(ctx context.Context, connID string, messageID int64) error
}

var errEmptyPayload = errors.New("empty payload")

var inboundEvents = map[string]struct{}{
	models.EventIdentify:       {},
	models.EventJoinRoom:       {},
	models.EventLeaveRoom:      {},
	models.EventSendMessage:    {},
	models.EventSendFile:       {},
	models.EventPrivateMessage: {},
	models.EventTyping:         {},
	models.EventReact:          {},
	models.EventMarkRead:       {},
}

// Handler upgrades HTTP requests to websocket connections and feeds their
// frames into the coordinator.
type Handler struct {
	hub      *Hub
	coord    Coordinator
	audit    *telemetry.AuditEmitter
	validate *validator.Validate
}

// NewHandler constructs a Handler. audit may be nil.
func NewHandler(hub *Hub, coord Coordinator, audit *telemetry.AuditEmitter) *Handler {
	return &Handler{
		hub:      hub,
		coord:    coord,
		audit:    audit,
		validate: validator.New(),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handle upgrades the connection, registers it and runs its read loop.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-coordinator/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		Username:    strings.TrimSpace(c.Query("username")),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	// the request context ends when this handler returns
	connCtx := context.WithoutCancel(ctx)

	client := h.hub.Register(conn, info)
	if err := h.coord.Connect(connCtx, info.ConnID); err != nil {
		log.Printf("coordinator connect failed conn_id=%s: %v", info.ConnID, err)
		h.hub.Unregister(info.ConnID)
		client.close()
		return
	}
	go client.writePump()

	observability.IncWSActive()
	h.publish(connCtx, info, "ws_connect", "")
	h.audit.Emit(connCtx, "info", "websocket connected", info.RequestID, info.ConnID, nil)

	if info.Username != "" {
		if err := h.coord.Identify(connCtx, info.ConnID, info.Username); err != nil {
			log.Printf("identify failed conn_id=%s: %v", info.ConnID, err)
		}
	}

	go h.readLoop(connCtx, client)
}

func (h *Handler) readLoop(ctx context.Context, client *Client) {
	info := client.info
	var closeReason string
	defer func() {
		if err := h.coord.Disconnect(ctx, info.ConnID); err != nil {
			log.Printf("coordinator disconnect failed conn_id=%s: %v", info.ConnID, err)
		}
		h.hub.Unregister(info.ConnID)
		observability.DecWSActive()
		h.publish(ctx, info, "ws_disconnect", closeReason)
		h.audit.Emit(ctx, "info", "websocket disconnected", info.RequestID, info.ConnID, nil)
		client.close()
	}()

	client.setupRead()
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.publish(ctx, info, "ws_error", closeReason)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.reject(info.ConnID, "malformed frame")
			continue
		}
		if err := h.dispatch(ctx, &info, env); err != nil {
			if errors.Is(err, coordinator.ErrStopped) || errors.Is(err, context.Canceled) {
				closeReason = err.Error()
				return
			}
			h.reject(info.ConnID, err.Error())
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, info *ConnInfo, env models.Envelope) error {
	connID := info.ConnID
	if _, ok := inboundEvents[env.Type]; !ok {
		observability.IncWSEvent("unknown")
		return errors.New("unknown event " + env.Type)
	}
	observability.IncWSEvent(env.Type)

	switch env.Type {
	case models.EventIdentify:
		var in models.IdentifyPayload
		if err := h.decode(env, &in); err != nil {
			return err
		}
		info.Username = strings.TrimSpace(in.Username)
		username := info.Username
		h.audit.Emit(ctx, "info", "user identified", info.RequestID, connID, &username)
		return h.coord.Identify(ctx, connID, in.Username)

	case models.EventJoinRoom:
		var in models.RoomPayload
		if err := h.decodeOptional(env, &in); err != nil {
			return err
		}
		_, err := h.coord.JoinRoom(ctx, connID, in.Room)
		return err

	case models.EventLeaveRoom:
		var in models.RoomPayload
		if err := h.decodeOptional(env, &in); err != nil {
			return err
		}
		return h.coord.LeaveRoom(ctx, connID, in.Room)

	case models.EventSendMessage:
		var in models.SendMessagePayload
		if err := h.decode(env, &in); err != nil {
			return err
		}
		_, err := h.coord.SendMessage(ctx, connID, in)
		return err

	case models.EventSendFile:
		var in models.SendFilePayload
		if err := h.decode(env, &in); err != nil {
			return err
		}
		_, err := h.coord.SendFile(ctx, connID, in)
		return err

	case models.EventPrivateMessage:
		var in models.PrivateMessagePayload
		if err := h.decode(env, &in); err != nil {
			return err
		}
		_, err := h.coord.SendPrivate(ctx, connID, in)
		return err

	case models.EventTyping:
		var in models.TypingPayload
		if err := h.decodeOptional(env, &in); err != nil {
			return err
		}
		return h.coord.SetTyping(ctx, connID, in.Room, in.IsTyping)

	case models.EventReact:
		var in models.ReactPayload
		if err := h.decode(env, &in); err != nil {
			return err
		}
		return h.coord.React(ctx, connID, in.MessageID, in.Emoji)

	case models.EventMarkRead:
		var in models.MarkReadPayload
		if err := h.decode(env, &in); err != nil {
			return err
		}
		return h.coord.MarkRead(ctx, connID, in.MessageID)

	default:
		return errors.New("unknown event " + env.Type)
	}
}

func (h *Handler) decode(env models.Envelope, v any) error {
	if len(env.Payload) == 0 {
		return errEmptyPayload
	}
	if err := env.Decode(v); err != nil {
		return err
	}
	return h.validate.Struct(v)
}

// decodeOptional accepts a missing payload and leaves v at its zero value.
func (h *Handler) decodeOptional(env models.Envelope, v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}
	return h.decode(env, v)
}

func (h *Handler) reject(connID, reason string) {
	observability.IncWSEvent("rejected")
	h.hub.SendTo(connID, models.EventError, models.ErrorEvent{Reason: reason})
}

func (h *Handler) publish(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	_ = observability.PublishEvent(ctx, observability.WSRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   info.event(event, reason, time.Now()),
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
