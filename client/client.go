// Package client is a Go websocket client for the chat coordinator. It keeps
// an optimistic local timeline: outgoing messages show up immediately as
// pending records and are reconciled when the server echoes them back.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-coordinator/internal/models"
)

var (
	ErrConnectTimeout = errors.New("connection timeout")
	ErrJoinTimeout    = errors.New("room join timeout")
	ErrNotConnected   = errors.New("not connected")
	ErrClosed         = errors.New("client closed")
)

const (
	DefaultConnectTimeout    = 5 * time.Second
	DefaultJoinTimeout       = 5 * time.Second
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second

	writeWait = 10 * time.Second
)

type Config struct {
	// URL of the websocket endpoint, e.g. ws://localhost:3001/ws.
	URL      string
	Username string

	ConnectTimeout    time.Duration
	JoinTimeout       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	Dialer *websocket.Dialer
	// OnEvent, if set, sees every server event after local state is updated.
	// It runs on the read goroutine and must not block.
	OnEvent func(models.Envelope)
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Client maintains one websocket session, reconnecting when it drops.
type Client struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	reconnectErr error
	timeline     *Timeline
	outbox       [][]byte
	lastRoom     string
	joinWaiters  map[string][]chan models.JoinConfirmed
	typing       map[string][]string
	roomUsers    map[string][]models.User
	unread       map[string]int
	roster       []models.User
	lastError    string
	reconnects   int

	writeMu sync.Mutex
}

// New builds a Client. Nothing is dialed until Connect.
func New(cfg Config) *Client {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:         cfg,
		ctx:         ctx,
		cancel:      cancel,
		timeline:    NewTimeline(),
		joinWaiters: make(map[string][]chan models.JoinConfirmed),
		typing:      make(map[string][]string),
		roomUsers:   make(map[string][]models.User),
		unread:      make(map[string]int),
	}
}

// Connect dials the server and identifies. It fails with ErrConnectTimeout
// when no connection is established within the connect timeout.
func (c *Client) Connect(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := c.cfg.Dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		if isTimeout(dialCtx, err) {
			return ErrConnectTimeout
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.connected = true
	c.reconnectErr = nil
	c.mu.Unlock()

	go c.readLoop(conn)

	if c.cfg.Username != "" {
		if err := c.write(models.EventIdentify, models.IdentifyPayload{Username: c.cfg.Username}); err != nil {
			return err
		}
	}
	return nil
}

// isTimeout reports whether a failed dial ran out of time. The dialer puts the
// deadline on the socket, so the handshake can fail with an i/o timeout
// before dialCtx itself reports expiry.
func isTimeout(dialCtx context.Context, err error) bool {
	if dialCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// JoinRoom asks to join room and waits for the join-confirmed answering this
// request. The server may substitute its default room for an empty or
// malformed name; the returned backlog and the replayed join after a
// reconnect both follow the room the server confirmed.
func (c *Client) JoinRoom(ctx context.Context, room string) ([]models.Message, error) {
	requested := strings.TrimSpace(room)
	waiter := make(chan models.JoinConfirmed, 1)

	c.mu.Lock()
	c.joinWaiters[requested] = append(c.joinWaiters[requested], waiter)
	c.mu.Unlock()

	if err := c.sendOrQueue(models.EventJoinRoom, models.RoomPayload{Room: requested}); err != nil {
		c.dropWaiter(requested, waiter)
		return nil, err
	}

	timer := time.NewTimer(c.cfg.JoinTimeout)
	defer timer.Stop()

	select {
	case confirmed := <-waiter:
		c.mu.Lock()
		c.lastRoom = confirmed.Room
		c.mu.Unlock()
		return confirmed.Messages, nil
	case <-timer.C:
		c.dropWaiter(requested, waiter)
		return nil, ErrJoinTimeout
	case <-ctx.Done():
		c.dropWaiter(requested, waiter)
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClosed
	}
}

// LeaveRoom leaves room. It is not replayed after a reconnect.
func (c *Client) LeaveRoom(room string) error {
	room = normalizeRoom(room)
	c.mu.Lock()
	if c.lastRoom == room {
		c.lastRoom = ""
	}
	c.mu.Unlock()
	return c.write(models.EventLeaveRoom, models.RoomPayload{Room: room})
}

// SendMessage shows text in room as pending and sends it, or queues it until
// the connection is back.
func (c *Client) SendMessage(room, text string) (Record, error) {
	ref := uuid.NewString()
	room = normalizeRoom(room)
	rec := c.addPending(models.Message{Room: room, Content: text, ClientRef: ref})
	err := c.sendOrQueue(models.EventSendMessage, models.SendMessagePayload{Room: room, Text: text, ClientRef: ref})
	return rec, err
}

// SendFile is SendMessage for a file attachment.
func (c *Client) SendFile(room string, file models.FileRef) (Record, error) {
	ref := uuid.NewString()
	room = normalizeRoom(room)
	rec := c.addPending(models.Message{Room: room, File: &file, ClientRef: ref})
	err := c.sendOrQueue(models.EventSendFile, models.SendFilePayload{
		Room:      room,
		FileName:  file.Name,
		FileType:  file.Type,
		Payload:   file.Payload,
		ClientRef: ref,
	})
	return rec, err
}

// SendPrivate sends text to the connection to.
func (c *Client) SendPrivate(to, text string) (Record, error) {
	ref := uuid.NewString()
	rec := c.addPending(models.Message{Content: text, IsPrivate: true, RecipientID: to, ClientRef: ref})
	err := c.sendOrQueue(models.EventPrivateMessage, models.PrivateMessagePayload{To: to, Text: text, ClientRef: ref})
	return rec, err
}

func (c *Client) React(messageID int64, emoji string) error {
	return c.write(models.EventReact, models.ReactPayload{MessageID: messageID, Emoji: emoji})
}

func (c *Client) MarkRead(messageID int64) error {
	return c.write(models.EventMarkRead, models.MarkReadPayload{MessageID: messageID})
}

func (c *Client) SetTyping(room string, typing bool) error {
	return c.write(models.EventTyping, models.TypingPayload{Room: normalizeRoom(room), IsTyping: typing})
}

// Close stops reconnection and closes the connection.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) addPending(msg models.Message) Record {
	msg.Sender = c.cfg.Username
	msg.Timestamp = time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeline.AddPending(msg)
}

func (c *Client) dropWaiter(room string, waiter chan models.JoinConfirmed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiters := c.joinWaiters[room]
	for i, w := range waiters {
		if w == waiter {
			c.joinWaiters[room] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(c.joinWaiters[room]) == 0 {
		delete(c.joinWaiters, room)
	}
}

func encode(eventType string, payload any) ([]byte, error) {
	env, err := models.NewEnvelope(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// write sends one frame now or fails with ErrNotConnected.
func (c *Client) write(eventType string, payload any) error {
	frame, err := encode(eventType, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.writeFrame(conn, frame)
}

// sendOrQueue sends the frame, or keeps it for the next connection.
func (c *Client) sendOrQueue(eventType string, payload any) error {
	frame, err := encode(eventType, payload)
	if err != nil {
		return err
	}
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.outbox = append(c.outbox, frame)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.writeFrame(conn, frame); err != nil {
		c.mu.Lock()
		c.outbox = append(c.outbox, frame)
		c.mu.Unlock()
		log.Printf("client write failed, queued frame: %v", err)
	}
	return nil
}

func (c *Client) writeFrame(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("client: malformed frame: %v", err)
			continue
		}
		c.handle(env)
		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(env)
		}
	}
}

func (c *Client) connectionLost(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	_ = conn.Close()

	if c.ctx.Err() != nil {
		return
	}
	log.Printf("client: connection lost: %v", cause)
	go c.reconnect()
}

// reconnect redials with a fixed delay, then re-identifies, replays the last
// join and flushes queued frames.
func (c *Client) reconnect() {
	attempt := 0
	op := func() error {
		attempt++
		err := c.dial(c.ctx)
		if errors.Is(err, ErrClosed) {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.Printf("client: reconnect attempt %d/%d failed: %v", attempt, c.cfg.ReconnectAttempts, err)
		}
		return err
	}

	select {
	case <-time.After(c.cfg.ReconnectDelay):
	case <-c.ctx.Done():
		return
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.ReconnectDelay), uint64(c.cfg.ReconnectAttempts-1)),
		c.ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		c.mu.Lock()
		c.reconnectErr = err
		c.mu.Unlock()
		log.Printf("client: giving up reconnecting: %v", err)
		return
	}

	c.mu.Lock()
	c.reconnects++
	room := c.lastRoom
	outbox := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	if room != "" {
		if err := c.sendOrQueue(models.EventJoinRoom, models.RoomPayload{Room: room}); err != nil {
			log.Printf("client: rejoin %s failed: %v", room, err)
		}
	}
	c.flush(outbox)
}

func (c *Client) flush(frames [][]byte) {
	for i, frame := range frames {
		c.mu.Lock()
		conn := c.conn
		if conn == nil {
			c.outbox = append(frames[i:len(frames):len(frames)], c.outbox...)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		if err := c.writeFrame(conn, frame); err != nil {
			c.mu.Lock()
			c.outbox = append(frames[i:len(frames):len(frames)], c.outbox...)
			c.mu.Unlock()
			return
		}
	}
}

func (c *Client) handle(env models.Envelope) {
	switch env.Type {
	case models.EventReceiveMessage, models.EventPrivateMessage:
		var msg models.Message
		if decode(env, &msg) {
			c.mu.Lock()
			c.timeline.Reconcile(msg)
			c.mu.Unlock()
		}

	case models.EventJoinConfirmed:
		var in models.JoinConfirmed
		if !decode(env, &in) {
			return
		}
		c.mu.Lock()
		c.timeline.ReplaceRoom(in.Room, in.Messages)
		waiters := c.joinWaiters[in.Requested]
		delete(c.joinWaiters, in.Requested)
		c.mu.Unlock()
		for _, w := range waiters {
			w <- in
		}

	case models.EventReactionUpdated:
		var in models.ReactionUpdated
		if decode(env, &in) {
			c.mu.Lock()
			c.timeline.ApplyReactions(in.MessageID, in.Reactions)
			c.mu.Unlock()
		}

	case models.EventReadUpdated:
		var in models.ReadUpdated
		if decode(env, &in) {
			c.mu.Lock()
			c.timeline.ApplyReadBy(in.MessageID, in.ReadBy)
			c.mu.Unlock()
		}

	case models.EventTypingUsers:
		var in models.TypingUsers
		if decode(env, &in) {
			c.mu.Lock()
			c.typing[in.Room] = in.Users
			c.mu.Unlock()
		}

	case models.EventRoomUsers:
		var in models.RoomUsers
		if decode(env, &in) {
			c.mu.Lock()
			c.roomUsers[in.Room] = in.Users
			c.mu.Unlock()
		}

	case models.EventRosterUpdated:
		var in models.RosterUpdated
		if decode(env, &in) {
			c.mu.Lock()
			c.roster = in.Users
			c.mu.Unlock()
		}

	case models.EventUnreadCounters:
		var in models.UnreadCounters
		if decode(env, &in) {
			c.mu.Lock()
			c.unread = in.Counts
			c.mu.Unlock()
		}

	case models.EventError:
		var in models.ErrorEvent
		if decode(env, &in) {
			log.Printf("client: server rejected frame: %s", in.Reason)
			c.mu.Lock()
			c.lastError = in.Reason
			c.mu.Unlock()
		}
	}
}

func decode(env models.Envelope, v any) bool {
	if err := env.Decode(v); err != nil {
		log.Printf("client: %v", err)
		return false
	}
	return true
}

func normalizeRoom(room string) string {
	room = strings.TrimSpace(room)
	if room == "" {
		return models.DefaultRoom
	}
	return room
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ReconnectErr is set once reconnection has been given up.
func (c *Client) ReconnectErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectErr
}

// Reconnects counts successful reconnections.
func (c *Client) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// Messages returns the whole timeline.
func (c *Client) Messages() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeline.Records()
}

// RoomMessages returns the timeline of one room.
func (c *Client) RoomMessages(room string) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeline.Room(normalizeRoom(room))
}

func (c *Client) TypingUsers(room string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.typing[normalizeRoom(room)]...)
}

func (c *Client) RoomUsers(room string) []models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.User{}, c.roomUsers[normalizeRoom(room)]...)
}

func (c *Client) Roster() []models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.User{}, c.roster...)
}

func (c *Client) UnreadCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.unread))
	for room, n := range c.unread {
		out[room] = n
	}
	return out
}

// LastError is the reason of the most recent server error event.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}
