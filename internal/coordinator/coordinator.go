// Package coordinator owns the in-memory chat state: the connection registry,
// room membership, the message log, typing flags and unread counters. Every
// operation is executed on the goroutine running Coordinator.Run, one at a
// time, so the state itself carries no locks.
package coordinator

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"chat-coordinator/internal/models"
	"chat-coordinator/internal/observability"
	"chat-coordinator/internal/repositories"
)

var ErrStopped = errors.New("coordinator stopped")

const (
	DefaultBacklogSize = 100
	maxRoomNameLength  = 64
)

// Dispatcher delivers events to live connections. Implementations must not
// block: delivery is best effort.
type Dispatcher interface {
	SendTo(connID string, eventType string, payload any)
	SendToMany(connIDs []string, eventType string, payload any)
	Broadcast(eventType string, payload any)
}

// Observer is notified of every stored or annotated message.
type Observer interface {
	MessageStored(msg models.Message)
	MessageAnnotated(msg models.Message)
}

// Options tune a Coordinator. Zero values select defaults.
type Options struct {
	DefaultRoom   string
	HistoryCap    int
	BacklogSize   int
	TypingTTL     time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	Observer      Observer
}

// Coordinator serializes every state change through a single goroutine.
type Coordinator struct {
	cmds     chan func()
	stopped  chan struct{}
	dispatch Dispatcher
	observer Observer
	now      func() time.Time

	defaultRoom   string
	backlogSize   int
	sweepInterval time.Duration

	registry *registry
	rooms    *membership
	messages repositories.MessageRepository
	typing   *typingTracker
	unread   *unreadMatrix
}

// New constructs a Coordinator. It does nothing until Run is called.
func New(dispatch Dispatcher, opts Options) *Coordinator {
	if opts.DefaultRoom == "" {
		opts.DefaultRoom = models.DefaultRoom
	}
	if opts.BacklogSize <= 0 {
		opts.BacklogSize = DefaultBacklogSize
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = DefaultTypingTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = opts.TypingTTL / 2
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	messageLog := repositories.NewMessageLog(opts.HistoryCap, opts.Now)
	messageLog.OnEvict(observability.AddMessagesEvicted)

	return &Coordinator{
		cmds:          make(chan func()),
		stopped:       make(chan struct{}),
		dispatch:      dispatch,
		observer:      opts.Observer,
		now:           opts.Now,
		defaultRoom:   opts.DefaultRoom,
		backlogSize:   opts.BacklogSize,
		sweepInterval: opts.SweepInterval,
		registry:      newRegistry(),
		rooms:         newMembership(),
		messages:      messageLog,
		typing:        newTypingTracker(opts.TypingTTL),
		unread:        newUnreadMatrix(),
	}
}

// Run processes commands until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.stopped)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	log.Printf("coordinator started default_room=%s backlog=%d", c.defaultRoom, c.backlogSize)
	for {
		select {
		case <-ctx.Done():
			log.Printf("coordinator stopped: %v", ctx.Err())
			return
		case cmd := <-c.cmds:
			cmd()
		case <-ticker.C:
			c.expireTyping()
		}
	}
}

// Done is closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.stopped
}

// do runs fn on the coordinator goroutine and waits for it to finish.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}
	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	// once accepted the command always runs to completion
	<-finished
	return nil
}

// normalizeRoom maps empty or malformed room names to the default room.
func (c *Coordinator) normalizeRoom(room string) string {
	room = strings.TrimSpace(room)
	if room == "" || utf8.RuneCountInString(room) > maxRoomNameLength {
		return c.defaultRoom
	}
	return room
}

// Connect registers a new transport connection.
func (c *Coordinator) Connect(ctx context.Context, connID string) error {
	return c.do(ctx, func() {
		c.registry.add(connID, c.now())
		observability.IncCoordinatorEvent("connect")
	})
}

// Identify attaches a username to the connection and announces it.
func (c *Coordinator) Identify(ctx context.Context, connID, username string) error {
	return c.do(ctx, func() {
		conn, ok := c.registry.get(connID)
		if !ok {
			log.Printf("identify from unknown connection conn_id=%s", connID)
			return
		}
		conn.username = strings.TrimSpace(username)
		observability.IncCoordinatorEvent("identify")

		c.dispatch.Broadcast(models.EventRosterUpdated, models.RosterUpdated{Users: c.registry.roster()})
		c.dispatch.Broadcast(models.EventUserJoined, models.User{ID: connID, Username: conn.username})
		log.Printf("%s identified conn_id=%s", conn.username, connID)
	})
}

// JoinRoom adds the connection to room, replies with join-confirmed and
// returns the backlog that was sent.
func (c *Coordinator) JoinRoom(ctx context.Context, connID, room string) ([]models.Message, error) {
	var backlog []models.Message
	requested := room
	err := c.do(ctx, func() {
		room = c.normalizeRoom(room)
		c.rooms.join(connID, room)
		c.unread.reset(connID, room)
		backlog = c.messages.RoomHistory(room, c.backlogSize)
		observability.IncCoordinatorEvent("join")

		c.dispatch.SendTo(connID, models.EventJoinConfirmed, models.JoinConfirmed{Room: room, Requested: requested, Messages: backlog})
		c.announceRoomUsers(room)
	})
	return backlog, err
}

// LeaveRoom removes the connection from room.
func (c *Coordinator) LeaveRoom(ctx context.Context, connID, room string) error {
	return c.do(ctx, func() {
		room = c.normalizeRoom(room)
		if !c.rooms.leave(connID, room) {
			return
		}
		observability.IncCoordinatorEvent("leave")
		if c.typing.stop(room, connID) {
			c.announceTyping(room)
		}
		c.announceRoomUsers(room)
	})
}

// Disconnect tears down everything owned by the connection, including rows
// left by a connection that was never registered.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) error {
	return c.do(ctx, func() {
		left := c.rooms.leaveAll(connID)
		for _, room := range c.typing.dropConn(connID) {
			c.announceTyping(room)
		}
		c.unread.drop(connID)
		for _, room := range left {
			c.announceRoomUsers(room)
		}

		conn, ok := c.registry.remove(connID)
		if !ok {
			return
		}
		observability.IncCoordinatorEvent("disconnect")

		if conn.username != "" {
			c.dispatch.Broadcast(models.EventUserLeft, models.User{ID: connID, Username: conn.username})
			log.Printf("%s left conn_id=%s", conn.username, connID)
		}
		c.dispatch.Broadcast(models.EventRosterUpdated, models.RosterUpdated{Users: c.registry.roster()})
	})
}

// SendMessage appends a text message to a room and fans it out.
func (c *Coordinator) SendMessage(ctx context.Context, connID string, in models.SendMessagePayload) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, func() {
		out = c.appendRoomMessage(connID, models.Message{
			Room:      in.Room,
			Content:   in.Text,
			ClientRef: in.ClientRef,
		})
	})
	return out, err
}

// SendFile appends a file message to a room and fans it out.
func (c *Coordinator) SendFile(ctx context.Context, connID string, in models.SendFilePayload) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, func() {
		out = c.appendRoomMessage(connID, models.Message{
			Room:      in.Room,
			File:      &models.FileRef{Name: in.FileName, Type: in.FileType, Payload: in.Payload},
			ClientRef: in.ClientRef,
		})
	})
	return out, err
}

func (c *Coordinator) appendRoomMessage(connID string, msg models.Message) models.Message {
	msg.Room = c.normalizeRoom(msg.Room)
	msg.Sender = c.registry.name(connID)
	msg.SenderID = connID
	stored := c.messages.Append(msg)
	out := stored.Clone()
	observability.IncCoordinatorEvent("message")
	observability.SetMessageLogSize(c.messages.Len())
	if c.observer != nil {
		c.observer.MessageStored(out)
	}

	recipients := c.rooms.members(out.Room)
	if !c.rooms.isMember(connID, out.Room) {
		// the sender always gets its own echo so pending copies reconcile
		recipients = append(recipients, connID)
	}
	c.dispatch.SendToMany(recipients, models.EventReceiveMessage, out)

	for _, member := range c.rooms.members(out.Room) {
		if member == connID {
			continue
		}
		c.unread.increment(member, out.Room)
		c.pushUnread(member)
	}
	return out
}

// SendPrivate stores a private message and delivers it to sender and
// recipient only.
func (c *Coordinator) SendPrivate(ctx context.Context, connID string, in models.PrivateMessagePayload) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, func() {
		msg := models.Message{
			Sender:      c.registry.name(connID),
			SenderID:    connID,
			Content:     in.Text,
			IsPrivate:   true,
			RecipientID: in.To,
			ClientRef:   in.ClientRef,
		}
		recipient, known := c.registry.get(in.To)
		if known {
			msg.Recipient = recipient.username
		} else {
			log.Printf("private message to unknown connection from=%s to=%s", connID, in.To)
		}
		out = c.messages.Append(msg).Clone()
		observability.IncCoordinatorEvent("private_message")
		observability.SetMessageLogSize(c.messages.Len())
		if c.observer != nil {
			c.observer.MessageStored(out)
		}
		targets := privateParties(out)
		if !known {
			targets = []string{connID}
		}
		c.dispatch.SendToMany(targets, models.EventPrivateMessage, out)
	})
	return out, err
}

// SetTyping toggles the typing flag of the connection in room and
// rebroadcasts the room's full typing set.
func (c *Coordinator) SetTyping(ctx context.Context, connID, room string, typing bool) error {
	return c.do(ctx, func() {
		conn, ok := c.registry.get(connID)
		if !ok || conn.username == "" {
			return
		}
		room = c.normalizeRoom(room)
		if typing {
			c.typing.start(room, connID, conn.username, c.now())
		} else {
			c.typing.stop(room, connID)
		}
		observability.IncCoordinatorEvent("typing")
		c.announceTyping(room)
	})
}

func (c *Coordinator) expireTyping() {
	for _, room := range c.typing.expire(c.now()) {
		observability.IncCoordinatorEvent("typing_expired")
		c.announceTyping(room)
	}
}

func (c *Coordinator) announceTyping(room string) {
	c.dispatch.SendToMany(c.rooms.members(room), models.EventTypingUsers, models.TypingUsers{
		Room:  room,
		Users: c.typing.users(room),
	})
}

func (c *Coordinator) announceRoomUsers(room string) {
	members := c.rooms.members(room)
	c.dispatch.SendToMany(members, models.EventRoomUsers, models.RoomUsers{
		Room:  room,
		Users: c.registry.usersOf(members),
	})
}

func (c *Coordinator) pushUnread(connID string) {
	c.dispatch.SendTo(connID, models.EventUnreadCounters, models.UnreadCounters{Counts: c.unread.snapshot(connID)})
}

func privateParties(msg models.Message) []string {
	if msg.RecipientID == "" || msg.RecipientID == msg.SenderID {
		return []string{msg.SenderID}
	}
	return []string{msg.SenderID, msg.RecipientID}
}
