package coordinator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-coordinator/internal/models"
	"chat-coordinator/internal/repositories"
)

type delivery struct {
	to        []string
	broadcast bool
	event     string
	payload   any
}

// recorder is a Dispatcher that keeps everything it was asked to deliver.
type recorder struct {
	mu   sync.Mutex
	sent []delivery
}

func (r *recorder) SendTo(connID string, eventType string, payload any) {
	r.add(delivery{to: []string{connID}, event: eventType, payload: payload})
}

func (r *recorder) SendToMany(connIDs []string, eventType string, payload any) {
	r.add(delivery{to: append([]string{}, connIDs...), event: eventType, payload: payload})
}

func (r *recorder) Broadcast(eventType string, payload any) {
	r.add(delivery{broadcast: true, event: eventType, payload: payload})
}

func (r *recorder) add(d delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, d)
}

// received returns the payloads of eventType that reached connID.
func (r *recorder) received(connID, eventType string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, d := range r.sent {
		if d.event != eventType {
			continue
		}
		if d.broadcast || contains(d.to, connID) {
			out = append(out, d.payload)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type recordingObserver struct {
	mu        sync.Mutex
	stored    []models.Message
	annotated []models.Message
}

func (o *recordingObserver) MessageStored(msg models.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stored = append(o.stored, msg)
}

func (o *recordingObserver) MessageAnnotated(msg models.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.annotated = append(o.annotated, msg)
}

func startCoordinator(t *testing.T, opts Options) (*Coordinator, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := New(rec, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return c, rec
}

// join connects, identifies and joins room in one go.
func join(t *testing.T, c *Coordinator, connID, username, room string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, connID))
	if username != "" {
		require.NoError(t, c.Identify(ctx, connID, username))
	}
	if room != "" {
		_, err := c.JoinRoom(ctx, connID, room)
		require.NoError(t, err)
	}
}

func say(t *testing.T, c *Coordinator, connID, room, text string) models.Message {
	t.Helper()
	msg, err := c.SendMessage(context.Background(), connID, models.SendMessagePayload{Room: room, Text: text})
	require.NoError(t, err)
	return msg
}

func TestBacklogContainsEarlierMessage(t *testing.T) {
	c, rec := startCoordinator(t, Options{})
	ctx := context.Background()

	join(t, c, "a", "alice", "general")
	say(t, c, "a", "general", "hi")

	join(t, c, "b", "bob", "")
	backlog, err := c.JoinRoom(ctx, "b", "general")
	require.NoError(t, err)
	require.Len(t, backlog, 1)
	require.Equal(t, "hi", backlog[0].Content)
	require.Equal(t, "alice", backlog[0].Sender)

	confirmations := rec.received("b", models.EventJoinConfirmed)
	require.Len(t, confirmations, 1)
	confirmed := confirmations[0].(models.JoinConfirmed)
	require.Equal(t, "general", confirmed.Room)
	require.Equal(t, backlog, confirmed.Messages)
}

func TestBacklogIsBoundedAndOrdered(t *testing.T) {
	c, _ := startCoordinator(t, Options{BacklogSize: 3})

	join(t, c, "a", "alice", "general")
	for _, text := range []string{"1", "2", "3", "4", "5"} {
		say(t, c, "a", "general", text)
		say(t, c, "a", "random", "x")
	}

	backlog, err := c.JoinRoom(context.Background(), "a", "general")
	require.NoError(t, err)
	require.Len(t, backlog, 3)
	require.Equal(t, []string{"3", "4", "5"}, []string{backlog[0].Content, backlog[1].Content, backlog[2].Content})
	for i := 1; i < len(backlog); i++ {
		require.Greater(t, backlog[i].ID, backlog[i-1].ID)
	}
}

func TestMessageFanOutAndSenderEcho(t *testing.T) {
	c, rec := startCoordinator(t, Options{})

	join(t, c, "a", "alice", "general")
	join(t, c, "b", "bob", "general")
	join(t, c, "out", "olga", "random")

	msg, err := c.SendMessage(context.Background(), "out", models.SendMessagePayload{Room: "general", Text: "hello", ClientRef: "r1"})
	require.NoError(t, err)
	require.Equal(t, "r1", msg.ClientRef)
	require.Equal(t, "olga", msg.Sender)

	for _, id := range []string{"a", "b", "out"} {
		got := rec.received(id, models.EventReceiveMessage)
		require.Len(t, got, 1, id)
		require.Equal(t, msg.ID, got[0].(models.Message).ID)
	}
}

func TestRoomNamesAreNormalized(t *testing.T) {
	c, _ := startCoordinator(t, Options{})
	ctx := context.Background()
	join(t, c, "a", "alice", "")

	_, err := c.JoinRoom(ctx, "a", "   ")
	require.NoError(t, err)
	_, err = c.JoinRoom(ctx, "a", strings.Repeat("x", maxRoomNameLength+1))
	require.NoError(t, err)
	msg := say(t, c, "a", "", "where am I")
	require.Equal(t, models.DefaultRoom, msg.Room)

	rooms, err := c.Rooms(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{models.DefaultRoom: 1}, rooms)
}

func TestJoinConfirmationEchoesRequestedRoom(t *testing.T) {
	c, rec := startCoordinator(t, Options{DefaultRoom: "lobby"})
	ctx := context.Background()
	join(t, c, "a", "alice", "")

	long := strings.Repeat("r", maxRoomNameLength+1)
	_, err := c.JoinRoom(ctx, "a", long)
	require.NoError(t, err)

	confirmations := rec.received("a", models.EventJoinConfirmed)
	require.Len(t, confirmations, 1)
	confirmed := confirmations[0].(models.JoinConfirmed)
	require.Equal(t, "lobby", confirmed.Room)
	require.Equal(t, long, confirmed.Requested)
}

func TestDisconnectCleansUpUnregisteredConnection(t *testing.T) {
	c, rec := startCoordinator(t, Options{})
	ctx := context.Background()
	join(t, c, "b", "bob", "general")

	_, err := c.JoinRoom(ctx, "ghost", "general")
	require.NoError(t, err)
	say(t, c, "b", "general", "anyone?")
	rec.reset()

	require.NoError(t, c.Disconnect(ctx, "ghost"))

	rooms, err := c.Rooms(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rooms["general"])

	counts, err := c.UnreadCounts(ctx, "ghost")
	require.NoError(t, err)
	require.Empty(t, counts)

	roomUsers := rec.received("b", models.EventRoomUsers)
	require.Len(t, roomUsers, 1)
	require.Equal(t, []models.User{{ID: "b", Username: "bob"}}, roomUsers[0].(models.RoomUsers).Users)
	require.Empty(t, rec.received("b", models.EventUserLeft))
	require.Empty(t, rec.received("b", models.EventRosterUpdated))
}

func TestUnreadCountsMessagesByOthersSinceLastRead(t *testing.T) {
	c, rec := startCoordinator(t, Options{})
	ctx := context.Background()

	join(t, c, "a", "alice", "general")
	join(t, c, "b", "bob", "general")
	join(t, c, "c", "carol", "general")

	say(t, c, "a", "general", "1")
	second := say(t, c, "a", "general", "2")
	say(t, c, "a", "general", "3")

	counts, err := c.UnreadCounts(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, 3, counts["general"])
	counts, err = c.UnreadCounts(ctx, "a")
	require.NoError(t, err)
	require.Zero(t, counts["general"])

	// any read mark clears the whole room
	require.NoError(t, c.MarkRead(ctx, "b", second.ID))
	counts, _ = c.UnreadCounts(ctx, "b")
	require.Zero(t, counts["general"])

	say(t, c, "a", "general", "4")
	counts, _ = c.UnreadCounts(ctx, "b")
	require.Equal(t, 1, counts["general"])
	counts, _ = c.UnreadCounts(ctx, "c")
	require.Equal(t, 4, counts["general"])

	pushed := rec.received("c", models.EventUnreadCounters)
	require.Len(t, pushed, 4)
	require.Equal(t, 4, pushed[3].(models.UnreadCounters).Counts["general"])
}

func TestDoubleMarkReadRecordsReaderOnce(t *testing.T) {
	obs := &recordingObserver{}
	c, rec := startCoordinator(t, Options{Observer: obs})
	ctx := context.Background()

	join(t, c, "a", "alice", "general")
	join(t, c, "b", "bob", "general")
	msg := say(t, c, "a", "general", "read me")

	require.NoError(t, c.MarkRead(ctx, "b", msg.ID))
	require.NoError(t, c.MarkRead(ctx, "b", msg.ID))

	updates := rec.received("a", models.EventReadUpdated)
	require.Len(t, updates, 2)
	for _, u := range updates {
		require.Equal(t, []string{"bob"}, u.(models.ReadUpdated).ReadBy)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.stored, 1)
	require.Len(t, obs.annotated, 1)
}

func TestReactionsAreDeduplicated(t *testing.T) {
	c, rec := startCoordinator(t, Options{})
	ctx := context.Background()

	join(t, c, "a", "alice", "general")
	join(t, c, "b", "bob", "general")
	msg := say(t, c, "a", "general", "nice")

	require.NoError(t, c.React(ctx, "a", msg.ID, "👍"))
	require.NoError(t, c.React(ctx, "a", msg.ID, "👍"))
	require.NoError(t, c.React(ctx, "b", msg.ID, "👍"))
	require.NoError(t, c.React(ctx, "b", msg.ID, ""))

	updates := rec.received("b", models.EventReactionUpdated)
	require.Len(t, updates, 3)
	last := updates[2].(models.ReactionUpdated)
	require.Equal(t, msg.ID, last.MessageID)
	require.Equal(t, []string{"alice", "bob"}, last.Reactions["👍"])
}

func TestEvictedMessageReactIsNoOp(t *testing.T) {
	c, rec := startCoordinator(t, Options{HistoryCap: 2})
	ctx := context.Background()

	join(t, c, "a", "alice", "general")
	first := say(t, c, "a", "general", "1")
	say(t, c, "a", "general", "2")
	say(t, c, "a", "general", "3")

	require.NoError(t, c.React(ctx, "a", first.ID, "👍"))
	require.NoError(t, c.MarkRead(ctx, "a", first.ID))
	require.Empty(t, rec.received("a", models.EventReactionUpdated))
	require.Empty(t, rec.received("a", models.EventReadUpdated))

	msgs, err := c.RecentMessages(ctx, repositories.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "2", msgs[0].Content)
}

func TestPrivateMessageIsolation(t *testing.T) {
	c, rec := startCoordinator(t, Options{})
	ctx := context.Background()

	join(t, c, "a", "alice", "general")
	join(t, c, "b", "bob", "general")
	join(t, c, "c", "carol", "general")

	pm, err := c.SendPrivate(ctx, "a", models.PrivateMessagePayload{To: "b", Text: "psst"})
	require.NoError(t, err)
	require.True(t, pm.IsPrivate)
	require.Equal(t, "bob", pm.Recipient)

	require.Len(t, rec.received("a", models.EventPrivateMessage), 1)
	require.Len(t, rec.received("b", models.EventPrivateMessage), 1)
	require.Empty(t, rec.received("c", models.EventPrivateMessage))

	require.NoError(t, c.React(ctx, "b", pm.ID, "❤️"))
	require.Len(t, rec.received("a", models.EventReactionUpdated), 1)
	require.Empty(t, rec.received("c", models.EventReactionUpdated))

	backlog, err := c.JoinRoom(ctx, "c", "general")
	require.NoError(t, err)
	require.Empty(t, backlog)
	hits, err := c.SearchMessages(ctx, "psst", "")
	require.NoError(t, err)
	require.Empty(t, hits)
	counts, _ := c.UnreadCounts(ctx, "b")
	require.Zero(t, counts["general"])
}

func TestPrivateMessageToUnknownReachesOnlySender(t *testing.T) {
	c, rec := startCoordinator(t, Options{})
	join(t, c, "a", "alice", "")

	_, err := c.SendPrivate(context.Background(), "a", models.PrivateMessagePayload{To: "ghost", Text: "hello?"})
	require.NoError(t, err)
	require.Len(t, rec.received("a", models.EventPrivateMessage), 1)
	require.Empty(t, rec.received("ghost", models.EventPrivateMessage))
}

func TestDisconnectCascade(t *testing.T) {
	c, rec := startCoordinator(t, Options{})
	ctx := context.Background()

	join(t, c, "a", "alice", "general")
	join(t, c, "b", "bob", "general")
	require.NoError(t, c.SetTyping(ctx, "a", "general", true))
	say(t, c, "b", "general", "ping")
	rec.reset()

	require.NoError(t, c.Disconnect(ctx, "a"))
	require.NoError(t, c.Disconnect(ctx, "a"))

	typing := rec.received("b", models.EventTypingUsers)
	require.Len(t, typing, 1)
	require.Empty(t, typing[0].(models.TypingUsers).Users)

	roomUsers := rec.received("b", models.EventRoomUsers)
	require.Len(t, roomUsers, 1)
	require.Equal(t, []models.User{{ID: "b", Username: "bob"}}, roomUsers[0].(models.RoomUsers).Users)

	left := rec.received("b", models.EventUserLeft)
	require.Len(t, left, 1)
	require.Equal(t, models.User{ID: "a", Username: "alice"}, left[0])

	roster, err := c.Roster(ctx)
	require.NoError(t, err)
	require.Equal(t, []models.User{{ID: "b", Username: "bob"}}, roster)

	counts, err := c.UnreadCounts(ctx, "a")
	require.NoError(t, err)
	require.Empty(t, counts)

	rooms, err := c.Rooms(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rooms["general"])
}

func TestIdentifyBroadcastsRosterInConnectionOrder(t *testing.T) {
	c, rec := startCoordinator(t, Options{})
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, "z"))
	require.NoError(t, c.Connect(ctx, "y"))
	require.NoError(t, c.Identify(ctx, "y", "yan"))
	require.NoError(t, c.Identify(ctx, "z", "zoe"))

	rosters := rec.received("anyone", models.EventRosterUpdated)
	require.Len(t, rosters, 2)
	require.Equal(t, []models.User{{ID: "z", Username: "zoe"}, {ID: "y", Username: "yan"}}, rosters[1].(models.RosterUpdated).Users)
	require.Len(t, rec.received("anyone", models.EventUserJoined), 2)
}

func TestAnonymousSenderName(t *testing.T) {
	c, _ := startCoordinator(t, Options{})
	join(t, c, "a", "", "general")

	msg := say(t, c, "a", "general", "who")
	require.Equal(t, anonymousName, msg.Sender)
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	c, rec := startCoordinator(t, Options{})
	ctx := context.Background()

	join(t, c, "a", "alice", "general")
	join(t, c, "b", "bob", "general")
	require.NoError(t, c.LeaveRoom(ctx, "b", "general"))

	say(t, c, "a", "general", "anyone?")
	require.Empty(t, rec.received("b", models.EventReceiveMessage))
	counts, _ := c.UnreadCounts(ctx, "b")
	require.Zero(t, counts["general"])
}

func TestStoppedCoordinatorRejectsCommands(t *testing.T) {
	c := New(&recorder{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	cancel()
	<-c.Done()

	require.ErrorIs(t, c.Connect(context.Background(), "a"), ErrStopped)
	_, err := c.Roster(context.Background())
	require.ErrorIs(t, err, ErrStopped)
}

func TestCallerContextCancelled(t *testing.T) {
	c := New(&recorder{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, c.Connect(ctx, "a"), context.Canceled)
}

func TestTimestampsComeFromClock(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("X", 3600))
	c, _ := startCoordinator(t, Options{Now: func() time.Time { return now }})
	join(t, c, "a", "alice", "general")

	msg := say(t, c, "a", "general", "tick")
	require.True(t, msg.Timestamp.Equal(now))
	require.Equal(t, time.UTC, msg.Timestamp.Location())
}
