package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-coordinator/internal/models"
)

func readFrame(t *testing.T, c *Client) models.Envelope {
	t.Helper()
	select {
	case frame := <-c.send:
		var env models.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	default:
		t.Fatalf("no frame queued for %s", c.ID())
		return models.Envelope{}
	}
}

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := NewHub(0)

	hub.Register(nil, ConnInfo{ConnID: "a"})
	hub.Register(nil, ConnInfo{ConnID: "b"})
	require.Equal(t, 2, hub.Len())

	hub.Unregister("a")
	hub.Unregister("a")
	require.Equal(t, 1, hub.Len())
}

func TestHubSendToTargetsOnlyListedConnections(t *testing.T) {
	hub := NewHub(4)
	a := hub.Register(nil, ConnInfo{ConnID: "a"})
	b := hub.Register(nil, ConnInfo{ConnID: "b"})

	hub.SendTo("a", models.EventError, models.ErrorEvent{Reason: "nope"})
	hub.SendToMany([]string{"b", "missing"}, models.EventTypingUsers, models.TypingUsers{Room: "general", Users: []string{"x"}})

	env := readFrame(t, a)
	require.Equal(t, models.EventError, env.Type)
	var errEvent models.ErrorEvent
	require.NoError(t, env.Decode(&errEvent))
	require.Equal(t, "nope", errEvent.Reason)
	require.Empty(t, a.send)

	env = readFrame(t, b)
	require.Equal(t, models.EventTypingUsers, env.Type)
}

func TestHubBroadcastReachesEveryone(t *testing.T) {
	hub := NewHub(4)
	clients := []*Client{
		hub.Register(nil, ConnInfo{ConnID: "a"}),
		hub.Register(nil, ConnInfo{ConnID: "b"}),
		hub.Register(nil, ConnInfo{ConnID: "c"}),
	}

	hub.Broadcast(models.EventRosterUpdated, models.RosterUpdated{Users: []models.User{{ID: "a", Username: "alice"}}})

	for _, c := range clients {
		env := readFrame(t, c)
		require.Equal(t, models.EventRosterUpdated, env.Type)
	}
}

func TestHubDropsClientWithFullQueue(t *testing.T) {
	hub := NewHub(1)
	slow := hub.Register(nil, ConnInfo{ConnID: "slow"})

	hub.SendTo("slow", models.EventError, models.ErrorEvent{Reason: "1"})
	hub.SendTo("slow", models.EventError, models.ErrorEvent{Reason: "2"})

	env := readFrame(t, slow)
	var errEvent models.ErrorEvent
	require.NoError(t, env.Decode(&errEvent))
	require.Equal(t, "1", errEvent.Reason)
	require.Empty(t, slow.send)
}

func TestHubDropDoesNotWaitForStalledClose(t *testing.T) {
	hub := NewHub(1)
	closing := make(chan string, 1)
	release := make(chan struct{})
	defer close(release)
	hub.closeSlow = func(c *Client) {
		closing <- c.ID()
		<-release
	}
	hub.Register(nil, ConnInfo{ConnID: "slow"})
	fast := hub.Register(nil, ConnInfo{ConnID: "fast"})

	hub.SendTo("slow", models.EventError, models.ErrorEvent{Reason: "1"})

	delivered := make(chan struct{})
	go func() {
		hub.SendToMany([]string{"slow", "fast"}, models.EventError, models.ErrorEvent{Reason: "2"})
		close(delivered)
	}()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("delivery blocked on closing a slow client")
	}
	select {
	case id := <-closing:
		require.Equal(t, "slow", id)
	case <-time.After(time.Second):
		t.Fatal("slow client was never closed")
	}
	require.Equal(t, models.EventError, readFrame(t, fast).Type)
}
