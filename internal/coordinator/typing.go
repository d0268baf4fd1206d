package coordinator

import (
	"sort"
	"time"
)

// DefaultTypingTTL expires typing flags that were never cleared explicitly.
const DefaultTypingTTL = 10 * time.Second

type typingEntry struct {
	username  string
	expiresAt time.Time
}

// typingTracker holds per-room typing flags keyed by connection. Entries
// expire after ttl even if the stop event or the disconnect is never seen.
type typingTracker struct {
	ttl   time.Duration
	rooms map[string]map[string]typingEntry
}

func newTypingTracker(ttl time.Duration) *typingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &typingTracker{ttl: ttl, rooms: make(map[string]map[string]typingEntry)}
}

// start flags conn as typing in room, refreshing the expiry.
func (t *typingTracker) start(room, conn, username string, now time.Time) {
	entries, ok := t.rooms[room]
	if !ok {
		entries = make(map[string]typingEntry)
		t.rooms[room] = entries
	}
	entries[conn] = typingEntry{username: username, expiresAt: now.Add(t.ttl)}
}

// stop clears the flag of conn in room.
func (t *typingTracker) stop(room, conn string) bool {
	entries, ok := t.rooms[room]
	if !ok {
		return false
	}
	if _, exists := entries[conn]; !exists {
		return false
	}
	delete(entries, conn)
	if len(entries) == 0 {
		delete(t.rooms, room)
	}
	return true
}

// dropConn clears every flag of conn and returns the affected rooms, sorted.
func (t *typingTracker) dropConn(conn string) []string {
	var changed []string
	for _, room := range sortedKeys(t.rooms) {
		if t.stop(room, conn) {
			changed = append(changed, room)
		}
	}
	return changed
}

// expire removes stale entries and returns the affected rooms, sorted.
func (t *typingTracker) expire(now time.Time) []string {
	var changed []string
	for _, room := range sortedKeys(t.rooms) {
		for conn, entry := range t.rooms[room] {
			if !now.Before(entry.expiresAt) {
				delete(t.rooms[room], conn)
				if len(changed) == 0 || changed[len(changed)-1] != room {
					changed = append(changed, room)
				}
			}
		}
		if len(t.rooms[room]) == 0 {
			delete(t.rooms, room)
		}
	}
	return changed
}

// users returns the distinct usernames typing in room, sorted.
func (t *typingTracker) users(room string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, entry := range t.rooms[room] {
		if _, ok := seen[entry.username]; ok {
			continue
		}
		seen[entry.username] = struct{}{}
		out = append(out, entry.username)
	}
	sort.Strings(out)
	return out
}
