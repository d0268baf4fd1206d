package coordinator

import (
	"slices"

	"github.com/samber/lo"
)

// membership indexes rooms by connection and connections by room. Both maps
// are always updated together.
type membership struct {
	rooms  map[string]map[string]struct{}
	joined map[string]map[string]struct{}
}

func newMembership() *membership {
	return &membership{
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
	}
}

// join links conn and room. It reports whether the link is new.
func (m *membership) join(conn, room string) bool {
	members, ok := m.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		m.rooms[room] = members
	}
	if _, exists := members[conn]; exists {
		return false
	}
	members[conn] = struct{}{}

	rooms, ok := m.joined[conn]
	if !ok {
		rooms = make(map[string]struct{})
		m.joined[conn] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// leave unlinks conn and room. Empty rooms are kept.
func (m *membership) leave(conn, room string) bool {
	members, ok := m.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[conn]; !exists {
		return false
	}
	delete(members, conn)
	if rooms, ok := m.joined[conn]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(m.joined, conn)
		}
	}
	return true
}

// leaveAll unlinks conn from every room and returns those rooms, sorted.
func (m *membership) leaveAll(conn string) []string {
	left := m.roomsOf(conn)
	for _, room := range left {
		m.leave(conn, room)
	}
	return left
}

func (m *membership) isMember(conn, room string) bool {
	_, ok := m.rooms[room][conn]
	return ok
}

func (m *membership) members(room string) []string {
	return sortedKeys(m.rooms[room])
}

func (m *membership) roomsOf(conn string) []string {
	return sortedKeys(m.joined[conn])
}

func (m *membership) roomNames() []string {
	return sortedKeys(m.rooms)
}

func sortedKeys[V any](set map[string]V) []string {
	keys := lo.Keys(set)
	slices.Sort(keys)
	return keys
}
