package coordinator

import "maps"

// unreadMatrix counts, per connection and room, the messages sent by others
// since the connection last marked something read in that room.
type unreadMatrix struct {
	counts map[string]map[string]int
}

func newUnreadMatrix() *unreadMatrix {
	return &unreadMatrix{counts: make(map[string]map[string]int)}
}

func (u *unreadMatrix) row(conn string) map[string]int {
	row, ok := u.counts[conn]
	if !ok {
		row = make(map[string]int)
		u.counts[conn] = row
	}
	return row
}

func (u *unreadMatrix) increment(conn, room string) {
	u.row(conn)[room]++
}

// reset zeroes the whole room for conn; there is no per-message decrement.
func (u *unreadMatrix) reset(conn, room string) {
	u.row(conn)[room] = 0
}

func (u *unreadMatrix) drop(conn string) {
	delete(u.counts, conn)
}

func (u *unreadMatrix) snapshot(conn string) map[string]int {
	out := make(map[string]int, len(u.counts[conn]))
	maps.Copy(out, u.counts[conn])
	return out
}
