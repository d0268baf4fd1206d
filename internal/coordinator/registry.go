package coordinator

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"chat-coordinator/internal/models"
)

const anonymousName = "Anonymous"

type connection struct {
	id          string
	username    string
	seq         uint64
	connectedAt time.Time
}

// registry maps live connection ids to identities.
type registry struct {
	conns   map[string]*connection
	nextSeq uint64
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*connection)}
}

func (r *registry) add(id string, now time.Time) {
	if _, ok := r.conns[id]; ok {
		return
	}
	r.nextSeq++
	r.conns[id] = &connection{id: id, seq: r.nextSeq, connectedAt: now}
}

func (r *registry) remove(id string) (*connection, bool) {
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return conn, ok
}

func (r *registry) get(id string) (*connection, bool) {
	conn, ok := r.conns[id]
	return conn, ok
}

// name returns the identified username or the anonymous placeholder.
func (r *registry) name(id string) string {
	if conn, ok := r.conns[id]; ok && conn.username != "" {
		return conn.username
	}
	return anonymousName
}

// roster lists every identified connection in connection order.
func (r *registry) roster() []models.User {
	return toUsers(lo.Values(r.conns))
}

// usersOf lists the identified connections among ids in connection order.
func (r *registry) usersOf(ids []string) []models.User {
	return toUsers(lo.FilterMap(ids, func(id string, _ int) (*connection, bool) {
		c, ok := r.conns[id]
		return c, ok
	}))
}

func toUsers(conns []*connection) []models.User {
	conns = lo.Filter(conns, func(c *connection, _ int) bool { return c.username != "" })
	sort.Slice(conns, func(i, j int) bool { return conns[i].seq < conns[j].seq })
	return lo.Map(conns, func(c *connection, _ int) models.User {
		return models.User{ID: c.id, Username: c.username}
	})
}
