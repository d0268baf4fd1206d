package client

import (
	"slices"
	"strconv"

	"chat-coordinator/internal/models"
)

// Outcome says what Reconcile did with an incoming record.
type Outcome int

const (
	Appended Outcome = iota
	Replaced
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Replaced:
		return "replaced"
	case Duplicate:
		return "duplicate"
	default:
		return "appended"
	}
}

// Record is one entry of the local view. Pending records were created
// locally and have not been confirmed by the server yet.
type Record struct {
	Key     string
	Pending bool
	Message models.Message
}

// Timeline is the client's ordered local view of messages across rooms.
// It is not safe for concurrent use.
type Timeline struct {
	records []Record
}

// NewTimeline returns an empty Timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

func placeholderKey(clientRef string) string {
	return "local-" + clientRef
}

func serverKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// AddPending appends an optimistic copy of an outgoing message.
func (t *Timeline) AddPending(msg models.Message) Record {
	rec := Record{
		Key:     placeholderKey(msg.ClientRef),
		Pending: true,
		Message: msg.Clone(),
	}
	t.records = append(t.records, rec)
	return rec
}

// Reconcile merges an authoritative record. A pending record with the same
// client reference is replaced in place; echoes without a reference fall back
// to the first pending record with the same room and content. A record whose
// id is already present is discarded; anything else is appended.
func (t *Timeline) Reconcile(msg models.Message) Outcome {
	if i := t.pendingIndex(msg); i >= 0 {
		t.records[i] = confirmed(msg)
		return Replaced
	}
	if t.indexOf(msg.ID) >= 0 {
		return Duplicate
	}
	t.records = append(t.records, confirmed(msg))
	return Appended
}

// ReplaceRoom swaps every confirmed record of room for backlog. Pending
// records of the room survive unless the backlog confirms them.
func (t *Timeline) ReplaceRoom(room string, backlog []models.Message) {
	kept := make([]Record, 0, len(t.records)+len(backlog))
	var pending []Record
	for _, rec := range t.records {
		switch {
		case rec.Message.Room != room || rec.Message.IsPrivate:
			kept = append(kept, rec)
		case rec.Pending:
			pending = append(pending, rec)
		}
	}
	for _, msg := range backlog {
		pending = slices.DeleteFunc(pending, func(rec Record) bool {
			return msg.ClientRef != "" && rec.Message.ClientRef == msg.ClientRef
		})
		kept = append(kept, confirmed(msg))
	}
	t.records = append(kept, pending...)
}

// ApplyReactions overwrites the reactions of a confirmed record.
func (t *Timeline) ApplyReactions(id int64, reactions models.Reactions) bool {
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	t.records[i].Message.Reactions = reactions.Clone()
	return true
}

// ApplyReadBy overwrites the readers of a confirmed record.
func (t *Timeline) ApplyReadBy(id int64, readBy []string) bool {
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	t.records[i].Message.ReadBy = append([]string{}, readBy...)
	return true
}

// Records returns a copy of the view in display order.
func (t *Timeline) Records() []Record {
	out := make([]Record, len(t.records))
	for i, rec := range t.records {
		rec.Message = rec.Message.Clone()
		out[i] = rec
	}
	return out
}

// Room returns the records of one room in display order.
func (t *Timeline) Room(room string) []Record {
	out := []Record{}
	for _, rec := range t.records {
		if rec.Message.Room == room && !rec.Message.IsPrivate {
			rec.Message = rec.Message.Clone()
			out = append(out, rec)
		}
	}
	return out
}

// PendingCount reports how many records still await confirmation.
func (t *Timeline) PendingCount() int {
	n := 0
	for _, rec := range t.records {
		if rec.Pending {
			n++
		}
	}
	return n
}

func (t *Timeline) pendingIndex(msg models.Message) int {
	if msg.ClientRef != "" {
		return slices.IndexFunc(t.records, func(rec Record) bool {
			return rec.Pending && rec.Message.ClientRef == msg.ClientRef
		})
	}
	return slices.IndexFunc(t.records, func(rec Record) bool {
		return rec.Pending && sameContent(rec.Message, msg)
	})
}

func (t *Timeline) indexOf(id int64) int {
	return slices.IndexFunc(t.records, func(rec Record) bool {
		return !rec.Pending && rec.Message.ID == id
	})
}

func sameContent(a, b models.Message) bool {
	if a.Room != b.Room || a.IsPrivate != b.IsPrivate || a.Content != b.Content {
		return false
	}
	if a.IsFile() != b.IsFile() {
		return false
	}
	return !a.IsFile() || a.File.Name == b.File.Name
}

func confirmed(msg models.Message) Record {
	return Record{Key: serverKey(msg.ID), Message: msg.Clone()}
}
