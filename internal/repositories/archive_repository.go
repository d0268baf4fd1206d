package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"chat-coordinator/internal/models"
)

// ArchiveRepository mirrors the in-memory log into an external store. The
// mirror is write-only: the coordinator never reads it back.
type ArchiveRepository interface {
	ArchiveMessage(ctx context.Context, msg models.Message) error
	UpdateAnnotations(ctx context.Context, msg models.Message) error
}

// ArchiveRepo is a sqlx-backed repository.
type ArchiveRepo struct {
	db    *sqlx.DB
	runID string
}

// NewArchiveRepo constructs ArchiveRepo. Message ids restart with every
// process, so rows are keyed by (runID, id).
func NewArchiveRepo(db *sqlx.DB, runID string) *ArchiveRepo {
	return &ArchiveRepo{db: db, runID: runID}
}

type archivedMessage struct {
	RunID       string `db:"run_id"`
	ID          int64  `db:"id"`
	Room        string `db:"room"`
	Sender      string `db:"sender"`
	SenderID    string `db:"sender_conn_id"`
	Content     string `db:"content"`
	FileName    string `db:"file_name"`
	FileType    string `db:"file_type"`
	IsPrivate   bool   `db:"is_private"`
	RecipientID string `db:"recipient_conn_id"`
	Reactions   []byte `db:"reactions"`
	ReadBy      []byte `db:"read_by"`
}

func toArchived(runID string, msg models.Message) (archivedMessage, error) {
	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return archivedMessage{}, fmt.Errorf("encode reactions: %w", err)
	}
	readBy, err := json.Marshal(msg.ReadBy)
	if err != nil {
		return archivedMessage{}, fmt.Errorf("encode read_by: %w", err)
	}
	row := archivedMessage{
		RunID:       runID,
		ID:          msg.ID,
		Room:        msg.Room,
		Sender:      msg.Sender,
		SenderID:    msg.SenderID,
		Content:     msg.Content,
		IsPrivate:   msg.IsPrivate,
		RecipientID: msg.RecipientID,
		Reactions:   reactions,
		ReadBy:      readBy,
	}
	if msg.File != nil {
		row.FileName = msg.File.Name
		row.FileType = msg.File.Type
	}
	return row, nil
}

// ArchiveMessage inserts a message. File payloads are not archived.
func (r *ArchiveRepo) ArchiveMessage(ctx context.Context, msg models.Message) error {
	row, err := toArchived(r.runID, msg)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `INSERT INTO archived_messages
        (run_id, id, room, sender, sender_conn_id, content, file_name, file_type, is_private, recipient_conn_id, reactions, read_by, sent_at)
        VALUES (:run_id, :id, :room, :sender, :sender_conn_id, :content, :file_name, :file_type, :is_private, :recipient_conn_id, :reactions, :read_by, NOW())
        ON CONFLICT (run_id, id) DO NOTHING`, row)
	return err
}

// UpdateAnnotations overwrites the stored reactions and readers of a message.
func (r *ArchiveRepo) UpdateAnnotations(ctx context.Context, msg models.Message) error {
	row, err := toArchived(r.runID, msg)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE archived_messages SET reactions=$1, read_by=$2 WHERE run_id=$3 AND id=$4`, row.Reactions, row.ReadBy, row.RunID, row.ID)
	return err
}
