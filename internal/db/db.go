package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the archive database and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS archived_messages (
            run_id TEXT NOT NULL,
            id BIGINT NOT NULL,
            room TEXT NOT NULL DEFAULT '',
            sender TEXT NOT NULL,
            sender_conn_id TEXT NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            file_name TEXT NOT NULL DEFAULT '',
            file_type TEXT NOT NULL DEFAULT '',
            is_private BOOLEAN NOT NULL DEFAULT FALSE,
            recipient_conn_id TEXT NOT NULL DEFAULT '',
            reactions JSONB NOT NULL DEFAULT '{}',
            read_by JSONB NOT NULL DEFAULT '[]',
            sent_at TIMESTAMPTZ DEFAULT NOW(),
            PRIMARY KEY(run_id, id)
        );`,
		`CREATE INDEX IF NOT EXISTS archived_messages_room_idx ON archived_messages (room, sent_at);`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
