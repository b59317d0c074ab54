package db_client

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects through the pgx stdlib driver and pings once.
func Open(host, port, user, pass, database string) (*sql.DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		url.QueryEscape(user), url.QueryEscape(pass), host, port, database,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// Schema creates the tables this service writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS whiteboard_comments (
    id            TEXT PRIMARY KEY,
    whiteboard_id TEXT        NOT NULL,
    author_id     TEXT        NOT NULL,
    body          TEXT        NOT NULL,
    resolved      BOOLEAN     NOT NULL DEFAULT false,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS whiteboard_comments_wb_idx
    ON whiteboard_comments (whiteboard_id, created_at);

CREATE TABLE IF NOT EXISTS whiteboard_snapshots (
    whiteboard_id TEXT PRIMARY KEY,
    version       BIGINT      NOT NULL,
    snapshot      JSONB       NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);`

func Migrate(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
