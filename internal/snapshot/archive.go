package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Archive is the durable copy of the snapshots, written by syncdb.
type Archive interface {
	Load(ctx context.Context, whiteboardID string) (snapshot json.RawMessage, version int64, found bool, err error)
}

type PostgresArchive struct {
	db *sql.DB
}

var _ Archive = (*PostgresArchive)(nil)

func NewPostgresArchive(db *sql.DB) *PostgresArchive { return &PostgresArchive{db: db} }

func (a *PostgresArchive) Load(ctx context.Context, whiteboardID string) (json.RawMessage, int64, bool, error) {
	const q = `SELECT snapshot, version FROM whiteboard_snapshots WHERE whiteboard_id = $1`

	var (
		raw     []byte
		version int64
	)
	err := a.db.QueryRowContext(ctx, q, whiteboardID).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("load archived snapshot %s: %w", whiteboardID, err)
	}
	return json.RawMessage(raw), version, true, nil
}
