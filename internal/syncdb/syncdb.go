// Package syncdb mirrors the cached whiteboard snapshots from Redis into
// Postgres so the latest state survives cache expiry.
package syncdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"whiteboardsync/internal/snapshot"
)

const (
	batchSize   = 100
	pipeTimeout = 1500 * time.Millisecond
)

const upsert = `
	INSERT INTO whiteboard_snapshots (whiteboard_id, version, snapshot, updated_at)
	     VALUES ($1, $2, $3, now())
	ON CONFLICT (whiteboard_id) DO UPDATE
	       SET version    = EXCLUDED.version,
	           snapshot   = EXCLUDED.snapshot,
	           updated_at = EXCLUDED.updated_at
	     WHERE whiteboard_snapshots.version < EXCLUDED.version`

// Run archives dirty whiteboards every interval until ctx is done.
func Run(ctx context.Context, rdc *redis.Client, db *sql.DB, interval time.Duration) {
	tk := time.NewTicker(interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				syncOnce(ctx, rdc, db)
			}
		}
	}()
}

// syncOnce claims up to batchSize dirty ids and upserts their snapshots. It
// returns the number of rows written.
func syncOnce(ctx context.Context, rdc *redis.Client, db *sql.DB) int {
	ids, err := rdc.SPopN(ctx, snapshot.DirtySet, batchSize).Result()
	if err != nil || len(ids) == 0 {
		return 0
	}

	// 1. fetch all hashes in one pipelined round-trip
	pctx, cancel := context.WithTimeout(ctx, pipeTimeout)
	defer cancel()
	pipe := rdc.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(pctx, snapshot.Key(id))
	}
	if _, err = pipe.Exec(pctx); err != nil {
		zap.L().Error("syncdb.pipeline", zap.Error(err))
		requeue(ctx, rdc, ids)
		return 0
	}

	// 2. bulk-upsert into Postgres
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		zap.L().Error("syncdb.tx_begin", zap.Error(err))
		requeue(ctx, rdc, ids)
		return 0
	}
	defer tx.Rollback()

	written := 0
	for i, cmd := range cmds {
		raw, version, found, err := snapshot.FromHash(cmd.Val())
		if err != nil || !found {
			continue // expired between SPOP and HGETALL
		}
		if _, err := tx.ExecContext(ctx, upsert, ids[i], version, string(raw)); err != nil {
			zap.L().Error("syncdb.upsert", zap.String("whiteboard", ids[i]), zap.Error(err))
			requeue(ctx, rdc, ids)
			return 0
		}
		written++
	}

	if err = tx.Commit(); err != nil {
		zap.L().Error("syncdb.commit", zap.Error(err))
		requeue(ctx, rdc, ids)
		return 0
	}
	zap.L().Debug("syncdb.archived", zap.Int("whiteboards", written))
	return written
}

// requeue puts claimed ids back so the next tick retries them.
func requeue(ctx context.Context, rdc *redis.Client, ids []string) {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := rdc.SAdd(ctx, snapshot.DirtySet, members...).Err(); err != nil {
		zap.L().Warn("syncdb.requeue", zap.Error(err))
	}
}
