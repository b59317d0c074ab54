// Package snapshot caches the latest full-state snapshot of each whiteboard
// together with a monotonically increasing version.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisSnapshotKeyPrefix = "wb_snap:"

	// DirtySet holds the ids of whiteboards saved since the last archive run.
	DirtySet = "wb_snap:dirty"

	fieldVersion  = "v"
	fieldSnapshot = "s"
)

type Store interface {
	// Save stores snapshot as the latest one and returns its version.
	Save(ctx context.Context, whiteboardID string, snapshot json.RawMessage) (int64, error)
	// Latest returns the last saved snapshot; found is false if none exists.
	Latest(ctx context.Context, whiteboardID string) (snapshot json.RawMessage, version int64, found bool, err error)
}

type RedisStore struct {
	rdc     *redis.Client
	ttl     time.Duration
	archive Archive
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore keeps each whiteboard hash for ttl after its last save; zero
// disables expiry.
func NewRedisStore(rdc *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdc: rdc, ttl: ttl}
}

// WithArchive makes the store fall back to a on a cache miss, so versions keep
// counting from the archived one after the hash expires.
func (s *RedisStore) WithArchive(a Archive) *RedisStore {
	s.archive = a
	return s
}

func Key(whiteboardID string) string { return redisSnapshotKeyPrefix + whiteboardID }

func (s *RedisStore) Save(ctx context.Context, whiteboardID string, snapshot json.RawMessage) (int64, error) {
	key := Key(whiteboardID)

	floor, err := s.versionFloor(ctx, whiteboardID)
	if err != nil {
		return 0, fmt.Errorf("save snapshot %s: %w", whiteboardID, err)
	}

	var version *redis.IntCmd
	_, err = s.rdc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if floor > 0 {
			// No-op unless the hash is still missing when MULTI runs.
			pipe.HSetNX(ctx, key, fieldVersion, floor)
		}
		version = pipe.HIncrBy(ctx, key, fieldVersion, 1)
		pipe.HSet(ctx, key, fieldSnapshot, string(snapshot))
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		pipe.SAdd(ctx, DirtySet, whiteboardID)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("save snapshot %s: %w", whiteboardID, err)
	}
	return version.Val(), nil
}

func (s *RedisStore) Latest(ctx context.Context, whiteboardID string) (json.RawMessage, int64, bool, error) {
	data, err := s.rdc.HGetAll(ctx, Key(whiteboardID)).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("load snapshot %s: %w", whiteboardID, err)
	}
	raw, version, found, err := FromHash(data)
	if err != nil {
		return nil, 0, false, fmt.Errorf("load snapshot %s: %w", whiteboardID, err)
	}
	if found || s.archive == nil {
		return raw, version, found, nil
	}

	raw, version, found, err = s.archive.Load(ctx, whiteboardID)
	if err != nil || !found {
		return nil, 0, false, err
	}
	s.seed(ctx, whiteboardID, raw, version)
	return raw, version, true, nil
}

// versionFloor returns the archived version when the cached hash is gone,
// zero otherwise.
func (s *RedisStore) versionFloor(ctx context.Context, whiteboardID string) (int64, error) {
	if s.archive == nil {
		return 0, nil
	}
	n, err := s.rdc.Exists(ctx, Key(whiteboardID)).Result()
	if err != nil || n > 0 {
		return 0, err
	}
	_, version, _, err := s.archive.Load(ctx, whiteboardID)
	return version, err
}

// seed restores an archived snapshot into the cache without overwriting a
// concurrent save.
func (s *RedisStore) seed(ctx context.Context, whiteboardID string, raw json.RawMessage, version int64) {
	key := Key(whiteboardID)
	_, err := s.rdc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldVersion, version)
		pipe.HSetNX(ctx, key, fieldSnapshot, string(raw))
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		zap.L().Warn("snapshot.seed", zap.String("whiteboard", whiteboardID), zap.Error(err))
	}
}

// FromHash decodes a snapshot hash as returned by HGETALL.
func FromHash(data map[string]string) (json.RawMessage, int64, bool, error) {
	raw, ok := data[fieldSnapshot]
	if !ok || raw == "" {
		return nil, 0, false, nil
	}
	version, err := strconv.ParseInt(data[fieldVersion], 10, 64)
	if err != nil {
		return nil, 0, false, fmt.Errorf("bad version %q", data[fieldVersion])
	}
	return json.RawMessage(raw), version, true, nil
}
