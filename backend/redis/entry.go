package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/core"
	"github.com/redis/go-redis/v9"
)

// Store an entry if none exists for the execution yet
// KEYS[1] - entry key
// KEYS[2] - entries-by-id key
// KEYS[3] - entries-expiring key
// ARGV[1] - execution id
// ARGV[2] - serialized entry
// ARGV[3] - expiration in unix milliseconds, empty if the entry does not expire
var registerCmd = redis.NewScript(`
	if redis.call("SET", KEYS[1], ARGV[2], "NX") == false then
		return 0
	end

	redis.call("ZADD", KEYS[2], 0, ARGV[1])

	if ARGV[3] ~= "" then
		redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
	end

	return 1
`)

// Remove an entry and its index memberships
// KEYS[1] - entry key
// KEYS[2] - entries-by-id key
// KEYS[3] - entries-expiring key
// ARGV[1] - execution id
var removeCmd = redis.NewScript(`
	redis.call("DEL", KEYS[1])
	redis.call("ZREM", KEYS[2], ARGV[1])
	redis.call("ZREM", KEYS[3], ARGV[1])
	return 0
`)

func (rb *redisBackend) Register(ctx context.Context, entry *core.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}

	var expiresAt string
	if entry.ExpiresAt != nil {
		expiresAt = strconv.FormatInt(entry.ExpiresAt.UnixMilli(), 10)
	}

	r, err := registerCmd.Run(ctx, rb.rdb, []string{
		rb.keys.entryKey(entry.ExecutionID),
		rb.keys.entriesByID(),
		rb.keys.entriesExpiring(),
	}, entry.ExecutionID, string(data), expiresAt).Int()
	if err != nil {
		return fmt.Errorf("registering entry: %w", err)
	}

	if r != 1 {
		return fmt.Errorf("registering %v: %w", entry.ExecutionID, backend.ErrDuplicateRegistration)
	}

	return nil
}

func (rb *redisBackend) Resolve(ctx context.Context, executionID string) (*core.Entry, error) {
	data, err := rb.rdb.Get(ctx, rb.keys.entryKey(executionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, backend.ErrUnknownExecution
		}

		return nil, fmt.Errorf("reading entry: %w", err)
	}

	var e core.Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("unmarshaling entry: %w", err)
	}

	return &e, nil
}

func (rb *redisBackend) Remove(ctx context.Context, executionID string) error {
	if err := removeCmd.Run(ctx, rb.rdb, []string{
		rb.keys.entryKey(executionID),
		rb.keys.entriesByID(),
		rb.keys.entriesExpiring(),
	}, executionID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("removing entry: %w", err)
	}

	return nil
}

func (rb *redisBackend) ExpiredEntries(ctx context.Context, now time.Time, limit int) ([]*core.Entry, error) {
	ids, err := rb.rdb.ZRangeArgs(ctx, redis.ZRangeArgs{
		Key:     rb.keys.entriesExpiring(),
		Start:   "-inf",
		Stop:    strconv.FormatInt(now.UnixMilli(), 10),
		ByScore: true,
		Count:   int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading expiring entries: %w", err)
	}

	return rb.readEntries(ctx, ids)
}

func (rb *redisBackend) GetEntries(ctx context.Context, afterExecutionID string, count int) ([]*core.Entry, error) {
	start := "-"
	if afterExecutionID != "" {
		start = "(" + afterExecutionID
	}

	ids, err := rb.rdb.ZRangeArgs(ctx, redis.ZRangeArgs{
		Key:   rb.keys.entriesByID(),
		Start: start,
		Stop:  "+",
		ByLex: true,
		Count: int64(count),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading entries: %w", err)
	}

	return rb.readEntries(ctx, ids)
}

func (rb *redisBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	p := rb.rdb.Pipeline()
	awaiting := p.ZCard(ctx, rb.keys.entriesByID())
	expiring := p.ZCard(ctx, rb.keys.entriesExpiring())

	if _, err := p.Exec(ctx); err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}

	return &backend.Stats{
		AwaitingExecutions: awaiting.Val(),
		ExpiringExecutions: expiring.Val(),
	}, nil
}

func (rb *redisBackend) readEntries(ctx context.Context, ids []string) ([]*core.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	entryKeys := make([]string, 0, len(ids))
	for _, id := range ids {
		entryKeys = append(entryKeys, rb.keys.entryKey(id))
	}

	res, err := rb.rdb.MGet(ctx, entryKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading entries: %w", err)
	}

	entries := make([]*core.Entry, 0, len(res))
	for _, r := range res {
		// Entry removed between reading the index and the entry
		s, ok := r.(string)
		if !ok {
			continue
		}

		var e core.Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("unmarshaling entry: %w", err)
		}

		entries = append(entries, &e)
	}

	return entries, nil
}
