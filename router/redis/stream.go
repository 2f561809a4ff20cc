package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// stream is a redis stream read through a single consumer group. Every consumer group sees every message once,
// consumers within a group share the messages.
type stream struct {
	rdb          redis.UniversalClient
	name         string
	group        string
	consumer     string
	idleTimeout  time.Duration
	blockTimeout time.Duration
}

type message struct {
	ID      string
	Payload []byte
}

func newStream(ctx context.Context, rdb redis.UniversalClient, name, group, consumer string, idleTimeout, blockTimeout time.Duration) (*stream, error) {
	s := &stream{
		rdb:          rdb,
		name:         name,
		group:        group,
		consumer:     consumer,
		idleTimeout:  idleTimeout,
		blockTimeout: blockTimeout,
	}

	// There is no upsert for consumer groups, tolerate an existing group
	if err := rdb.XGroupCreateMkStream(ctx, name, group, "0").Err(); err != nil {
		if !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("creating consumer group %s for stream %s: %w", group, name, err)
		}
	}

	return s, nil
}

func add(ctx context.Context, rdb redis.UniversalClient, streamName string, maxLen int64, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": string(payload),
		},
	}).Err(); err != nil {
		return fmt.Errorf("adding event to stream %s: %w", streamName, err)
	}

	return nil
}

// read returns the next message for this consumer, or nil if no message arrived within the block timeout.
// Messages abandoned by other consumers are returned first.
func (s *stream) read(ctx context.Context) (*message, error) {
	msg, err := s.recover(ctx)
	if err != nil {
		return nil, err
	}

	if msg != nil {
		return msg, nil
	}

	streams, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Streams:  []string{s.name, ">"},
		Group:    s.group,
		Consumer: s.consumer,
		Count:    1,
		Block:    s.blockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading from stream %s: %w", s.name, err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return toMessage(&streams[0].Messages[0]), nil
}

func (s *stream) recover(ctx context.Context) (*message, error) {
	// Acknowledged messages leave the pending list, so scanning from the start only finds abandoned ones
	msgs, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.name,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  s.idleTimeout,
		Count:    1,
		Start:    "0",
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("recovering abandoned messages from stream %s: %w", s.name, err)
	}

	if len(msgs) == 0 {
		return nil, nil
	}

	return toMessage(&msgs[0]), nil
}

// ack marks the message as processed by this group. The message stays in the stream for other groups.
func (s *stream) ack(ctx context.Context, id string) error {
	if err := s.rdb.XAck(ctx, s.name, s.group, id).Err(); err != nil {
		return fmt.Errorf("acknowledging message %s: %w", id, err)
	}

	return nil
}

func toMessage(msg *redis.XMessage) *message {
	payload, _ := msg.Values["payload"].(string)

	return &message{
		ID:      msg.ID,
		Payload: []byte(payload),
	}
}
