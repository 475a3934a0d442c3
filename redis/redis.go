package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GetStream/chat-render/render"
)

// signaler is the part of the client used for per-chat signals.
type signaler interface {
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Redis provides caching in Redis. It also answers moderation and mention
// questions, publishes render notifications and queues retries.
type Redis struct {
	cli *redis.Client
	sig signaler
	now func() time.Time
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
		sig: cli,
		now: time.Now,
	}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

const (
	chatPrefix = "chats"
	retryQueue = "retry:queue"
	maxSize    = 50
)

func recordsKey(jid string) string {
	return fmt.Sprintf("%s:%s:records", chatPrefix, jid)
}

func recordKey(jid, id string) string {
	return fmt.Sprintf("%s:%s", recordsKey(jid), id)
}

func moderatorsKey(room string) string {
	return fmt.Sprintf("%s:%s:moderators", chatPrefix, room)
}

func mentionsKey(jid string) string {
	return fmt.Sprintf("%s:%s:mentions", chatPrefix, jid)
}

func renderedChannel(jid string) string {
	return fmt.Sprintf("%s:%s:rendered", chatPrefix, jid)
}

// ListRecords returns the cached records of a chat. The records are sorted
// by time in descending order.
func (r *Redis) ListRecords(ctx context.Context, jid string) ([]render.Record, error) {
	keys, err := r.cli.ZRevRangeByScore(ctx, recordsKey(jid), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}

	out := make([]render.Record, 0, len(keys))
	for _, key := range keys {
		var rec record
		if err := r.cli.HGetAll(ctx, key).Scan(&rec); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		if rec.ID == "" {
			// Evicted between the range and the lookup.
			continue
		}
		rr, err := rec.RenderRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}

	return out, nil
}

// InsertRecord stores the record under chats:JID:records:ID and adds the key
// to the chat's sorted set.
func (r *Redis) InsertRecord(ctx context.Context, jid string, rec render.Record) error {
	m, err := newRecord(rec)
	if err != nil {
		return err
	}
	key := recordKey(jid, rec.ID)

	err = r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, m)
			pipe.ZAdd(ctx, recordsKey(jid), redis.Z{
				Score:  float64(m.Time),
				Member: key,
			})
			return nil
		})
		return err
	}, key)

	if err != nil {
		return fmt.Errorf("redis insert record: %w", err)
	}

	if err := r.evictOldest(ctx, jid); err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

// DeleteRecord removes a record from the chat's cache.
func (r *Redis) DeleteRecord(ctx context.Context, jid, id string) error {
	key := recordKey(jid, id)
	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, recordsKey(jid), key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete record: %w", err)
	}
	return nil
}

// CanModerate reports whether viewer is in the room's moderator set.
func (r *Redis) CanModerate(ctx context.Context, viewer, room string) (bool, error) {
	ok, err := r.sig.SIsMember(ctx, moderatorsKey(room), viewer).Result()
	if err != nil {
		return false, fmt.Errorf("sismember: %w", err)
	}
	return ok, nil
}

// MentionsMe reports whether the record is in the chat's set of records that
// mention the viewer.
func (r *Redis) MentionsMe(ctx context.Context, jid, id string) (bool, error) {
	ok, err := r.sig.SIsMember(ctx, mentionsKey(jid), id).Result()
	if err != nil {
		return false, fmt.Errorf("sismember: %w", err)
	}
	return ok, nil
}

// PublishRendered announces on chats:JID:rendered that a record's body was
// rendered.
func (r *Redis) PublishRendered(ctx context.Context, jid, id string) error {
	if err := r.sig.Publish(ctx, renderedChannel(jid), id).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Retry queues a retry job for rec.
func (r *Redis) Retry(ctx context.Context, rec *render.Record) error {
	job, err := json.Marshal(retryJob{
		ID:          rec.ID,
		Type:        string(rec.Type),
		From:        rec.From,
		Text:        rec.Text,
		RequestedAt: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := r.sig.RPush(ctx, retryQueue, job).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context, jid string) error {
	keys, err := r.cli.ZRange(ctx, recordsKey(jid), 0, int64(-maxSize-1)).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}

	var errs []error
	for _, key := range keys {
		if err := r.cli.ZRem(ctx, recordsKey(jid), key).Err(); err != nil {
			errs = append(errs, fmt.Errorf("zrem %s: %w", key, err))
		}
		if err := r.cli.Del(ctx, key).Err(); err != nil {
			errs = append(errs, fmt.Errorf("del %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}
