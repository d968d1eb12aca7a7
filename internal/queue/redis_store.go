package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/psds-microservice/conversation-router/internal/model"
)

// RedisStore keeps entries in a sorted set scored by ProcessAfter (unix ms).
// Entry bodies live in "<key>:entries" and the conversation index in
// "<key>:by-conversation".
type RedisStore struct {
	c   *redis.Client
	key string
}

func NewRedisStore(c *redis.Client, key string) *RedisStore {
	return &RedisStore{c: c, key: key}
}

var enqueueScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[3], ARGV[2])
if old then
  redis.call('ZREM', KEYS[1], old)
  redis.call('HDEL', KEYS[2], old)
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
redis.call('HSET', KEYS[3], ARGV[2], ARGV[1])
return 1
`)

var claimScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
if redis.call('HGET', KEYS[3], ARGV[2]) == ARGV[1] then
  redis.call('HDEL', KEYS[3], ARGV[2])
end
return 1
`)

func (s *RedisStore) keys() []string {
	return []string{s.key, s.key + ":entries", s.key + ":by-conversation"}
}

func (s *RedisStore) Enqueue(ctx context.Context, entry *model.QueueEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	score := strconv.FormatInt(entry.ProcessAfter.UnixMilli(), 10)
	return enqueueScript.Run(ctx, s.c, s.keys(), entry.ID, entry.ConversationID, score, string(body)).Err()
}

func (s *RedisStore) Due(ctx context.Context, now time.Time, limit int) ([]model.QueueEntry, error) {
	ids, err := s.c.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

func (s *RedisStore) Claim(ctx context.Context, entry model.QueueEntry) (bool, error) {
	n, err := claimScript.Run(ctx, s.c, s.keys(), entry.ID, entry.ConversationID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) Pending(ctx context.Context, limit int) ([]model.QueueEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.c.ZRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

func (s *RedisStore) load(ctx context.Context, ids []string) ([]model.QueueEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.c.HMGet(ctx, s.key+":entries", ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.QueueEntry, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// claimed between ZRANGE and HMGET
			continue
		}
		var e model.QueueEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode queue entry %s: %w", ids[i], err)
		}
		out = append(out, e)
	}
	return out, nil
}
