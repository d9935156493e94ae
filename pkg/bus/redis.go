package bus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus on top of a Redis server.
type RedisBus struct {
	rdb *redis.Client
}

// NewRedisBus connects to Redis using a redis:// URL and verifies the
// connection with a ping.
func NewRedisBus(ctx context.Context, url string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisBus{rdb: rdb}, nil
}

// Client exposes the underlying client for callers that need it (tests).
func (b *RedisBus) Client() *redis.Client { return b.rdb }

func (b *RedisBus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (b *RedisBus) AddToStream(ctx context.Context, stream string, values map[string]any) (string, error) {
	return b.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
}

func (b *RedisBus) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var msgs []StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			msgs = append(msgs, toStreamMessage(m))
		}
	}
	return msgs, nil
}

func (b *RedisBus) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return b.rdb.XAck(ctx, stream, group, ids...).Err()
}

func (b *RedisBus) ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]StreamMessage, error) {
	claimed, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	msgs := make([]StreamMessage, 0, len(claimed))
	for _, m := range claimed {
		msgs = append(msgs, toStreamMessage(m))
	}
	return msgs, nil
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	return b.rdb.Publish(ctx, channel, payload).Result()
}

func (b *RedisBus) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return b.rdb.HSet(ctx, key, fields).Err()
}

func (b *RedisBus) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return b.rdb.HGetAll(ctx, key).Result()
}

func (b *RedisBus) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return b.rdb.HDel(ctx, key, fields...).Err()
}

func (b *RedisBus) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return b.rdb.SAdd(ctx, key, args...).Err()
}

func (b *RedisBus) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return b.rdb.SRem(ctx, key, args...).Err()
}

func (b *RedisBus) SMembers(ctx context.Context, key string) ([]string, error) {
	return b.rdb.SMembers(ctx, key).Result()
}

func (b *RedisBus) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return b.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (b *RedisBus) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]ScoredMember, error) {
	res, err := b.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, err
	}
	members := make([]ScoredMember, 0, len(res))
	for _, z := range res {
		member, _ := z.Member.(string)
		members = append(members, ScoredMember{Member: member, Score: z.Score})
	}
	return members, nil
}

func formatScore(f float64) string {
	switch {
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsInf(f, 1):
		return "+inf"
	case f == float64(int64(f)):
		return fmt.Sprintf("%d", int64(f))
	default:
		return fmt.Sprintf("%f", f)
	}
}

func (b *RedisBus) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.rdb.Expire(ctx, key, ttl).Err()
}

func (b *RedisBus) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.rdb.Del(ctx, keys...).Err()
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

func toStreamMessage(m redis.XMessage) StreamMessage {
	values := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		if s, ok := v.(string); ok {
			values[k] = s
		} else {
			values[k] = fmt.Sprint(v)
		}
	}
	return StreamMessage{ID: m.ID, Values: values}
}
