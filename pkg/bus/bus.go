// Package bus abstracts the message bus: durable streams with consumer
// groups, fire-and-forget pub/sub channels, and the hash/set/sorted-set
// keyspace shared between the stream consumer and the segment promoter.
package bus

import (
	"context"
	"time"
)

// StreamMessage is one entry read from a durable stream.
type StreamMessage struct {
	ID     string
	Values map[string]string
}

// ScoredMember is a sorted-set member with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// Bus is the message bus used across the service. The Redis implementation
// is the production one; an in-memory implementation backs unit tests.
type Bus interface {
	// EnsureGroup creates the stream and consumer group if they do not
	// exist yet. Safe to call repeatedly.
	EnsureGroup(ctx context.Context, stream, group string) error

	// AddToStream appends an entry and returns its id.
	AddToStream(ctx context.Context, stream string, values map[string]any) (string, error)

	// ReadGroup block-reads up to count new messages for the consumer.
	// A nil slice with nil error means the block timeout elapsed.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error)

	// Ack acknowledges processed messages.
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// ClaimStale transfers pending entries idle for at least minIdle to
	// the given consumer and returns them.
	ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]StreamMessage, error)

	// Publish sends a payload on a pub/sub channel and returns the number
	// of subscribers that received it. Delivery is best-effort.
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]ScoredMember, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	Ping(ctx context.Context) error
	Close() error
}
