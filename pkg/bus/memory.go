package bus

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus used by unit tests. It honors the same
// semantics as the Redis implementation closely enough for consumer, promoter
// and lifecycle tests: per-group pending entry lists, idle-based claim, and a
// recorded pub/sub log instead of real subscribers.
type MemoryBus struct {
	mu sync.Mutex

	streams map[string][]StreamMessage
	// delivered tracks, per stream/group, which entry ids are pending and
	// when they were last delivered.
	pending map[string]map[string]time.Time
	cursor  map[string]int

	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	expires map[string]time.Duration

	published map[string][][]byte

	// Now is the clock used for pending-entry idle computation. Tests may
	// override it.
	Now func() time.Time
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		streams:   make(map[string][]StreamMessage),
		pending:   make(map[string]map[string]time.Time),
		cursor:    make(map[string]int),
		hashes:    make(map[string]map[string]string),
		sets:      make(map[string]map[string]struct{}),
		zsets:     make(map[string]map[string]float64),
		expires:   make(map[string]time.Duration),
		published: make(map[string][][]byte),
		Now:       time.Now,
	}
}

func groupKey(stream, group string) string { return stream + "/" + group }

func (b *MemoryBus) EnsureGroup(_ context.Context, stream, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := groupKey(stream, group)
	if _, ok := b.pending[key]; !ok {
		b.pending[key] = make(map[string]time.Time)
	}
	return nil
}

func (b *MemoryBus) AddToStream(_ context.Context, stream string, values map[string]any) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	strValues := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			strValues[k] = s
		}
	}
	id := time.Now().UTC().Format("20060102150405.000000") + "-0"
	if n := len(b.streams[stream]); n > 0 {
		// Guarantee unique, increasing ids within a stream.
		id = b.streams[stream][n-1].ID + "x"
	}
	b.streams[stream] = append(b.streams[stream], StreamMessage{ID: id, Values: strValues})
	return id, nil
}

func (b *MemoryBus) ReadGroup(_ context.Context, stream, group, _ string, count int64, _ time.Duration) ([]StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := groupKey(stream, group)
	if b.pending[key] == nil {
		b.pending[key] = make(map[string]time.Time)
	}
	entries := b.streams[stream]
	start := b.cursor[key]
	var out []StreamMessage
	for i := start; i < len(entries) && int64(len(out)) < count; i++ {
		out = append(out, entries[i])
		b.pending[key][entries[i].ID] = b.Now()
		b.cursor[key] = i + 1
	}
	return out, nil
}

func (b *MemoryBus) Ack(_ context.Context, stream, group string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := groupKey(stream, group)
	for _, id := range ids {
		delete(b.pending[key], id)
	}
	return nil
}

func (b *MemoryBus) ClaimStale(_ context.Context, stream, group, _ string, minIdle time.Duration, count int64) ([]StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := groupKey(stream, group)
	now := b.Now()
	var out []StreamMessage
	for _, msg := range b.streams[stream] {
		delivered, ok := b.pending[key][msg.ID]
		if !ok || now.Sub(delivered) < minIdle {
			continue
		}
		out = append(out, msg)
		b.pending[key][msg.ID] = now
		if int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

// PendingCount reports the number of unacked entries for a group (tests).
func (b *MemoryBus) PendingCount(stream, group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[groupKey(stream, group)])
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return 1, nil
}

// Published returns the payloads published on a channel (tests).
func (b *MemoryBus) Published(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.published[channel]))
	copy(out, b.published[channel])
	return out
}

func (b *MemoryBus) HSet(_ context.Context, key string, fields map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hashes[key] == nil {
		b.hashes[key] = make(map[string]string)
	}
	for k, v := range fields {
		b.hashes[key][k] = v
	}
	return nil
}

func (b *MemoryBus) HGetAll(_ context.Context, key string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.hashes[key]))
	for k, v := range b.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (b *MemoryBus) HDel(_ context.Context, key string, fields ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range fields {
		delete(b.hashes[key], f)
	}
	if len(b.hashes[key]) == 0 {
		delete(b.hashes, key)
	}
	return nil
}

func (b *MemoryBus) SAdd(_ context.Context, key string, members ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sets[key] == nil {
		b.sets[key] = make(map[string]struct{})
	}
	for _, m := range members {
		b.sets[key][m] = struct{}{}
	}
	return nil
}

func (b *MemoryBus) SRem(_ context.Context, key string, members ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range members {
		delete(b.sets[key], m)
	}
	return nil
}

func (b *MemoryBus) SMembers(_ context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.sets[key]))
	for m := range b.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (b *MemoryBus) ZAdd(_ context.Context, key string, score float64, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.zsets[key] == nil {
		b.zsets[key] = make(map[string]float64)
	}
	b.zsets[key][member] = score
	return nil
}

func (b *MemoryBus) ZRangeByScore(_ context.Context, key string, min, max float64) ([]ScoredMember, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []ScoredMember
	for m, s := range b.zsets[key] {
		if s >= min && s <= max {
			out = append(out, ScoredMember{Member: m, Score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out, nil
}

func (b *MemoryBus) Expire(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expires[key] = ttl
	return nil
}

// TTL returns the last TTL set on a key, or zero (tests).
func (b *MemoryBus) TTL(key string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expires[key]
}

func (b *MemoryBus) Del(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		delete(b.hashes, key)
		delete(b.sets, key)
		delete(b.zsets, key)
		delete(b.expires, key)
	}
	return nil
}

func (b *MemoryBus) Ping(context.Context) error { return nil }

func (b *MemoryBus) Close() error { return nil }

// ZCount reports sorted-set cardinality within [min, max] (tests).
func (b *MemoryBus) ZCount(key string) int {
	members, _ := b.ZRangeByScore(context.Background(), key, math.Inf(-1), math.Inf(1))
	return len(members)
}
