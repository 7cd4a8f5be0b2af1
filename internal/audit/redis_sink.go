package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the sorted set holding entries.
const DefaultRedisKey = "audit:entries"

const redisPageSize = 200

// RedisSink stores entries in a sorted set scored by occurrence time in
// microseconds. Members are the JSON encoded entries, which are unique by id.
type RedisSink struct {
	client redis.Cmdable
	key    string
}

// NewRedisSink constructs a sink writing to key.
func NewRedisSink(client redis.Cmdable, key string) *RedisSink {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSink{client: client, key: key}
}

// Append adds e to the sorted set.
func (s *RedisSink) Append(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	member := redis.Z{Score: float64(e.OccurredAt.UnixMicro()), Member: payload}
	if err := s.client.ZAdd(ctx, s.key, member).Err(); err != nil {
		return fmt.Errorf("audit: zadd: %w", err)
	}
	return nil
}

// Query walks the set from the newest entry within the time window and
// filters the remaining fields client side.
func (s *RedisSink) Query(ctx context.Context, f Filters) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	rangeBy := &redis.ZRangeBy{Min: "-inf", Max: "+inf", Count: redisPageSize}
	if !f.From.IsZero() {
		rangeBy.Min = strconv.FormatInt(f.From.UnixMicro(), 10)
	}
	if !f.To.IsZero() {
		rangeBy.Max = strconv.FormatInt(f.To.UnixMicro(), 10)
	}

	out := make([]Entry, 0, limit)
	for {
		members, err := s.client.ZRevRangeByScore(ctx, s.key, rangeBy).Result()
		if err != nil {
			return nil, fmt.Errorf("audit: zrevrangebyscore: %w", err)
		}
		for _, m := range members {
			var e Entry
			if err := json.Unmarshal([]byte(m), &e); err != nil {
				return nil, fmt.Errorf("audit: decode entry: %w", err)
			}
			if !f.Match(e) {
				continue
			}
			out = append(out, e)
			if len(out) == limit {
				return out, nil
			}
		}
		if int64(len(members)) < rangeBy.Count {
			return out, nil
		}
		rangeBy.Offset += rangeBy.Count
	}
}

var _ Sink = (*RedisSink)(nil)
