package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore wraps a redis client and context for operations.
type RedisStore struct {
	Client *redis.Client
	Ctx    context.Context
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Ctx:    context.Background(),
	}

	// Add OpenTelemetry instrumentation to Redis client
	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(rs.Ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// RecordExposure adds one timestamped member to each sorted-set key and
// refreshes the key TTL to window. member may be empty, in which case a
// random id is used so concurrent serves are counted separately.
func (r *RedisStore) RecordExposure(ctx context.Context, keys []string, member string, at time.Time, window time.Duration) error {
	if member == "" {
		member = uuid.NewString()
	}
	score := float64(at.UnixMilli())
	pipe := r.Client.TxPipeline()
	for _, key := range keys {
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
		pipe.Expire(ctx, key, window)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// CountExposures trims entries older than since from each key and returns
// the remaining cardinalities in key order.
func (r *RedisStore) CountExposures(ctx context.Context, keys []string, since time.Time) ([]int64, error) {
	pipe := r.Client.Pipeline()
	max := "(" + strconv.FormatInt(since.UnixMilli(), 10)
	cards := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		pipe.ZRemRangeByScore(ctx, key, "-inf", max)
		cards[i] = pipe.ZCard(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	out := make([]int64, len(keys))
	for i, c := range cards {
		out[i] = c.Val()
	}
	return out, nil
}

// GetJSON decodes the value at key into v. It reports false on a miss.
func (r *RedisStore) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v at key with the given TTL.
func (r *RedisStore) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, key, data, ttl).Err()
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
