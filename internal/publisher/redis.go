package publisher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"cryptofeeds/config"
)

// RedisSink keeps one hash per quote at <prefix>:<exchange>:<canonical>,
// expiring after ttl without updates.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisSink connects and pings the server.
func NewRedisSink(ctx context.Context, cfg config.RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return newRedisSink(client, cfg.KeyPrefix, cfg.TTL), nil
}

func newRedisSink(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisSink {
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) key(q Quote) string {
	if s.prefix == "" {
		return q.Key()
	}
	return s.prefix + ":" + q.Key()
}

func (s *RedisSink) Publish(ctx context.Context, quotes []Quote) error {
	pipe := s.client.Pipeline()
	for _, q := range quotes {
		key := s.key(q)
		pipe.HSet(ctx, key, redisFields(q))
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func redisFields(q Quote) map[string]interface{} {
	f := map[string]interface{}{
		"exchange": q.Exchange,
		"symbol":   q.Symbol,
	}
	if q.HasBid {
		f["bid"] = strconv.FormatFloat(q.Bid, 'f', -1, 64)
		f["bid_qty"] = strconv.FormatFloat(q.BidQty, 'f', -1, 64)
	}
	if q.HasAsk {
		f["ask"] = strconv.FormatFloat(q.Ask, 'f', -1, 64)
		f["ask_qty"] = strconv.FormatFloat(q.AskQty, 'f', -1, 64)
	}
	if mid, ok := q.Midquote(); ok {
		f["mid"] = strconv.FormatFloat(mid, 'f', -1, 64)
	}
	if !q.ExchangeTime.IsZero() {
		f["exchange_ts"] = q.ExchangeTime.UnixMilli()
	}
	if !q.ReceivedTime.IsZero() {
		f["received_ts"] = q.ReceivedTime.UnixMilli()
	}
	return f
}

func (s *RedisSink) Close() error { return s.client.Close() }
