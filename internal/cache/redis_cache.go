package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dahabpos/backend/internal/domain"
)

type RedisSnapshotCache struct {
	client  *redis.Client
	key     string
	channel string
	logger  *zap.Logger
}

func NewRedisSnapshotCache(addr string, password string, db int, key string, channel string, logger *zap.Logger) *RedisSnapshotCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisSnapshotCache{client: client, key: key, channel: channel, logger: logger}
}

func (c *RedisSnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSnapshotCache) Close() error {
	return c.client.Close()
}

func (c *RedisSnapshotCache) Load(ctx context.Context) (*domain.PriceSnapshot, bool, error) {
	val, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snapshot domain.PriceSnapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return nil, false, err
	}
	return &snapshot, true, nil
}

// Save stores the snapshot without expiry; a newer snapshot overwrites it.
func (c *RedisSnapshotCache) Save(ctx context.Context, snapshot domain.PriceSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key, payload, 0).Err()
}

func (c *RedisSnapshotCache) Publish(ctx context.Context, snapshot domain.PriceSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

func (c *RedisSnapshotCache) Subscribe(ctx context.Context, fn func(domain.PriceSnapshot)) error {
	pubsub := c.client.Subscribe(ctx, c.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.channel, err)
	}
	c.logger.Info("subscribed to price channel", zap.String("channel", c.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				c.logger.Warn("price channel closed", zap.String("channel", c.channel))
				return nil
			}
			var snapshot domain.PriceSnapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snapshot); err != nil {
				c.logger.Warn("dropping malformed price snapshot", zap.Error(err))
				continue
			}
			fn(snapshot)
		}
	}
}
