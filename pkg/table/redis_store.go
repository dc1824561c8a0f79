package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/edgeflare/stations/pkg/station"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis connection used by RedisStore.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NewRedisClient connects to the Redis server described by cfg.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisStore keeps one table partition in a Redis hash, one field per
// station id with the JSON-encoded view as value.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStore returns the store of partition of table name.
func NewRedisStore(client redis.Cmdable, name string, partition int32) *RedisStore {
	return &RedisStore{
		client: client,
		key:    fmt.Sprintf("%s:%d", name, partition),
	}
}

func (s *RedisStore) Get(ctx context.Context, id int) (station.View, bool, error) {
	raw, err := s.client.HGet(ctx, s.key, strconv.Itoa(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return station.View{}, false, nil
	}
	if err != nil {
		return station.View{}, false, fmt.Errorf("redis get %s/%d: %w", s.key, id, err)
	}
	var v station.View
	if err := json.Unmarshal(raw, &v); err != nil {
		return station.View{}, false, fmt.Errorf("decode %s/%d: %w", s.key, id, err)
	}
	return v, true, nil
}

func (s *RedisStore) Put(ctx context.Context, v station.View) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key, strconv.Itoa(v.StationID), raw).Err(); err != nil {
		return fmt.Errorf("redis put %s/%d: %w", s.key, v.StationID, err)
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis reset %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) All(ctx context.Context) ([]station.View, error) {
	entries, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", s.key, err)
	}
	views := make([]station.View, 0, len(entries))
	for field, raw := range entries {
		var v station.View
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", s.key, field, err)
		}
		views = append(views, v)
	}
	sortViews(views)
	return views, nil
}
