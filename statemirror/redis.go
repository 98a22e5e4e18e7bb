package statemirror

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"printbridge/printer"
)

// RedisStore keeps the latest printer snapshot under a single key and
// announces each write on "<key>:updates".
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func updatesChannel(key string) string {
	return key + ":updates"
}

func (r *RedisStore) SaveSnapshot(ctx context.Context, key string, snap printer.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.Publish(ctx, updatesChannel(key), data)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) LoadSnapshot(ctx context.Context, key string) (*printer.Snapshot, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap printer.Snapshot
	return &snap, json.Unmarshal(data, &snap)
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
