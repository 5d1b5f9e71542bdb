package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "walletbridge:"

// RedisStore 将授权名单与结算记录放在 Redis 中，供多个后台实例共享。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 连接指定地址的 Redis。
func NewRedisStore(addr string) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: addr}), defaultKeyPrefix)
}

// NewRedisStoreFromClient 复用已有客户端。
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Ping 检查连接。
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close 关闭客户端。
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) hostsKey() string { return r.prefix + "hosts" }

func (r *RedisStore) resolvedKey(actionHash string) string {
	return r.prefix + "resolved:" + actionHash
}

func (r *RedisStore) AllowHost(ctx context.Context, host string) error {
	return r.client.SAdd(ctx, r.hostsKey(), normalizeHost(host)).Err()
}

func (r *RedisStore) RevokeHost(ctx context.Context, host string) error {
	return r.client.SRem(ctx, r.hostsKey(), normalizeHost(host)).Err()
}

func (r *RedisStore) IsHostAllowed(ctx context.Context, host string) (bool, error) {
	return r.client.SIsMember(ctx, r.hostsKey(), normalizeHost(host)).Result()
}

func (r *RedisStore) MarkResolved(ctx context.Context, actionHash, outcome string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.resolvedKey(actionHash), outcome, ttl).Result()
}

func (r *RedisStore) Resolution(ctx context.Context, actionHash string) (string, error) {
	result, err := r.client.Get(ctx, r.resolvedKey(actionHash)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return result, err
}
