package cache

import (
	iface "GlyphNet/interface"
	"GlyphNet/logger"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// ResultCache 识别结果缓存，未命中返回 (nil, nil)
type ResultCache interface {
	Get(ctx context.Context, key string) (*iface.Detection, error)
	Set(ctx context.Context, key string, det *iface.Detection) error
}

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(opts Options) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisCache{client: client, ttl: opts.TTL}
}

// Key 同一张图在同一份权重下的结果才可复用
func Key(weightsDigest string, image []byte) string {
	sum := md5.Sum(image)
	return "glyph:" + weightsDigest + ":" + hex.EncodeToString(sum[:])
}

// Connect 以 Fibonacci 退避重试 Ping，redis 晚于服务启动时也能连上
func (c *RedisCache) Connect(ctx context.Context, maxRetries uint64, base time.Duration) error {
	b := retry.WithMaxRetries(maxRetries, retry.NewFibonacci(base))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := c.client.Ping(ctx).Err(); err != nil {
			logger.Log().Warn("redis ping failed, retrying", zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (c *RedisCache) Get(ctx context.Context, key string) (*iface.Detection, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}
	var det iface.Detection
	if err := json.Unmarshal(data, &det); err != nil {
		logger.Log().Error("failed to unmarshal cached detection", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	return &det, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, det *iface.Detection) error {
	data, err := json.Marshal(det)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ ResultCache = (*RedisCache)(nil)
