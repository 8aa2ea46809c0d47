package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述用作事件总线的 Redis 列表。
type RedisConfig struct {
	Address   string        `json:"address"`
	Password  string        `json:"password"`
	DB        int           `json:"db"`
	Key       string        `json:"key"`
	BlockWait time.Duration `json:"block_wait"`
}

// RedisBus 使用 LPUSH 写入事件、BRPOP 取出事件，单消费者时保持发布顺序。
type RedisBus struct {
	client *redis.Client
	key    string
	wait   time.Duration
}

// NewRedisBus 连接 Redis 并校验连接可用。
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return newRedisBus(client, cfg), nil
}

func newRedisBus(client *redis.Client, cfg RedisConfig) *RedisBus {
	key := cfg.Key
	if key == "" {
		key = "settlement:events"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisBus{client: client, key: key, wait: wait}
}

func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	raw, err := Marshal(event)
	if err != nil {
		return err
	}
	if err := b.client.LPush(ctx, b.key, raw).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", event.Type, err)
	}
	return nil
}

// Consume 持续取出事件，直到 ctx 结束或 Redis 出错。
func (b *RedisBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, workerCount)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				values, err := b.client.BRPop(ctx, b.wait, b.key).Result()
				switch {
				case errors.Is(err, redis.Nil):
					continue
				case err != nil:
					if ctx.Err() == nil {
						errCh <- fmt.Errorf("redis consume: %w", err)
					}
					return
				case len(values) != 2:
					continue
				}
				event, err := Unmarshal([]byte(values[1]))
				if err != nil {
					continue
				}
				_ = handler(ctx, event)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}
	cancel()
	wg.Wait()
	return err
}

func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
