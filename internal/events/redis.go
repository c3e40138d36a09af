package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"WChain-Bubbles/pkg/logger"
)

// RedisConfig 描述 Redis 事件队列的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Key       string
	BlockWait time.Duration
}

// RedisBus 使用 Redis list 存放事件：LPUSH 发布，BRPOP 消费。
type RedisBus struct {
	client *redis.Client
	key    string
	wait   time.Duration
}

// NewRedisBus 创建 Redis 事件队列。
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisBusWithClient(client, cfg.Key, cfg.BlockWait), nil
}

// NewRedisBusWithClient 复用已有连接。
func NewRedisBusWithClient(client *redis.Client, key string, wait time.Duration) *RedisBus {
	if key == "" {
		key = "bubbles:turns"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisBus{client: client, key: key, wait: wait}
}

// Publish 将事件写入 Redis。
func (b *RedisBus) Publish(ctx context.Context, event TurnEvent) error {
	body, err := encode(event)
	if err != nil {
		return fmt.Errorf("编码事件失败: %w", err)
	}
	if err := b.client.LPush(ctx, b.key, body).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 读取事件。无法解码的事件会被丢弃。
func (b *RedisBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	log := logger.Named("events")
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := b.client.BRPop(ctx, b.wait, b.key).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					if errors.Is(err, redis.Nil) {
						continue
					}
					errCh <- fmt.Errorf("Redis 读取事件失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				event, err := decode([]byte(values[1]))
				if err != nil {
					log.Warn("dropping undecodable turn event", "error", err)
					continue
				}
				if err := handler(ctx, event); err != nil {
					log.Warn("turn event handler failed", "conversation_id", event.ConversationID, "error", err)
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
