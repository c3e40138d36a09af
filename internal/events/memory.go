package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryBus 使用 channel 传递事件，主要用于单进程部署和测试。
type MemoryBus struct {
	ch     chan TurnEvent
	mu     sync.Mutex
	closed bool
}

// NewMemoryBus 创建内存事件总线。
func NewMemoryBus(size int) *MemoryBus {
	if size <= 0 {
		size = 64
	}
	return &MemoryBus{ch: make(chan TurnEvent, size)}
}

// Publish 投递事件。缓冲区满时阻塞直到 ctx 结束。
func (b *MemoryBus) Publish(ctx context.Context, event TurnEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("事件总线已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.ch <- event:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费事件，直到 ctx 结束或总线关闭。
func (b *MemoryBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-b.ch:
					if !ok {
						return
					}
					_ = handler(ctx, event)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭总线，之后的 Publish 返回错误。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if !b.closed {
		close(b.ch)
		b.closed = true
	}
	b.mu.Unlock()
	return nil
}
