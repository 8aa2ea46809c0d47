package events

import (
	"context"
	"sync"
)

// MemoryBus 是基于带缓冲通道的进程内事件总线。
type MemoryBus struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
}

// NewMemoryBus 创建指定缓冲大小的总线。
func NewMemoryBus(size int) *MemoryBus {
	if size <= 0 {
		size = 256
	}
	return &MemoryBus{ch: make(chan Event, size)}
}

func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.ch <- event:
		return nil
	}
}

// Consume 启动 workerCount 个工作协程，直到 ctx 结束或总线关闭。
// 处理失败由 handler 自行负责，事件不会重新投递。
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

// Len 返回缓冲中的事件数量。
func (b *MemoryBus) Len() int {
	return len(b.ch)
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		close(b.ch)
		b.closed = true
	}
	return nil
}
