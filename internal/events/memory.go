package events

import (
	"context"
	"errors"
	"sync"

	"PretzelMint/internal/contract"
)

// MemoryPublisher 使用 channel 缓存状态快照，主要用于本地调试与测试。
type MemoryPublisher struct {
	ch     chan contract.State
	mu     sync.RWMutex
	closed bool
}

// NewMemoryPublisher 创建一个内存发布器。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan contract.State, size)}
}

// Publish 将快照写入缓冲区，缓冲区满时等待 ctx。
func (p *MemoryPublisher) Publish(ctx context.Context, state contract.State) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("发布器已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.ch <- state:
		return nil
	}
}

// Events 返回快照只读通道，Close 后通道关闭。
func (p *MemoryPublisher) Events() <-chan contract.State {
	return p.ch
}

// Close 关闭内存发布器。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		close(p.ch)
		p.closed = true
	}
	return nil
}
