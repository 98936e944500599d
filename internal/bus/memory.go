package bus

import (
	"context"
	"sync"
)

// MemoryBus 行程內的同步匯流排
//
// Publish 在呼叫端的 goroutine 中依訂閱順序直接呼叫處理函式，
// 適合單節點執行與測試。處理函式可以再次 Publish。
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []memorySub
	closed bool
}

type memorySub struct {
	pattern string
	h       Handler
}

// NewMemoryBus 創建行程內匯流排
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Publish 同步送達所有符合的訂閱
func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	matched := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if MatchPattern(s.pattern, channel) {
			matched = append(matched, s.h)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		h(channel, payload)
	}
}

// Subscribe 訂閱固定頻道
func (b *MemoryBus) Subscribe(_ context.Context, channel string, h Handler) error {
	b.add(channel, h)
	return nil
}

// PSubscribe 訂閱頻道樣式
func (b *MemoryBus) PSubscribe(_ context.Context, pattern string, h Handler) error {
	b.add(pattern, h)
	return nil
}

func (b *MemoryBus) add(pattern string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, memorySub{pattern: pattern, h: h})
}

// Close 之後的 Publish 直接丟棄
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}
