package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// subscribeConfirmTimeout 等待訂閱確認的時間
const subscribeConfirmTimeout = 3 * time.Second

// RedisBus 以 Redis Pub/Sub 實作的匯流排
//
// 每個訂閱各自使用一條連線與一個 goroutine 消費，
// 同一訂閱內的訊息因此依序處理。go-redis 會在斷線後自動重新訂閱。
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	wg     sync.WaitGroup
	closed bool
}

// NewRedisBus 創建 Redis 匯流排
func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		logger: logger.With("component", "bus", "transport", "redis"),
	}
}

// Publish 發布訊息
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.logger.Warn("publish failed", "channel", channel, "error", err)
	}
}

// Subscribe 訂閱固定頻道
func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) error {
	return b.consume(ctx, b.client.Subscribe(ctx, channel), channel, h)
}

// PSubscribe 訂閱頻道樣式
func (b *RedisBus) PSubscribe(ctx context.Context, pattern string, h Handler) error {
	return b.consume(ctx, b.client.PSubscribe(ctx, pattern), pattern, h)
}

// consume 確認訂閱後啟動消費 goroutine
//
// 確認失敗只記錄警告：go-redis 會持續重連，恢復後訊息照常送達。
func (b *RedisBus) consume(ctx context.Context, ps *redis.PubSub, name string, h Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return redis.ErrClosed
	}
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	confirmCtx, cancel := context.WithTimeout(ctx, subscribeConfirmTimeout)
	defer cancel()
	if _, err := ps.Receive(confirmCtx); err != nil {
		b.logger.Warn("subscription not confirmed, will retry in background", "subscription", name, "error", err)
	}

	ch := ps.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ch {
			h(msg.Channel, []byte(msg.Payload))
		}
		b.logger.Debug("subscription closed", "subscription", name)
	}()

	b.logger.Info("subscribed", "subscription", name)
	return nil
}

// Close 關閉所有訂閱並等待消費 goroutine 結束
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var firstErr error
	for _, ps := range subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.wg.Wait()
	return firstErr
}
