package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus 以 Core NATS 實作的匯流排
//
// 遊戲事件只需要至多一次語義，不使用 JetStream。
// NATS 不支援 "prefix*" 樣式，PSubscribe 改為訂閱命名空間下的 ">"
// 再依前綴過濾。
type NATSBus struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSBus 連接 NATS 並創建匯流排
func NewNATSBus(url string, logger *slog.Logger) (*NATSBus, error) {
	logger = logger.With("component", "bus", "transport", "nats")

	conn, err := nats.Connect(
		url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return NewNATSBusWithConn(conn, logger), nil
}

// NewNATSBusWithConn 使用既有連線創建匯流排
func NewNATSBusWithConn(conn *nats.Conn, logger *slog.Logger) *NATSBus {
	return &NATSBus{conn: conn, logger: logger}
}

// Publish 發布訊息
func (b *NATSBus) Publish(_ context.Context, channel string, payload []byte) {
	if err := b.conn.Publish(channel, payload); err != nil {
		b.logger.Warn("publish failed", "channel", channel, "error", err)
	}
}

// Subscribe 訂閱固定頻道
func (b *NATSBus) Subscribe(_ context.Context, channel string, h Handler) error {
	sub, err := b.conn.Subscribe(channel, func(m *nats.Msg) {
		h(m.Subject, m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	b.track(sub)
	return nil
}

// PSubscribe 訂閱頻道樣式
func (b *NATSBus) PSubscribe(_ context.Context, pattern string, h Handler) error {
	subject := natsSubject(pattern)
	sub, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		if MatchPattern(pattern, m.Subject) {
			h(m.Subject, m.Data)
		}
	})
	if err != nil {
		return fmt.Errorf("psubscribe %s: %w", pattern, err)
	}
	b.track(sub)
	return nil
}

func (b *NATSBus) track(sub *nats.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
	b.logger.Info("subscribed", "subject", sub.Subject)
}

// Close 取消訂閱並關閉連線
func (b *NATSBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.Warn("unsubscribe failed", "subject", sub.Subject, "error", err)
		}
	}
	b.conn.Close()
	return nil
}

// natsSubject 將 "ns.new*" 轉為 NATS 主題 "ns.>"
//
// 沒有萬用字元的樣式原樣返回。
func natsSubject(pattern string) string {
	prefix, ok := strings.CutSuffix(pattern, "*")
	if !ok {
		return pattern
	}
	i := strings.LastIndex(prefix, ".")
	if i < 0 {
		return ">"
	}
	return prefix[:i] + ".>"
}
