// Package game 實作多人賽車的同步核心
//
// 資料流：
//
//	客戶端動作 → Submit（發布）→ 匯流排 → 每個節點的訂閱者 → ApplyEvent（寫入本地狀態）
//	                                                           ↓
//	                                           Poll 從本地狀態回應等待中的客戶端
//
// 發布者本身也透過訂閱收到自己的事件，所有節點走同一條寫入路徑。
//
// 鎖的規則：state.Store.Do 的回呼內只做記憶體運算，
// 發布、KV 存取與排程一律在解鎖後進行。
package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/koopa0/system-design/racesync/internal/bus"
	"github.com/koopa0/system-design/racesync/internal/config"
	"github.com/koopa0/system-design/racesync/internal/scheduler"
	"github.com/koopa0/system-design/racesync/internal/state"
)

const (
	// DefaultPollTimeout 長輪詢最長等待
	DefaultPollTimeout = 50 * time.Second
	// DefaultPollInterval 長輪詢檢查間隔
	DefaultPollInterval = 400 * time.Millisecond
	// DefaultJanitorInterval 清理週期
	DefaultJanitorInterval = 20 * time.Second
	// DefaultFinishSegments 終點線的賽段數
	DefaultFinishSegments = 107

	// kvTimeout 匯流排回呼內 KV 往返的上限
	kvTimeout = 2 * time.Second
)

// Options 服務參數
type Options struct {
	Namespace       string
	Role            string
	Version         float64
	FinishSegments  int
	PollTimeout     time.Duration
	PollInterval    time.Duration
	JanitorInterval time.Duration
}

// OptionsFromConfig 從配置建立服務參數
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		Namespace:       c.Bus.Namespace,
		Role:            c.Node.Role,
		Version:         c.Game.Version,
		FinishSegments:  c.Game.FinishSegments,
		PollTimeout:     c.Game.PollTimeout,
		PollInterval:    c.Game.PollInterval,
		JanitorInterval: c.Game.JanitorInterval,
	}
}

func (o *Options) setDefaults() {
	if o.Role == "" {
		o.Role = config.RolePrimary
	}
	if o.FinishSegments <= 0 {
		o.FinishSegments = DefaultFinishSegments
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.JanitorInterval <= 0 {
		o.JanitorInterval = DefaultJanitorInterval
	}
}

// Service 遊戲同步服務
type Service struct {
	store    *state.Store
	bus      bus.Bus
	kv       bus.KV
	sched    scheduler.Scheduler
	channels bus.Channels
	opts     Options
	logger   *slog.Logger

	now  func() time.Time
	intn func(n int) int

	// inflight 進行中的完賽結算
	inflight sync.WaitGroup
}

// Option 調整服務內部相依（測試用）
type Option func(*Service)

// WithClock 替換時鐘
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRand 替換隨機房間號產生器
func WithRand(intn func(n int) int) Option {
	return func(s *Service) { s.intn = intn }
}

// NewService 創建服務
func NewService(store *state.Store, b bus.Bus, kv bus.KV, sched scheduler.Scheduler, opts Options, logger *slog.Logger, extra ...Option) *Service {
	opts.setDefaults()

	s := &Service{
		store:    store,
		bus:      b,
		kv:       kv,
		sched:    sched,
		channels: bus.NewChannels(opts.Namespace),
		opts:     opts,
		logger:   logger.With("component", "game"),
		now:      time.Now,
		intn:     rand.IntN,
	}
	for _, o := range extra {
		o(s)
	}
	return s
}

// Store 返回狀態儲存
func (s *Service) Store() *state.Store {
	return s.store
}

// Channels 返回頻道命名
func (s *Service) Channels() bus.Channels {
	return s.channels
}

// Start 訂閱事件頻道與 new* 樣式
func (s *Service) Start(ctx context.Context) error {
	if err := s.bus.Subscribe(ctx, s.channels.Events(), s.handleEvents); err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	if err := s.bus.PSubscribe(ctx, s.channels.NewPattern(), s.handleNew); err != nil {
		return fmt.Errorf("psubscribe new*: %w", err)
	}
	return nil
}

// Wait 等待進行中的完賽結算結束
func (s *Service) Wait() {
	s.inflight.Wait()
}

// nowMillis 目前時間（毫秒）
func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}

// handleEvents events 頻道的訂閱者
func (s *Service) handleEvents(channel string, payload []byte) {
	var msg bus.EventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("dropping malformed event", "channel", channel, "error", err)
		return
	}
	s.ApplyEvent(msg)
}

// handleNew new* 樣式的訂閱者，依頻道分派
func (s *Service) handleNew(channel string, payload []byte) {
	var err error
	switch channel {
	case s.channels.NewUser():
		var msg bus.UserMessage
		if err = json.Unmarshal(payload, &msg); err == nil {
			s.ApplyNewUser(msg)
		}
	case s.channels.NewGame():
		var msg bus.JoinMessage
		if err = json.Unmarshal(payload, &msg); err == nil {
			s.ApplyNewGame(msg)
		}
	case s.channels.Reward():
		var msg bus.RewardMessage
		if err = json.Unmarshal(payload, &msg); err == nil {
			s.ApplyReward(msg)
		}
	default:
		// newuser_connect 等頻道由外部消費者處理
		return
	}
	if err != nil {
		s.logger.Warn("dropping malformed message", "channel", channel, "error", err)
	}
}

// publish 編碼並發布
func (s *Service) publish(ctx context.Context, channel string, v any) {
	payload, err := bus.Encode(v)
	if err != nil {
		s.logger.Error("encode bus message", "channel", channel, "error", err)
		return
	}
	s.bus.Publish(ctx, channel, payload)
}

// splitMessage 逗號分隔的子訊息
func splitMessage(text string) []string {
	return strings.Split(text, ",")
}
