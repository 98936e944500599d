package game_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/racesync/internal/bus"
	"github.com/koopa0/system-design/racesync/internal/config"
	"github.com/koopa0/system-design/racesync/internal/game"
	"github.com/koopa0/system-design/racesync/internal/scheduler"
	"github.com/koopa0/system-design/racesync/internal/state"
	"github.com/koopa0/system-design/racesync/pkg/logger"
)

const testNamespace = "rubber-test"

// fakeClock 可手動推進的時鐘
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Millis() int64 {
	return c.Now().UnixMilli()
}

// recorder 記錄某個頻道上發布的訊息
type recorder struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (r *recorder) handle(_ string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, append([]byte(nil), payload...))
}

func (r *recorder) all() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.payloads...)
}

type harness struct {
	svc   *game.Service
	store *state.Store
	bus   *bus.MemoryBus
	kv    *bus.MemoryKV
	sched *scheduler.Manual
	clock *fakeClock
	ch    bus.Channels
}

type harnessOption func(*game.Options)

func withRole(role string) harnessOption {
	return func(o *game.Options) { o.Role = role }
}

func withPollTimeout(d time.Duration) harnessOption {
	return func(o *game.Options) { o.PollTimeout = d }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	o := game.Options{
		Namespace:    testNamespace,
		Role:         config.RolePrimary,
		Version:      1.6,
		PollTimeout:  200 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
	for _, fn := range opts {
		fn(&o)
	}

	h := &harness{
		store: state.NewStore(),
		bus:   bus.NewMemoryBus(),
		kv:    bus.NewMemoryKV(),
		sched: scheduler.NewManual(),
		clock: &fakeClock{now: time.UnixMilli(1_700_000_000_000)},
		ch:    bus.NewChannels(testNamespace),
	}
	h.svc = game.NewService(h.store, h.bus, h.kv, h.sched, o, logger.Discard(),
		game.WithClock(h.clock.Now),
		game.WithRand(func(int) int { return 42 }),
	)
	require.NoError(t, h.svc.Start(context.Background()))

	t.Cleanup(func() {
		h.svc.Wait()
		_ = h.bus.Close()
	})
	return h
}

// record 訂閱頻道並返回記錄器
func (h *harness) record(t *testing.T, channel string) *recorder {
	t.Helper()
	r := &recorder{}
	require.NoError(t, h.bus.Subscribe(context.Background(), channel, r.handle))
	return r
}

// seedPlayer 透過匯流排建立玩家紀錄並加入房間
func (h *harness) seedPlayer(id, name, room string) {
	h.svc.ApplyNewUser(bus.UserMessage{ID: id, Name: name, Timestamp: h.clock.Millis()})
	if room != "" {
		h.svc.ApplyNewGame(bus.JoinMessage{Room: room, User: id})
	}
}

// events 房間日誌的拷貝
func (h *harness) events(room string) []state.Event {
	var out []state.Event
	h.store.Do(func(d *state.Data) {
		out = append(out, d.Events[room]...)
	})
	return out
}

// countType 日誌中某類型事件的數量
func (h *harness) countType(room, eventType string) int {
	n := 0
	for _, ev := range h.events(room) {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// tally 讀取某玩家的累計值
func (h *harness) tally(room, eventType, user string) (int64, bool) {
	var (
		n  int64
		ok bool
	)
	h.store.Do(func(d *state.Data) {
		r, exists := d.Games[room]
		if !exists {
			return
		}
		if t, exists := r.Events[eventType][user]; exists {
			n, ok = t.Count, true
		}
	})
	return n, ok
}

func player(id, name string) game.Player {
	return game.Player{ID: id, Name: name, Version: 1.6}
}

func decodeSummary(t *testing.T, ev state.Event) game.Summary {
	t.Helper()
	var s game.Summary
	require.NoError(t, json.Unmarshal(ev.Message, &s))
	return s
}
