// Package scheduler 提供延遲任務調度
//
// 遊戲同步中有兩種延遲動作：踢人後 1 秒的第二次清除，
// 以及完賽後 2 秒的第二次清空與釋放租約。兩者都交由時間輪處理，
// 不使用巢狀計時器。
//
// 時間輪算法：
//   - 圓形槽位數組（類似時鐘）
//   - 指針每個 tick 轉動一格
//   - 插入與觸發都是 O(1)
package scheduler

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultSlotCount 預設槽位數量
	DefaultSlotCount = 600

	// DefaultTick 預設指針轉動間隔（600 × 100ms = 一圈 60 秒）
	DefaultTick = 100 * time.Millisecond
)

// Scheduler 延遲執行函式的能力
type Scheduler interface {
	After(d time.Duration, fn func())
}

// task 調度任務
type task struct {
	round int    // 需要再轉幾圈
	fn    func() // 到期時執行
}

// TimingWheel 時間輪
//
//	Slot 0   →  [task A, task B]
//	Slot 1   →  []
//	Slot 2   →  [task C]
//	...
//	         ↑ 當前指針
//
// 插入任務：
//
//	ticks = ceil(delay / tick)，至少 1
//	slot  = (currentSlot + ticks) % slotCount
//	round = (ticks - 1) / slotCount
type TimingWheel struct {
	slots       []*list.List
	currentSlot int
	tick        time.Duration
	mu          sync.Mutex
	logger      *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewTimingWheel 創建時間輪
func NewTimingWheel(tick time.Duration, slotCount int, logger *slog.Logger) *TimingWheel {
	if tick <= 0 {
		tick = DefaultTick
	}
	if slotCount <= 0 {
		slotCount = DefaultSlotCount
	}

	tw := &TimingWheel{
		slots:  make([]*list.List, slotCount),
		tick:   tick,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	for i := range tw.slots {
		tw.slots[i] = list.New()
	}
	return tw
}

// After 在 d 之後執行 fn
func (tw *TimingWheel) After(d time.Duration, fn func()) {
	ticks := int((d + tw.tick - 1) / tw.tick)
	if ticks < 1 {
		// 當前槽位已處理過，最快也要下一格
		ticks = 1
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	slot := (tw.currentSlot + ticks) % len(tw.slots)
	tw.slots[slot].PushBack(&task{
		round: (ticks - 1) / len(tw.slots),
		fn:    fn,
	})
}

// Start 啟動時間輪
func (tw *TimingWheel) Start() {
	tw.wg.Add(1)
	go tw.run()
}

// run 時間輪主循環
func (tw *TimingWheel) run() {
	defer tw.wg.Done()

	ticker := time.NewTicker(tw.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tw.advance()
		case <-tw.stopCh:
			return
		}
	}
}

// advance 指針轉動一格，到期任務在鎖外執行
func (tw *TimingWheel) advance() {
	tw.mu.Lock()

	tw.currentSlot = (tw.currentSlot + 1) % len(tw.slots)
	slot := tw.slots[tw.currentSlot]

	var due []func()
	var next *list.Element
	for e := slot.Front(); e != nil; e = next {
		next = e.Next()
		t := e.Value.(*task)
		if t.round == 0 {
			due = append(due, t.fn)
			slot.Remove(e)
		} else {
			t.round--
		}
	}

	tw.mu.Unlock()

	for _, fn := range due {
		tw.execute(fn)
	}
}

func (tw *TimingWheel) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			tw.logger.Error("scheduled task panicked", "panic", r)
		}
	}()
	fn()
}

// Stop 停止時間輪，尚未到期的任務會被丟棄
func (tw *TimingWheel) Stop() {
	tw.once.Do(func() {
		close(tw.stopCh)
	})
	tw.wg.Wait()
}

// Size 返回時間輪中的任務總數
func (tw *TimingWheel) Size() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	count := 0
	for _, slot := range tw.slots {
		count += slot.Len()
	}
	return count
}
