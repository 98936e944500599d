package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Manual 由呼叫端推進時間的調度器，供測試使用
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []manualTask
}

type manualTask struct {
	at  time.Duration
	seq int
	fn  func()
}

// NewManual 創建手動調度器
func NewManual() *Manual {
	return &Manual{}
}

// After 記錄任務，等待 Advance
func (m *Manual) After(d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.tasks = append(m.tasks, manualTask{at: m.now + d, seq: m.seq, fn: fn})
}

// Advance 推進虛擬時間並依序執行到期任務
//
// 任務執行期間新增的任務若也已到期，會在同一次呼叫中執行。
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		sort.SliceStable(m.tasks, func(i, j int) bool {
			if m.tasks[i].at == m.tasks[j].at {
				return m.tasks[i].seq < m.tasks[j].seq
			}
			return m.tasks[i].at < m.tasks[j].at
		})
		if len(m.tasks) == 0 || m.tasks[0].at > target {
			m.now = target
			m.mu.Unlock()
			return
		}
		t := m.tasks[0]
		m.tasks = m.tasks[1:]
		m.now = t.at
		m.mu.Unlock()

		t.fn()
	}
}

// Pending 返回尚未執行的任務數
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}
