package state

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Store 單一節點的狀態擁有者
//
// 所有讀寫都經過 Do，在同一把鎖內完成。
// Do 的回呼內不可發布匯流排訊息或呼叫外部服務，
// 同步匯流排會重入 Do 而造成死鎖。
type Store struct {
	mu     sync.Mutex
	data   *Data
	leases map[string]*Lease
}

// NewStore 創建空的狀態儲存
func NewStore() *Store {
	return &Store{
		data:   NewData(),
		leases: make(map[string]*Lease),
	}
}

// Do 在鎖內執行 fn
func (s *Store) Do(fn func(d *Data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
}

// Lease 返回房間的完賽租約，不存在時建立
//
// 租約不屬於快照，副本節點啟動時所有租約都是空閒的。
func (s *Store) Lease(room string) *Lease {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[room]
	if !ok {
		l = &Lease{}
		s.leases[room] = l
	}
	return l
}

// AcquireLease 在同一把鎖內取得房間租約並嘗試持有
//
// 查找與持有之間不能穿插 DropLease，否則持有中的租約會脫離 Store。
func (s *Store) AcquireLease(room string) (*Lease, LeaseToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[room]
	if !ok {
		l = &Lease{}
		s.leases[room] = l
	}
	token, ok := l.Acquire()
	return l, token, ok
}

// DropLease 刪除未被持有的租約，房間被清理時呼叫
func (s *Store) DropLease(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[room]; ok && !l.Held() {
		delete(s.leases, room)
	}
}

// Snapshot 返回目前狀態的深拷貝
func (s *Store) Snapshot() (*Data, error) {
	s.mu.Lock()
	raw, err := json.Marshal(s.data)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	return DecodeSnapshot(raw)
}

// Restore 採用快照作為目前狀態
func (s *Store) Restore(d *Data) {
	if d == nil {
		d = NewData()
	}
	d.normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = d
}

// DecodeSnapshot 解析快照 JSON
func DecodeSnapshot(raw []byte) (*Data, error) {
	d := &Data{}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	d.normalize()
	return d, nil
}
