package state

import (
	"sync"
	"sync/atomic"
)

// LeaseToken 租約憑證，0 表示無效
type LeaseToken uint64

var tokenSeq atomic.Uint64

// Lease 房間完賽租約
//
// 同一時間只有一個持有者。Release 只接受目前的憑證，
// 過期憑證或重複釋放都是空操作。
type Lease struct {
	mu     sync.Mutex
	holder LeaseToken
}

// Acquire 嘗試取得租約，已被持有時返回 false
func (l *Lease) Acquire() (LeaseToken, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder != 0 {
		return 0, false
	}
	l.holder = LeaseToken(tokenSeq.Add(1))
	return l.holder, true
}

// Release 釋放租約，返回是否真的釋放
func (l *Lease) Release(token LeaseToken) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if token == 0 || l.holder != token {
		return false
	}
	l.holder = 0
	return true
}

// Held 租約是否被持有
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder != 0
}
