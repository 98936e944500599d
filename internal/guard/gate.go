package guard

import (
	"github.com/koopa0/system-design/racesync/internal/state"
	apperrors "github.com/koopa0/system-design/racesync/pkg/errors"
)

// Gate 防重放閘門
type Gate struct {
	store  *state.Store
	hasher HashFunc
}

// NewGate 創建閘門
func NewGate(store *state.Store, hasher HashFunc) *Gate {
	return &Gate{store: store, hasher: hasher}
}

// Check 驗證一次請求的雜湊
//
// 順序：
//  1. 與上次記錄的雜湊相同 → 拒絕（不論上次是否通過）
//  2. 記錄本次雜湊
//  3. 與預期值不符 → 拒絕
//
// 第 2 步在第 3 步之前，因此錯誤的雜湊也會被「燒掉」。
// 玩家紀錄不存在時會建立一筆沒有時間戳的紀錄，之後由清理程序處理。
func (g *Gate) Check(user string, version float64, count, hash string) error {
	if user == "" || count == "" || hash == "" {
		return apperrors.ErrInvalidHash.WithDetails("missing count or hash")
	}

	expected := g.hasher.Hash(user, version, count)

	var replayed bool
	g.store.Do(func(d *state.Data) {
		if u, ok := d.Users[user]; ok && u.Hash == hash {
			replayed = true
			return
		}
		d.User(user).Hash = hash
	})

	if replayed {
		return apperrors.ErrReplayedHash
	}
	if hash != expected {
		return apperrors.ErrInvalidHash
	}
	return nil
}
