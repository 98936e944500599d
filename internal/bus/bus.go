// Package bus 封裝節點間的發布/訂閱傳輸
//
// 每個節點把玩家動作發布到匯流排，再由自己的訂閱者（包含發布者本身）
// 套用到本地狀態，所有節點因此收斂到同一份資料。
//
// 語義：
//   - Publish 盡力而為：傳輸錯誤只記錄，不回傳給呼叫端
//   - 同一訂閱內按發布順序送達，不同頻道之間沒有順序保證
//   - 連線中斷時訊息可能遺失（至多一次）
package bus

import (
	"context"
	"strings"
)

// Handler 訊息處理函式，channel 為實際頻道名稱
type Handler func(channel string, payload []byte)

// Bus 發布/訂閱傳輸
type Bus interface {
	// Publish 發布訊息，失敗只記錄日誌
	Publish(ctx context.Context, channel string, payload []byte)
	// Subscribe 訂閱固定頻道
	Subscribe(ctx context.Context, channel string, h Handler) error
	// PSubscribe 訂閱 "prefix*" 形式的頻道樣式
	PSubscribe(ctx context.Context, pattern string, h Handler) error
	// Close 關閉所有訂閱
	Close() error
}

// Channels 依命名空間產生頻道名稱
type Channels struct {
	ns string
}

// NewChannels 創建頻道命名
func NewChannels(namespace string) Channels {
	return Channels{ns: namespace}
}

// Namespace 返回命名空間
func (c Channels) Namespace() string { return c.ns }

// Events 房間事件
func (c Channels) Events() string { return c.ns + ".events" }

// NewUser 玩家資料更新
func (c Channels) NewUser() string { return c.ns + ".newuser" }

// NewUserConnect 玩家連線（供外部消費者使用）
func (c Channels) NewUserConnect() string { return c.ns + ".newuser_connect" }

// NewGame 加入房間
func (c Channels) NewGame() string { return c.ns + ".newgame" }

// Reward 獎勵帳本異動
func (c Channels) Reward() string { return c.ns + ".newrewardmsg" }

// Connect 連線紀錄（含 IP）
func (c Channels) Connect() string { return c.ns + ".connect" }

// Stats 客戶端統計
func (c Channels) Stats() string { return c.ns + ".stats" }

// Scores 高分紀錄
func (c Channels) Scores() string { return c.ns + ".scores" }

// NewPattern newuser、newgame、newrewardmsg 共用的樣式
func (c Channels) NewPattern() string { return c.ns + ".new*" }

// RoomVarsKey 房間種子累加值的 hash
func (c Channels) RoomVarsKey() string { return c.ns + ".roomvars" }

// UsersKey 在線玩家集合
func (c Channels) UsersKey() string { return c.ns + ".users" }

// CarStatsKey 玩家撞車統計 hash
func (c Channels) CarStatsKey() string { return c.ns + ".userstats_car" }

// MatchPattern 判斷頻道是否符合 "prefix*" 樣式
func MatchPattern(pattern, channel string) bool {
	prefix, ok := strings.CutSuffix(pattern, "*")
	if !ok {
		return pattern == channel
	}
	return strings.HasPrefix(channel, prefix)
}
