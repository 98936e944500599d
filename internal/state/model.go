// Package state 是每個節點的遊戲狀態儲存
//
// 所有房間、玩家、事件日誌、獎勵帳本與「落單房間」建議都存放在這裡。
// 本套件只負責資料本身與存取時的預設初始化，行為由 game 套件實作。
//
// JSON 欄位名稱沿用舊版客戶端與副本節點使用的格式，
// /current-status 回傳的快照可以直接被另一個節點採用。
package state

import (
	"encoding/json"
	"hash/fnv"
	"strings"
)

// 特殊事件類型
const (
	TypeCar      = "car"
	TypeProgress = "progress"
	TypeSummary  = "summary"
	TypeKick     = "kick"
)

// RootUser 系統事件的發送者
const RootUser = "root"

// AllRewards 所有玩家共享的獎勵鍵，不會被消耗
const AllRewards = "all"

// User 玩家紀錄
//
// Time 為 0 表示紀錄不完整（例如只經過雜湊檢查而尚未連線），清理時直接刪除。
type User struct {
	Name string `json:"name,omitempty"`
	Room string `json:"room,omitempty"`
	Time int64  `json:"time,omitempty"`
	Hash string `json:"hash,omitempty"`
	Mail string `json:"mail,omitempty"`
}

// Member 房間成員的最後活動時間
type Member struct {
	Time int64 `json:"time"`
}

// Tally 某玩家在某事件類型上的累計值
//
// progress 類型保存最新數值，其他類型保存子訊息的累計數量。
type Tally struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Tallies 事件類型 → 玩家 → 累計
type Tallies map[string]map[string]*Tally

// Room 房間
type Room struct {
	Users  map[string]*Member `json:"users"`
	Events Tallies            `json:"events"`
}

// Event 房間事件
//
// Message 通常是 JSON 字串，summary 事件則是物件。
type Event struct {
	Type      string          `json:"type"`
	Message   json.RawMessage `json:"message"`
	From      string          `json:"from"`
	FromName  string          `json:"fromname"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage 將字串編碼為事件訊息
func TextMessage(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// Text 返回訊息字串，非字串訊息返回空字串
func (e Event) Text() string {
	var s string
	if err := json.Unmarshal(e.Message, &s); err != nil {
		return ""
	}
	return s
}

// Data 完整的狀態，也是快照格式
type Data struct {
	Events     map[string][]Event         `json:"events"`
	Games      map[string]*Room           `json:"games"`
	Users      map[string]*User           `json:"users"`
	Loners     map[string]int64           `json:"loners"`
	Rewards    map[string]int64           `json:"rewards"`
	Recruiters map[string]map[string]bool `json:"recruiters"`
}

// NewData 返回空狀態
func NewData() *Data {
	d := &Data{}
	d.normalize()
	return d
}

// normalize 補齊 nil map，快照可能來自舊節點或是空物件
func (d *Data) normalize() {
	if d.Events == nil {
		d.Events = make(map[string][]Event)
	}
	if d.Games == nil {
		d.Games = make(map[string]*Room)
	}
	if d.Users == nil {
		d.Users = make(map[string]*User)
	}
	if d.Loners == nil {
		d.Loners = make(map[string]int64)
	}
	if d.Rewards == nil {
		d.Rewards = make(map[string]int64)
	}
	if d.Recruiters == nil {
		d.Recruiters = make(map[string]map[string]bool)
	}
	for id, r := range d.Games {
		if r == nil {
			r = &Room{}
			d.Games[id] = r
		}
		r.normalize()
	}
	for id, u := range d.Users {
		if u == nil {
			d.Users[id] = &User{}
		}
	}
}

// Room 取得房間，不存在時建立空房間
func (d *Data) Room(id string) *Room {
	r, ok := d.Games[id]
	if !ok {
		r = &Room{}
		r.normalize()
		d.Games[id] = r
	}
	return r
}

// User 取得玩家，不存在時建立空紀錄
func (d *Data) User(id string) *User {
	u, ok := d.Users[id]
	if !ok {
		u = &User{}
		d.Users[id] = u
	}
	return u
}

// AppendEvents 依到達順序附加事件到房間日誌
func (d *Data) AppendEvents(room string, events ...Event) {
	d.Events[room] = append(d.Events[room], events...)
}

func (r *Room) normalize() {
	if r.Users == nil {
		r.Users = make(map[string]*Member)
	}
	if r.Events == nil {
		r.Events = make(Tallies)
	}
}

// Tally 取得某事件類型的累計表，不存在時建立
func (r *Room) Tally(eventType string) map[string]*Tally {
	t, ok := r.Events[eventType]
	if !ok {
		t = make(map[string]*Tally)
		r.Events[eventType] = t
	}
	return t
}

// RemoveUser 從成員與所有累計表中移除玩家
func (r *Room) RemoveUser(id string) {
	delete(r.Users, id)
	for _, t := range r.Events {
		delete(t, id)
	}
}

// ClearTallies 清空所有累計
func (r *Room) ClearTallies() {
	r.Events = make(Tallies)
}

// Copy 深拷貝累計表
func (t Tallies) Copy() Tallies {
	out := make(Tallies, len(t))
	for typ, users := range t {
		out[typ] = CopyTally(users)
	}
	return out
}

// CopyTally 深拷貝單一事件類型的累計
func CopyTally(src map[string]*Tally) map[string]*Tally {
	out := make(map[string]*Tally, len(src))
	for id, v := range src {
		c := *v
		out[id] = &c
	}
	return out
}

// ParseLeadingInt 解析字串開頭的整數
//
// 與舊客戶端相同：接受前導空白與正負號，之後至少要有一位數字。
// "42"、"42abc" 都是 42；"abc" 不是數字。
func ParseLeadingInt(s string) (int64, bool) {
	s = strings.TrimLeft(s, " \t\n\r")
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}

	var n int64
	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		if n < 1e15 {
			n = n*10 + int64(s[digits]-'0')
		}
		digits++
	}
	if digits == 0 {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}

// RoomNumber 數字房間的編號
func RoomNumber(id string) (int64, bool) {
	return ParseLeadingInt(id)
}

// SeedBase 房間關卡種子的基準值
//
// 數字房間使用其數值，其他房間使用 ID 的 FNV 雜湊，
// 保證同一房間在所有節點得到相同關卡。
func SeedBase(id string) int64 {
	if n, ok := RoomNumber(id); ok {
		return n
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum32())
}
