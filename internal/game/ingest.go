package game

import (
	"context"
	"encoding/json"
	"time"

	"github.com/koopa0/system-design/racesync/internal/bus"
	"github.com/koopa0/system-design/racesync/internal/state"
)

// kickRetryDelay 踢人後第二次清除的延遲，處理清除期間才到達的事件
const kickRetryDelay = time.Second

// Player 通過身分驗證的玩家
type Player struct {
	ID      string
	Name    string
	Version float64
	Mail    string
}

// Submit 建立事件並發布到 events 頻道
//
// 本地狀態不在這裡修改，而是等訂閱者收到後由 ApplyEvent 套用。
func (s *Service) Submit(ctx context.Context, user, eventType, room string, message json.RawMessage, name string) state.Event {
	ev := state.Event{
		Type:      eventType,
		Message:   message,
		From:      user,
		FromName:  name,
		Timestamp: s.nowMillis(),
	}
	s.publish(ctx, s.channels.Events(), bus.EventMessage{Event: ev, Room: room})
	return ev
}

// Post 玩家送出一筆事件，返回房間目前的 car 累計
//
// 同時以 newuser 重新發布玩家資料，刷新所有節點上的活動時間與所在房間。
func (s *Service) Post(ctx context.Context, p Player, room, eventType, message string) map[string]*state.Tally {
	s.Submit(ctx, p.ID, eventType, room, state.TextMessage(message), p.Name)
	s.publishUser(ctx, s.channels.NewUser(), p, room)

	var car map[string]*state.Tally
	s.store.Do(func(d *state.Data) {
		car = state.CopyTally(d.Room(room).Tally(state.TypeCar))
	})
	return car
}

// ApplyEvent 將匯流排上的事件套用到本地狀態
//
// summary 與 kick 原樣附加到日誌；其他類型：
//  1. 建立房間、類型與玩家的累計欄位
//  2. 訊息依逗號拆成 N 筆子訊息
//  3. 確保發送者在 car 累計中至少有 0，對手才看得到他
//  4. progress 保存最新數值，其他類型累加 N
//  5. 附加 N 筆事件到日誌
//  6. progress 達到終點賽段時嘗試完賽
func (s *Service) ApplyEvent(msg bus.EventMessage) {
	ev, room := msg.Event, msg.Room

	var finished bool
	s.store.Do(func(d *state.Data) {
		if ev.Type == state.TypeSummary || ev.Type == state.TypeKick {
			d.AppendEvents(room, ev)
			return
		}

		r := d.Room(room)
		parts := splitMessage(ev.Text())

		tally := r.Tally(ev.Type)
		t, ok := tally[ev.From]
		if !ok {
			t = &state.Tally{}
			tally[ev.From] = t
		}
		t.Name = ev.FromName
		t.Count += int64(len(parts))

		car := r.Tally(state.TypeCar)
		if _, ok := car[ev.From]; !ok {
			car[ev.From] = &state.Tally{Name: ev.FromName}
		}

		if ev.Type == state.TypeProgress {
			value, numeric := state.ParseLeadingInt(parts[0])
			t.Count = value
			finished = numeric && value >= int64(s.opts.FinishSegments)
		}

		entries := make([]state.Event, len(parts))
		for i, part := range parts {
			e := ev
			e.Message = state.TextMessage(part)
			entries[i] = e
		}
		d.AppendEvents(room, entries...)
	})

	if ev.Type == state.TypeKick {
		s.removeKicked(room, ev.FromName)
		s.sched.After(kickRetryDelay, func() {
			s.removeKicked(room, ev.FromName)
		})
	}
	if finished {
		s.tryComplete(room)
	}
}

// removeKicked 依顯示名稱移出房間成員與所有累計
//
// kick 事件只帶被踢玩家的名稱。符合的玩家 ID 來自累計表，
// 以及房間成員中名稱相同的玩家紀錄。
func (s *Service) removeKicked(room, name string) {
	var removed int
	s.store.Do(func(d *state.Data) {
		r, ok := d.Games[room]
		if !ok {
			return
		}

		ids := make(map[string]struct{})
		for _, tally := range r.Events {
			for id, t := range tally {
				if t.Name == name {
					ids[id] = struct{}{}
				}
			}
		}
		for id := range r.Users {
			if u, ok := d.Users[id]; ok && u.Name == name {
				ids[id] = struct{}{}
			}
		}

		for id := range ids {
			r.RemoveUser(id)
		}
		removed = len(ids)
	})

	if removed > 0 {
		s.logger.Info("removed kicked player", "room", room, "name", name, "ids", removed)
	}
}

// publishUser 發布玩家資料
func (s *Service) publishUser(ctx context.Context, channel string, p Player, room string) {
	s.publish(ctx, channel, bus.UserMessage{
		ID:        p.ID,
		Name:      p.Name,
		Timestamp: s.nowMillis(),
		Room:      room,
		Mail:      p.Mail,
	})
}
