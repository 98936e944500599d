package game

import (
	"context"
	"time"

	"github.com/koopa0/system-design/racesync/internal/state"
	apperrors "github.com/koopa0/system-design/racesync/pkg/errors"
)

const (
	// roomCapacity 輪詢時允許的房間人數上限
	roomCapacity = 4
	// staleWindow 早於 since 這麼多毫秒的事件在輪詢時刪除
	staleWindow = 10_000
)

// PollResult 長輪詢的回應
type PollResult struct {
	Events    []state.Event           `json:"events"`
	Timestamp int64                   `json:"timestamp"`
	Users     int                     `json:"users"`
	Stats     map[string]*state.Tally `json:"stats"`
	Progress  map[string]*state.Tally `json:"progress"`
	Room      string                  `json:"room"`
}

// Poll 等待房間內 since 之後由其他玩家產生的事件
//
// 狀態機：Waiting → Delivered | TimedOut。每個間隔掃描一次日誌，
// 逾時返回 ErrPollTimeout，客戶端斷線返回 ctx.Err()。
func (s *Service) Poll(ctx context.Context, p Player, room string, since int64) (*PollResult, error) {
	if s.admitPoller(p, room) {
		s.logger.Warn("room is full, kicking player", "room", room, "user", p.ID, "name", p.Name)
		s.Submit(ctx, state.RootUser, state.TypeKick, room, state.TextMessage("Room is full"), p.Name)
	}

	deadline := time.NewTimer(s.opts.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, apperrors.ErrPollTimeout
		case <-ticker.C:
			if res := s.scan(p.ID, room, since); res != nil {
				return res, nil
			}
		}
	}
}

// admitPoller 更新成員活動時間，返回是否需要踢出
//
// 新加入的玩家遇到已有 4 位成員或 4 筆 car 紀錄的房間時需要踢出。
func (s *Service) admitPoller(p Player, room string) bool {
	now := s.nowMillis()

	var kick bool
	s.store.Do(func(d *state.Data) {
		r := d.Room(room)
		if _, member := r.Users[p.ID]; !member {
			kick = len(r.Users) >= roomCapacity || len(r.Events[state.TypeCar]) >= roomCapacity
		}
		r.Users[p.ID] = &state.Member{Time: now}
		if u, ok := d.Users[p.ID]; ok {
			u.Time = now
		}
	})
	return kick
}

// scan 掃描一次房間日誌
//
// 過期事件無論是否送出都會刪除。沒有可送出的事件時返回 nil。
func (s *Service) scan(user, room string, since int64) *PollResult {
	var res *PollResult
	s.store.Do(func(d *state.Data) {
		log, ok := d.Events[room]
		if !ok {
			return
		}

		kept := log[:0]
		var out []state.Event
		for _, ev := range log {
			if ev.Timestamp < since-staleWindow {
				continue
			}
			kept = append(kept, ev)
			if ev.Timestamp >= since && ev.From != user {
				out = append(out, ev)
			}
		}
		d.Events[room] = kept

		if len(out) == 0 {
			return
		}

		res = &PollResult{
			Events:    out,
			Timestamp: s.nowMillis(),
			Room:      room,
		}
		if r, ok := d.Games[room]; ok {
			res.Users = len(r.Users)
			res.Stats = state.CopyTally(r.Events[state.TypeCar])
			res.Progress = state.CopyTally(r.Events[state.TypeProgress])
		} else {
			res.Stats = map[string]*state.Tally{}
			res.Progress = map[string]*state.Tally{}
		}
	})
	return res
}
