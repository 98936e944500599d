package game

import (
	"context"
	"log/slog"
	"time"

	"github.com/koopa0/system-design/racesync/internal/state"
	"github.com/koopa0/system-design/racesync/pkg/logger"
)

const (
	// userTTL 玩家、成員與事件的存活時間（毫秒）
	userTTL = 180_000
	// lonerTTL 落單房間建議的存活時間（毫秒）
	lonerTTL = 600_000
)

// SweepReport 一次清理刪除的數量
type SweepReport struct {
	PartialUsers int `json:"partialUsers"`
	StaleUsers   int `json:"staleUsers"`
	KVMembers    int `json:"kvMembers"`
	Events       int `json:"events"`
	Memberships  int `json:"memberships"`
	Rooms        int `json:"rooms"`
	Loners       int `json:"loners"`
}

// Total 總刪除數
func (r SweepReport) Total() int {
	return r.PartialUsers + r.StaleUsers + r.KVMembers + r.Events + r.Memberships + r.Rooms + r.Loners
}

// RunJanitor 定期清理，直到 ctx 結束
func (s *Service) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.opts.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			rep := s.Sweep(ctx)
			if rep.Total() > 0 {
				logger.Metrics(ctx, s.logger, "janitor_sweep", time.Since(start),
					slog.Int("users", rep.StaleUsers+rep.PartialUsers),
					slog.Int("events", rep.Events),
					slog.Int("rooms", rep.Rooms),
					slog.Int("loners", rep.Loners),
					slog.Int("kv_members", rep.KVMembers),
				)
			}
		}
	}
}

// Sweep 執行一次清理
//
// 全程使用同一個截止時間：
//  1. 刪除沒有時間戳的不完整玩家
//  2. 刪除過期玩家，同時移出所在房間與在線集合
//  3. 比對在線集合，移除本地不存在的玩家
//  4. 刪除過期事件
//  5. 刪除過期成員與空房間
//  6. 刪除過期的落單房間建議
//
// 先收集鍵再刪除；緊接著的第二次清理不會再刪除任何東西。
func (s *Service) Sweep(ctx context.Context) SweepReport {
	now := s.nowMillis()
	cutoff := now - userTTL
	lonerCutoff := now - lonerTTL

	var (
		rep        SweepReport
		staleUsers []string
		emptyRooms []string
		live       map[string]struct{}
	)

	s.store.Do(func(d *state.Data) {
		var partial []string
		for id, u := range d.Users {
			if u.Time == 0 {
				partial = append(partial, id)
			} else if u.Time < cutoff {
				staleUsers = append(staleUsers, id)
			}
		}
		for _, id := range partial {
			delete(d.Users, id)
		}
		for _, id := range staleUsers {
			if r, ok := d.Games[d.Users[id].Room]; ok {
				if _, member := r.Users[id]; member {
					r.RemoveUser(id)
				}
			}
			delete(d.Users, id)
		}
		rep.PartialUsers = len(partial)
		rep.StaleUsers = len(staleUsers)

		live = make(map[string]struct{}, len(d.Users))
		for id := range d.Users {
			live[id] = struct{}{}
		}

		for room, log := range d.Events {
			kept := log[:0]
			for _, ev := range log {
				if ev.Timestamp >= cutoff {
					kept = append(kept, ev)
				}
			}
			rep.Events += len(log) - len(kept)
			if len(kept) == 0 {
				delete(d.Events, room)
			} else {
				d.Events[room] = kept
			}
		}

		for id, r := range d.Games {
			var stale []string
			for uid, m := range r.Users {
				if m.Time < cutoff {
					stale = append(stale, uid)
				}
			}
			for _, uid := range stale {
				delete(r.Users, uid)
			}
			rep.Memberships += len(stale)
			if len(r.Users) == 0 {
				emptyRooms = append(emptyRooms, id)
			}
		}
		for _, id := range emptyRooms {
			delete(d.Games, id)
		}
		rep.Rooms = len(emptyRooms)

		var loners []string
		for id, created := range d.Loners {
			if created < lonerCutoff {
				loners = append(loners, id)
			}
		}
		for _, id := range loners {
			delete(d.Loners, id)
		}
		rep.Loners = len(loners)
	})

	for _, room := range emptyRooms {
		s.store.DropLease(room)
	}

	rep.KVMembers = s.reconcileMembers(ctx, staleUsers, live)
	return rep
}

// reconcileMembers 從在線集合移除過期與本地不存在的玩家
func (s *Service) reconcileMembers(ctx context.Context, stale []string, live map[string]struct{}) int {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()

	if err := s.kv.RemoveMembers(ctx, stale...); err != nil {
		s.logger.Warn("remove stale members", "count", len(stale), "error", err)
	}

	members, err := s.kv.Members(ctx)
	if err != nil {
		s.logger.Warn("list members", "error", err)
		return 0
	}

	var gone []string
	for _, m := range members {
		if _, ok := live[m]; !ok {
			gone = append(gone, m)
		}
	}
	if len(gone) == 0 {
		return 0
	}
	if err := s.kv.RemoveMembers(ctx, gone...); err != nil {
		s.logger.Warn("remove unknown members", "count", len(gone), "error", err)
		return 0
	}
	return len(gone)
}
