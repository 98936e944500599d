package game

import (
	"context"
	"encoding/json"
	"time"

	"github.com/koopa0/system-design/racesync/internal/config"
	"github.com/koopa0/system-design/racesync/internal/state"
	"github.com/koopa0/system-design/racesync/pkg/level"
)

// clearDelay 第二次清除累計的延遲
//
// 比賽結束後仍在途中的 progress 事件會在這段時間內抵達。
const clearDelay = 2 * time.Second

// Summary summary 事件的訊息內容
type Summary struct {
	Results state.Tallies `json:"results"`
	Level   level.Level   `json:"level"`
}

// tryComplete 房間有人抵達終點時呼叫
//
// 取得租約的呼叫者負責結算，其他呼叫者直接返回。
// 只有主節點發布 summary，副本節點只清除本地累計。
func (s *Service) tryComplete(room string) {
	lease, token, ok := s.store.AcquireLease(room)
	if !ok {
		return
	}

	if s.opts.Role != config.RolePrimary {
		s.clearTallies(room)
		s.scheduleRelease(room, lease, token)
		return
	}

	// KV 往返不能阻塞匯流排的投遞
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.summarize(room, lease, token)
	}()
}

// summarize 產生並發布房間的 summary 事件
func (s *Service) summarize(room string, lease *state.Lease, token state.LeaseToken) {
	ctx, cancel := context.WithTimeout(context.Background(), kvTimeout)
	addition, err := s.kv.IncrRoomSeed(ctx, room)
	cancel()
	if err != nil {
		s.logger.Warn("room seed unavailable, using base seed", "room", room, "error", err)
		addition = 0
	}

	results := state.Tallies{}
	s.store.Do(func(d *state.Data) {
		if r, ok := d.Games[room]; ok {
			results = r.Events.Copy()
		}
	})

	msg, err := json.Marshal(Summary{
		Results: results,
		Level:   level.Generate(state.SeedBase(room) + addition),
	})
	if err != nil {
		s.logger.Error("encode summary", "room", room, "error", err)
	} else {
		s.Submit(context.Background(), state.RootUser, state.TypeSummary, room, msg, state.RootUser)
		s.logger.Info("race finished", "room", room, "players", len(results[state.TypeCar]), "seed", addition)
	}

	s.clearTallies(room)
	s.scheduleRelease(room, lease, token)
}

// scheduleRelease 延遲後再清除一次並釋放租約
func (s *Service) scheduleRelease(room string, lease *state.Lease, token state.LeaseToken) {
	s.sched.After(clearDelay, func() {
		s.clearTallies(room)
		lease.Release(token)
	})
}

// clearTallies 清空房間累計，已被刪除的房間不會重建
func (s *Service) clearTallies(room string) {
	s.store.Do(func(d *state.Data) {
		if r, ok := d.Games[room]; ok {
			r.ClearTallies()
		}
	})
}
