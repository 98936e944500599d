package game

import (
	"context"
	"sort"
	"strconv"

	"github.com/koopa0/system-design/racesync/internal/bus"
	"github.com/koopa0/system-design/racesync/internal/state"
	apperrors "github.com/koopa0/system-design/racesync/pkg/errors"
	"github.com/koopa0/system-design/racesync/pkg/level"
)

const (
	// admissionLimit 加入前成員數超過此值即拒絕非成員
	admissionLimit = 3
	// randomRooms 沒有合適房間時隨機房號的範圍
	randomRooms = 100
)

// RosterEntry 名單中的玩家，不含雜湊與信箱
type RosterEntry struct {
	Name string `json:"name,omitempty"`
	Room string `json:"room,omitempty"`
	Time int64  `json:"time,omitempty"`
}

// ConnectResult /connect 的回應
type ConnectResult struct {
	Timestamp    int64                  `json:"timestamp"`
	GoodRoom     string                 `json:"goodroom"`
	RoomPlayers  int                    `json:"roomPlayers"`
	TotalPlayers int                    `json:"totalPlayers"`
	Users        map[string]RosterEntry `json:"users"`
	Rewards      int64                  `json:"rewards,omitempty"`
	AllReward    int64                  `json:"allReward,omitempty"`
}

// JoinResult /game 的回應
type JoinResult struct {
	Opponents int `json:"opponents"`
	level.Level
}

// Connect 玩家上線，分配建議房間並發放獎勵
func (s *Service) Connect(ctx context.Context, p Player, ip string) (*ConnectResult, error) {
	if p.Version < s.opts.Version {
		return nil, apperrors.ErrStaleVersion.WithDetails(
			"client " + strconv.FormatFloat(p.Version, 'f', -1, 64) + " < server " + strconv.FormatFloat(s.opts.Version, 'f', -1, 64))
	}

	now := s.nowMillis()
	s.publishUser(ctx, s.channels.NewUser(), p, "")
	s.publishUser(ctx, s.channels.NewUserConnect(), p, "")
	s.publish(ctx, s.channels.Connect(), bus.ConnectMessage{User: p.ID, IP: ip, Timestamp: now})

	kvCtx, cancel := context.WithTimeout(ctx, kvTimeout)
	if err := s.kv.AddMember(kvCtx, p.ID); err != nil {
		s.logger.Warn("add online member", "user", p.ID, "error", err)
	}
	cancel()

	res := &ConnectResult{Timestamp: now}
	var (
		chosen   bool
		personal int64
	)
	s.store.Do(func(d *state.Data) {
		res.GoodRoom, chosen = chooseRoom(d)
		if r, ok := d.Games[res.GoodRoom]; ok && chosen {
			res.RoomPlayers = len(r.Users)
		}

		res.TotalPlayers = len(d.Users)
		res.Users = make(map[string]RosterEntry, len(d.Users))
		for id, u := range d.Users {
			res.Users[id] = RosterEntry{Name: u.Name, Room: u.Room, Time: u.Time}
		}

		// rewards 是待領取的總額，allReward 另外列出共享部分
		personal = d.Rewards[p.ID]
		res.AllReward = d.Rewards[state.AllRewards]
		res.Rewards = res.AllReward + personal
	})
	if !chosen {
		res.GoodRoom = strconv.Itoa(s.intn(randomRooms))
	}

	// 個人獎勵只發一次，由每個節點的訂閱者刪除
	if personal > 0 {
		s.publish(ctx, s.channels.Reward(), bus.RewardMessage{Op: bus.RewardDelete, User: p.ID})
	}

	s.logger.Info("player connected", "user", p.ID, "name", p.Name, "goodroom", res.GoodRoom, "total", res.TotalPlayers)
	return res, nil
}

// chooseRoom 建議房間
//
// 優先選擇鍵值最小的落單房間，其次選擇編號最小且成員不超過 3 人的數字房間。
func chooseRoom(d *state.Data) (string, bool) {
	if len(d.Loners) > 0 {
		ids := make([]string, 0, len(d.Loners))
		for id := range d.Loners {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids[0], true
	}

	type candidate struct {
		id string
		n  int64
	}
	var rooms []candidate
	for id, r := range d.Games {
		n, ok := state.RoomNumber(id)
		if !ok || len(r.Users) > admissionLimit {
			continue
		}
		rooms = append(rooms, candidate{id: id, n: n})
	}
	if len(rooms) == 0 {
		return "", false
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].n == rooms[j].n {
			return rooms[i].id < rooms[j].id
		}
		return rooms[i].n < rooms[j].n
	})
	return rooms[0].id, true
}

// JoinGame 玩家加入房間，返回對手數與賽道
//
// 以加入前的成員數判斷：超過 3 人且請求者不是成員時拒絕。
// 成員資格由 newgame 訊息在每個節點套用，這裡不直接修改。
func (s *Service) JoinGame(ctx context.Context, p Player, room string) (*JoinResult, error) {
	var (
		full      bool
		opponents = 1
	)
	s.store.Do(func(d *state.Data) {
		r, exists := d.Games[room]
		if !exists {
			return
		}
		_, member := r.Users[p.ID]
		full = len(r.Users) > admissionLimit && !member
		opponents = len(r.Users) + 1
	})
	if full {
		return nil, apperrors.ErrRoomFull.WithDetails("room " + room)
	}

	s.publish(ctx, s.channels.NewGame(), bus.JoinMessage{Room: room, User: p.ID})

	kvCtx, cancel := context.WithTimeout(ctx, kvTimeout)
	addition, err := s.kv.RoomSeed(kvCtx, room)
	cancel()
	if err != nil {
		s.logger.Warn("room seed unavailable, using base seed", "room", room, "error", err)
		addition = 0
	}

	return &JoinResult{
		Opponents: opponents,
		Level:     level.Generate(state.SeedBase(room) + addition),
	}, nil
}

// ApplyNewGame newgame 訂閱者
//
// 房間不存在時建立並標記為落單房間，已存在時清除落單標記。
func (s *Service) ApplyNewGame(msg bus.JoinMessage) {
	if msg.Room == "" || msg.User == "" {
		return
	}
	now := s.nowMillis()

	s.store.Do(func(d *state.Data) {
		if _, ok := d.Games[msg.Room]; ok {
			delete(d.Loners, msg.Room)
		} else {
			d.Loners[msg.Room] = now
		}
		d.Room(msg.Room).Users[msg.User] = &state.Member{Time: now}
	})
}

// ApplyNewUser newuser 訂閱者
func (s *Service) ApplyNewUser(msg bus.UserMessage) {
	if msg.ID == "" {
		return
	}

	s.store.Do(func(d *state.Data) {
		u := d.User(msg.ID)
		if msg.Name != "" {
			u.Name = msg.Name
		}
		if msg.Room != "" {
			u.Room = msg.Room
		}
		if msg.Mail != "" {
			u.Mail = msg.Mail
		}
		u.Time = msg.Timestamp
	})
}

// ApplyReward newrewardmsg 訂閱者
func (s *Service) ApplyReward(msg bus.RewardMessage) {
	s.store.Do(func(d *state.Data) {
		switch msg.Op {
		case bus.RewardNew:
			d.Rewards[msg.User] += msg.Points
		case bus.RewardDelete:
			if msg.User != state.AllRewards {
				delete(d.Rewards, msg.User)
			}
		}
	})
}
