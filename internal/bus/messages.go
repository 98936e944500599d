package bus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/koopa0/system-design/racesync/internal/state"
)

// EventMessage events 頻道的內容
type EventMessage struct {
	Event state.Event `json:"event"`
	Room  string      `json:"room"`
}

// UserMessage newuser 與 newuser_connect 頻道的內容
//
// Name 與 Room 為空時接收端不覆蓋既有值。
type UserMessage struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
	Room      string `json:"room"`
	Mail      string `json:"mail"`
}

// ConnectMessage connect 頻道的內容
type ConnectMessage struct {
	User      string `json:"user"`
	IP        string `json:"ip"`
	Timestamp int64  `json:"timestamp"`
}

// JoinMessage newgame 頻道的內容，線上格式為 [room, user]
type JoinMessage struct {
	Room string
	User string
}

// MarshalJSON 編碼為二元組
func (m JoinMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{m.Room, m.User})
}

// UnmarshalJSON 解析二元組，房間 ID 可能是數字
func (m *JoinMessage) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("join message: want 2 elements, got %d", len(raw))
	}
	room, err := looseString(raw[0])
	if err != nil {
		return fmt.Errorf("join message room: %w", err)
	}
	user, err := looseString(raw[1])
	if err != nil {
		return fmt.Errorf("join message user: %w", err)
	}
	m.Room, m.User = room, user
	return nil
}

// 獎勵操作
const (
	RewardNew    = "new"
	RewardDelete = "delete"
)

// RewardMessage newrewardmsg 頻道的內容
//
// 線上格式為 ["new", user, points] 或 ["delete", user]。
type RewardMessage struct {
	Op     string
	User   string
	Points int64
}

// MarshalJSON 編碼為陣列
func (m RewardMessage) MarshalJSON() ([]byte, error) {
	if m.Op == RewardDelete {
		return json.Marshal([]any{m.Op, m.User})
	}
	return json.Marshal([]any{m.Op, m.User, m.Points})
}

// UnmarshalJSON 解析陣列
func (m *RewardMessage) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return errors.New("reward message: too few elements")
	}
	if err := json.Unmarshal(raw[0], &m.Op); err != nil {
		return fmt.Errorf("reward message op: %w", err)
	}
	user, err := looseString(raw[1])
	if err != nil {
		return fmt.Errorf("reward message user: %w", err)
	}
	m.User = user

	switch m.Op {
	case RewardDelete:
		m.Points = 0
	case RewardNew:
		if len(raw) < 3 {
			return errors.New("reward message: missing points")
		}
		if err := json.Unmarshal(raw[2], &m.Points); err != nil {
			return fmt.Errorf("reward message points: %w", err)
		}
	default:
		return fmt.Errorf("reward message: unknown op %q", m.Op)
	}
	return nil
}

// looseString 接受 JSON 字串或數字
func looseString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Encode 編碼要發布到匯流排的訊息
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}
