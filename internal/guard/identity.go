package guard

import (
	"encoding/json"
	"strconv"
	"strings"

	apperrors "github.com/koopa0/system-design/racesync/pkg/errors"
)

// Identity X-User 標頭攜帶的玩家身分
type Identity struct {
	ID      string
	Name    string
	Version float64
	Mail    string
}

// identityWire 標頭的 JSON 格式，id 與 version 可能是字串或數字
type identityWire struct {
	ID      json.RawMessage `json:"id"`
	Name    string          `json:"name"`
	Version json.RawMessage `json:"version"`
	Mail    string          `json:"mail"`
}

// ParseIdentity 解析 X-User 標頭
//
// 標頭不存在 → MissingAuth；無法解析或缺少 id、name、version → MalformedAuth。
func ParseIdentity(header string) (Identity, error) {
	if header == "" {
		return Identity{}, apperrors.ErrMissingAuth
	}

	var w identityWire
	if err := json.Unmarshal([]byte(header), &w); err != nil {
		return Identity{}, apperrors.Wrap(err, apperrors.ErrCodeMalformedAuth, "malformed user header")
	}

	id := scalar(w.ID)
	version, err := strconv.ParseFloat(scalar(w.Version), 64)
	if id == "" || w.Name == "" || err != nil || version == 0 {
		return Identity{}, apperrors.ErrMalformedAuth
	}

	return Identity{
		ID:      id,
		Name:    w.Name,
		Version: version,
		Mail:    w.Mail,
	}, nil
}

// scalar 將 JSON 字串或數字轉成字串，其他型別返回空字串
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
