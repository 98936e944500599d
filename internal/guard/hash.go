// Package guard 實作寫入路徑的防重放檢查
//
// 客戶端每次請求都遞增控制計數，並附上
// HASH(userId + version + count + secret)。同一個雜湊值對同一玩家只能使用一次。
package guard

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
)

// HashFunc 計算預期雜湊的能力，啟動時選定
type HashFunc interface {
	Hash(user string, version float64, count string) string
}

// MD5Hash 預設雜湊：md5(user + version + count + secret)
type MD5Hash struct {
	Secret string
}

// Hash 實現 HashFunc
func (h MD5Hash) Hash(user string, version float64, count string) string {
	return md5Hex(user + FormatVersion(version) + count + h.Secret)
}

// PlainMD5Hash 不含密鑰的替代雜湊：md5(user + version + count)
type PlainMD5Hash struct{}

// Hash 實現 HashFunc
func (PlainMD5Hash) Hash(user string, version float64, count string) string {
	return md5Hex(user + FormatVersion(version) + count)
}

// NewHashFunc 依名稱選擇雜湊實作
func NewHashFunc(name, secret string) (HashFunc, error) {
	switch name {
	case "", "md5":
		return MD5Hash{Secret: secret}, nil
	case "plain":
		return PlainMD5Hash{}, nil
	default:
		return nil, fmt.Errorf("unknown hasher %q", name)
	}
}

// FormatVersion 以最短十進位表示版本號，1.6 → "1.6"，2 → "2"
func FormatVersion(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
