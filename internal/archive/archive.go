// Package archive 保存玩家送出的自由格式訊息
//
// 訊息內容不經解析，原樣封存。提供兩種實作：
//   - PostgresArchive：寫入 messages 資料表，結構由嵌入的遷移檔管理
//   - FileArchive：每則訊息一個 JSON 檔案
package archive

import "context"

// Archive 訊息封存
type Archive interface {
	// Save 保存 user 在 ts（毫秒）送出的訊息
	Save(ctx context.Context, user string, ts int64, body []byte) error
}
