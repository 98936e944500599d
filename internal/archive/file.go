package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileArchive 每則訊息寫成一個 <user>-<ms>.json 檔案
type FileArchive struct {
	dir string
}

// NewFileArchive 創建檔案封存，目錄不存在時建立
func NewFileArchive(dir string) (*FileArchive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create message dir: %w", err)
	}
	return &FileArchive{dir: dir}, nil
}

// Save 寫入訊息檔案
func (a *FileArchive) Save(_ context.Context, user string, ts int64, body []byte) error {
	if err := os.WriteFile(a.Path(user, ts), body, 0o644); err != nil {
		return fmt.Errorf("write message file: %w", err)
	}
	return nil
}

// Path 訊息檔案的路徑
func (a *FileArchive) Path(user string, ts int64) string {
	return filepath.Join(a.dir, fileSafe(user)+"-"+strconv.FormatInt(ts, 10)+".json")
}

// fileSafe 移除路徑分隔字元，玩家 ID 來自客戶端
func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, strings.TrimLeft(s, "."))
}
