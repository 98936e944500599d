package testutils

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/racesync/internal/config"
)

// TestSecret 測試用的共享密鑰
const TestSecret = "test-secret"

// DefaultTestConfig 返回測試用的預設配置
//
// 輪詢與調度間隔縮短，讓端到端測試能在毫秒內完成。
func DefaultTestConfig() *config.Config {
	cfg := config.Default()

	cfg.Bus.Transport = config.BusMemory
	cfg.Bus.Namespace = "rubber-test"
	cfg.Node.Secret = TestSecret
	cfg.Security.Secret = TestSecret

	cfg.Game.PollTimeout = 300 * time.Millisecond
	cfg.Game.PollInterval = 10 * time.Millisecond
	cfg.Game.SchedulerTick = 10 * time.Millisecond

	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"

	return cfg
}

// Client 模擬一個遊戲客戶端，負責產生 X-User 與防重放標頭
type Client struct {
	ID      string
	Name    string
	Version float64
	Mail    string

	secret string
	count  atomic.Int64
}

// NewClient 創建測試客戶端
func NewClient(id, name string, version float64) *Client {
	return &Client{ID: id, Name: name, Version: version, secret: TestSecret}
}

// UserHeader X-User 標頭內容
func (c *Client) UserHeader() string {
	b, _ := json.Marshal(map[string]any{
		"id":      c.ID,
		"name":    c.Name,
		"version": c.Version,
		"mail":    c.Mail,
	})
	return string(b)
}

// NextHash 推進計數器並返回 (count, hash)
func (c *Client) NextHash() (string, string) {
	count := strconv.FormatInt(c.count.Add(1), 10)
	return count, Hash(c.ID, c.Version, count, c.secret)
}

// Hash md5(user + version + count + secret)
func Hash(user string, version float64, count, secret string) string {
	sum := md5.Sum([]byte(user + strconv.FormatFloat(version, 'f', -1, 64) + count + secret))
	return hex.EncodeToString(sum[:])
}

// Request 產生帶有身分與防重放標頭的請求
func (c *Client) Request(t testing.TB, method, path string, body any) *http.Request {
	t.Helper()

	req := NewRequest(t, method, path, body)
	req.Header.Set("X-User", c.UserHeader())
	count, hash := c.NextHash()
	req.Header.Set("X-Control-Count", count)
	req.Header.Set("X-Hash", hash)
	return req
}

// NewRequest 產生一般請求
func NewRequest(t testing.TB, method, path string, body any) *http.Request {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		if str, ok := body.(string); ok {
			bodyReader = strings.NewReader(str)
		} else {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			bodyReader = strings.NewReader(string(b))
		}
	}

	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// Do 對 handler 執行請求
func Do(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// ParseJSONResponse 解析 JSON 響應
func ParseJSONResponse(t testing.TB, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()

	err := json.NewDecoder(recorder.Body).Decode(target)
	require.NoError(t, err, "failed to parse JSON response")
}

// WaitForCondition 等待條件滿足
func WaitForCondition(t testing.TB, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for condition: %s", message)
		case <-ticker.C:
		}
	}
}
