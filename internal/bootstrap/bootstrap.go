// Package bootstrap 讓副本節點從主節點取得初始狀態
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/koopa0/system-design/racesync/internal/state"
)

// DefaultTimeout 抓取快照的逾時
const DefaultTimeout = 10 * time.Second

// maxSnapshotBytes 快照大小上限
const maxSnapshotBytes = 64 << 20

// Fetcher 從主節點的 /current-status 抓取快照
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewFetcher 創建抓取器，client 為 nil 時使用預設逾時的客戶端
func NewFetcher(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Fetcher{client: client, logger: logger.With("component", "bootstrap")}
}

// Fetch 取得快照
func (f *Fetcher) Fetch(ctx context.Context, statusURL, secret string) (*state.Data, error) {
	u, err := url.Parse(statusURL)
	if err != nil {
		return nil, fmt.Errorf("parse status url: %w", err)
	}
	q := u.Query()
	q.Set("secret", secret)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch status: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("read status body: %w", err)
	}

	d, err := state.DecodeSnapshot(raw)
	if err != nil {
		return nil, err
	}

	f.logger.Info("snapshot fetched",
		"host", u.Host,
		"users", len(d.Users),
		"rooms", len(d.Games),
		"bytes", len(raw),
		"duration", time.Since(start),
	)
	return d, nil
}

// Restore 抓取快照並寫入狀態儲存
func (f *Fetcher) Restore(ctx context.Context, store *state.Store, statusURL, secret string) error {
	d, err := f.Fetch(ctx, statusURL, secret)
	if err != nil {
		return err
	}
	store.Restore(d)
	return nil
}
