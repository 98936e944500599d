package bootstrap_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/racesync/internal/bootstrap"
	"github.com/koopa0/system-design/racesync/internal/state"
	"github.com/koopa0/system-design/racesync/pkg/logger"
)

func primary(t *testing.T, secret string, snapshot *state.Data) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/current-status" || r.URL.Query().Get("secret") != secret {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRestoreAdoptsSnapshot(t *testing.T) {
	snap := state.NewData()
	snap.Users["u1"] = &state.User{Name: "Ann", Time: 10}
	snap.Room("7").Users["u1"] = &state.Member{Time: 10}
	snap.Rewards[state.AllRewards] = 500
	srv := primary(t, "s3cret", snap)

	store := state.NewStore()
	f := bootstrap.NewFetcher(nil, logger.Discard())
	require.NoError(t, f.Restore(context.Background(), store, srv.URL+"/current-status", "s3cret"))

	got, err := store.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Users["u1"].Name)
	assert.Contains(t, got.Games["7"].Users, "u1")
	assert.Equal(t, int64(500), got.Rewards[state.AllRewards])
}

func TestFetchFailures(t *testing.T) {
	srv := primary(t, "s3cret", state.NewData())
	f := bootstrap.NewFetcher(nil, logger.Discard())

	tests := []struct {
		name   string
		url    string
		secret string
	}{
		{"密鑰錯誤", srv.URL + "/current-status", "wrong"},
		{"路徑錯誤", srv.URL + "/nope", "s3cret"},
		{"無法連線", "http://127.0.0.1:1/current-status", "s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Fetch(context.Background(), tt.url, tt.secret)
			assert.Error(t, err)
		})
	}
}

func TestFetchRejectsMalformedSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"games":[`))
	}))
	t.Cleanup(srv.Close)

	_, err := bootstrap.NewFetcher(nil, logger.Discard()).Fetch(context.Background(), srv.URL, "x")
	assert.Error(t, err)
}
