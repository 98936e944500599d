package game_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/racesync/internal/game"
	apperrors "github.com/koopa0/system-design/racesync/pkg/errors"
)

func TestStatsPublishesConfig(t *testing.T) {
	h := newHarness(t)
	stats := h.record(t, h.ch.Stats())

	h.svc.Stats(context.Background(), player("u1", "Ann"), json.RawMessage(`{"quality":"high"}`), "")
	h.svc.Stats(context.Background(), player("u1", "Ann"), nil, "")
	h.svc.Stats(context.Background(), player("u1", "Ann"), json.RawMessage(`null`), "")

	require.Len(t, stats.all(), 1)
	assert.JSONEq(t, `{"quality":"high"}`, string(stats.all()[0]))
}

func TestStatsReferralGrantedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rewards := h.record(t, h.ch.Reward())

	h.svc.Stats(ctx, player("u1", "Ann"), nil, "boss")
	h.svc.Stats(ctx, player("u1", "Ann"), nil, "boss")
	h.svc.Stats(ctx, player("u2", "Bob"), nil, "boss")
	h.svc.Stats(ctx, player("boss", "Boss"), nil, "boss")

	require.Len(t, rewards.all(), 2)
	assert.JSONEq(t, `["new","boss",100000]`, string(rewards.all()[0]))

	res, err := h.svc.Connect(ctx, player("boss", "Boss"), "")
	require.NoError(t, err)
	assert.Equal(t, int64(2*game.ReferralReward), res.Rewards)
}

func TestStatsCounts(t *testing.T) {
	h := newHarness(t)
	h.seedPlayer("u1", "Ann", "")
	h.seedPlayer("u2", "Bob", "")
	h.kv.SetCrashStats("u1", 17)

	res := h.svc.Stats(context.Background(), player("u1", "Ann"), nil, "")
	assert.Equal(t, game.StatsResult{Opponents: 2, Crashes: 17}, res)

	h.kv.SetError(assert.AnError)
	res = h.svc.Stats(context.Background(), player("u1", "Ann"), nil, "")
	assert.Zero(t, res.Crashes)
}

func TestSubmitScore(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"正確的校驗碼", `{"score":1234,"check":"` + game.ScoreCheck("1234") + `"}`, nil},
		{"字串分數", `{"score":"99","check":"` + game.ScoreCheck("99") + `"}`, nil},
		{"錯誤的校驗碼", `{"score":1234,"check":"nope"}`, apperrors.ErrBadScoreCheck},
		{"缺少分數", `{"check":"` + game.ScoreCheck("") + `"}`, apperrors.ErrBadScoreCheck},
		{"不是 JSON", `score=1`, apperrors.ErrMissingParam},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			scores := h.record(t, h.ch.Scores())

			err := h.svc.SubmitScore(context.Background(), []byte(tt.body))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, scores.all())
				return
			}
			require.NoError(t, err)
			require.Len(t, scores.all(), 1)
			assert.JSONEq(t, tt.body, string(scores.all()[0]))
		})
	}
}

func TestScoreCheckIsStable(t *testing.T) {
	assert.Equal(t, game.ScoreCheck("1234"), game.ScoreCheck("1234"))
	assert.NotEqual(t, game.ScoreCheck("1234"), game.ScoreCheck("1235"))
	assert.Len(t, game.ScoreCheck("1"), 32)
}

func TestUserCount(t *testing.T) {
	h := newHarness(t)
	assert.Zero(t, h.svc.UserCount())
	h.seedPlayer("u1", "Ann", "")
	assert.Equal(t, 1, h.svc.UserCount())
}
