package game

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/koopa0/system-design/racesync/internal/bus"
	"github.com/koopa0/system-design/racesync/internal/state"
	apperrors "github.com/koopa0/system-design/racesync/pkg/errors"
)

const (
	// ReferralReward 推薦一位新玩家的獎勵點數
	ReferralReward = 100_000
	// scoreSalt 分數校驗碼的固定鹽值，與客戶端一致
	scoreSalt = "burn rubber, burn!"
)

// StatsResult /stats 回應標頭的內容
type StatsResult struct {
	Opponents int
	Crashes   int64
}

// Stats 轉發客戶端統計並處理推薦獎勵
//
// 同一推薦者對同一玩家只發一次獎勵。
func (s *Service) Stats(ctx context.Context, p Player, config json.RawMessage, referrer string) StatsResult {
	if cfg := bytes.TrimSpace(config); len(cfg) > 0 && !bytes.Equal(cfg, []byte("null")) {
		s.bus.Publish(ctx, s.channels.Stats(), cfg)
	}

	var res StatsResult
	var grant bool
	s.store.Do(func(d *state.Data) {
		res.Opponents = len(d.Users)
		if referrer == "" || referrer == p.ID {
			return
		}
		recruits, ok := d.Recruiters[referrer]
		if !ok {
			recruits = make(map[string]bool)
			d.Recruiters[referrer] = recruits
		}
		if !recruits[p.ID] {
			recruits[p.ID] = true
			grant = true
		}
	})

	if grant {
		s.publish(ctx, s.channels.Reward(), bus.RewardMessage{Op: bus.RewardNew, User: referrer, Points: ReferralReward})
		s.logger.Info("referral reward granted", "referrer", referrer, "recruit", p.ID)
	}

	kvCtx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	crashes, err := s.kv.CrashStats(kvCtx, p.ID)
	if err != nil {
		s.logger.Warn("crash stats unavailable", "user", p.ID, "error", err)
	}
	res.Crashes = crashes
	return res
}

// scoreBody /score 的請求內容
type scoreBody struct {
	Score json.Number `json:"score"`
	Check string      `json:"check"`
}

// ScoreCheck 分數的校驗碼
func ScoreCheck(score string) string {
	sum := md5.Sum([]byte(score + scoreSalt))
	return hex.EncodeToString(sum[:])
}

// SubmitScore 驗證並轉發分數
//
// 校驗碼正確時原樣發布到 scores 頻道，否則返回 ErrBadScoreCheck。
func (s *Service) SubmitScore(ctx context.Context, raw []byte) error {
	var body scoreBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeMissingParam, "malformed score body")
	}
	if body.Score == "" || body.Check != ScoreCheck(body.Score.String()) {
		return apperrors.ErrBadScoreCheck
	}

	s.bus.Publish(ctx, s.channels.Scores(), raw)
	return nil
}

// UserCount 目前的玩家數
func (s *Service) UserCount() int {
	var n int
	s.store.Do(func(d *state.Data) {
		n = len(d.Users)
	})
	return n
}

// Ready 檢查 KV 連線
func (s *Service) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, kvTimeout)
	defer cancel()
	if err := s.kv.Ping(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "kv unavailable")
	}
	return nil
}
