// Package level 以種子產生賽道內容
//
// 同一種子在任何節點、任何時間都產生相同的障礙與道具配置，
// 房間內所有玩家因此看到一樣的賽道。
package level

import "math/rand/v2"

const (
	maxPowerUps = 60
	minPowerUps = 15
	maxBlocks   = 20
	minBlocks   = 5

	// trackSegments 位置範圍 [0, 100)
	trackSegments = 100
	// powerUpKinds 道具種類 1..4
	powerUpKinds = 4
)

// stream PCG 的第二個參數，固定值讓輸出只由種子決定
const stream = 0x9e3779b97f4a7c15

// PowerUp 道具：[位置, 種類]
type PowerUp [2]int

// Level 賽道內容
type Level struct {
	Blocks   []int     `json:"blocks"`
	PowerUps []PowerUp `json:"powerUps"`
}

// Generate 依種子產生賽道
func Generate(seed int64) Level {
	r := rand.New(rand.NewPCG(uint64(seed), stream))

	total := max(r.IntN(maxPowerUps), minPowerUps)
	powerUps := make([]PowerUp, total)
	for i := range powerUps {
		powerUps[i] = PowerUp{r.IntN(trackSegments), 1 + r.IntN(powerUpKinds)}
	}

	total = max(r.IntN(maxBlocks), minBlocks)
	blocks := make([]int, total)
	for i := range blocks {
		blocks[i] = r.IntN(trackSegments)
	}

	return Level{
		Blocks:   blocks,
		PowerUps: powerUps,
	}
}
