package level_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/racesync/pkg/level"
)

func TestGenerateDeterministic(t *testing.T) {
	a := level.Generate(42)
	b := level.Generate(42)
	assert.Equal(t, a, b)

	c := level.Generate(43)
	assert.NotEqual(t, a, c)
}

func TestGenerateBounds(t *testing.T) {
	for seed := int64(-5); seed < 200; seed++ {
		lv := level.Generate(seed)

		assert.GreaterOrEqual(t, len(lv.PowerUps), 15)
		assert.Less(t, len(lv.PowerUps), 60)
		assert.GreaterOrEqual(t, len(lv.Blocks), 5)
		assert.Less(t, len(lv.Blocks), 20)

		for _, p := range lv.PowerUps {
			assert.True(t, p[0] >= 0 && p[0] < 100, "position %d", p[0])
			assert.True(t, p[1] >= 1 && p[1] <= 4, "kind %d", p[1])
		}
		for _, b := range lv.Blocks {
			assert.True(t, b >= 0 && b < 100, "block %d", b)
		}
	}
}

func TestLevelJSON(t *testing.T) {
	raw, err := json.Marshal(level.Generate(1))
	require.NoError(t, err)

	var decoded struct {
		Blocks   []int   `json:"blocks"`
		PowerUps [][]int `json:"powerUps"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NotEmpty(t, decoded.Blocks)
	require.NotEmpty(t, decoded.PowerUps)
	assert.Len(t, decoded.PowerUps[0], 2)
}
