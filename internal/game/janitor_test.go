package game_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/racesync/internal/bus"
	"github.com/koopa0/system-design/racesync/internal/state"
)

func TestSweepRemovesStaleState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// 舊的玩家、房間與事件
	h.seedPlayer("old", "Old", "1")
	h.svc.Submit(ctx, "old", state.TypeCar, "1", state.TextMessage("x"), "Old")
	require.NoError(t, h.kv.AddMember(ctx, "old"))
	h.store.Do(func(d *state.Data) {
		d.Users["old"].Room = "1"
	})

	h.clock.Advance(4 * time.Minute)

	// 新的玩家與房間
	h.seedPlayer("new", "New", "2")
	h.svc.Submit(ctx, "new", state.TypeCar, "2", state.TextMessage("y"), "New")
	require.NoError(t, h.kv.AddMember(ctx, "new"))
	require.NoError(t, h.kv.AddMember(ctx, "ghost"))

	// 只經過閘門的不完整紀錄
	h.store.Do(func(d *state.Data) {
		d.User("partial").Hash = "abc"
	})

	rep := h.svc.Sweep(ctx)

	assert.Equal(t, 1, rep.PartialUsers)
	assert.Equal(t, 1, rep.StaleUsers)
	assert.Equal(t, 1, rep.KVMembers, "ghost")
	assert.Equal(t, 1, rep.Events)
	assert.Equal(t, 1, rep.Rooms)

	h.store.Do(func(d *state.Data) {
		assert.NotContains(t, d.Users, "old")
		assert.NotContains(t, d.Users, "partial")
		assert.Contains(t, d.Users, "new")
		assert.NotContains(t, d.Games, "1")
		assert.NotContains(t, d.Events, "1")
		assert.Contains(t, d.Games, "2")
		assert.Len(t, d.Events["2"], 1)
	})

	members, err := h.kv.Members(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"new"}, members)
}

func TestSweepIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedPlayer("a", "A", "1")
	h.seedPlayer("b", "B", "2")
	h.svc.Submit(ctx, "a", state.TypeCar, "1", state.TextMessage("x"), "A")
	h.clock.Advance(3*time.Minute + time.Second)
	h.seedPlayer("c", "C", "3")
	require.NoError(t, h.kv.AddMember(ctx, "zombie"))

	first := h.svc.Sweep(ctx)
	require.Positive(t, first.Total())

	before, err := h.store.Snapshot()
	require.NoError(t, err)

	second := h.svc.Sweep(ctx)
	assert.Zero(t, second.Total())

	after, err := h.store.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSweepStaleMembershipKeepsUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedPlayer("a", "A", "1")
	h.clock.Advance(4 * time.Minute)
	// 玩家仍活躍，但已離開房間 1
	h.svc.ApplyNewUser(bus.UserMessage{ID: "a", Name: "A", Timestamp: h.clock.Millis()})

	rep := h.svc.Sweep(ctx)

	assert.Equal(t, 1, rep.Memberships)
	assert.Equal(t, 1, rep.Rooms)
	h.store.Do(func(d *state.Data) {
		assert.Contains(t, d.Users, "a")
		assert.NotContains(t, d.Games, "1")
	})
}

func TestSweepExpiresLoners(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.store.Do(func(d *state.Data) {
		d.Loners["old"] = h.clock.Millis() - 600_001
		d.Loners["fresh"] = h.clock.Millis() - 1_000
	})

	rep := h.svc.Sweep(ctx)

	assert.Equal(t, 1, rep.Loners)
	h.store.Do(func(d *state.Data) {
		assert.NotContains(t, d.Loners, "old")
		assert.Contains(t, d.Loners, "fresh")
	})
}

func TestSweepToleratesKVFailure(t *testing.T) {
	h := newHarness(t)
	h.seedPlayer("a", "A", "1")
	h.clock.Advance(4 * time.Minute)
	h.kv.SetError(assert.AnError)

	rep := h.svc.Sweep(context.Background())

	assert.Equal(t, 1, rep.StaleUsers)
	assert.Zero(t, rep.KVMembers)
}

func TestSweepDropsLeaseOfDeletedRoom(t *testing.T) {
	h := newHarness(t)
	h.seedPlayer("a", "A", "1")
	lease := h.store.Lease("1")

	h.clock.Advance(4 * time.Minute)
	h.svc.Sweep(context.Background())

	assert.NotSame(t, lease, h.store.Lease("1"), "空房間的租約被刪除")
}
