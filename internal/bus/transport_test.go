package bus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/racesync/internal/bus"
	"github.com/koopa0/system-design/racesync/internal/testutils"
	"github.com/koopa0/system-design/racesync/pkg/logger"
)

// exerciseTransport 兩個實例共用同一傳輸時的路由與順序
func exerciseTransport(t *testing.T, pub, sub bus.Bus) {
	t.Helper()

	ctx := context.Background()
	ch := bus.NewChannels("it")

	var events, news recorder
	require.NoError(t, sub.Subscribe(ctx, ch.Events(), events.handle))
	require.NoError(t, sub.PSubscribe(ctx, ch.NewPattern(), news.handle))

	// 訂閱建立需要一點時間傳播
	time.Sleep(100 * time.Millisecond)

	for _, p := range []string{"1", "2", "3"} {
		pub.Publish(ctx, ch.Events(), []byte(p))
	}
	pub.Publish(ctx, ch.NewGame(), []byte(`["1","u1"]`))
	pub.Publish(ctx, ch.Stats(), []byte(`{}`))

	assert.Eventually(t, func() bool { return len(events.all()) == 3 && len(news.all()) == 1 },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"it.events|1", "it.events|2", "it.events|3"}, events.all())
	assert.Equal(t, []string{`it.newgame|["1","u1"]`}, news.all())
}

func TestRedisBus(t *testing.T) {
	env := testutils.SetupRedis(t)

	pub := bus.NewRedisBus(env.Client, logger.Discard())
	sub := bus.NewRedisBus(env.Client, logger.Discard())
	t.Cleanup(func() {
		_ = pub.Close()
		_ = sub.Close()
	})

	exerciseTransport(t, pub, sub)
}

func TestRedisKV(t *testing.T) {
	env := testutils.SetupRedis(t)
	ctx := context.Background()
	kv := bus.NewRedisKV(env.Client, bus.NewChannels("it"))

	require.NoError(t, kv.Ping(ctx))

	seed, err := kv.RoomSeed(ctx, "42")
	require.NoError(t, err)
	assert.Zero(t, seed)

	for want := int64(1); want <= 3; want++ {
		n, err := kv.IncrRoomSeed(ctx, "42")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	seed, err = kv.RoomSeed(ctx, "42")
	require.NoError(t, err)
	assert.EqualValues(t, 3, seed)

	// 欄位名稱與舊版相容
	raw, err := env.Client.HGet(ctx, "it.roomvars", "room42").Result()
	require.NoError(t, err)
	assert.Equal(t, "3", raw)

	require.NoError(t, kv.AddMember(ctx, "u1"))
	require.NoError(t, kv.AddMember(ctx, "u2"))
	require.NoError(t, kv.RemoveMembers(ctx, "u1", "missing"))
	require.NoError(t, kv.RemoveMembers(ctx))
	members, err := kv.Members(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u2"}, members)

	crashes, err := kv.CrashStats(ctx, "u2")
	require.NoError(t, err)
	assert.Zero(t, crashes)
	require.NoError(t, env.Client.HSet(ctx, "it.userstats_car", "u2", 7).Err())
	crashes, err = kv.CrashStats(ctx, "u2")
	require.NoError(t, err)
	assert.EqualValues(t, 7, crashes)
}

func TestNATSBus(t *testing.T) {
	env := testutils.SetupNATS(t)

	pub, err := bus.NewNATSBus(env.URL, logger.Discard())
	require.NoError(t, err)
	sub, err := bus.NewNATSBus(env.URL, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pub.Close()
		_ = sub.Close()
	})

	exerciseTransport(t, pub, sub)
}
