package game_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/racesync/internal/state"
	apperrors "github.com/koopa0/system-design/racesync/pkg/errors"
)

func TestPollDeliversOtherPlayersEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedPlayer("u1", "Ann", "7")
	h.seedPlayer("u2", "Bob", "7")

	since := h.clock.Millis()
	h.svc.Submit(ctx, "u1", state.TypeCar, "7", state.TextMessage("vroom"), "Ann")
	h.svc.Submit(ctx, "u1", state.TypeProgress, "7", state.TextMessage("12"), "Ann")

	res, err := h.svc.Poll(ctx, player("u2", "Bob"), "7", since)
	require.NoError(t, err)

	require.Len(t, res.Events, 2)
	assert.Equal(t, "vroom", res.Events[0].Text())
	assert.Equal(t, "12", res.Events[1].Text())
	assert.Equal(t, 2, res.Users)
	assert.Equal(t, "7", res.Room)
	assert.Equal(t, int64(1), res.Stats["u1"].Count)
	assert.Equal(t, int64(12), res.Progress["u1"].Count)
}

func TestPollNeverDeliversOwnEvents(t *testing.T) {
	h := newHarness(t, withPollTimeout(50*time.Millisecond))
	ctx := context.Background()
	h.seedPlayer("u1", "Ann", "7")

	since := h.clock.Millis()
	h.svc.Submit(ctx, "u1", state.TypeCar, "7", state.TextMessage("vroom"), "Ann")

	_, err := h.svc.Poll(ctx, player("u1", "Ann"), "7", since)
	assert.ErrorIs(t, err, apperrors.ErrPollTimeout)
	assert.Equal(t, 204, apperrors.StatusOf(err))
}

func TestPollPrunesStaleEvents(t *testing.T) {
	h := newHarness(t, withPollTimeout(30*time.Millisecond))
	ctx := context.Background()
	h.seedPlayer("u1", "Ann", "7")
	h.seedPlayer("u2", "Bob", "7")

	h.svc.Submit(ctx, "u1", state.TypeCar, "7", state.TextMessage("old"), "Ann")
	h.clock.Advance(5 * time.Second)
	h.svc.Submit(ctx, "u1", state.TypeCar, "7", state.TextMessage("recent"), "Ann")
	h.clock.Advance(10 * time.Second)

	// since 之前 10 秒內的事件保留但不送出，更早的事件刪除
	_, err := h.svc.Poll(ctx, player("u2", "Bob"), "7", h.clock.Millis())
	require.ErrorIs(t, err, apperrors.ErrPollTimeout)

	events := h.events("7")
	require.Len(t, events, 1)
	assert.Equal(t, "recent", events[0].Text())
}

func TestPollStopsOnContextCancel(t *testing.T) {
	h := newHarness(t, withPollTimeout(time.Minute))
	h.seedPlayer("u1", "Ann", "7")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Poll(ctx, player("u1", "Ann"), "7", h.clock.Millis())
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("poll did not return after cancel")
	}
}

func TestPollRefreshesMembership(t *testing.T) {
	h := newHarness(t, withPollTimeout(10*time.Millisecond))
	h.seedPlayer("u1", "Ann", "7")

	h.clock.Advance(time.Minute)
	_, _ = h.svc.Poll(context.Background(), player("u1", "Ann"), "7", h.clock.Millis())

	h.store.Do(func(d *state.Data) {
		assert.Equal(t, h.clock.Millis(), d.Games["7"].Users["u1"].Time)
		assert.Equal(t, h.clock.Millis(), d.Users["u1"].Time)
	})
}

func TestPollKicksNewcomerFromFullRoom(t *testing.T) {
	tests := []struct {
		name     string
		members  int
		cars     int
		wantKick bool
	}{
		{"三人房間", 3, 0, false},
		{"四人房間", 4, 0, true},
		{"四筆 car 紀錄", 2, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, withPollTimeout(20*time.Millisecond))
			ctx := context.Background()
			names := []string{"A", "B", "C", "D"}
			for i := 0; i < tt.members; i++ {
				h.seedPlayer("m"+names[i], names[i], "7")
			}
			for i := 0; i < tt.cars; i++ {
				h.svc.Submit(ctx, "c"+names[i], state.TypeCar, "7", state.TextMessage("x"), "car"+names[i])
			}
			h.seedPlayer("late", "Late", "")

			res, err := h.svc.Poll(ctx, player("late", "Late"), "7", 0)

			if !tt.wantKick {
				assert.Zero(t, h.countType("7", state.TypeKick))
				h.store.Do(func(d *state.Data) {
					assert.Contains(t, d.Games["7"].Users, "late")
				})
				return
			}

			require.NoError(t, err)
			var kicked bool
			for _, ev := range res.Events {
				if ev.Type == state.TypeKick {
					kicked = true
					assert.Equal(t, state.RootUser, ev.From)
					assert.Equal(t, "Late", ev.FromName)
					assert.Equal(t, "Room is full", ev.Text())
				}
			}
			assert.True(t, kicked)
			h.store.Do(func(d *state.Data) {
				assert.NotContains(t, d.Games["7"].Users, "late")
			})
		})
	}
}

func TestPollExistingMemberIsNeverKicked(t *testing.T) {
	h := newHarness(t, withPollTimeout(10*time.Millisecond))
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		h.seedPlayer(id, "N"+id, "7")
	}

	_, _ = h.svc.Poll(context.Background(), player("a", "Na"), "7", h.clock.Millis())
	assert.Zero(t, h.countType("7", state.TypeKick))
}
