package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// KV 傳輸層附帶的鍵值儲存
//
// 保存跨節點共享、不屬於遊戲快照的資料：房間種子累加值、
// 在線玩家集合以及撞車統計。呼叫端在錯誤時應退回零值。
type KV interface {
	IncrRoomSeed(ctx context.Context, room string) (int64, error)
	RoomSeed(ctx context.Context, room string) (int64, error)
	AddMember(ctx context.Context, user string) error
	RemoveMembers(ctx context.Context, users ...string) error
	Members(ctx context.Context) ([]string, error)
	CrashStats(ctx context.Context, user string) (int64, error)
	Ping(ctx context.Context) error
}

// RedisKV 以 Redis 實作 KV
type RedisKV struct {
	client *redis.Client
	ch     Channels
}

// NewRedisKV 創建 Redis KV
func NewRedisKV(client *redis.Client, ch Channels) *RedisKV {
	return &RedisKV{client: client, ch: ch}
}

func roomField(room string) string {
	return "room" + room
}

// IncrRoomSeed 房間種子累加值加一並返回新值
func (k *RedisKV) IncrRoomSeed(ctx context.Context, room string) (int64, error) {
	n, err := k.client.HIncrBy(ctx, k.ch.RoomVarsKey(), roomField(room), 1).Result()
	if err != nil {
		return 0, fmt.Errorf("hincrby room seed: %w", err)
	}
	return n, nil
}

// RoomSeed 讀取房間種子累加值，不存在時為 0
func (k *RedisKV) RoomSeed(ctx context.Context, room string) (int64, error) {
	return k.hgetInt(ctx, k.ch.RoomVarsKey(), roomField(room))
}

// AddMember 加入在線集合
func (k *RedisKV) AddMember(ctx context.Context, user string) error {
	if err := k.client.SAdd(ctx, k.ch.UsersKey(), user).Err(); err != nil {
		return fmt.Errorf("sadd member: %w", err)
	}
	return nil
}

// RemoveMembers 從在線集合移除
func (k *RedisKV) RemoveMembers(ctx context.Context, users ...string) error {
	if len(users) == 0 {
		return nil
	}
	members := make([]any, len(users))
	for i, u := range users {
		members[i] = u
	}
	if err := k.client.SRem(ctx, k.ch.UsersKey(), members...).Err(); err != nil {
		return fmt.Errorf("srem members: %w", err)
	}
	return nil
}

// Members 在線集合的所有成員
func (k *RedisKV) Members(ctx context.Context) ([]string, error) {
	members, err := k.client.SMembers(ctx, k.ch.UsersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers: %w", err)
	}
	return members, nil
}

// CrashStats 玩家撞車次數，不存在時為 0
func (k *RedisKV) CrashStats(ctx context.Context, user string) (int64, error) {
	return k.hgetInt(ctx, k.ch.CarStatsKey(), user)
}

// Ping 檢查連線
func (k *RedisKV) Ping(ctx context.Context) error {
	return k.client.Ping(ctx).Err()
}

func (k *RedisKV) hgetInt(ctx context.Context, key, field string) (int64, error) {
	v, err := k.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("hget %s %s: %w", key, field, err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %s: %w", key, field, err)
	}
	return n, nil
}

// MemoryKV 行程內 KV，單節點與測試使用
type MemoryKV struct {
	mu      sync.Mutex
	seeds   map[string]int64
	members map[string]struct{}
	crashes map[string]int64
	err     error
}

// NewMemoryKV 創建行程內 KV
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		seeds:   make(map[string]int64),
		members: make(map[string]struct{}),
		crashes: make(map[string]int64),
	}
}

// SetError 之後所有操作都返回 err，nil 恢復正常（模擬斷線）
func (k *MemoryKV) SetError(err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.err = err
}

// SetCrashStats 設定撞車統計
func (k *MemoryKV) SetCrashStats(user string, n int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.crashes[user] = n
}

// IncrRoomSeed 房間種子累加值加一
func (k *MemoryKV) IncrRoomSeed(_ context.Context, room string) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return 0, k.err
	}
	k.seeds[room]++
	return k.seeds[room], nil
}

// RoomSeed 讀取房間種子累加值
func (k *MemoryKV) RoomSeed(_ context.Context, room string) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return 0, k.err
	}
	return k.seeds[room], nil
}

// AddMember 加入在線集合
func (k *MemoryKV) AddMember(_ context.Context, user string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return k.err
	}
	k.members[user] = struct{}{}
	return nil
}

// RemoveMembers 從在線集合移除
func (k *MemoryKV) RemoveMembers(_ context.Context, users ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return k.err
	}
	for _, u := range users {
		delete(k.members, u)
	}
	return nil
}

// Members 在線集合的所有成員
func (k *MemoryKV) Members(_ context.Context) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return nil, k.err
	}
	out := make([]string, 0, len(k.members))
	for u := range k.members {
		out = append(out, u)
	}
	return out, nil
}

// CrashStats 玩家撞車次數
func (k *MemoryKV) CrashStats(_ context.Context, user string) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return 0, k.err
	}
	return k.crashes[user], nil
}

// Ping 檢查是否處於錯誤狀態
func (k *MemoryKV) Ping(_ context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.err
}
