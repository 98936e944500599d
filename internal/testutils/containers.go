// Package testutils 提供測試用的共用工具和輔助函數
//
// 本套件管理測試容器（testcontainers）：
//   - Redis：匯流排與 KV
//   - PostgreSQL：訊息封存
//   - NATS：替代匯流排
//
// 容器測試在 `go test -short` 下會被跳過，並在測試結束時自動清理。
package testutils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisEnv Redis 測試環境
type RedisEnv struct {
	Client    *redis.Client
	Addr      string
	container tc.Container
}

// PostgresEnv PostgreSQL 測試環境
type PostgresEnv struct {
	Pool      *pgxpool.Pool
	DSN       string
	container tc.Container
}

// NATSEnv NATS 測試環境
type NATSEnv struct {
	URL       string
	container tc.Container
}

// skipShort 容器測試需要 Docker，-short 時跳過
func skipShort(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
}

// SetupRedis 啟動 Redis 測試容器
//
// 使用範例：
//
//	func TestSomething(t *testing.T) {
//	    env := testutils.SetupRedis(t)
//	    // 使用 env.Client
//	}
func SetupRedis(t testing.TB) *RedisEnv {
	t.Helper()
	skipShort(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	env := &RedisEnv{container: container}
	t.Cleanup(func() {
		if env.Client != nil {
			_ = env.Client.Close()
		}
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	env.Addr = endpoint
	env.Client = redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.Client.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}

	return env
}

// FlushRedis 清空 Redis 資料（用於測試之間的清理）
func (env *RedisEnv) FlushRedis(t testing.TB) {
	t.Helper()

	if err := env.Client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}

// SetupPostgres 啟動 PostgreSQL 測試容器，不執行遷移
func SetupPostgres(t testing.TB) *PostgresEnv {
	t.Helper()
	skipShort(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	env := &PostgresEnv{container: container}
	t.Cleanup(func() {
		if env.Pool != nil {
			env.Pool.Close()
		}
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	env.DSN = dsn

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse postgres config: %v", err)
	}
	config.MaxConns = 5
	config.MinConns = 1

	env.Pool, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	if err := env.Pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}

	return env
}

// SetupNATS 以通用容器啟動 NATS
func SetupNATS(t testing.TB) *NATSEnv {
	t.Helper()
	skipShort(t)

	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start nats container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get nats host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222/tcp")
	if err != nil {
		t.Fatalf("failed to get nats port: %v", err)
	}

	return &NATSEnv{
		URL:       fmt.Sprintf("nats://%s:%s", host, port.Port()),
		container: container,
	}
}
