package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/racesync/internal/archive"
	"github.com/koopa0/system-design/racesync/internal/bootstrap"
	"github.com/koopa0/system-design/racesync/internal/bus"
	"github.com/koopa0/system-design/racesync/internal/config"
	"github.com/koopa0/system-design/racesync/internal/game"
	"github.com/koopa0/system-design/racesync/internal/guard"
	"github.com/koopa0/system-design/racesync/internal/handler"
	"github.com/koopa0/system-design/racesync/internal/scheduler"
	"github.com/koopa0/system-design/racesync/internal/state"
	"github.com/koopa0/system-design/racesync/pkg/logger"
)

// wheelSlots 時間輪槽數，搭配 100ms 刻度可涵蓋一分鐘
const wheelSlots = 600

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// 載入配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 設定日誌
	log, logCloser, err := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 匯流排與 KV
	b, kv, closeBus, err := openBus(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open bus", "transport", cfg.Bus.Transport, "error", err)
		os.Exit(1)
	}
	defer closeBus()

	// 訊息封存
	arch, pool, err := openArchive(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open archive", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	hasher, err := guard.NewHashFunc(cfg.Security.Hasher, cfg.Security.Secret)
	if err != nil {
		log.Error("failed to create hasher", "error", err)
		os.Exit(1)
	}

	// 排程器
	wheel := scheduler.NewTimingWheel(cfg.Game.SchedulerTick, wheelSlots, log)
	wheel.Start()
	defer wheel.Stop()

	store := state.NewStore()

	// 副本從主節點載入快照後才開始處理訊息
	if cfg.Node.Role == config.RoleReplica {
		fetcher := bootstrap.NewFetcher(nil, log)
		if err := fetcher.Restore(ctx, store, cfg.PrimaryStatusURL(), cfg.Node.Secret); err != nil {
			log.Error("failed to restore snapshot", "primary", cfg.PrimaryStatusURL(), "error", err)
			os.Exit(1)
		}
	}

	svc := game.NewService(store, b, kv, wheel, game.OptionsFromConfig(cfg), log)
	if err := svc.Start(ctx); err != nil {
		log.Error("failed to start game service", "error", err)
		os.Exit(1)
	}
	go svc.RunJanitor(ctx)

	h := handler.NewHandler(svc, guard.NewGate(store, hasher), arch, handler.OptionsFromConfig(cfg), log)
	if pg, ok := arch.(*archive.PostgresArchive); ok {
		h.AddReadiness("postgres", pg)
	}

	// 設定 HTTP 伺服器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// 啟動伺服器
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting server",
			"port", cfg.Server.Port,
			"role", cfg.Node.Role,
			"transport", cfg.Bus.Transport,
		)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		// 長輪詢最多等待 PollTimeout，關閉期限要涵蓋它
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Game.PollTimeout+5*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shutdown server", "error", err)
			// 強制關閉伺服器
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("failed to force close server", "error", closeErr)
			}
		}

		// 停止清理程序並等待進行中的結算
		cancel()
		svc.Wait()
	}

	log.Info("server stopped")
}

// openBus 依 transport 建立匯流排與 KV
//
// KV 只有 Redis 與記憶體兩種實作，nats 傳輸時 KV 仍使用 Redis。
func openBus(ctx context.Context, cfg *config.Config, log *slog.Logger) (bus.Bus, bus.KV, func(), error) {
	channels := bus.NewChannels(cfg.Bus.Namespace)

	if cfg.Bus.Transport == config.BusMemory {
		b := bus.NewMemoryBus()
		return b, bus.NewMemoryKV(), func() { _ = b.Close() }, nil
	}

	// 連接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	kv := bus.NewRedisKV(redisClient, channels)

	var b bus.Bus
	switch cfg.Bus.Transport {
	case config.BusNATS:
		nb, err := bus.NewNATSBus(cfg.Bus.NATSURL, log)
		if err != nil {
			_ = redisClient.Close()
			return nil, nil, nil, fmt.Errorf("connect to nats: %w", err)
		}
		b = nb
	default:
		b = bus.NewRedisBus(redisClient, log)
	}

	closeAll := func() {
		if err := b.Close(); err != nil {
			log.Warn("failed to close bus", "error", err)
		}
		if err := redisClient.Close(); err != nil {
			log.Warn("failed to close redis", "error", err)
		}
	}
	return b, kv, closeAll, nil
}

// openArchive 啟用 Postgres 時執行遷移並使用資料庫，否則寫入本地目錄
func openArchive(ctx context.Context, cfg *config.Config, log *slog.Logger) (archive.Archive, *pgxpool.Pool, error) {
	if !cfg.Postgres.Enabled {
		arch, err := archive.NewFileArchive(cfg.Game.MessageDir)
		if err != nil {
			return nil, nil, err
		}
		return arch, nil, nil
	}

	// 執行資料庫遷移
	migrator, err := archive.NewMigrator(cfg.PostgresDSN(), log)
	if err != nil {
		return nil, nil, fmt.Errorf("create migrator: %w", err)
	}
	defer closeQuietly(migrator, log)
	if err := migrator.Up(); err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	// 使用 pgxpool 而非單一連線
	pgConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pgConfig.MaxConns = cfg.Postgres.MaxConns
	pgConfig.MinConns = cfg.Postgres.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	return archive.NewPostgresArchive(pool, log), pool, nil
}

func closeQuietly(c io.Closer, log *slog.Logger) {
	if err := c.Close(); err != nil {
		log.Warn("close failed", "error", err)
	}
}
