// Package config 定義服務配置與載入方式
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 節點角色
const (
	RolePrimary = "primary"
	RoleReplica = "replica"
)

// 匯流排傳輸
const (
	BusRedis  = "redis"
	BusNATS   = "nats"
	BusMemory = "memory"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Node struct {
		Role string `yaml:"role"` // "primary" 或 "replica"
		// Primary 副本啟動時向主節點取得快照
		Primary struct {
			Scheme string `yaml:"scheme"`
			Host   string `yaml:"host"`
			Port   int    `yaml:"port"`
		} `yaml:"primary"`
		Secret string `yaml:"secret"` // /current-status 的密鑰
	} `yaml:"node"`

	Bus struct {
		Transport string `yaml:"transport"` // redis、nats、memory
		Namespace string `yaml:"namespace"`
		NATSURL   string `yaml:"nats_url"`
	} `yaml:"bus"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		MaxRetries   int           `yaml:"max_retries"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Game struct {
		Version         float64       `yaml:"version"`
		FinishSegments  int           `yaml:"finish_segments"`
		PollTimeout     time.Duration `yaml:"poll_timeout"`
		PollInterval    time.Duration `yaml:"poll_interval"`
		JanitorInterval time.Duration `yaml:"janitor_interval"`
		SchedulerTick   time.Duration `yaml:"scheduler_tick"`
		MessageDir      string        `yaml:"message_dir"`
	} `yaml:"game"`

	Security struct {
		Secret             string `yaml:"secret"`
		Hasher             string `yaml:"hasher"` // "md5"（預設）或 "plain"
		HeaderHash         string `yaml:"header_hash"`
		HeaderControlCount string `yaml:"header_control_count"`
	} `yaml:"security"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
}

// Default 返回預設配置
func Default() *Config {
	c := &Config{}

	c.Server.Port = 3000
	c.Server.ReadTimeout = 10 * time.Second
	// 長輪詢最長 50 秒，寫入逾時必須更長
	c.Server.WriteTimeout = 60 * time.Second

	c.Node.Role = RolePrimary
	c.Node.Primary.Scheme = "http"
	c.Node.Primary.Port = 3000

	c.Bus.Transport = BusRedis
	c.Bus.Namespace = "crashndash"
	c.Bus.NATSURL = "nats://localhost:4222"

	c.Redis.Addr = "localhost:6379"
	c.Redis.PoolSize = 20
	c.Redis.MinIdleConns = 5
	c.Redis.MaxRetries = 3
	c.Redis.ReadTimeout = 3 * time.Second
	c.Redis.WriteTimeout = 3 * time.Second

	c.Postgres.Host = "localhost"
	c.Postgres.Port = 5432
	c.Postgres.User = "racesync"
	c.Postgres.DBName = "racesync"
	c.Postgres.MaxConns = 10
	c.Postgres.MinConns = 2

	c.Game.Version = 1.6
	c.Game.FinishSegments = 107
	c.Game.PollTimeout = 50 * time.Second
	c.Game.PollInterval = 400 * time.Millisecond
	c.Game.JanitorInterval = 20 * time.Second
	c.Game.SchedulerTick = 100 * time.Millisecond
	c.Game.MessageDir = "messages"

	c.Security.Hasher = "md5"
	c.Security.HeaderHash = "X-Hash"
	c.Security.HeaderControlCount = "X-Control-Count"

	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Log.Output = "stdout"

	return c
}

// Load 從 YAML 檔載入配置，未設定的欄位保留預設值
//
// 檔案不存在時直接使用預設值。
func Load(path string) (*Config, error) {
	c := Default()

	// #nosec G304 - path 來自命令列參數
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnv 環境變數覆蓋（容器部署常用）
func (c *Config) applyEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Bus.NATSURL = v
	}
	if v := os.Getenv("NODE_ROLE"); v != "" {
		c.Node.Role = v
	}
	if v := os.Getenv("RACESYNC_SECRET"); v != "" {
		c.Security.Secret = v
	}
}

// Validate 檢查配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Node.Role {
	case RolePrimary:
	case RoleReplica:
		if c.Node.Primary.Host == "" {
			return errors.New("replica role requires node.primary.host")
		}
	default:
		return fmt.Errorf("unknown node role %q", c.Node.Role)
	}
	switch c.Bus.Transport {
	case BusRedis, BusNATS, BusMemory:
	default:
		return fmt.Errorf("unknown bus transport %q", c.Bus.Transport)
	}
	if c.Bus.Namespace == "" {
		return errors.New("bus.namespace is required")
	}
	if c.Game.PollInterval <= 0 || c.Game.PollTimeout < c.Game.PollInterval {
		return fmt.Errorf("invalid poll timing: interval %s timeout %s", c.Game.PollInterval, c.Game.PollTimeout)
	}
	if c.Game.FinishSegments <= 0 {
		return fmt.Errorf("invalid finish segments %d", c.Game.FinishSegments)
	}
	switch c.Security.Hasher {
	case "md5", "plain":
	default:
		return fmt.Errorf("unknown hasher %q", c.Security.Hasher)
	}
	return nil
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c *Config) PostgresDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
	)
}

// PrimaryStatusURL 副本啟動時抓取快照的位址
func (c *Config) PrimaryStatusURL() string {
	return fmt.Sprintf("%s://%s:%d/current-status", c.Node.Primary.Scheme, c.Node.Primary.Host, c.Node.Primary.Port)
}
